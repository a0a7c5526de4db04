package balance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
	"github.com/duecycle/duecycle/internal/clock"
	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	svc    *Service
	orgID  snowflake.ID
	member memberdomain.Member
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&memberdomain.Member{},
		&chargedomain.Charge{},
		&chargedomain.Payment{},
		&chargedomain.ChargeLink{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{DB: db, Log: zaptest.NewLogger(t), Clock: fakeClock})

	orgID := node.Generate()
	member := memberdomain.Member{
		ID:        node.Generate(),
		OrgID:     orgID,
		Name:      "Ledger Member",
		CreatedAt: fakeClock.Now(),
		UpdatedAt: fakeClock.Now(),
	}
	require.NoError(t, db.Create(&member).Error)

	return &fixture{db: db, node: node, clock: fakeClock, svc: svc, orgID: orgID, member: member}
}

func (f *fixture) addCharge(t *testing.T, memberID snowflake.ID, amount int64) chargedomain.Charge {
	t.Helper()
	charge := chargedomain.Charge{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		MemberID:    memberID,
		ProductName: "Monthly Dues",
		Amount:      amount,
		InvoiceAt:   f.clock.Now(),
		DeadlineAt:  f.clock.Now().AddDate(0, 0, 14),
		Status:      chargedomain.ChargeStatusActive,
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&charge).Error)
	return charge
}

func (f *fixture) addPayment(t *testing.T, memberID snowflake.ID, amount int64) chargedomain.Payment {
	t.Helper()
	payment := chargedomain.Payment{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		MemberID:  memberID,
		Amount:    amount,
		Status:    chargedomain.PaymentStatusReceived,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&payment).Error)
	return payment
}

func (f *fixture) link(t *testing.T, chargeID, paymentID snowflake.ID) {
	t.Helper()
	require.NoError(t, f.db.Create(&chargedomain.ChargeLink{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		ChargeID:  chargeID,
		PaymentID: paymentID,
		CreatedAt: f.clock.Now(),
	}).Error)
}

func (f *fixture) memberRow(t *testing.T) memberdomain.Member {
	t.Helper()
	var m memberdomain.Member
	require.NoError(t, f.db.Where("id = ?", f.member.ID).First(&m).Error)
	return m
}

func TestRecomputeEmptyLedger(t *testing.T) {
	f := newFixture(t)

	totals, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)
}

func TestRecomputeOutstandingAndCredit(t *testing.T) {
	f := newFixture(t)

	charge := f.addCharge(t, f.member.ID, 10000)
	partial := f.addPayment(t, f.member.ID, 4000)
	f.link(t, charge.ID, partial.ID)
	f.addPayment(t, f.member.ID, 2500)

	totals, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), totals.Outstanding)
	assert.Equal(t, int64(2500), totals.AvailableCredit)

	m := f.memberRow(t)
	assert.Equal(t, int64(6000), m.OutstandingBalance)
	assert.Equal(t, int64(2500), m.AvailableCredit)
	assert.True(t, m.UpdatedAt.Equal(f.clock.Now()))
}

func TestRecomputeFloorsOverpaymentPerCharge(t *testing.T) {
	f := newFixture(t)

	// One charge overpaid, one untouched. The surplus on the first must
	// not offset the second.
	paid := f.addCharge(t, f.member.ID, 3000)
	over := f.addPayment(t, f.member.ID, 5000)
	f.link(t, paid.ID, over.ID)
	f.addCharge(t, f.member.ID, 7000)

	totals, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), totals.Outstanding)
	assert.Equal(t, int64(0), totals.AvailableCredit)
}

func TestRecomputeSumsLinksAcrossPayments(t *testing.T) {
	f := newFixture(t)

	charge := f.addCharge(t, f.member.ID, 9000)
	first := f.addPayment(t, f.member.ID, 4000)
	second := f.addPayment(t, f.member.ID, 5000)
	f.link(t, charge.ID, first.ID)
	f.link(t, charge.ID, second.ID)

	totals, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.Outstanding)
	assert.Equal(t, int64(0), totals.AvailableCredit)
}

func TestRecomputeScopedToMemberAndOrg(t *testing.T) {
	f := newFixture(t)

	other := memberdomain.Member{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		Name:      "Other Member",
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&other).Error)

	f.addCharge(t, other.ID, 8000)
	f.addPayment(t, other.ID, 1500)
	f.addCharge(t, f.member.ID, 2000)

	totals, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), totals.Outstanding)
	assert.Equal(t, int64(0), totals.AvailableCredit)
}

func TestRecomputeConverges(t *testing.T) {
	f := newFixture(t)

	charge := f.addCharge(t, f.member.ID, 5000)
	payment := f.addPayment(t, f.member.ID, 5000)
	f.link(t, charge.ID, payment.ID)

	first, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	second, err := f.svc.Recompute(context.Background(), f.orgID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
