package billingrun

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/duecycle/duecycle/internal/balance"
	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
	chargerepository "github.com/duecycle/duecycle/internal/charge/repository"
	"github.com/duecycle/duecycle/internal/clock"
	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
	memberrepository "github.com/duecycle/duecycle/internal/member/repository"
	"github.com/duecycle/duecycle/internal/settings"
)

type runEnv struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	svc    *Service
	orgID  snowflake.ID
	member memberdomain.Member
}

func newRunEnv(t *testing.T, start time.Time) *runEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&memberdomain.Member{},
		&memberdomain.Subscription{},
		&chargedomain.Charge{},
		&chargedomain.Payment{},
		&chargedomain.ChargeLink{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(start)
	log := zaptest.NewLogger(t)
	balances := balance.NewService(balance.Params{DB: db, Log: log, Clock: fakeClock})

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fakeClock,
		Members:    memberrepository.Provide(),
		Charges:    chargerepository.Provide(),
		Balances:   balances,
		Settings:   settings.NewStaticHolder(settings.BillingSettings{PaymentWindowDays: 14}),
		Collectors: NewMetrics(prometheus.NewRegistry()),
	})

	orgID := node.Generate()
	member := memberdomain.Member{
		ID:        node.Generate(),
		OrgID:     orgID,
		Name:      "Run Member",
		CreatedAt: start,
		UpdatedAt: start,
	}
	require.NoError(t, db.Create(&member).Error)

	return &runEnv{db: db, node: node, clock: fakeClock, svc: svc, orgID: orgID, member: member}
}

func (e *runEnv) addSubscription(t *testing.T, mutate func(*memberdomain.Subscription)) memberdomain.Subscription {
	t.Helper()
	now := e.clock.Now()
	sub := memberdomain.Subscription{
		ID:            e.node.Generate(),
		OrgID:         e.orgID,
		MemberID:      e.member.ID,
		ProductID:     e.node.Generate(),
		ProductName:   "Gym Membership",
		BasePrice:     5000,
		Status:        memberdomain.SubscriptionStatusActive,
		ProductType:   memberdomain.ProductTypeRecurring,
		ReceiptStatus: memberdomain.ReceiptStatusScheduled,
		InvoiceAt:     now,
		DeadlineAt:    now.AddDate(0, 0, 14),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if mutate != nil {
		mutate(&sub)
	}
	require.NoError(t, e.db.Create(&sub).Error)

	// Seed the coarse index the way an assignment would.
	due := sub.ResolveDueAt()
	require.NoError(t, e.db.Exec(
		`UPDATE members SET next_due_at = ? WHERE id = ?`, due, e.member.ID).Error)
	return sub
}

func (e *runEnv) memberRow(t *testing.T) memberdomain.Member {
	t.Helper()
	var m memberdomain.Member
	require.NoError(t, e.db.Where("id = ?", e.member.ID).First(&m).Error)
	return m
}

func (e *runEnv) charges(t *testing.T) []chargedomain.Charge {
	t.Helper()
	var charges []chargedomain.Charge
	require.NoError(t, e.db.Order("id ASC").Find(&charges).Error)
	return charges
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestRunGeneratesChargeAndAdvances(t *testing.T) {
	start := time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	sub := env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		due := start
		s.NextReceiptAt = &due
	})

	summary, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalProcessed)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 0, summary.ErrorCount)

	charges := env.charges(t)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(5000), charges[0].Amount)
	assert.Equal(t, sub.ID, charges[0].SubscriptionID)
	assert.Equal(t, start, charges[0].InvoiceAt.UTC())
	assert.Equal(t, start.AddDate(0, 0, 14), charges[0].DeadlineAt.UTC())

	var advanced memberdomain.Subscription
	require.NoError(t, env.db.Where("id = ?", sub.ID).First(&advanced).Error)
	require.NotNil(t, advanced.NextReceiptAt)
	// Jan 31 anchored monthly clamps to Feb 29 in a leap year.
	assert.Equal(t, time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC), advanced.NextReceiptAt.UTC())
	require.NotNil(t, advanced.LastGeneratedAt)
	assert.Equal(t, start, advanced.LastGeneratedAt.UTC())

	m := env.memberRow(t)
	assert.Equal(t, int64(5000), m.OutstandingBalance)
	require.NotNil(t, m.NextDueAt)
	assert.Equal(t, advanced.NextReceiptAt.UTC(), m.NextDueAt.UTC())
}

func TestRunIsIdempotent(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		due := start
		s.NextReceiptAt = &due
	})

	first, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SuccessCount)

	second, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalProcessed)
	assert.Len(t, env.charges(t), 1)
}

func TestRunAppliesSubscriptionDiscountExactly(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		s.DiscountType = strPtr("PERCENTAGE")
		s.DiscountValue = strPtr("20")
		due := start
		s.NextReceiptAt = &due
	})

	_, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)

	charges := env.charges(t)
	require.Len(t, charges, 1)
	// 20% off 50.00 is exactly 40.00, no drift.
	assert.Equal(t, int64(4000), charges[0].Amount)
	require.NotNil(t, charges[0].OriginalAmount)
	assert.Equal(t, int64(5000), *charges[0].OriginalAmount)
}

func TestRunDeletesOneTimeSubscription(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	sub := env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.ProductType = memberdomain.ProductTypeOneTime
		s.InvoiceAt = start
	})

	summary, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SuccessCount)

	var count int64
	require.NoError(t, env.db.Model(&memberdomain.Subscription{}).
		Where("id = ?", sub.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// History survives the subscription.
	charges := env.charges(t)
	require.Len(t, charges, 1)
	assert.Equal(t, sub.ID, charges[0].SubscriptionID)

	m := env.memberRow(t)
	assert.Nil(t, m.NextDueAt)
}

func TestRunSkipsInactiveAndFuture(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.Status = memberdomain.SubscriptionStatusCanceled
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		due := start
		s.NextReceiptAt = &due
	})
	// Force a stale index entry pointing at now.
	require.NoError(t, env.db.Exec(
		`UPDATE members SET next_due_at = ? WHERE id = ?`, start, env.member.ID).Error)

	summary, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalProcessed)
	assert.Empty(t, env.charges(t))

	// The stale entry is cleared so the member is not rescanned forever.
	m := env.memberRow(t)
	assert.Nil(t, m.NextDueAt)
}

func TestRunIsolatesBadSubscription(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		s.DiscountType = strPtr("PERCENTAGE")
		s.DiscountValue = strPtr("not-a-number")
		due := start
		s.NextReceiptAt = &due
	})
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.ProductName = "Locker Rental"
		s.BasePrice = 1500
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		due := start
		s.NextReceiptAt = &due
	})

	summary, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalProcessed)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)

	charges := env.charges(t)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(1500), charges[0].Amount)
}

func TestRunLookaheadGeneratesEarly(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	due := start.Add(12 * time.Hour)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		s.NextReceiptAt = &due
	})

	summary, err := env.svc.Run(context.Background(), start, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalProcessed)
	assert.Equal(t, 1, summary.SuccessCount)

	// The charge is dated at the occurrence, not the scan time.
	charges := env.charges(t)
	require.Len(t, charges, 1)
	assert.Equal(t, due, charges[0].InvoiceAt.UTC())
	assert.Equal(t, due.AddDate(0, 0, 14), charges[0].DeadlineAt.UTC())

	var advanced memberdomain.Subscription
	require.NoError(t, env.db.Where("member_id = ?", env.member.ID).First(&advanced).Error)
	require.NotNil(t, advanced.NextReceiptAt)
	assert.Equal(t, time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC), advanced.NextReceiptAt.UTC())
	require.NotNil(t, advanced.LastGeneratedAt)
	assert.Equal(t, due, advanced.LastGeneratedAt.UTC())

	// The early pass consumed the occurrence, so a re-run stays quiet.
	second, err := env.svc.Run(context.Background(), start, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalProcessed)
	assert.Len(t, env.charges(t), 1)
}

func TestRunLookaheadSkipsBeyondWindow(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	due := start.Add(48 * time.Hour)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		s.NextReceiptAt = &due
	})

	summary, err := env.svc.Run(context.Background(), start, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalProcessed)
	assert.Empty(t, env.charges(t))
}

// A failing member in one batch must not be re-fetched by the next batch:
// its next_due_at is unchanged, so only the id cursor keeps the scan moving.
func TestRunBatchesDoNotRepeatFailedMembers(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.svc.batchSize = 1

	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		s.DiscountType = strPtr("PERCENTAGE")
		s.DiscountValue = strPtr("not-a-number")
		due := start
		s.NextReceiptAt = &due
	})

	other := memberdomain.Member{
		ID:        env.node.Generate(),
		OrgID:     env.orgID,
		Name:      "Second Member",
		NextDueAt: &start,
		CreatedAt: start,
		UpdatedAt: start,
	}
	require.NoError(t, env.db.Create(&other).Error)
	due := start
	sub := memberdomain.Subscription{
		ID:            env.node.Generate(),
		OrgID:         env.orgID,
		MemberID:      other.ID,
		ProductID:     env.node.Generate(),
		ProductName:   "Pool Access",
		BasePrice:     2000,
		Status:        memberdomain.SubscriptionStatusActive,
		ProductType:   memberdomain.ProductTypeRecurring,
		IntervalValue: intPtr(1),
		IntervalUnit:  strPtr("months"),
		ReceiptStatus: memberdomain.ReceiptStatusScheduled,
		InvoiceAt:     start,
		DeadlineAt:    start.AddDate(0, 0, 14),
		NextReceiptAt: &due,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
	require.NoError(t, env.db.Create(&sub).Error)

	summary, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalProcessed)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)

	var failed []ItemResult
	for _, item := range summary.Items {
		if item.Error != "" {
			failed = append(failed, item)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, env.member.ID, failed[0].MemberID)

	charges := env.charges(t)
	require.Len(t, charges, 1)
	assert.Equal(t, sub.ID, charges[0].SubscriptionID)
}

// Thirteen monthly passes anchored on Jan 31 hit the clamped month ends
// without drifting off the anchor day.
func TestRunYearOfMonthEndClamping(t *testing.T) {
	start := time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.IntervalValue = intPtr(1)
		s.IntervalUnit = strPtr("months")
		due := start
		s.NextReceiptAt = &due
	})

	wantDays := []int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31, 31}
	ctx := context.Background()
	for i := 0; i < 13; i++ {
		var sub memberdomain.Subscription
		require.NoError(t, env.db.Where("member_id = ?", env.member.ID).First(&sub).Error)
		require.NotNil(t, sub.NextReceiptAt)
		due := sub.NextReceiptAt.UTC()
		assert.Equal(t, wantDays[i], due.Day(), "occurrence %d", i)

		env.clock.Set(due)
		summary, err := env.svc.Run(ctx, due, 0)
		require.NoError(t, err)
		require.Equal(t, 1, summary.SuccessCount, "occurrence %d", i)
	}

	assert.Len(t, env.charges(t), 13)
}

// A monthly day-1 subscription due on 2024-01-01 produces a charge of 100.00
// with a 30-day window and moves its next occurrence to 2024-02-01.
func TestRunInvoiceDayFirstOfMonth(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newRunEnv(t, start)
	env.addSubscription(t, func(s *memberdomain.Subscription) {
		s.InvoiceDay = intPtr(1)
		s.BasePrice = 10000
		s.PaymentWindowDays = intPtr(30)
		due := start
		s.NextReceiptAt = &due
	})

	summary, err := env.svc.Run(context.Background(), start, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SuccessCount)

	charges := env.charges(t)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(10000), charges[0].Amount)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), charges[0].DeadlineAt.UTC())

	var sub memberdomain.Subscription
	require.NoError(t, env.db.Where("member_id = ?", env.member.ID).First(&sub).Error)
	require.NotNil(t, sub.NextReceiptAt)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), sub.NextReceiptAt.UTC())
}
