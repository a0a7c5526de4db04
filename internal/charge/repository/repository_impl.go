package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/duecycle/duecycle/internal/charge/domain"
	"github.com/duecycle/duecycle/pkg/db"
)

type repo struct{}

// Provide returns the gorm-backed ledger repository.
func Provide() domain.Repository { return &repo{} }

// lockForUpdate adds a row lock where the dialect supports one. SQLite is
// single-writer, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) InsertCharge(ctx context.Context, tx *gorm.DB, c *domain.Charge) error {
	return tx.WithContext(ctx).Create(c).Error
}

func (r *repo) FindCharge(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Charge, error) {
	var c domain.Charge
	err := tx.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) FindChargeForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Charge, error) {
	var c domain.Charge
	err := lockForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) ListCharges(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, req domain.ListChargesRequest, afterID snowflake.ID, limit int) ([]domain.Charge, error) {
	q := tx.WithContext(ctx).Where("org_id = ?", orgID)
	if req.MemberID != "" {
		memberID, err := snowflake.ParseString(req.MemberID)
		if err != nil {
			return nil, domain.ErrInvalidMember
		}
		q = q.Where("member_id = ?", memberID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}

	var charges []domain.Charge
	if err := q.Order("id ASC").Limit(limit).Find(&charges).Error; err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *repo) SaveCharge(ctx context.Context, tx *gorm.DB, c *domain.Charge) error {
	return tx.WithContext(ctx).Save(c).Error
}

func (r *repo) DeleteCharge(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) error {
	return tx.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.Charge{}).Error
}

func (r *repo) ListLegacyStatusCharges(ctx context.Context, tx *gorm.DB, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := tx.WithContext(ctx).
		Where("status = '' OR status IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, p *domain.Payment) error {
	return tx.WithContext(ctx).Create(p).Error
}

func (r *repo) FindPayment(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var p domain.Payment
	err := tx.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) FindPayments(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]domain.Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var payments []domain.Payment
	err := tx.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) FindPaymentByGatewayRef(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ref string) (*domain.Payment, error) {
	var p domain.Payment
	err := tx.WithContext(ctx).
		Where("org_id = ? AND gateway_ref = ?", orgID, ref).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) InsertLink(ctx context.Context, tx *gorm.DB, link *domain.ChargeLink) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "charge_id"}, {Name: "payment_id"}},
			DoNothing: true,
		}).
		Create(link)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) LinkedPaymentIDs(ctx context.Context, tx *gorm.DB, chargeID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := tx.WithContext(ctx).
		Model(&domain.ChargeLink{}).
		Where("charge_id = ?", chargeID).
		Order("id ASC").
		Pluck("payment_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) LinkedAmount(ctx context.Context, tx *gorm.DB, chargeID snowflake.ID) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(p.amount), 0)
		FROM charge_links cl
		JOIN payments p ON p.id = cl.payment_id
		WHERE cl.charge_id = ?`, chargeID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) ChargeIDsWithLinks(ctx context.Context, tx *gorm.DB, chargeIDs []snowflake.ID) (map[snowflake.ID]bool, error) {
	linked := make(map[snowflake.ID]bool, len(chargeIDs))
	if len(chargeIDs) == 0 {
		return linked, nil
	}
	var ids []snowflake.ID
	err := tx.WithContext(ctx).
		Model(&domain.ChargeLink{}).
		Distinct().
		Where("charge_id IN ?", chargeIDs).
		Pluck("charge_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		linked[id] = true
	}
	return linked, nil
}

func (r *repo) DeleteLinksForCharge(ctx context.Context, tx *gorm.DB, chargeID snowflake.ID) error {
	return tx.WithContext(ctx).
		Where("charge_id = ?", chargeID).
		Delete(&domain.ChargeLink{}).Error
}

func (r *repo) UnlinkedPayments(ctx context.Context, tx *gorm.DB, paymentIDs []snowflake.ID) ([]domain.Payment, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	var payments []domain.Payment
	err := tx.WithContext(ctx).
		Where("id IN ?", paymentIDs).
		Where("NOT EXISTS (SELECT 1 FROM charge_links cl WHERE cl.payment_id = payments.id)").
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
