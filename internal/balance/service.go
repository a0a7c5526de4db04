// Package balance recomputes member balance caches from the live ledger.
package balance

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/duecycle/duecycle/internal/clock"
)

// Totals is the recomputed pair of cached figures.
type Totals struct {
	Outstanding     int64 `json:"outstanding"`
	AvailableCredit int64 `json:"available_credit"`
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

// Service derives outstanding debt and available credit from the
// authoritative charge/payment records and republishes them onto the
// member row. Pure recomputation: calling it any number of times, in any
// interleaving with writes, converges on the same figures.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("balance.service"),
		clock: p.Clock,
	}
}

// Recompute rewrites both cached figures for one member.
func (s *Service) Recompute(ctx context.Context, orgID, memberID snowflake.ID) (Totals, error) {
	return s.RecomputeTx(ctx, s.db, orgID, memberID)
}

// RecomputeTx is Recompute inside an existing transaction.
func (s *Service) RecomputeTx(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID) (Totals, error) {
	totals, err := s.derive(ctx, db, orgID, memberID)
	if err != nil {
		return Totals{}, err
	}

	err = db.WithContext(ctx).Exec(
		`UPDATE members
		 SET outstanding_balance = ?, available_credit = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		totals.Outstanding,
		totals.AvailableCredit,
		s.clock.Now(),
		orgID,
		memberID,
	).Error
	if err != nil {
		return Totals{}, err
	}

	return totals, nil
}

func (s *Service) derive(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID) (Totals, error) {
	var totals Totals

	// Outstanding: what remains uncovered on each charge after its linked
	// payments, floored at zero per charge so overpayment on one charge
	// never hides debt on another.
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(remaining), 0)
		 FROM (
			SELECT c.amount - COALESCE((
				SELECT SUM(p.amount)
				FROM charge_links l
				JOIN payments p ON p.id = l.payment_id
				WHERE l.charge_id = c.id
			), 0) AS remaining
			FROM charges c
			WHERE c.org_id = ? AND c.member_id = ?
		 ) uncovered
		 WHERE remaining > 0`,
		orgID,
		memberID,
	).Scan(&totals.Outstanding).Error
	if err != nil {
		return Totals{}, err
	}

	// Available credit: payments not linked to any charge.
	err = db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(p.amount), 0)
		 FROM payments p
		 WHERE p.org_id = ? AND p.member_id = ?
		   AND NOT EXISTS (
			SELECT 1 FROM charge_links l WHERE l.payment_id = p.id
		 )`,
		orgID,
		memberID,
	).Scan(&totals.AvailableCredit).Error
	if err != nil {
		return Totals{}, err
	}

	return totals, nil
}
