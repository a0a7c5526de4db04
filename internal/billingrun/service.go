// Package billingrun scans the due-set and turns due subscriptions into
// charges.
package billingrun

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/duecycle/duecycle/internal/balance"
	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
	"github.com/duecycle/duecycle/internal/clock"
	"github.com/duecycle/duecycle/internal/discount"
	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
	"github.com/duecycle/duecycle/internal/recurrence"
	"github.com/duecycle/duecycle/internal/settings"
)

const scanBatchSize = 200

// ItemResult reports the outcome for one generated (or failed) charge.
type ItemResult struct {
	MemberID       snowflake.ID `json:"member_id"`
	SubscriptionID snowflake.ID `json:"subscription_id"`
	ChargeID       snowflake.ID `json:"charge_id,omitempty"`
	Amount         int64        `json:"amount,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Summary is the batch result for one run.
type Summary struct {
	TotalProcessed int          `json:"total_processed"`
	SuccessCount   int          `json:"success_count"`
	ErrorCount     int          `json:"error_count"`
	Items          []ItemResult `json:"items"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Members    memberdomain.Repository
	Charges    chargedomain.Repository
	Balances   *balance.Service
	Settings   settings.Provider
	Collectors *Metrics `optional:"true"`
}

// Service drives one billing pass: find members whose cached next_due_at
// falls inside the window, lock each, re-check the true due condition per
// subscription, and emit one charge per due subscription.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	members  memberdomain.Repository
	charges  chargedomain.Repository
	balances *balance.Service
	settings settings.Provider
	metrics  *Metrics

	batchSize int
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billingrun.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		members:   p.Members,
		charges:   p.Charges,
		balances:  p.Balances,
		settings:  p.Settings,
		metrics:   p.Collectors,
		batchSize: scanBatchSize,
	}
}

// Run executes one billing pass as of now, picking up every subscription
// due within the lookahead window. The member index is a coarse pre-filter
// only; each subscription is re-checked against the window inside the
// member's transaction, which is what makes an immediate re-run generate
// nothing.
func (s *Service) Run(ctx context.Context, now time.Time, lookahead time.Duration) (Summary, error) {
	started := s.clock.Now()
	cutoff := now.Add(lookahead)
	summary := Summary{}

	// The id cursor keeps the scan monotone: a member whose failure left
	// next_due_at unchanged is not re-fetched by the next batch.
	var cursor snowflake.ID
	for {
		due, err := s.members.FindDue(ctx, s.db, cutoff, cursor, s.batchSize)
		if err != nil {
			return summary, err
		}
		if len(due) == 0 {
			break
		}
		cursor = due[len(due)-1].ID

		for _, member := range due {
			items, err := s.processMember(ctx, member.OrgID, member.ID, now, cutoff)
			if err != nil {
				summary.ErrorCount++
				summary.TotalProcessed++
				summary.Items = append(summary.Items, ItemResult{
					MemberID: member.ID,
					Error:    err.Error(),
				})
				s.log.Warn("billing run member failed",
					zap.Int64("member_id", int64(member.ID)),
					zap.Error(err))
				continue
			}
			for _, item := range items {
				summary.TotalProcessed++
				if item.Error != "" {
					summary.ErrorCount++
				} else {
					summary.SuccessCount++
				}
				summary.Items = append(summary.Items, item)
			}
		}

		if len(due) < s.batchSize {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveRun(summary, s.clock.Now().Sub(started))
	}

	s.log.Info("billing run finished",
		zap.Int("total", summary.TotalProcessed),
		zap.Int("success", summary.SuccessCount),
		zap.Int("errors", summary.ErrorCount))
	return summary, nil
}

// processMember generates charges for one member inside a single
// transaction with the member row locked.
func (s *Service) processMember(ctx context.Context, orgID, memberID snowflake.ID, now, cutoff time.Time) ([]ItemResult, error) {
	var items []ItemResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.members.FindByIDForUpdate(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if member == nil {
			return memberdomain.ErrMemberNotFound
		}

		subscriptions, err := s.members.ListSubscriptions(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}

		for i := range subscriptions {
			subscription := &subscriptions[i]
			due := subscription.ResolveDueAt()
			if due == nil || due.After(cutoff) {
				continue
			}

			item := ItemResult{MemberID: memberID, SubscriptionID: subscription.ID}
			// Savepoint per subscription so one failure rolls back only
			// its own writes.
			var charge *chargedomain.Charge
			err := tx.Transaction(func(inner *gorm.DB) error {
				var genErr error
				charge, genErr = s.generateCharge(ctx, inner, subscription, *due, now)
				return genErr
			})
			if err != nil {
				item.Error = err.Error()
				s.log.Warn("charge generation failed",
					zap.Int64("subscription_id", int64(subscription.ID)),
					zap.Error(err))
			} else {
				item.ChargeID = charge.ID
				item.Amount = charge.Amount
			}
			items = append(items, item)
		}

		// Re-derive the caches even when nothing generated: a stale
		// next_due_at entry gets cleared here instead of being rescanned
		// forever.
		fresh, err := s.members.ListSubscriptions(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		next := memberdomain.EarliestDue(fresh)
		if err := s.members.UpdateNextDue(ctx, tx, orgID, memberID, next, now); err != nil {
			return err
		}
		_, err = s.balances.RecomputeTx(ctx, tx, orgID, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// generateCharge writes exactly one charge for a due subscription, then
// advances a recurring subscription or removes a one-time one. The charge
// is dated at the occurrence, not the scan time, so a lookahead run that
// generates a day early still invoices on the schedule date.
func (s *Service) generateCharge(ctx context.Context, tx *gorm.DB, subscription *memberdomain.Subscription, dueAt, now time.Time) (*chargedomain.Charge, error) {
	d, err := subscription.Discount()
	if err != nil {
		return nil, err
	}
	amount, err := discount.Apply(subscription.BasePrice, d)
	if err != nil {
		return nil, err
	}

	windowDays := s.settings.DefaultPaymentWindowDays(subscription.OrgID)
	if subscription.PaymentWindowDays != nil && *subscription.PaymentWindowDays > 0 {
		windowDays = *subscription.PaymentWindowDays
	}

	charge := chargedomain.Charge{
		ID:             s.genID.Generate(),
		OrgID:          subscription.OrgID,
		MemberID:       subscription.MemberID,
		SubscriptionID: subscription.ID,
		ProductName:    subscription.ProductName,
		Amount:         amount,
		InvoiceAt:      dueAt,
		DeadlineAt:     dueAt.AddDate(0, 0, windowDays),
		Status:         chargedomain.ChargeStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if amount != subscription.BasePrice {
		base := subscription.BasePrice
		charge.OriginalAmount = &base
		charge.DiscountType = subscription.DiscountType
		charge.DiscountValue = subscription.DiscountValue
	}
	if err := s.charges.InsertCharge(ctx, tx, &charge); err != nil {
		return nil, err
	}

	switch subscription.ProductType {
	case memberdomain.ProductTypeOneTime:
		if err := s.members.DeleteSubscription(ctx, tx, subscription.OrgID, subscription.ID); err != nil {
			return nil, err
		}
	default:
		if err := s.advance(ctx, tx, subscription, dueAt, now); err != nil {
			return nil, err
		}
	}

	return &charge, nil
}

// advance moves a recurring subscription past the occurrence just billed.
func (s *Service) advance(ctx context.Context, tx *gorm.DB, subscription *memberdomain.Subscription, dueAt, now time.Time) error {
	rule, ok := subscription.Rule()
	if !ok {
		return memberdomain.ErrMissingRecurrence
	}

	// InvoiceAt stays put: it is the schedule anchor, and the anchor day is
	// what keeps month-end clamping from drifting after short months.
	// Marking generation at the occurrence rather than the scan time keeps
	// an early lookahead pass from skipping ahead an extra period.
	generatedAt := dueAt
	next, err := recurrence.Next(rule, subscription.InvoiceAt, &generatedAt)
	if err != nil {
		return err
	}

	windowDays := s.settings.DefaultPaymentWindowDays(subscription.OrgID)
	if subscription.PaymentWindowDays != nil && *subscription.PaymentWindowDays > 0 {
		windowDays = *subscription.PaymentWindowDays
	}

	subscription.DeadlineAt = next.AddDate(0, 0, windowDays)
	subscription.NextReceiptAt = &next
	subscription.ReceiptStatus = memberdomain.ReceiptStatusScheduled
	subscription.LastGeneratedAt = &generatedAt
	subscription.UpdatedAt = now
	return s.members.SaveSubscription(ctx, tx, subscription)
}
