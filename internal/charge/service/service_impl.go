package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/duecycle/duecycle/internal/balance"
	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
	"github.com/duecycle/duecycle/internal/clock"
	"github.com/duecycle/duecycle/internal/discount"
	"github.com/duecycle/duecycle/internal/orgcontext"
	"github.com/duecycle/duecycle/internal/settings"
	"github.com/duecycle/duecycle/pkg/db/pagination"
)

const legacyReconcileBatchSize = 500

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     chargedomain.Repository
	balances *balance.Service
	settings settings.Provider
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     chargedomain.Repository
	Balances *balance.Service
	Settings settings.Provider
}

func NewService(p ServiceParam) chargedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("charge.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		balances: p.Balances,
		settings: p.Settings,
	}
}

func (s *Service) CreateCharge(ctx context.Context, req chargedomain.CreateChargeRequest) (*chargedomain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	memberID, err := s.parseID(req.MemberID, chargedomain.ErrInvalidMember)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, chargedomain.ErrInvalidAmount
	}
	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		return nil, chargedomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	invoiceAt := now
	if req.InvoiceAt != nil {
		invoiceAt = req.InvoiceAt.UTC()
	}
	deadlineAt := invoiceAt.AddDate(0, 0, s.settings.DefaultPaymentWindowDays(orgID))
	if req.DeadlineAt != nil {
		deadlineAt = req.DeadlineAt.UTC()
	}

	charge := chargedomain.Charge{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		MemberID:    memberID,
		ProductName: productName,
		Amount:      req.Amount,
		InvoiceAt:   invoiceAt,
		DeadlineAt:  deadlineAt,
		Status:      chargedomain.ChargeStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertCharge(ctx, tx, &charge); err != nil {
			return err
		}
		_, err := s.balances.RecomputeTx(ctx, tx, orgID, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &charge, nil
}

func (s *Service) GetCharge(ctx context.Context, id string) (*chargedomain.ChargeView, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	chargeID, err := s.parseID(id, chargedomain.ErrChargeNotFound)
	if err != nil {
		return nil, err
	}

	charge, err := s.repo.FindCharge(ctx, s.db, orgID, chargeID)
	if err != nil {
		return nil, err
	}
	linked, err := s.repo.LinkedPaymentIDs(ctx, s.db, charge.ID)
	if err != nil {
		return nil, err
	}
	return &chargedomain.ChargeView{
		Charge:  *charge,
		Overdue: charge.Overdue(s.clock.Now(), len(linked) > 0),
	}, nil
}

func (s *Service) ListCharges(ctx context.Context, req chargedomain.ListChargesRequest) ([]chargedomain.ChargeView, string, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, "", chargedomain.ErrInvalidOrganization
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}

	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, "", err
		}
		parsed, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, "", err
		}
		afterID = parsed
	}

	charges, err := s.repo.ListCharges(ctx, s.db, orgID, req, afterID, limit+1)
	if err != nil {
		return nil, "", err
	}

	var nextToken string
	if len(charges) > limit {
		charges = charges[:limit]
		nextToken, err = pagination.EncodeCursor(pagination.Cursor{ID: charges[limit-1].ID.String()})
		if err != nil {
			return nil, "", err
		}
	}

	ids := make([]snowflake.ID, len(charges))
	for i := range charges {
		ids[i] = charges[i].ID
	}
	linked, err := s.repo.ChargeIDsWithLinks(ctx, s.db, ids)
	if err != nil {
		return nil, "", err
	}

	now := s.clock.Now()
	views := make([]chargedomain.ChargeView, len(charges))
	for i := range charges {
		views[i] = chargedomain.ChargeView{
			Charge:  charges[i],
			Overdue: charges[i].Overdue(now, linked[charges[i].ID]),
		}
	}
	return views, nextToken, nil
}

// RecordPayment writes the credit row and, when a charge ID is supplied,
// links it in the same transaction.
func (s *Service) RecordPayment(ctx context.Context, req chargedomain.RecordPaymentRequest) (*chargedomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	memberID, err := s.parseID(req.MemberID, chargedomain.ErrInvalidMember)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, chargedomain.ErrInvalidAmount
	}

	var chargeID snowflake.ID
	if req.ChargeID != nil {
		chargeID, err = s.parseID(*req.ChargeID, chargedomain.ErrChargeNotFound)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	payment := chargedomain.Payment{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		MemberID:    memberID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		GatewayRef:  req.GatewayRef,
		Status:      chargedomain.PaymentStatusReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			return err
		}
		if chargeID > 0 {
			if err := s.linkTx(ctx, tx, orgID, chargeID, payment.ID, memberID); err != nil {
				return err
			}
		}
		_, err := s.balances.RecomputeTx(ctx, tx, orgID, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

// LinkPayment attaches an existing payment to a charge. The link row is
// written once; relinking the same pair is a no-op, not an error. Charge
// status rolls up from the cumulative linked amount.
func (s *Service) LinkPayment(ctx context.Context, chargeID, paymentID string) (*chargedomain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	parsedChargeID, err := s.parseID(chargeID, chargedomain.ErrChargeNotFound)
	if err != nil {
		return nil, err
	}
	parsedPaymentID, err := s.parseID(paymentID, chargedomain.ErrPaymentNotFound)
	if err != nil {
		return nil, err
	}

	var charge *chargedomain.Charge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindChargeForUpdate(ctx, tx, orgID, parsedChargeID)
		if err != nil {
			return err
		}

		payment, err := s.repo.FindPayment(ctx, tx, orgID, parsedPaymentID)
		if err != nil {
			return err
		}
		if payment.MemberID != locked.MemberID {
			return chargedomain.ErrMemberMismatch
		}

		if err := s.linkTx(ctx, tx, orgID, locked.ID, payment.ID, locked.MemberID); err != nil {
			return err
		}

		charge, err = s.repo.FindCharge(ctx, tx, orgID, parsedChargeID)
		if err != nil {
			return err
		}
		_, err = s.balances.RecomputeTx(ctx, tx, orgID, locked.MemberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return charge, nil
}

// linkTx inserts the sibling link and rolls the charge status forward.
// Must run with the charge row locked.
func (s *Service) linkTx(ctx context.Context, tx *gorm.DB, orgID, chargeID, paymentID, memberID snowflake.ID) error {
	link := chargedomain.ChargeLink{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		ChargeID:  chargeID,
		PaymentID: paymentID,
		CreatedAt: s.clock.Now(),
	}
	inserted, err := s.repo.InsertLink(ctx, tx, &link)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("link already present",
			zap.Int64("charge_id", int64(chargeID)),
			zap.Int64("payment_id", int64(paymentID)))
	}
	return s.rollupStatus(ctx, tx, orgID, chargeID)
}

// rollupStatus re-derives a charge's status from its linked amounts.
func (s *Service) rollupStatus(ctx context.Context, tx *gorm.DB, orgID, chargeID snowflake.ID) error {
	charge, err := s.repo.FindCharge(ctx, tx, orgID, chargeID)
	if err != nil {
		return err
	}
	linked, err := s.repo.LinkedAmount(ctx, tx, chargeID)
	if err != nil {
		return err
	}
	status := charge.StatusFor(linked)
	if status == charge.Status {
		return nil
	}
	charge.Status = status
	charge.UpdatedAt = s.clock.Now()
	return s.repo.SaveCharge(ctx, tx, charge)
}

func (s *Service) FindPaymentByGatewayRef(ctx context.Context, ref string) (*chargedomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return nil, chargedomain.ErrPaymentNotFound
	}

	return s.repo.FindPaymentByGatewayRef(ctx, s.db, orgID, trimmed)
}

// DeleteCharge removes the charge and its link rows. Payments that were
// attached to it survive; any payment left with zero links afterwards
// becomes available credit, and the result reports the converted total.
// A snapshot of the charge and its sibling IDs comes back for restore.
func (s *Service) DeleteCharge(ctx context.Context, id string) (*chargedomain.DeleteResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	chargeID, err := s.parseID(id, chargedomain.ErrChargeNotFound)
	if err != nil {
		return nil, err
	}

	var result chargedomain.DeleteResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err := s.repo.FindChargeForUpdate(ctx, tx, orgID, chargeID)
		if err != nil {
			return err
		}

		linkedIDs, err := s.repo.LinkedPaymentIDs(ctx, tx, chargeID)
		if err != nil {
			return err
		}

		if err := s.repo.DeleteLinksForCharge(ctx, tx, chargeID); err != nil {
			return err
		}
		if err := s.repo.DeleteCharge(ctx, tx, orgID, chargeID); err != nil {
			return err
		}

		// Payments previously held by this charge alone are now free
		// credit. Payments still linked elsewhere stay where they are.
		freed, err := s.repo.UnlinkedPayments(ctx, tx, linkedIDs)
		if err != nil {
			return err
		}
		var converted int64
		for _, p := range freed {
			converted += p.Amount
		}

		result = chargedomain.DeleteResult{
			ChargeID:        chargeID,
			ConvertedCredit: converted,
			Snapshot:        charge.Snapshot(linkedIDs),
		}

		_, err = s.balances.RecomputeTx(ctx, tx, orgID, charge.MemberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge deleted",
		zap.Int64("charge_id", int64(result.ChargeID)),
		zap.Int64("converted_credit", result.ConvertedCredit))
	return &result, nil
}

// RestoreCharge recreates a deleted charge from its snapshot with the same
// identity and relinks only the sibling payments that still exist and have
// not been attached to other charges since.
func (s *Service) RestoreCharge(ctx context.Context, snap chargedomain.ChargeSnapshot) (*chargedomain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}
	if snap.ID == 0 || snap.MemberID == 0 || snap.OrgID != orgID {
		return nil, chargedomain.ErrInvalidSnapshot
	}

	now := s.clock.Now()
	charge := chargedomain.Charge{
		ID:             snap.ID,
		OrgID:          orgID,
		MemberID:       snap.MemberID,
		SubscriptionID: snap.SubscriptionID,
		ProductName:    snap.ProductName,
		Amount:         snap.Amount,
		OriginalAmount: snap.OriginalAmount,
		DiscountType:   snap.DiscountType,
		DiscountValue:  snap.DiscountValue,
		InvoiceAt:      snap.InvoiceAt,
		DeadlineAt:     snap.DeadlineAt,
		Status:         chargedomain.ChargeStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing, err := s.repo.FindCharge(ctx, tx, orgID, snap.ID); err == nil && existing != nil {
			return chargedomain.ErrChargeExists
		} else if err != nil && !errors.Is(err, chargedomain.ErrChargeNotFound) {
			return err
		}

		if err := s.repo.InsertCharge(ctx, tx, &charge); err != nil {
			return err
		}

		// Relink every snapshot payment that still exists. Links are
		// many-to-many, so a payment claimed by another charge since the
		// delete still backs this one too; only deleted payments and
		// payments moved to another member are skipped.
		survivors, err := s.repo.FindPayments(ctx, tx, snap.LinkedPayments)
		if err != nil {
			return err
		}
		for _, p := range survivors {
			if p.MemberID != charge.MemberID {
				continue
			}
			if err := s.linkTx(ctx, tx, orgID, charge.ID, p.ID, charge.MemberID); err != nil {
				return err
			}
		}

		restored, err := s.repo.FindCharge(ctx, tx, orgID, charge.ID)
		if err != nil {
			return err
		}
		charge = *restored

		_, err = s.balances.RecomputeTx(ctx, tx, orgID, charge.MemberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &charge, nil
}

// ApplyChargeDiscount reprices a single charge. Only charges with no
// payment links may be repriced; the pre-discount amount is kept so the
// discount can be lifted later.
func (s *Service) ApplyChargeDiscount(ctx context.Context, id string, req chargedomain.ChargeDiscountRequest) (*chargedomain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	chargeID, err := s.parseID(id, chargedomain.ErrChargeNotFound)
	if err != nil {
		return nil, err
	}

	discountType := strings.ToUpper(strings.TrimSpace(req.Type))
	value, err := decimal.NewFromString(strings.TrimSpace(req.Value))
	if err != nil {
		return nil, discount.ErrInvalidType
	}
	d := discount.Discount{Type: discount.Type(discountType), Value: value}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var charge *chargedomain.Charge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err = s.repo.FindChargeForUpdate(ctx, tx, orgID, chargeID)
		if err != nil {
			return err
		}

		links, err := s.repo.LinkedPaymentIDs(ctx, tx, chargeID)
		if err != nil {
			return err
		}
		if len(links) > 0 {
			return chargedomain.ErrChargeHasPayments
		}

		base := charge.Amount
		if charge.OriginalAmount != nil {
			base = *charge.OriginalAmount
		}
		discounted, err := discount.Apply(base, &d)
		if err != nil {
			return err
		}

		valueStr := d.Value.String()
		charge.OriginalAmount = &base
		charge.Amount = discounted
		charge.DiscountType = &discountType
		charge.DiscountValue = &valueStr
		charge.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveCharge(ctx, tx, charge); err != nil {
			return err
		}

		_, err = s.balances.RecomputeTx(ctx, tx, orgID, charge.MemberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return charge, nil
}

// RemoveChargeDiscount restores the pre-discount amount.
func (s *Service) RemoveChargeDiscount(ctx context.Context, id string) (*chargedomain.Charge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, chargedomain.ErrInvalidOrganization
	}

	chargeID, err := s.parseID(id, chargedomain.ErrChargeNotFound)
	if err != nil {
		return nil, err
	}

	var charge *chargedomain.Charge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err = s.repo.FindChargeForUpdate(ctx, tx, orgID, chargeID)
		if err != nil {
			return err
		}

		links, err := s.repo.LinkedPaymentIDs(ctx, tx, chargeID)
		if err != nil {
			return err
		}
		if len(links) > 0 {
			return chargedomain.ErrChargeHasPayments
		}

		if charge.OriginalAmount != nil {
			charge.Amount = *charge.OriginalAmount
		}
		charge.OriginalAmount = nil
		charge.DiscountType = nil
		charge.DiscountValue = nil
		charge.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveCharge(ctx, tx, charge); err != nil {
			return err
		}

		_, err = s.balances.RecomputeTx(ctx, tx, orgID, charge.MemberID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return charge, nil
}

// ReconcileLegacyStatuses backfills empty charge statuses from link state.
// Runs in batches until no legacy rows remain and reports how many rows
// were resolved.
func (s *Service) ReconcileLegacyStatuses(ctx context.Context) (int64, error) {
	var resolved int64
	for {
		var batch int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			charges, err := s.repo.ListLegacyStatusCharges(ctx, tx, legacyReconcileBatchSize)
			if err != nil {
				return err
			}
			for i := range charges {
				c := &charges[i]
				linked, err := s.repo.LinkedAmount(ctx, tx, c.ID)
				if err != nil {
					return err
				}
				c.Status = c.StatusFor(linked)
				c.UpdatedAt = s.clock.Now()
				if err := s.repo.SaveCharge(ctx, tx, c); err != nil {
					return err
				}
				batch++
			}
			return nil
		})
		if err != nil {
			return resolved, err
		}
		resolved += batch
		if batch < legacyReconcileBatchSize {
			break
		}
	}

	if resolved > 0 {
		s.log.Info("legacy charge statuses reconciled", zap.Int64("count", resolved))
	}
	return resolved, nil
}

func (s *Service) parseID(raw string, invalid error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, invalid
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, invalid
	}
	return parsed, nil
}
