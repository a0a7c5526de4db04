package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/duecycle/duecycle/internal/clock"
	"github.com/duecycle/duecycle/internal/discount"
	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
	"github.com/duecycle/duecycle/internal/orgcontext"
	"github.com/duecycle/duecycle/internal/recurrence"
	"github.com/duecycle/duecycle/internal/settings"
	"github.com/duecycle/duecycle/pkg/db/pagination"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     memberdomain.Repository
	settings settings.Provider
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     memberdomain.Repository
	Settings settings.Provider
}

func NewService(p ServiceParam) memberdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("member.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		settings: p.Settings,
	}
}

func (s *Service) Create(ctx context.Context, req memberdomain.CreateMemberRequest) (memberdomain.Member, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.Member{}, memberdomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return memberdomain.Member{}, memberdomain.ErrInvalidName
	}

	now := s.clock.Now()
	member := memberdomain.Member{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Email:     strings.TrimSpace(req.Email),
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &member); err != nil {
		return memberdomain.Member{}, err
	}

	return member, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (memberdomain.Member, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.Member{}, memberdomain.ErrInvalidOrganization
	}

	memberID, err := s.parseID(id, memberdomain.ErrInvalidMember)
	if err != nil {
		return memberdomain.Member{}, err
	}

	member, err := s.repo.FindByID(ctx, s.db, orgID, memberID)
	if err != nil {
		return memberdomain.Member{}, err
	}
	if member == nil {
		return memberdomain.Member{}, memberdomain.ErrMemberNotFound
	}

	return *member, nil
}

func (s *Service) List(ctx context.Context, req memberdomain.ListMembersRequest) (memberdomain.ListMembersResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.ListMembersResponse{}, memberdomain.ErrInvalidOrganization
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = 10
	}

	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return memberdomain.ListMembersResponse{}, err
		}
		parsed, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return memberdomain.ListMembersResponse{}, err
		}
		afterID = parsed
	}

	members, err := s.repo.List(ctx, s.db, orgID, limit+1, afterID)
	if err != nil {
		return memberdomain.ListMembersResponse{}, err
	}

	resp := memberdomain.ListMembersResponse{Members: members}
	if len(members) > limit {
		resp.Members = members[:limit]
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: resp.Members[limit-1].ID.String()})
		if err != nil {
			return memberdomain.ListMembersResponse{}, err
		}
		resp.PageInfo = pagination.PageInfo{HasMore: true, NextPageToken: token}
	}

	return resp, nil
}

func (s *Service) AssignProduct(ctx context.Context, req memberdomain.AssignProductRequest) (memberdomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.Subscription{}, memberdomain.ErrInvalidOrganization
	}

	memberID, err := s.parseID(req.MemberID, memberdomain.ErrInvalidMember)
	if err != nil {
		return memberdomain.Subscription{}, err
	}
	productID, err := s.parseID(req.ProductID, memberdomain.ErrInvalidProduct)
	if err != nil {
		return memberdomain.Subscription{}, err
	}

	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		return memberdomain.Subscription{}, memberdomain.ErrInvalidProduct
	}
	if req.BasePrice <= 0 {
		return memberdomain.Subscription{}, memberdomain.ErrInvalidPrice
	}

	productType := memberdomain.ProductType(strings.ToUpper(strings.TrimSpace(req.ProductType)))
	switch productType {
	case memberdomain.ProductTypeRecurring, memberdomain.ProductTypeOneTime:
	default:
		return memberdomain.Subscription{}, memberdomain.ErrInvalidProductType
	}

	if err := validateDiscountColumns(req.DiscountType, req.DiscountValue, req.BasePrice); err != nil {
		return memberdomain.Subscription{}, err
	}

	now := s.clock.Now()
	subscription := memberdomain.Subscription{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		MemberID:          memberID,
		ProductID:         productID,
		ProductName:       productName,
		BasePrice:         req.BasePrice,
		Status:            memberdomain.SubscriptionStatusActive,
		ProductType:       productType,
		IntervalValue:     req.IntervalValue,
		IntervalUnit:      req.IntervalUnit,
		InvoiceDay:        req.InvoiceDay,
		ReceiptStatus:     memberdomain.ReceiptStatusScheduled,
		PaymentWindowDays: req.PaymentWindowDays,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Immediate {
		subscription.ReceiptStatus = memberdomain.ReceiptStatusImmediate
	}

	windowDays := s.settings.DefaultPaymentWindowDays(orgID)
	if req.PaymentWindowDays != nil && *req.PaymentWindowDays > 0 {
		windowDays = *req.PaymentWindowDays
	}

	switch productType {
	case memberdomain.ProductTypeRecurring:
		rule, ok := subscription.Rule()
		if !ok {
			return memberdomain.Subscription{}, memberdomain.ErrMissingRecurrence
		}
		next, err := recurrence.Next(rule, now, nil)
		if err != nil {
			return memberdomain.Subscription{}, err
		}
		subscription.InvoiceAt = next
		subscription.NextReceiptAt = &next
	default:
		invoiceAt := now
		if req.InvoiceAt != nil {
			invoiceAt = req.InvoiceAt.UTC()
		}
		subscription.InvoiceAt = invoiceAt
	}
	subscription.DeadlineAt = subscription.InvoiceAt.AddDate(0, 0, windowDays)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if member == nil {
			return memberdomain.ErrMemberNotFound
		}
		if err := s.repo.InsertSubscription(ctx, tx, &subscription); err != nil {
			return err
		}
		return s.recomputeNextDue(ctx, tx, orgID, memberID, now)
	})
	if err != nil {
		return memberdomain.Subscription{}, err
	}

	return subscription, nil
}

// UnassignProduct removes a one-time subscription outright and cancels a
// recurring one. Charge history stays untouched either way.
func (s *Service) UnassignProduct(ctx context.Context, memberID, subscriptionID string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.ErrInvalidOrganization
	}

	parsedMemberID, err := s.parseID(memberID, memberdomain.ErrInvalidMember)
	if err != nil {
		return err
	}
	parsedSubscriptionID, err := s.parseID(subscriptionID, memberdomain.ErrSubscriptionNotFound)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindSubscription(ctx, tx, orgID, parsedMemberID, parsedSubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return memberdomain.ErrSubscriptionNotFound
		}

		if subscription.ProductType == memberdomain.ProductTypeOneTime {
			if err := s.repo.DeleteSubscription(ctx, tx, orgID, subscription.ID); err != nil {
				return err
			}
		} else {
			subscription.Status = memberdomain.SubscriptionStatusCanceled
			subscription.UpdatedAt = now
			if err := s.repo.SaveSubscription(ctx, tx, subscription); err != nil {
				return err
			}
		}

		return s.recomputeNextDue(ctx, tx, orgID, parsedMemberID, now)
	})
}

func (s *Service) ListSubscriptions(ctx context.Context, memberID string) ([]memberdomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, memberdomain.ErrInvalidOrganization
	}

	parsedMemberID, err := s.parseID(memberID, memberdomain.ErrInvalidMember)
	if err != nil {
		return nil, err
	}

	return s.repo.ListSubscriptions(ctx, s.db, orgID, parsedMemberID)
}

func (s *Service) ApplySubscriptionDiscount(ctx context.Context, req memberdomain.SubscriptionDiscountRequest) (memberdomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.Subscription{}, memberdomain.ErrInvalidOrganization
	}

	parsedMemberID, err := s.parseID(req.MemberID, memberdomain.ErrInvalidMember)
	if err != nil {
		return memberdomain.Subscription{}, err
	}
	parsedSubscriptionID, err := s.parseID(req.SubscriptionID, memberdomain.ErrSubscriptionNotFound)
	if err != nil {
		return memberdomain.Subscription{}, err
	}

	subscription, err := s.repo.FindSubscription(ctx, s.db, orgID, parsedMemberID, parsedSubscriptionID)
	if err != nil {
		return memberdomain.Subscription{}, err
	}
	if subscription == nil {
		return memberdomain.Subscription{}, memberdomain.ErrSubscriptionNotFound
	}

	discountType := strings.ToUpper(strings.TrimSpace(req.DiscountType))
	discountValue := strings.TrimSpace(req.DiscountValue)
	if err := validateDiscountColumns(&discountType, &discountValue, subscription.BasePrice); err != nil {
		return memberdomain.Subscription{}, err
	}

	subscription.DiscountType = &discountType
	subscription.DiscountValue = &discountValue
	subscription.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveSubscription(ctx, s.db, subscription); err != nil {
		return memberdomain.Subscription{}, err
	}

	return *subscription, nil
}

func (s *Service) RemoveSubscriptionDiscount(ctx context.Context, memberID, subscriptionID string) (memberdomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return memberdomain.Subscription{}, memberdomain.ErrInvalidOrganization
	}

	parsedMemberID, err := s.parseID(memberID, memberdomain.ErrInvalidMember)
	if err != nil {
		return memberdomain.Subscription{}, err
	}
	parsedSubscriptionID, err := s.parseID(subscriptionID, memberdomain.ErrSubscriptionNotFound)
	if err != nil {
		return memberdomain.Subscription{}, err
	}

	subscription, err := s.repo.FindSubscription(ctx, s.db, orgID, parsedMemberID, parsedSubscriptionID)
	if err != nil {
		return memberdomain.Subscription{}, err
	}
	if subscription == nil {
		return memberdomain.Subscription{}, memberdomain.ErrSubscriptionNotFound
	}

	subscription.DiscountType = nil
	subscription.DiscountValue = nil
	subscription.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveSubscription(ctx, s.db, subscription); err != nil {
		return memberdomain.Subscription{}, err
	}

	return *subscription, nil
}

// RecomputeNextDue re-derives the member's earliest-due index from its live
// subscriptions. Safe to call any number of times.
func (s *Service) RecomputeNextDue(ctx context.Context, orgID, memberID snowflake.ID) (*time.Time, error) {
	now := s.clock.Now()
	var next *time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscriptions, err := s.repo.ListSubscriptions(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		next = memberdomain.EarliestDue(subscriptions)
		return s.repo.UpdateNextDue(ctx, tx, orgID, memberID, next, now)
	})
	return next, err
}

func (s *Service) recomputeNextDue(ctx context.Context, tx *gorm.DB, orgID, memberID snowflake.ID, now time.Time) error {
	subscriptions, err := s.repo.ListSubscriptions(ctx, tx, orgID, memberID)
	if err != nil {
		return err
	}
	next := memberdomain.EarliestDue(subscriptions)
	return s.repo.UpdateNextDue(ctx, tx, orgID, memberID, next, now)
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

func validateDiscountColumns(discountType, discountValue *string, basePrice int64) error {
	if discountType == nil && discountValue == nil {
		return nil
	}
	if discountType == nil || discountValue == nil {
		return memberdomain.ErrInvalidDiscountValue
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*discountValue))
	if err != nil {
		return memberdomain.ErrInvalidDiscountValue
	}
	d := discount.Discount{Type: discount.Type(strings.ToUpper(strings.TrimSpace(*discountType))), Value: value}
	if err := d.Validate(); err != nil {
		return err
	}
	// A fixed discount deeper than the price would fail on every billing
	// run, so reject it up front.
	_, err = discount.Apply(basePrice, &d)
	return err
}
