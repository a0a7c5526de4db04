package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/duecycle/duecycle/pkg/db/pagination"
)

type CreateMemberRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ListMembersRequest struct {
	PageToken string `form:"page_token"`
	PageSize  int32  `form:"page_size"`
}

type ListMembersResponse struct {
	pagination.PageInfo
	Members []Member `json:"members"`
}

// AssignProductRequest creates a subscription for a member.
type AssignProductRequest struct {
	MemberID          string     `json:"member_id"`
	ProductID         string     `json:"product_id"`
	ProductName       string     `json:"product_name"`
	BasePrice         int64      `json:"base_price"`
	ProductType       string     `json:"product_type"`
	IntervalValue     *int       `json:"interval_value,omitempty"`
	IntervalUnit      *string    `json:"interval_unit,omitempty"`
	InvoiceDay        *int       `json:"invoice_day,omitempty"`
	InvoiceAt         *time.Time `json:"invoice_at,omitempty"`
	PaymentWindowDays *int       `json:"payment_window_days,omitempty"`
	DiscountType      *string    `json:"discount_type,omitempty"`
	DiscountValue     *string    `json:"discount_value,omitempty"`
	Immediate         bool       `json:"immediate,omitempty"`
}

type SubscriptionDiscountRequest struct {
	MemberID       string `json:"member_id"`
	SubscriptionID string `json:"subscription_id"`
	DiscountType   string `json:"discount_type"`
	DiscountValue  string `json:"discount_value"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Create(ctx context.Context, req CreateMemberRequest) (Member, error)
	GetByID(ctx context.Context, id string) (Member, error)
	List(ctx context.Context, req ListMembersRequest) (ListMembersResponse, error)
	AssignProduct(ctx context.Context, req AssignProductRequest) (Subscription, error)
	UnassignProduct(ctx context.Context, memberID, subscriptionID string) error
	ListSubscriptions(ctx context.Context, memberID string) ([]Subscription, error)
	ApplySubscriptionDiscount(ctx context.Context, req SubscriptionDiscountRequest) (Subscription, error)
	RemoveSubscriptionDiscount(ctx context.Context, memberID, subscriptionID string) (Subscription, error)
	RecomputeNextDue(ctx context.Context, orgID, memberID snowflake.ID) (*time.Time, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidMember        = errors.New("invalid_member")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidProductType   = errors.New("invalid_product_type")
	ErrMissingRecurrence    = errors.New("missing_recurrence_rule")
	ErrInvalidDiscountValue = errors.New("invalid_discount_value")
	ErrMemberNotFound       = errors.New("member_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
