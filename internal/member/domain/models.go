// Package domain contains persistence models for members and their subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/duecycle/duecycle/internal/discount"
	"github.com/duecycle/duecycle/internal/recurrence"
)

// Member is a billable person. OutstandingBalance, AvailableCredit and
// NextDueAt are denormalized caches derived from the live charge/payment
// records; they are rewritten by recomputation, never incremented in place.
type Member struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID      `gorm:"not null;index" json:"org_id"`
	Name               string            `gorm:"type:text;not null" json:"name"`
	Email              string            `gorm:"type:text" json:"email,omitempty"`
	OutstandingBalance int64             `gorm:"not null;default:0" json:"outstanding_balance"`
	AvailableCredit    int64             `gorm:"not null;default:0" json:"available_credit"`
	NextDueAt          *time.Time        `gorm:"index" json:"next_due_at,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusInactive SubscriptionStatus = "INACTIVE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// ProductType distinguishes recurring from one-time billing.
type ProductType string

const (
	ProductTypeRecurring ProductType = "RECURRING"
	ProductTypeOneTime   ProductType = "ONE_TIME"
)

// ReceiptStatus tracks where a subscription sits in the generation cycle.
type ReceiptStatus string

const (
	ReceiptStatusImmediate ReceiptStatus = "IMMEDIATE"
	ReceiptStatusScheduled ReceiptStatus = "SCHEDULED"
	ReceiptStatusGenerated ReceiptStatus = "GENERATED"
)

// Subscription assigns a billable product to a member.
//
// Invariant: for an ACTIVE subscription with ReceiptStatus SCHEDULED,
// NextReceiptAt equals the recurrence calculator's next occurrence for the
// rule and LastGeneratedAt. The due-set scanner depends on this.
type Subscription struct {
	ID                snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID       `gorm:"not null;index" json:"org_id"`
	MemberID          snowflake.ID       `gorm:"not null;index" json:"member_id"`
	ProductID         snowflake.ID       `gorm:"not null;index" json:"product_id"`
	ProductName       string             `gorm:"type:text;not null" json:"product_name"`
	BasePrice         int64              `gorm:"not null" json:"base_price"`
	Status            SubscriptionStatus `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	ProductType       ProductType        `gorm:"type:text;not null" json:"product_type"`
	IntervalValue     *int               `gorm:"" json:"interval_value,omitempty"`
	IntervalUnit      *string            `gorm:"type:text" json:"interval_unit,omitempty"`
	InvoiceDay        *int               `gorm:"" json:"invoice_day,omitempty"`
	InvoiceAt         time.Time          `gorm:"not null" json:"invoice_at"`
	DeadlineAt        time.Time          `gorm:"not null" json:"deadline_at"`
	NextReceiptAt     *time.Time         `gorm:"index" json:"next_receipt_at,omitempty"`
	ReceiptStatus     ReceiptStatus      `gorm:"type:text;not null;default:'SCHEDULED'" json:"receipt_status"`
	LastGeneratedAt   *time.Time         `gorm:"" json:"last_generated_at,omitempty"`
	PaymentWindowDays *int               `gorm:"" json:"payment_window_days,omitempty"`
	DiscountType      *string            `gorm:"type:text" json:"discount_type,omitempty"`
	DiscountValue     *string            `gorm:"type:text" json:"discount_value,omitempty"`
	Metadata          datatypes.JSONMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Rule builds the tagged recurrence variant from the stored columns.
// The second return is false when the subscription carries no rule.
func (s Subscription) Rule() (recurrence.Rule, bool) {
	if s.InvoiceDay != nil {
		return recurrence.InvoiceDayRule{Day: *s.InvoiceDay}, true
	}
	if s.IntervalValue != nil && s.IntervalUnit != nil {
		return recurrence.IntervalRule{
			Every: *s.IntervalValue,
			Unit:  recurrence.Unit(*s.IntervalUnit),
		}, true
	}
	return nil, false
}

// Discount parses the stored discount columns, nil when unset.
func (s Subscription) Discount() (*discount.Discount, error) {
	if s.DiscountType == nil || s.DiscountValue == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*s.DiscountValue)
	if err != nil {
		return nil, ErrInvalidDiscountValue
	}
	return &discount.Discount{Type: discount.Type(*s.DiscountType), Value: value}, nil
}

// ResolveDueAt returns the subscription's true due timestamp, nil when the
// subscription cannot come due (inactive, immediate, or already generated).
func (s Subscription) ResolveDueAt() *time.Time {
	if s.Status != SubscriptionStatusActive || s.ReceiptStatus != ReceiptStatusScheduled {
		return nil
	}
	switch s.ProductType {
	case ProductTypeRecurring:
		if s.NextReceiptAt != nil {
			return s.NextReceiptAt
		}
		rule, ok := s.Rule()
		if !ok {
			return nil
		}
		next, err := recurrence.Next(rule, s.InvoiceAt, s.LastGeneratedAt)
		if err != nil {
			return nil
		}
		return &next
	case ProductTypeOneTime:
		due := s.InvoiceAt
		return &due
	default:
		return nil
	}
}

// EarliestDue scans subscriptions and returns the minimum resolvable due
// date, nil when none qualify. Feeds the member-level next_due_at index.
func EarliestDue(subscriptions []Subscription) *time.Time {
	var earliest *time.Time
	for _, subscription := range subscriptions {
		due := subscription.ResolveDueAt()
		if due == nil {
			continue
		}
		if earliest == nil || due.Before(*earliest) {
			earliest = due
		}
	}
	return earliest
}
