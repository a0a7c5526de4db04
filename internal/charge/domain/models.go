// Package domain contains persistence models for the debit/credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ChargeStatus represents payment coverage for a charge. The empty string
// occurs on legacy rows and is resolved once by the reconciliation step.
type ChargeStatus string

const (
	ChargeStatusActive    ChargeStatus = "ACTIVE"
	ChargeStatusPaid      ChargeStatus = "PAID"
	ChargeStatusCompleted ChargeStatus = "COMPLETED"
)

// Charge is a debit record: an amount a member owes for one billing
// occurrence. Amount always reflects the price after any discount;
// OriginalAmount holds the pre-discount figure while a charge-level
// discount is in force. Deleting a charge removes the row outright.
type Charge struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"org_id"`
	MemberID       snowflake.ID      `gorm:"not null;index" json:"member_id"`
	SubscriptionID snowflake.ID      `gorm:"index" json:"subscription_id,omitempty"`
	ProductName    string            `gorm:"type:text;not null" json:"product_name"`
	Amount         int64             `gorm:"not null" json:"amount"`
	OriginalAmount *int64            `gorm:"" json:"original_amount,omitempty"`
	DiscountType   *string           `gorm:"type:text" json:"discount_type,omitempty"`
	DiscountValue  *string           `gorm:"type:text" json:"discount_value,omitempty"`
	InvoiceAt      time.Time         `gorm:"not null" json:"invoice_at"`
	DeadlineAt     time.Time         `gorm:"not null" json:"deadline_at"`
	Status         ChargeStatus      `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

// Overdue reports the display-only derived state: unpaid, past deadline,
// with no payment linked.
func (c Charge) Overdue(now time.Time, hasLinks bool) bool {
	return c.Status == ChargeStatusActive && !hasLinks && c.DeadlineAt.Before(now)
}

// StatusFor derives the coverage status from the cumulative linked amount.
func (c Charge) StatusFor(linkedAmount int64) ChargeStatus {
	switch {
	case linkedAmount >= c.Amount:
		return ChargeStatusCompleted
	case linkedAmount > 0:
		return ChargeStatusPaid
	default:
		return ChargeStatusActive
	}
}

// PaymentStatus tracks the lifecycle of a credit record.
type PaymentStatus string

const (
	PaymentStatusReceived PaymentStatus = "RECEIVED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Payment is a credit record. A payment with no link rows is unattached,
// available credit.
type Payment struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"org_id"`
	MemberID    snowflake.ID      `gorm:"not null;index" json:"member_id"`
	Amount      int64             `gorm:"not null" json:"amount"`
	Description string            `gorm:"type:text" json:"description,omitempty"`
	GatewayRef  *string           `gorm:"type:text;index" json:"gateway_ref,omitempty"`
	Status      PaymentStatus     `gorm:"type:text;not null;default:'RECEIVED'" json:"status"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// ChargeLink is the sibling relation between a charge and a payment,
// stored once. Both sibling lists are views over these rows, so an
// asymmetric update cannot be expressed.
type ChargeLink struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	ChargeID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_charge_links_pair,priority:1" json:"charge_id"`
	PaymentID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_charge_links_pair,priority:2" json:"payment_id"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ChargeLink) TableName() string { return "charge_links" }

// ChargeSnapshot captures a deleted charge and its sibling payment IDs so
// the charge can be restored with its original identity.
type ChargeSnapshot struct {
	ID             snowflake.ID   `json:"id"`
	OrgID          snowflake.ID   `json:"org_id"`
	MemberID       snowflake.ID   `json:"member_id"`
	SubscriptionID snowflake.ID   `json:"subscription_id"`
	ProductName    string         `json:"product_name"`
	Amount         int64          `json:"amount"`
	OriginalAmount *int64         `json:"original_amount,omitempty"`
	DiscountType   *string        `json:"discount_type,omitempty"`
	DiscountValue  *string        `json:"discount_value,omitempty"`
	InvoiceAt      time.Time      `json:"invoice_at"`
	DeadlineAt     time.Time      `json:"deadline_at"`
	LinkedPayments []snowflake.ID `json:"linked_payments"`
}

// Snapshot builds the restore payload for a charge and its current links.
func (c Charge) Snapshot(linkedPayments []snowflake.ID) ChargeSnapshot {
	return ChargeSnapshot{
		ID:             c.ID,
		OrgID:          c.OrgID,
		MemberID:       c.MemberID,
		SubscriptionID: c.SubscriptionID,
		ProductName:    c.ProductName,
		Amount:         c.Amount,
		OriginalAmount: c.OriginalAmount,
		DiscountType:   c.DiscountType,
		DiscountValue:  c.DiscountValue,
		InvoiceAt:      c.InvoiceAt,
		DeadlineAt:     c.DeadlineAt,
		LinkedPayments: linkedPayments,
	}
}
