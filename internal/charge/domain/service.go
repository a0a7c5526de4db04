package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidMember       = errors.New("invalid_member")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrChargeNotFound      = errors.New("charge_not_found")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrChargeHasPayments   = errors.New("charge_has_payments")
	ErrMemberMismatch      = errors.New("member_mismatch")
	ErrInvalidSnapshot     = errors.New("invalid_snapshot")
	ErrChargeExists        = errors.New("charge_already_exists")
)

// CreateChargeRequest carves out a manual debit against a member.
type CreateChargeRequest struct {
	MemberID    string `json:"member_id" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	InvoiceAt   *time.Time
	DeadlineAt  *time.Time
}

// RecordPaymentRequest registers an incoming credit for a member.
type RecordPaymentRequest struct {
	MemberID    string  `json:"member_id" binding:"required"`
	Amount      int64   `json:"amount" binding:"required"`
	Description string  `json:"description"`
	GatewayRef  *string `json:"gateway_ref"`
	// ChargeID optionally links the payment to a charge in the same call.
	ChargeID *string `json:"charge_id"`
}

// ChargeDiscountRequest applies a discount to a single charge.
type ChargeDiscountRequest struct {
	Type  string `json:"type" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// ListChargesRequest filters the charge listing.
type ListChargesRequest struct {
	MemberID  string `form:"member_id"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	PageToken string `form:"page_token"`
}

// ChargeView is a charge as returned by reads, carrying the derived
// overdue flag alongside the stored row.
type ChargeView struct {
	Charge
	Overdue bool `json:"overdue"`
}

// DeleteResult reports what a delete-with-conversion produced.
type DeleteResult struct {
	ChargeID        snowflake.ID   `json:"charge_id"`
	ConvertedCredit int64          `json:"converted_credit"`
	Snapshot        ChargeSnapshot `json:"snapshot"`
}

// Service reconciles the debit/credit ledger: it records payments, keeps
// charge and payment sibling links symmetric, rolls charge status up from
// linked amounts, and handles delete-with-conversion and restore.
type Service interface {
	CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, id string) (*ChargeView, error)
	ListCharges(ctx context.Context, req ListChargesRequest) ([]ChargeView, string, error)

	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, error)
	LinkPayment(ctx context.Context, chargeID, paymentID string) (*Charge, error)
	FindPaymentByGatewayRef(ctx context.Context, ref string) (*Payment, error)

	DeleteCharge(ctx context.Context, id string) (*DeleteResult, error)
	RestoreCharge(ctx context.Context, snap ChargeSnapshot) (*Charge, error)

	ApplyChargeDiscount(ctx context.Context, id string, req ChargeDiscountRequest) (*Charge, error)
	RemoveChargeDiscount(ctx context.Context, id string) (*Charge, error)

	ReconcileLegacyStatuses(ctx context.Context) (int64, error)
}
