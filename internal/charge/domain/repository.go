package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence boundary for charges, payments and their
// link rows. All methods operate on the *gorm.DB handed in so callers can
// compose them inside one transaction.
type Repository interface {
	InsertCharge(ctx context.Context, db *gorm.DB, c *Charge) error
	FindCharge(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Charge, error)
	FindChargeForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Charge, error)
	ListCharges(ctx context.Context, db *gorm.DB, orgID snowflake.ID, req ListChargesRequest, afterID snowflake.ID, limit int) ([]Charge, error)
	SaveCharge(ctx context.Context, db *gorm.DB, c *Charge) error
	DeleteCharge(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
	ListLegacyStatusCharges(ctx context.Context, db *gorm.DB, limit int) ([]Charge, error)

	InsertPayment(ctx context.Context, db *gorm.DB, p *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindPayments(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Payment, error)
	FindPaymentByGatewayRef(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ref string) (*Payment, error)

	// InsertLink inserts a sibling link if absent. Returns true when a new
	// row was written, false when the pair already existed.
	InsertLink(ctx context.Context, db *gorm.DB, link *ChargeLink) (bool, error)
	LinkedPaymentIDs(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]snowflake.ID, error)
	LinkedAmount(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int64, error)
	// ChargeIDsWithLinks reports which of the given charges have at least
	// one link row.
	ChargeIDsWithLinks(ctx context.Context, db *gorm.DB, chargeIDs []snowflake.ID) (map[snowflake.ID]bool, error)
	DeleteLinksForCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) error
	// UnlinkedPayments returns the subset of the given payments that
	// currently have no link rows at all.
	UnlinkedPayments(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) ([]Payment, error)
}
