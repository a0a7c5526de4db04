package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Member, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Member, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int, afterID snowflake.ID) ([]Member, error)
	FindDue(ctx context.Context, db *gorm.DB, cutoff time.Time, afterID snowflake.ID, limit int) ([]Member, error)
	UpdateNextDue(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID, nextDue *time.Time, now time.Time) error

	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindSubscription(ctx context.Context, db *gorm.DB, orgID, memberID, id snowflake.ID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID) ([]Subscription, error)
	SaveSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	DeleteSubscription(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
}
