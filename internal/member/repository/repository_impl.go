package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	memberdomain "github.com/duecycle/duecycle/internal/member/domain"
)

type repo struct{}

func Provide() memberdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *memberdomain.Member) error {
	return db.WithContext(ctx).Create(member).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*memberdomain.Member, error) {
	var member memberdomain.Member
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// lockForUpdate adds a row lock where the dialect supports one. SQLite is
// single-writer, so the clause is skipped there.
func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*memberdomain.Member, error) {
	var member memberdomain.Member
	err := lockForUpdate(db.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int, afterID snowflake.ID) ([]memberdomain.Member, error) {
	var members []memberdomain.Member
	stmt := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id").
		Limit(limit)
	if afterID != 0 {
		stmt = stmt.Where("id > ?", afterID)
	}
	err := stmt.Find(&members).Error
	return members, err
}

// FindDue is the coarse due-index range query: members whose cached
// earliest-due timestamp falls inside the lookahead window, keyed on an
// id cursor so a batch scan never revisits a member whose next_due_at a
// failure left unchanged. The scanner re-filters each subscription
// against the true due condition afterwards.
func (r *repo) FindDue(ctx context.Context, db *gorm.DB, cutoff time.Time, afterID snowflake.ID, limit int) ([]memberdomain.Member, error) {
	var members []memberdomain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM members
		 WHERE next_due_at IS NOT NULL AND next_due_at <= ? AND id > ?
		 ORDER BY id
		 LIMIT ?`,
		cutoff,
		afterID,
		limit,
	).Scan(&members).Error
	return members, err
}

func (r *repo) UpdateNextDue(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID, nextDue *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE members
		 SET next_due_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		nextDue,
		now,
		orgID,
		memberID,
	).Error
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *memberdomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindSubscription(ctx context.Context, db *gorm.DB, orgID, memberID, id snowflake.ID) (*memberdomain.Subscription, error) {
	var subscription memberdomain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND member_id = ? AND id = ?", orgID, memberID, id).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) ListSubscriptions(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID) ([]memberdomain.Subscription, error) {
	var subscriptions []memberdomain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND member_id = ?", orgID, memberID).
		Order("id").
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repo) SaveSubscription(ctx context.Context, db *gorm.DB, subscription *memberdomain.Subscription) error {
	return db.WithContext(ctx).Save(subscription).Error
}

func (r *repo) DeleteSubscription(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Error
}
