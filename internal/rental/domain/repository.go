package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert creates the rental guarded by the unique index on
	// stripe_checkout_session_id. Returns false when the row already existed.
	Insert(ctx context.Context, db *gorm.DB, rental *Rental) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Rental, error)
	FindByCheckoutSessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Rental, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Rental, error)
	ExtendTerm(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate time.Time, monthsPaid int, nextPaymentDate *time.Time) error
	SetSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, nextPaymentDate *time.Time) error
	MarkExpiredBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}
