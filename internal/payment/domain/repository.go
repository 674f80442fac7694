package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert appends one ledger row. Renewal rows are guarded by the unique
	// index on (stripe_subscription_id, billing_cycle_end); returns false when
	// the row already existed.
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID string) (*Payment, error)
	BackfillInvoiceID(ctx context.Context, db *gorm.DB, id snowflake.ID, invoiceID string) error
}
