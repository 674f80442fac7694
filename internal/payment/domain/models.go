// Package domain contains the append-only payment ledger models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentStatus represents the settlement outcome of one billing event.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is an immutable record of one billing event. One row per successful
// checkout and per successful renewal invoice; never updated, never deleted.
// The stripe_invoice_id backfill in the invoice-download path is the sole
// exception, a denormalized cache write.
type Payment struct {
	ID                    snowflake.ID  `gorm:"primaryKey"`
	RentalID              snowflake.ID  `gorm:"not null;index"`
	StripePaymentIntentID *string       `gorm:"type:text"`
	StripeInvoiceID       *string       `gorm:"type:text"`
	Status                PaymentStatus `gorm:"type:text;not null"`
	PaymentDate           time.Time     `gorm:"not null"`
	PaymentMethod         string        `gorm:"type:text;not null"`
	PaymentType           string        `gorm:"type:text;not null"`
	StripeSubscriptionID  *string       `gorm:"type:text"`
	BillingCycleStart     *time.Time    `gorm:""`
	BillingCycleEnd       *time.Time    `gorm:""`
	IsSubscriptionActive  bool          `gorm:"not null"`
	NextBillingDate       *time.Time    `gorm:""`
	MonthsPaid            int           `gorm:"not null"`
	UnitPrice             int64         `gorm:"not null"`
	TotalAmount           int64         `gorm:"not null"`
	CreatedAt             time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

var (
	ErrNotFound       = errors.New("payment_not_found")
	ErrInvalidPayment = errors.New("invalid_payment")
)
