// Package domain contains persistence models and the lifecycle state machine
// for storage-unit rentals.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RentalStatus represents lifecycle states for a rental agreement.
type RentalStatus string

const (
	RentalStatusActive    RentalStatus = "active"
	RentalStatusExpired   RentalStatus = "expired"
	RentalStatusCancelled RentalStatus = "cancelled"
)

// PaymentType distinguishes one-time rentals from recurring subscriptions.
type PaymentType string

const (
	PaymentTypeSingle       PaymentType = "single"
	PaymentTypeSubscription PaymentType = "subscription"
)

// SubscriptionStatus tracks the provider-side billing agreement. It is null
// for single-payment rentals.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Rental binds a user to a unit for a period. Created exactly once per
// checkout session; end_date only ever moves forward.
type Rental struct {
	ID                      snowflake.ID        `gorm:"primaryKey"`
	UserID                  string              `gorm:"type:text;not null;index"`
	UnitID                  string              `gorm:"type:text;not null;index"`
	StartDate               time.Time           `gorm:"not null"`
	EndDate                 time.Time           `gorm:"not null"`
	Price                   int64               `gorm:"not null"`
	Status                  RentalStatus        `gorm:"type:text;not null"`
	PaymentType             PaymentType         `gorm:"type:text;not null"`
	SubscriptionStatus      *SubscriptionStatus `gorm:"type:text"`
	StripeSubscriptionID    *string             `gorm:"type:text;index"`
	StripeCheckoutSessionID string              `gorm:"type:text;not null;uniqueIndex"`
	MonthsPaid              int                 `gorm:"not null"`
	NextPaymentDate         *time.Time          `gorm:""`
	AccessCode              string              `gorm:"type:text;not null"`
	CreatedAt               time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Rental) TableName() string { return "rentals" }

var (
	ErrNotFound          = errors.New("rental_not_found")
	ErrInvalidRental     = errors.New("invalid_rental")
	ErrInvalidTransition = errors.New("invalid_rental_transition")
)
