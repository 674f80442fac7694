// Package reconcile is the payment-webhook reconciliation engine. Each
// verified provider event is recorded, routed to exactly one handler, and
// applied as an idempotent conditional transition over unit, rental and
// payment rows.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is the at-least-once dedupe ledger for webhook deliveries.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

func (EventRecord) TableName() string { return "webhook_events" }

type EventRepository interface {
	// InsertEvent records a delivery guarded by the unique index on
	// provider_event_id. Returns false when the event was seen before.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

var (
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrMissingSubscription   = errors.New("missing_subscription_reference")
	ErrMissingPaymentIntent  = errors.New("missing_payment_intent_reference")
)
