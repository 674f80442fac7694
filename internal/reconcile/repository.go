package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type eventRepo struct{}

func ProvideEventRepository() EventRepository {
	return &eventRepo{}
}

func (r *eventRepo) InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider_event_id, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		event.ID,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *eventRepo) FindEvent(ctx context.Context, db *gorm.DB, providerEventID string) (*EventRecord, error) {
	var item EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_event_id, event_type, payload, received_at, processed_at
		 FROM webhook_events
		 WHERE provider_event_id = ?
		 LIMIT 1`,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
