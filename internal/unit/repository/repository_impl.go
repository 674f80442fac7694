package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/storlock/internal/unit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Unit, error) {
	var item domain.Unit
	err := db.WithContext(ctx).Raw(
		`SELECT id, size_class, base_price, status, created_at, updated_at
		 FROM units
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Occupy(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE units
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.UnitStatusOccupied,
		time.Now().UTC(),
		id,
		domain.UnitStatusAvailable,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOccupyConflict
	}
	return nil
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE units
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.UnitStatusAvailable,
		time.Now().UTC(),
		id,
		domain.UnitStatusOccupied,
	).Error
}
