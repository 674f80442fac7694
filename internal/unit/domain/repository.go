package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Unit, error)
	// Occupy performs a conditional update guarded on the current status being
	// available. It returns ErrOccupyConflict when zero rows were affected.
	Occupy(ctx context.Context, db *gorm.DB, id string) error
	Release(ctx context.Context, db *gorm.DB, id string) error
}
