// Package domain contains persistence models for rentable storage units.
package domain

import (
	"errors"
	"time"
)

// UnitStatus represents occupancy states for a storage unit.
type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "available"
	UnitStatusOccupied    UnitStatus = "occupied"
	UnitStatusMaintenance UnitStatus = "maintenance"
)

// Unit is a rentable physical slot. Rows pre-exist reconciliation; the engine
// only flips status to occupied after a successful rental creation.
type Unit struct {
	ID        string     `gorm:"primaryKey;type:text"`
	SizeClass string     `gorm:"type:text;not null"`
	BasePrice int64      `gorm:"not null"`
	Status    UnitStatus `gorm:"type:text;not null"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Unit) TableName() string { return "units" }

var (
	ErrNotFound       = errors.New("unit_not_found")
	ErrNotAvailable   = errors.New("unit_not_available")
	ErrOccupyConflict = errors.New("unit_occupy_conflict")
)
