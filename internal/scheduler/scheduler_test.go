package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/clock"
	rentaldomain "github.com/smallbiznis/storlock/internal/rental/domain"
	rentalrepo "github.com/smallbiznis/storlock/internal/rental/repository"
	"github.com/smallbiznis/storlock/internal/scheduler"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRunOnceExpiresLapsedRentals(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := rentalrepo.Provide()
	node, err := snowflake.NewNode(70)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	lapsed := &rentaldomain.Rental{
		ID:                      node.Generate(),
		UserID:                  "user_1",
		UnitID:                  "unit_1",
		StartDate:               fake.Now().AddDate(0, -2, 0),
		EndDate:                 fake.Now().AddDate(0, 0, -1),
		Price:                   9900,
		Status:                  rentaldomain.RentalStatusActive,
		PaymentType:             rentaldomain.PaymentTypeSingle,
		StripeCheckoutSessionID: "cs_lapsed",
		MonthsPaid:              1,
		AccessCode:              "1234",
		CreatedAt:               fake.Now(),
		UpdatedAt:               fake.Now(),
	}
	if _, err := repo.Insert(ctx, db, lapsed); err != nil {
		t.Fatalf("insert lapsed: %v", err)
	}

	current := &rentaldomain.Rental{
		ID:                      node.Generate(),
		UserID:                  "user_2",
		UnitID:                  "unit_2",
		StartDate:               fake.Now(),
		EndDate:                 fake.Now().AddDate(0, 1, 0),
		Price:                   9900,
		Status:                  rentaldomain.RentalStatusActive,
		PaymentType:             rentaldomain.PaymentTypeSingle,
		StripeCheckoutSessionID: "cs_current",
		MonthsPaid:              1,
		AccessCode:              "5678",
		CreatedAt:               fake.Now(),
		UpdatedAt:               fake.Now(),
	}
	if _, err := repo.Insert(ctx, db, current); err != nil {
		t.Fatalf("insert current: %v", err)
	}

	sched := scheduler.New(scheduler.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      fake,
		RentalRepo: repo,
	})

	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	stored, err := repo.FindByID(ctx, db, lapsed.ID)
	if err != nil {
		t.Fatalf("find lapsed: %v", err)
	}
	if stored.Status != rentaldomain.RentalStatusExpired {
		t.Fatalf("expected lapsed rental expired, got %s", stored.Status)
	}

	stored, err = repo.FindByID(ctx, db, current.ID)
	if err != nil {
		t.Fatalf("find current: %v", err)
	}
	if stored.Status != rentaldomain.RentalStatusActive {
		t.Fatalf("expected current rental active, got %s", stored.Status)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec(`CREATE TABLE rentals (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		price BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		payment_type TEXT NOT NULL,
		subscription_status TEXT,
		stripe_subscription_id TEXT,
		stripe_checkout_session_id TEXT NOT NULL,
		months_paid INTEGER NOT NULL DEFAULT 0,
		next_payment_date DATETIME,
		access_code TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX idx_rentals_checkout_session ON rentals(stripe_checkout_session_id)`).Error; err != nil {
		t.Fatalf("create index: %v", err)
	}
	return db
}
