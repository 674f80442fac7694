package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/rental/domain"
	"github.com/smallbiznis/storlock/internal/rental/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInsertIsGuardedByCheckoutSession(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := repository.Provide()
	node := newNode(t, 50)

	first := newRental(node, "cs_1", "unit_1")
	inserted, err := repo.Insert(ctx, db, first)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert to land")
	}

	duplicate := newRental(node, "cs_1", "unit_2")
	inserted, err = repo.Insert(ctx, db, duplicate)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate checkout session to be rejected")
	}

	var count int64
	if err := db.Raw("SELECT COUNT(1) FROM rentals").Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 rental, got %d", count)
	}
}

func TestExtendTermIsMonotonic(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := repository.Provide()
	node := newNode(t, 51)

	rental := newRental(node, "cs_1", "unit_1")
	if _, err := repo.Insert(ctx, db, rental); err != nil {
		t.Fatalf("insert: %v", err)
	}

	extended := rental.EndDate.AddDate(0, 1, 0)
	if err := repo.ExtendTerm(ctx, db, rental.ID, extended, 2, nil); err != nil {
		t.Fatalf("extend: %v", err)
	}

	// An extension to an earlier date must not roll the term back.
	earlier := rental.EndDate.AddDate(0, 0, -3)
	if err := repo.ExtendTerm(ctx, db, rental.ID, earlier, 3, nil); err != nil {
		t.Fatalf("stale extend: %v", err)
	}

	stored, err := repo.FindByID(ctx, db, rental.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !stored.EndDate.Equal(extended) {
		t.Fatalf("expected end_date %v, got %v", extended, stored.EndDate)
	}
	if stored.MonthsPaid != 2 {
		t.Fatalf("expected months_paid 2, got %d", stored.MonthsPaid)
	}
}

func TestMarkExpiredBeforeSkipsRenewingSubscriptions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := repository.Provide()
	node := newNode(t, 52)

	lapsed := newRental(node, "cs_1", "unit_1")
	lapsed.EndDate = time.Now().UTC().AddDate(0, 0, -2)
	if _, err := repo.Insert(ctx, db, lapsed); err != nil {
		t.Fatalf("insert lapsed: %v", err)
	}

	renewing := newRental(node, "cs_2", "unit_2")
	renewing.EndDate = time.Now().UTC().AddDate(0, 0, -2)
	active := domain.SubscriptionStatusActive
	renewing.SubscriptionStatus = &active
	renewing.PaymentType = domain.PaymentTypeSubscription
	if _, err := repo.Insert(ctx, db, renewing); err != nil {
		t.Fatalf("insert renewing: %v", err)
	}

	expired, err := repo.MarkExpiredBefore(ctx, db, time.Now().UTC(), 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	stored, err := repo.FindByID(ctx, db, renewing.ID)
	if err != nil {
		t.Fatalf("find renewing: %v", err)
	}
	if stored.Status != domain.RentalStatusActive {
		t.Fatalf("active subscription was expired by the sweep")
	}
}

func newNode(t *testing.T, id int64) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(id)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func newRental(node *snowflake.Node, sessionID, unitID string) *domain.Rental {
	now := time.Now().UTC()
	return &domain.Rental{
		ID:                      node.Generate(),
		UserID:                  "user_1",
		UnitID:                  unitID,
		StartDate:               now,
		EndDate:                 now.AddDate(0, 1, 0),
		Price:                   9900,
		Status:                  domain.RentalStatusActive,
		PaymentType:             domain.PaymentTypeSingle,
		StripeCheckoutSessionID: sessionID,
		MonthsPaid:              1,
		AccessCode:              "1234",
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE rentals (
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
		)`,
		`CREATE UNIQUE INDEX idx_rentals_checkout_session ON rentals(stripe_checkout_session_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}
