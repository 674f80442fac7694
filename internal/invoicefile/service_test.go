package invoicefile_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/invoicefile"
	paymentrepo "github.com/smallbiznis/storlock/internal/payment/repository"
	rentalrepo "github.com/smallbiznis/storlock/internal/rental/repository"
	"github.com/smallbiznis/storlock/internal/stripe"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestDownloadWithCachedInvoiceID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 40)

	rentalID := node.Generate()
	paymentID := node.Generate()
	seedRental(t, db, rentalID, "user_1")
	seedPayment(t, db, paymentID, rentalID, "in_1", "pi_1", "sub_1")

	svc := newTestService(t, db)
	resp, err := svc.Download(ctx, "user_1", invoicefile.DownloadRequest{PaymentID: paymentID})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if resp.DownloadURL != "https://invoice.example/in_1" {
		t.Fatalf("unexpected url %q", resp.DownloadURL)
	}
	if resp.InvoiceNumber != "INV-0001" || resp.InvoiceID != "in_1" {
		t.Fatalf("unexpected invoice fields: %+v", resp)
	}
}

func TestDownloadResolvesAndBackfillsInvoiceID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 41)

	rentalID := node.Generate()
	paymentID := node.Generate()
	seedRental(t, db, rentalID, "user_1")
	seedPayment(t, db, paymentID, rentalID, "", "pi_1", "sub_1")

	svc := newTestService(t, db)
	resp, err := svc.Download(ctx, "user_1", invoicefile.DownloadRequest{PaymentID: paymentID})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if resp.InvoiceID != "in_1" {
		t.Fatalf("expected resolved invoice in_1, got %q", resp.InvoiceID)
	}

	var cached string
	if err := db.Raw("SELECT stripe_invoice_id FROM payments WHERE id = ?", paymentID).Scan(&cached).Error; err != nil {
		t.Fatalf("scan cached invoice: %v", err)
	}
	if cached != "in_1" {
		t.Fatalf("expected backfilled invoice id, got %q", cached)
	}
}

func TestDownloadRejectsForeignPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 42)

	rentalID := node.Generate()
	paymentID := node.Generate()
	seedRental(t, db, rentalID, "user_1")
	seedPayment(t, db, paymentID, rentalID, "in_1", "pi_1", "sub_1")

	svc := newTestService(t, db)
	_, err := svc.Download(ctx, "user_2", invoicefile.DownloadRequest{PaymentID: paymentID})
	if !errors.Is(err, invoicefile.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestDownloadUnknownPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 43)

	svc := newTestService(t, db)
	_, err := svc.Download(ctx, "user_1", invoicefile.DownloadRequest{PaymentID: node.Generate()})
	if !errors.Is(err, invoicefile.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestDownloadSinglePaymentWithoutInvoice(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 44)

	rentalID := node.Generate()
	paymentID := node.Generate()
	seedRental(t, db, rentalID, "user_1")
	seedPayment(t, db, paymentID, rentalID, "", "pi_1", "")

	svc := newTestService(t, db)
	_, err := svc.Download(ctx, "user_1", invoicefile.DownloadRequest{PaymentID: paymentID})
	if !errors.Is(err, invoicefile.ErrNoInvoice) {
		t.Fatalf("expected ErrNoInvoice, got %v", err)
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

func newTestService(t *testing.T, db *gorm.DB) *invoicefile.Service {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/invoices/in_1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                 "in_1",
			"subscription":       "sub_1",
			"payment_intent":     "pi_1",
			"number":             "INV-0001",
			"hosted_invoice_url": "https://invoice.example/in_1",
			"invoice_pdf":        "https://invoice.example/in_1.pdf",
		})
	})
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"id":                 "in_1",
				"subscription":       "sub_1",
				"payment_intent":     "pi_1",
				"number":             "INV-0001",
				"hosted_invoice_url": "https://invoice.example/in_1",
			}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return invoicefile.NewService(invoicefile.Params{
		DB:          db,
		Log:         zap.NewNop(),
		PaymentRepo: paymentrepo.Provide(),
		RentalRepo:  rentalrepo.Provide(),
		StripeAPI:   stripe.NewClient("sk_test").WithBaseURL(server.URL),
	})
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
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			rental_id BIGINT NOT NULL,
			stripe_payment_intent_id TEXT,
			stripe_invoice_id TEXT,
			status TEXT NOT NULL,
			payment_date DATETIME NOT NULL,
			payment_method TEXT NOT NULL DEFAULT 'card',
			payment_type TEXT NOT NULL,
			stripe_subscription_id TEXT,
			billing_cycle_start DATETIME,
			billing_cycle_end DATETIME,
			is_subscription_active BOOLEAN NOT NULL DEFAULT FALSE,
			next_billing_date DATETIME,
			months_paid INTEGER NOT NULL DEFAULT 0,
			unit_price BIGINT NOT NULL,
			total_amount BIGINT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

func seedRental(t *testing.T, db *gorm.DB, id snowflake.ID, userID string) {
	t.Helper()

	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO rentals (
			id, user_id, unit_id, start_date, end_date, price, status,
			payment_type, stripe_checkout_session_id, months_paid, access_code,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, "unit_1", now, now.AddDate(0, 1, 0), 9900, "active",
		"subscription", "cs_"+id.String(), 1, "1234", now, now,
	).Error; err != nil {
		t.Fatalf("seed rental: %v", err)
	}
}

func seedPayment(t *testing.T, db *gorm.DB, id, rentalID snowflake.ID, invoiceID, paymentIntentID, subscriptionID string) {
	t.Helper()

	now := time.Now().UTC()
	var invoice, subscription any
	if invoiceID != "" {
		invoice = invoiceID
	}
	if subscriptionID != "" {
		subscription = subscriptionID
	}
	if err := db.Exec(
		`INSERT INTO payments (
			id, rental_id, stripe_payment_intent_id, stripe_invoice_id, status,
			payment_date, payment_method, payment_type, stripe_subscription_id,
			months_paid, unit_price, total_amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rentalID, paymentIntentID, invoice, "succeeded",
		now, "card", "subscription", subscription, 1, 9900, 9900, now,
	).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}
