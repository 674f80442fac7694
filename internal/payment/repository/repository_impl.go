package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, rental_id, stripe_payment_intent_id, stripe_invoice_id,
	status, payment_date, payment_method, payment_type, stripe_subscription_id,
	billing_cycle_start, billing_cycle_end, is_subscription_active,
	next_billing_date, months_paid, unit_price, total_amount, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, rental_id, stripe_payment_intent_id, stripe_invoice_id, status,
			payment_date, payment_method, payment_type, stripe_subscription_id,
			billing_cycle_start, billing_cycle_end, is_subscription_active,
			next_billing_date, months_paid, unit_price, total_amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_subscription_id, billing_cycle_end) DO NOTHING`,
		payment.ID,
		payment.RentalID,
		payment.StripePaymentIntentID,
		payment.StripeInvoiceID,
		payment.Status,
		payment.PaymentDate,
		payment.PaymentMethod,
		payment.PaymentType,
		payment.StripeSubscriptionID,
		payment.BillingCycleStart,
		payment.BillingCycleEnd,
		payment.IsSubscriptionActive,
		payment.NextBillingDate,
		payment.MonthsPaid,
		payment.UnitPrice,
		payment.TotalAmount,
		payment.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `stripe_invoice_id = ?`, invoiceID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) BackfillInvoiceID(ctx context.Context, db *gorm.DB, id snowflake.ID, invoiceID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET stripe_invoice_id = ?
		 WHERE id = ? AND stripe_invoice_id IS NULL`,
		invoiceID,
		id,
	).Error
}
