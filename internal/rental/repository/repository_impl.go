package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/rental/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const rentalColumns = `id, user_id, unit_id, start_date, end_date, price, status,
	payment_type, subscription_status, stripe_subscription_id,
	stripe_checkout_session_id, months_paid, next_payment_date, access_code,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rental *domain.Rental) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO rentals (
			id, user_id, unit_id, start_date, end_date, price, status,
			payment_type, subscription_status, stripe_subscription_id,
			stripe_checkout_session_id, months_paid, next_payment_date,
			access_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_checkout_session_id) DO NOTHING`,
		rental.ID,
		rental.UserID,
		rental.UnitID,
		rental.StartDate,
		rental.EndDate,
		rental.Price,
		rental.Status,
		rental.PaymentType,
		rental.SubscriptionStatus,
		rental.StripeSubscriptionID,
		rental.StripeCheckoutSessionID,
		rental.MonthsPaid,
		rental.NextPaymentDate,
		rental.AccessCode,
		rental.CreatedAt,
		rental.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Rental, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByCheckoutSessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Rental, error) {
	return r.findOne(ctx, db, `stripe_checkout_session_id = ?`, sessionID)
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Rental, error) {
	return r.findOne(ctx, db, `stripe_subscription_id = ?`, subscriptionID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Rental, error) {
	var item domain.Rental
	err := db.WithContext(ctx).Raw(
		`SELECT `+rentalColumns+`
		 FROM rentals
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

func (r *repo) ExtendTerm(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate time.Time, monthsPaid int, nextPaymentDate *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE rentals
		 SET end_date = ?, months_paid = ?, next_payment_date = ?,
		     subscription_status = ?, updated_at = ?
		 WHERE id = ? AND end_date <= ?`,
		endDate,
		monthsPaid,
		nextPaymentDate,
		domain.SubscriptionStatusActive,
		time.Now().UTC(),
		id,
		endDate,
	).Error
}

func (r *repo) SetSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, nextPaymentDate *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE rentals
		 SET subscription_status = ?, next_payment_date = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		nextPaymentDate,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) MarkExpiredBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE rentals
		 SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM rentals
			WHERE status = ?
			  AND end_date < ?
			  AND (subscription_status IS NULL OR subscription_status <> ?)
			ORDER BY end_date
			LIMIT ?
		 )`,
		domain.RentalStatusExpired,
		time.Now().UTC(),
		domain.RentalStatusActive,
		cutoff,
		domain.SubscriptionStatusActive,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
