// Package invoicefile resolves the provider-hosted invoice document behind a
// recorded payment so a renter can download it.
package invoicefile

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/storlock/internal/payment/domain"
	rentaldomain "github.com/smallbiznis/storlock/internal/rental/domain"
	"github.com/smallbiznis/storlock/internal/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrNotOwner        = errors.New("payment_not_owned")
	ErrNoInvoice       = errors.New("invoice_not_available")
)

type DownloadRequest struct {
	PaymentID snowflake.ID `json:"paymentId,string" binding:"required"`
}

type DownloadResponse struct {
	DownloadURL   string `json:"downloadUrl"`
	InvoiceNumber string `json:"invoiceNumber"`
	InvoiceID     string `json:"invoiceId"`
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	PaymentRepo paymentdomain.Repository
	RentalRepo  rentaldomain.Repository
	StripeAPI   *stripe.Client
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	paymentRepo paymentdomain.Repository
	rentalRepo  rentaldomain.Repository
	stripeAPI   *stripe.Client
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoicefile"),
		paymentRepo: p.PaymentRepo,
		rentalRepo:  p.RentalRepo,
		stripeAPI:   p.StripeAPI,
	}
}

// Download resolves the invoice document for a payment owned by userID. The
// resolved invoice id is written back to the payment row so repeat downloads
// skip the provider lookup.
func (s *Service) Download(ctx context.Context, userID string, req DownloadRequest) (*DownloadResponse, error) {
	payment, err := s.paymentRepo.FindByID(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}

	rental, err := s.rentalRepo.FindByID(ctx, s.db, payment.RentalID)
	if err != nil {
		return nil, err
	}
	if rental == nil || rental.UserID != userID {
		return nil, ErrNotOwner
	}

	invoice, err := s.resolveInvoice(ctx, payment)
	if err != nil {
		return nil, err
	}

	if payment.StripeInvoiceID == nil || *payment.StripeInvoiceID != invoice.ID {
		if err := s.paymentRepo.BackfillInvoiceID(ctx, s.db, payment.ID, invoice.ID); err != nil {
			s.log.Warn("failed to cache resolved invoice id",
				zap.Int64("payment_id", int64(payment.ID)),
				zap.Error(err))
		}
	}

	url := invoice.HostedInvoiceURL
	if url == "" {
		url = invoice.InvoicePDF
	}
	if url == "" {
		return nil, ErrNoInvoice
	}

	return &DownloadResponse{
		DownloadURL:   url,
		InvoiceNumber: invoice.Number,
		InvoiceID:     invoice.ID,
	}, nil
}

func (s *Service) resolveInvoice(ctx context.Context, payment *paymentdomain.Payment) (stripe.APIInvoice, error) {
	if payment.StripeInvoiceID != nil && *payment.StripeInvoiceID != "" {
		return s.stripeAPI.GetInvoice(ctx, *payment.StripeInvoiceID)
	}
	if payment.StripeSubscriptionID != nil && payment.StripePaymentIntentID != nil {
		return s.stripeAPI.FindInvoiceByPaymentIntent(ctx, *payment.StripeSubscriptionID, *payment.StripePaymentIntentID)
	}
	// Single payments settle through a payment intent without an invoice.
	return stripe.APIInvoice{}, ErrNoInvoice
}

var Module = fx.Module("invoicefile",
	fx.Provide(NewService),
)
