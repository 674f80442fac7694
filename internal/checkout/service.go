// Package checkout creates provider checkout sessions for unit rentals. The
// session carries a string-encoded metadata bag that the reconciliation
// engine reads back when the session completes.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/smallbiznis/storlock/internal/config"
	"github.com/smallbiznis/storlock/internal/stripe"
	unitdomain "github.com/smallbiznis/storlock/internal/unit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidRequest = errors.New("invalid_checkout_request")

const (
	PaymentTypeSingle       = "single"
	PaymentTypeSubscription = "subscription"
)

type CreateSessionRequest struct {
	UnitID            string `json:"unitId" binding:"required"`
	PaymentType       string `json:"paymentType" binding:"required"`
	Months            int    `json:"months"`
	UnitPrice         int64  `json:"unitPrice"`
	TotalPrice        int64  `json:"totalPrice"`
	UnitSize          string `json:"unitSize"`
	Insurance         bool   `json:"insurance"`
	InsurancePrice    int64  `json:"insurancePrice"`
	InsuranceCoverage string `json:"insuranceCoverage"`
}

type CreateSessionResponse struct {
	URL string `json:"url"`
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Policy    *config.RentalPolicyHolder
	UnitRepo  unitdomain.Repository
	StripeAPI *stripe.Client
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	policy    *config.RentalPolicyHolder
	unitRepo  unitdomain.Repository
	stripeAPI *stripe.Client
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("checkout"),
		cfg:       p.Cfg,
		policy:    p.Policy,
		unitRepo:  p.UnitRepo,
		stripeAPI: p.StripeAPI,
	}
}

// CreateSession validates the unit is rentable and opens a provider checkout
// session. Occupation happens later, when the completion webhook lands; the
// availability check here only narrows the race window.
func (s *Service) CreateSession(ctx context.Context, userID string, req CreateSessionRequest) (*CreateSessionResponse, error) {
	if userID == "" || req.UnitID == "" {
		return nil, ErrInvalidRequest
	}
	if req.PaymentType != PaymentTypeSingle && req.PaymentType != PaymentTypeSubscription {
		return nil, ErrInvalidRequest
	}

	unit, err := s.unitRepo.FindByID(ctx, s.db, req.UnitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, unitdomain.ErrNotFound
	}
	if unit.Status != unitdomain.UnitStatusAvailable {
		return nil, unitdomain.ErrNotAvailable
	}

	policy := s.policy.Get()
	months := req.Months
	if months < 1 {
		months = policy.DefaultTermMonths
	}
	unitPrice := req.UnitPrice
	if unitPrice <= 0 {
		unitPrice = unit.BasePrice
	}

	recurring := req.PaymentType == PaymentTypeSubscription
	lineAmount := unitPrice
	totalPrice := req.TotalPrice
	if !recurring {
		lineAmount = unitPrice * int64(months)
	}
	if totalPrice <= 0 {
		totalPrice = lineAmount
	}

	metadata := map[string]string{
		"userId":      userID,
		"unitId":      unit.ID,
		"paymentType": req.PaymentType,
		"months":      strconv.Itoa(months),
		"unitPrice":   strconv.FormatInt(unitPrice, 10),
		"totalPrice":  strconv.FormatInt(totalPrice, 10),
		"unitSize":    firstNonEmpty(req.UnitSize, unit.SizeClass),
	}
	if req.Insurance {
		metadata["insurance"] = "true"
		metadata["insurancePrice"] = strconv.FormatInt(req.InsurancePrice, 10)
		metadata["insuranceCoverage"] = req.InsuranceCoverage
	}

	mode := "payment"
	if recurring {
		mode = "subscription"
	}

	session, err := s.stripeAPI.CreateCheckoutSession(ctx, stripe.CreateCheckoutSessionParams{
		Mode:           mode,
		SuccessURL:     s.cfg.CheckoutSuccessURL,
		CancelURL:      s.cfg.CheckoutCancelURL,
		PriceAmount:    lineAmount,
		ProductName:    fmt.Sprintf("Storage Unit %s", unit.ID),
		Quantity:       1,
		Recurring:      recurring,
		Metadata:       metadata,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("unit_id", unit.ID),
		zap.String("payment_type", req.PaymentType))

	return &CreateSessionResponse{URL: session.URL}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var Module = fx.Module("checkout",
	fx.Provide(NewService),
)
