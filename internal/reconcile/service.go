package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storlock/internal/clock"
	"github.com/smallbiznis/storlock/internal/config"
	"github.com/smallbiznis/storlock/internal/notify"
	"github.com/smallbiznis/storlock/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storlock/internal/payment/domain"
	rentaldomain "github.com/smallbiznis/storlock/internal/rental/domain"
	"github.com/smallbiznis/storlock/internal/stripe"
	unitdomain "github.com/smallbiznis/storlock/internal/unit/domain"
	"github.com/smallbiznis/storlock/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.RentalPolicyHolder
	EventRepo   EventRepository
	RentalRepo  rentaldomain.Repository
	PaymentRepo paymentdomain.Repository
	UnitRepo    unitdomain.Repository
	StripeAPI   *stripe.Client
	Dispatcher  *notify.Dispatcher         `optional:"true"`
	ObsMetrics  *metrics.Metrics           `optional:"true"`
	Verifier    *stripe.Verifier
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.RentalPolicyHolder
	eventRepo   EventRepository
	rentalRepo  rentaldomain.Repository
	paymentRepo paymentdomain.Repository
	unitRepo    unitdomain.Repository
	stripeAPI   *stripe.Client
	dispatcher  *notify.Dispatcher
	obsMetrics  *metrics.Metrics
	verifier    *stripe.Verifier
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("reconcile"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		eventRepo:   p.EventRepo,
		rentalRepo:  p.RentalRepo,
		paymentRepo: p.PaymentRepo,
		unitRepo:    p.UnitRepo,
		stripeAPI:   p.StripeAPI,
		dispatcher:  p.Dispatcher,
		obsMetrics:  p.ObsMetrics,
		verifier:    p.Verifier,
	}
}

func NewVerifierFromConfig(cfg config.Config, holder *config.RentalPolicyHolder) (*stripe.Verifier, error) {
	tolerance := time.Duration(holder.Get().SignatureToleranceS) * time.Second
	return stripe.NewVerifier(cfg.StripeWebhookSecret, tolerance)
}

// ProcessWebhook authenticates, records and applies one webhook delivery.
// Every delivery is a stateless invocation; the database is the only
// synchronization point between concurrent deliveries.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.verifier.Verify(payload, headers); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return stripe.ErrInvalidPayload
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, stripe.ErrEventIgnored) {
			eventType := "unknown"
			if event != nil && event.Kind != "" {
				eventType = string(event.Kind)
			}
			s.log.Info("ignoring webhook event", zap.String("event_type", eventType))
			s.obsMetrics.RecordWebhookEvent(eventType, metrics.OutcomeIgnored)
			return nil
		}
		return err
	}

	now := s.clock.Now()
	record := &EventRecord{
		ID:              s.genID.Generate(),
		ProviderEventID: event.ID,
		EventType:       string(event.Kind),
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.eventRepo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	stored := record
	if !inserted {
		stored, err = s.eventRepo.FindEvent(ctx, s.db, event.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return stripe.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.obsMetrics.RecordWebhookEvent(string(event.Kind), metrics.OutcomeDuplicate)
			return ErrEventAlreadyProcessed
		}
	}

	if err := s.route(ctx, event); err != nil {
		s.obsMetrics.RecordWebhookEvent(string(event.Kind), metrics.OutcomeFailed)
		return err
	}

	if err := s.eventRepo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}

	s.obsMetrics.RecordWebhookEvent(string(event.Kind), metrics.OutcomeProcessed)
	return nil
}

func (s *Service) route(ctx context.Context, event *stripe.Event) error {
	switch event.Kind {
	case stripe.EventCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case stripe.EventInvoicePaymentSucceeded:
		return s.handleInvoicePaid(ctx, event)
	case stripe.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	case stripe.EventInvoicePaymentFailed:
		return s.handleInvoiceFailed(ctx, event)
	case stripe.EventCheckoutSessionExpired:
		// An abandoned session never created rows; nothing to reconcile.
		s.log.Info("checkout session expired",
			zap.String("session_id", event.CheckoutSession.ID))
		return nil
	default:
		s.log.Info("unhandled webhook event type", zap.String("event_type", string(event.Kind)))
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	session := event.CheckoutSession
	meta := session.Metadata

	if meta.UserID == "" || meta.UnitID == "" {
		// Sessions created outside the checkout flow (dashboard tests,
		// misconfigured integrations) carry no correlation metadata.
		s.log.Warn("checkout session missing correlation metadata, skipping",
			zap.String("session_id", session.ID))
		return nil
	}

	if meta.PaymentType == string(rentaldomain.PaymentTypeSubscription) {
		return s.createSubscriptionRental(ctx, session)
	}
	return s.createSingleRental(ctx, session)
}

func (s *Service) createSubscriptionRental(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.Subscription == "" {
		// A subscription-mode session without a subscription reference is a
		// provider/integration inconsistency; propagate so delivery retries.
		return fmt.Errorf("%w: session %s", ErrMissingSubscription, session.ID)
	}

	paymentIntentID, invoiceID, err := s.lookupFirstInvoice(ctx, session.Subscription)
	if err != nil {
		return err
	}

	policy := s.policy.Get()
	now := s.clock.Now()
	endDate := now.AddDate(0, 1, 0)
	nextPayment := now.AddDate(0, 0, policy.NextPaymentGraceDays)
	subStatus := rentaldomain.SubscriptionStatusActive

	rental := &rentaldomain.Rental{
		ID:                      s.genID.Generate(),
		UserID:                  session.Metadata.UserID,
		UnitID:                  session.Metadata.UnitID,
		StartDate:               now,
		EndDate:                 endDate,
		Price:                   session.Metadata.UnitPrice,
		Status:                  rentaldomain.RentalStatusActive,
		PaymentType:             rentaldomain.PaymentTypeSubscription,
		SubscriptionStatus:      &subStatus,
		StripeSubscriptionID:    &session.Subscription,
		StripeCheckoutSessionID: session.ID,
		MonthsPaid:              1,
		NextPaymentDate:         &nextPayment,
		AccessCode:              s.generateAccessCode(policy.AccessCodeDigits),
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	payment := &paymentdomain.Payment{
		ID:                    s.genID.Generate(),
		RentalID:              rental.ID,
		StripePaymentIntentID: optional(paymentIntentID),
		StripeInvoiceID:       optional(invoiceID),
		Status:                paymentdomain.PaymentStatusSucceeded,
		PaymentDate:           now,
		PaymentMethod:         "card",
		PaymentType:           string(rentaldomain.PaymentTypeSubscription),
		StripeSubscriptionID:  &session.Subscription,
		BillingCycleStart:     &rental.StartDate,
		BillingCycleEnd:       &rental.EndDate,
		IsSubscriptionActive:  true,
		NextBillingDate:       &nextPayment,
		MonthsPaid:            1,
		UnitPrice:             session.Metadata.UnitPrice,
		TotalAmount:           session.Metadata.TotalPrice,
		CreatedAt:             now,
	}

	return s.persistNewRental(ctx, rental, payment, session)
}

func (s *Service) createSingleRental(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.PaymentIntent == "" {
		return fmt.Errorf("%w: session %s", ErrMissingPaymentIntent, session.ID)
	}

	policy := s.policy.Get()
	months := session.Metadata.Months
	if months < 1 {
		months = policy.DefaultTermMonths
	}

	now := s.clock.Now()
	endDate := now.AddDate(0, months, 0)

	rental := &rentaldomain.Rental{
		ID:                      s.genID.Generate(),
		UserID:                  session.Metadata.UserID,
		UnitID:                  session.Metadata.UnitID,
		StartDate:               now,
		EndDate:                 endDate,
		Price:                   session.Metadata.UnitPrice,
		Status:                  rentaldomain.RentalStatusActive,
		PaymentType:             rentaldomain.PaymentTypeSingle,
		StripeCheckoutSessionID: session.ID,
		MonthsPaid:              months,
		AccessCode:              s.generateAccessCode(policy.AccessCodeDigits),
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	payment := &paymentdomain.Payment{
		ID:                    s.genID.Generate(),
		RentalID:              rental.ID,
		StripePaymentIntentID: &session.PaymentIntent,
		Status:                paymentdomain.PaymentStatusSucceeded,
		PaymentDate:           now,
		PaymentMethod:         "card",
		PaymentType:           string(rentaldomain.PaymentTypeSingle),
		BillingCycleStart:     &rental.StartDate,
		BillingCycleEnd:       &rental.EndDate,
		MonthsPaid:            months,
		UnitPrice:             session.Metadata.UnitPrice,
		TotalAmount:           session.Metadata.TotalPrice,
		CreatedAt:             now,
	}

	return s.persistNewRental(ctx, rental, payment, session)
}

func (s *Service) persistNewRental(
	ctx context.Context,
	rental *rentaldomain.Rental,
	payment *paymentdomain.Payment,
	session *stripe.CheckoutSession,
) error {
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.rentalRepo.Insert(ctx, tx, rental)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if _, err := s.paymentRepo.Insert(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.unitRepo.Occupy(ctx, tx, rental.UnitID); err != nil {
			if errors.Is(err, unitdomain.ErrOccupyConflict) {
				// The availability check in checkout-session creation raced
				// with another completion, or the unit was flipped out of
				// band. The rental stays; surface the conflict for followup.
				s.log.Error("unit occupy conflict",
					zap.String("unit_id", rental.UnitID),
					zap.Int64("rental_id", int64(rental.ID)))
				s.obsMetrics.RecordOccupyConflict()
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !inserted {
		existing, err := s.rentalRepo.FindByCheckoutSessionID(ctx, s.db, rental.StripeCheckoutSessionID)
		if err != nil {
			return err
		}
		fields := []zap.Field{zap.String("session_id", rental.StripeCheckoutSessionID)}
		if existing != nil {
			fields = append(fields, zap.Int64("rental_id", int64(existing.ID)))
		}
		s.log.Info("rental already exists for checkout session, skipping", fields...)
		return nil
	}

	s.notifyRentalConfirmed(rental, session)
	return nil
}

// lookupFirstInvoice fetches the subscription's latest invoice and its
// payment intent. A failed lookup aborts checkout processing: without the
// invoice id on the first payment row, the first cycle's
// invoice.payment_succeeded would book a month the customer did not pay for.
// Rental creation is conflict-guarded, so the provider's retry is safe.
func (s *Service) lookupFirstInvoice(ctx context.Context, subscriptionID string) (string, string, error) {
	sub, err := s.stripeAPI.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", "", fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	if sub.LatestInvoice == "" {
		return "", "", nil
	}
	invoice, err := s.stripeAPI.GetInvoice(ctx, sub.LatestInvoice)
	if err != nil {
		return "", "", fmt.Errorf("retrieve invoice %s: %w", sub.LatestInvoice, err)
	}
	return invoice.PaymentIntent, invoice.ID, nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	invoice := event.Invoice
	if invoice.Subscription == "" {
		// One-off invoices are not renewals.
		s.log.Info("invoice without subscription reference, skipping",
			zap.String("invoice_id", invoice.ID))
		return nil
	}

	// The first invoice of a new subscription is booked by the checkout
	// handler; it records the invoice id on the first payment row.
	existing, err := s.paymentRepo.FindByInvoiceID(ctx, s.db, invoice.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		s.log.Info("invoice already booked, skipping",
			zap.String("invoice_id", invoice.ID))
		return nil
	}

	rental, err := s.rentalRepo.FindBySubscriptionID(ctx, s.db, invoice.Subscription)
	if err != nil {
		return err
	}
	if rental == nil {
		// Delivery order is not guaranteed; checkout.session.completed may
		// still be in flight. Acknowledge and let the provider's next invoice
		// find the rental.
		s.log.Info("no rental for subscription yet, skipping renewal",
			zap.String("subscription_id", invoice.Subscription))
		return nil
	}

	state := rentaldomain.CurrentState(rental)
	if _, ok := rentaldomain.Step(state, rentaldomain.TransitionRenewalPaid); !ok {
		s.log.Warn("renewal event on rental in illegal state, not applied",
			zap.String("subscription_id", invoice.Subscription),
			zap.String("state", string(state)))
		return nil
	}

	// Extend from the current end date, not from now, so late deliveries
	// still produce contiguous coverage.
	policy := s.policy.Get()
	newEnd := rental.EndDate.AddDate(0, 1, 0)
	nextPayment := newEnd.AddDate(0, 0, policy.NextPaymentGraceDays)
	monthsPaid := rental.MonthsPaid + 1

	payment := &paymentdomain.Payment{
		ID:                    s.genID.Generate(),
		RentalID:              rental.ID,
		StripePaymentIntentID: optional(invoice.PaymentIntent),
		StripeInvoiceID:       &invoice.ID,
		Status:                paymentdomain.PaymentStatusSucceeded,
		PaymentDate:           s.clock.Now(),
		PaymentMethod:         "card",
		PaymentType:           string(rentaldomain.PaymentTypeSubscription),
		StripeSubscriptionID:  &invoice.Subscription,
		BillingCycleStart:     &rental.EndDate,
		BillingCycleEnd:       &newEnd,
		IsSubscriptionActive:  true,
		NextBillingDate:       &nextPayment,
		MonthsPaid:            monthsPaid,
		UnitPrice:             rental.Price,
		TotalAmount:           invoice.AmountPaid,
		CreatedAt:             s.clock.Now(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.paymentRepo.Insert(ctx, tx, payment)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				inserted = false
			} else {
				return err
			}
		}
		if !inserted {
			s.log.Info("renewal already booked for billing cycle, skipping",
				zap.String("subscription_id", invoice.Subscription),
				zap.Time("billing_cycle_end", newEnd))
			return nil
		}
		return s.rentalRepo.ExtendTerm(ctx, tx, rental.ID, newEnd, monthsPaid, &nextPayment)
	})
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	subscription := event.Subscription

	rental, err := s.rentalRepo.FindBySubscriptionID(ctx, s.db, subscription.ID)
	if err != nil {
		return err
	}
	if rental == nil {
		s.log.Info("no rental for deleted subscription, skipping",
			zap.String("subscription_id", subscription.ID))
		return nil
	}

	if rental.SubscriptionStatus != nil && *rental.SubscriptionStatus == rentaldomain.SubscriptionStatusCancelled {
		return nil
	}

	state := rentaldomain.CurrentState(rental)
	if _, ok := rentaldomain.Step(state, rentaldomain.TransitionSubscriptionDeleted); !ok {
		s.log.Warn("subscription deletion on rental in illegal state, not applied",
			zap.String("subscription_id", subscription.ID),
			zap.String("state", string(state)))
		return nil
	}

	// Paid-through access survives cancellation: end_date and rental status
	// stay untouched, the expiry sweep flips status once the term lapses.
	return s.rentalRepo.SetSubscriptionStatus(ctx, s.db, rental.ID, rentaldomain.SubscriptionStatusCancelled, nil)
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event *stripe.Event) error {
	invoice := event.Invoice
	if invoice.Subscription == "" {
		s.log.Info("failed invoice without subscription reference, skipping",
			zap.String("invoice_id", invoice.ID))
		return nil
	}

	rental, err := s.rentalRepo.FindBySubscriptionID(ctx, s.db, invoice.Subscription)
	if err != nil {
		return err
	}
	if rental == nil || rental.PaymentType != rentaldomain.PaymentTypeSubscription {
		s.log.Info("no subscription rental for failed invoice, skipping",
			zap.String("subscription_id", invoice.Subscription))
		return nil
	}

	if rental.SubscriptionStatus != nil && *rental.SubscriptionStatus == rentaldomain.SubscriptionStatusPastDue {
		return nil
	}

	state := rentaldomain.CurrentState(rental)
	if _, ok := rentaldomain.Step(state, rentaldomain.TransitionRenewalFailed); !ok {
		s.log.Warn("renewal failure on rental in illegal state, not applied",
			zap.String("subscription_id", invoice.Subscription),
			zap.String("state", string(state)))
		return nil
	}

	// No payment row is written for a failed attempt.
	return s.rentalRepo.SetSubscriptionStatus(ctx, s.db, rental.ID, rentaldomain.SubscriptionStatusPastDue, rental.NextPaymentDate)
}

func (s *Service) notifyRentalConfirmed(rental *rentaldomain.Rental, session *stripe.CheckoutSession) {
	if s.dispatcher == nil {
		return
	}
	if session.CustomerPhone == "" {
		s.log.Info("no phone on checkout session, skipping confirmation",
			zap.String("session_id", session.ID))
		return
	}
	s.dispatcher.Enqueue(notify.Message{
		To: session.CustomerPhone,
		Body: fmt.Sprintf("Your storage unit %s is ready. Access code: %s",
			rental.UnitID, rental.AccessCode),
	})
}

func (s *Service) generateAccessCode(digits int) string {
	if digits < 4 {
		digits = 4
	}
	max := 1
	for i := 0; i < digits; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", digits, rand.IntN(max))
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

var Module = fx.Module("reconcile",
	fx.Provide(ProvideEventRepository),
	fx.Provide(NewVerifierFromConfig),
	fx.Provide(NewService),
)
