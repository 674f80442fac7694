package stripe

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventKind enumerates the provider event types the engine recognizes.
type EventKind string

const (
	EventCheckoutSessionCompleted EventKind = "checkout.session.completed"
	EventCheckoutSessionExpired   EventKind = "checkout.session.expired"
	EventInvoicePaymentSucceeded  EventKind = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     EventKind = "invoice.payment_failed"
	EventSubscriptionDeleted      EventKind = "customer.subscription.deleted"
	EventPaymentIntentSucceeded   EventKind = "payment_intent.succeeded"
)

// SessionMetadata is the typed view of the string-valued metadata bag the
// checkout flow embeds on the session. UserID and UnitID are the minimum
// correlation fields; everything else has a sane zero value.
type SessionMetadata struct {
	UserID            string
	UnitID            string
	PaymentType       string
	Months            int
	UnitPrice         int64
	TotalPrice        int64
	UnitSize          string
	Insurance         bool
	InsurancePrice    int64
	InsuranceCoverage string
}

// CheckoutSession is the data.object of checkout.session.* events.
type CheckoutSession struct {
	ID            string
	PaymentIntent string
	Subscription  string
	CustomerEmail string
	CustomerPhone string
	AmountTotal   int64
	Metadata      SessionMetadata
}

// Invoice is the data.object of invoice.* events.
type Invoice struct {
	ID               string
	Subscription     string
	PaymentIntent    string
	AmountPaid       int64
	Number           string
	HostedInvoiceURL string
	InvoicePDF       string
	PeriodStart      time.Time
	PeriodEnd        time.Time
}

// Subscription is the data.object of customer.subscription.* events.
type Subscription struct {
	ID               string
	Status           string
	LatestInvoice    string
	CurrentPeriodEnd time.Time
}

// Event is the verified, typed webhook envelope. Exactly one of the object
// fields is non-nil, matching Kind.
type Event struct {
	ID      string
	Kind    EventKind
	Created time.Time

	CheckoutSession *CheckoutSession
	Invoice         *Invoice
	Subscription    *Subscription
}

type rawEvent struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Created int64        `json:"created"`
	Data    rawEventData `json:"data"`
}

type rawEventData struct {
	Object json.RawMessage `json:"object"`
}

type rawCheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Subscription  string            `json:"subscription"`
	AmountTotal   int64             `json:"amount_total"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
}

type rawInvoice struct {
	ID               string `json:"id"`
	Subscription     string `json:"subscription"`
	PaymentIntent    string `json:"payment_intent"`
	AmountPaid       int64  `json:"amount_paid"`
	Number           string `json:"number"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
	PeriodStart      int64  `json:"period_start"`
	PeriodEnd        int64  `json:"period_end"`
}

type rawSubscription struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	LatestInvoice    string `json:"latest_invoice"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// ParseEvent decodes a verified payload into a typed event. Event types the
// engine does not act on return ErrEventIgnored so the caller can acknowledge
// without processing.
func ParseEvent(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}

	event := &Event{
		ID:      raw.ID,
		Created: timestamp(raw.Created),
	}

	switch EventKind(strings.TrimSpace(raw.Type)) {
	case EventCheckoutSessionCompleted:
		event.Kind = EventCheckoutSessionCompleted
		return parseCheckoutSession(event, raw.Data.Object)
	case EventCheckoutSessionExpired:
		event.Kind = EventCheckoutSessionExpired
		return parseCheckoutSession(event, raw.Data.Object)
	case EventInvoicePaymentSucceeded:
		event.Kind = EventInvoicePaymentSucceeded
		return parseInvoice(event, raw.Data.Object)
	case EventInvoicePaymentFailed:
		event.Kind = EventInvoicePaymentFailed
		return parseInvoice(event, raw.Data.Object)
	case EventSubscriptionDeleted:
		event.Kind = EventSubscriptionDeleted
		return parseSubscription(event, raw.Data.Object)
	case EventPaymentIntentSucceeded:
		// Fires before the session settles and carries no correlation
		// metadata; checkout.session.completed is the single trigger for
		// rental creation.
		event.Kind = EventPaymentIntentSucceeded
		return event, ErrEventIgnored
	default:
		return nil, ErrEventIgnored
	}
}

func parseCheckoutSession(event *Event, object json.RawMessage) (*Event, error) {
	var raw rawCheckoutSession
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}
	event.CheckoutSession = &CheckoutSession{
		ID:            raw.ID,
		PaymentIntent: strings.TrimSpace(raw.PaymentIntent),
		Subscription:  strings.TrimSpace(raw.Subscription),
		CustomerEmail: firstNonEmpty(raw.CustomerDetails.Email, raw.CustomerEmail),
		CustomerPhone: strings.TrimSpace(raw.CustomerDetails.Phone),
		AmountTotal:   raw.AmountTotal,
		Metadata:      parseSessionMetadata(raw.Metadata),
	}
	return event, nil
}

func parseInvoice(event *Event, object json.RawMessage) (*Event, error) {
	var raw rawInvoice
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}
	event.Invoice = &Invoice{
		ID:               raw.ID,
		Subscription:     strings.TrimSpace(raw.Subscription),
		PaymentIntent:    strings.TrimSpace(raw.PaymentIntent),
		AmountPaid:       raw.AmountPaid,
		Number:           strings.TrimSpace(raw.Number),
		HostedInvoiceURL: strings.TrimSpace(raw.HostedInvoiceURL),
		InvoicePDF:       strings.TrimSpace(raw.InvoicePDF),
		PeriodStart:      timestamp(raw.PeriodStart),
		PeriodEnd:        timestamp(raw.PeriodEnd),
	}
	return event, nil
}

func parseSubscription(event *Event, object json.RawMessage) (*Event, error) {
	var raw rawSubscription
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}
	event.Subscription = &Subscription{
		ID:               raw.ID,
		Status:           strings.TrimSpace(raw.Status),
		LatestInvoice:    strings.TrimSpace(raw.LatestInvoice),
		CurrentPeriodEnd: timestamp(raw.CurrentPeriodEnd),
	}
	return event, nil
}

func parseSessionMetadata(metadata map[string]string) SessionMetadata {
	return SessionMetadata{
		UserID:            readMetadataValue(metadata, "userId"),
		UnitID:            readMetadataValue(metadata, "unitId"),
		PaymentType:       readMetadataValue(metadata, "paymentType"),
		Months:            int(readMetadataInt(metadata, "months")),
		UnitPrice:         readMetadataInt(metadata, "unitPrice"),
		TotalPrice:        readMetadataInt(metadata, "totalPrice"),
		UnitSize:          readMetadataValue(metadata, "unitSize"),
		Insurance:         readMetadataValue(metadata, "insurance") == "true",
		InsurancePrice:    readMetadataInt(metadata, "insurancePrice"),
		InsuranceCoverage: readMetadataValue(metadata, "insuranceCoverage"),
	}
}

func readMetadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

func readMetadataInt(metadata map[string]string, key string) int64 {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
