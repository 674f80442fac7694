package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APISubscription mirrors the provider fields the engine reads back when a
// session-level event needs subscription detail.
type APISubscription struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	LatestInvoice string `json:"latest_invoice"`
}

// APIInvoice mirrors the provider invoice fields used for renewal bookkeeping
// and invoice downloads.
type APIInvoice struct {
	ID               string `json:"id"`
	Subscription     string `json:"subscription"`
	PaymentIntent    string `json:"payment_intent"`
	Number           string `json:"number"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
	AmountPaid       int64  `json:"amount_paid"`
}

// APICheckoutSession is the created provider session for checkout initiation.
type APICheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type apiInvoiceList struct {
	Data []APIInvoice `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a thin form-encoded client over the provider REST API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: "https://api.stripe.com",
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

// WithBaseURL points the client at a test server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (APISubscription, error) {
	var out APISubscription
	err := c.doRequest(ctx, http.MethodGet, "/v1/subscriptions/"+subscriptionID, nil, "", &out)
	if err != nil {
		return APISubscription{}, err
	}
	if out.ID == "" {
		return APISubscription{}, errors.New("stripe_response_invalid")
	}
	return out, nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (APIInvoice, error) {
	var out APIInvoice
	err := c.doRequest(ctx, http.MethodGet, "/v1/invoices/"+invoiceID, nil, "", &out)
	if err != nil {
		return APIInvoice{}, err
	}
	if out.ID == "" {
		return APIInvoice{}, errors.New("stripe_response_invalid")
	}
	return out, nil
}

// FindInvoiceByPaymentIntent resolves the invoice behind a payment intent by
// searching recent invoices for the subscription.
func (c *Client) FindInvoiceByPaymentIntent(ctx context.Context, subscriptionID string, paymentIntentID string) (APIInvoice, error) {
	values := url.Values{}
	values.Set("subscription", subscriptionID)
	values.Set("limit", "100")

	var list apiInvoiceList
	err := c.doRequest(ctx, http.MethodGet, "/v1/invoices?"+values.Encode(), nil, "", &list)
	if err != nil {
		return APIInvoice{}, err
	}
	for _, invoice := range list.Data {
		if invoice.PaymentIntent == paymentIntentID {
			return invoice, nil
		}
	}
	return APIInvoice{}, errors.New("invoice_not_found")
}

type CreateCheckoutSessionParams struct {
	Mode           string
	SuccessURL     string
	CancelURL      string
	PriceAmount    int64
	ProductName    string
	Quantity       int
	Recurring      bool
	Metadata       map[string]string
	IdempotencyKey string
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (APICheckoutSession, error) {
	values := url.Values{}
	values.Set("mode", params.Mode)
	values.Set("success_url", params.SuccessURL)
	values.Set("cancel_url", params.CancelURL)
	values.Set("line_items[0][quantity]", strconv.Itoa(params.Quantity))
	values.Set("line_items[0][price_data][currency]", "usd")
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.PriceAmount, 10))
	values.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	if params.Recurring {
		values.Set("line_items[0][price_data][recurring][interval]", "month")
	}
	for key, value := range params.Metadata {
		values.Set("metadata["+key+"]", value)
	}

	var out APICheckoutSession
	err := c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values, params.IdempotencyKey, &out)
	if err != nil {
		return APICheckoutSession{}, err
	}
	if out.ID == "" || out.URL == "" {
		return APICheckoutSession{}, errors.New("stripe_response_invalid")
	}
	return out, nil
}

func (c *Client) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	if c.apiKey == "" {
		return ErrInvalidConfig
	}
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return errors.New("stripe_request_failed")
		}
		message := strings.TrimSpace(apiErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return errors.New(message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
