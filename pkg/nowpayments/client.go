// Package nowpayments is a client for the NOWPayments crypto payment API: invoices, payment
// status polling, currency discovery and IPN signature verification.
package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.nowpayments.io/v1"
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
	apiKeyHeader                = "x-api-key"
)

// ErrGatewayUnavailable marks transport failures and non-2xx responses. Callers must not assume
// funds moved when they see it.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

var errAPIKeyRequired = errors.New("nowpayments api key is required")

// Client talks to the NOWPayments REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	ipnSecret  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout bounds every outbound call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithIPNSecret sets the shared secret used to verify callbacks.
func WithIPNSecret(secret string) Option {
	return func(c *Client) {
		c.ipnSecret = strings.TrimSpace(secret)
	}
}

// NewClient builds the gateway client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if client.httpClient.Timeout <= 0 {
		client.httpClient.Timeout = defaultTimeout
	}

	return client, nil
}

// InvoiceRequest describes an invoice to create. OrderID is echoed back in callbacks and is
// used as the order-correlation token.
type InvoiceRequest struct {
	PriceAmount      decimal.Decimal `json:"price_amount"`
	PriceCurrency    string          `json:"price_currency"`
	PayCurrency      string          `json:"pay_currency,omitempty"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description,omitempty"`
	IPNCallbackURL   string          `json:"ipn_callback_url,omitempty"`
	SuccessURL       string          `json:"success_url,omitempty"`
	CancelURL        string          `json:"cancel_url,omitempty"`
	CustomerEmail    string          `json:"customer_email,omitempty"`
}

// MarshalJSON sends the amount as a JSON number, which is what the API expects.
func (r InvoiceRequest) MarshalJSON() ([]byte, error) {
	type wire InvoiceRequest
	return json.Marshal(struct {
		wire
		PriceAmount json.Number `json:"price_amount"`
	}{
		wire:        wire(r),
		PriceAmount: json.Number(r.PriceAmount.String()),
	})
}

// Invoice is the provider's representation of a requested payment.
type Invoice struct {
	ID            FlexibleID      `json:"id"`
	OrderID       string          `json:"order_id"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	PayCurrency   *string         `json:"pay_currency"`
	InvoiceURL    string          `json:"invoice_url"`
	CreatedAt     string          `json:"created_at"`
}

// CreateInvoice requests a hosted payment page. The pay currency may be left empty, in which case
// the payer chooses it on the provider's page.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "nowpayments client not configured")
	}
	if !req.PriceAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice amount must be positive")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice order id is required")
	}
	req.PriceCurrency = strings.ToLower(strings.TrimSpace(req.PriceCurrency))
	req.PayCurrency = strings.ToLower(strings.TrimSpace(req.PayCurrency))

	var invoice Invoice
	if err := c.do(ctx, http.MethodPost, "invoice", req, &invoice, "create invoice"); err != nil {
		return nil, err
	}
	if invoice.ID == "" || invoice.InvoiceURL == "" {
		return nil, gatewayError(errors.New("invoice response missing id or url"), "create invoice")
	}
	return &invoice, nil
}

// GetPaymentStatus polls the provider for the current state of a payment.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "nowpayments client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var status PaymentStatus
	if err := c.do(ctx, http.MethodGet, "payment/"+url.PathEscape(trimmed), nil, &status, "get payment status"); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListCurrencies returns the tickers the merchant account accepts.
func (c *Client) ListCurrencies(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "nowpayments client not configured")
	}
	var resp struct {
		Currencies []string `json:"currencies"`
	}
	if err := c.do(ctx, http.MethodGet, "currencies", nil, &resp, "list currencies"); err != nil {
		return nil, err
	}
	return resp.Currencies, nil
}

// GetMinimumAmount returns the smallest payable amount for a currency pair.
func (c *Client) GetMinimumAmount(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, "nowpayments client not configured")
	}
	q := url.Values{}
	q.Set("currency_from", strings.ToLower(strings.TrimSpace(from)))
	if to = strings.TrimSpace(to); to != "" {
		q.Set("currency_to", strings.ToLower(to))
	}
	var resp struct {
		MinAmount decimal.Decimal `json:"min_amount"`
	}
	if err := c.do(ctx, http.MethodGet, "min-amount?"+q.Encode(), nil, &resp, "get minimum amount"); err != nil {
		return decimal.Zero, err
	}
	return resp.MinAmount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, op string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gatewayError(err, op)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return gatewayError(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gatewayError(fmt.Errorf("decode response: %w", err), op)
	}
	return nil
}

func gatewayError(err error, op string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err), op+" request failed")
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
