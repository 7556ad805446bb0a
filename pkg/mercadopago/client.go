package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/negomaq/storefront-backend/pkg/config"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mercadopago.com"
	responseBodyReadLimit int64 = 2048
)

var errTokenRequired = errors.New("mercado pago access token is required")

// Client wraps the Mercado Pago REST APIs used for Checkout Pro.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	accessToken    string
	maxAttempts    int
	retryBaseDelay time.Duration
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

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Mercado Pago client from configuration.
func NewClient(cfg config.MercadoPagoConfig, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errTokenRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		accessToken:    token,
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: timeout},
		maxAttempts:    cfg.MaxAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}
	if client.maxAttempts <= 0 {
		client.maxAttempts = 3
	}
	if client.retryBaseDelay <= 0 {
		client.retryBaseDelay = 250 * time.Millisecond
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// PreferenceItem is one purchasable line inside a checkout preference.
type PreferenceItem struct {
	ID         string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	CurrencyID string
}

// PreferencePayer identifies the paying customer.
type PreferencePayer struct {
	Name  string
	Email string
}

// BackURLs are the redirect targets after checkout completes.
type BackURLs struct {
	Success string `json:"success,omitempty"`
	Pending string `json:"pending,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// PreferenceRequest describes the checkout preference to create.
type PreferenceRequest struct {
	Items             []PreferenceItem
	Payer             PreferencePayer
	BackURLs          BackURLs
	ExternalReference string
	NotificationURL   string
	AutoReturn        string
}

// Preference is the created checkout preference.
type Preference struct {
	ID               string
	InitPoint        string
	SandboxInitPoint string
}

// Payment is the provider's view of one payment attempt.
type Payment struct {
	ID                int64
	Status            string
	StatusDetail      string
	ExternalReference string
	TransactionAmount decimal.Decimal
}

// MerchantOrderPayment is the payment summary nested in a merchant order.
type MerchantOrderPayment struct {
	ID     int64
	Status string
}

// MerchantOrder groups the payments made against one preference.
type MerchantOrder struct {
	ID                int64
	ExternalReference string
	OrderStatus       string
	Payments          []MerchantOrderPayment
}

// Refund is the provider's record of a (partial) refund.
type Refund struct {
	ID     int64
	Status string
	Amount decimal.Decimal
}

// CreatePreference registers a Checkout Pro preference and returns its init points.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference requires at least one item")
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	type wireItem struct {
		ID         string  `json:"id,omitempty"`
		Title      string  `json:"title"`
		Quantity   int     `json:"quantity"`
		UnitPrice  float64 `json:"unit_price"`
		CurrencyID string  `json:"currency_id,omitempty"`
	}
	items := make([]wireItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference item quantity must be positive")
		}
		items = append(items, wireItem{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.InexactFloat64(),
			CurrencyID: item.CurrencyID,
		})
	}

	payload := map[string]any{
		"items":              items,
		"external_reference": req.ExternalReference,
	}
	if req.Payer.Email != "" {
		payload["payer"] = map[string]string{"name": req.Payer.Name, "email": req.Payer.Email}
	}
	if req.BackURLs != (BackURLs{}) {
		payload["back_urls"] = req.BackURLs
	}
	if req.NotificationURL != "" {
		payload["notification_url"] = req.NotificationURL
	}
	if req.AutoReturn != "" {
		payload["auto_return"] = req.AutoReturn
	}

	var apiResp struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/checkout/preferences", payload, &apiResp); err != nil {
		return nil, err
	}

	return &Preference{
		ID:               apiResp.ID,
		InitPoint:        apiResp.InitPoint,
		SandboxInitPoint: apiResp.SandboxInitPoint,
	}, nil
}

// GetPayment fetches the current state of a payment by provider ID.
func (c *Client) GetPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if paymentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment ID must be positive")
	}

	var apiResp struct {
		ID                int64   `json:"id"`
		Status            string  `json:"status"`
		StatusDetail      string  `json:"status_detail"`
		ExternalReference string  `json:"external_reference"`
		TransactionAmount float64 `json:"transaction_amount"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/payments/%d", paymentID), nil, &apiResp); err != nil {
		return nil, err
	}

	return &Payment{
		ID:                apiResp.ID,
		Status:            apiResp.Status,
		StatusDetail:      apiResp.StatusDetail,
		ExternalReference: apiResp.ExternalReference,
		TransactionAmount: decimal.NewFromFloat(apiResp.TransactionAmount),
	}, nil
}

// GetMerchantOrder fetches a merchant order and its payment summaries.
func (c *Client) GetMerchantOrder(ctx context.Context, merchantOrderID int64) (*MerchantOrder, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if merchantOrderID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant order ID must be positive")
	}

	var apiResp struct {
		ID                int64  `json:"id"`
		ExternalReference string `json:"external_reference"`
		OrderStatus       string `json:"order_status"`
		Payments          []struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"payments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/merchant_orders/%d", merchantOrderID), nil, &apiResp); err != nil {
		return nil, err
	}

	order := &MerchantOrder{
		ID:                apiResp.ID,
		ExternalReference: apiResp.ExternalReference,
		OrderStatus:       apiResp.OrderStatus,
	}
	for _, p := range apiResp.Payments {
		order.Payments = append(order.Payments, MerchantOrderPayment{ID: p.ID, Status: p.Status})
	}
	return order, nil
}

// RefundPayment refunds a payment. A nil amount refunds the full value.
func (c *Client) RefundPayment(ctx context.Context, paymentID int64, amount *decimal.Decimal) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if paymentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment ID must be positive")
	}

	var payload any
	if amount != nil {
		if amount.LessThanOrEqual(decimal.Zero) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
		}
		payload = map[string]float64{"amount": amount.InexactFloat64()}
	}

	var apiResp struct {
		ID     int64   `json:"id"`
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
	}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/payments/%d/refunds", paymentID), payload, &apiResp); err != nil {
		return nil, err
	}

	return &Refund{
		ID:     apiResp.ID,
		Status: apiResp.Status,
		Amount: decimal.NewFromFloat(apiResp.Amount),
	}, nil
}

// doJSON executes one JSON round trip with the configured retry policy.
// Network failures and 5xx responses are retried; 4xx responses are not.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal mercado pago request")
		}
		body = encoded
	}

	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.retryBaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build mercado pago request")
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute mercado pago request"))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= http.StatusInternalServerError {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
			return retry.RetryableError(pkgerrors.Wrap(
				pkgerrors.CodeDependency,
				fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
				"mercado pago request failed",
			))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
			return pkgerrors.Wrap(
				pkgerrors.CodeDependency,
				fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
				"mercado pago request rejected",
			)
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode mercado pago response")
		}
		return nil
	})
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
