package melhorenvio

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
	defaultBaseURL              = "https://melhorenvio.com.br/api/v2"
	responseBodyReadLimit int64 = 2048
)

var errTokenRequired = errors.New("melhor envio token is required")

// Client wraps the Melhor Envio shipping APIs: quote, cart, checkout and labels.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	userAgent      string
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

// NewClient builds the Melhor Envio client from configuration.
func NewClient(cfg config.MelhorEnvioConfig, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errTokenRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	client := &Client{
		token:          token,
		userAgent:      strings.TrimSpace(cfg.UserAgent),
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
		client.retryBaseDelay = 500 * time.Millisecond
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// QuoteRequest asks for rated services between two CEPs for one package.
type QuoteRequest struct {
	FromCEP string
	ToCEP   string
	Package Package
}

// ServiceQuote is one rated shipping service.
type ServiceQuote struct {
	ServiceID    int
	ServiceName  string
	Carrier      string
	Price        decimal.Decimal
	DeliveryDays int
}

// Recipient identifies the shipment destination.
type Recipient struct {
	Name     string
	Email    string
	Document string
	Street   string
	Number   string
	District string
	City     string
	State    string
	CEP      string
}

// CartRequest registers a shipment in the Melhor Envio cart.
type CartRequest struct {
	ServiceID      int
	FromCEP        string
	To             Recipient
	Package        Package
	InsuranceValue decimal.Decimal
	Reference      string
}

// CartEntry is the provider-side shipment created from a cart request.
type CartEntry struct {
	ID       string
	Protocol string
	Status   string
	Price    decimal.Decimal
}

// Quote returns the rated services for the request, skipping services the
// provider flags as unavailable.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) ([]ServiceQuote, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "melhor envio client not configured")
	}
	fromCEP, err := NormalizeCEP(req.FromCEP)
	if err != nil {
		return nil, err
	}
	toCEP, err := NormalizeCEP(req.ToCEP)
	if err != nil {
		return nil, err
	}
	pkg, err := req.Package.normalized()
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"from": map[string]string{"postal_code": fromCEP},
		"to":   map[string]string{"postal_code": toCEP},
		"package": map[string]any{
			"weight": pkg.WeightKg.InexactFloat64(),
			"length": pkg.LengthCm,
			"height": pkg.HeightCm,
			"width":  pkg.WidthCm,
		},
	}

	var apiResp []struct {
		ID           int             `json:"id"`
		Name         string          `json:"name"`
		Price        decimal.Decimal `json:"price"`
		DeliveryTime int             `json:"delivery_time"`
		Company      struct {
			Name string `json:"name"`
		} `json:"company"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/shipment/calculate", payload, &apiResp); err != nil {
		return nil, err
	}

	quotes := make([]ServiceQuote, 0, len(apiResp))
	for _, svc := range apiResp {
		if svc.Error != "" {
			continue
		}
		quotes = append(quotes, ServiceQuote{
			ServiceID:    svc.ID,
			ServiceName:  svc.Name,
			Carrier:      svc.Company.Name,
			Price:        svc.Price,
			DeliveryDays: svc.DeliveryTime,
		})
	}
	return quotes, nil
}

// CreateCart registers the shipment and returns the provider IDs that anchor
// every later step.
func (c *Client) CreateCart(ctx context.Context, req CartRequest) (*CartEntry, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "melhor envio client not configured")
	}
	if req.ServiceID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service ID must be positive")
	}
	fromCEP, err := NormalizeCEP(req.FromCEP)
	if err != nil {
		return nil, err
	}
	toCEP, err := NormalizeCEP(req.To.CEP)
	if err != nil {
		return nil, err
	}
	pkg, err := req.Package.normalized()
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"service": req.ServiceID,
		"from":    map[string]string{"postal_code": fromCEP},
		"to": map[string]any{
			"name":        req.To.Name,
			"email":       req.To.Email,
			"document":    req.To.Document,
			"address":     req.To.Street,
			"number":      req.To.Number,
			"district":    req.To.District,
			"city":        req.To.City,
			"state_abbr":  req.To.State,
			"postal_code": toCEP,
		},
		"volumes": []map[string]any{{
			"weight": pkg.WeightKg.InexactFloat64(),
			"length": pkg.LengthCm,
			"height": pkg.HeightCm,
			"width":  pkg.WidthCm,
		}},
		"options": map[string]any{
			"insurance_value": req.InsuranceValue.InexactFloat64(),
			"receipt":         false,
			"own_hand":        false,
			"reverse":         false,
			"non_commercial":  true,
		},
	}
	if req.Reference != "" {
		payload["options"].(map[string]any)["tags"] = []map[string]string{{"tag": req.Reference}}
	}

	var apiResp struct {
		ID       string          `json:"id"`
		Protocol string          `json:"protocol"`
		Status   string          `json:"status"`
		Price    decimal.Decimal `json:"price"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/cart", payload, &apiResp); err != nil {
		return nil, err
	}

	return &CartEntry{
		ID:       apiResp.ID,
		Protocol: apiResp.Protocol,
		Status:   apiResp.Status,
		Price:    apiResp.Price,
	}, nil
}

// Purchase pays for the cart entries identified by shipment IDs.
func (c *Client) Purchase(ctx context.Context, shipmentIDs ...string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "melhor envio client not configured")
	}
	if len(shipmentIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one shipment ID is required")
	}
	payload := map[string]any{"orders": shipmentIDs}
	return c.doJSON(ctx, http.MethodPost, "/me/shipment/checkout", payload, nil)
}

// GenerateLabel asks the provider to render the labels for purchased shipments.
func (c *Client) GenerateLabel(ctx context.Context, shipmentIDs ...string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "melhor envio client not configured")
	}
	if len(shipmentIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one shipment ID is required")
	}
	payload := map[string]any{"orders": shipmentIDs}
	return c.doJSON(ctx, http.MethodPost, "/me/shipment/generate", payload, nil)
}

// PrintLabel returns the printable URL for generated labels.
func (c *Client) PrintLabel(ctx context.Context, shipmentIDs ...string) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "melhor envio client not configured")
	}
	if len(shipmentIDs) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "at least one shipment ID is required")
	}

	payload := map[string]any{"mode": "private", "orders": shipmentIDs}
	var apiResp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/shipment/print", payload, &apiResp); err != nil {
		return "", err
	}
	if apiResp.URL == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "label print returned no url")
	}
	return apiResp.URL, nil
}

// doJSON executes one JSON round trip with the configured retry policy.
// Network failures and 5xx responses are retried; 4xx responses are not.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal melhor envio request")
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
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build melhor envio request")
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
		httpReq.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute melhor envio request"))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= http.StatusInternalServerError {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
			return retry.RetryableError(pkgerrors.Wrap(
				pkgerrors.CodeDependency,
				fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
				"melhor envio request failed",
			))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
			return pkgerrors.Wrap(
				pkgerrors.CodeDependency,
				fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
				"melhor envio request rejected",
			)
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode melhor envio response")
		}
		return nil
	})
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
