package mail

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

	"github.com/negomaq/storefront-backend/pkg/config"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.sendgrid.com"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("mail api key is required")

// Message is one transactional email.
type Message struct {
	To       string
	Subject  string
	TextBody string
}

// Sender is the surface consumed by the notifications service.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client sends mail through the SendGrid v3 API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	from       string
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

// NewClient builds the mail client from configuration.
func NewClient(cfg config.MailConfig, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("mail default from address is required")
	}

	client := &Client{
		apiKey:     apiKey,
		from:       strings.TrimSpace(cfg.DefaultFrom),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// Send delivers a single plain-text email.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "mail client not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient address is required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subject is required")
	}

	payload := map[string]any{
		"personalizations": []map[string]any{{
			"to": []map[string]string{{"email": msg.To}},
		}},
		"from":    map[string]string{"email": c.from},
		"subject": msg.Subject,
		"content": []map[string]string{{
			"type":  "text/plain",
			"value": msg.TextBody,
		}},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal mail request")
	}

	url := strings.TrimRight(c.baseURL, "/") + "/v3/mail/send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build mail request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute mail request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(
			pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"mail request failed",
		)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
