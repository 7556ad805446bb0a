package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/negomaq/storefront-backend/internal/reconciliation"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/mercadopago"
	"github.com/negomaq/storefront-backend/pkg/redis"
)

const (
	providerName = "mercadopago"

	TopicPayment       = "payment"
	TopicMerchantOrder = "merchant_order"

	// dedupTTL covers the provider's retry window with margin.
	dedupTTL = 48 * time.Hour
)

// providerClient is the slice of the gateway client used to confirm
// notification payloads against the provider's API.
type providerClient interface {
	GetPayment(ctx context.Context, paymentID int64) (*mercadopago.Payment, error)
	GetMerchantOrder(ctx context.Context, merchantOrderID int64) (*mercadopago.MerchantOrder, error)
}

// Notification is one parsed provider callback.
type Notification struct {
	Topic      string
	ResourceID string
	EventID    string
}

// ParseNotification accepts both notification shapes Mercado Pago sends:
// IPN-style query parameters (topic + id) and webhook JSON bodies
// (type + data.id). The body wins when both are present.
func ParseNotification(query url.Values, body []byte) (Notification, error) {
	n := Notification{
		Topic:      strings.TrimSpace(query.Get("topic")),
		ResourceID: strings.TrimSpace(query.Get("id")),
	}
	if n.Topic == "" {
		n.Topic = strings.TrimSpace(query.Get("type"))
	}
	if n.ResourceID == "" {
		n.ResourceID = strings.TrimSpace(query.Get("data.id"))
	}

	if len(body) > 0 {
		var payload struct {
			ID   any    `json:"id"`
			Type string `json:"type"`
			Data struct {
				ID any `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			if payload.Type != "" {
				n.Topic = payload.Type
			}
			if id := anyToString(payload.Data.ID); id != "" {
				n.ResourceID = id
			}
			if n.EventID == "" {
				n.EventID = anyToString(payload.ID)
			}
		}
	}

	if n.Topic == "" || n.ResourceID == "" {
		return Notification{}, pkgerrors.New(pkgerrors.CodeValidation, "notification topic and resource id are required")
	}
	if n.EventID == "" {
		n.EventID = n.Topic + ":" + n.ResourceID
	}
	return n, nil
}

func anyToString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

// Service confirms provider notifications against the gateway API and feeds
// the result through the reconciliation engine. Deliveries are deduplicated
// in Redis; a failed handling releases the dedup key so the provider's retry
// gets another chance.
type Service struct {
	provider providerClient
	engine   reconciliation.Engine
	dedup    redis.IdempotencyStore
	log      *logger.Logger
}

// NewService builds the webhook service with the required dependencies.
func NewService(provider providerClient, engine reconciliation.Engine, dedup redis.IdempotencyStore, log *logger.Logger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	if dedup == nil {
		return nil, fmt.Errorf("dedup store required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{provider: provider, engine: engine, dedup: dedup, log: log}, nil
}

// Handle processes one notification. A nil return means the delivery was
// consumed and the provider should receive 200, including benign no-ops.
func (s *Service) Handle(ctx context.Context, n Notification) error {
	lctx := s.log.WithFields(ctx, map[string]any{
		"webhook_topic": n.Topic,
		"resource_id":   n.ResourceID,
	})

	key := s.dedup.WebhookKey(providerName, n.EventID)
	fresh, err := s.dedup.SetNX(ctx, key, "1", dedupTTL)
	if err != nil {
		// Redis being down must not drop payment notifications; the engine
		// is idempotent anyway.
		s.log.Warn(lctx, "webhook dedup unavailable, processing without guard")
		fresh = true
		key = ""
	}
	if !fresh {
		s.log.Info(lctx, "duplicate webhook delivery ignored")
		return nil
	}

	if err := s.dispatch(lctx, n); err != nil {
		if key != "" {
			if delErr := s.dedup.Del(ctx, key); delErr != nil {
				s.log.Warn(lctx, "failed to release webhook dedup key")
			}
		}
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, n Notification) error {
	switch n.Topic {
	case TopicPayment:
		return s.handlePayment(ctx, n.ResourceID)
	case TopicMerchantOrder:
		return s.handleMerchantOrder(ctx, n.ResourceID)
	default:
		s.log.Info(ctx, "ignoring webhook topic")
		return nil
	}
}

func (s *Service) handlePayment(ctx context.Context, resourceID string) error {
	paymentID, err := strconv.ParseInt(resourceID, 10, 64)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment resource id is not numeric")
	}

	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	status, err := reconciliation.FromProviderStatus(payment.Status)
	if err != nil {
		return err
	}

	input := reconciliation.Input{
		ProviderPaymentID: strconv.FormatInt(payment.ID, 10),
		Status:            status,
		StatusDetail:      payment.StatusDetail,
		Amount:            payment.TransactionAmount,
	}
	if orderID, err := uuid.Parse(payment.ExternalReference); err == nil {
		input.OrderID = orderID
	}

	_, err = s.engine.ResolveAndApply(ctx, input)
	return err
}

func (s *Service) handleMerchantOrder(ctx context.Context, resourceID string) error {
	merchantOrderID, err := strconv.ParseInt(resourceID, 10, 64)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "merchant order resource id is not numeric")
	}

	order, err := s.provider.GetMerchantOrder(ctx, merchantOrderID)
	if err != nil {
		return err
	}

	var orderID uuid.UUID
	if parsed, err := uuid.Parse(order.ExternalReference); err == nil {
		orderID = parsed
	}

	// One failed payment must not block the others from being reconciled.
	var errs error
	for _, payment := range order.Payments {
		status, err := reconciliation.FromProviderStatus(payment.Status)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		_, err = s.engine.ResolveAndApply(ctx, reconciliation.Input{
			ProviderPaymentID: strconv.FormatInt(payment.ID, 10),
			OrderID:           orderID,
			Status:            status,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
