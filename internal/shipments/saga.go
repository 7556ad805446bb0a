package shipments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/melhorenvio"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// carrier is the slice of the shipping client the saga uses.
type carrier interface {
	Quote(ctx context.Context, req melhorenvio.QuoteRequest) ([]melhorenvio.ServiceQuote, error)
	CreateCart(ctx context.Context, req melhorenvio.CartRequest) (*melhorenvio.CartEntry, error)
	Purchase(ctx context.Context, shipmentIDs ...string) error
	GenerateLabel(ctx context.Context, shipmentIDs ...string) error
	PrintLabel(ctx context.Context, shipmentIDs ...string) (string, error)
}

// Processor runs the shipment pipeline for one paid order.
type Processor interface {
	Process(ctx context.Context, orderID uuid.UUID) error
}

// Saga walks a paid order through the carrier: quote, cart, purchase, label.
// The carrier shipment ID is persisted right after cart creation so a crash
// mid-pipeline never creates a second shipment for the same order. Failures
// leave the order paid; the pipeline is re-runnable from the cart step
// onwards via the provider's own idempotency on the stored shipment ID.
type Saga struct {
	repo      Repository
	tx        txRunner
	carrier   carrier
	log       *logger.Logger
	fromCEP   string
	tolerance decimal.Decimal
}

// NewSaga builds the shipment saga with the required dependencies.
func NewSaga(
	repo Repository,
	tx txRunner,
	carrierClient carrier,
	meCfg config.MelhorEnvioConfig,
	shipCfg config.ShipmentsConfig,
	log *logger.Logger,
) (*Saga, error) {
	if repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if carrierClient == nil {
		return nil, fmt.Errorf("carrier client required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	fromCEP, err := melhorenvio.NormalizeCEP(meCfg.FromCEP)
	if err != nil {
		return nil, fmt.Errorf("origin CEP: %w", err)
	}
	tolerance, err := decimal.NewFromString(shipCfg.PriceToleranceBRL)
	if err != nil || tolerance.IsNegative() {
		tolerance = decimal.RequireFromString("0.50")
	}
	return &Saga{
		repo:      repo,
		tx:        tx,
		carrier:   carrierClient,
		log:       log,
		fromCEP:   fromCEP,
		tolerance: tolerance,
	}, nil
}

type orderSnapshot struct {
	order   *models.Order
	items   []models.OrderItem
	address *models.Address
	user    *models.User
}

// Process creates the carrier shipment for a paid order.
func (s *Saga) Process(ctx context.Context, orderID uuid.UUID) error {
	lctx := s.log.WithOrderID(ctx, orderID.String())

	snap, err := s.guard(lctx, orderID)
	if err != nil {
		return err
	}

	pkg, err := buildPackage(snap.items)
	if err != nil {
		return err
	}

	quotes, err := s.carrier.Quote(lctx, melhorenvio.QuoteRequest{
		FromCEP: s.fromCEP,
		ToCEP:   snap.address.CEP,
		Package: pkg,
	})
	if err != nil {
		return err
	}

	quote, err := resolveService(quotes, snap.order)
	if err != nil {
		return err
	}

	insurance := decimal.Zero
	for _, item := range snap.items {
		insurance = insurance.Add(item.LineTotal())
	}

	entry, err := s.carrier.CreateCart(lctx, melhorenvio.CartRequest{
		ServiceID: quote.ServiceID,
		FromCEP:   s.fromCEP,
		To: melhorenvio.Recipient{
			Name:     snap.user.FirstName + " " + snap.user.LastName,
			Email:    snap.user.Email,
			Street:   snap.address.Street,
			Number:   snap.address.Number,
			District: snap.address.District,
			City:     snap.address.City,
			State:    snap.address.State,
			CEP:      snap.address.CEP,
		},
		Package:        pkg,
		InsuranceValue: insurance,
		Reference:      snap.order.ID.String(),
	})
	if err != nil {
		return err
	}

	// Persist the provider IDs before any further step can fail.
	updates := map[string]any{
		"carrier_shipment_id": entry.ID,
		"carrier_protocol":    entry.Protocol,
	}
	if err := s.repo.UpdateOrder(lctx, snap.order.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store carrier shipment id")
	}

	if err := s.reconcilePrice(lctx, snap.order, entry.Price); err != nil {
		return err
	}

	if err := s.carrier.Purchase(lctx, entry.ID); err != nil {
		return err
	}
	if err := s.carrier.GenerateLabel(lctx, entry.ID); err != nil {
		return err
	}
	labelURL, err := s.carrier.PrintLabel(lctx, entry.ID)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(lctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(lctx, snap.order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		updates := map[string]any{"label_url": labelURL}
		if order.Status == enums.OrderStatusPaid {
			updates["status"] = enums.OrderStatusInSeparation
		}
		return repo.UpdateOrder(lctx, order.ID, updates)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize shipment")
	}

	s.log.Info(s.log.WithFields(lctx, map[string]any{
		"carrier_shipment_id": entry.ID,
		"service":             quote.ServiceName,
	}), "shipment created and labeled")
	return nil
}

// guard locks the order and verifies it is eligible: paid, with an address,
// and without an existing carrier shipment.
func (s *Saga) guard(ctx context.Context, orderID uuid.UUID) (*orderSnapshot, error) {
	snap := &orderSnapshot{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.CarrierShipmentID != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "shipment already created for order").
				WithDetails(map[string]string{"carrier_shipment_id": *order.CarrierShipmentID})
		}
		if order.Status != enums.OrderStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
				WithDetails(map[string]string{"status": order.Status.String()})
		}
		if order.AddressID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no delivery address")
		}

		items, err := repo.FindOrderItems(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		address, err := repo.FindAddress(ctx, *order.AddressID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery address")
		}
		user, err := repo.FindUser(ctx, order.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order owner")
		}

		snap.order = order
		snap.items = items
		snap.address = address
		snap.user = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// reconcilePrice adjusts the stored shipping cost when the carrier charged a
// different price than quoted at checkout, beyond the configured tolerance.
// The order total moves by the same delta.
func (s *Saga) reconcilePrice(ctx context.Context, order *models.Order, carrierPrice decimal.Decimal) error {
	diff := carrierPrice.Sub(order.ShippingCost).Abs()
	if diff.LessThanOrEqual(s.tolerance) {
		return nil
	}

	newTotal := order.TotalAmount.Sub(order.ShippingCost).Add(carrierPrice).Round(2)
	err := s.repo.UpdateOrder(ctx, order.ID, map[string]any{
		"shipping_cost": carrierPrice.Round(2),
		"total_amount":  newTotal,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile shipping price")
	}

	s.log.Warn(s.log.WithFields(ctx, map[string]any{
		"quoted_cost":  order.ShippingCost.String(),
		"carrier_cost": carrierPrice.String(),
	}), "shipping price diverged from checkout quote")

	order.ShippingCost = carrierPrice.Round(2)
	order.TotalAmount = newTotal
	return nil
}

// resolveService re-finds the checkout selection among fresh quotes, by
// provider service ID first and stored name second.
func resolveService(quotes []melhorenvio.ServiceQuote, order *models.Order) (melhorenvio.ServiceQuote, error) {
	if order.ShippingServiceID != nil {
		if quote, ok := melhorenvio.FindServiceByID(quotes, *order.ShippingServiceID); ok {
			return quote, nil
		}
	}
	if order.ShippingServiceName != nil {
		if quote, ok := melhorenvio.FindServiceByName(quotes, *order.ShippingServiceName); ok {
			return quote, nil
		}
	}
	return melhorenvio.ServiceQuote{}, pkgerrors.New(pkgerrors.CodeDependency, "selected shipping service is no longer available")
}

func buildPackage(items []models.OrderItem) (melhorenvio.Package, error) {
	packageItems := make([]melhorenvio.PackageItem, 0, len(items))
	for _, item := range items {
		packageItems = append(packageItems, melhorenvio.PackageItem{
			Qty:         item.Qty,
			WeightGrams: item.WeightGrams,
			LengthCm:    item.LengthCm,
			HeightCm:    item.HeightCm,
			WidthCm:     item.WidthCm,
		})
	}
	return melhorenvio.BuildPackage(packageItems)
}
