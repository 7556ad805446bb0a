package shipments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/db/models"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/melhorenvio"
)

// quoteCarrier is the slice of the shipping client the quoter uses.
type quoteCarrier interface {
	Quote(ctx context.Context, req melhorenvio.QuoteRequest) ([]melhorenvio.ServiceQuote, error)
}

// ProductFinder loads active products for quoting a prospective cart.
type ProductFinder interface {
	FindActiveProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// QuoteItemInput is one cart line to rate.
type QuoteItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"required,gt=0"`
}

// QuoteInput rates a prospective cart against a destination CEP.
type QuoteInput struct {
	ToCEP string           `json:"to_cep" validate:"required"`
	Items []QuoteItemInput `json:"items" validate:"required,min=1,dive"`
}

// Quoter rates prospective carts before an order exists.
type Quoter struct {
	carrier  quoteCarrier
	products ProductFinder
	fromCEP  string
}

// NewQuoter builds the checkout shipping quoter.
func NewQuoter(carrierClient quoteCarrier, products ProductFinder, meCfg config.MelhorEnvioConfig) (*Quoter, error) {
	if carrierClient == nil {
		return nil, fmt.Errorf("carrier client required")
	}
	if products == nil {
		return nil, fmt.Errorf("product finder required")
	}
	fromCEP, err := melhorenvio.NormalizeCEP(meCfg.FromCEP)
	if err != nil {
		return nil, fmt.Errorf("origin CEP: %w", err)
	}
	return &Quoter{carrier: carrierClient, products: products, fromCEP: fromCEP}, nil
}

// Quote aggregates the cart into one parcel and returns the rated services.
func (q *Quoter) Quote(ctx context.Context, input QuoteInput) ([]melhorenvio.ServiceQuote, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote requires at least one item")
	}

	ids := make([]uuid.UUID, 0, len(input.Items))
	qtyByProduct := make(map[uuid.UUID]int, len(input.Items))
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		ids = append(ids, item.ProductID)
		qtyByProduct[item.ProductID] += item.Qty
	}

	products, err := q.products.FindActiveProductsByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products for quote")
	}
	if len(products) != len(qtyByProduct) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "one or more products not found")
	}

	packageItems := make([]melhorenvio.PackageItem, 0, len(products))
	for _, product := range products {
		packageItems = append(packageItems, melhorenvio.PackageItem{
			Qty:         qtyByProduct[product.ID],
			WeightGrams: product.WeightGrams,
			LengthCm:    product.LengthCm,
			HeightCm:    product.HeightCm,
			WidthCm:     product.WidthCm,
		})
	}
	pkg, err := melhorenvio.BuildPackage(packageItems)
	if err != nil {
		return nil, err
	}

	return q.carrier.Quote(ctx, melhorenvio.QuoteRequest{
		FromCEP: q.fromCEP,
		ToCEP:   input.ToCEP,
		Package: pkg,
	})
}

// productRepo adapts a gorm handle to the productFinder surface.
type productRepo struct {
	db *gorm.DB
}

// NewProductFinder exposes active-product lookups for the quoter.
func NewProductFinder(db *gorm.DB) ProductFinder {
	return &productRepo{db: db}
}

func (r *productRepo) FindActiveProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}
