package melhorenvio

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

// Carrier limits enforced before any request leaves the process.
var (
	maxWeightKg   = decimal.NewFromInt(30)
	maxDimsSumCm  = 200
	minDimCm      = 1
	gramThreshold = decimal.NewFromInt(50)
)

// Package is one parcel: weight in kilograms, dimensions in whole centimeters.
type Package struct {
	WeightKg decimal.Decimal
	LengthCm int
	HeightCm int
	WidthCm  int
}

// PackageItem is one order line contributing to an aggregate parcel.
type PackageItem struct {
	Qty         int
	WeightGrams decimal.Decimal
	LengthCm    int
	HeightCm    int
	WidthCm     int
}

// NormalizeWeightKg interprets values above the gram threshold as grams and
// converts them to kilograms. Catalog data mixes both units historically.
func NormalizeWeightKg(weight decimal.Decimal) decimal.Decimal {
	if weight.GreaterThan(gramThreshold) {
		return weight.Div(decimal.NewFromInt(1000))
	}
	return weight
}

// BuildPackage aggregates order items into a single parcel: weights add up,
// each dimension takes the maximum across items.
func BuildPackage(items []PackageItem) (Package, error) {
	if len(items) == 0 {
		return Package{}, pkgerrors.New(pkgerrors.CodeValidation, "package requires at least one item")
	}

	pkg := Package{}
	for _, item := range items {
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		itemKg := NormalizeWeightKg(item.WeightGrams)
		pkg.WeightKg = pkg.WeightKg.Add(itemKg.Mul(decimal.NewFromInt(int64(qty))))
		if item.LengthCm > pkg.LengthCm {
			pkg.LengthCm = item.LengthCm
		}
		if item.HeightCm > pkg.HeightCm {
			pkg.HeightCm = item.HeightCm
		}
		if item.WidthCm > pkg.WidthCm {
			pkg.WidthCm = item.WidthCm
		}
	}
	return pkg.normalized()
}

// normalized clamps dimensions to the carrier minimum and validates limits.
// WeightKg is already in kilograms; unit conversion happens once, per item,
// in BuildPackage.
func (p Package) normalized() (Package, error) {
	if p.LengthCm < minDimCm {
		p.LengthCm = minDimCm
	}
	if p.HeightCm < minDimCm {
		p.HeightCm = minDimCm
	}
	if p.WidthCm < minDimCm {
		p.WidthCm = minDimCm
	}

	if p.WeightKg.LessThanOrEqual(decimal.Zero) {
		return Package{}, pkgerrors.New(pkgerrors.CodeValidation, "package weight must be positive")
	}
	if p.WeightKg.GreaterThan(maxWeightKg) {
		return Package{}, pkgerrors.New(pkgerrors.CodeValidation, "package weight exceeds carrier limit").
			WithDetails(map[string]string{"weight_kg": p.WeightKg.String(), "max_kg": maxWeightKg.String()})
	}
	if sum := p.LengthCm + p.HeightCm + p.WidthCm; sum > maxDimsSumCm {
		return Package{}, pkgerrors.New(pkgerrors.CodeValidation, "package dimensions exceed carrier limit").
			WithDetails(map[string]int{"dims_sum_cm": sum, "max_cm": maxDimsSumCm})
	}
	return p, nil
}

// NormalizeCEP strips formatting and requires exactly eight digits.
func NormalizeCEP(cep string) (string, error) {
	var digits strings.Builder
	for _, r := range cep {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	normalized := digits.String()
	if len(normalized) != 8 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("CEP %q must have exactly 8 digits", cep))
	}
	return normalized, nil
}

// FindServiceByName resolves a rated service by case-insensitive name
// containment, so stored selections like "SEDEX" survive provider renames
// such as "SEDEX CENTRALIZADO".
func FindServiceByName(quotes []ServiceQuote, name string) (ServiceQuote, bool) {
	needle := strings.ToUpper(strings.TrimSpace(name))
	if needle == "" {
		return ServiceQuote{}, false
	}
	for _, quote := range quotes {
		if strings.Contains(strings.ToUpper(quote.ServiceName), needle) {
			return quote, true
		}
	}
	return ServiceQuote{}, false
}

// FindServiceByID resolves a rated service by exact provider service ID.
func FindServiceByID(quotes []ServiceQuote, serviceID int) (ServiceQuote, bool) {
	for _, quote := range quotes {
		if quote.ServiceID == serviceID {
			return quote, true
		}
	}
	return ServiceQuote{}, false
}
