package melhorenvio

import (
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

func TestNormalizeCEP(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain digits", input: "01310100", want: "01310100"},
		{name: "formatted", input: "01310-100", want: "01310100"},
		{name: "spaced", input: " 01310 100 ", want: "01310100"},
		{name: "too short", input: "0131010", wantErr: true},
		{name: "too long", input: "013101000", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeCEP(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.input)
				}
				if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeWeightKg(t *testing.T) {
	if got := NormalizeWeightKg(decimal.RequireFromString("0.3")); !got.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("kilogram value must pass through, got %s", got)
	}
	if got := NormalizeWeightKg(decimal.NewFromInt(300)); !got.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("gram value must convert to kg, got %s", got)
	}
	if got := NormalizeWeightKg(decimal.NewFromInt(50)); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("threshold value must pass through, got %s", got)
	}
}

func TestBuildPackage_AggregatesWeightAndMaxDims(t *testing.T) {
	pkg, err := BuildPackage([]PackageItem{
		{Qty: 2, WeightGrams: decimal.NewFromInt(500), LengthCm: 20, HeightCm: 5, WidthCm: 15},
		{Qty: 1, WeightGrams: decimal.NewFromInt(250), LengthCm: 10, HeightCm: 12, WidthCm: 8},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !pkg.WeightKg.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected 1.25kg, got %s", pkg.WeightKg)
	}
	if pkg.LengthCm != 20 || pkg.HeightCm != 12 || pkg.WidthCm != 15 {
		t.Fatalf("expected max dims 20x12x15, got %dx%dx%d", pkg.LengthCm, pkg.HeightCm, pkg.WidthCm)
	}
}

func TestBuildPackage_ClampsMinimumDims(t *testing.T) {
	pkg, err := BuildPackage([]PackageItem{
		{Qty: 1, WeightGrams: decimal.NewFromInt(100), LengthCm: 0, HeightCm: 0, WidthCm: 0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkg.LengthCm != 1 || pkg.HeightCm != 1 || pkg.WidthCm != 1 {
		t.Fatalf("expected dims clamped to 1cm, got %dx%dx%d", pkg.LengthCm, pkg.HeightCm, pkg.WidthCm)
	}
}

func TestBuildPackage_RejectsOverweight(t *testing.T) {
	_, err := BuildPackage([]PackageItem{
		{Qty: 31, WeightGrams: decimal.NewFromInt(1000), LengthCm: 10, HeightCm: 10, WidthCm: 10},
	})
	if err == nil {
		t.Fatal("expected weight above 30kg to be rejected")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildPackage_HeavyAggregateStaysInKilograms(t *testing.T) {
	// Per-item weights convert from grams exactly once. An aggregate above
	// the gram threshold is still kilograms and must trip the 30kg limit
	// instead of being divided by 1000 again.
	_, err := BuildPackage([]PackageItem{
		{Qty: 3, WeightGrams: decimal.NewFromInt(18000), LengthCm: 10, HeightCm: 10, WidthCm: 10},
	})
	if err == nil {
		t.Fatal("expected 54kg aggregate to be rejected")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected weight details, got %v", typed.Details())
	}
	if details["weight_kg"] != "54" {
		t.Fatalf("expected aggregate of 54kg, got %s", details["weight_kg"])
	}
}

func TestPackageValidationKeepsWeightAsGiven(t *testing.T) {
	pkg, err := Package{WeightKg: decimal.NewFromInt(29), LengthCm: 40, HeightCm: 30, WidthCm: 30}.normalized()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pkg.WeightKg.Equal(decimal.NewFromInt(29)) {
		t.Fatalf("expected weight untouched at 29kg, got %s", pkg.WeightKg)
	}

	if _, err := (Package{WeightKg: decimal.NewFromInt(31), LengthCm: 10, HeightCm: 10, WidthCm: 10}).normalized(); err == nil {
		t.Fatal("expected 31kg package to be rejected")
	}
}

func TestBuildPackage_RejectsOversizedDims(t *testing.T) {
	_, err := BuildPackage([]PackageItem{
		{Qty: 1, WeightGrams: decimal.NewFromInt(1000), LengthCm: 100, HeightCm: 70, WidthCm: 60},
	})
	if err == nil {
		t.Fatal("expected dims sum above 200cm to be rejected")
	}
}

func TestFindServiceByName(t *testing.T) {
	quotes := []ServiceQuote{
		{ServiceID: 1, ServiceName: "PAC", Carrier: "Correios"},
		{ServiceID: 2, ServiceName: "SEDEX CENTRALIZADO", Carrier: "Correios"},
		{ServiceID: 3, ServiceName: ".Package", Carrier: "Jadlog"},
	}

	got, ok := FindServiceByName(quotes, "sedex")
	if !ok || got.ServiceID != 2 {
		t.Fatalf("expected SEDEX match, got %+v ok=%v", got, ok)
	}

	if _, ok := FindServiceByName(quotes, "loggi"); ok {
		t.Fatal("expected no match for unknown service")
	}
	if _, ok := FindServiceByName(quotes, ""); ok {
		t.Fatal("expected no match for empty name")
	}
}
