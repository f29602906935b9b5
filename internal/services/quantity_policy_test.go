package services

import (
	"testing"

	domain "github.com/souqline/api/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestEffectiveMinQuantityResolutionOrder(t *testing.T) {
	product := Product{
		MinOrderQtyRetail:    intPtr(2),
		MinOrderQtyWholesale: intPtr(10),
	}
	combination := Combination{
		MinQtyRetail:    intPtr(3),
		MinQtyWholesale: intPtr(24),
	}

	if got := EffectiveMinQuantity(product, &combination, domain.ModePiece); got != 3 {
		t.Fatalf("expected combination retail override 3, got %d", got)
	}
	if got := EffectiveMinQuantity(product, &combination, domain.ModeQuantity); got != 24 {
		t.Fatalf("expected combination wholesale override 24, got %d", got)
	}
	if got := EffectiveMinQuantity(product, nil, domain.ModeQuantity); got != 10 {
		t.Fatalf("expected product wholesale minimum 10, got %d", got)
	}
	if got := EffectiveMinQuantity(Product{}, nil, domain.ModePiece); got != 1 {
		t.Fatalf("expected fallback minimum 1, got %d", got)
	}
}

func TestEffectiveMinQuantityIgnoresNonPositiveOverrides(t *testing.T) {
	product := Product{MinOrderQtyRetail: intPtr(4)}
	combination := Combination{MinQtyRetail: intPtr(0)}

	if got := EffectiveMinQuantity(product, &combination, domain.ModePiece); got != 4 {
		t.Fatalf("expected zero override to fall through to product minimum 4, got %d", got)
	}

	product.MinOrderQtyRetail = intPtr(-2)
	if got := EffectiveMinQuantity(product, nil, domain.ModePiece); got != 1 {
		t.Fatalf("expected negative minimum to clamp to 1, got %d", got)
	}
}

func TestValidateQuantityBelowMinimum(t *testing.T) {
	check := ValidateQuantity(7, 10, intPtr(25))
	if check.Valid {
		t.Fatalf("expected quantity below minimum to be invalid")
	}
	if check.SuggestedQty != 10 {
		t.Fatalf("expected suggestion of the minimum 10, got %d", check.SuggestedQty)
	}
}

func TestValidateQuantityNotAMultiple(t *testing.T) {
	check := ValidateQuantity(23, 10, nil)
	if check.Valid {
		t.Fatalf("expected non-multiple to be invalid")
	}
	if check.SuggestedQty != 30 {
		t.Fatalf("expected suggestion rounded up to 30, got %d", check.SuggestedQty)
	}
}

func TestValidateQuantityNonMultipleCappedByStock(t *testing.T) {
	check := ValidateQuantity(23, 10, intPtr(25))
	if check.Valid {
		t.Fatalf("expected non-multiple to be invalid")
	}
	if check.SuggestedQty != 20 {
		t.Fatalf("expected rounded-up suggestion capped by stock to 20, got %d", check.SuggestedQty)
	}
}

func TestValidateQuantityOverStock(t *testing.T) {
	check := ValidateQuantity(30, 10, intPtr(25))
	if check.Valid {
		t.Fatalf("expected over-stock quantity to be invalid")
	}
	if check.SuggestedQty != 20 {
		t.Fatalf("expected largest multiple within stock 20, got %d", check.SuggestedQty)
	}
}

func TestValidateQuantityNoMultipleFits(t *testing.T) {
	check := ValidateQuantity(10, 10, intPtr(7))
	if check.Valid {
		t.Fatalf("expected quantity to be invalid when stock is under one lot")
	}
	if check.SuggestedQty != 0 {
		t.Fatalf("expected no orderable suggestion, got %d", check.SuggestedQty)
	}
}

func TestValidateQuantityUnboundedStock(t *testing.T) {
	check := ValidateQuantity(1000, 10, nil)
	if !check.Valid {
		t.Fatalf("expected unbounded stock to accept any multiple: %s", check.Message)
	}
	if check.SuggestedQty != 1000 {
		t.Fatalf("expected suggestion to echo the quantity, got %d", check.SuggestedQty)
	}
}

func TestRoundToValidMultiple(t *testing.T) {
	if got := RoundToValidMultiple(7, 10, true); got != 10 {
		t.Fatalf("expected 7 rounded up to 10, got %d", got)
	}
	if got := RoundToValidMultiple(23, 10, false); got != 20 {
		t.Fatalf("expected 23 rounded down to 20, got %d", got)
	}
	if got := RoundToValidMultiple(30, 10, false); got != 30 {
		t.Fatalf("expected exact multiple to be returned unchanged, got %d", got)
	}
	if got := RoundToValidMultiple(5, 0, true); got != 5 {
		t.Fatalf("expected zero minimum to clamp to 1, got %d", got)
	}
	if got := RoundToValidMultiple(0, 10, true); got != 10 {
		t.Fatalf("expected zero quantity rounded up to one lot, got %d", got)
	}
	if got := RoundToValidMultiple(3, 10, false); got != 0 {
		t.Fatalf("expected below-minimum rounded down to 0, got %d", got)
	}
}

func TestLargestMultipleWithin(t *testing.T) {
	if got := LargestMultipleWithin(10, 25); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
	if got := LargestMultipleWithin(10, 7); got != 0 {
		t.Fatalf("expected 0 when a single lot does not fit, got %d", got)
	}
	if got := LargestMultipleWithin(1, 0); got != 0 {
		t.Fatalf("expected 0 for empty stock, got %d", got)
	}
}
