package services

import (
	"fmt"

	domain "github.com/souqline/api/internal/domain"
)

// EffectiveMinQuantity resolves the minimum order quantity for a line.
// Resolution order: combination override for the mode, then the product-level
// minimum for the mode, then 1. Non-positive values are treated as absent so
// the result is always at least 1.
func EffectiveMinQuantity(product Product, combination *Combination, mode PurchaseMode) int {
	if combination != nil {
		if min := minForMode(combination.MinQtyRetail, combination.MinQtyWholesale, mode); min >= 1 {
			return min
		}
	}
	if min := minForMode(product.MinOrderQtyRetail, product.MinOrderQtyWholesale, mode); min >= 1 {
		return min
	}
	return 1
}

func minForMode(retail, wholesale *int, mode PurchaseMode) int {
	var v *int
	switch mode {
	case domain.ModeQuantity:
		v = wholesale
	default:
		v = retail
	}
	if v == nil {
		return 0
	}
	return *v
}

// QuantityCheck reports whether a requested quantity satisfies the minimum,
// multiple, and stock constraints, and suggests a corrected quantity when it
// does not. SuggestedQty is 0 when no orderable quantity exists.
type QuantityCheck struct {
	Valid        bool
	Message      string
	SuggestedQty int
}

// ValidateQuantity checks a requested quantity against the effective minimum
// and an optional finite stock level. Checks run in order: below minimum, not
// a multiple, over stock. A nil stock means unbounded.
func ValidateQuantity(quantity, minQty int, stock *int) QuantityCheck {
	if minQty < 1 {
		minQty = 1
	}
	if quantity < minQty {
		return QuantityCheck{
			Message:      fmt.Sprintf("quantity %d is below the minimum of %d", quantity, minQty),
			SuggestedQty: suggestWithinStock(minQty, minQty, stock),
		}
	}
	if quantity%minQty != 0 {
		next := RoundToValidMultiple(quantity, minQty, true)
		return QuantityCheck{
			Message:      fmt.Sprintf("quantity %d is not a multiple of %d, next valid quantity is %d", quantity, minQty, next),
			SuggestedQty: suggestWithinStock(next, minQty, stock),
		}
	}
	if stock != nil && quantity > *stock {
		largest := LargestMultipleWithin(minQty, *stock)
		if largest == 0 {
			return QuantityCheck{
				Message: fmt.Sprintf("no multiple of %d fits in the remaining stock of %d", minQty, *stock),
			}
		}
		return QuantityCheck{
			Message:      fmt.Sprintf("quantity %d exceeds the remaining stock of %d", quantity, *stock),
			SuggestedQty: largest,
		}
	}
	return QuantityCheck{Valid: true, SuggestedQty: quantity}
}

func suggestWithinStock(candidate, minQty int, stock *int) int {
	if stock == nil || candidate <= *stock {
		return candidate
	}
	return LargestMultipleWithin(minQty, *stock)
}

// RoundToValidMultiple rounds quantity to a multiple of minQty, up or down.
// Rounding down a quantity below minQty yields 0.
func RoundToValidMultiple(quantity, minQty int, roundUp bool) int {
	if minQty < 1 {
		minQty = 1
	}
	if quantity <= 0 {
		if roundUp {
			return minQty
		}
		return 0
	}
	if quantity%minQty == 0 {
		return quantity
	}
	down := (quantity / minQty) * minQty
	if roundUp {
		return down + minQty
	}
	return down
}

// LargestMultipleWithin returns the largest multiple of minQty not exceeding
// limit, or 0 when not even one multiple fits.
func LargestMultipleWithin(minQty, limit int) int {
	if minQty < 1 {
		minQty = 1
	}
	if limit < minQty {
		return 0
	}
	return (limit / minQty) * minQty
}
