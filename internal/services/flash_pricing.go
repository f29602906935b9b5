package services

import (
	"math"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

// PriceSource names the precedence level a base price was resolved from.
type PriceSource string

const (
	PriceSourceCombinationMode     PriceSource = "combination_mode"
	PriceSourceProductMode         PriceSource = "product_mode"
	PriceSourceCombinationFallback PriceSource = "combination_fallback"
	PriceSourceProductFallback     PriceSource = "product_fallback"
)

// ResolvedPrice is the outcome of base-price resolution for one line.
type ResolvedPrice struct {
	Amount int64
	Source PriceSource
}

// ResolveBasePrice picks the unit price for a purchase mode using a fixed
// precedence: the mode's own price at combination level, then product level,
// then the opposite mode's price at combination level, then product level.
// Returns false when no level carries a positive price.
func ResolveBasePrice(product Product, combination *Combination, mode PurchaseMode) (ResolvedPrice, bool) {
	type level struct {
		price  *int64
		source PriceSource
	}

	var levels []level
	switch mode {
	case domain.ModeQuantity:
		levels = []level{
			{combinationPrice(combination, domain.ModeQuantity), PriceSourceCombinationMode},
			{product.PriceQuantity, PriceSourceProductMode},
			{combinationPrice(combination, domain.ModePiece), PriceSourceCombinationFallback},
			{product.PricePiece, PriceSourceProductFallback},
		}
	default:
		levels = []level{
			{combinationPrice(combination, domain.ModePiece), PriceSourceCombinationMode},
			{product.PricePiece, PriceSourceProductMode},
			{combinationPrice(combination, domain.ModeQuantity), PriceSourceCombinationFallback},
			{product.PriceQuantity, PriceSourceProductFallback},
		}
	}

	for _, candidate := range levels {
		if candidate.price != nil && *candidate.price > 0 {
			return ResolvedPrice{Amount: *candidate.price, Source: candidate.source}, true
		}
	}
	return ResolvedPrice{}, false
}

func combinationPrice(combination *Combination, mode PurchaseMode) *int64 {
	if combination == nil {
		return nil
	}
	if mode == domain.ModeQuantity {
		return combination.PriceQuantity
	}
	return combination.PricePiece
}

// FlashWindowOpen reports whether the flash sale window contains now. A nil
// edge leaves the window open on that side.
func FlashWindowOpen(flash domain.FlashSale, now time.Time) bool {
	if !flash.Active {
		return false
	}
	if flash.StartAt != nil && now.Before(*flash.StartAt) {
		return false
	}
	if flash.EndAt != nil && now.After(*flash.EndAt) {
		return false
	}
	return true
}

// FlashEligible reports whether the given combination participates in the
// flash sale. Product-targeted sales cover every line. Combination-targeted
// sales cover all combinations unless ApplyAllCombinations is explicitly
// false, in which case only the listed combination ids qualify.
func FlashEligible(flash domain.FlashSale, combinationID *string) bool {
	if flash.ApplyTarget != domain.FlashTargetCombinations {
		return true
	}
	if flash.ApplyAllCombinations == nil || *flash.ApplyAllCombinations {
		return true
	}
	if combinationID == nil {
		return false
	}
	for _, id := range flash.CombinationIDs {
		if id == *combinationID {
			return true
		}
	}
	return false
}

// ApplyFlashDiscount returns the discounted unit price, and true when a
// discount actually applied. A nil or non-positive discount value falls
// through to the base price. Results never go below zero.
func ApplyFlashDiscount(flash domain.FlashSale, base int64) (int64, bool) {
	switch flash.DiscountType {
	case domain.FlashDiscountFixed:
		if flash.Amount <= 0 {
			return base, false
		}
		discounted := base - flash.Amount
		if discounted < 0 {
			discounted = 0
		}
		return discounted, true
	case domain.FlashDiscountPercent:
		if flash.Percent <= 0 {
			return base, false
		}
		discounted := int64(math.Round(float64(base) - float64(base)*flash.Percent/100))
		if discounted < 0 {
			discounted = 0
		}
		return discounted, true
	default:
		return base, false
	}
}

// EffectiveUnitPrice resolves the final unit price for a line: base price by
// precedence, then the flash discount when the window is open and the line is
// eligible. The second return is the pre-discount price, non-nil only when a
// discount applied.
func EffectiveUnitPrice(product Product, combination *Combination, mode PurchaseMode, now time.Time) (int64, *int64, bool) {
	base, ok := ResolveBasePrice(product, combination, mode)
	if !ok {
		return 0, nil, false
	}
	if !FlashWindowOpen(product.Flash, now) {
		return base.Amount, nil, true
	}
	var combinationID *string
	if combination != nil {
		combinationID = &combination.ID
	}
	if !FlashEligible(product.Flash, combinationID) {
		return base.Amount, nil, true
	}
	discounted, applied := ApplyFlashDiscount(product.Flash, base.Amount)
	if !applied || discounted == base.Amount {
		return base.Amount, nil, true
	}
	original := base.Amount
	return discounted, &original, true
}
