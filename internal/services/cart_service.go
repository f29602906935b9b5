package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	// ErrCartInvalidInput signals a malformed cart submission such as empty
	// lines or an unknown purchase mode.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable wraps persistence failures during validation.
	ErrCartUnavailable = errors.New("cart: catalog unavailable")
)

// priceDriftTolerance is the display tolerance for client/server unit price
// divergence, in millimes.
const priceDriftTolerance = int64(10)

type cartService struct {
	products repositories.ProductRepository
	settings SettingsService
	now      Clock
	logger   Logger
}

// CartServiceDeps wires the catalog and settings dependencies of the cart
// validator.
type CartServiceDeps struct {
	Products repositories.ProductRepository
	Settings SettingsService
	Clock    Clock
	Logger   Logger
}

func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("cart service: settings service is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		products: deps.Products,
		settings: deps.Settings,
		now:      func() time.Time { return now().UTC() },
		logger:   logger,
	}, nil
}

// ValidateCart re-derives every line from current catalog state. Client
// prices and quantities are never trusted; divergences are reported as
// issues, with removed, out_of_stock, and invalid_combination blocking the
// cart and quantity_adjusted / price_changed advisory only.
func (s *cartService) ValidateCart(ctx context.Context, cmd ValidateCartCommand) (CartValidation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cmd.Lines) == 0 {
		return CartValidation{}, fmt.Errorf("%w: cart has no lines", ErrCartInvalidInput)
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return CartValidation{}, fmt.Errorf("%w: line %d is missing a product id", ErrCartInvalidInput, i)
		}
		switch line.UnitType {
		case domain.ModePiece, domain.ModeQuantity, "":
		default:
			return CartValidation{}, fmt.Errorf("%w: line %d has unknown unit type %q", ErrCartInvalidInput, i, line.UnitType)
		}
	}

	now := s.now()
	products, err := s.fetchProducts(ctx, cmd.Lines)
	if err != nil {
		return CartValidation{}, err
	}

	result := CartValidation{ValidatedAt: now}
	removed := map[string]bool{}

	for _, line := range cmd.Lines {
		item, issues := s.validateLine(line, products, now)
		result.Issues = append(result.Issues, issues...)
		for _, issue := range issues {
			if issue.Type == domain.IssueRemoved && !removed[issue.ProductID] {
				removed[issue.ProductID] = true
				result.RemovedProductIDs = append(result.RemovedProductIDs, issue.ProductID)
			}
		}
		if item != nil {
			result.Items = append(result.Items, *item)
			result.ItemsTotal += item.Subtotal
		}
	}

	result.Issues = append(result.Issues, detectPriceChanges(cmd.DeclaredLines, result.Items)...)

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return CartValidation{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	result.FreeShipping = result.ItemsTotal >= settings.FreeShippingThreshold
	if !result.FreeShipping {
		result.Shipping = settings.DefaultShippingFee
	}
	result.GrandTotal = result.ItemsTotal + result.Shipping

	result.Valid = true
	for _, issue := range result.Issues {
		if issue.Type != domain.IssueQuantityAdjusted && issue.Type != domain.IssuePriceChanged {
			result.Valid = false
			break
		}
	}

	s.logger(ctx, "cart.validated", map[string]any{
		"userId": cmd.UserID,
		"lines":  len(cmd.Lines),
		"items":  len(result.Items),
		"issues": len(result.Issues),
		"valid":  result.Valid,
	})
	return result, nil
}

func (s *cartService) fetchProducts(ctx context.Context, lines []CartLineInput) (map[string]domain.Product, error) {
	seen := map[string]bool{}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return products, nil
}

// validateLine runs the per-line pipeline: existence, visibility, combination
// lookup, price resolution, stock check, quantity reconciliation. A nil item
// means the line was dropped.
func (s *cartService) validateLine(line CartLineInput, products map[string]domain.Product, now time.Time) (*ValidatedCartItem, []CartIssue) {
	mode := line.UnitType
	if mode == "" {
		mode = domain.ModePiece
	}

	product, ok := products[line.ProductID]
	if !ok {
		return nil, []CartIssue{{
			Type:      domain.IssueRemoved,
			ProductID: line.ProductID,
			Message:   "product no longer exists",
		}}
	}
	if !productPubliclyVisible(product, now) {
		return nil, []CartIssue{{
			Type:      domain.IssueRemoved,
			ProductID: line.ProductID,
			Message:   "product is no longer available",
		}}
	}

	var combination *Combination
	if line.CombinationID != nil {
		combination = findCombination(product, *line.CombinationID)
		if combination == nil {
			return nil, []CartIssue{{
				Type:          domain.IssueInvalidCombination,
				ProductID:     line.ProductID,
				CombinationID: line.CombinationID,
				Message:       "selected variant no longer exists",
			}}
		}
	}

	unitPrice, originalPrice, priced := EffectiveUnitPrice(product, combination, mode, now)
	if !priced {
		return nil, []CartIssue{{
			Type:          domain.IssueRemoved,
			ProductID:     line.ProductID,
			CombinationID: line.CombinationID,
			Message:       "product has no sellable price",
		}}
	}

	stock := stockForLine(product, combination)
	if !inStock(product, stock) {
		return nil, []CartIssue{{
			Type:          domain.IssueOutOfStock,
			ProductID:     line.ProductID,
			CombinationID: line.CombinationID,
			Message:       "product is out of stock",
		}}
	}

	minQty := EffectiveMinQuantity(product, combination, mode)
	quantity, adjustments, orderable := reconcileQuantity(line, stock, minQty)
	if !orderable {
		return nil, []CartIssue{{
			Type:          domain.IssueOutOfStock,
			ProductID:     line.ProductID,
			CombinationID: line.CombinationID,
			Message:       fmt.Sprintf("remaining stock cannot satisfy the minimum lot of %d", minQty),
			Details:       map[string]any{"minQty": minQty, "stock": derefInt(stock)},
		}}
	}

	item := ValidatedCartItem{
		ProductID:        line.ProductID,
		CombinationID:    line.CombinationID,
		Name:             product.Name,
		VariantLabel:     variantLabel(combination),
		UnitType:         mode,
		UnitPrice:        unitPrice,
		OriginalPrice:    originalPrice,
		Quantity:         quantity,
		OriginalQuantity: line.Quantity,
		MinQty:           minQty,
		Subtotal:         unitPrice * int64(quantity),
	}
	if stock != nil {
		max := *stock
		item.MaxQty = &max
	}
	return &item, adjustments
}

// reconcileQuantity normalizes the requested quantity against the minimum,
// the multiple rule, and the stock ceiling. Each correction yields its own
// advisory issue, so a single line can legitimately report two adjustments.
func reconcileQuantity(line CartLineInput, stock *int, minQty int) (int, []CartIssue, bool) {
	quantity := line.Quantity
	var issues []CartIssue

	record := func(from, to int, reason string) {
		issues = append(issues, CartIssue{
			Type:          domain.IssueQuantityAdjusted,
			ProductID:     line.ProductID,
			CombinationID: line.CombinationID,
			Message:       fmt.Sprintf("quantity adjusted from %d to %d (%s)", from, to, reason),
			Details:       map[string]any{"from": from, "to": to, "reason": reason},
		})
	}

	if quantity < minQty {
		record(quantity, minQty, "below minimum")
		quantity = minQty
	} else if quantity%minQty != 0 {
		adjusted := RoundToValidMultiple(quantity, minQty, true)
		record(quantity, adjusted, "not a multiple of the minimum lot")
		quantity = adjusted
	}

	if stock != nil && quantity > *stock {
		capped := LargestMultipleWithin(minQty, *stock)
		if capped == 0 {
			return 0, issues, false
		}
		record(quantity, capped, "limited by stock")
		quantity = capped
	}
	return quantity, issues, true
}

// detectPriceChanges compares the client's declared unit prices against the
// server-resolved ones and reports drift beyond the display tolerance. Purely
// advisory: validation already uses the server price either way.
func detectPriceChanges(declared []DeclaredLine, items []ValidatedCartItem) []CartIssue {
	if len(declared) == 0 || len(items) == 0 {
		return nil
	}
	byKey := make(map[string]ValidatedCartItem, len(items))
	for _, item := range items {
		byKey[lineKey(item.ProductID, item.CombinationID)] = item
	}

	var issues []CartIssue
	for _, line := range declared {
		item, ok := byKey[lineKey(line.ProductID, line.CombinationID)]
		if !ok {
			continue
		}
		delta := item.UnitPrice - line.UnitPrice
		if delta < 0 {
			delta = -delta
		}
		if delta <= priceDriftTolerance {
			continue
		}
		issues = append(issues, CartIssue{
			Type:          domain.IssuePriceChanged,
			ProductID:     line.ProductID,
			CombinationID: line.CombinationID,
			Message:       fmt.Sprintf("unit price changed from %d to %d", line.UnitPrice, item.UnitPrice),
			Details:       map[string]any{"oldPrice": line.UnitPrice, "newPrice": item.UnitPrice},
		})
	}
	return issues
}

func lineKey(productID string, combinationID *string) string {
	if combinationID == nil {
		return productID
	}
	return productID + "/" + *combinationID
}

func productPubliclyVisible(product domain.Product, now time.Time) bool {
	if !product.Visible || product.Status != domain.ProductStatusActive {
		return false
	}
	if product.PublishAt != nil && product.PublishAt.After(now) {
		return false
	}
	return true
}

func findCombination(product domain.Product, combinationID string) *Combination {
	for i := range product.Combinations {
		if product.Combinations[i].ID == combinationID {
			return &product.Combinations[i]
		}
	}
	return nil
}

// stockForLine picks the stock level the line draws from: the combination's
// own counter when one is selected, the product counter otherwise. Nil means
// unbounded.
func stockForLine(product domain.Product, combination *Combination) *int {
	if combination != nil {
		return combination.Stock
	}
	return product.AvailableQuantity
}

func inStock(product domain.Product, stock *int) bool {
	if product.InStock != nil && !*product.InStock {
		return false
	}
	return stock == nil || *stock > 0
}

func variantLabel(combination *Combination) string {
	if combination == nil || len(combination.Options) == 0 {
		return ""
	}
	keys := make([]string, 0, len(combination.Options))
	for k := range combination.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+combination.Options[k])
	}
	return strings.Join(parts, ", ")
}

func derefInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ CartService = (*cartService)(nil)
