package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

type stubProductRepo struct {
	findByIDsFn func(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, id string) (domain.Product, error) {
	products, err := s.findByIDsFn(ctx, []string{id})
	if err != nil {
		return domain.Product{}, err
	}
	p, ok := products[id]
	if !ok {
		return domain.Product{}, errors.New("not found")
	}
	return p, nil
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return s.findByIDsFn(ctx, ids)
}

func (s *stubProductRepo) List(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	return domain.CursorPage[domain.Product]{}, errors.New("not implemented")
}

func (s *stubProductRepo) Upsert(_ context.Context, p domain.Product) (domain.Product, error) {
	return p, nil
}

type stubSettingsService struct {
	settings ShopSettings
	err      error
}

func (s *stubSettingsService) Current(context.Context) (ShopSettings, error) {
	return s.settings, s.err
}

func (s *stubSettingsService) Update(context.Context, UpdateSettingsCommand) (ShopSettings, error) {
	return s.settings, s.err
}

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func catalog(products ...domain.Product) *stubProductRepo {
	byID := map[string]domain.Product{}
	for _, p := range products {
		byID[p.ID] = p
	}
	return &stubProductRepo{
		findByIDsFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			out := map[string]domain.Product{}
			for _, id := range ids {
				if p, ok := byID[id]; ok {
					out[id] = p
				}
			}
			return out, nil
		},
	}
}

func newCartServiceForTest(t *testing.T, repo *stubProductRepo, settings ShopSettings, now time.Time) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Products: repo,
		Settings: &stubSettingsService{settings: settings},
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func testNow() time.Time {
	return time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
}

func testSettings() ShopSettings {
	return ShopSettings{FreeShippingThreshold: 300000, DefaultShippingFee: 8000}
}

func wholesaleProduct() domain.Product {
	return domain.Product{
		ID:                   "p1",
		Name:                 "Olive Oil 1L",
		SaleType:             domain.SaleTypeBoth,
		PricePiece:           int64Ptr(12000),
		PriceQuantity:        int64Ptr(9000),
		MinOrderQtyRetail:    intPtr(1),
		MinOrderQtyWholesale: intPtr(10),
		AvailableQuantity:    intPtr(25),
		Visible:              true,
		Status:               domain.ProductStatusActive,
	}
}

func TestValidateCartBumpsToWholesaleMinimum(t *testing.T) {
	svc := newCartServiceForTest(t, catalog(wholesaleProduct()), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", Quantity: 7, UnitType: domain.ModeQuantity}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected advisory-only cart to stay valid: %+v", result.Issues)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected one validated item, got %d", len(result.Items))
	}
	item := result.Items[0]
	if item.Quantity != 10 || item.OriginalQuantity != 7 {
		t.Fatalf("expected quantity bumped 7 -> 10, got %d (original %d)", item.Quantity, item.OriginalQuantity)
	}
	if item.MaxQty == nil || *item.MaxQty != 25 {
		t.Fatalf("expected max quantity 25 (stock ceiling), got %v", item.MaxQty)
	}
	if len(result.Issues) != 1 || result.Issues[0].Type != domain.IssueQuantityAdjusted {
		t.Fatalf("expected a single quantity_adjusted issue, got %+v", result.Issues)
	}
	if item.UnitPrice != 9000 || item.Subtotal != 90000 {
		t.Fatalf("expected wholesale price 9000 and subtotal 90000, got %d / %d", item.UnitPrice, item.Subtotal)
	}
}

func TestValidateCartDoubleAdjustmentMultipleThenStock(t *testing.T) {
	svc := newCartServiceForTest(t, catalog(wholesaleProduct()), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", Quantity: 23, UnitType: domain.ModeQuantity}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected the line to survive, got %d items", len(result.Items))
	}
	if got := result.Items[0].Quantity; got != 20 {
		t.Fatalf("expected 23 rounded up to 30 then capped to 20, got %d", got)
	}
	adjusted := 0
	for _, issue := range result.Issues {
		if issue.Type == domain.IssueQuantityAdjusted {
			adjusted++
		}
	}
	if adjusted != 2 {
		t.Fatalf("expected two quantity_adjusted issues (multiple, then stock), got %d: %+v", adjusted, result.Issues)
	}
	if !result.Valid {
		t.Fatalf("expected cart to remain valid with only advisory issues")
	}
}

func TestValidateCartRemovedProduct(t *testing.T) {
	svc := newCartServiceForTest(t, catalog(), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "ghost", Quantity: 1, UnitType: domain.ModePiece}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected removed product to invalidate the cart")
	}
	if len(result.Issues) != 1 || result.Issues[0].Type != domain.IssueRemoved {
		t.Fatalf("expected a removed issue, got %+v", result.Issues)
	}
	if len(result.RemovedProductIDs) != 1 || result.RemovedProductIDs[0] != "ghost" {
		t.Fatalf("expected ghost in removed ids, got %v", result.RemovedProductIDs)
	}
}

func TestValidateCartHiddenAndUnpublishedAreRemoved(t *testing.T) {
	now := testNow()
	hidden := wholesaleProduct()
	hidden.ID = "hidden"
	hidden.Visible = false

	draft := wholesaleProduct()
	draft.ID = "draft"
	draft.Status = domain.ProductStatusDraft

	future := wholesaleProduct()
	future.ID = "future"
	future.PublishAt = timePtr(now.Add(time.Hour))

	svc := newCartServiceForTest(t, catalog(hidden, draft, future), testSettings(), now)

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{
			{ProductID: "hidden", Quantity: 1, UnitType: domain.ModePiece},
			{ProductID: "draft", Quantity: 1, UnitType: domain.ModePiece},
			{ProductID: "future", Quantity: 1, UnitType: domain.ModePiece},
		},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected invisible products to invalidate the cart")
	}
	if len(result.RemovedProductIDs) != 3 {
		t.Fatalf("expected all three products removed, got %v", result.RemovedProductIDs)
	}
}

func TestValidateCartInvalidCombination(t *testing.T) {
	product := wholesaleProduct()
	product.Combinations = []domain.Combination{{ID: "c1", Options: map[string]string{"Color": "Red"}}}
	svc := newCartServiceForTest(t, catalog(product), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", CombinationID: strPtr("gone"), Quantity: 1, UnitType: domain.ModePiece}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected invalid combination to block the cart")
	}
	if len(result.Issues) != 1 || result.Issues[0].Type != domain.IssueInvalidCombination {
		t.Fatalf("expected invalid_combination, got %+v", result.Issues)
	}
	if len(result.Items) != 0 {
		t.Fatalf("expected the line to be dropped, got %d items", len(result.Items))
	}
}

func TestValidateCartCombinationOverridesAndLabel(t *testing.T) {
	product := wholesaleProduct()
	product.Combinations = []domain.Combination{{
		ID:         "c1",
		Options:    map[string]string{"Size": "M", "Color": "Red"},
		PricePiece: int64Ptr(13000),
		Stock:      intPtr(5),
	}}
	svc := newCartServiceForTest(t, catalog(product), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", CombinationID: strPtr("c1"), Quantity: 2, UnitType: domain.ModePiece}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if !result.Valid || len(result.Items) != 1 {
		t.Fatalf("expected a valid single-item cart, got valid=%v items=%d", result.Valid, len(result.Items))
	}
	item := result.Items[0]
	if item.UnitPrice != 13000 {
		t.Fatalf("expected combination piece price 13000, got %d", item.UnitPrice)
	}
	if item.VariantLabel != "Color: Red, Size: M" {
		t.Fatalf("unexpected variant label %q", item.VariantLabel)
	}
	if item.MaxQty == nil || *item.MaxQty != 5 {
		t.Fatalf("expected combination stock ceiling 5, got %v", item.MaxQty)
	}
}

func TestValidateCartOutOfStock(t *testing.T) {
	soldOut := wholesaleProduct()
	soldOut.ID = "soldout"
	soldOut.AvailableQuantity = intPtr(0)

	flagged := wholesaleProduct()
	flagged.ID = "flagged"
	flagged.InStock = boolPtr(false)

	underLot := wholesaleProduct()
	underLot.ID = "underlot"
	underLot.AvailableQuantity = intPtr(7)

	svc := newCartServiceForTest(t, catalog(soldOut, flagged, underLot), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{
			{ProductID: "soldout", Quantity: 1, UnitType: domain.ModePiece},
			{ProductID: "flagged", Quantity: 1, UnitType: domain.ModePiece},
			{ProductID: "underlot", Quantity: 10, UnitType: domain.ModeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected out-of-stock lines to block the cart")
	}
	if len(result.Issues) != 3 {
		t.Fatalf("expected three issues, got %+v", result.Issues)
	}
	for _, issue := range result.Issues {
		if issue.Type != domain.IssueOutOfStock {
			t.Fatalf("expected out_of_stock issues only, got %+v", issue)
		}
	}
}

func TestValidateCartShippingAndFreeShipping(t *testing.T) {
	product := wholesaleProduct()
	svc := newCartServiceForTest(t, catalog(product), testSettings(), testNow())

	// 10 lots at 9000 = 90000, under the 300000 threshold.
	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", Quantity: 10, UnitType: domain.ModeQuantity}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if result.Shipping != 8000 || result.FreeShipping {
		t.Fatalf("expected paid shipping 8000, got %d free=%v", result.Shipping, result.FreeShipping)
	}
	if result.GrandTotal != 98000 {
		t.Fatalf("expected grand total 98000, got %d", result.GrandTotal)
	}

	// 30 retail pieces at 12000 = 360000, over the threshold.
	rich := wholesaleProduct()
	rich.AvailableQuantity = intPtr(100)
	svc = newCartServiceForTest(t, catalog(rich), testSettings(), testNow())
	result, err = svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", Quantity: 30, UnitType: domain.ModePiece}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if !result.FreeShipping || result.Shipping != 0 {
		t.Fatalf("expected free shipping, got %d free=%v", result.Shipping, result.FreeShipping)
	}
	if result.GrandTotal != 360000 {
		t.Fatalf("expected grand total 360000, got %d", result.GrandTotal)
	}
}

func TestValidateCartPriceDrift(t *testing.T) {
	product := wholesaleProduct()
	product.Flash = domain.FlashSale{
		Active:       true,
		DiscountType: domain.FlashDiscountPercent,
		Percent:      10,
		ApplyTarget:  domain.FlashTargetProduct,
	}
	svc := newCartServiceForTest(t, catalog(product), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines:         []CartLineInput{{ProductID: "p1", Quantity: 1, UnitType: domain.ModePiece}},
		DeclaredLines: []DeclaredLine{{ProductID: "p1", UnitPrice: 12000}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected price drift to stay advisory: %+v", result.Issues)
	}
	var drift *CartIssue
	for i := range result.Issues {
		if result.Issues[i].Type == domain.IssuePriceChanged {
			drift = &result.Issues[i]
		}
	}
	if drift == nil {
		t.Fatalf("expected a price_changed issue, got %+v", result.Issues)
	}
	if drift.Details["newPrice"] != int64(10800) {
		t.Fatalf("expected new price 10800, got %v", drift.Details["newPrice"])
	}
	if result.Items[0].OriginalPrice == nil || *result.Items[0].OriginalPrice != 12000 {
		t.Fatalf("expected original price 12000 on the discounted item, got %v", result.Items[0].OriginalPrice)
	}
}

func TestValidateCartPriceDriftWithinTolerance(t *testing.T) {
	svc := newCartServiceForTest(t, catalog(wholesaleProduct()), testSettings(), testNow())

	result, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines:         []CartLineInput{{ProductID: "p1", Quantity: 1, UnitType: domain.ModePiece}},
		DeclaredLines: []DeclaredLine{{ProductID: "p1", UnitPrice: 11995}},
	})
	if err != nil {
		t.Fatalf("ValidateCart: %v", err)
	}
	for _, issue := range result.Issues {
		if issue.Type == domain.IssuePriceChanged {
			t.Fatalf("expected drift within tolerance to be silent, got %+v", issue)
		}
	}
}

func TestValidateCartInputValidation(t *testing.T) {
	svc := newCartServiceForTest(t, catalog(), testSettings(), testNow())

	if _, err := svc.ValidateCart(context.Background(), ValidateCartCommand{}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for empty cart, got %v", err)
	}

	_, err := svc.ValidateCart(context.Background(), ValidateCartCommand{
		Lines: []CartLineInput{{ProductID: "p1", Quantity: 1, UnitType: "bulk"}},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for unknown unit type, got %v", err)
	}
}
