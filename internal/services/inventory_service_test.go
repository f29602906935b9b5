package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

type stubStockLedger struct {
	consumeFn func(ctx context.Context, req repositories.StockConsumeRequest) (repositories.StockConsumeResult, error)
	restoreFn func(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error)
	listFn    func(ctx context.Context, q repositories.StockMovementQuery) (domain.CursorPage[domain.StockMovement], error)
}

func (s *stubStockLedger) Consume(ctx context.Context, req repositories.StockConsumeRequest) (repositories.StockConsumeResult, error) {
	if s.consumeFn == nil {
		return repositories.StockConsumeResult{}, errors.New("unexpected Consume call")
	}
	return s.consumeFn(ctx, req)
}

func (s *stubStockLedger) Restore(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
	if s.restoreFn == nil {
		return repositories.StockRestoreResult{}, errors.New("unexpected Restore call")
	}
	return s.restoreFn(ctx, req)
}

func (s *stubStockLedger) ListMovements(ctx context.Context, q repositories.StockMovementQuery) (domain.CursorPage[domain.StockMovement], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("unexpected ListMovements call")
	}
	return s.listFn(ctx, q)
}

func sampleOrder() Order {
	return Order{
		ID:     "ord_1",
		UserID: "u1",
		Status: domain.OrderStatusPending,
		Items: []OrderItem{{
			ProductID: "p1",
			Quantity:  10,
			UnitPrice: 9000,
			Subtotal:  90000,
		}},
	}
}

func TestConsumeForOrderMarksStock(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	ledger := &stubStockLedger{
		consumeFn: func(_ context.Context, req repositories.StockConsumeRequest) (repositories.StockConsumeResult, error) {
			if !req.Now.Equal(now) {
				t.Fatalf("expected clock-pinned Now, got %v", req.Now)
			}
			order := req.Order
			order.StockConsumed = true
			return repositories.StockConsumeResult{Order: order}, nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: ledger, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	order, err := svc.ConsumeForOrder(context.Background(), StockConsumeCommand{Order: sampleOrder()})
	if err != nil {
		t.Fatalf("ConsumeForOrder: %v", err)
	}
	if !order.StockConsumed {
		t.Fatalf("expected StockConsumed to be set by the ledger transaction")
	}
}

func TestConsumeForOrderTranslatesInsufficientStock(t *testing.T) {
	ledger := &stubStockLedger{
		consumeFn: func(context.Context, repositories.StockConsumeRequest) (repositories.StockConsumeResult, error) {
			return repositories.StockConsumeResult{}, repositories.NewStockError(repositories.StockErrorInsufficient, "p1 short by 3", nil)
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: ledger})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	if _, err := svc.ConsumeForOrder(context.Background(), StockConsumeCommand{Order: sampleOrder()}); !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected ErrStockInsufficient, got %v", err)
	}
}

func TestConsumeForOrderValidatesInput(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: &stubStockLedger{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	if _, err := svc.ConsumeForOrder(context.Background(), StockConsumeCommand{}); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected ErrStockInvalidInput for missing order id, got %v", err)
	}

	order := sampleOrder()
	order.Items = nil
	if _, err := svc.ConsumeForOrder(context.Background(), StockConsumeCommand{Order: order}); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected ErrStockInvalidInput for empty items, got %v", err)
	}
}

func TestRestoreForOrderRejectsNonRestockStatus(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: &stubStockLedger{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	_, err = svc.RestoreForOrder(context.Background(), StockRestoreCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected ErrStockInvalidInput for shipped target, got %v", err)
	}
}

func TestRestoreForOrderIdempotentNoOp(t *testing.T) {
	ledger := &stubStockLedger{
		restoreFn: func(_ context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
			order := sampleOrder()
			order.Status = req.TargetStatus
			order.StockConsumed = false
			return repositories.StockRestoreResult{Order: order, Restored: false}, nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: ledger})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	outcome, err := svc.RestoreForOrder(context.Background(), StockRestoreCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusCanceled,
	})
	if err != nil {
		t.Fatalf("RestoreForOrder: %v", err)
	}
	if outcome.Restored {
		t.Fatalf("expected already-restored order to report Restored=false")
	}
}

func TestRestoreForOrderTranslatesNotFound(t *testing.T) {
	ledger := &stubStockLedger{
		restoreFn: func(context.Context, repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
			return repositories.StockRestoreResult{}, repositories.NewStockError(repositories.StockErrorOrderNotFound, "order missing", nil)
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: ledger})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	_, err = svc.RestoreForOrder(context.Background(), StockRestoreCommand{
		OrderID:      "ghost",
		TargetStatus: domain.OrderStatusCanceled,
	})
	if !errors.Is(err, ErrStockOrderNotFound) {
		t.Fatalf("expected ErrStockOrderNotFound, got %v", err)
	}
}

func TestListMovementsPassesFilter(t *testing.T) {
	ledger := &stubStockLedger{
		listFn: func(_ context.Context, q repositories.StockMovementQuery) (domain.CursorPage[domain.StockMovement], error) {
			if q.OrderRef != "ord_1" || q.ProductID != "p1" {
				t.Fatalf("unexpected query %+v", q)
			}
			return domain.CursorPage[domain.StockMovement]{
				Items: []domain.StockMovement{{ID: "mv_1", OrderRef: "ord_1", ProductID: "p1", Delta: -10, Kind: domain.StockMovementConsume}},
			}, nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Ledger: ledger})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	page, err := svc.ListMovements(context.Background(), StockMovementFilter{OrderRef: "ord_1", ProductID: "p1"})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Delta != -10 {
		t.Fatalf("unexpected page %+v", page)
	}
}
