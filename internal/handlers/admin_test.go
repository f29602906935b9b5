package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/services"
)

type stubInventoryService struct {
	listFn func(ctx context.Context, filter services.StockMovementFilter) (domain.CursorPage[domain.StockMovement], error)
}

func (s *stubInventoryService) ConsumeForOrder(context.Context, services.StockConsumeCommand) (domain.Order, error) {
	return domain.Order{}, errors.New("unexpected ConsumeForOrder call")
}

func (s *stubInventoryService) RestoreForOrder(context.Context, services.StockRestoreCommand) (services.StockRestoreOutcome, error) {
	return services.StockRestoreOutcome{}, errors.New("unexpected RestoreForOrder call")
}

func (s *stubInventoryService) ListMovements(ctx context.Context, filter services.StockMovementFilter) (domain.CursorPage[domain.StockMovement], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("unexpected ListMovements call")
	}
	return s.listFn(ctx, filter)
}

type stubSettingsService struct {
	currentFn func(ctx context.Context) (domain.ShopSettings, error)
	updateFn  func(ctx context.Context, cmd services.UpdateSettingsCommand) (domain.ShopSettings, error)
}

func (s *stubSettingsService) Current(ctx context.Context) (domain.ShopSettings, error) {
	if s.currentFn == nil {
		return domain.ShopSettings{}, errors.New("unexpected Current call")
	}
	return s.currentFn(ctx)
}

func (s *stubSettingsService) Update(ctx context.Context, cmd services.UpdateSettingsCommand) (domain.ShopSettings, error) {
	if s.updateFn == nil {
		return domain.ShopSettings{}, errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, cmd)
}

func newAdminTestRouter(orders services.OrderService, inventory services.InventoryService, settings services.SettingsService) chi.Router {
	h := NewAdminHandlers(nil, orders, inventory, settings)
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	return r
}

func TestAdminTransitionOrder(t *testing.T) {
	var gotCmd services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
			gotCmd = cmd
			order := sampleOrder("user-1")
			order.Status = cmd.TargetStatus
			return order, nil
		},
	}
	router := newAdminTestRouter(orders, &stubInventoryService{}, &stubSettingsService{})

	body := `{"status":"processing","expected_status":"pending"}`
	req := authedRequest(http.MethodPost, "/admin/orders/ord_1:transition", body, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.OrderID != "ord_1" || gotCmd.TargetStatus != domain.OrderStatusProcessing || gotCmd.ActorID != "admin-1" {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	if gotCmd.ExpectedStatus == nil || *gotCmd.ExpectedStatus != domain.OrderStatusPending {
		t.Fatalf("expected optimistic guard to pass through, got %v", gotCmd.ExpectedStatus)
	}
}

func TestAdminTransitionConflict(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidTransition
		},
	}
	router := newAdminTestRouter(orders, &stubInventoryService{}, &stubSettingsService{})

	req := authedRequest(http.MethodPost, "/admin/orders/ord_1:transition", `{"status":"shipped"}`, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminTransitionRequiresStatus(t *testing.T) {
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryService{}, &stubSettingsService{})

	req := authedRequest(http.MethodPost, "/admin/orders/ord_1:transition", `{"reason":"why"}`, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminListStockMovements(t *testing.T) {
	comboID := "c1"
	var gotFilter services.StockMovementFilter
	inventory := &stubInventoryService{
		listFn: func(_ context.Context, filter services.StockMovementFilter) (domain.CursorPage[domain.StockMovement], error) {
			gotFilter = filter
			return domain.CursorPage[domain.StockMovement]{
				Items: []domain.StockMovement{{
					ID:            "mv_1",
					OrderRef:      "ord_1",
					ProductID:     "p1",
					CombinationID: &comboID,
					Delta:         -10,
					Kind:          domain.StockMovementConsume,
					OccurredAt:    time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
				}},
			}, nil
		},
	}
	router := newAdminTestRouter(&stubOrderService{}, inventory, &stubSettingsService{})

	req := authedRequest(http.MethodGet, "/admin/stock-movements?order_id=ord_1&kind=consume&page_size=10", "", "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotFilter.OrderRef != "ord_1" || len(gotFilter.Kind) != 1 || gotFilter.Pagination.PageSize != 10 {
		t.Fatalf("unexpected filter: %+v", gotFilter)
	}

	var resp movementListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Movements) != 1 || resp.Movements[0].Delta != -10 || resp.Movements[0].Kind != "consume" {
		t.Fatalf("unexpected movements: %+v", resp.Movements)
	}
}

func TestAdminListStockMovementsRejectsBadKind(t *testing.T) {
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryService{}, &stubSettingsService{})
	req := authedRequest(http.MethodGet, "/admin/stock-movements?kind=adjust", "", "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminUpdateSettings(t *testing.T) {
	var gotCmd services.UpdateSettingsCommand
	settings := &stubSettingsService{
		updateFn: func(_ context.Context, cmd services.UpdateSettingsCommand) (domain.ShopSettings, error) {
			gotCmd = cmd
			return domain.ShopSettings{
				FreeShippingThreshold: *cmd.FreeShippingThreshold,
				DefaultShippingFee:    8000,
				UpdatedAt:             time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryService{}, settings)

	req := authedRequest(http.MethodPatch, "/admin/settings", `{"free_shipping_threshold":250000}`, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.FreeShippingThreshold == nil || *gotCmd.FreeShippingThreshold != 250000 || gotCmd.ActorID != "admin-1" {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}

	var resp settingsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Settings.FreeShippingThreshold != 250000 || resp.Settings.DefaultShippingFee != 8000 {
		t.Fatalf("unexpected settings: %+v", resp.Settings)
	}
}

func TestAdminUpdateSettingsRequiresFields(t *testing.T) {
	router := newAdminTestRouter(&stubOrderService{}, &stubInventoryService{}, &stubSettingsService{})
	req := authedRequest(http.MethodPatch, "/admin/settings", `{}`, "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
