package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// AdminHandlers exposes back-office order transitions, the stock movement
// audit trail, and shop settings management.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
	settings  services.SettingsService
}

const (
	maxAdminBodySize        = 32 * 1024
	defaultMovementPageSize = 50
	maxMovementPageSize     = 200
)

// NewAdminHandlers constructs handlers restricted to the admin role.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService, settings services.SettingsService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
		settings:  settings,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Get("/stock-movements", h.listStockMovements)
	r.Get("/settings", h.getSettings)
	r.Patch("/settings", h.updateSettings)
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.TrimSpace(req.Status))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      identity.UID,
		Reason:       strings.TrimSpace(req.Reason),
		Metadata:     req.Metadata,
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected := domain.OrderStatus(raw)
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		h.writeAdminOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listStockMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.inventory != nil, "inventory"); !ok {
		return
	}

	filter, err := parseMovementQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListMovements(ctx, filter)
	if err != nil {
		h.writeInventoryError(ctx, w, err)
		return
	}

	payload := movementListResponse{
		Movements:     make([]movementPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, mv := range page.Items {
		payload.Movements = append(payload.Movements, movementPayload{
			ID:            mv.ID,
			OrderRef:      mv.OrderRef,
			ProductID:     mv.ProductID,
			CombinationID: mv.CombinationID,
			Delta:         mv.Delta,
			Kind:          string(mv.Kind),
			OccurredAt:    formatTime(mv.OccurredAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.settings != nil, "settings"); !ok {
		return
	}

	settings, err := h.settings.Current(ctx)
	if err != nil {
		h.writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settingsResponse{Settings: buildSettingsPayload(settings)})
}

func (h *AdminHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.settings != nil, "settings")
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateSettingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.FreeShippingThreshold == nil && req.DefaultShippingFee == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "no editable fields provided", http.StatusBadRequest))
		return
	}

	settings, err := h.settings.Update(ctx, services.UpdateSettingsCommand{
		FreeShippingThreshold: req.FreeShippingThreshold,
		DefaultShippingFee:    req.DefaultShippingFee,
		ActorID:               identity.UID,
	})
	if err != nil {
		h.writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settingsResponse{Settings: buildSettingsPayload(settings)})
}

func (h *AdminHandlers) writeAdminOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to transition order", http.StatusInternalServerError))
	}
}

func (h *AdminHandlers) writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to list stock movements", http.StatusInternalServerError))
	}
}

func (h *AdminHandlers) writeSettingsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSettingsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to update settings", http.StatusInternalServerError))
	}
}

type transitionOrderRequest struct {
	Status         string         `json:"status"`
	ExpectedStatus string         `json:"expected_status"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata"`
}

type updateSettingsRequest struct {
	FreeShippingThreshold *int64 `json:"free_shipping_threshold"`
	DefaultShippingFee    *int64 `json:"default_shipping_fee"`
}

type settingsResponse struct {
	Settings settingsPayload `json:"settings"`
}

type settingsPayload struct {
	FreeShippingThreshold int64  `json:"free_shipping_threshold"`
	DefaultShippingFee    int64  `json:"default_shipping_fee"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

func buildSettingsPayload(s domain.ShopSettings) settingsPayload {
	payload := settingsPayload{
		FreeShippingThreshold: s.FreeShippingThreshold,
		DefaultShippingFee:    s.DefaultShippingFee,
	}
	if !s.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(s.UpdatedAt)
	}
	return payload
}

type movementListResponse struct {
	Movements     []movementPayload `json:"movements"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type movementPayload struct {
	ID            string  `json:"id"`
	OrderRef      string  `json:"order_ref"`
	ProductID     string  `json:"product_id"`
	CombinationID *string `json:"combination_id,omitempty"`
	Delta         int     `json:"delta"`
	Kind          string  `json:"kind"`
	OccurredAt    string  `json:"occurred_at"`
}

func parseMovementQuery(r *http.Request) (services.StockMovementFilter, error) {
	var filter services.StockMovementFilter

	page, err := parsePagination(r, defaultMovementPageSize, maxMovementPageSize)
	if err != nil {
		return filter, err
	}
	filter.Pagination = page
	filter.OrderRef = strings.TrimSpace(r.URL.Query().Get("order_id"))
	filter.ProductID = strings.TrimSpace(r.URL.Query().Get("product_id"))

	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			kind := domain.StockMovementKind(strings.TrimSpace(part))
			switch kind {
			case domain.StockMovementConsume, domain.StockMovementRestore:
				filter.Kind = append(filter.Kind, kind)
			default:
				return filter, fmt.Errorf("unknown movement kind %q", part)
			}
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err := parseRFC3339(raw)
		if err != nil {
			return filter, errors.New("from must be an RFC3339 timestamp")
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		to, err := parseRFC3339(raw)
		if err != nil {
			return filter, errors.New("to must be an RFC3339 timestamp")
		}
		filter.DateRange.To = &to
	}

	return filter, nil
}
