package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// OrderHandlers exposes order creation, history, and cancellation for the
// authenticated customer.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	limiter rateLimiter
}

const (
	maxOrderBodySize     = 64 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlerOption customises the order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderRateLimit throttles order creation per user.
func WithOrderRateLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs handlers enforcing Firebase authentication before invoking the order service.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order attempts, slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd, err := parseCreateOrderRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.UserID = identity.UID

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	filter, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.UserID = identity.UID

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	// Another customer's order is indistinguishable from a missing one.
	if order.UserID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another customer", http.StatusForbidden))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cancelOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderAlreadyCanceled):
			httpx.WriteError(ctx, w, httpx.NewError("already_canceled", "order is already canceled", http.StatusBadRequest))
		case errors.Is(err, services.ErrOrderInvalidTransition):
			httpx.WriteError(ctx, w, httpx.NewError("cancel_not_allowed", err.Error(), http.StatusForbidden))
		default:
			h.writeOrderError(ctx, w, err)
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Order:          buildOrderPayload(result.Order),
		RefundRequired: result.Decision.RefundRequired,
		StockRestored:  result.Restored,
	})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejected *services.CartRejectedError
	if errors.As(err, &rejected) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart", "cart validation found blocking issues", http.StatusConflict).
			WithDetails(map[string]any{"validation": buildValidationPayload(rejected.Validation)}))
		return
	}
	var mismatch *services.TotalMismatchError
	if errors.As(err, &mismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("total_mismatch", "declared total diverges from the computed total", http.StatusConflict).
			WithDetails(map[string]any{
				"expected_total": mismatch.Computed,
				"provided_total": mismatch.Declared,
			}))
		return
	}

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
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order", http.StatusInternalServerError))
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter, serviceReady bool, name string) (*auth.Identity, bool) {
	if !serviceReady {
		httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type createOrderRequest struct {
	Address string            `json:"address"`
	Region  string            `json:"region"`
	Client  orderClientInfo   `json:"client"`
	Payment orderPaymentInfo  `json:"payment"`
	Total   int64             `json:"total"`
	Items   []cartItemRequest `json:"items"`
}

type orderClientInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type orderPaymentInfo struct {
	Method string `json:"method"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func parseCreateOrderRequest(body []byte) (services.CreateOrderCommand, error) {
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return services.CreateOrderCommand{}, errors.New("invalid JSON payload")
	}

	itemsJSON, err := json.Marshal(validateCartRequest{Items: req.Items})
	if err != nil {
		return services.CreateOrderCommand{}, errors.New("invalid items payload")
	}
	lines, declared, err := parseCartItems(itemsJSON)
	if err != nil {
		return services.CreateOrderCommand{}, err
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Payment.Method)))
	switch method {
	case domain.PaymentMethodCard, domain.PaymentMethodCOD:
	default:
		return services.CreateOrderCommand{}, fmt.Errorf("payment.method must be card or cod")
	}
	if req.Total <= 0 {
		return services.CreateOrderCommand{}, errors.New("total must be positive")
	}

	return services.CreateOrderCommand{
		Lines:         lines,
		DeclaredLines: declared,
		DeclaredTotal: req.Total,
		PaymentMethod: method,
		Contact: domain.OrderContact{
			Name:    strings.TrimSpace(req.Client.Name),
			Email:   strings.TrimSpace(req.Client.Email),
			Phone:   strings.TrimSpace(req.Client.Phone),
			Address: strings.TrimSpace(req.Address),
			Region:  strings.TrimSpace(req.Region),
		},
	}, nil
}

func parseOrderListQuery(r *http.Request) (services.OrderListFilter, error) {
	var filter services.OrderListFilter

	page, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		return filter, err
	}
	filter.Pagination = page

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.TrimSpace(part))
			switch status {
			case domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusShipped,
				domain.OrderStatusDelivered, domain.OrderStatusCompleted, domain.OrderStatusCanceled,
				domain.OrderStatusReturned:
				filter.Status = append(filter.Status, status)
			default:
				return filter, fmt.Errorf("unknown status %q", part)
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

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type cancelOrderResponse struct {
	Order          orderPayload `json:"order"`
	RefundRequired bool         `json:"refund_required"`
	StockRestored  bool         `json:"stock_restored"`
}

type orderPayload struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"order_number"`
	Status        string              `json:"status"`
	PaymentMethod string              `json:"payment_method"`
	PaymentStatus string              `json:"payment_status"`
	Items         []orderItemPayload  `json:"items"`
	Totals        orderTotalsPayload  `json:"totals"`
	Contact       orderContactPayload `json:"contact"`
	CancelReason  *string             `json:"cancel_reason,omitempty"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at,omitempty"`
	DeliveredAt   string              `json:"delivered_at,omitempty"`
	CanceledAt    string              `json:"canceled_at,omitempty"`
	ReturnedAt    string              `json:"returned_at,omitempty"`
}

type orderItemPayload struct {
	ProductID     string  `json:"product_id"`
	CombinationID *string `json:"combination_id,omitempty"`
	Name          string  `json:"name"`
	VariantLabel  string  `json:"variant_label,omitempty"`
	UnitType      string  `json:"unit_type"`
	UnitPrice     int64   `json:"unit_price"`
	Quantity      int     `json:"quantity"`
	Subtotal      int64   `json:"subtotal"`
}

type orderTotalsPayload struct {
	ItemsTotal int64 `json:"items_total"`
	Shipping   int64 `json:"shipping"`
	Total      int64 `json:"total"`
}

type orderContactPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Region  string `json:"region,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			ItemsTotal: order.Totals.ItemsTotal,
			Shipping:   order.Totals.Shipping,
			Total:      order.Totals.Total,
		},
		Contact: orderContactPayload{
			Name:    order.Contact.Name,
			Email:   order.Contact.Email,
			Phone:   order.Contact.Phone,
			Address: order.Contact.Address,
			Region:  order.Contact.Region,
		},
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
		CanceledAt:   formatTimePtr(order.CanceledAt),
		ReturnedAt:   formatTimePtr(order.ReturnedAt),
	}
	if !order.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(order.UpdatedAt)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:     item.ProductID,
			CombinationID: item.CombinationID,
			Name:          item.Name,
			VariantLabel:  item.VariantLabel,
			UnitType:      string(item.UnitType),
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Subtotal:      item.Subtotal,
		})
	}
	return payload
}
