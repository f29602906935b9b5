package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals malformed order commands.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound means the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderCartInvalid means cart validation found blocking issues; the
	// client must reconcile and resubmit.
	ErrOrderCartInvalid = errors.New("order: cart validation failed")
	// ErrOrderTotalMismatch means the client total diverges from the server
	// total beyond the tolerance.
	ErrOrderTotalMismatch = errors.New("order: total mismatch")
	// ErrOrderInvalidTransition means the requested status change is not
	// allowed from the current status.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderAlreadyCanceled means a cancellation was requested for an order
	// that is already canceled. It unwraps to ErrOrderInvalidTransition.
	ErrOrderAlreadyCanceled = fmt.Errorf("%w: order already canceled", ErrOrderInvalidTransition)
	// ErrOrderUnavailable wraps infrastructure failures.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

// CartRejectedError carries the full validation result alongside
// ErrOrderCartInvalid so handlers can return the issue list to the client.
type CartRejectedError struct {
	Validation CartValidation
}

func (e *CartRejectedError) Error() string {
	return fmt.Sprintf("order: cart validation failed with %d issues", len(e.Validation.Issues))
}

func (e *CartRejectedError) Unwrap() error { return ErrOrderCartInvalid }

// TotalMismatchError carries both totals alongside ErrOrderTotalMismatch so
// handlers can echo the expected amount back to the client.
type TotalMismatchError struct {
	Declared int64
	Computed int64
}

func (e *TotalMismatchError) Error() string {
	return fmt.Sprintf("order: total mismatch: declared %d, computed %d", e.Declared, e.Computed)
}

func (e *TotalMismatchError) Unwrap() error { return ErrOrderTotalMismatch }

const (
	minCancelReasonLen = 5
	maxCancelReasonLen = 500

	defaultTotalTolerance = int64(500)
)

// orderTransitions maps each status to the statuses it may move to.
// delivered, completed, canceled, and returned leave no cancel path;
// returned is reachable only from delivered.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCanceled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCanceled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCanceled},
	domain.OrderStatusDelivered:  {domain.OrderStatusCompleted, domain.OrderStatusReturned},
	domain.OrderStatusCompleted:  {},
	domain.OrderStatusCanceled:   {},
	domain.OrderStatusReturned:   {},
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type orderService struct {
	orders         repositories.OrderRepository
	counters       repositories.CounterRepository
	cart           CartService
	inventory      InventoryService
	notifications  NotificationDispatcher
	refunds        RefundInitiator
	sanitize       func(string) string
	totalTolerance int64
	now            Clock
	newID          IDGenerator
	logger         Logger
}

// OrderServiceDeps wires every collaborator of the order lifecycle.
// Refunds is optional; without it a paid card cancellation still flags
// refund_required but initiates nothing.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Counters       repositories.CounterRepository
	Cart           CartService
	Inventory      InventoryService
	Notifications  NotificationDispatcher
	Refunds        RefundInitiator
	TotalTolerance int64
	Clock          Clock
	IDGenerator    IDGenerator
	Logger         Logger
}

func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("order service: notification dispatcher is required")
	}
	tolerance := deps.TotalTolerance
	if tolerance <= 0 {
		tolerance = defaultTotalTolerance
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		return nil, errors.New("order service: id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	policy := bluemonday.StrictPolicy()
	return &orderService{
		orders:         deps.Orders,
		counters:       deps.Counters,
		cart:           deps.Cart,
		inventory:      deps.Inventory,
		notifications:  deps.Notifications,
		refunds:        deps.Refunds,
		sanitize:       func(s string) string { return strings.TrimSpace(policy.Sanitize(s)) },
		totalTolerance: tolerance,
		now:            func() time.Time { return now().UTC() },
		newID:          newID,
		logger:         logger,
	}, nil
}

// CreateOrder validates the submitted cart, re-derives every amount server
// side, checks the declared total within the tolerance, and consumes stock
// while persisting the order in one transaction. Blocking cart issues reject
// the whole submission; advisory adjustments proceed with corrected values.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateCreateOrderCommand(cmd); err != nil {
		return Order{}, err
	}

	validation, err := s.cart.ValidateCart(ctx, ValidateCartCommand{
		UserID:        cmd.UserID,
		Lines:         cmd.Lines,
		DeclaredLines: cmd.DeclaredLines,
	})
	if err != nil {
		if errors.Is(err, ErrCartInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if !validation.Valid {
		return Order{}, &CartRejectedError{Validation: validation}
	}
	if len(validation.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no orderable items", ErrOrderInvalidInput)
	}

	if delta := abs64(cmd.DeclaredTotal - validation.GrandTotal); delta > s.totalTolerance {
		return Order{}, &TotalMismatchError{Declared: cmd.DeclaredTotal, Computed: validation.GrandTotal}
	}

	now := s.now()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, fmt.Errorf("%w: order number: %v", ErrOrderUnavailable, err)
	}

	order := Order{
		ID:            s.newID(),
		OrderNumber:   number,
		UserID:        cmd.UserID,
		Status:        domain.OrderStatusPending,
		PaymentMethod: cmd.PaymentMethod,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         orderItemsFromValidation(validation.Items),
		Totals: OrderTotals{
			ItemsTotal: validation.ItemsTotal,
			Shipping:   validation.Shipping,
			Total:      validation.GrandTotal,
		},
		Contact:   cmd.Contact,
		Metadata:  cmd.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.inventory.ConsumeForOrder(ctx, StockConsumeCommand{Order: order})
	if err != nil {
		if errors.Is(err, ErrStockInsufficient) || errors.Is(err, ErrStockProductNotFound) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"userId":      created.UserID,
		"total":       created.Totals.Total,
		"payment":     string(created.PaymentMethod),
	})
	s.notifications.DispatchOrderCreated(ctx, created)
	return created, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// TransitionStatus applies a forward lifecycle move. Cancellation goes
// through Cancel, which owns the reason requirement and the notification
// matrix; a canceled target here is rejected.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == domain.OrderStatusCanceled {
		return Order{}, fmt.Errorf("%w: cancellation requires a reason, use the cancel operation", ErrOrderInvalidInput)
	}
	if _, known := orderTransitions[cmd.TargetStatus]; !known {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected %q, found %q", ErrOrderInvalidTransition, *cmd.ExpectedStatus, order.Status)
	}
	if !transitionAllowed(order.Status, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: %q -> %q", ErrOrderInvalidTransition, order.Status, cmd.TargetStatus)
	}

	now := s.now()

	// Entering returned credits consumed stock back in the same transaction
	// as the status write.
	if cmd.TargetStatus == domain.OrderStatusReturned {
		outcome, err := s.inventory.RestoreForOrder(ctx, StockRestoreCommand{
			OrderID:      order.ID,
			TargetStatus: domain.OrderStatusReturned,
			Update: repositories.OrderStatusUpdate{
				Metadata:   cmd.Metadata,
				ReturnedAt: &now,
			},
		})
		if err != nil {
			return Order{}, s.translateInventoryError(err)
		}
		s.logger(ctx, "order.status_changed", map[string]any{
			"orderId":  order.ID,
			"from":     string(order.Status),
			"to":       string(outcome.Order.Status),
			"restored": outcome.Restored,
			"actorId":  cmd.ActorID,
		})
		return outcome.Order, nil
	}

	previous := order.Status
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now
	if cmd.TargetStatus == domain.OrderStatusDelivered {
		order.DeliveredAt = &now
	}
	if cmd.TargetStatus == domain.OrderStatusCompleted && order.PaymentMethod == domain.PaymentMethodCOD {
		// COD money changes hands at the door; completion closes the loop.
		order.PaymentStatus = domain.PaymentStatusPaid
	}
	if cmd.Metadata != nil {
		if order.Metadata == nil {
			order.Metadata = map[string]any{}
		}
		for k, v := range cmd.Metadata {
			order.Metadata[k] = v
		}
	}

	updated, err := s.orders.Update(ctx, order, repositories.OrderUpdateExpectation{Status: &previous})
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actorId": cmd.ActorID,
	})
	return updated, nil
}

// Cancel moves an order to canceled with a sanitized 5 to 500 character
// reason, restores consumed stock, routes notifications by payment method and
// payment status, and initiates a refund for captured card payments.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cmd.OrderID) == "" {
		return CancelOrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := s.sanitize(cmd.Reason)
	if n := utf8.RuneCountInString(reason); n < minCancelReasonLen || n > maxCancelReasonLen {
		return CancelOrderResult{}, fmt.Errorf("%w: cancel reason must be between %d and %d characters", ErrOrderInvalidInput, minCancelReasonLen, maxCancelReasonLen)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return CancelOrderResult{}, s.translateRepoError(err)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return CancelOrderResult{}, fmt.Errorf("%w: expected %q, found %q", ErrOrderInvalidTransition, *cmd.ExpectedStatus, order.Status)
	}
	if order.Status == domain.OrderStatusCanceled {
		return CancelOrderResult{}, ErrOrderAlreadyCanceled
	}
	if !transitionAllowed(order.Status, domain.OrderStatusCanceled) {
		return CancelOrderResult{}, fmt.Errorf("%w: %q is not cancelable", ErrOrderInvalidTransition, order.Status)
	}

	decision := cancellationDecision(order)
	now := s.now()
	update := repositories.OrderStatusUpdate{CanceledAt: &now}
	if decision.RefundRequired {
		refundRequired := domain.PaymentStatusRefundRequired
		update.PaymentStatus = &refundRequired
	}

	outcome, err := s.inventory.RestoreForOrder(ctx, StockRestoreCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusCanceled,
		CancelReason: &reason,
		Update:       update,
	})
	if err != nil {
		return CancelOrderResult{}, s.translateInventoryError(err)
	}

	if decision.RefundRequired && s.refunds != nil {
		refundRef, refundErr := s.refunds.InitiateRefund(ctx, RefundCommand{
			OrderID:        outcome.Order.ID,
			PaymentRef:     paymentRef(outcome.Order),
			Amount:         outcome.Order.Totals.Total,
			Currency:       "tnd",
			Reason:         reason,
			IdempotencyKey: "refund-" + outcome.Order.ID,
		})
		if refundErr != nil {
			// The order stays refund_required; an operator retries the refund.
			s.logger(ctx, "order.refund_failed", map[string]any{
				"orderId": outcome.Order.ID,
				"error":   refundErr.Error(),
			})
		} else {
			s.logger(ctx, "order.refund_initiated", map[string]any{
				"orderId":   outcome.Order.ID,
				"refundRef": refundRef,
			})
		}
	}

	s.logger(ctx, "order.canceled", map[string]any{
		"orderId":        outcome.Order.ID,
		"actorId":        cmd.ActorID,
		"restored":       outcome.Restored,
		"refundRequired": decision.RefundRequired,
	})
	s.notifications.DispatchOrderCanceled(ctx, outcome.Order, decision)

	return CancelOrderResult{Order: outcome.Order, Decision: decision, Restored: outcome.Restored}, nil
}

// cancellationDecision implements the notification matrix: a captured card
// payment alerts both parties and requires a refund; an uncaptured card
// payment concerns only the admin; cash on delivery informs both with no
// refund.
func cancellationDecision(order Order) CancellationDecision {
	if order.PaymentMethod == domain.PaymentMethodCard {
		if order.PaymentStatus == domain.PaymentStatusPaid {
			return CancellationDecision{NotifyAdmin: true, NotifyCustomer: true, RefundRequired: true}
		}
		return CancellationDecision{NotifyAdmin: true}
	}
	return CancellationDecision{NotifyAdmin: true, NotifyCustomer: true}
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	counterID := fmt.Sprintf("orders-%04d%02d", now.Year(), int(now.Month()))
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SO-%04d%02d-%06d", now.Year(), int(now.Month()), seq), nil
}

func orderItemsFromValidation(items []ValidatedCartItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItem{
			ProductID:     item.ProductID,
			CombinationID: item.CombinationID,
			Name:          item.Name,
			VariantLabel:  item.VariantLabel,
			UnitType:      item.UnitType,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Subtotal:      item.Subtotal,
		})
	}
	return out
}

func validateCreateOrderCommand(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: cart has no lines", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodCOD:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if strings.TrimSpace(cmd.Contact.Name) == "" || strings.TrimSpace(cmd.Contact.Phone) == "" {
		return fmt.Errorf("%w: contact name and phone are required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Contact.Address) == "" {
		return fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	}
	if cmd.DeclaredTotal <= 0 {
		return fmt.Errorf("%w: declared total must be positive", ErrOrderInvalidInput)
	}
	return nil
}

func paymentRef(order Order) string {
	if order.Metadata == nil {
		return ""
	}
	if ref, ok := order.Metadata["paymentIntentId"].(string); ok {
		return ref
	}
	return ""
}

func (s *orderService) translateRepoError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		if repoErr.IsConflict() {
			return fmt.Errorf("%w: %v", ErrOrderInvalidTransition, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func (s *orderService) translateInventoryError(err error) error {
	switch {
	case errors.Is(err, ErrStockOrderNotFound):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case errors.Is(err, ErrStockConflict), errors.Is(err, ErrStockInvalidInput):
		return fmt.Errorf("%w: %v", ErrOrderInvalidTransition, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ OrderService = (*orderService)(nil)
