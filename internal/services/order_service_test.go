package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

type stubOrderRepo struct {
	findFn   func(ctx context.Context, id string) (domain.Order, error)
	listFn   func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	updateFn func(ctx context.Context, order domain.Order, expected repositories.OrderUpdateExpectation) (domain.Order, error)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, errors.New("unexpected FindByID")
	}
	return s.findFn(ctx, id)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("unexpected List")
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order, expected repositories.OrderUpdateExpectation) (domain.Order, error) {
	if s.updateFn == nil {
		return domain.Order{}, errors.New("unexpected Update")
	}
	return s.updateFn(ctx, order, expected)
}

type stubCounterRepo struct {
	next int64
}

func (s *stubCounterRepo) Next(_ context.Context, _ string, step int64) (int64, error) {
	s.next += step
	return s.next, nil
}

type stubCartService struct {
	validateFn func(ctx context.Context, cmd ValidateCartCommand) (CartValidation, error)
}

func (s *stubCartService) ValidateCart(ctx context.Context, cmd ValidateCartCommand) (CartValidation, error) {
	return s.validateFn(ctx, cmd)
}

type stubInventoryService struct {
	consumeFn func(ctx context.Context, cmd StockConsumeCommand) (Order, error)
	restoreFn func(ctx context.Context, cmd StockRestoreCommand) (StockRestoreOutcome, error)
}

func (s *stubInventoryService) ConsumeForOrder(ctx context.Context, cmd StockConsumeCommand) (Order, error) {
	if s.consumeFn == nil {
		return Order{}, errors.New("unexpected ConsumeForOrder")
	}
	return s.consumeFn(ctx, cmd)
}

func (s *stubInventoryService) RestoreForOrder(ctx context.Context, cmd StockRestoreCommand) (StockRestoreOutcome, error) {
	if s.restoreFn == nil {
		return StockRestoreOutcome{}, errors.New("unexpected RestoreForOrder")
	}
	return s.restoreFn(ctx, cmd)
}

func (s *stubInventoryService) ListMovements(context.Context, StockMovementFilter) (domain.CursorPage[StockMovement], error) {
	return domain.CursorPage[StockMovement]{}, errors.New("not implemented")
}

type recordingDispatcher struct {
	created  []Order
	canceled []Order
	decision CancellationDecision
}

func (r *recordingDispatcher) DispatchOrderCreated(_ context.Context, order Order) {
	r.created = append(r.created, order)
}

func (r *recordingDispatcher) DispatchOrderCanceled(_ context.Context, order Order, decision CancellationDecision) {
	r.canceled = append(r.canceled, order)
	r.decision = decision
}

type recordingRefunds struct {
	calls []RefundCommand
	err   error
}

func (r *recordingRefunds) InitiateRefund(_ context.Context, cmd RefundCommand) (string, error) {
	r.calls = append(r.calls, cmd)
	if r.err != nil {
		return "", r.err
	}
	return "re_1", nil
}

func validValidation() CartValidation {
	return CartValidation{
		Items: []ValidatedCartItem{{
			ProductID: "p1",
			Name:      "Olive Oil 1L",
			UnitType:  domain.ModeQuantity,
			UnitPrice: 9000,
			Quantity:  10,
			MinQty:    10,
			Subtotal:  90000,
		}},
		ItemsTotal: 90000,
		Shipping:   8000,
		GrandTotal: 98000,
		Valid:      true,
	}
}

func createCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:        "u1",
		Lines:         []CartLineInput{{ProductID: "p1", Quantity: 10, UnitType: domain.ModeQuantity}},
		DeclaredTotal: 98000,
		PaymentMethod: domain.PaymentMethodCOD,
		Contact: OrderContact{
			Name:    "Amel B",
			Phone:   "+216 20 000 000",
			Address: "12 Rue de Carthage, Tunis",
		},
	}
}

type orderServiceFixture struct {
	svc        OrderService
	orders     *stubOrderRepo
	inventory  *stubInventoryService
	dispatcher *recordingDispatcher
	refunds    *recordingRefunds
}

func newOrderServiceForTest(t *testing.T, now time.Time, validation CartValidation) *orderServiceFixture {
	t.Helper()
	f := &orderServiceFixture{
		orders: &stubOrderRepo{},
		inventory: &stubInventoryService{
			consumeFn: func(_ context.Context, cmd StockConsumeCommand) (Order, error) {
				order := cmd.Order
				order.StockConsumed = true
				return order, nil
			},
		},
		dispatcher: &recordingDispatcher{},
		refunds:    &recordingRefunds{},
	}
	seq := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        f.orders,
		Counters:      &stubCounterRepo{},
		Cart:          &stubCartService{validateFn: func(context.Context, ValidateCartCommand) (CartValidation, error) { return validation, nil }},
		Inventory:     f.inventory,
		Notifications: f.dispatcher,
		Refunds:       f.refunds,
		Clock:         fixedClock(now),
		IDGenerator: func() string {
			seq++
			return "ord_" + strings.Repeat("0", 3) + string(rune('0'+seq))
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func TestCreateOrderHappyPath(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())

	order, err := f.svc.CreateOrder(context.Background(), createCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %q", order.Status)
	}
	if order.OrderNumber != "SO-202605-000001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if !order.StockConsumed {
		t.Fatalf("expected stock consumed through the ledger")
	}
	if order.Totals.Total != 98000 || order.Totals.Shipping != 8000 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if len(order.Items) != 1 || order.Items[0].Subtotal != 90000 {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if len(f.dispatcher.created) != 1 {
		t.Fatalf("expected one created notification, got %d", len(f.dispatcher.created))
	}
}

func TestCreateOrderRejectsBlockedCart(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	blocked := CartValidation{
		Issues: []CartIssue{{Type: domain.IssueOutOfStock, ProductID: "p1"}},
		Valid:  false,
	}
	f := newOrderServiceForTest(t, now, blocked)

	_, err := f.svc.CreateOrder(context.Background(), createCommand())
	if !errors.Is(err, ErrOrderCartInvalid) {
		t.Fatalf("expected ErrOrderCartInvalid, got %v", err)
	}
	var rejected *CartRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected CartRejectedError, got %T", err)
	}
	if len(rejected.Validation.Issues) != 1 {
		t.Fatalf("expected the issue list to travel with the error, got %+v", rejected.Validation)
	}
	if len(f.dispatcher.created) != 0 {
		t.Fatalf("expected no notification for a rejected cart")
	}
}

func TestCreateOrderTotalTolerance(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())

	cmd := createCommand()
	cmd.DeclaredTotal = 98000 + 500
	if _, err := f.svc.CreateOrder(context.Background(), cmd); err != nil {
		t.Fatalf("expected drift at the tolerance edge to pass, got %v", err)
	}

	cmd.DeclaredTotal = 98000 + 501
	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderTotalMismatch) {
		t.Fatalf("expected ErrOrderTotalMismatch, got %v", err)
	}
}

func TestCreateOrderValidatesCommand(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())

	cmd := createCommand()
	cmd.PaymentMethod = "crypto"
	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown payment method, got %v", err)
	}

	cmd = createCommand()
	cmd.Contact.Phone = ""
	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for missing phone, got %v", err)
	}
}

func cancelFixture(t *testing.T, order Order) *orderServiceFixture {
	t.Helper()
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())
	f.orders.findFn = func(_ context.Context, id string) (domain.Order, error) {
		if id != order.ID {
			return domain.Order{}, errors.New("not found")
		}
		return order, nil
	}
	f.inventory.restoreFn = func(_ context.Context, cmd StockRestoreCommand) (StockRestoreOutcome, error) {
		updated := order
		updated.Status = cmd.TargetStatus
		updated.CancelReason = cmd.CancelReason
		updated.StockConsumed = false
		if cmd.Update.PaymentStatus != nil {
			updated.PaymentStatus = *cmd.Update.PaymentStatus
		}
		return StockRestoreOutcome{Order: updated, Restored: order.StockConsumed}, nil
	}
	return f
}

func pendingCardOrder() Order {
	return Order{
		ID:            "ord_9",
		OrderNumber:   "SO-202605-000009",
		UserID:        "u1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: domain.PaymentStatusPending,
		StockConsumed: true,
		Totals:        OrderTotals{Total: 98000},
		Metadata:      map[string]any{"paymentIntentId": "pi_123"},
	}
}

func TestCancelPaidCardOrder(t *testing.T) {
	order := pendingCardOrder()
	order.PaymentStatus = domain.PaymentStatusPaid
	f := cancelFixture(t, order)

	result, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Reason:  "changed my mind about this purchase",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !result.Decision.NotifyAdmin || !result.Decision.NotifyCustomer || !result.Decision.RefundRequired {
		t.Fatalf("expected admin+customer+refund for a paid card order, got %+v", result.Decision)
	}
	if result.Order.PaymentStatus != domain.PaymentStatusRefundRequired {
		t.Fatalf("expected refund_required payment status, got %q", result.Order.PaymentStatus)
	}
	if !result.Restored {
		t.Fatalf("expected stock restoration")
	}
	if len(f.refunds.calls) != 1 || f.refunds.calls[0].PaymentRef != "pi_123" {
		t.Fatalf("expected a refund against pi_123, got %+v", f.refunds.calls)
	}
	if len(f.dispatcher.canceled) != 1 || !f.dispatcher.decision.RefundRequired {
		t.Fatalf("expected a canceled notification carrying the refund flag")
	}
}

func TestCancelUnpaidCardOrderNotifiesAdminOnly(t *testing.T) {
	f := cancelFixture(t, pendingCardOrder())

	result, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_9",
		Reason:  "ordered the wrong size entirely",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !result.Decision.NotifyAdmin || result.Decision.NotifyCustomer || result.Decision.RefundRequired {
		t.Fatalf("expected admin-only with no refund, got %+v", result.Decision)
	}
	if len(f.refunds.calls) != 0 {
		t.Fatalf("expected no refund for an uncaptured payment")
	}
}

func TestCancelCODOrderNotifiesBothWithoutRefund(t *testing.T) {
	order := pendingCardOrder()
	order.PaymentMethod = domain.PaymentMethodCOD
	f := cancelFixture(t, order)

	result, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Reason:  "delivery is taking far too long",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !result.Decision.NotifyAdmin || !result.Decision.NotifyCustomer || result.Decision.RefundRequired {
		t.Fatalf("expected both parties and no refund for COD, got %+v", result.Decision)
	}
}

func TestCancelReasonValidation(t *testing.T) {
	f := cancelFixture(t, pendingCardOrder())

	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_9", Reason: "nah"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for a short reason, got %v", err)
	}

	// Markup is stripped before the length check.
	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_9", Reason: "<b><i>no</i></b>"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for markup-only reason, got %v", err)
	}

	long := strings.Repeat("x", 501)
	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_9", Reason: long}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for an overlong reason, got %v", err)
	}
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	order := pendingCardOrder()
	order.Status = domain.OrderStatusDelivered
	f := cancelFixture(t, order)

	_, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Reason:  "too late to cancel but trying anyway",
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
}

func TestCancelAlreadyCanceledOrderRejected(t *testing.T) {
	order := pendingCardOrder()
	order.Status = domain.OrderStatusCanceled
	f := cancelFixture(t, order)

	_, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Reason:  "canceling what is already canceled",
	})
	if !errors.Is(err, ErrOrderAlreadyCanceled) {
		t.Fatalf("expected ErrOrderAlreadyCanceled, got %v", err)
	}
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected the error to unwrap to ErrOrderInvalidTransition, got %v", err)
	}
}

func TestCancelRefundFailureKeepsOrderCanceled(t *testing.T) {
	order := pendingCardOrder()
	order.PaymentStatus = domain.PaymentStatusPaid
	f := cancelFixture(t, order)
	f.refunds.err = errors.New("stripe unavailable")

	result, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Reason:  "card was charged by mistake",
	})
	if err != nil {
		t.Fatalf("expected cancel to survive a refund failure, got %v", err)
	}
	if result.Order.PaymentStatus != domain.PaymentStatusRefundRequired {
		t.Fatalf("expected refund_required to persist for operator retry, got %q", result.Order.PaymentStatus)
	}
}

func TestTransitionStatusForward(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())
	order := pendingCardOrder()
	f.orders.findFn = func(context.Context, string) (domain.Order, error) { return order, nil }
	f.orders.updateFn = func(_ context.Context, updated domain.Order, expected repositories.OrderUpdateExpectation) (domain.Order, error) {
		if expected.Status == nil || *expected.Status != domain.OrderStatusPending {
			t.Fatalf("expected optimistic guard on pending, got %+v", expected)
		}
		return updated, nil
	}

	updated, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusProcessing,
		ActorID:      "admin_1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %q", updated.Status)
	}
}

func TestTransitionStatusRejectsSkips(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())
	order := pendingCardOrder()
	f.orders.findFn = func(context.Context, string) (domain.Order, error) { return order, nil }

	_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusDelivered,
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition for pending -> delivered, got %v", err)
	}

	_, err = f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusCanceled,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected canceled target to be routed through Cancel, got %v", err)
	}
}

func TestTransitionStatusReturnedRestoresStock(t *testing.T) {
	now := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	f := newOrderServiceForTest(t, now, validValidation())
	order := pendingCardOrder()
	order.Status = domain.OrderStatusDelivered
	f.orders.findFn = func(context.Context, string) (domain.Order, error) { return order, nil }

	restoreCalled := false
	f.inventory.restoreFn = func(_ context.Context, cmd StockRestoreCommand) (StockRestoreOutcome, error) {
		restoreCalled = true
		if cmd.TargetStatus != domain.OrderStatusReturned {
			t.Fatalf("expected returned target, got %q", cmd.TargetStatus)
		}
		if cmd.Update.ReturnedAt == nil {
			t.Fatalf("expected ReturnedAt to be set")
		}
		updated := order
		updated.Status = domain.OrderStatusReturned
		updated.StockConsumed = false
		return StockRestoreOutcome{Order: updated, Restored: true}, nil
	}

	updated, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusReturned,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !restoreCalled {
		t.Fatalf("expected the return to go through the stock ledger")
	}
	if updated.Status != domain.OrderStatusReturned {
		t.Fatalf("expected returned, got %q", updated.Status)
	}
}
