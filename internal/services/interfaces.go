package services

import (
	"context"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Product              = domain.Product
	Combination          = domain.Combination
	PurchaseMode         = domain.PurchaseMode
	CartLineInput        = domain.CartLineInput
	CartIssue            = domain.CartIssue
	CartIssueType        = domain.CartIssueType
	ValidatedCartItem    = domain.ValidatedCartItem
	CartValidation       = domain.CartValidation
	ShopSettings         = domain.ShopSettings
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderTotals          = domain.OrderTotals
	OrderContact         = domain.OrderContact
	OrderStatus          = domain.OrderStatus
	PaymentMethod        = domain.PaymentMethod
	PaymentStatus        = domain.PaymentStatus
	StockMovement        = domain.StockMovement
	NotificationAudience = domain.NotificationAudience
	OrderNotification    = domain.OrderNotification
)

// Logger is the minimal structured logging dependency injected into services.
type Logger func(ctx context.Context, msg string, fields map[string]any)

// Clock supplies the current time; injected so tests can pin it.
type Clock func() time.Time

// IDGenerator mints new entity identifiers.
type IDGenerator func() string

// CartService validates client-submitted carts against current catalog state.
type CartService interface {
	ValidateCart(ctx context.Context, cmd ValidateCartCommand) (CartValidation, error)
}

// OrderService drives order creation, listing, and lifecycle transitions.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error)
}

// InventoryService exposes stock ledger operations and the movement audit trail.
type InventoryService interface {
	ConsumeForOrder(ctx context.Context, cmd StockConsumeCommand) (Order, error)
	RestoreForOrder(ctx context.Context, cmd StockRestoreCommand) (StockRestoreOutcome, error)
	ListMovements(ctx context.Context, filter StockMovementFilter) (domain.CursorPage[StockMovement], error)
}

// SettingsService is the cached read-through accessor for the shop settings
// singleton.
type SettingsService interface {
	Current(ctx context.Context) (ShopSettings, error)
	Update(ctx context.Context, cmd UpdateSettingsCommand) (ShopSettings, error)
}

// NotificationPublisher hands order notifications to the transport used by the
// email worker.
type NotificationPublisher interface {
	PublishOrderNotification(ctx context.Context, notification domain.OrderNotification) (string, error)
}

// NotificationDispatcher builds and fires order notifications without ever
// failing the calling flow.
type NotificationDispatcher interface {
	DispatchOrderCreated(ctx context.Context, order Order)
	DispatchOrderCanceled(ctx context.Context, order Order, decision CancellationDecision)
}

// RefundInitiator starts a refund for a captured card payment.
type RefundInitiator interface {
	InitiateRefund(ctx context.Context, cmd RefundCommand) (string, error)
}

// Command and DTO definitions ------------------------------------------------

// ValidateCartCommand carries the client cart lines plus the client's view of
// line prices, used only for drift reporting.
type ValidateCartCommand struct {
	UserID        string
	Lines         []CartLineInput
	DeclaredLines []DeclaredLine
}

// DeclaredLine is the client's last-known unit price for a line.
type DeclaredLine struct {
	ProductID     string
	CombinationID *string
	UnitPrice     int64
}

// CreateOrderCommand carries everything needed to turn a cart submission into
// a persisted order. DeclaredTotal is the client-computed grand total checked
// against the server total within the configured tolerance.
type CreateOrderCommand struct {
	UserID        string
	Lines         []CartLineInput
	DeclaredLines []DeclaredLine
	DeclaredTotal int64
	PaymentMethod PaymentMethod
	Contact       OrderContact
	Metadata      map[string]any
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderStatusTransitionCommand moves an order to a new lifecycle status.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
	Metadata       map[string]any
}

// CancelOrderCommand cancels an order with a mandatory reason.
type CancelOrderCommand struct {
	OrderID        string
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
}

// CancellationDecision captures who gets notified and whether a refund is due.
type CancellationDecision struct {
	NotifyAdmin    bool
	NotifyCustomer bool
	RefundRequired bool
}

// CancelOrderResult bundles the canceled order with the routing decision so
// handlers can surface the refund flag.
type CancelOrderResult struct {
	Order    Order
	Decision CancellationDecision
	Restored bool
}

// StockConsumeCommand decrements stock for a fully built order atomically.
type StockConsumeCommand struct {
	Order Order
}

// StockRestoreCommand credits consumed stock back on a restock-eligible
// transition.
type StockRestoreCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	CancelReason *string
	Update       repositories.OrderStatusUpdate
}

// StockRestoreOutcome reports the updated order and whether stock moved.
type StockRestoreOutcome struct {
	Order    Order
	Restored bool
}

// StockMovementFilter narrows the ledger audit trail.
type StockMovementFilter struct {
	OrderRef   string
	ProductID  string
	Kind       []domain.StockMovementKind
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// UpdateSettingsCommand mutates the shop settings singleton.
type UpdateSettingsCommand struct {
	FreeShippingThreshold *int64
	DefaultShippingFee    *int64
	ActorID               string
}

// RefundCommand identifies the payment to refund.
type RefundCommand struct {
	OrderID        string
	PaymentRef     string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
}
