package repositories

import (
	"context"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	StockLedger() StockLedger
	Settings() SettingsRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog state for cart validation and admin surfaces.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs fetches all requested products in one round trip; missing ids
	// are simply absent from the result map, never an error.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	Status     []domain.ProductStatus
	VisibleSet *bool
	Pagination domain.Pagination
}

// StockLedger mutates product and combination stock transactionally.
//
// Consume decrements stock for every line and persists the order row with
// StockConsumed=true in one atomic transaction; Restore credits stock back
// and flips the flag off together with the order status update. Both fail as
// a whole, never per line.
type StockLedger interface {
	Consume(ctx context.Context, req StockConsumeRequest) (StockConsumeResult, error)
	Restore(ctx context.Context, req StockRestoreRequest) (StockRestoreResult, error)
	ListMovements(ctx context.Context, query StockMovementQuery) (domain.CursorPage[domain.StockMovement], error)
}

// StockConsumeRequest carries the order to persist plus the lines to decrement.
type StockConsumeRequest struct {
	Order domain.Order
	Now   time.Time
}

// StockConsumeResult reports the persisted order and the post-decrement stock
// levels per affected product.
type StockConsumeResult struct {
	Order  domain.Order
	Stocks map[string]StockLevel
}

// StockRestoreRequest identifies the order whose consumed stock is credited
// back. Status, reason, and timestamps are applied in the same transaction.
type StockRestoreRequest struct {
	OrderID      string
	TargetStatus domain.OrderStatus
	CancelReason *string
	Update       OrderStatusUpdate
	Now          time.Time
}

// StockRestoreResult reports the updated order, whether stock actually moved
// (false when the order had already been restored), and resulting levels.
type StockRestoreResult struct {
	Order    domain.Order
	Restored bool
	Stocks   map[string]StockLevel
}

// StockLevel is a point-in-time stock reading for a product or combination.
type StockLevel struct {
	ProductID     string
	CombinationID *string
	Remaining     *int
	UpdatedAt     time.Time
}

// StockMovementQuery filters the ledger audit trail.
type StockMovementQuery struct {
	OrderRef   string
	ProductID  string
	Kind       []domain.StockMovementKind
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderRepository persists orders and supports filtered listings.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Update(ctx context.Context, order domain.Order, expected OrderUpdateExpectation) (domain.Order, error)
}

// OrderListFilter narrows order listings by owner, status, and creation window.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderUpdateExpectation guards order mutations against concurrent writers.
type OrderUpdateExpectation struct {
	Status    *domain.OrderStatus
	UpdatedAt *time.Time
}

// OrderStatusUpdate carries the optional fields applied alongside a status change.
type OrderStatusUpdate struct {
	PaymentStatus *domain.PaymentStatus
	Metadata      map[string]any
	DeliveredAt   *time.Time
	CanceledAt    *time.Time
	ReturnedAt    *time.Time
}

// SettingsRepository owns the singleton shop settings document.
type SettingsRepository interface {
	// Get returns the settings document, creating it with the provided
	// defaults when absent.
	Get(ctx context.Context, defaults domain.ShopSettings) (domain.ShopSettings, error)
	Update(ctx context.Context, settings domain.ShopSettings) (domain.ShopSettings, error)
}

// CounterRepository yields monotonically increasing sequence values used for
// human-readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository verifies connectivity with the backing store.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
