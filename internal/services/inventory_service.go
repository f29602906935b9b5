package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals a malformed consume or restore command.
	ErrStockInvalidInput = errors.New("inventory: invalid input")
	// ErrStockInsufficient means at least one line would push stock negative.
	ErrStockInsufficient = errors.New("inventory: insufficient stock")
	// ErrStockOrderNotFound means the referenced order does not exist.
	ErrStockOrderNotFound = errors.New("inventory: order not found")
	// ErrStockProductNotFound means a referenced product or combination is gone.
	ErrStockProductNotFound = errors.New("inventory: product not found")
	// ErrStockConflict means the order state forbids the requested mutation.
	ErrStockConflict = errors.New("inventory: conflicting order state")
	// ErrStockUnavailable wraps infrastructure failures.
	ErrStockUnavailable = errors.New("inventory: store unavailable")
)

type inventoryService struct {
	ledger repositories.StockLedger
	now    Clock
	logger Logger
}

// InventoryServiceDeps wires the transactional ledger behind the inventory
// service.
type InventoryServiceDeps struct {
	Ledger repositories.StockLedger
	Clock  Clock
	Logger Logger
}

func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("inventory service: stock ledger is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		ledger: deps.Ledger,
		now:    func() time.Time { return now().UTC() },
		logger: logger,
	}, nil
}

// ConsumeForOrder decrements stock for every order line and persists the
// order with StockConsumed set, all in one transaction. Any line that cannot
// be satisfied fails the whole call with no partial decrement.
func (s *inventoryService) ConsumeForOrder(ctx context.Context, cmd StockConsumeCommand) (Order, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cmd.Order.ID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrStockInvalidInput)
	}
	if len(cmd.Order.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order has no items", ErrStockInvalidInput)
	}
	for i, item := range cmd.Order.Items {
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item %d has non-positive quantity", ErrStockInvalidInput, i)
		}
	}

	result, err := s.ledger.Consume(ctx, repositories.StockConsumeRequest{
		Order: cmd.Order,
		Now:   s.now(),
	})
	if err != nil {
		s.logger(ctx, "inventory.consume_failed", map[string]any{
			"orderId": cmd.Order.ID,
			"error":   err.Error(),
		})
		return Order{}, s.translateLedgerError("consume", err)
	}

	s.logger(ctx, "inventory.consumed", map[string]any{
		"orderId": result.Order.ID,
		"lines":   len(result.Order.Items),
	})
	return result.Order, nil
}

// RestoreForOrder credits consumed stock back while applying the status
// update. Restoring an order whose stock was already returned is a no-op
// reported through Restored=false, never a double credit.
func (s *inventoryService) RestoreForOrder(ctx context.Context, cmd StockRestoreCommand) (StockRestoreOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cmd.OrderID == "" {
		return StockRestoreOutcome{}, fmt.Errorf("%w: order id is required", ErrStockInvalidInput)
	}
	switch cmd.TargetStatus {
	case domain.OrderStatusCanceled, domain.OrderStatusReturned:
	default:
		return StockRestoreOutcome{}, fmt.Errorf("%w: status %q is not restock-eligible", ErrStockInvalidInput, cmd.TargetStatus)
	}

	result, err := s.ledger.Restore(ctx, repositories.StockRestoreRequest{
		OrderID:      cmd.OrderID,
		TargetStatus: cmd.TargetStatus,
		CancelReason: cmd.CancelReason,
		Update:       cmd.Update,
		Now:          s.now(),
	})
	if err != nil {
		s.logger(ctx, "inventory.restore_failed", map[string]any{
			"orderId": cmd.OrderID,
			"error":   err.Error(),
		})
		return StockRestoreOutcome{}, s.translateLedgerError("restore", err)
	}

	s.logger(ctx, "inventory.restored", map[string]any{
		"orderId":  result.Order.ID,
		"restored": result.Restored,
		"status":   string(result.Order.Status),
	})
	return StockRestoreOutcome{Order: result.Order, Restored: result.Restored}, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, filter StockMovementFilter) (domain.CursorPage[StockMovement], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	page, err := s.ledger.ListMovements(ctx, repositories.StockMovementQuery{
		OrderRef:   filter.OrderRef,
		ProductID:  filter.ProductID,
		Kind:       filter.Kind,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[StockMovement]{}, s.translateLedgerError("list movements", err)
	}
	return page, nil
}

func (s *inventoryService) translateLedgerError(op string, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockInsufficient, stockErr.Message)
		case repositories.StockErrorOrderNotFound:
			return fmt.Errorf("%w: %s", ErrStockOrderNotFound, stockErr.Message)
		case repositories.StockErrorProductNotFound, repositories.StockErrorCombinationNotFound:
			return fmt.Errorf("%w: %s", ErrStockProductNotFound, stockErr.Message)
		case repositories.StockErrorAlreadyConsumed, repositories.StockErrorInvalidState:
			return fmt.Errorf("%w: %s", ErrStockConflict, stockErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return fmt.Errorf("%w: %v", ErrStockOrderNotFound, err)
		}
		if repoErr.IsConflict() {
			return fmt.Errorf("%w: %v", ErrStockConflict, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStockUnavailable, op, err)
}

var _ InventoryService = (*inventoryService)(nil)
