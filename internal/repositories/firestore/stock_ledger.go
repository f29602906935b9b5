package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/platform/pagination"
	"github.com/souqline/api/internal/repositories"
)

const stockMovementsCollection = "stockMovements"

// StockLedger implements repositories.StockLedger on Firestore transactions.
// Every consume and restore touches the order document, the affected product
// documents, and the movement audit trail inside one transaction, so the
// StockConsumed flag and the stock counters can never disagree.
type StockLedger struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

func NewStockLedger(provider *pfirestore.Provider) (*StockLedger, error) {
	if provider == nil {
		return nil, errors.New("stock ledger requires firestore provider")
	}
	return &StockLedger{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// Consume decrements stock for every order line and creates the order row
// with StockConsumed=true. Any line that would push a counter negative fails
// the whole transaction.
func (l *StockLedger) Consume(ctx context.Context, req repositories.StockConsumeRequest) (repositories.StockConsumeResult, error) {
	if l == nil || l.provider == nil {
		return repositories.StockConsumeResult{}, errors.New("stock ledger not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.StockConsumeResult{}, errors.New("stock consume: order id is required")
	}
	if len(order.Items) == 0 {
		return repositories.StockConsumeResult{}, errors.New("stock consume: order has no items")
	}

	now := req.Now.UTC()
	var result repositories.StockConsumeResult

	err := l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := l.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(orderRef); err == nil {
			return repositories.NewStockError(repositories.StockErrorAlreadyConsumed, fmt.Sprintf("order %s already exists", order.ID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// Firestore transactions require every read before the first write,
		// so products are loaded up front and mutated in memory.
		docs, refs, err := l.readProducts(ctx, tx, order.Items)
		if err != nil {
			return err
		}

		stocks := make(map[string]repositories.StockLevel)
		for _, item := range order.Items {
			doc := docs[item.ProductID]
			level, err := applyDelta(doc, item, -item.Quantity, now)
			if err != nil {
				return err
			}
			stocks[stockKey(item.ProductID, item.CombinationID)] = level
		}

		for productID, doc := range docs {
			if err := tx.Set(refs[productID], doc); err != nil {
				return err
			}
		}

		order.StockConsumed = true
		if order.Status == "" {
			order.Status = domain.OrderStatusPending
		}
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		orderDoc := newOrderDocument(order)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewStockError(repositories.StockErrorAlreadyConsumed, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}

		if err := l.writeMovements(ctx, tx, order, domain.StockMovementConsume, now); err != nil {
			return err
		}

		result = repositories.StockConsumeResult{
			Order:  orderDoc.toDomain(order.ID),
			Stocks: stocks,
		}
		return nil
	})
	if err != nil {
		return repositories.StockConsumeResult{}, wrapStockError("stock.consume", err)
	}
	return result, nil
}

// Restore credits consumed stock back while moving the order into the target
// status. An order whose stock was already returned only gets the status
// fields applied and reports Restored=false.
func (l *StockLedger) Restore(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
	if l == nil || l.provider == nil {
		return repositories.StockRestoreResult{}, errors.New("stock ledger not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.StockRestoreResult{}, errors.New("stock restore: order id is required")
	}

	now := req.Now.UTC()
	var result repositories.StockRestoreResult

	err := l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := l.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorOrderNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order := doc.toDomain(orderID)

		restored := order.StockConsumed
		stocks := make(map[string]repositories.StockLevel)

		if restored {
			docs, refs, err := l.readProducts(ctx, tx, order.Items)
			if err != nil {
				return err
			}
			for _, item := range order.Items {
				productDoc := docs[item.ProductID]
				level, err := applyDelta(productDoc, item, item.Quantity, now)
				if err != nil {
					return err
				}
				stocks[stockKey(item.ProductID, item.CombinationID)] = level
			}
			for productID, productDoc := range docs {
				if err := tx.Set(refs[productID], productDoc); err != nil {
					return err
				}
			}
			if err := l.writeMovements(ctx, tx, order, domain.StockMovementRestore, now); err != nil {
				return err
			}
		}

		order.Status = req.TargetStatus
		order.StockConsumed = false
		order.UpdatedAt = now
		if req.CancelReason != nil {
			order.CancelReason = req.CancelReason
		}
		if req.Update.PaymentStatus != nil {
			order.PaymentStatus = *req.Update.PaymentStatus
		}
		if req.Update.CanceledAt != nil {
			order.CanceledAt = req.Update.CanceledAt
		}
		if req.Update.ReturnedAt != nil {
			order.ReturnedAt = req.Update.ReturnedAt
		}
		if req.Update.DeliveredAt != nil {
			order.DeliveredAt = req.Update.DeliveredAt
		}
		if req.Update.Metadata != nil {
			if order.Metadata == nil {
				order.Metadata = map[string]any{}
			}
			for k, v := range req.Update.Metadata {
				order.Metadata[k] = v
			}
		}

		updatedDoc := newOrderDocument(order)
		if err := tx.Set(orderRef, updatedDoc); err != nil {
			return err
		}

		result = repositories.StockRestoreResult{
			Order:    updatedDoc.toDomain(orderID),
			Restored: restored,
			Stocks:   stocks,
		}
		return nil
	})
	if err != nil {
		return repositories.StockRestoreResult{}, wrapStockError("stock.restore", err)
	}
	return result, nil
}

func (l *StockLedger) ListMovements(ctx context.Context, query repositories.StockMovementQuery) (domain.CursorPage[domain.StockMovement], error) {
	if l == nil || l.provider == nil {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("stock ledger not initialised")
	}

	pageSize := pagination.ClampPageSize(query.Pagination.PageSize, 50, 200)

	client, err := l.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, pfirestore.WrapError("stock.movements", err)
	}

	fsQuery := client.Collection(stockMovementsCollection).Query
	if orderRef := strings.TrimSpace(query.OrderRef); orderRef != "" {
		fsQuery = fsQuery.Where("orderRef", "==", orderRef)
	}
	if productID := strings.TrimSpace(query.ProductID); productID != "" {
		fsQuery = fsQuery.Where("productRef", "==", productID)
	}
	if len(query.Kind) > 0 {
		kinds := make([]string, len(query.Kind))
		for i, k := range query.Kind {
			kinds[i] = string(k)
		}
		fsQuery = fsQuery.Where("kind", "in", kinds)
	}
	if query.DateRange.From != nil {
		fsQuery = fsQuery.Where("occurredAt", ">=", query.DateRange.From.UTC())
	}
	if query.DateRange.To != nil {
		fsQuery = fsQuery.Where("occurredAt", "<=", query.DateRange.To.UTC())
	}
	fsQuery = fsQuery.
		OrderBy("occurredAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.Pagination.PageToken); token != "" {
		occurredAt, id, err := pagination.DecodeTimeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, pfirestore.WrapError("stock.movements", err)
		}
		fsQuery = fsQuery.StartAfter(occurredAt, id)
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var movements []domain.StockMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, pfirestore.WrapError("stock.movements", err)
		}
		var doc movementDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockMovement]{}, fmt.Errorf("decode stock movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID))
	}

	var nextToken string
	if len(movements) > pageSize {
		movements = movements[:pageSize]
		last := movements[len(movements)-1]
		encoded, err := pagination.EncodeTimeCursor(last.OccurredAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, pfirestore.WrapError("stock.movements", err)
		}
		nextToken = encoded
	}
	return domain.CursorPage[domain.StockMovement]{Items: movements, NextPageToken: nextToken}, nil
}

// readProducts loads every product referenced by the items once.
func (l *StockLedger) readProducts(ctx context.Context, tx *firestore.Transaction, items []domain.OrderItem) (map[string]*productDocument, map[string]*firestore.DocumentRef, error) {
	docs := make(map[string]*productDocument)
	refs := make(map[string]*firestore.DocumentRef)
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, nil, repositories.NewStockError(repositories.StockErrorProductNotFound, "stock: item has no product id", nil)
		}
		if _, done := docs[productID]; done {
			continue
		}
		ref, err := l.products.DocumentRef(ctx, productID)
		if err != nil {
			return nil, nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, nil, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return nil, nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, nil, fmt.Errorf("decode product %s: %w", productID, err)
		}
		docs[productID] = &doc
		refs[productID] = ref
	}
	return docs, refs, nil
}

// applyDelta mutates the stock counter the item draws from. A negative delta
// consumes, a positive one restores. Counters that are absent stay absent;
// nil means the stock is unbounded.
func applyDelta(doc *productDocument, item domain.OrderItem, delta int, now time.Time) (repositories.StockLevel, error) {
	level := repositories.StockLevel{
		ProductID:     item.ProductID,
		CombinationID: item.CombinationID,
		UpdatedAt:     now,
	}

	if item.CombinationID != nil {
		var combo *combinationDocument
		for i := range doc.Combinations {
			if doc.Combinations[i].ID == *item.CombinationID {
				combo = &doc.Combinations[i]
				break
			}
		}
		if combo == nil {
			return level, repositories.NewStockError(repositories.StockErrorCombinationNotFound, fmt.Sprintf("combination %s not found on product %s", *item.CombinationID, item.ProductID), nil)
		}
		if combo.Stock == nil {
			return level, nil
		}
		next := *combo.Stock + delta
		if next < 0 {
			return level, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s/%s", item.ProductID, *item.CombinationID), nil)
		}
		combo.Stock = &next
		doc.UpdatedAt = now
		level.Remaining = &next
		return level, nil
	}

	if doc.AvailableQuantity == nil {
		return level, nil
	}
	next := *doc.AvailableQuantity + delta
	if next < 0 {
		return level, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", item.ProductID), nil)
	}
	doc.AvailableQuantity = &next
	inStock := next > 0
	doc.InStock = &inStock
	doc.UpdatedAt = now
	level.Remaining = &next
	return level, nil
}

func (l *StockLedger) writeMovements(ctx context.Context, tx *firestore.Transaction, order domain.Order, kind domain.StockMovementKind, now time.Time) error {
	client, err := l.provider.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(stockMovementsCollection)
	for _, item := range order.Items {
		delta := -item.Quantity
		if kind == domain.StockMovementRestore {
			delta = item.Quantity
		}
		doc := movementDocument{
			OrderRef:      order.ID,
			ProductRef:    item.ProductID,
			CombinationID: item.CombinationID,
			Delta:         delta,
			Kind:          string(kind),
			OccurredAt:    now,
		}
		if err := tx.Create(coll.NewDoc(), doc); err != nil {
			return err
		}
	}
	return nil
}

func stockKey(productID string, combinationID *string) string {
	if combinationID == nil {
		return productID
	}
	return productID + "/" + *combinationID
}

type movementDocument struct {
	OrderRef      string    `firestore:"orderRef"`
	ProductRef    string    `firestore:"productRef"`
	CombinationID *string   `firestore:"combinationId,omitempty"`
	Delta         int       `firestore:"delta"`
	Kind          string    `firestore:"kind"`
	OccurredAt    time.Time `firestore:"occurredAt"`
}

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:            id,
		OrderRef:      d.OrderRef,
		ProductID:     d.ProductRef,
		CombinationID: d.CombinationID,
		Delta:         d.Delta,
		Kind:          domain.StockMovementKind(d.Kind),
		OccurredAt:    d.OccurredAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.StockLedger = (*StockLedger)(nil)
