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

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Stock-mutating writes go through the StockLedger; this repository covers
// reads and plain status updates.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize, 20, 100)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userRef", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		createdAt, id, err := pagination.DecodeTimeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(createdAt, id)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	var nextToken string
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeTimeCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Update rewrites the order guarded by an optimistic expectation on the
// current status and update time.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expected repositories.OrderUpdateExpectation) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order update: id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if expected.Status != nil && current.Status != string(*expected.Status) {
			return status.Errorf(codes.FailedPrecondition, "order %s status is %s, expected %s", order.ID, current.Status, *expected.Status)
		}
		if expected.UpdatedAt != nil && !current.UpdatedAt.Equal(expected.UpdatedAt.UTC()) {
			return status.Errorf(codes.FailedPrecondition, "order %s was modified concurrently", order.ID)
		}

		doc := newOrderDocument(order)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

// Document shapes ------------------------------------------------------------

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	UserRef       string              `firestore:"userRef"`
	Status        string              `firestore:"status"`
	PaymentMethod string              `firestore:"paymentMethod"`
	PaymentStatus string              `firestore:"paymentStatus"`
	Items         []orderItemDocument `firestore:"items"`
	ItemsTotal    int64               `firestore:"itemsTotal"`
	Shipping      int64               `firestore:"shipping"`
	Total         int64               `firestore:"total"`
	Contact       orderContactDoc     `firestore:"contact"`
	StockConsumed bool                `firestore:"stockConsumed"`
	CancelReason  *string             `firestore:"cancelReason,omitempty"`
	Metadata      map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	DeliveredAt   *time.Time          `firestore:"deliveredAt,omitempty"`
	CanceledAt    *time.Time          `firestore:"canceledAt,omitempty"`
	ReturnedAt    *time.Time          `firestore:"returnedAt,omitempty"`
}

type orderItemDocument struct {
	ProductRef    string  `firestore:"productRef"`
	CombinationID *string `firestore:"combinationId,omitempty"`
	Name          string  `firestore:"name"`
	VariantLabel  string  `firestore:"variantLabel,omitempty"`
	UnitType      string  `firestore:"unitType"`
	UnitPrice     int64   `firestore:"unitPrice"`
	Quantity      int     `firestore:"qty"`
	Subtotal      int64   `firestore:"subtotal"`
}

type orderContactDoc struct {
	Name    string `firestore:"name"`
	Email   string `firestore:"email,omitempty"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
	Region  string `firestore:"region,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductRef:    item.ProductID,
			CombinationID: item.CombinationID,
			Name:          item.Name,
			VariantLabel:  item.VariantLabel,
			UnitType:      string(item.UnitType),
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Subtotal:      item.Subtotal,
		}
	}
	return orderDocument{
		OrderNumber:   o.OrderNumber,
		UserRef:       o.UserID,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		Items:         items,
		ItemsTotal:    o.Totals.ItemsTotal,
		Shipping:      o.Totals.Shipping,
		Total:         o.Totals.Total,
		Contact: orderContactDoc{
			Name:    o.Contact.Name,
			Email:   o.Contact.Email,
			Phone:   o.Contact.Phone,
			Address: o.Contact.Address,
			Region:  o.Contact.Region,
		},
		StockConsumed: o.StockConsumed,
		CancelReason:  o.CancelReason,
		Metadata:      o.Metadata,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
		DeliveredAt:   o.DeliveredAt,
		CanceledAt:    o.CanceledAt,
		ReturnedAt:    o.ReturnedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:     item.ProductRef,
			CombinationID: item.CombinationID,
			Name:          item.Name,
			VariantLabel:  item.VariantLabel,
			UnitType:      domain.PurchaseMode(item.UnitType),
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Subtotal:      item.Subtotal,
		}
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserRef,
		Status:        domain.OrderStatus(d.Status),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Items:         items,
		Totals: domain.OrderTotals{
			ItemsTotal: d.ItemsTotal,
			Shipping:   d.Shipping,
			Total:      d.Total,
		},
		Contact: domain.OrderContact{
			Name:    d.Contact.Name,
			Email:   d.Contact.Email,
			Phone:   d.Contact.Phone,
			Address: d.Contact.Address,
			Region:  d.Contact.Region,
		},
		StockConsumed: d.StockConsumed,
		CancelReason:  d.CancelReason,
		Metadata:      d.Metadata,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		DeliveredAt:   d.DeliveredAt,
		CanceledAt:    d.CanceledAt,
		ReturnedAt:    d.ReturnedAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
