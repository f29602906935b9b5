package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// SaleType declares which purchase modes a product can be bought in.
type SaleType string

const (
	// SaleTypePiece restricts the product to retail single-unit purchases.
	SaleTypePiece SaleType = "piece"
	// SaleTypeQuantity restricts the product to wholesale bulk purchases.
	SaleTypeQuantity SaleType = "quantity"
	// SaleTypeBoth allows the product in either purchase mode.
	SaleTypeBoth SaleType = "both"
)

// PurchaseMode selects the retail or wholesale buying context for a cart line.
type PurchaseMode string

const (
	// ModePiece is the retail single-unit context.
	ModePiece PurchaseMode = "piece"
	// ModeQuantity is the wholesale bulk-lot context.
	ModeQuantity PurchaseMode = "quantity"
)

// ProductStatus reflects the catalog lifecycle state of a product.
type ProductStatus string

const (
	// ProductStatusActive marks a product as sellable.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusDraft marks a product as not yet published.
	ProductStatusDraft ProductStatus = "draft"
	// ProductStatusArchived marks a product as withdrawn from sale.
	ProductStatusArchived ProductStatus = "archived"
)

// FlashDiscountType distinguishes percentage discounts from fixed reductions.
type FlashDiscountType string

const (
	// FlashDiscountPercent applies a percentage off the base price.
	FlashDiscountPercent FlashDiscountType = "percent"
	// FlashDiscountFixed subtracts a fixed amount from the base price.
	FlashDiscountFixed FlashDiscountType = "fixed"
)

// FlashApplyTarget scopes a flash discount to the product or to combinations.
type FlashApplyTarget string

const (
	// FlashTargetProduct applies the discount to every line of the product.
	FlashTargetProduct FlashApplyTarget = "product"
	// FlashTargetCombinations restricts the discount to eligible combinations.
	FlashTargetCombinations FlashApplyTarget = "combinations"
)

// FlashSale carries a product's time-windowed promotional price configuration.
// A nil window edge means the window is open on that side.
type FlashSale struct {
	Active               bool
	StartAt              *time.Time
	EndAt                *time.Time
	DiscountType         FlashDiscountType
	Percent              float64
	Amount               int64
	ApplyTarget          FlashApplyTarget
	ApplyAllCombinations *bool
	CombinationIDs       []string
}

// Combination is a variant instance of a product (one value per variant axis)
// with optional per-mode price, minimum-quantity, and stock overrides. A nil
// override falls back to the product level; nil stock means unbounded.
type Combination struct {
	ID              string
	Options         map[string]string
	PricePiece      *int64
	PriceQuantity   *int64
	Stock           *int
	MinQtyRetail    *int
	MinQtyWholesale *int
	Images          []string
}

// Product is the catalog entity read by cart validation as the single source
// of truth for price, visibility, minimums, and stock. Money fields are minor
// currency units (millimes).
type Product struct {
	ID                   string
	Name                 string
	SaleType             SaleType
	PricePiece           *int64
	PriceQuantity        *int64
	MinOrderQtyRetail    *int
	MinOrderQtyWholesale *int
	AvailableQuantity    *int
	InStock              *bool
	Combinations         []Combination
	Flash                FlashSale
	Visible              bool
	Status               ProductStatus
	PublishAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CartLineInput is the client-submitted shape of one cart line. Prices and
// availability in the client payload are never trusted.
type CartLineInput struct {
	ProductID     string
	CombinationID *string
	Quantity      int
	UnitType      PurchaseMode
}

// CartIssueType enumerates divergences between client and server cart state.
type CartIssueType string

const (
	// IssueRemoved means the product no longer exists or is not publicly visible.
	IssueRemoved CartIssueType = "removed"
	// IssueQuantityAdjusted means the quantity was corrected server-side.
	IssueQuantityAdjusted CartIssueType = "quantity_adjusted"
	// IssuePriceChanged means the unit price drifted from the client's view.
	IssuePriceChanged CartIssueType = "price_changed"
	// IssueOutOfStock means no orderable quantity remains for the line.
	IssueOutOfStock CartIssueType = "out_of_stock"
	// IssueInvalidCombination means the referenced combination no longer exists.
	IssueInvalidCombination CartIssueType = "invalid_combination"
	// IssueBelowMinQuantity means the requested quantity is under the minimum.
	IssueBelowMinQuantity CartIssueType = "below_min_qty"
)

// CartIssue records one divergence with enough structure for the client to
// reconcile and resubmit.
type CartIssue struct {
	Type          CartIssueType
	ProductID     string
	CombinationID *string
	Message       string
	Details       map[string]any
}

// ValidatedCartItem is the server-computed normalization of one cart line.
// OriginalPrice is set only when a discount applied; MaxQty is the remaining
// stock ceiling, nil when stock is unbounded.
type ValidatedCartItem struct {
	ProductID        string
	CombinationID    *string
	Name             string
	VariantLabel     string
	UnitType         PurchaseMode
	UnitPrice        int64
	OriginalPrice    *int64
	Quantity         int
	OriginalQuantity int
	MinQty           int
	MaxQty           *int
	Subtotal         int64
}

// CartValidation is the full result of validating a submitted cart against
// current catalog state.
type CartValidation struct {
	Items             []ValidatedCartItem
	Issues            []CartIssue
	RemovedProductIDs []string
	ItemsTotal        int64
	Shipping          int64
	GrandTotal        int64
	FreeShipping      bool
	Valid             bool
	ValidatedAt       time.Time
}

// ShopSettings is the singleton storefront configuration document, lazily
// created with defaults when absent.
type ShopSettings struct {
	FreeShippingThreshold int64
	DefaultShippingFee    int64
	UpdatedAt             time.Time
}

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of a freshly created order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing marks an order being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks an order received by the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted marks a delivered order closed out.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled marks an order canceled before fulfilment.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusReturned marks a delivered order sent back.
	OrderStatusReturned OrderStatus = "returned"
)

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	// PaymentMethodCard is an online card payment.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// PaymentStatus tracks whether money was captured for an order.
type PaymentStatus string

const (
	// PaymentStatusPending means no capture has happened yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid means the payment was captured.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefundRequired means a captured payment awaits refund.
	PaymentStatusRefundRequired PaymentStatus = "refund_required"
	// PaymentStatusRefunded means the captured payment was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed means the capture attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
)

// OrderItem is one persisted order line, frozen at validation time.
type OrderItem struct {
	ProductID     string
	CombinationID *string
	Name          string
	VariantLabel  string
	UnitType      PurchaseMode
	UnitPrice     int64
	Quantity      int
	Subtotal      int64
}

// OrderTotals aggregates the money amounts persisted with an order.
type OrderTotals struct {
	ItemsTotal int64
	Shipping   int64
	Total      int64
}

// OrderContact holds the customer-supplied delivery contact details.
type OrderContact struct {
	Name    string
	Email   string
	Phone   string
	Address string
	Region  string
}

// Order is the persisted outcome of a successful cart validation.
// StockConsumed is true exactly while stock is decremented on behalf of this
// order; it flips only inside the same transaction as the stock mutation.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Items         []OrderItem
	Totals        OrderTotals
	Contact       OrderContact
	StockConsumed bool
	CancelReason  *string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
	CanceledAt    *time.Time
	ReturnedAt    *time.Time
}

// StockMovementKind labels the direction of a ledger entry.
type StockMovementKind string

const (
	// StockMovementConsume records a decrement at order creation.
	StockMovementConsume StockMovementKind = "consume"
	// StockMovementRestore records a credit back on a restock-eligible transition.
	StockMovementRestore StockMovementKind = "restore"
)

// StockMovement is one audit entry written in the same transaction as the
// stock mutation it describes.
type StockMovement struct {
	ID            string
	OrderRef      string
	ProductID     string
	CombinationID *string
	Delta         int
	Kind          StockMovementKind
	OccurredAt    time.Time
}

// NotificationAudience says which parties are told about an order event.
type NotificationAudience struct {
	Admin    bool
	Customer bool
}

// OrderNotification is the payload handed to the background dispatcher after
// an order event commits. Delivery is fire-and-forget.
type OrderNotification struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	Audience       NotificationAudience
	RefundRequired bool
	OccurredAt     time.Time
	Metadata       map[string]any
}
