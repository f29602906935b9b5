package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: base}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs fetches every requested product in one batched read. Missing ids
// are absent from the result, never an error.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := map[string]bool{}
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productsCollection).Query
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.VisibleSet != nil {
		query = query.Where("visible", "==", *filter.VisibleSet)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		query = query.StartAfter(token)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	var nextToken string
	if len(products) > pageSize {
		products = products[:pageSize]
		nextToken = products[len(products)-1].ID
	}
	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, errors.New("product upsert: id is required")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	if _, err := r.products.Set(ctx, product.ID, newProductDocument(product)); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// Document shapes ------------------------------------------------------------

type productDocument struct {
	Name                 string                `firestore:"name"`
	SaleType             string                `firestore:"saleType"`
	PricePiece           *int64                `firestore:"pricePiece,omitempty"`
	PriceQuantity        *int64                `firestore:"priceQuantity,omitempty"`
	MinOrderQtyRetail    *int                  `firestore:"minOrderQtyRetail,omitempty"`
	MinOrderQtyWholesale *int                  `firestore:"minOrderQtyWholesale,omitempty"`
	AvailableQuantity    *int                  `firestore:"availableQuantity,omitempty"`
	InStock              *bool                 `firestore:"inStock,omitempty"`
	Combinations         []combinationDocument `firestore:"combinations,omitempty"`
	Flash                flashSaleDocument     `firestore:"flash"`
	Visible              bool                  `firestore:"visible"`
	Status               string                `firestore:"status"`
	PublishAt            *time.Time            `firestore:"publishAt,omitempty"`
	CreatedAt            time.Time             `firestore:"createdAt"`
	UpdatedAt            time.Time             `firestore:"updatedAt"`
}

type combinationDocument struct {
	ID              string            `firestore:"id"`
	Options         map[string]string `firestore:"options"`
	PricePiece      *int64            `firestore:"pricePiece,omitempty"`
	PriceQuantity   *int64            `firestore:"priceQuantity,omitempty"`
	Stock           *int              `firestore:"stock,omitempty"`
	MinQtyRetail    *int              `firestore:"minQtyRetail,omitempty"`
	MinQtyWholesale *int              `firestore:"minQtyWholesale,omitempty"`
	Images          []string          `firestore:"images,omitempty"`
}

type flashSaleDocument struct {
	Active               bool       `firestore:"active"`
	StartAt              *time.Time `firestore:"startAt,omitempty"`
	EndAt                *time.Time `firestore:"endAt,omitempty"`
	DiscountType         string     `firestore:"discountType,omitempty"`
	Percent              float64    `firestore:"percent,omitempty"`
	Amount               int64      `firestore:"amount,omitempty"`
	ApplyTarget          string     `firestore:"applyTarget,omitempty"`
	ApplyAllCombinations *bool      `firestore:"applyAllCombinations,omitempty"`
	CombinationIDs       []string   `firestore:"combinationIds,omitempty"`
}

func newProductDocument(p domain.Product) productDocument {
	combos := make([]combinationDocument, len(p.Combinations))
	for i, c := range p.Combinations {
		combos[i] = combinationDocument{
			ID:              c.ID,
			Options:         c.Options,
			PricePiece:      c.PricePiece,
			PriceQuantity:   c.PriceQuantity,
			Stock:           c.Stock,
			MinQtyRetail:    c.MinQtyRetail,
			MinQtyWholesale: c.MinQtyWholesale,
			Images:          c.Images,
		}
	}
	return productDocument{
		Name:                 strings.TrimSpace(p.Name),
		SaleType:             string(p.SaleType),
		PricePiece:           p.PricePiece,
		PriceQuantity:        p.PriceQuantity,
		MinOrderQtyRetail:    p.MinOrderQtyRetail,
		MinOrderQtyWholesale: p.MinOrderQtyWholesale,
		AvailableQuantity:    p.AvailableQuantity,
		InStock:              p.InStock,
		Combinations:         combos,
		Flash: flashSaleDocument{
			Active:               p.Flash.Active,
			StartAt:              p.Flash.StartAt,
			EndAt:                p.Flash.EndAt,
			DiscountType:         string(p.Flash.DiscountType),
			Percent:              p.Flash.Percent,
			Amount:               p.Flash.Amount,
			ApplyTarget:          string(p.Flash.ApplyTarget),
			ApplyAllCombinations: p.Flash.ApplyAllCombinations,
			CombinationIDs:       p.Flash.CombinationIDs,
		},
		Visible:   p.Visible,
		Status:    string(p.Status),
		PublishAt: p.PublishAt,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	combos := make([]domain.Combination, len(d.Combinations))
	for i, c := range d.Combinations {
		combos[i] = domain.Combination{
			ID:              c.ID,
			Options:         c.Options,
			PricePiece:      c.PricePiece,
			PriceQuantity:   c.PriceQuantity,
			Stock:           c.Stock,
			MinQtyRetail:    c.MinQtyRetail,
			MinQtyWholesale: c.MinQtyWholesale,
			Images:          c.Images,
		}
	}
	return domain.Product{
		ID:                   id,
		Name:                 d.Name,
		SaleType:             domain.SaleType(d.SaleType),
		PricePiece:           d.PricePiece,
		PriceQuantity:        d.PriceQuantity,
		MinOrderQtyRetail:    d.MinOrderQtyRetail,
		MinOrderQtyWholesale: d.MinOrderQtyWholesale,
		AvailableQuantity:    d.AvailableQuantity,
		InStock:              d.InStock,
		Combinations:         combos,
		Flash: domain.FlashSale{
			Active:               d.Flash.Active,
			StartAt:              d.Flash.StartAt,
			EndAt:                d.Flash.EndAt,
			DiscountType:         domain.FlashDiscountType(d.Flash.DiscountType),
			Percent:              d.Flash.Percent,
			Amount:               d.Flash.Amount,
			ApplyTarget:          domain.FlashApplyTarget(d.Flash.ApplyTarget),
			ApplyAllCombinations: d.Flash.ApplyAllCombinations,
			CombinationIDs:       d.Flash.CombinationIDs,
		},
		Visible:   d.Visible,
		Status:    domain.ProductStatus(d.Status),
		PublishAt: d.PublishAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
