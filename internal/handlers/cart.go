package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// CartHandlers exposes the authenticated cart validation endpoint.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

const maxCartBodySize = 64 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the cart:validate endpoint onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/cart:validate", h.validateCart)
	})
}

func (h *CartHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	lines, declared, err := parseCartItems(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	validation, err := h.carts.ValidateCart(ctx, services.ValidateCartCommand{
		UserID:        identity.UID,
		Lines:         lines,
		DeclaredLines: declared,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildValidationPayload(validation))
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to validate cart", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

type cartItemRequest struct {
	ProductID     string  `json:"productId"`
	CombinationID *string `json:"combinationId"`
	Quantity      int     `json:"quantity"`
	UnitType      string  `json:"unitType"`
	UnitPrice     *int64  `json:"unitPrice"`
}

type validateCartRequest struct {
	Items []cartItemRequest `json:"items"`
}

func parseCartItems(body []byte) ([]domain.CartLineInput, []services.DeclaredLine, error) {
	var req validateCartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, errors.New("invalid JSON payload")
	}
	if len(req.Items) == 0 {
		return nil, nil, errors.New("items must not be empty")
	}

	lines := make([]domain.CartLineInput, 0, len(req.Items))
	declared := make([]services.DeclaredLine, 0, len(req.Items))
	for i, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, nil, fmt.Errorf("items[%d].productId is required", i)
		}
		if item.Quantity <= 0 {
			return nil, nil, fmt.Errorf("items[%d].quantity must be positive", i)
		}
		mode := domain.PurchaseMode(strings.TrimSpace(item.UnitType))
		switch mode {
		case domain.ModePiece, domain.ModeQuantity:
		case "":
			mode = domain.ModePiece
		default:
			return nil, nil, fmt.Errorf("items[%d].unitType must be piece or quantity", i)
		}

		var comboID *string
		if item.CombinationID != nil {
			if trimmed := strings.TrimSpace(*item.CombinationID); trimmed != "" {
				comboID = &trimmed
			}
		}

		lines = append(lines, domain.CartLineInput{
			ProductID:     productID,
			CombinationID: comboID,
			Quantity:      item.Quantity,
			UnitType:      mode,
		})
		if item.UnitPrice != nil && *item.UnitPrice > 0 {
			declared = append(declared, services.DeclaredLine{
				ProductID:     productID,
				CombinationID: comboID,
				UnitPrice:     *item.UnitPrice,
			})
		}
	}
	return lines, declared, nil
}

type validationPayload struct {
	Items             []validatedItemPayload `json:"items"`
	Issues            []cartIssuePayload     `json:"issues"`
	RemovedProductIDs []string               `json:"removed_product_ids,omitempty"`
	ItemsTotal        int64                  `json:"items_total"`
	Shipping          int64                  `json:"shipping"`
	GrandTotal        int64                  `json:"grand_total"`
	FreeShipping      bool                   `json:"free_shipping"`
	Valid             bool                   `json:"valid"`
	ValidatedAt       string                 `json:"validated_at"`
}

type validatedItemPayload struct {
	ProductID        string  `json:"product_id"`
	CombinationID    *string `json:"combination_id,omitempty"`
	Name             string  `json:"name"`
	VariantLabel     string  `json:"variant_label,omitempty"`
	UnitType         string  `json:"unit_type"`
	UnitPrice        int64   `json:"unit_price"`
	OriginalPrice    *int64  `json:"original_price,omitempty"`
	Quantity         int     `json:"quantity"`
	OriginalQuantity int     `json:"original_quantity"`
	MinQty           int     `json:"min_qty"`
	MaxQty           *int    `json:"max_qty,omitempty"`
	Subtotal         int64   `json:"subtotal"`
}

type cartIssuePayload struct {
	Type          string         `json:"type"`
	ProductID     string         `json:"product_id"`
	CombinationID *string        `json:"combination_id,omitempty"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
}

func buildValidationPayload(v domain.CartValidation) validationPayload {
	payload := validationPayload{
		Items:             make([]validatedItemPayload, 0, len(v.Items)),
		Issues:            make([]cartIssuePayload, 0, len(v.Issues)),
		RemovedProductIDs: v.RemovedProductIDs,
		ItemsTotal:        v.ItemsTotal,
		Shipping:          v.Shipping,
		GrandTotal:        v.GrandTotal,
		FreeShipping:      v.FreeShipping,
		Valid:             v.Valid,
		ValidatedAt:       formatTime(v.ValidatedAt),
	}
	for _, item := range v.Items {
		payload.Items = append(payload.Items, validatedItemPayload{
			ProductID:        item.ProductID,
			CombinationID:    item.CombinationID,
			Name:             item.Name,
			VariantLabel:     item.VariantLabel,
			UnitType:         string(item.UnitType),
			UnitPrice:        item.UnitPrice,
			OriginalPrice:    item.OriginalPrice,
			Quantity:         item.Quantity,
			OriginalQuantity: item.OriginalQuantity,
			MinQty:           item.MinQty,
			MaxQty:           item.MaxQty,
			Subtotal:         item.Subtotal,
		})
	}
	for _, issue := range v.Issues {
		payload.Issues = append(payload.Issues, cartIssuePayload{
			Type:          string(issue.Type),
			ProductID:     issue.ProductID,
			CombinationID: issue.CombinationID,
			Message:       issue.Message,
			Details:       issue.Details,
		})
	}
	return payload
}
