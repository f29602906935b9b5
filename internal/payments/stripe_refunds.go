// Package payments integrates the card payment provider. Only refunds are
// driven from this service; charges are created and captured by the checkout
// front end, which stores the payment intent reference on the order.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/souqline/api/internal/services"
)

// stripeRefundAPI is the slice of the Stripe client the refunder needs,
// extracted so tests can stand in for the network.
type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeRefunderConfig configures the StripeRefunder.
type StripeRefunderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   services.Logger
	Refunds  stripeRefundAPI
}

// StripeRefunder implements services.RefundInitiator against the Stripe
// Refunds API.
type StripeRefunder struct {
	refunds stripeRefundAPI
	logger  services.Logger
}

// NewStripeRefunder constructs a StripeRefunder. Refunds in the config takes
// precedence over the API key; one of the two is required.
func NewStripeRefunder(cfg StripeRefunderConfig) (*StripeRefunder, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	refunds := cfg.Refunds
	if refunds == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		refunds = sc.Refunds
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeRefunder{refunds: refunds, logger: logger}, nil
}

// InitiateRefund creates a refund against the payment intent recorded on the
// order. The idempotency key makes operator retries safe.
func (r *StripeRefunder) InitiateRefund(ctx context.Context, cmd services.RefundCommand) (string, error) {
	if r == nil || r.refunds == nil {
		return "", errors.New("stripe: refunder is not configured")
	}
	intentID := strings.TrimSpace(cmd.PaymentRef)
	if intentID == "" {
		return "", errors.New("stripe: payment reference is required")
	}
	if cmd.Amount <= 0 {
		return "", fmt.Errorf("stripe: refund amount must be positive, got %d", cmd.Amount)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(cmd.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if reason := mapRefundReason(cmd.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Metadata = map[string]string{"orderId": cmd.OrderID}

	refund, err := r.refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	r.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"refundId":      refund.ID,
		"paymentIntent": intentID,
		"orderId":       cmd.OrderID,
		"amount":        cmd.Amount,
	})
	return refund.ID, nil
}

// mapRefundReason keeps only the reasons Stripe accepts; anything else is
// left off the request and survives in the order's cancel reason instead.
func mapRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
