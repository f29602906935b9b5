package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

const (
	// NotificationOrderCreated is published after an order commits.
	NotificationOrderCreated = "order.created"
	// NotificationOrderCanceled is published after a cancellation commits.
	NotificationOrderCanceled = "order.canceled"

	publishTimeout = 10 * time.Second
)

type notificationDispatcher struct {
	publisher NotificationPublisher
	now       Clock
	logger    Logger
}

// NotificationDispatcherDeps wires the publisher behind the dispatcher.
type NotificationDispatcherDeps struct {
	Publisher NotificationPublisher
	Clock     Clock
	Logger    Logger
}

// NewNotificationDispatcher builds the fire-and-forget notification fan-out.
// Publish failures are logged and swallowed; an order flow never fails
// because the email pipeline is down.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification dispatcher: publisher is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationDispatcher{
		publisher: deps.Publisher,
		now:       func() time.Time { return now().UTC() },
		logger:    logger,
	}, nil
}

func (d *notificationDispatcher) DispatchOrderCreated(ctx context.Context, order Order) {
	d.publish(ctx, domain.OrderNotification{
		Type:        NotificationOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Audience:    domain.NotificationAudience{Admin: true, Customer: true},
		OccurredAt:  d.now(),
		Metadata: map[string]any{
			"total":         order.Totals.Total,
			"paymentMethod": string(order.PaymentMethod),
		},
	})
}

func (d *notificationDispatcher) DispatchOrderCanceled(ctx context.Context, order Order, decision CancellationDecision) {
	metadata := map[string]any{
		"paymentMethod": string(order.PaymentMethod),
		"paymentStatus": string(order.PaymentStatus),
	}
	if order.CancelReason != nil {
		metadata["reason"] = *order.CancelReason
	}
	d.publish(ctx, domain.OrderNotification{
		Type:        NotificationOrderCanceled,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Audience: domain.NotificationAudience{
			Admin:    decision.NotifyAdmin,
			Customer: decision.NotifyCustomer,
		},
		RefundRequired: decision.RefundRequired,
		OccurredAt:     d.now(),
		Metadata:       metadata,
	})
}

func (d *notificationDispatcher) publish(ctx context.Context, notification domain.OrderNotification) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Detached from the request context so an already-committed order event
	// still goes out when the caller disconnects.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	messageID, err := d.publisher.PublishOrderNotification(publishCtx, notification)
	if err != nil {
		d.logger(ctx, "notification.publish_failed", map[string]any{
			"type":    notification.Type,
			"orderId": notification.OrderID,
			"error":   err.Error(),
		})
		return
	}
	d.logger(ctx, "notification.published", map[string]any{
		"type":      notification.Type,
		"orderId":   notification.OrderID,
		"messageId": messageID,
	})
}

var _ NotificationDispatcher = (*notificationDispatcher)(nil)
