package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/souqline/api/internal/domain"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	notification := domain.OrderNotification{
		Type:        "order_canceled",
		OrderID:     "ord_test",
		OrderNumber: "SO-202505-000042",
		UserID:      "user-1",
		Audience: domain.NotificationAudience{
			Admin:    true,
			Customer: true,
		},
		RefundRequired: true,
		OccurredAt:     occurredAt,
	}

	if _, err := publisher.PublishOrderNotification(ctx, notification); err != nil {
		t.Fatalf("PublishOrderNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload domain.OrderNotification
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != notification.OrderID || payload.Type != notification.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["refundRequired"]; attr != "true" {
		t.Fatalf("expected refundRequired attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["notifyCustomer"]; attr != "true" {
		t.Fatalf("expected notifyCustomer attribute, got %q", attr)
	}
}

func TestPubSubNotificationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotificationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
