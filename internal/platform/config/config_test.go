package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "demo-project",
		}),
	)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Shop.DefaultShippingFee != 8000 {
		t.Fatalf("expected default shipping fee 8000, got %d", cfg.Shop.DefaultShippingFee)
	}
	if cfg.Shop.TotalTolerance != 500 {
		t.Fatalf("expected default total tolerance 500, got %d", cfg.Shop.TotalTolerance)
	}
	if cfg.PubSub.NotificationTopic != "order-notifications" {
		t.Fatalf("unexpected notification topic %s", cfg.PubSub.NotificationTopic)
	}
	if cfg.PubSub.ProjectID != "demo-project" {
		t.Fatalf("expected pubsub project to inherit firestore project, got %s", cfg.PubSub.ProjectID)
	}
}

func TestLoadOverridesFromEnvMap(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID":         "demo-project",
			"API_SERVER_PORT":                  "9090",
			"API_SERVER_READ_TIMEOUT":          "5s",
			"API_SHOP_FREE_SHIPPING_THRESHOLD": "250000",
			"API_FEATURE_FLASH_SALES":          "off",
		}),
	)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("expected read timeout 5s, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Shop.FreeShippingThreshold != 250000 {
		t.Fatalf("expected threshold 250000, got %d", cfg.Shop.FreeShippingThreshold)
	}
	if cfg.Features.EnableFlashSales {
		t.Fatalf("expected flash sales disabled")
	}
}

func TestLoadFailsWithoutProject(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Firestore.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Firestore.ProjectID among missing fields, got %v", validation.Fields())
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID":    "demo-project",
			"API_PAYMENTS_STRIPE_API_KEY": "sm://projects/demo/secrets/stripe/versions/latest",
		}),
		WithSecretResolver(SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			if ref != "secret://projects/demo/secrets/stripe/versions/latest" {
				return "", errors.New("unexpected ref " + ref)
			}
			return "sk_test_123", nil
		})),
	)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Payments.StripeAPIKey != "sk_test_123" {
		t.Fatalf("expected resolved stripe key, got %s", cfg.Payments.StripeAPIKey)
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "demo-project",
		}),
		WithRequiredSecrets("Payments.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "Payments.StripeAPIKey" {
		t.Fatalf("unexpected missing secrets %v", names)
	}
}
