package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDependencyHealthRepositoryRequiresChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatalf("expected error when no checks provided")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: " "}}); err == nil {
		t.Fatalf("expected error for unnamed check")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}}); err == nil {
		t.Fatalf("expected error for check without function")
	}
}

func TestDependencyHealthRepositoryPingHealthy(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("new health repository: %v", err)
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}
}

func TestDependencyHealthRepositoryPingReportsUnhealthyDependency(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("broker unreachable") }},
	})
	if err != nil {
		t.Fatalf("new health repository: %v", err)
	}
	err = repo.Ping(context.Background())
	if err == nil {
		t.Fatalf("expected unhealthy ping")
	}
	if !strings.Contains(err.Error(), "pubsub") {
		t.Fatalf("expected failing dependency named in error, got %q", err.Error())
	}
}

func TestDependencyHealthRepositoryPingAppliesTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "slow",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("new health repository: %v", err)
	}
	if err := repo.Ping(context.Background()); err == nil {
		t.Fatalf("expected timeout error")
	}
}
