package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/souqline/api/internal/platform/config"
	"github.com/souqline/api/internal/repositories"
	"github.com/souqline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Settings      services.SettingsService
	Cart          services.CartService
	Inventory     services.InventoryService
	Notifications services.NotificationDispatcher
	Orders        services.OrderService
}

// Deps carries the externally constructed collaborators the container cannot
// build itself: the repository registry, the Pub/Sub publisher, and the
// payment provider refund client.
type Deps struct {
	Config      config.Config
	Registry    repositories.Registry
	Publisher   services.NotificationPublisher
	Refunds     services.RefundInitiator
	Clock       services.Clock
	IDGenerator services.IDGenerator
	Logger      *zap.Logger
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides real implementations, while tests can supply in-memory registries
// and stub publishers.
func NewContainer(ctx context.Context, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("notification publisher is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string {
			return "ord_" + strings.ToLower(ulid.Make().String())
		}
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry
	cfg := deps.Config

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Repo: reg.Settings(),
		Defaults: services.ShopSettings{
			DefaultShippingFee:    cfg.Shop.DefaultShippingFee,
			FreeShippingThreshold: cfg.Shop.FreeShippingThreshold,
		},
		CacheTTL: cfg.Shop.SettingsCacheTTL,
		Clock:    deps.Clock,
		Logger:   namedServiceLogger(deps.Logger, "settings"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Products: reg.Products(),
		Settings: settingsSvc,
		Clock:    deps.Clock,
		Logger:   namedServiceLogger(deps.Logger, "cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Ledger: reg.StockLedger(),
		Clock:  deps.Clock,
		Logger: namedServiceLogger(deps.Logger, "inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		Logger:    namedServiceLogger(deps.Logger, "notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Notifications = dispatcher

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Counters:       reg.Counters(),
		Cart:           cartSvc,
		Inventory:      inventorySvc,
		Notifications:  dispatcher,
		Refunds:        deps.Refunds,
		TotalTolerance: cfg.Shop.TotalTolerance,
		Clock:          deps.Clock,
		IDGenerator:    deps.IDGenerator,
		Logger:         namedServiceLogger(deps.Logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}

// namedServiceLogger adapts a zap logger to the service-layer logging
// callback. A nil logger disables service event logging entirely.
func namedServiceLogger(logger *zap.Logger, name string) services.Logger {
	if logger == nil {
		return nil
	}
	scoped := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		scoped.Debug(event, zFields...)
	}
}
