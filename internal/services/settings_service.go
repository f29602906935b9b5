package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/souqline/api/internal/repositories"
)

var (
	// ErrSettingsInvalidInput signals a malformed settings update.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsUnavailable wraps persistence failures while loading or
	// saving the settings document.
	ErrSettingsUnavailable = errors.New("settings: store unavailable")
)

type settingsService struct {
	repo     repositories.SettingsRepository
	defaults ShopSettings
	ttl      time.Duration
	now      Clock
	logger   Logger

	mu        sync.RWMutex
	cached    ShopSettings
	expiresAt time.Time
}

// SettingsServiceDeps wires the persistence and cache knobs for the shop
// settings accessor.
type SettingsServiceDeps struct {
	Repo     repositories.SettingsRepository
	Defaults ShopSettings
	CacheTTL time.Duration
	Clock    Clock
	Logger   Logger
}

func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Repo == nil {
		return nil, errors.New("settings service: repository is required")
	}
	if deps.Defaults.DefaultShippingFee < 0 || deps.Defaults.FreeShippingThreshold < 0 {
		return nil, errors.New("settings service: defaults must be non-negative")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settingsService{
		repo:     deps.Repo,
		defaults: deps.Defaults,
		ttl:      ttl,
		now:      func() time.Time { return now().UTC() },
		logger:   logger,
	}, nil
}

func (s *settingsService) Current(ctx context.Context) (ShopSettings, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := s.now()

	s.mu.RLock()
	if now.Before(s.expiresAt) {
		cached := s.cached
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	settings, err := s.repo.Get(ctx, s.defaults)
	if err != nil {
		s.logger(ctx, "settings.load_failed", map[string]any{"error": err.Error()})
		return ShopSettings{}, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}

	s.mu.Lock()
	s.cached = settings
	s.expiresAt = now.Add(s.ttl)
	s.mu.Unlock()

	return settings, nil
}

func (s *settingsService) Update(ctx context.Context, cmd UpdateSettingsCommand) (ShopSettings, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cmd.FreeShippingThreshold == nil && cmd.DefaultShippingFee == nil {
		return ShopSettings{}, fmt.Errorf("%w: no fields to update", ErrSettingsInvalidInput)
	}
	if cmd.FreeShippingThreshold != nil && *cmd.FreeShippingThreshold < 0 {
		return ShopSettings{}, fmt.Errorf("%w: free shipping threshold must be non-negative", ErrSettingsInvalidInput)
	}
	if cmd.DefaultShippingFee != nil && *cmd.DefaultShippingFee < 0 {
		return ShopSettings{}, fmt.Errorf("%w: shipping fee must be non-negative", ErrSettingsInvalidInput)
	}

	current, err := s.repo.Get(ctx, s.defaults)
	if err != nil {
		return ShopSettings{}, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}
	if cmd.FreeShippingThreshold != nil {
		current.FreeShippingThreshold = *cmd.FreeShippingThreshold
	}
	if cmd.DefaultShippingFee != nil {
		current.DefaultShippingFee = *cmd.DefaultShippingFee
	}
	current.UpdatedAt = s.now()

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return ShopSettings{}, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}

	s.mu.Lock()
	s.cached = updated
	s.expiresAt = s.now().Add(s.ttl)
	s.mu.Unlock()

	s.logger(ctx, "settings.updated", map[string]any{
		"actorId":               cmd.ActorID,
		"freeShippingThreshold": updated.FreeShippingThreshold,
		"defaultShippingFee":    updated.DefaultShippingFee,
	})
	return updated, nil
}

var _ SettingsService = (*settingsService)(nil)
