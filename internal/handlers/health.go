package handlers

import (
	"context"
	"net/http"
	"time"
)

// BuildInfo identifies the running binary on the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// Pinger verifies connectivity with a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers serves the /healthz liveness and /readyz readiness probes.
type HealthHandlers struct {
	build        BuildInfo
	clock        func() time.Time
	store        Pinger
	probeTimeout time.Duration
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to health responses.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source, primarily for testing.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthStore wires the dependency pinged by the readiness probe.
func WithHealthStore(store Pinger) HealthOption {
	return func(h *HealthHandlers) {
		h.store = store
	}
}

// WithHealthProbeTimeout bounds how long the readiness ping may take.
func WithHealthProbeTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if timeout > 0 {
			h.probeTimeout = timeout
		}
	}
}

// NewHealthHandlers constructs health handlers with optional build info and store probe.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:        time.Now,
		probeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock().UTC()
	}
	return h
}

// Healthz reports process liveness; it never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.build.StartedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commit"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz reports readiness by pinging the backing store. Without a store wired
// the process is considered ready as soon as it serves traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    "ok",
		"timestamp": now.Format(time.RFC3339),
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			payload["status"] = "unavailable"
			payload["error"] = err.Error()
			writeJSONResponse(w, http.StatusServiceUnavailable, payload)
			return
		}
		payload["components"] = map[string]string{"firestore": "ok"}
	}

	writeJSONResponse(w, http.StatusOK, payload)
}
