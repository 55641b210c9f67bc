package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/signet-id/signet/internal/cache"
	"github.com/signet-id/signet/internal/database"
	"github.com/signet-id/signet/internal/keys"
)

// Checker provides Kubernetes-ready health checks
type Checker struct {
	DB     *database.Database
	Cache  cache.CounterStore
	Keys   *keys.Service
	Logger *slog.Logger
}

func NewChecker(db *database.Database, counterStore cache.CounterStore, keyService *keys.Service, logger *slog.Logger) Checker {
	return Checker{
		DB:     db,
		Cache:  counterStore,
		Keys:   keyService,
		Logger: logger,
	}
}

// HealthStatus represents comprehensive health information for Kubernetes
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents individual component health
type ComponentHealth struct {
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Latency     time.Duration `json:"latency_ms"`
	LastChecked string        `json:"last_checked"`
	Critical    bool          `json:"critical"`
}

// CheckHealth performs comprehensive health check for Kubernetes probes
func (h *Checker) CheckHealth(ctx context.Context) HealthStatus {
	now := time.Now()
	components := make(map[string]ComponentHealth)

	// Database is critical; no tokens can be issued without it
	components["database"] = h.checkDatabase(ctx)

	// Counter store degradation is survivable under fail-open
	components["counter_store"] = h.checkCounterStore(ctx)

	// A missing signing key means the service cannot sign anything
	components["signing_keys"] = h.checkSigningKeys()

	return HealthStatus{
		Status:     h.determineOverallStatus(components),
		Timestamp:  now.UTC().Format(time.RFC3339),
		Components: components,
	}
}

// CheckLiveness provides a lightweight check for Kubernetes liveness probe
func (h *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	now := time.Now()

	// Liveness should be lightweight - just verify process is responsive
	return HealthStatus{
		Status:    "healthy",
		Timestamp: now.UTC().Format(time.RFC3339),
		Components: map[string]ComponentHealth{
			"process": {
				Status:      "healthy",
				Message:     "service is responsive",
				Latency:     time.Since(now),
				LastChecked: now.UTC().Format(time.RFC3339),
				Critical:    true,
			},
		},
	}
}

// CheckReadiness provides thorough check for Kubernetes readiness probe
func (h *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	now := time.Now()
	components := make(map[string]ComponentHealth)

	// Only critical dependencies gate readiness
	components["database"] = h.checkDatabase(ctx)
	components["signing_keys"] = h.checkSigningKeys()

	overallStatus := "healthy"
	for _, component := range components {
		if component.Status == "unhealthy" {
			overallStatus = "unhealthy"
		}
	}

	return HealthStatus{
		Status:     overallStatus,
		Timestamp:  now.UTC().Format(time.RFC3339),
		Components: components,
	}
}

func (h *Checker) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.DB == nil {
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "database not configured",
			Latency:     time.Since(start),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	// Test with a simple query that doesn't require any tables
	var result int
	err := h.DB.QueryRow(ctx, "SELECT 1").Scan(&result)

	latency := time.Since(start)

	if err != nil {
		h.Logger.Error("Database health check failed", "error", err, "latency", latency)
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "database connection failed: " + err.Error(),
			Latency:     latency,
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	// Warn if latency is elevated, fail if it is unusable
	status := "healthy"
	message := "database connection successful"

	if latency > 5*time.Second {
		status = "unhealthy"
		message = "database response time too slow"
	} else if latency > 100*time.Millisecond {
		status = "degraded"
		message = "database response time elevated"
	}

	return ComponentHealth{
		Status:      status,
		Message:     message,
		Latency:     latency,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    true,
	}
}

func (h *Checker) checkCounterStore(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.Cache == nil {
		return ComponentHealth{
			Status:      "degraded",
			Message:     "counter store not configured - abuse control degraded",
			Latency:     time.Since(start),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    false,
		}
	}

	if err := h.Cache.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:      "degraded",
			Message:     "counter store unavailable: " + err.Error(),
			Latency:     time.Since(start),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    false,
		}
	}

	return ComponentHealth{
		Status:      "healthy",
		Message:     "counter store reachable",
		Latency:     time.Since(start),
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    false,
	}
}

func (h *Checker) checkSigningKeys() ComponentHealth {
	now := time.Now()

	if h.Keys == nil {
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "signing keys not configured",
			Latency:     time.Since(now),
			LastChecked: now.UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	kid, key := h.Keys.CurrentKey()
	if kid == "" || key == nil {
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "no active signing key",
			Latency:     time.Since(now),
			LastChecked: now.UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	return ComponentHealth{
		Status:      "healthy",
		Message:     "signing key available",
		Latency:     time.Since(now),
		LastChecked: now.UTC().Format(time.RFC3339),
		Critical:    true,
	}
}

func (h *Checker) determineOverallStatus(components map[string]ComponentHealth) string {
	status := "healthy"
	for _, component := range components {
		if component.Status == "unhealthy" && component.Critical {
			return "unhealthy"
		}
		if component.Status == "degraded" {
			status = "degraded"
		}
	}
	return status
}
