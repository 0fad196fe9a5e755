package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renalworks/nefro/pkg/databases"
	"github.com/renalworks/nefro/pkg/docstore"
	"github.com/renalworks/nefro/pkg/logger"
)

const reconnectAttempts = 3

// HealthSupervisor probes store connectivity at most once per interval.
// Callers between probes get the cached verdict. Failed probes retry with
// exponential backoff before reporting unhealthy.
type HealthSupervisor struct {
	store    docstore.Store
	vector   databases.Provider
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	lastCheck time.Time
	lastErr   error
}

func NewHealthSupervisor(store docstore.Store, vector databases.Provider, interval time.Duration) *HealthSupervisor {
	return &HealthSupervisor{
		store:    store,
		vector:   vector,
		interval: interval,
		logger:   logger.GetLogger(),
	}
}

// Check returns nil when the stores are reachable. The probe runs at most
// once per interval; concurrent callers share the result.
func (h *HealthSupervisor) Check(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastCheck.IsZero() && time.Since(h.lastCheck) < h.interval {
		return h.lastErr
	}

	h.lastErr = h.probe(ctx)
	h.lastCheck = time.Now()
	return h.lastErr
}

func (h *HealthSupervisor) probe(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < reconnectAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err = h.store.Ping(ctx); err != nil {
			h.logger.Warn("document store ping failed", "attempt", attempt+1, "error", err)
			continue
		}
		if err = h.vector.Ping(ctx); err != nil {
			h.logger.Warn("vector store ping failed", "attempt", attempt+1, "error", err)
			continue
		}
		return nil
	}
	return err
}

// Run probes on a ticker until the context is cancelled. Intended to be
// started once alongside the server.
func (h *HealthSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Check(ctx); err != nil {
				h.logger.Error("retrieval backend unhealthy", "error", err)
			}
		}
	}
}
