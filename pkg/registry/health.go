package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const healthLogPrefix = "registry:health"

// Health reports registry health. Without a ledger the registry is always healthy;
// with one, an unreachable database marks it unhealthy.
func (r *Registry) Health(ctx context.Context) *HealthOutput {
	checks := HealthChecks{LedgerConfigured: r.ledger != nil}
	status := "healthy"

	if r.ledger != nil {
		if err := r.ledger.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - ledger ping failed: %v", healthLogPrefix, err))
			status = "unhealthy"
		} else {
			checks.Ledger = true
		}
	}

	return &HealthOutput{
		Status:    status,
		Checks:    checks,
		Stats:     r.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
