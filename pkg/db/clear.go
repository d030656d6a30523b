package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearLedger removes every registration row. The schema and migration history are kept.
func ClearLedger(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing registration ledger", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE node_registrations`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Ledger cleared", clearLogPrefix))
	return nil
}
