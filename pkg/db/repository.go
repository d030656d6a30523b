package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Repository records accepted registrations. The broker writes to it but never
// reloads routing state from it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s - ping failed: %w", repoLogPrefix, err)
	}
	return nil
}

// RecordRegistration upserts the (address, kind, type) row, bumping last_seen and the counter.
func (r *Repository) RecordRegistration(ctx context.Context, params RecordRegistrationParams) (*NodeRegistrationRow, error) {
	slog.Debug(fmt.Sprintf("%s - RecordRegistration address=%s kind=%s type=%s",
		repoLogPrefix, params.Address, params.Kind, params.TypeName))

	seenAt := params.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now()
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO node_registrations
		   (address, client_name, kind, type_name, response_type_name, agent_version, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (address, kind, type_name) DO UPDATE SET
		   client_name = EXCLUDED.client_name,
		   response_type_name = COALESCE(EXCLUDED.response_type_name, node_registrations.response_type_name),
		   agent_version = COALESCE(EXCLUDED.agent_version, node_registrations.agent_version),
		   registration_count = node_registrations.registration_count + 1,
		   last_seen = EXCLUDED.last_seen
		 RETURNING id, address, client_name, kind, type_name, response_type_name, agent_version,
		           registration_count, first_seen, last_seen`,
		params.Address, params.ClientName, params.Kind, params.TypeName,
		nullIfEmpty(params.ResponseTypeName), nullIfEmpty(params.AgentVersion), seenAt.UTC())

	rec, err := scanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("%s - RecordRegistration failed: %w", repoLogPrefix, err)
	}
	return rec, nil
}

// ListRegistrations returns ledger rows, most recently seen first.
func (r *Repository) ListRegistrations(ctx context.Context, params ListRegistrationsParams) ([]NodeRegistrationRow, error) {
	var (
		conds []string
		args  []any
	)
	if params.TypeName != "" {
		args = append(args, params.TypeName)
		conds = append(conds, fmt.Sprintf("type_name = $%d", len(args)))
	}
	if params.Address != "" {
		args = append(args, params.Address)
		conds = append(conds, fmt.Sprintf("address = $%d", len(args)))
	}
	args = append(args, clampLimit(params.Limit))

	query := `SELECT id, address, client_name, kind, type_name, response_type_name, agent_version,
	                 registration_count, first_seen, last_seen
	          FROM node_registrations`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY last_seen DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListRegistrations failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []NodeRegistrationRow
	for rows.Next() {
		rec, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - ListRegistrations scan: %w", repoLogPrefix, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRegistration(row pgx.Row) (*NodeRegistrationRow, error) {
	var rec NodeRegistrationRow
	err := row.Scan(&rec.ID, &rec.Address, &rec.ClientName, &rec.Kind, &rec.TypeName,
		&rec.ResponseTypeName, &rec.AgentVersion, &rec.RegistrationCount, &rec.FirstSeen, &rec.LastSeen)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
