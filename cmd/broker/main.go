// Package main is the entrypoint for the mediator broker.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olekukonko/tablewriter"

	"github.com/morezero/mediator-broker/internal/config"
	"github.com/morezero/mediator-broker/internal/server"
	"github.com/morezero/mediator-broker/pkg/db"
)

const usage = `Usage: broker [command]
       broker serve                 Start the broker (datagram loop, HTTP, optional COMMS and ledger).
       broker migrate up            Run ledger database migrations.
       broker migrate status        Show migration status.
       broker ensure-db [name]      Create database if missing (default name: broker_test). Uses DATABASE_URL host/user.
       broker ledger list [type]    Print recorded registrations, optionally for one type.
       broker ledger clear          Truncate the registration ledger; schema is preserved.

Commands:
  serve           (default) Start the mediator broker.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db       Create a database on the same host as DATABASE_URL.
  ledger list     List ledger rows, most recently seen first.
  ledger clear    Remove all ledger rows.

Environment: BROKER_ADDR (default 127.0.0.1:3333), BROKER_REQUEST_TIMEOUT, BROKER_SEED_FILE,
COMMS_URL, DATABASE_URL (ledger commands), MIGRATION_PATH, HTTP_PORT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("broker migrate: require subcommand (up, status)")
		}
		switch sub := args[1]; sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("broker migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("broker migrate status: %v", err)
			}
		default:
			log.Fatalf("broker migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "ledger":
		if len(args) < 2 {
			log.Fatalf("broker ledger: require subcommand (list, clear)")
		}
		switch sub := args[1]; sub {
		case "list":
			typeName := ""
			if len(args) > 2 {
				typeName = args[2]
			}
			if err := runLedgerList(typeName); err != nil {
				log.Fatalf("broker ledger list: %v", err)
			}
		case "clear":
			if err := runLedgerClear(); err != nil {
				log.Fatalf("broker ledger clear: %v", err)
			}
		default:
			log.Fatalf("broker ledger: unknown subcommand %q (use list, clear)", sub)
		}
		return
	case "ensure-db":
		dbName := "broker_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("broker ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("broker: %v", err)
	}
}

// withPool loads config, requires DATABASE_URL and hands fn a connected pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	})
}

func runLedgerList(typeName string) error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		rows, err := db.NewRepository(pool).ListRegistrations(ctx, db.ListRegistrationsParams{TypeName: typeName})
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Address", "Client", "Kind", "Type", "Count", "Last seen")
		for _, r := range rows {
			if err := table.Append([]string{
				r.Address, r.ClientName, r.Kind, r.TypeName,
				strconv.FormatInt(r.RegistrationCount, 10), r.LastSeen.Format(time.RFC3339),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

func runLedgerClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearLedger(ctx, pool); err != nil {
			return fmt.Errorf("clear ledger: %w", err)
		}
		return nil
	})
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	targetURL, err := databaseURLFor(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// databaseURLFor replaces the database name in rawURL; the query (e.g. sslmode) is kept.
func databaseURLFor(rawURL, dbName string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
