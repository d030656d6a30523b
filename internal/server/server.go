// Package server orchestrates the broker process (COMMS events, ledger, registry,
// datagram loop, HTTP inspection) and the sample agent process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/mediator-broker/internal/config"
	"github.com/morezero/mediator-broker/pkg/bootstrap"
	"github.com/morezero/mediator-broker/pkg/broker"
	"github.com/morezero/mediator-broker/pkg/commsutil"
	"github.com/morezero/mediator-broker/pkg/db"
	"github.com/morezero/mediator-broker/pkg/events"
	"github.com/morezero/mediator-broker/pkg/registry"
	"github.com/morezero/mediator-broker/pkg/transport"
)

const logPrefix = "server:server"

const shutdownTimeout = 10 * time.Second

// Server is the mediator-broker orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	view       brokerView
}

// parseLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})))
}

// Run starts the broker, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting mediator-broker", logPrefix))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &Server{cfg: cfg}
	defer s.close()

	// Step 1: Connect to COMMS for events (optional)
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{RegisteredSubject: cfg.EventSubject})
	} else {
		slog.Info(fmt.Sprintf("%s - COMMS_URL not set, events disabled", logPrefix))
	}

	// Step 2: Open the registration ledger (optional)
	var ledger registry.Ledger
	if cfg.DatabaseURL != "" {
		if err := db.EnsureDatabase(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("%s - failed to ensure database: %w", logPrefix, err)
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool

		if cfg.RunMigrations {
			migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		ledger = db.NewRepository(pool)
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, registration ledger disabled", logPrefix))
	}

	// Step 3: Create registry and apply seed registrations
	reg, err := registry.NewRegistry(registry.NewRegistryParams{
		Ledger:    ledger,
		Publisher: publisher,
		Config:    registry.Config{AgentVersionConstraint: cfg.AgentVersionConstraint},
	})
	if err != nil {
		return fmt.Errorf("%s - failed to create registry: %w", logPrefix, err)
	}
	seed, err := bootstrap.LoadSeedConfig(cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load seed: %w", logPrefix, err)
	}
	if inputs := seed.RegisterInputs(); len(inputs) > 0 {
		n, err := reg.Seed(ctx, inputs)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %d of %d seed registrations failed: %v", logPrefix, len(inputs)-n, len(inputs), err))
		}
		slog.Info(fmt.Sprintf("%s - Seeded %d registrations", logPrefix, n))
	}

	// Step 4: Create broker and bind the datagram socket
	b, err := broker.New(broker.Params{
		Registry:       reg,
		Publisher:      publisher,
		RequestTimeout: cfg.RequestTimeout,
		SweepInterval:  cfg.SweepInterval,
		MaxWorkers:     cfg.MaxWorkers,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to create broker: %w", logPrefix, err)
	}
	conn, err := transport.Listen(cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s - failed to bind %s: %w", logPrefix, cfg.Addr, err)
	}
	s.view = &liveBroker{b: b}

	// Step 5: Start HTTP inspection server
	if cfg.HTTPPort > 0 {
		httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
		s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
			if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}

	slog.Info(fmt.Sprintf("%s - mediator-broker is ready on %s", logPrefix, conn.LocalAddr()))

	// Serve until signal
	serveErr := b.Serve(ctx, conn)
	if serveErr != nil {
		slog.Error(fmt.Sprintf("%s - broker stopped: %v", logPrefix, serveErr))
	} else {
		slog.Info(fmt.Sprintf("%s - Received shutdown signal, shutting down", logPrefix))
	}
	return serveErr
}

// close releases everything Run opened, in reverse order.
func (s *Server) close() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
		cancel()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	commsutil.Close(s.nc)
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}
