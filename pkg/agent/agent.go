// Package agent implements the client agent: it registers local handlers with
// the broker, serves Requests and Notifications forwarded to it, and sends its
// own Requests and Notifications through the broker.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/morezero/mediator-broker/pkg/correlation"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/transport"
	"github.com/morezero/mediator-broker/pkg/typereg"
)

const logPrefix = "agent:agent"

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultMaxWorkers     = 64
	DefaultDedupCacheSize = 1024
	DefaultSweepInterval  = 250 * time.Millisecond
)

// Config holds agent configuration.
type Config struct {
	// BrokerAddr is the broker's host:port.
	BrokerAddr string
	// AdvertiseHost is sent as the callback host. Empty means the bound host,
	// or the datagram source as seen by the broker when bound to a wildcard.
	AdvertiseHost string
	ClientName    string
	Version       string
	// RegisterInterval re-sends every registration periodically; 0 registers once.
	RegisterInterval time.Duration
	RequestTimeout   time.Duration
	MaxWorkers       int64
	DedupCacheSize   int
}

// Agent hosts local handlers for one process. Handlers must be added before Run.
type Agent struct {
	cfg    Config
	broker *net.UDPAddr
	types  *typereg.Registry

	mu            sync.RWMutex
	requests      map[string]*requestBinding
	notifications map[string][]*notificationBinding

	calls    *correlation.Table
	replies  *lru.Cache
	inflight sync.Map
	sem      *semaphore.Weighted

	conn atomic.Pointer[transport.Conn]
}

// New creates an Agent that talks to the broker at cfg.BrokerAddr.
func New(cfg Config) (*Agent, error) {
	if cfg.BrokerAddr == "" {
		return nil, fmt.Errorf("%s - broker address is required", logPrefix)
	}
	broker, err := net.ResolveUDPAddr("udp", cfg.BrokerAddr)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to resolve broker %s: %w", logPrefix, cfg.BrokerAddr, err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	replies, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create reply cache: %w", logPrefix, err)
	}

	return &Agent{
		cfg:           cfg,
		broker:        broker,
		types:         typereg.New(),
		requests:      make(map[string]*requestBinding),
		notifications: make(map[string][]*notificationBinding),
		calls:         correlation.NewTable(),
		replies:       replies,
		sem:           semaphore.NewWeighted(cfg.MaxWorkers),
	}, nil
}

// Types returns the agent's type registry. Every request, response and
// notification type must be registered here before a handler uses it.
func (a *Agent) Types() *typereg.Registry {
	return a.types
}

// LocalAddr returns the bound address while running.
func (a *Agent) LocalAddr() *net.UDPAddr {
	conn := a.conn.Load()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

// Run registers with the broker and serves datagrams on conn until ctx is cancelled
// or the socket fails. Run owns conn and closes it on return.
func (a *Agent) Run(ctx context.Context, conn *transport.Conn) error {
	if !a.conn.CompareAndSwap(nil, conn) {
		return fmt.Errorf("%s - agent is already running", logPrefix)
	}
	defer a.conn.Store(nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info(fmt.Sprintf("%s - %s listening on %s, broker %s", logPrefix, a.cfg.ClientName, conn.LocalAddr(), a.broker))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error {
		a.calls.Sweep(gctx, DefaultSweepInterval, a.expire)
		return nil
	})
	g.Go(func() error {
		a.registerLoop(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return a.receive(gctx, conn)
	})
	return g.Wait()
}

func (a *Agent) receive(ctx context.Context, conn *transport.Conn) error {
	defer a.drain()

	for {
		data, from, err := conn.ReadFrom()
		if err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				return nil
			}
			if errors.Is(err, transport.ErrOversize) {
				slog.Warn(fmt.Sprintf("%s - dropped oversize datagram from %s", logPrefix, from))
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("%s - receive failed: %w", logPrefix, err)
		}

		env, err := envelope.Decode(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropped datagram from %s: %v", logPrefix, from, err))
			continue
		}

		// Responses complete a local waiter and never occupy a worker.
		if env.Kind == envelope.KindResponse {
			a.handleResponse(env)
			continue
		}

		if err := a.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		go func() {
			defer a.sem.Release(1)
			a.dispatch(ctx, conn, env, from)
		}()
	}
}

func (a *Agent) dispatch(ctx context.Context, conn *transport.Conn, env *envelope.Envelope, from *net.UDPAddr) {
	switch env.Kind {
	case envelope.KindRequest:
		a.handleRequest(ctx, conn, env, from)
	case envelope.KindNotification:
		a.handleNotification(ctx, env)
	default:
		slog.Debug(fmt.Sprintf("%s - ignored %s from %s", logPrefix, env.Kind, from))
	}
}

func (a *Agent) drain() {
	_ = a.sem.Acquire(context.Background(), a.cfg.MaxWorkers)
	a.sem.Release(a.cfg.MaxWorkers)
}
