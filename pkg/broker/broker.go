// Package broker implements the broker server: it accepts registrations, routes
// Requests to a registered node, relays Responses and fans out Notifications.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/morezero/mediator-broker/pkg/correlation"
	"github.com/morezero/mediator-broker/pkg/events"
	"github.com/morezero/mediator-broker/pkg/metrics"
	"github.com/morezero/mediator-broker/pkg/registry"
	"github.com/morezero/mediator-broker/pkg/transport"
)

const logPrefix = "broker:broker"

// Defaults applied by New for zero-valued Params fields.
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultSweepInterval  = 250 * time.Millisecond
	DefaultMaxWorkers     = 256
)

// Params holds parameters for New.
type Params struct {
	Registry  *registry.Registry
	Publisher events.EventPublisher
	// RequestTimeout bounds every forwarded Request. A Request's own timeoutMs may only shorten it.
	RequestTimeout time.Duration
	SweepInterval  time.Duration
	MaxWorkers     int64
}

// Broker routes datagrams between callers and registered nodes.
type Broker struct {
	registry       *registry.Registry
	publisher      events.EventPublisher
	calls          *correlation.Table
	requestTimeout time.Duration
	sweepInterval  time.Duration
	maxWorkers     int64
	sem            *semaphore.Weighted

	conn *transport.Conn
}

// New creates a Broker.
func New(params Params) (*Broker, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("%s - registry is required", logPrefix)
	}
	b := &Broker{
		registry:       params.Registry,
		publisher:      params.Publisher,
		calls:          correlation.NewTable(),
		requestTimeout: params.RequestTimeout,
		sweepInterval:  params.SweepInterval,
		maxWorkers:     params.MaxWorkers,
	}
	if b.publisher == nil {
		b.publisher = &events.NoOpPublisher{}
	}
	if b.requestTimeout <= 0 {
		b.requestTimeout = DefaultRequestTimeout
	}
	if b.sweepInterval <= 0 {
		b.sweepInterval = DefaultSweepInterval
	}
	if b.maxWorkers <= 0 {
		b.maxWorkers = DefaultMaxWorkers
	}
	b.sem = semaphore.NewWeighted(b.maxWorkers)
	return b, nil
}

// Registry returns the broker's node registry.
func (b *Broker) Registry() *registry.Registry {
	return b.registry
}

// Pending returns the Requests currently awaiting a Response, oldest first.
func (b *Broker) Pending() []correlation.PendingCall {
	return b.calls.Snapshot()
}

// Serve runs the receive loop and the deadline sweeper on conn until ctx is
// cancelled or the socket fails. Serve owns conn and closes it on return.
// It returns nil on cancellation.
func (b *Broker) Serve(ctx context.Context, conn *transport.Conn) error {
	b.conn = conn
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info(fmt.Sprintf("%s - serving on %s (timeout %s, workers %d)", logPrefix, conn.LocalAddr(), b.requestTimeout, b.maxWorkers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error {
		b.calls.Sweep(gctx, b.sweepInterval, b.expire)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return b.receive(gctx, conn)
	})

	err := g.Wait()
	slog.Info(fmt.Sprintf("%s - stopped", logPrefix))
	return err
}

func (b *Broker) receive(ctx context.Context, conn *transport.Conn) error {
	defer b.drain()

	for {
		data, from, err := conn.ReadFrom()
		if err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				return nil
			}
			if errors.Is(err, transport.ErrOversize) {
				metrics.BrokerMalformedTotal.Inc()
				slog.Warn(fmt.Sprintf("%s - dropped oversize datagram from %s", logPrefix, from))
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("%s - receive failed: %w", logPrefix, err)
		}

		if err := b.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		go func() {
			defer b.sem.Release(1)
			b.handle(ctx, data, from)
		}()
	}
}

// drain waits for in-flight workers.
func (b *Broker) drain() {
	_ = b.sem.Acquire(context.Background(), b.maxWorkers)
	b.sem.Release(b.maxWorkers)
}
