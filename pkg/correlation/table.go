// Package correlation tracks requests that are waiting for a Response.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/mediator-broker/pkg/envelope"
)

const logPrefix = "correlation:table"

const numShards = 16

// ErrDuplicateCall is returned by Insert when the id is already pending.
var ErrDuplicateCall = errors.New("correlation: call already pending")

// PendingCall is the bookkeeping for one outstanding Request.
type PendingCall struct {
	ID       uuid.UUID
	Caller   net.Addr // who receives the Response (broker side)
	Target   string   // node the Request was forwarded to
	TypeName string
	IssuedAt time.Time
	Deadline time.Time

	result chan *envelope.Envelope
}

// NewPendingCall creates a call that expires timeout after now.
func NewPendingCall(id uuid.UUID, typeName string, now time.Time, timeout time.Duration) *PendingCall {
	return &PendingCall{
		ID:       id,
		TypeName: typeName,
		IssuedAt: now,
		Deadline: now.Add(timeout),
		result:   make(chan *envelope.Envelope, 1),
	}
}

// Deliver hands the Response to a waiter. It never blocks; only the first delivery is kept.
func (c *PendingCall) Deliver(env *envelope.Envelope) {
	select {
	case c.result <- env:
	default:
	}
}

// Await blocks until a Response is delivered or ctx is done.
func (c *PendingCall) Await(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case env := <-c.result:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expired reports whether the deadline has passed at now.
func (c *PendingCall) Expired(now time.Time) bool {
	return !now.Before(c.Deadline)
}

type shard struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*PendingCall
}

// Table is a sharded map of pending calls keyed by correlation id.
type Table struct {
	shards [numShards]*shard
}

// NewTable creates an empty Table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{calls: make(map[uuid.UUID]*PendingCall)}
	}
	return t
}

func (t *Table) shardFor(id uuid.UUID) *shard {
	return t.shards[id[0]%numShards]
}

// Insert records a call. It must happen before the Request is sent.
func (t *Table) Insert(call *PendingCall) error {
	s := t.shardFor(call.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[call.ID]; ok {
		return fmt.Errorf("%s - %w: %s", logPrefix, ErrDuplicateCall, call.ID)
	}
	s.calls[call.ID] = call
	return nil
}

// Get returns the pending call without removing it.
func (t *Table) Get(id uuid.UUID) (*PendingCall, bool) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	return c, ok
}

// Resolve removes and returns the call for id. Unknown or already-resolved ids return false.
func (t *Table) Resolve(id uuid.UUID) (*PendingCall, bool) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if ok {
		delete(s.calls, id)
	}
	return c, ok
}

// Cancel drops the call for id, if any.
func (t *Table) Cancel(id uuid.UUID) {
	t.Resolve(id)
}

// Expire removes and returns every call whose deadline has passed at now.
func (t *Table) Expire(now time.Time) []*PendingCall {
	var expired []*PendingCall
	for _, s := range t.shards {
		s.mu.Lock()
		for id, c := range s.calls {
			if c.Expired(now) {
				expired = append(expired, c)
				delete(s.calls, id)
			}
		}
		s.mu.Unlock()
	}
	return expired
}

// Len returns the number of pending calls.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.calls)
		s.mu.Unlock()
	}
	return n
}

// Snapshot returns pending calls ordered by issue time.
func (t *Table) Snapshot() []PendingCall {
	var out []PendingCall
	for _, s := range t.shards {
		s.mu.Lock()
		for _, c := range s.calls {
			out = append(out, PendingCall{
				ID: c.ID, Caller: c.Caller, Target: c.Target, TypeName: c.TypeName,
				IssuedAt: c.IssuedAt, Deadline: c.Deadline,
			})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// Sweep expires calls every interval until ctx is done, passing each to onExpire once.
func (t *Table) Sweep(ctx context.Context, interval time.Duration, onExpire func(*PendingCall)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := t.Expire(now)
			if len(expired) > 0 {
				slog.Debug(fmt.Sprintf("%s - expired %d pending calls", logPrefix, len(expired)))
			}
			for _, c := range expired {
				onExpire(c)
			}
		}
	}
}
