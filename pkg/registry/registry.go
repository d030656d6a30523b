package registry

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/mediator-broker/pkg/db"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/events"
	"github.com/morezero/mediator-broker/pkg/semver"
)

const logPrefix = "registry:registry"

// Config holds registry configuration.
type Config struct {
	// AgentVersionConstraint is a SemVer range agents must satisfy; empty accepts all.
	AgentVersionConstraint string
}

// Ledger records accepted registrations. *db.Repository implements it.
type Ledger interface {
	RecordRegistration(ctx context.Context, params db.RecordRegistrationParams) (*db.NodeRegistrationRow, error)
	Ping(ctx context.Context) error
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Ledger    Ledger
	Publisher events.EventPublisher
	Config    Config
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Registry maps callback addresses to nodes and type names to the nodes serving them.
// It lives for the broker process; nodes are never removed.
type Registry struct {
	ledger     Ledger
	publisher  events.EventPublisher
	constraint *semver.Constraint
	now        func() time.Time

	mu    sync.RWMutex
	nodes map[string]*node
	order []string // first-registration order

	requests      sync.Map // type name -> *typeEntry
	notifications sync.Map // type name -> *typeEntry

	registrations atomic.Uint64
}

// NewRegistry creates a new Registry instance.
func NewRegistry(params NewRegistryParams) (*Registry, error) {
	constraint, err := semver.ParseConstraint(params.Config.AgentVersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		ledger:     params.Ledger,
		publisher:  pub,
		constraint: constraint,
		now:        now,
		nodes:      make(map[string]*node),
	}, nil
}

type node struct {
	address string
	addr    *net.UDPAddr

	mu                sync.Mutex
	clientName        string
	agentVersion      string
	requestTypes      map[string]struct{}
	notificationTypes map[string]struct{}
	firstSeen         time.Time
	lastSeen          time.Time
}

func newNode(addr *net.UDPAddr, now time.Time) *node {
	return &node{
		address:           addr.String(),
		addr:              addr,
		requestTypes:      make(map[string]struct{}),
		notificationTypes: make(map[string]struct{}),
		firstSeen:         now,
		lastSeen:          now,
	}
}

// touch refreshes identity fields and reports whether typeName was new for kind.
func (n *node) touch(kind envelope.Kind, typeName, clientName, agentVersion string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if clientName != "" {
		n.clientName = clientName
	}
	if agentVersion != "" {
		n.agentVersion = agentVersion
	}
	n.lastSeen = now

	set := n.requestTypes
	if kind == envelope.KindNotificationHandlerRegistration {
		set = n.notificationTypes
	}
	if _, ok := set[typeName]; ok {
		return false
	}
	set[typeName] = struct{}{}
	return true
}

func (n *node) endpoint() Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Endpoint{ClientName: n.clientName, Address: n.address, Addr: n.addr}
}

func (n *node) snapshot() NodeRegistration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NodeRegistration{
		ClientName:        n.clientName,
		Address:           n.address,
		AgentVersion:      n.agentVersion,
		RequestTypes:      sortedKeys(n.requestTypes),
		NotificationTypes: sortedKeys(n.notificationTypes),
		FirstSeen:         n.firstSeen,
		LastSeen:          n.lastSeen,
	}
}

// typeEntry is the per-type slice of the index; each has its own lock so
// selection on one type never contends with registration of another.
type typeEntry struct {
	mu    sync.Mutex
	nodes []*node
	next  uint64
}

func (e *typeEntry) add(n *node) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.nodes {
		if existing == n {
			return false
		}
	}
	e.nodes = append(e.nodes, n)
	return true
}

// pick returns the next node in strict round-robin order.
func (e *typeEntry) pick() (*node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.nodes) == 0 {
		return nil, false
	}
	n := e.nodes[e.next%uint64(len(e.nodes))]
	e.next++
	return n, true
}

func (e *typeEntry) all() []*node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*node, len(e.nodes))
	copy(out, e.nodes)
	return out
}

func (r *Registry) index(kind envelope.Kind) *sync.Map {
	if kind == envelope.KindNotificationHandlerRegistration {
		return &r.notifications
	}
	return &r.requests
}

func (r *Registry) entry(kind envelope.Kind, typeName string) *typeEntry {
	idx := r.index(kind)
	if e, ok := idx.Load(typeName); ok {
		return e.(*typeEntry)
	}
	e, _ := idx.LoadOrStore(typeName, &typeEntry{})
	return e.(*typeEntry)
}

func (r *Registry) lookup(kind envelope.Kind, typeName string) (*typeEntry, bool) {
	e, ok := r.index(kind).Load(typeName)
	if !ok {
		return nil, false
	}
	return e.(*typeEntry), true
}

// upsertNode returns the node for addr, creating it if needed.
func (r *Registry) upsertNode(addr *net.UDPAddr, now time.Time) (*node, bool) {
	key := addr.String()

	r.mu.RLock()
	n, ok := r.nodes[key]
	r.mu.RUnlock()
	if ok {
		return n, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[key]; ok {
		return n, false
	}
	n = newNode(addr, now)
	r.nodes[key] = n
	r.order = append(r.order, key)
	return n, true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
