package registry

import (
	"sort"

	"github.com/morezero/mediator-broker/pkg/envelope"
)

// Nodes returns a snapshot of every node in first-registration order.
func (r *Registry) Nodes() []NodeRegistration {
	r.mu.RLock()
	nodes := make([]*node, 0, len(r.order))
	for _, key := range r.order {
		nodes = append(nodes, r.nodes[key])
	}
	r.mu.RUnlock()

	out := make([]NodeRegistration, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.snapshot())
	}
	return out
}

// Node returns the node registered at address.
func (r *Registry) Node(address string) (NodeRegistration, bool) {
	r.mu.RLock()
	n, ok := r.nodes[address]
	r.mu.RUnlock()
	if !ok {
		return NodeRegistration{}, false
	}
	return n.snapshot(), true
}

// Routes returns the index, request types first, each sorted by type name.
func (r *Registry) Routes() []TypeRoutes {
	var out []TypeRoutes
	for _, kind := range []envelope.Kind{envelope.KindHandlerRegistration, envelope.KindNotificationHandlerRegistration} {
		var routes []TypeRoutes
		r.index(kind).Range(func(key, value any) bool {
			nodes := value.(*typeEntry).all()
			addrs := make([]string, 0, len(nodes))
			for _, n := range nodes {
				addrs = append(addrs, n.address)
			}
			routes = append(routes, TypeRoutes{TypeName: key.(string), Kind: kind, Nodes: addrs})
			return true
		})
		sort.Slice(routes, func(i, j int) bool { return routes[i].TypeName < routes[j].TypeName })
		out = append(out, routes...)
	}
	return out
}

// Stats returns registry counters.
func (r *Registry) Stats() StatsOutput {
	r.mu.RLock()
	nodes := len(r.nodes)
	r.mu.RUnlock()

	return StatsOutput{
		Nodes:             nodes,
		RequestTypes:      countEntries(&r.requests),
		NotificationTypes: countEntries(&r.notifications),
		Registrations:     r.registrations.Load(),
	}
}

func countEntries(m interface{ Range(func(key, value any) bool) }) int {
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
