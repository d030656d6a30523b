package registry

import (
	"fmt"

	"github.com/morezero/mediator-broker/pkg/envelope"
)

// SelectNode picks the node that receives the next Request of typeName.
// Nodes are taken in strict round-robin over first-registration order;
// with two nodes, consecutive requests alternate.
func (r *Registry) SelectNode(typeName string) (Endpoint, error) {
	e, ok := r.lookup(envelope.KindHandlerRegistration, typeName)
	if ok {
		if n, ok := e.pick(); ok {
			return n.endpoint(), nil
		}
	}
	return Endpoint{}, envelope.NewError(envelope.CodeNoHandlerRegistered,
		fmt.Sprintf("no node registered for request type %q", typeName))
}

// Subscribers returns every node subscribed to the notification type.
func (r *Registry) Subscribers(typeName string) []Endpoint {
	e, ok := r.lookup(envelope.KindNotificationHandlerRegistration, typeName)
	if !ok {
		return nil
	}
	nodes := e.all()
	out := make([]Endpoint, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.endpoint())
	}
	return out
}
