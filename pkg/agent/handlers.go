package agent

import (
	"context"
	"fmt"
)

const handlersLogPrefix = "agent:handlers"

// RequestHandler serves one Request type.
type RequestHandler[Req, Resp any] interface {
	Handle(ctx context.Context, req *Req) (*Resp, error)
}

// NotificationHandler consumes one Notification type.
type NotificationHandler[N any] interface {
	Handle(ctx context.Context, n *N) error
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc[Req, Resp any] func(ctx context.Context, req *Req) (*Resp, error)

// Handle calls f.
func (f RequestHandlerFunc[Req, Resp]) Handle(ctx context.Context, req *Req) (*Resp, error) {
	return f(ctx, req)
}

// NotificationHandlerFunc adapts a function to NotificationHandler.
type NotificationHandlerFunc[N any] func(ctx context.Context, n *N) error

// Handle calls f.
func (f NotificationHandlerFunc[N]) Handle(ctx context.Context, n *N) error {
	return f(ctx, n)
}

type requestBinding struct {
	name         string
	requestType  string
	responseType string
	// invoke receives a decoded *Req.
	invoke func(ctx context.Context, req any) (any, error)
}

type notificationBinding struct {
	name             string
	notificationType string
	invoke           func(ctx context.Context, n any) error
}

// HandleRequest binds a handler for Req. newHandler is called once per invocation,
// so handler instances are never shared between concurrent Requests.
// Req and Resp must already be registered in a.Types(); one handler per Req type.
func HandleRequest[Req, Resp any](a *Agent, name string, newHandler func() RequestHandler[Req, Resp]) error {
	reqName, err := nameOf[Req](a)
	if err != nil {
		return err
	}
	respName, err := nameOf[Resp](a)
	if err != nil {
		return err
	}

	b := &requestBinding{
		name:         name,
		requestType:  reqName,
		responseType: respName,
		invoke: func(ctx context.Context, req any) (any, error) {
			return newHandler().Handle(ctx, req.(*Req))
		},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.requests[reqName]; ok {
		return fmt.Errorf("%s - %s already handled by %s", handlersLogPrefix, reqName, existing.name)
	}
	a.requests[reqName] = b
	return nil
}

// HandleNotification binds a handler for N. Several handlers may subscribe to one type;
// each receives every Notification.
func HandleNotification[N any](a *Agent, name string, newHandler func() NotificationHandler[N]) error {
	typeName, err := nameOf[N](a)
	if err != nil {
		return err
	}

	b := &notificationBinding{
		name:             name,
		notificationType: typeName,
		invoke: func(ctx context.Context, n any) error {
			return newHandler().Handle(ctx, n.(*N))
		},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifications[typeName] = append(a.notifications[typeName], b)
	return nil
}

func nameOf[T any](a *Agent) (string, error) {
	name, err := a.types.Describe((*T)(nil))
	if err != nil {
		return "", fmt.Errorf("%s - %w", handlersLogPrefix, err)
	}
	return name, nil
}

func (a *Agent) requestBinding(typeName string) (*requestBinding, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.requests[typeName]
	return b, ok
}

func (a *Agent) notificationBindings(typeName string) []*notificationBinding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.notifications[typeName]
}
