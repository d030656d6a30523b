package events

import "context"

// EventPublisher is the interface for publishing broker events.
type EventPublisher interface {
	PublishNodeRegistered(ctx context.Context, event *NodeRegisteredEvent) error
	PublishCallTimedOut(ctx context.Context, event *CallTimedOutEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for brokers without COMMS).
type NoOpPublisher struct{}

// PublishNodeRegistered is a no-op.
func (p *NoOpPublisher) PublishNodeRegistered(_ context.Context, _ *NodeRegisteredEvent) error {
	return nil
}

// PublishCallTimedOut is a no-op.
func (p *NoOpPublisher) PublishCallTimedOut(_ context.Context, _ *CallTimedOutEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls callback functions (for testing).
// Nil callbacks are skipped.
type CallbackPublisher struct {
	OnRegistered func(ctx context.Context, event *NodeRegisteredEvent) error
	OnTimedOut   func(ctx context.Context, event *CallTimedOutEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher for registration events.
func NewCallbackPublisher(cb func(ctx context.Context, event *NodeRegisteredEvent) error) *CallbackPublisher {
	return &CallbackPublisher{OnRegistered: cb}
}

// PublishNodeRegistered calls OnRegistered.
func (p *CallbackPublisher) PublishNodeRegistered(ctx context.Context, event *NodeRegisteredEvent) error {
	if p.OnRegistered == nil {
		return nil
	}
	return p.OnRegistered(ctx, event)
}

// PublishCallTimedOut calls OnTimedOut.
func (p *CallbackPublisher) PublishCallTimedOut(ctx context.Context, event *CallTimedOutEvent) error {
	if p.OnTimedOut == nil {
		return nil
	}
	return p.OnTimedOut(ctx, event)
}
