package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/mediator-broker/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// RegisteredSubject overrides the base registration subject (e.g. from BROKER_EVENT_SUBJECT).
	RegisteredSubject string
	// TimeoutSubject overrides the call-timeout subject.
	TimeoutSubject string
}

// CommsPublisher publishes broker events to COMMS subjects.
type CommsPublisher struct {
	nc                *comms.Conn
	registeredSubject string
	timeoutSubject    string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{
		nc:                nc,
		registeredSubject: commsutil.SubjectNodeRegistered,
		timeoutSubject:    commsutil.SubjectCallTimedOut,
	}
	if opts != nil && opts.RegisteredSubject != "" {
		p.registeredSubject = opts.RegisteredSubject
	}
	if opts != nil && opts.TimeoutSubject != "" {
		p.timeoutSubject = opts.TimeoutSubject
	}
	return p
}

// PublishNodeRegistered publishes to both the per-type and the base registration subjects.
func (p *CommsPublisher) PublishNodeRegistered(_ context.Context, event *NodeRegisteredEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granularSubject := commsutil.BuildNodeRegisteredSubjectWith(p.registeredSubject, event.TypeName)
	if err := p.nc.Publish(granularSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
		return err
	}
	if err := p.nc.Publish(p.registeredSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.registeredSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published registration of %s by %s", commsPublisherLogPrefix, event.TypeName, event.Address))
	return nil
}

// PublishCallTimedOut publishes to the timeout subject.
func (p *CommsPublisher) PublishCallTimedOut(_ context.Context, event *CallTimedOutEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}
	if err := p.nc.Publish(p.timeoutSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.timeoutSubject, err))
		return err
	}
	return nil
}
