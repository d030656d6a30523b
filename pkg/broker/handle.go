package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/morezero/mediator-broker/pkg/correlation"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/metrics"
	"github.com/morezero/mediator-broker/pkg/registry"
)

const handleLogPrefix = "broker:handle"

// handle processes one datagram. Forwarded and relayed datagrams are sent byte for byte.
func (b *Broker) handle(ctx context.Context, data []byte, from *net.UDPAddr) {
	env, err := envelope.Decode(data)
	if err != nil {
		metrics.BrokerMalformedTotal.Inc()
		slog.Warn(fmt.Sprintf("%s - dropped datagram from %s: %v", handleLogPrefix, from, err))
		return
	}
	metrics.BrokerDatagramsTotal.WithLabelValues(string(env.Kind)).Inc()

	switch env.Kind {
	case envelope.KindHandlerRegistration, envelope.KindNotificationHandlerRegistration:
		b.handleRegistration(ctx, env, from)
	case envelope.KindRequest:
		b.handleRequest(env, data, from)
	case envelope.KindResponse:
		b.handleResponse(env, data)
	case envelope.KindNotification:
		b.handleNotification(env, data)
	}
}

func (b *Broker) handleRegistration(ctx context.Context, env *envelope.Envelope, from *net.UDPAddr) {
	reg, err := env.DecodeRegistration()
	if err != nil {
		metrics.BrokerMalformedTotal.Inc()
		slog.Warn(fmt.Sprintf("%s - dropped registration from %s: %v", handleLogPrefix, from, err))
		return
	}

	out, err := b.registry.Register(ctx, &registry.RegisterInput{Kind: env.Kind, Registration: *reg, Source: from})
	if err != nil {
		var regErr *envelope.Error
		if errors.As(err, &regErr) && regErr.Code == envelope.CodeRegistrationRejected {
			metrics.BrokerRegistrationsTotal.WithLabelValues("rejected").Inc()
			b.reply(from, envelope.NewErrorResponse(env.ID, env.TypeName, regErr))
			return
		}
		metrics.BrokerMalformedTotal.Inc()
		slog.Warn(fmt.Sprintf("%s - dropped registration from %s: %v", handleLogPrefix, from, err))
		return
	}
	metrics.BrokerRegistrationsTotal.WithLabelValues(out.Action).Inc()
}

func (b *Broker) handleRequest(env *envelope.Envelope, data []byte, from *net.UDPAddr) {
	if existing, ok := b.calls.Get(env.ID); ok {
		b.handleDuplicateRequest(existing, env, data, from)
		return
	}

	target, err := b.registry.SelectNode(env.TypeName)
	if err != nil {
		metrics.BrokerNoHandlerTotal.Inc()
		slog.Debug(fmt.Sprintf("%s - no handler for %s from %s", handleLogPrefix, env.TypeName, from))
		b.reply(from, envelope.NewErrorResponse(env.ID, env.TypeName,
			envelope.NewError(envelope.CodeNoHandlerRegistered, fmt.Sprintf("no node handles %q", env.TypeName))))
		return
	}

	call := correlation.NewPendingCall(env.ID, env.TypeName, time.Now(), b.timeoutFor(env))
	call.Caller = from
	call.Target = target.Address
	if err := b.calls.Insert(call); err != nil {
		// Lost a race with a concurrent copy of the same datagram.
		slog.Debug(fmt.Sprintf("%s - %v", handleLogPrefix, err))
		return
	}
	metrics.BrokerPendingCalls.Inc()

	if err := b.conn.WriteTo(data, target.Addr); err != nil {
		metrics.BrokerForwardedTotal.WithLabelValues(metrics.Fail).Inc()
		slog.Error(fmt.Sprintf("%s - forward %s %s to %s failed: %v", handleLogPrefix, env.TypeName, env.ID, target.Address, err))
		return
	}
	metrics.BrokerForwardedTotal.WithLabelValues(metrics.Ok).Inc()
	slog.Debug(fmt.Sprintf("%s - forwarded %s %s from %s to %s", handleLogPrefix, env.TypeName, env.ID, from, target.Address))
}

// handleDuplicateRequest treats a pending id from the same caller as a retransmission
// and resends it to the node already chosen. Any other caller reusing the id is refused.
func (b *Broker) handleDuplicateRequest(call *correlation.PendingCall, env *envelope.Envelope, data []byte, from *net.UDPAddr) {
	if call.Caller.String() != from.String() {
		slog.Warn(fmt.Sprintf("%s - id %s from %s is already pending for %s", handleLogPrefix, env.ID, from, call.Caller))
		b.reply(from, envelope.NewErrorResponse(env.ID, env.TypeName,
			envelope.NewError(envelope.CodeMalformedEnvelope, "request id is already in use")))
		return
	}
	target, err := net.ResolveUDPAddr("udp", call.Target)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - resolve %s: %v", handleLogPrefix, call.Target, err))
		return
	}
	if err := b.conn.WriteTo(data, target); err != nil {
		metrics.BrokerForwardedTotal.WithLabelValues(metrics.Fail).Inc()
		slog.Error(fmt.Sprintf("%s - re-forward %s to %s failed: %v", handleLogPrefix, env.ID, call.Target, err))
		return
	}
	metrics.BrokerForwardedTotal.WithLabelValues(metrics.Ok).Inc()
	slog.Debug(fmt.Sprintf("%s - re-forwarded %s to %s", handleLogPrefix, env.ID, call.Target))
}

func (b *Broker) handleResponse(env *envelope.Envelope, data []byte) {
	call, ok := b.calls.Resolve(env.ID)
	if !ok {
		metrics.BrokerUnknownResponsesTotal.Inc()
		slog.Debug(fmt.Sprintf("%s - dropped response for unknown id %s", handleLogPrefix, env.ID))
		return
	}
	metrics.BrokerPendingCalls.Dec()
	metrics.BrokerForwardLatencySeconds.Observe(time.Since(call.IssuedAt).Seconds())

	caller, ok := call.Caller.(*net.UDPAddr)
	if !ok {
		return
	}
	if err := b.conn.WriteTo(data, caller); err != nil {
		metrics.BrokerRelayedTotal.WithLabelValues(metrics.Fail).Inc()
		slog.Error(fmt.Sprintf("%s - relay %s to %s failed: %v", handleLogPrefix, env.ID, caller, err))
		return
	}
	metrics.BrokerRelayedTotal.WithLabelValues(metrics.Ok).Inc()
}

func (b *Broker) handleNotification(env *envelope.Envelope, data []byte) {
	subs := b.registry.Subscribers(env.TypeName)
	if len(subs) == 0 {
		slog.Debug(fmt.Sprintf("%s - no subscribers for %s", handleLogPrefix, env.TypeName))
		return
	}
	for _, sub := range subs {
		if err := b.conn.WriteTo(data, sub.Addr); err != nil {
			metrics.BrokerNotificationSendsTotal.WithLabelValues(metrics.Fail).Inc()
			slog.Error(fmt.Sprintf("%s - notify %s at %s failed: %v", handleLogPrefix, env.TypeName, sub.Address, err))
			continue
		}
		metrics.BrokerNotificationSendsTotal.WithLabelValues(metrics.Ok).Inc()
	}
}

// timeoutFor returns the configured timeout, shortened by the Request's timeoutMs.
func (b *Broker) timeoutFor(env *envelope.Envelope) time.Duration {
	timeout := b.requestTimeout
	if env.TimeoutMs > 0 {
		if d := time.Duration(env.TimeoutMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	return timeout
}

func (b *Broker) reply(to *net.UDPAddr, env *envelope.Envelope) {
	if err := b.conn.WriteEnvelope(env, to); err != nil {
		slog.Error(fmt.Sprintf("%s - reply %s to %s failed: %v", handleLogPrefix, env.ID, to, err))
	}
}
