package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/metrics"
	"github.com/morezero/mediator-broker/pkg/transport"
)

const invokeLogPrefix = "agent:invoke"

// handleRequest always answers the sender, with a result or an error Response.
func (a *Agent) handleRequest(ctx context.Context, conn *transport.Conn, env *envelope.Envelope, from *net.UDPAddr) {
	if cached, ok := a.replies.Get(env.ID); ok {
		metrics.AgentDuplicateRequestsTotal.Inc()
		slog.Debug(fmt.Sprintf("%s - answering retransmitted %s from cache", invokeLogPrefix, env.ID))
		a.send(conn, cached.([]byte), from)
		return
	}
	if _, busy := a.inflight.LoadOrStore(env.ID, struct{}{}); busy {
		slog.Debug(fmt.Sprintf("%s - %s already in progress", invokeLogPrefix, env.ID))
		return
	}
	defer a.inflight.Delete(env.ID)

	data := a.encodeReply(env, a.invokeRequest(ctx, env))
	if data == nil {
		return
	}
	a.replies.Add(env.ID, data)
	a.send(conn, data, from)
}

// invokeRequest resolves, decodes and runs the handler, returning the Response to send.
func (a *Agent) invokeRequest(ctx context.Context, env *envelope.Envelope) *envelope.Envelope {
	desc, err := a.types.Resolve(env.TypeName)
	if err != nil {
		return errorReply(env, err)
	}
	binding, ok := a.requestBinding(env.TypeName)
	if !ok {
		return errorReply(env, envelope.NewError(envelope.CodeNoHandlerRegistered,
			fmt.Sprintf("no local handler for %q", env.TypeName)))
	}

	req := desc.New()
	if err := env.DecodePayload(req); err != nil {
		return errorReply(env, envelope.NewError(envelope.CodeMalformedEnvelope,
			fmt.Sprintf("decode %s payload: %v", env.TypeName, err)))
	}

	var result any
	if err := safeInvoke(func() error {
		var err error
		result, err = binding.invoke(ctx, req)
		return err
	}); err != nil {
		metrics.AgentInvocationsTotal.WithLabelValues("request", metrics.Fail).Inc()
		slog.Warn(fmt.Sprintf("%s - %s failed for %s: %v", invokeLogPrefix, binding.name, env.ID, err))
		return errorReply(env, envelope.NewError(envelope.CodeHandlerInvocationFailed, err.Error()))
	}
	metrics.AgentInvocationsTotal.WithLabelValues("request", metrics.Ok).Inc()

	resp, err := envelope.NewResponse(env, binding.responseType, result)
	if err != nil {
		return errorReply(env, envelope.NewError(envelope.CodeHandlerInvocationFailed, err.Error()))
	}
	return resp
}

// encodeReply encodes resp, replacing an oversize reply with PAYLOAD_TOO_LARGE.
func (a *Agent) encodeReply(req, resp *envelope.Envelope) []byte {
	data, err := envelope.Encode(resp)
	if err == nil {
		return data
	}
	var envErr *envelope.Error
	if !errors.As(err, &envErr) {
		envErr = envelope.NewError(envelope.CodeHandlerInvocationFailed, err.Error())
	}
	slog.Warn(fmt.Sprintf("%s - reply to %s: %v", invokeLogPrefix, req.ID, err))
	data, err = envelope.Encode(envelope.NewErrorResponse(req.ID, resp.TypeName, envErr))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode error reply to %s: %v", invokeLogPrefix, req.ID, err))
		return nil
	}
	return data
}

func (a *Agent) handleNotification(ctx context.Context, env *envelope.Envelope) {
	desc, err := a.types.Resolve(env.TypeName)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropped notification: %v", invokeLogPrefix, err))
		return
	}
	bindings := a.notificationBindings(env.TypeName)
	if len(bindings) == 0 {
		slog.Debug(fmt.Sprintf("%s - no subscriber for %s", invokeLogPrefix, env.TypeName))
		return
	}

	for _, b := range bindings {
		n := desc.New()
		if err := env.DecodePayload(n); err != nil {
			slog.Warn(fmt.Sprintf("%s - decode %s payload: %v", invokeLogPrefix, env.TypeName, err))
			return
		}
		if err := safeInvoke(func() error { return b.invoke(ctx, n) }); err != nil {
			metrics.AgentInvocationsTotal.WithLabelValues("notification", metrics.Fail).Inc()
			slog.Warn(fmt.Sprintf("%s - %s failed for %s: %v", invokeLogPrefix, b.name, env.ID, err))
			continue
		}
		metrics.AgentInvocationsTotal.WithLabelValues("notification", metrics.Ok).Inc()
	}
}

func (a *Agent) send(conn *transport.Conn, data []byte, to *net.UDPAddr) {
	if err := conn.WriteTo(data, to); err != nil {
		slog.Error(fmt.Sprintf("%s - send to %s failed: %v", invokeLogPrefix, to, err))
	}
}

// safeInvoke converts a handler panic into an error.
func safeInvoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn()
}

func errorReply(req *envelope.Envelope, err error) *envelope.Envelope {
	var envErr *envelope.Error
	if !errors.As(err, &envErr) {
		envErr = envelope.NewError(envelope.CodeHandlerInvocationFailed, err.Error())
	}
	return envelope.NewErrorResponse(req.ID, req.TypeName, envErr)
}
