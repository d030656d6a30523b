package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/mediator-broker/pkg/correlation"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/metrics"
)

const outboundLogPrefix = "agent:outbound"

// Send dispatches a Request through the broker and decodes the Response into resp
// (which may be nil). Caller-visible failures are returned as *envelope.Error.
// The agent must be running: its receive loop delivers the Response.
func (a *Agent) Send(ctx context.Context, typeName string, req any, resp any) error {
	conn := a.conn.Load()
	if conn == nil {
		return fmt.Errorf("%s - agent is not running", outboundLogPrefix)
	}

	env, err := envelope.NewRequest(typeName, req)
	if err != nil {
		return err
	}
	timeout := a.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	env.TimeoutMs = int(timeout.Milliseconds())
	if env.TimeoutMs <= 0 {
		return envelope.NewError(envelope.CodeTimeout, "deadline already passed")
	}

	call := correlation.NewPendingCall(env.ID, typeName, time.Now(), timeout)
	call.Caller = conn.LocalAddr()
	call.Target = a.broker.String()
	if err := a.calls.Insert(call); err != nil {
		return err
	}
	if err := conn.WriteEnvelope(env, a.broker); err != nil {
		a.calls.Cancel(env.ID)
		metrics.AgentCallsTotal.WithLabelValues(metrics.Fail).Inc()
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, err := call.Await(waitCtx)
	if err != nil {
		a.calls.Cancel(env.ID)
		metrics.AgentCallsTotal.WithLabelValues(metrics.Fail).Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return envelope.NewError(envelope.CodeTimeout, fmt.Sprintf("%s %s: %v", typeName, env.ID, err))
		}
		return err
	}
	if reply.Error != nil {
		metrics.AgentCallsTotal.WithLabelValues(metrics.Fail).Inc()
		return reply.Error
	}
	metrics.AgentCallsTotal.WithLabelValues(metrics.Ok).Inc()

	if resp == nil {
		return nil
	}
	if err := reply.DecodePayload(resp); err != nil {
		return envelope.NewError(envelope.CodeMalformedEnvelope, fmt.Sprintf("decode %s: %v", reply.TypeName, err))
	}
	return nil
}

// Notify publishes a Notification through the broker. There is no reply.
func (a *Agent) Notify(ctx context.Context, typeName string, payload any) error {
	conn := a.conn.Load()
	if conn == nil {
		return fmt.Errorf("%s - agent is not running", outboundLogPrefix)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := envelope.NewNotification(typeName, payload)
	if err != nil {
		return err
	}
	return conn.WriteEnvelope(env, a.broker)
}

// Call sends req under its registered type name and returns the typed Response.
func Call[Req, Resp any](ctx context.Context, a *Agent, req *Req) (*Resp, error) {
	typeName, err := nameOf[Req](a)
	if err != nil {
		return nil, err
	}
	var resp Resp
	if err := a.Send(ctx, typeName, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Publish notifies under n's registered type name.
func Publish[N any](ctx context.Context, a *Agent, n *N) error {
	typeName, err := nameOf[N](a)
	if err != nil {
		return err
	}
	return a.Notify(ctx, typeName, n)
}

// handleResponse hands a Response to its waiter. Responses nobody waits for are
// dropped, except a registration refusal, which is logged.
func (a *Agent) handleResponse(env *envelope.Envelope) {
	call, ok := a.calls.Resolve(env.ID)
	if !ok {
		if errors.Is(env.Error, envelope.ErrRegistrationRejected) {
			slog.Error(fmt.Sprintf("%s - broker rejected %s registration: %s", outboundLogPrefix, env.TypeName, env.Error.Message))
			return
		}
		slog.Debug(fmt.Sprintf("%s - dropped response for unknown id %s", outboundLogPrefix, env.ID))
		return
	}
	call.Deliver(env)
}

// expire fails a call whose Response never came.
func (a *Agent) expire(call *correlation.PendingCall) {
	call.Deliver(envelope.NewErrorResponse(call.ID, call.TypeName,
		envelope.NewError(envelope.CodeTimeout, fmt.Sprintf("no response within %s", call.Deadline.Sub(call.IssuedAt)))))
}
