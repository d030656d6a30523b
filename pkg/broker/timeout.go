package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/morezero/mediator-broker/pkg/correlation"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/events"
	"github.com/morezero/mediator-broker/pkg/metrics"
)

const timeoutLogPrefix = "broker:timeout"

// expire answers a call the node never replied to. A Response arriving later
// finds no PendingCall and is dropped.
func (b *Broker) expire(call *correlation.PendingCall) {
	metrics.BrokerPendingCalls.Dec()
	metrics.BrokerTimeoutsTotal.Inc()
	slog.Warn(fmt.Sprintf("%s - %s %s to %s timed out", timeoutLogPrefix, call.TypeName, call.ID, call.Target))

	if caller, ok := call.Caller.(*net.UDPAddr); ok {
		b.reply(caller, envelope.NewErrorResponse(call.ID, call.TypeName,
			envelope.NewError(envelope.CodeTimeout,
				fmt.Sprintf("no response from %s within %s", call.Target, call.Deadline.Sub(call.IssuedAt)))))
	}

	now := time.Now().UTC()
	if err := b.publisher.PublishCallTimedOut(context.Background(), &events.CallTimedOutEvent{
		ID:        call.ID.String(),
		TypeName:  call.TypeName,
		Target:    call.Target,
		Caller:    fmt.Sprint(call.Caller),
		IssuedAt:  call.IssuedAt.UTC().Format(time.RFC3339Nano),
		Timestamp: now.Format(time.RFC3339Nano),
	}); err != nil {
		slog.Error(fmt.Sprintf("%s - PublishCallTimedOut failed: %v", timeoutLogPrefix, err))
	}
}
