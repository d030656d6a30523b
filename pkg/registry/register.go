package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/morezero/mediator-broker/pkg/db"
	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/events"
	"github.com/morezero/mediator-broker/pkg/semver"
)

const registerLogPrefix = "registry:register"

// validateRegistration checks kind and names. Failures are MALFORMED_ENVELOPE.
func validateRegistration(input *RegisterInput) *envelope.Error {
	if !input.Kind.IsRegistration() {
		return envelope.NewError(envelope.CodeMalformedEnvelope, fmt.Sprintf("kind %s is not a registration", input.Kind))
	}
	reg := &input.Registration
	if !semver.ValidateTypeName(reg.RequestOrNotificationTypeName) {
		return envelope.NewError(envelope.CodeMalformedEnvelope,
			fmt.Sprintf("type name %q must start with a letter and contain only letters, digits, dots, hyphens, underscores", reg.RequestOrNotificationTypeName))
	}
	if reg.ClientName != "" && !semver.ValidateClientName(reg.ClientName) {
		return envelope.NewError(envelope.CodeMalformedEnvelope, fmt.Sprintf("client name %q is invalid", reg.ClientName))
	}
	if reg.CallbackPort < 0 || reg.CallbackPort > 65535 {
		return envelope.NewError(envelope.CodeMalformedEnvelope, fmt.Sprintf("callback port %d out of range", reg.CallbackPort))
	}
	return nil
}

// CallbackAddr resolves where a node wants forwarded traffic. An empty or
// unspecified host, or a zero port, falls back to the datagram source.
func CallbackAddr(reg *envelope.Registration, source *net.UDPAddr) (*net.UDPAddr, error) {
	host := reg.CallbackHost
	port := reg.CallbackPort
	if source != nil {
		if host == "" {
			host = source.IP.String()
		} else if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
			host = source.IP.String()
		}
		if port == 0 {
			port = source.Port
		}
	}
	if host == "" || port == 0 {
		return nil, envelope.NewError(envelope.CodeMalformedEnvelope, "registration has no usable callback address")
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, envelope.NewError(envelope.CodeMalformedEnvelope, fmt.Sprintf("callback address %s:%d: %v", host, port, err))
	}
	return addr, nil
}

// Register upserts the registering node and merges its type into the index.
// Re-registering the same (type, node) pair is a no-op reported as ActionUnchanged.
func (r *Registry) Register(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
	if err := validateRegistration(input); err != nil {
		return nil, err
	}
	reg := &input.Registration

	if err := r.constraint.Check(reg.AgentVersion); err != nil {
		slog.Warn(fmt.Sprintf("%s - rejected %s from %s: %v", registerLogPrefix, reg.RequestOrNotificationTypeName, reg.ClientName, err))
		return nil, envelope.NewError(envelope.CodeRegistrationRejected,
			fmt.Sprintf("agent version %q does not satisfy %s", reg.AgentVersion, r.constraint))
	}

	addr, err := CallbackAddr(reg, input.Source)
	if err != nil {
		return nil, err
	}

	now := r.now()
	n, created := r.upsertNode(addr, now)
	typeAdded := n.touch(input.Kind, reg.RequestOrNotificationTypeName, reg.ClientName, reg.AgentVersion, now)
	// The node is in r.nodes before it becomes reachable from the index.
	r.entry(input.Kind, reg.RequestOrNotificationTypeName).add(n)
	r.registrations.Add(1)

	action := ActionUnchanged
	switch {
	case created:
		action = ActionCreated
	case typeAdded:
		action = ActionUpdated
	}

	out := &RegisterOutput{
		Action:   action,
		Address:  n.address,
		Kind:     input.Kind,
		TypeName: reg.RequestOrNotificationTypeName,
	}

	if action != ActionUnchanged {
		slog.Info(fmt.Sprintf("%s - %s %s %s for %s (%s)", registerLogPrefix, action, input.Kind,
			reg.RequestOrNotificationTypeName, n.address, reg.ClientName))
		if err := r.publisher.PublishNodeRegistered(ctx, &events.NodeRegisteredEvent{
			ClientName:   reg.ClientName,
			Address:      n.address,
			Kind:         string(input.Kind),
			TypeName:     reg.RequestOrNotificationTypeName,
			Action:       action,
			AgentVersion: reg.AgentVersion,
			Timestamp:    now.UTC().Format(time.RFC3339),
		}); err != nil {
			slog.Error(fmt.Sprintf("%s - PublishNodeRegistered failed: %v", registerLogPrefix, err))
		}
	}

	r.record(ctx, input, n.address, now)
	return out, nil
}

// record writes to the ledger; failures never affect routing.
func (r *Registry) record(ctx context.Context, input *RegisterInput, address string, now time.Time) {
	if r.ledger == nil {
		return
	}
	reg := &input.Registration
	if _, err := r.ledger.RecordRegistration(ctx, db.RecordRegistrationParams{
		Address:          address,
		ClientName:       reg.ClientName,
		Kind:             string(input.Kind),
		TypeName:         reg.RequestOrNotificationTypeName,
		ResponseTypeName: reg.ResponseTypeName,
		AgentVersion:     reg.AgentVersion,
		SeenAt:           now,
	}); err != nil {
		slog.Error(fmt.Sprintf("%s - RecordRegistration failed: %v", registerLogPrefix, err))
	}
}

// Seed registers a batch of static entries, returning how many were accepted.
// Every entry is attempted; the first error is returned.
func (r *Registry) Seed(ctx context.Context, inputs []RegisterInput) (int, error) {
	var (
		accepted int
		firstErr error
	)
	for i := range inputs {
		if _, err := r.Register(ctx, &inputs[i]); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s - seed entry %d (%s): %w", registerLogPrefix, i,
					inputs[i].Registration.RequestOrNotificationTypeName, err)
			}
			continue
		}
		accepted++
	}
	return accepted, firstErr
}
