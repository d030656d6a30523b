package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/metrics"
)

const registerLogPrefix = "agent:register"

type registration struct {
	kind envelope.Kind
	reg  envelope.Registration
}

// Registrations returns one registration envelope per bound handler, request
// handlers first, each group ordered by type name.
func (a *Agent) Registrations() ([]*envelope.Envelope, error) {
	host, port := a.callback()

	a.mu.RLock()
	var regs []registration
	for _, b := range a.requests {
		regs = append(regs, registration{envelope.KindHandlerRegistration, envelope.Registration{
			Name:                          b.name,
			RequestOrNotificationTypeName: b.requestType,
			ResponseTypeName:              b.responseType,
		}})
	}
	for _, bs := range a.notifications {
		for _, b := range bs {
			regs = append(regs, registration{envelope.KindNotificationHandlerRegistration, envelope.Registration{
				Name:                          b.name,
				RequestOrNotificationTypeName: b.notificationType,
			}})
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].kind != regs[j].kind {
			return regs[i].kind == envelope.KindHandlerRegistration
		}
		return regs[i].reg.RequestOrNotificationTypeName < regs[j].reg.RequestOrNotificationTypeName
	})

	out := make([]*envelope.Envelope, 0, len(regs))
	for _, r := range regs {
		r.reg.CallbackHost = host
		r.reg.CallbackPort = port
		r.reg.ClientName = a.cfg.ClientName
		r.reg.AgentVersion = a.cfg.Version
		env, err := envelope.NewRegistration(r.kind, &r.reg)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// Register sends every registration to the broker once. Registration is
// fire-and-forget; the broker only answers a rejected registration.
func (a *Agent) Register(ctx context.Context) error {
	conn := a.conn.Load()
	if conn == nil {
		return fmt.Errorf("%s - agent is not running", registerLogPrefix)
	}
	envs, err := a.Registrations()
	if err != nil {
		return err
	}

	var errs []error
	for _, env := range envs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.WriteEnvelope(env, a.broker); err != nil {
			metrics.AgentRegistrationsSentTotal.WithLabelValues(metrics.Fail).Inc()
			errs = append(errs, fmt.Errorf("%s - %s %s: %w", registerLogPrefix, env.Kind, env.TypeName, err))
			continue
		}
		metrics.AgentRegistrationsSentTotal.WithLabelValues(metrics.Ok).Inc()
	}
	slog.Debug(fmt.Sprintf("%s - sent %d registrations to %s", registerLogPrefix, len(envs)-len(errs), a.broker))
	return errors.Join(errs...)
}

// registerLoop registers immediately, then every RegisterInterval because the
// broker never acknowledges a registration and datagrams may be lost.
func (a *Agent) registerLoop(ctx context.Context) {
	if err := a.Register(ctx); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", registerLogPrefix, err))
	}
	if a.cfg.RegisterInterval <= 0 {
		return
	}

	ticker := time.NewTicker(a.cfg.RegisterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Register(ctx); err != nil {
				slog.Error(fmt.Sprintf("%s - %v", registerLogPrefix, err))
			}
		}
	}
}

// callback returns the host and port advertised to the broker.
func (a *Agent) callback() (string, int) {
	addr := a.LocalAddr()
	if addr == nil {
		return a.cfg.AdvertiseHost, 0
	}
	host := a.cfg.AdvertiseHost
	if host == "" && !addr.IP.IsUnspecified() {
		host = addr.IP.String()
	}
	return host, addr.Port
}
