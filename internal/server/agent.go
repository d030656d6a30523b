package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/morezero/mediator-broker/internal/config"
	"github.com/morezero/mediator-broker/pkg/agent"
	"github.com/morezero/mediator-broker/pkg/transport"
	"github.com/morezero/mediator-broker/pkg/typereg"
)

const agentLogPrefix = "server:agent"

// Ping asks a node to answer with a Pong.
type Ping struct {
	Msg string `json:"msg"`
}

// Pong answers a Ping.
type Pong struct {
	Msg  string `json:"msg"`
	Node string `json:"node"`
}

// Echo asks a node to return Text unchanged.
type Echo struct {
	Text string `json:"text"`
}

// EchoReply answers an Echo.
type EchoReply struct {
	Text string `json:"text"`
}

// NodeJoined is published by an agent once it is serving.
type NodeJoined struct {
	ClientName string `json:"clientName"`
	Address    string `json:"address"`
}

// newAgent builds an agent from cfg with the sample types registered.
func newAgent(cfg *config.AgentConfig) (*agent.Agent, error) {
	a, err := agent.New(agent.Config{
		BrokerAddr:       cfg.BrokerAddr,
		AdvertiseHost:    cfg.AdvertiseHost,
		ClientName:       cfg.ClientName,
		Version:          cfg.Version,
		RegisterInterval: cfg.RegisterInterval,
		RequestTimeout:   cfg.RequestTimeout,
		MaxWorkers:       cfg.MaxWorkers,
		DedupCacheSize:   cfg.DedupCacheSize,
	})
	if err != nil {
		return nil, err
	}
	types := a.Types()
	for _, err := range []error{
		typereg.Register[Ping](types, "Ping"),
		typereg.Register[Pong](types, "Pong"),
		typereg.Register[Echo](types, "Echo"),
		typereg.Register[EchoReply](types, "EchoReply"),
		typereg.Register[NodeJoined](types, "NodeJoined"),
	} {
		if err != nil {
			return nil, fmt.Errorf("%s - failed to register types: %w", agentLogPrefix, err)
		}
	}
	return a, nil
}

// bindSampleHandlers attaches the Ping, Echo and NodeJoined handlers.
func bindSampleHandlers(a *agent.Agent, clientName string) error {
	if err := agent.HandleRequest(a, "ping", func() agent.RequestHandler[Ping, Pong] {
		return agent.RequestHandlerFunc[Ping, Pong](func(_ context.Context, req *Ping) (*Pong, error) {
			return &Pong{Msg: req.Msg, Node: clientName}, nil
		})
	}); err != nil {
		return err
	}
	if err := agent.HandleRequest(a, "echo", func() agent.RequestHandler[Echo, EchoReply] {
		return agent.RequestHandlerFunc[Echo, EchoReply](func(_ context.Context, req *Echo) (*EchoReply, error) {
			if req.Text == "" {
				return nil, errors.New("text is required")
			}
			return &EchoReply{Text: req.Text}, nil
		})
	}); err != nil {
		return err
	}
	return agent.HandleNotification(a, "node-joined", func() agent.NotificationHandler[NodeJoined] {
		return agent.NotificationHandlerFunc[NodeJoined](func(_ context.Context, n *NodeJoined) error {
			slog.Info(fmt.Sprintf("%s - node joined: %s at %s", agentLogPrefix, n.ClientName, n.Address))
			return nil
		})
	})
}

// RunAgent starts a sample agent, blocks until a shutdown signal, then stops.
func RunAgent() error {
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}

	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	if err := bindSampleHandlers(a, cfg.ClientName); err != nil {
		return fmt.Errorf("%s - failed to bind handlers: %w", agentLogPrefix, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withAgent(ctx, a, cfg.ListenAddr, func(ctx context.Context) error {
		addr := a.LocalAddr()
		if err := agent.Publish(ctx, a, &NodeJoined{ClientName: cfg.ClientName, Address: addr.String()}); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to announce: %v", agentLogPrefix, err))
		}
		slog.Info(fmt.Sprintf("%s - agent %s is ready on %s", agentLogPrefix, cfg.ClientName, addr))
		<-ctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", agentLogPrefix))
		return nil
	})
}

// CallOnce sends one Request with a raw JSON payload and returns the raw Response payload.
func CallOnce(typeName, payload string) (json.RawMessage, error) {
	payload, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	cfg, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}
	a, err := newAgent(cfg)
	if err != nil {
		return nil, err
	}

	var out json.RawMessage
	err = withAgent(context.Background(), a, cfg.ListenAddr, func(ctx context.Context) error {
		return a.Send(ctx, typeName, json.RawMessage(payload), &out)
	})
	return out, err
}

// NotifyOnce publishes one Notification with a raw JSON payload.
func NotifyOnce(typeName, payload string) error {
	payload, err := normalizePayload(payload)
	if err != nil {
		return err
	}
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}
	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	return withAgent(context.Background(), a, cfg.ListenAddr, func(ctx context.Context) error {
		return a.Notify(ctx, typeName, json.RawMessage(payload))
	})
}

func loadAgentConfig() (*config.AgentConfig, error) {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load config: %w", agentLogPrefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

// withAgent runs a on listenAddr, calls fn once the agent is serving, then stops it.
func withAgent(ctx context.Context, a *agent.Agent, listenAddr string, fn func(ctx context.Context) error) error {
	conn, err := transport.Listen(listenAddr)
	if err != nil {
		return fmt.Errorf("%s - failed to bind %s: %w", agentLogPrefix, listenAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- a.Run(runCtx, conn)
		cancel()
	}()

	if err := waitRunning(runCtx, a, done); err != nil {
		return err
	}
	fnErr := fn(runCtx)
	cancel()
	if runErr := <-done; runErr != nil && fnErr == nil {
		return runErr
	}
	return fnErr
}

// waitRunning returns once a has published its socket.
func waitRunning(ctx context.Context, a *agent.Agent, done <-chan error) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for a.LocalAddr() == nil {
		select {
		case err := <-done:
			if err == nil {
				err = errors.New("agent stopped")
			}
			return fmt.Errorf("%s - %w", agentLogPrefix, err)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// normalizePayload checks a CLI payload is one JSON document; empty means null.
func normalizePayload(payload string) (string, error) {
	p := strings.TrimSpace(payload)
	if p == "" {
		p = "null"
	}
	if !json.Valid([]byte(p)) {
		return "", fmt.Errorf("%s - payload is not valid JSON: %s", agentLogPrefix, p)
	}
	return p, nil
}
