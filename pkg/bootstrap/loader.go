package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/morezero/mediator-broker/pkg/envelope"
	"github.com/morezero/mediator-broker/pkg/registry"
)

const logPrefix = "bootstrap:loader"

// DefaultPaths are tried after explicit paths and BROKER_SEED_FILE.
var DefaultPaths = []string{"config/seed.json", "seed.json"}

// LoadSeedConfig loads the first readable, parseable seed file.
// It tries paths in order: first any paths passed in, then BROKER_SEED_FILE env, then DefaultPaths.
// Without any seed file the result is an empty config.
func LoadSeedConfig(paths ...string) (*SeedConfig, error) {
	all := make([]string, 0, len(paths)+1+len(DefaultPaths))
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BROKER_SEED_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, DefaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg SeedConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse seed file %s: %v", logPrefix, p, err))
			continue
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}

		slog.Info(fmt.Sprintf("%s - Loaded %d seed nodes from %s", logPrefix, len(cfg.Nodes), p))
		return &cfg, nil
	}

	slog.Debug(fmt.Sprintf("%s - No seed file found", logPrefix))
	return &SeedConfig{}, nil
}

// Validate checks that every node has a complete callback address; seed entries
// have no datagram source to fall back on.
func (c *SeedConfig) Validate() error {
	for i, n := range c.Nodes {
		if n.CallbackHost == "" || n.CallbackPort <= 0 || n.CallbackPort > 65535 {
			return fmt.Errorf("node %d (%s): callbackHost and callbackPort are required", i, n.ClientName)
		}
		if len(n.RequestTypes) == 0 && len(n.NotificationTypes) == 0 {
			return fmt.Errorf("node %d (%s): no request or notification types", i, n.ClientName)
		}
	}
	return nil
}

// RegisterInputs expands the config into one registration per (node, type).
func (c *SeedConfig) RegisterInputs() []registry.RegisterInput {
	var out []registry.RegisterInput
	for _, n := range c.Nodes {
		for _, t := range n.RequestTypes {
			out = append(out, n.input(envelope.KindHandlerRegistration, t))
		}
		for _, t := range n.NotificationTypes {
			out = append(out, n.input(envelope.KindNotificationHandlerRegistration, t))
		}
	}
	return out
}

func (n SeedNode) input(kind envelope.Kind, typeName string) registry.RegisterInput {
	return registry.RegisterInput{
		Kind: kind,
		Registration: envelope.Registration{
			Name:                          "seed:" + typeName,
			RequestOrNotificationTypeName: typeName,
			CallbackHost:                  n.CallbackHost,
			CallbackPort:                  n.CallbackPort,
			ClientName:                    n.ClientName,
			AgentVersion:                  n.AgentVersion,
		},
	}
}
