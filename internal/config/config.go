// Package config provides broker and agent configuration loaded from environment variables.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/mediator-broker/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Config holds mediator-broker configuration.
type Config struct {
	// Datagram listener
	Addr           string        `envconfig:"BROKER_ADDR" default:"127.0.0.1:3333"`
	RequestTimeout time.Duration `envconfig:"BROKER_REQUEST_TIMEOUT" default:"5s"`
	SweepInterval  time.Duration `envconfig:"BROKER_SWEEP_INTERVAL" default:"250ms"`
	MaxWorkers     int64         `envconfig:"BROKER_MAX_WORKERS" default:"256"`

	// Registration policy (empty = accept every registration)
	AgentVersionConstraint string `envconfig:"BROKER_AGENT_VERSION_CONSTRAINT"`

	// Seed registrations loaded at startup
	SeedFile string `envconfig:"BROKER_SEED_FILE"`

	// COMMS: node registration and timeout events over NATS (empty = disabled)
	COMMSURL     string `envconfig:"COMMS_URL"`
	COMMSName    string `envconfig:"SERVICE_NAME" default:"mediator-broker"`
	EventSubject string `envconfig:"BROKER_EVENT_SUBJECT"`

	// Registration ledger (empty = disabled)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP health, inspection and metrics (0 = disabled)
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the broker.
func (c *Config) ValidateForServe() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%s - BROKER_ADDR %q: %w", logPrefix, c.Addr, err)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - BROKER_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%s - BROKER_SWEEP_INTERVAL must be positive", logPrefix)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("%s - BROKER_MAX_WORKERS must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%s - HTTP_PORT %d out of range", logPrefix, c.HTTPPort)
	}
	if _, err := semver.ParseConstraint(c.AgentVersionConstraint); err != nil {
		return fmt.Errorf("%s - BROKER_AGENT_VERSION_CONSTRAINT: %w", logPrefix, err)
	}
	return nil
}

// ValidateForDB checks required config when running ledger commands (migrate, ledger).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// AgentConfig holds client agent configuration.
type AgentConfig struct {
	BrokerAddr       string        `envconfig:"AGENT_BROKER_ADDR" default:"127.0.0.1:3333"`
	ListenAddr       string        `envconfig:"AGENT_LISTEN_ADDR" default:"127.0.0.1:0"`
	AdvertiseHost    string        `envconfig:"AGENT_ADVERTISE_HOST"`
	ClientName       string        `envconfig:"AGENT_CLIENT_NAME" default:"agent"`
	Version          string        `envconfig:"AGENT_VERSION" default:"1.0.0"`
	RegisterInterval time.Duration `envconfig:"AGENT_REGISTER_INTERVAL" default:"30s"`
	RequestTimeout   time.Duration `envconfig:"AGENT_REQUEST_TIMEOUT" default:"5s"`
	MaxWorkers       int64         `envconfig:"AGENT_MAX_WORKERS" default:"64"`
	DedupCacheSize   int           `envconfig:"AGENT_DEDUP_CACHE_SIZE" default:"1024"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadAgentConfig loads agent configuration from environment variables.
func LoadAgentConfig() (*AgentConfig, error) {
	var c AgentConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks agent configuration.
func (c *AgentConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.BrokerAddr); err != nil {
		return fmt.Errorf("%s - AGENT_BROKER_ADDR %q: %w", logPrefix, c.BrokerAddr, err)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%s - AGENT_LISTEN_ADDR %q: %w", logPrefix, c.ListenAddr, err)
	}
	if !semver.ValidateClientName(c.ClientName) {
		return fmt.Errorf("%s - AGENT_CLIENT_NAME %q is invalid", logPrefix, c.ClientName)
	}
	if c.RegisterInterval < 0 {
		return fmt.Errorf("%s - AGENT_REGISTER_INTERVAL must not be negative", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - AGENT_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("%s - AGENT_MAX_WORKERS must be positive", logPrefix)
	}
	if c.DedupCacheSize <= 0 {
		return fmt.Errorf("%s - AGENT_DEDUP_CACHE_SIZE must be positive", logPrefix)
	}
	return nil
}
