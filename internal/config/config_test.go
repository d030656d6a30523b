package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var brokerEnvVars = []string{
	"BROKER_ADDR", "BROKER_REQUEST_TIMEOUT", "BROKER_SWEEP_INTERVAL", "BROKER_MAX_WORKERS",
	"BROKER_AGENT_VERSION_CONSTRAINT", "BROKER_SEED_FILE",
	"COMMS_URL", "SERVICE_NAME", "BROKER_EVENT_SUBJECT",
	"DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
}

var agentEnvVars = []string{
	"AGENT_BROKER_ADDR", "AGENT_LISTEN_ADDR", "AGENT_ADVERTISE_HOST", "AGENT_CLIENT_NAME",
	"AGENT_VERSION", "AGENT_REGISTER_INTERVAL", "AGENT_REQUEST_TIMEOUT", "AGENT_MAX_WORKERS",
	"AGENT_DEDUP_CACHE_SIZE", "LOG_LEVEL",
}

func unsetAll(vars []string) {
	for _, env := range vars {
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	unsetAll(brokerEnvVars)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Addr != "127.0.0.1:3333" {
		t.Errorf("config:config_test - Addr = %q, want %q", cfg.Addr, "127.0.0.1:3333")
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.SweepInterval != 250*time.Millisecond {
		t.Errorf("config:config_test - SweepInterval = %v, want 250ms", cfg.SweepInterval)
	}
	if cfg.MaxWorkers != 256 {
		t.Errorf("config:config_test - MaxWorkers = %d, want 256", cfg.MaxWorkers)
	}
	if cfg.AgentVersionConstraint != "" {
		t.Errorf("config:config_test - AgentVersionConstraint = %q, want empty", cfg.AgentVersionConstraint)
	}
	if cfg.COMMSURL != "" {
		t.Errorf("config:config_test - COMMSURL = %q, want empty", cfg.COMMSURL)
	}
	if cfg.COMMSName != "mediator-broker" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "mediator-broker")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("config:config_test - DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.RunMigrations {
		t.Error("config:config_test - expected RunMigrations=false by default")
	}
	if cfg.MigrationPath != "migrations" {
		t.Errorf("config:config_test - MigrationPath = %q, want %q", cfg.MigrationPath, "migrations")
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 5*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 5s", cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
	if err := cfg.ValidateForDB(); err == nil {
		t.Error("config:config_test - expected ValidateForDB error without DATABASE_URL")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	overrides := map[string]string{
		"BROKER_ADDR":                     "0.0.0.0:4444",
		"BROKER_REQUEST_TIMEOUT":          "2s",
		"BROKER_SWEEP_INTERVAL":           "50ms",
		"BROKER_MAX_WORKERS":              "16",
		"BROKER_AGENT_VERSION_CONSTRAINT": "^1.2.0",
		"BROKER_SEED_FILE":                "/tmp/seed.json",
		"COMMS_URL":                       "nats://custom:4222",
		"SERVICE_NAME":                    "test-broker",
		"BROKER_EVENT_SUBJECT":            "custom.nodes",
		"DATABASE_URL":                    "postgres://test@localhost/test",
		"RUN_MIGRATIONS":                  "true",
		"MIGRATION_PATH":                  "/tmp/migrations",
		"HTTP_PORT":                       "9090",
		"HEALTH_CHECK_TIMEOUT":            "10s",
		"LOG_LEVEL":                       "debug",
	}
	for key, val := range overrides {
		os.Setenv(key, val)
	}
	defer unsetAll(brokerEnvVars)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Addr != "0.0.0.0:4444" {
		t.Errorf("config:config_test - Addr = %q", cfg.Addr)
	}
	if cfg.RequestTimeout != 2*time.Second || cfg.SweepInterval != 50*time.Millisecond {
		t.Errorf("config:config_test - timeouts = %v/%v", cfg.RequestTimeout, cfg.SweepInterval)
	}
	if cfg.MaxWorkers != 16 {
		t.Errorf("config:config_test - MaxWorkers = %d, want 16", cfg.MaxWorkers)
	}
	if cfg.AgentVersionConstraint != "^1.2.0" || cfg.SeedFile != "/tmp/seed.json" {
		t.Errorf("config:config_test - constraint/seed = %q/%q", cfg.AgentVersionConstraint, cfg.SeedFile)
	}
	if cfg.COMMSURL != "nats://custom:4222" || cfg.COMMSName != "test-broker" || cfg.EventSubject != "custom.nodes" {
		t.Errorf("config:config_test - comms = %q/%q/%q", cfg.COMMSURL, cfg.COMMSName, cfg.EventSubject)
	}
	if cfg.DatabaseURL != "postgres://test@localhost/test" || !cfg.RunMigrations || cfg.MigrationPath != "/tmp/migrations" {
		t.Errorf("config:config_test - database = %q/%v/%q", cfg.DatabaseURL, cfg.RunMigrations, cfg.MigrationPath)
	}
	if cfg.HTTPPort != 9090 || cfg.HealthCheckTimeout != 10*time.Second {
		t.Errorf("config:config_test - http = %d/%v", cfg.HTTPPort, cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.ValidateForDB(); err != nil {
		t.Errorf("config:config_test - ValidateForDB: %v", err)
	}
}

func TestLoadConfig_LogLevels(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		os.Setenv("LOG_LEVEL", level)
		cfg, err := LoadConfig()
		os.Unsetenv("LOG_LEVEL")

		if err != nil {
			t.Fatalf("config:config_test - unexpected error for level %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	os.Setenv("BROKER_REQUEST_TIMEOUT", "soon")
	defer os.Unsetenv("BROKER_REQUEST_TIMEOUT")

	if _, err := LoadConfig(); err == nil {
		t.Error("config:config_test - expected error for invalid duration")
	}
}

func TestValidateForServe(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Addr:               "127.0.0.1:3333",
			RequestTimeout:     time.Second,
			SweepInterval:      time.Millisecond,
			MaxWorkers:         1,
			HTTPPort:           0,
			HealthCheckTimeout: time.Second,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"address without port", func(c *Config) { c.Addr = "localhost" }, "BROKER_ADDR"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "BROKER_REQUEST_TIMEOUT"},
		{"zero sweep", func(c *Config) { c.SweepInterval = 0 }, "BROKER_SWEEP_INTERVAL"},
		{"no workers", func(c *Config) { c.MaxWorkers = 0 }, "BROKER_MAX_WORKERS"},
		{"zero health timeout", func(c *Config) { c.HealthCheckTimeout = 0 }, "HEALTH_CHECK_TIMEOUT"},
		{"port out of range", func(c *Config) { c.HTTPPort = 70000 }, "HTTP_PORT"},
		{"bad constraint", func(c *Config) { c.AgentVersionConstraint = ">=banana" }, "BROKER_AGENT_VERSION_CONSTRAINT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.ValidateForServe()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("config:config_test - error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAgentConfig_Defaults(t *testing.T) {
	unsetAll(agentEnvVars)

	cfg, err := LoadAgentConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if cfg.BrokerAddr != "127.0.0.1:3333" || cfg.ListenAddr != "127.0.0.1:0" {
		t.Errorf("config:config_test - addrs = %q/%q", cfg.BrokerAddr, cfg.ListenAddr)
	}
	if cfg.ClientName != "agent" || cfg.Version != "1.0.0" {
		t.Errorf("config:config_test - identity = %q/%q", cfg.ClientName, cfg.Version)
	}
	if cfg.RegisterInterval != 30*time.Second || cfg.RequestTimeout != 5*time.Second {
		t.Errorf("config:config_test - intervals = %v/%v", cfg.RegisterInterval, cfg.RequestTimeout)
	}
	if cfg.MaxWorkers != 64 || cfg.DedupCacheSize != 1024 {
		t.Errorf("config:config_test - sizes = %d/%d", cfg.MaxWorkers, cfg.DedupCacheSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestAgentConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AgentConfig)
	}{
		{"broker without port", func(c *AgentConfig) { c.BrokerAddr = "broker" }},
		{"listen without port", func(c *AgentConfig) { c.ListenAddr = "0.0.0.0" }},
		{"bad client name", func(c *AgentConfig) { c.ClientName = "-agent" }},
		{"negative register interval", func(c *AgentConfig) { c.RegisterInterval = -time.Second }},
		{"zero request timeout", func(c *AgentConfig) { c.RequestTimeout = 0 }},
		{"no workers", func(c *AgentConfig) { c.MaxWorkers = 0 }},
		{"no cache", func(c *AgentConfig) { c.DedupCacheSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AgentConfig{
				BrokerAddr:     "127.0.0.1:3333",
				ListenAddr:     "127.0.0.1:0",
				ClientName:     "agent",
				RequestTimeout: time.Second,
				MaxWorkers:     1,
				DedupCacheSize: 1,
			}
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("config:config_test - expected validation error")
			}
		})
	}
}
