// Package config loads engine configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Database   DatabaseConfig   `yaml:"database"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	Timing     TimingConfig     `yaml:"timing"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LedgerConfig holds the JSON-RPC and WebSocket endpoints of the ledger node.
type LedgerConfig struct {
	RPCURL     string        `yaml:"rpc_url"`
	WSURL      string        `yaml:"ws_url"` // optional; empty disables head streaming
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	UseStub    bool          `yaml:"use_stub"` // in-memory ledger for local runs
}

// DatabaseConfig selects the auction/bid row store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// ArchiveConfig holds the ClickHouse bid-attempt archive settings.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// BreakerConfig tunes the circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// RetryConfig tunes the retry executor for write workflows.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// TimingConfig tunes the chain time oracle and auction durations.
type TimingConfig struct {
	SkewTolerance      time.Duration `yaml:"skew_tolerance"`
	SafetyBuffer       time.Duration `yaml:"safety_buffer"`
	HeadFreshness      time.Duration `yaml:"head_freshness"`
	MinAuctionDuration time.Duration `yaml:"min_auction_duration"`
}

// ReconcilerConfig tunes the orphan-adoption job.
type ReconcilerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// applyDefaults fills zero fields in place.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Ledger.Timeout <= 0 {
		c.Ledger.Timeout = 15 * time.Second
	}
	if c.Ledger.MaxRetries <= 0 {
		c.Ledger.MaxRetries = 3
	}
	if c.Ledger.RetryDelay <= 0 {
		c.Ledger.RetryDelay = 500 * time.Millisecond
	}
	if c.Ledger.MaxDelay <= 0 {
		c.Ledger.MaxDelay = 5 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Window <= 0 {
		c.Breaker.Window = 30 * time.Second
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = 15 * time.Second
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 5 * time.Second
	}
	if c.Retry.Timeout <= 0 {
		c.Retry.Timeout = 30 * time.Second
	}
	if c.Timing.SkewTolerance <= 0 {
		c.Timing.SkewTolerance = 2 * time.Minute
	}
	if c.Timing.SafetyBuffer <= 0 {
		c.Timing.SafetyBuffer = 5 * time.Minute
	}
	if c.Timing.HeadFreshness <= 0 {
		c.Timing.HeadFreshness = 15 * time.Second
	}
	if c.Timing.MinAuctionDuration <= 0 {
		c.Timing.MinAuctionDuration = 10 * time.Minute
	}
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 5 * time.Minute
	}
	if c.Reconciler.BatchSize <= 0 {
		c.Reconciler.BatchSize = 50
	}
}

// Validate checks cross-field consistency after defaults are applied.
func (c *Config) Validate() error {
	if !c.Ledger.UseStub && c.Ledger.RPCURL == "" {
		return fmt.Errorf("ledger.rpc_url is required unless ledger.use_stub is set")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q (want postgres or memory)", c.Database.Driver)
	}

	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("archive.dsn is required when archive.enabled is set")
	}

	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay %v exceeds retry.max_delay %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	return nil
}
