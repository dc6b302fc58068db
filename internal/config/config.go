// Package config loads the YAML-based operational configuration for
// every tunable named in spec.md §6, following the Default*Config() +
// yaml.v3 unmarshal pattern the teacher uses for internal/mcp.ServerConfig
// and internal/multiagent's MultiAgentConfig.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamcore/roundtable/internal/persistence"
	"github.com/streamcore/roundtable/internal/persistence/store"
	"github.com/streamcore/roundtable/internal/persistence/store/pgstore"
	"github.com/streamcore/roundtable/internal/persistence/store/sqlitestore"
	"github.com/streamcore/roundtable/pkg/chunk"
)

// BundlerSection mirrors chunk.BundlerConfig but with YAML-friendly
// duration strings, the way the teacher's config structs separate their
// wire/file representation from the runtime value type.
type BundlerSection struct {
	Client      FlushSection `yaml:"client"`
	Persistence FlushSection `yaml:"persistence"`
}

// FlushSection is one lane's YAML-facing threshold configuration.
type FlushSection struct {
	MaxTokens  int    `yaml:"maxTokens"`
	MaxBytes   int    `yaml:"maxBytes"`
	MaxLatency string `yaml:"maxLatency"`
	DropStale  bool   `yaml:"dropStale"`
}

// StreamSection configures stream-wide timeouts.
type StreamSection struct {
	IdleTimeout  string `yaml:"idleTimeout"`
	TotalTimeout string `yaml:"totalTimeout"`
}

// ToolSection configures the tool executor.
type ToolSection struct {
	PerCallTimeout string `yaml:"perCallTimeout"`
	Concurrency    int    `yaml:"concurrency"`
}

// PersistSection configures the persistence pipeline.
type PersistSection struct {
	QueueCapacity int          `yaml:"queueCapacity"`
	Workers       int          `yaml:"workers"`
	OverflowDir   string       `yaml:"overflowDir"`
	StoreDriver   string       `yaml:"storeDriver"` // "sqlite" or "postgres"
	StoreDSN      string       `yaml:"storeDsn"`
	Retry         RetrySection `yaml:"retry"`
}

// RetrySection configures the persistence pipeline's write-retry
// behavior, matching spec.md §6's persist.retry.maxAttempts /
// persist.retry.backoffBase configuration keys.
type RetrySection struct {
	MaxAttempts int    `yaml:"maxAttempts"`
	BackoffBase string `yaml:"backoffBase"`
}

// MergerSection configures the fair merger.
type MergerSection struct {
	MaxConsecutive int `yaml:"maxConsecutive"`
}

// Config is the root configuration document.
type Config struct {
	Bundle  BundlerSection `yaml:"bundle"`
	Stream  StreamSection  `yaml:"stream"`
	Tool    ToolSection    `yaml:"tool"`
	Persist PersistSection `yaml:"persist"`
	Merger  MergerSection  `yaml:"merger"`
}

// Default returns the configuration's baked-in defaults, applied before
// any file is loaded on top.
func Default() Config {
	return Config{
		Bundle: BundlerSection{
			Client:      FlushSection{MaxTokens: 20, MaxBytes: 4096, MaxLatency: "150ms", DropStale: true},
			Persistence: FlushSection{MaxTokens: 200, MaxBytes: 65536, MaxLatency: "2s"},
		},
		Stream:  StreamSection{IdleTimeout: "2m", TotalTimeout: "10m"},
		Tool:    ToolSection{PerCallTimeout: "30s", Concurrency: 4},
		Persist: PersistSection{
			QueueCapacity: 1024, Workers: 4, OverflowDir: "./overflow", StoreDriver: "sqlite",
			Retry: RetrySection{MaxAttempts: 3, BackoffBase: "100ms"},
		},
		Merger:  MergerSection{MaxConsecutive: 1},
	}
}

// Load reads and parses a YAML configuration file at path, applying
// Default() first so any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BundlerConfig converts the YAML section into the runtime
// chunk.BundlerConfig the bundler package consumes.
func (c Config) BundlerConfig() (chunk.BundlerConfig, error) {
	client, err := c.Bundle.Client.toFlushControl()
	if err != nil {
		return chunk.BundlerConfig{}, fmt.Errorf("config: bundle.client: %w", err)
	}
	persist, err := c.Bundle.Persistence.toFlushControl()
	if err != nil {
		return chunk.BundlerConfig{}, fmt.Errorf("config: bundle.persistence: %w", err)
	}
	return chunk.BundlerConfig{Client: client, Persistence: persist}, nil
}

func (f FlushSection) toFlushControl() (chunk.FlushControl, error) {
	var d time.Duration
	if f.MaxLatency != "" {
		var err error
		d, err = time.ParseDuration(f.MaxLatency)
		if err != nil {
			return chunk.FlushControl{}, err
		}
	}
	return chunk.FlushControl{MaxTokens: f.MaxTokens, MaxBytes: f.MaxBytes, MaxLatency: d, DropStale: f.DropStale}, nil
}

// IdleTimeout parses the Stream section's idle timeout.
func (c Config) IdleTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Stream.IdleTimeout)
}

// TotalTimeout parses the Stream section's absolute per-request ceiling.
func (c Config) TotalTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Stream.TotalTimeout)
}

// ToolPerCallTimeout parses the Tool section's per-call timeout.
func (c Config) ToolPerCallTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Tool.PerCallTimeout)
}

// OpenStore opens the durable store the Persist section names: the
// embedded sqlite file for "sqlite" (StoreDSN is the database path,
// defaulting to "roundtable.db" in the working directory), Postgres/CockroachDB via
// lib/pq for "postgres".
func (c Config) OpenStore() (store.Store, error) {
	switch c.Persist.StoreDriver {
	case "", "sqlite":
		dsn := c.Persist.StoreDSN
		if dsn == "" {
			dsn = "roundtable.db"
		}
		return sqlitestore.Open(dsn, sqlitestore.DefaultConfig())
	case "postgres":
		return pgstore.OpenFromDSN(c.Persist.StoreDSN, pgstore.DefaultConfig())
	default:
		return nil, fmt.Errorf("config: unknown store driver %q", c.Persist.StoreDriver)
	}
}

// PersistRetryConfig converts the Persist.Retry YAML section into the
// runtime persistence.RetryConfig the persistence pipeline consumes.
func (c Config) PersistRetryConfig() (persistence.RetryConfig, error) {
	backoff, err := time.ParseDuration(c.Persist.Retry.BackoffBase)
	if err != nil {
		return persistence.RetryConfig{}, fmt.Errorf("config: persist.retry.backoffBase: %w", err)
	}
	return persistence.RetryConfig{MaxAttempts: c.Persist.Retry.MaxAttempts, BackoffBase: backoff}, nil
}
