// Package config loads the gateway configuration from YAML with environment
// variable expansion and sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Loop      LoopConfig      `yaml:"loop"`
	Store     StoreConfig     `yaml:"store"`
	MCP       MCPConfig       `yaml:"mcp"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Files     FilesConfig     `yaml:"files"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoopConfig carries the tool-loop budgets.
type LoopConfig struct {
	// MaxIterations caps tool-loop iterations per request.
	MaxIterations int `yaml:"max_iterations"`
	// MaxDurationMS is the per-request wall-clock deadline.
	MaxDurationMS int `yaml:"max_duration_ms"`
	// PerToolTimeoutMS bounds a single tool execution.
	PerToolTimeoutMS int `yaml:"per_tool_timeout_ms"`
}

// MaxDuration returns the wall-clock deadline as a duration.
func (c LoopConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMS) * time.Millisecond
}

// PerToolTimeout returns the per-tool timeout as a duration.
func (c LoopConfig) PerToolTimeout() time.Duration {
	return time.Duration(c.PerToolTimeoutMS) * time.Millisecond
}

// StoreConfig selects the response persistence backend.
type StoreConfig struct {
	// Type is one of: in_memory, mongodb, sqlite.
	Type string `yaml:"type"`

	Mongo  MongoConfig  `yaml:"mongodb"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MCPConfig enables MCP tool loading at startup.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
	// ConfigPath points at a JSON file of shape
	// {"mcpServers": {"name": {"url": ..., "headers": {...}}}}.
	ConfigPath string `yaml:"config_path"`
}

// ProvidersConfig holds per-provider base URLs and credentials. API keys fall
// back to the conventional environment variables when empty; the request's
// bearer token always wins.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `yaml:"openai"`
	Anthropic  ProviderConfig `yaml:"claude"`
	Groq       ProviderConfig `yaml:"groq"`
	XAI        ProviderConfig `yaml:"xai"`
	TogetherAI ProviderConfig `yaml:"togetherai"`
}

type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// TracingConfig configures the OTLP trace exporter. Empty endpoint disables
// tracing.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// FilesConfig configures the local file service used for input_file parts
// and file-backed search sources.
type FilesConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Loop: LoopConfig{
			MaxIterations:    10,
			MaxDurationMS:    60000,
			PerToolTimeoutMS: 30000,
		},
		Store: StoreConfig{
			Type:   "in_memory",
			SQLite: SQLiteConfig{Path: "conduit.db"},
			Mongo:  MongoConfig{Database: "conduit"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// Load reads a YAML config file, expands ${ENV} references, applies defaults,
// and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = def.Server.MetricsAddr
	}
	if c.Loop.MaxIterations <= 0 {
		c.Loop.MaxIterations = def.Loop.MaxIterations
	}
	if c.Loop.MaxDurationMS <= 0 {
		c.Loop.MaxDurationMS = def.Loop.MaxDurationMS
	}
	if c.Loop.PerToolTimeoutMS <= 0 {
		c.Loop.PerToolTimeoutMS = def.Loop.PerToolTimeoutMS
	}
	if c.Store.Type == "" {
		c.Store.Type = def.Store.Type
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = def.Store.SQLite.Path
	}
	if c.Store.Mongo.Database == "" {
		c.Store.Mongo.Database = def.Store.Mongo.Database
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = def.Tracing.SampleRatio
	}
}

// Validate checks option values that have a closed set.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "in_memory", "sqlite":
	case "mongodb":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongodb.uri is required when store.type is mongodb")
		}
	default:
		return fmt.Errorf("unknown store.type %q (expected in_memory, mongodb, or sqlite)", c.Store.Type)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	if c.MCP.Enabled && c.MCP.ConfigPath == "" {
		return fmt.Errorf("mcp.config_path is required when mcp.enabled is true")
	}
	return nil
}
