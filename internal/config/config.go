// Package config loads dashsync.yaml or dashsync.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working directory
// when no path is given. DefaultTOMLFile is tried next.
const (
	DefaultFile     = "dashsync.yaml"
	DefaultTOMLFile = "dashsync.toml"
)

// Renderer kinds.
const (
	RendererMemory = "memory"
	RendererFile   = "file"
)

// Config represents dashsync.yaml.
type Config struct {
	Database  string          `yaml:"database" toml:"database"`
	LogLevel  string          `yaml:"log_level" toml:"log_level"`
	Renderer  RendererConfig  `yaml:"renderer" toml:"renderer"`
	Reconcile ReconcileConfig `yaml:"reconcile" toml:"reconcile"`
}

// RendererConfig selects the chat surface.
type RendererConfig struct {
	Kind string `yaml:"kind" toml:"kind"` // "memory" or "file"
	Path string `yaml:"path" toml:"path"` // required for "file"
}

// ReconcileConfig tunes the orchestrator and the registry.
type ReconcileConfig struct {
	Concurrency     int           `yaml:"concurrency" toml:"concurrency"`
	InstanceTimeout time.Duration `yaml:"instance_timeout" toml:"instance_timeout"`
	RenderTimeout   time.Duration `yaml:"render_timeout" toml:"render_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval" toml:"refresh_interval"` // 0 disables auto-refresh
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database: "dashsync.db",
		LogLevel: "info",
		Renderer: RendererConfig{Kind: RendererMemory},
		Reconcile: ReconcileConfig{
			Concurrency:     4,
			InstanceTimeout: 45 * time.Second,
			RenderTimeout:   30 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies DASHSYNC_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// decode parses data over cfg, as TOML when path ends in .toml and as YAML
// otherwise. Unknown keys are rejected in both formats.
func decode(path string, data []byte, cfg *Config) error {
	if filepath.Ext(path) == ".toml" {
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("failed to parse TOML: unknown key %q", undecoded[0].String())
		}
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Discover returns the first default configuration file present in dir, or
// "" when there is none.
func Discover(dir string) string {
	for _, name := range []string{DefaultFile, DefaultTOMLFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DASHSYNC_DATABASE"); ok {
		c.Database = v
	}
	if v, ok := lookup("DASHSYNC_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("DASHSYNC_RENDERER"); ok {
		c.Renderer.Kind = v
	}
	if v, ok := lookup("DASHSYNC_RENDERER_PATH"); ok {
		c.Renderer.Path = v
	}
	if v, ok := lookup("DASHSYNC_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DASHSYNC_CONCURRENCY: %w", err)
		}
		c.Reconcile.Concurrency = n
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"DASHSYNC_INSTANCE_TIMEOUT", &c.Reconcile.InstanceTimeout},
		{"DASHSYNC_RENDER_TIMEOUT", &c.Reconcile.RenderTimeout},
		{"DASHSYNC_REFRESH_INTERVAL", &c.Reconcile.RefreshInterval},
	}
	for _, d := range durations {
		v, ok := lookup(d.env)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Renderer.Kind {
	case RendererMemory:
	case RendererFile:
		if c.Renderer.Path == "" {
			return fmt.Errorf("renderer.path is required for renderer kind %q", RendererFile)
		}
	default:
		return fmt.Errorf("unknown renderer kind '%s' (valid: '%s' or '%s')", c.Renderer.Kind, RendererMemory, RendererFile)
	}
	if c.Reconcile.Concurrency < 1 {
		return fmt.Errorf("reconcile.concurrency must be >= 1, got %d", c.Reconcile.Concurrency)
	}
	if c.Reconcile.InstanceTimeout < 0 {
		return fmt.Errorf("reconcile.instance_timeout must be >= 0, got %s", c.Reconcile.InstanceTimeout)
	}
	if c.Reconcile.RenderTimeout < 0 {
		return fmt.Errorf("reconcile.render_timeout must be >= 0, got %s", c.Reconcile.RenderTimeout)
	}
	if c.Reconcile.RefreshInterval < 0 {
		return fmt.Errorf("reconcile.refresh_interval must be >= 0, got %s", c.Reconcile.RefreshInterval)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level '%s' (valid: debug, info, warn, error)", s)
}
