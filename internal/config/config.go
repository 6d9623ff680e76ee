// Package config loads and validates the glesdbg configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/glesdbg/glesdbg/internal/clock"
)

// DefaultPort is the well-known debug port the GLES debugger protocol
// has always used.
const DefaultPort = 5039

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Interception InterceptionConfig `yaml:"interception"`
	Trace        TraceConfig        `yaml:"trace"`
	Watch        WatchConfig        `yaml:"watch"`
}

type ServerConfig struct {
	// Port is the TCP port the debug server listens on, bound on all
	// local interfaces.
	Port int `yaml:"port"`

	// StatusAddr serves the local HTTP status API; empty disables it.
	StatusAddr string `yaml:"status_addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// InterceptionConfig carries the runtime properties and the break
// policy defaults; all of it is hot-reloadable.
type InterceptionConfig struct {
	// ExpectResponse is the default announce policy when no break
	// pattern matches (and for every call when none are configured).
	ExpectResponse bool `yaml:"expect_response"`

	// BreakOn lists glob patterns over function names; matching calls
	// pause for debugger directives.
	BreakOn []string `yaml:"break_on"`

	// Capture is the initial capture-flag value.
	Capture int32 `yaml:"capture"`

	// TimeMode selects the clock source: monotonic|wall.
	TimeMode string `yaml:"time_mode"`
}

type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type WatchConfig struct {
	// Enabled re-reads the config file on change and applies the
	// interception section at runtime.
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: DefaultPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Interception: InterceptionConfig{
			ExpectResponse: true,
			TimeMode:       "monotonic",
		},
		Watch: WatchConfig{
			Debounce: "200ms",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q (want text or json)", c.Logging.Format)
	}
	if _, err := clock.ParseMode(c.Interception.TimeMode); err != nil {
		return fmt.Errorf("interception.time_mode: %w", err)
	}
	for _, pattern := range c.Interception.BreakOn {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("interception.break_on %q: %w", pattern, err)
		}
	}
	if c.Trace.Enabled && c.Trace.DBPath == "" {
		return fmt.Errorf("trace.enabled requires trace.db_path")
	}
	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("watch.debounce: %w", err)
		}
	}
	return nil
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Logging.Level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q (want debug, info, warn or error)", c.Logging.Level)
}

// NewLogger builds the process logger per the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WatchDebounce returns the parsed debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}
