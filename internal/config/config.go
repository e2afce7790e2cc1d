package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/gitshelf/internal/runtimepath"
)

const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 3737
	DefaultSlowCallMs = 2000
)

// ListenConfig selects the HTTP listener address.
type ListenConfig struct {
	Host string `yaml:"host"`
	// Port 0 requests an ephemeral port.
	Port int `yaml:"port"`
}

// TimeoutConfig holds per-class deadlines for domain calls, in milliseconds.
type TimeoutConfig struct {
	// DefaultMs bounds any domain call without a more specific timeout.
	DefaultMs int `yaml:"default_ms"`
	// ListingMs bounds list_* calls (commits, stashes, contributors).
	ListingMs int `yaml:"listing_ms"`
	// DetailsMs bounds dependent listings such as the files of a stash.
	DetailsMs int `yaml:"details_ms"`
}

// HostConfig configures how this process executes UI commands it owns.
type HostConfig struct {
	// Command is run once per UI command with the command JSON on stdin.
	// When empty, commands are only logged.
	Command []string `yaml:"command,omitempty"`
	// RefreshCommand backs the refresh_views tool. When empty the tool
	// reports that it is unsupported.
	RefreshCommand []string `yaml:"refresh_command,omitempty"`
}

// LoggingConfig configures the process log.
type LoggingConfig struct {
	// Level controls logging verbosity: debug, info, warn, error
	Level string `yaml:"level,omitempty"`
	// Format is text or json
	Format string `yaml:"format,omitempty"`
	// File is the log file path (empty: stderr only)
	File string `yaml:"file,omitempty"`
	// MaxSizeMB is the maximum log file size before rotation (default: 10)
	MaxSizeMB int `yaml:"max_size_mb,omitempty"`
	// MaxFiles is the number of rotated files to keep (default: 3)
	MaxFiles int `yaml:"max_files,omitempty"`
}

// Config holds the application configuration.
type Config struct {
	Listen     ListenConfig  `yaml:"listen"`
	Workspaces []string      `yaml:"workspaces,omitempty"`
	BrokerDir  string        `yaml:"broker_dir,omitempty"`
	SlowCallMs int           `yaml:"slow_call_ms"`
	Timeouts   TimeoutConfig `yaml:"timeouts"`
	Host       HostConfig    `yaml:"host,omitempty"`
	Logging    LoggingConfig `yaml:"logging,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		SlowCallMs: DefaultSlowCallMs,
		Timeouts: TimeoutConfig{
			DefaultMs: 30000,
			ListingMs: 10000,
			DetailsMs: 5000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Host, c.Listen.Port)
}

// SlowCallThreshold returns the duration at or above which a call is
// logged as slow.
func (c *Config) SlowCallThreshold() time.Duration {
	return time.Duration(c.SlowCallMs) * time.Millisecond
}

func (t TimeoutConfig) Default() time.Duration { return time.Duration(t.DefaultMs) * time.Millisecond }
func (t TimeoutConfig) Listing() time.Duration { return time.Duration(t.ListingMs) * time.Millisecond }
func (t TimeoutConfig) Details() time.Duration { return time.Duration(t.DetailsMs) * time.Millisecond }

// GetBrokerDir returns the broker directory with the default applied.
func (c *Config) GetBrokerDir() (string, error) {
	if dir := strings.TrimSpace(c.BrokerDir); dir != "" {
		return expandHome(dir), nil
	}
	return runtimepath.CommandsDir()
}

// GetLoggingConfig returns the logging configuration with defaults applied.
func (c *Config) GetLoggingConfig() LoggingConfig {
	if c == nil {
		return LoggingConfig{Level: "info", Format: "text"}
	}
	cfg := c.Logging
	if cfg.File != "" {
		cfg.File = expandHome(cfg.File)
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 3
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	return cfg
}

// WorkspaceRoots returns the configured workspace roots as absolute paths.
func (c *Config) WorkspaceRoots() []string {
	roots := make([]string, 0, len(c.Workspaces))
	for _, ws := range c.Workspaces {
		ws = strings.TrimSpace(ws)
		if ws == "" {
			continue
		}
		ws = expandHome(ws)
		if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}
		roots = append(roots, ws)
	}
	return roots
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen.Host) == "" {
		return &ValidationError{Path: "listen.host", Err: fmt.Errorf("host is required")}
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return &ValidationError{Path: "listen.port", Err: fmt.Errorf("port must be between 0 and 65535")}
	}
	if c.SlowCallMs <= 0 {
		return &ValidationError{Path: "slow_call_ms", Err: fmt.Errorf("slow_call_ms must be > 0")}
	}
	if c.Timeouts.DefaultMs <= 0 {
		return &ValidationError{Path: "timeouts.default_ms", Err: fmt.Errorf("default_ms must be > 0")}
	}
	if c.Timeouts.ListingMs <= 0 {
		return &ValidationError{Path: "timeouts.listing_ms", Err: fmt.Errorf("listing_ms must be > 0")}
	}
	if c.Timeouts.DetailsMs <= 0 {
		return &ValidationError{Path: "timeouts.details_ms", Err: fmt.Errorf("details_ms must be > 0")}
	}
	for i, ws := range c.Workspaces {
		if strings.TrimSpace(ws) == "" {
			return &ValidationError{Path: fmt.Sprintf("workspaces[%d]", i), Err: fmt.Errorf("workspace path must not be empty")}
		}
	}
	for i, arg := range c.Host.Command {
		if i == 0 && strings.TrimSpace(arg) == "" {
			return &ValidationError{Path: "host.command", Err: fmt.Errorf("command executable must not be empty")}
		}
	}
	for i, arg := range c.Host.RefreshCommand {
		if i == 0 && strings.TrimSpace(arg) == "" {
			return &ValidationError{Path: "host.refresh_command", Err: fmt.Errorf("command executable must not be empty")}
		}
	}

	logCfg := c.GetLoggingConfig()
	switch strings.ToLower(logCfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Path: "logging.level", Err: fmt.Errorf("level must be one of: debug, info, warn, error")}
	}
	switch logCfg.Format {
	case "text", "json":
	default:
		return &ValidationError{Path: "logging.format", Err: fmt.Errorf("format must be one of: text, json")}
	}
	if logCfg.MaxSizeMB < 0 {
		return &ValidationError{Path: "logging.max_size_mb", Err: fmt.Errorf("max_size_mb must be >= 0")}
	}
	if logCfg.MaxFiles < 0 {
		return &ValidationError{Path: "logging.max_files", Err: fmt.Errorf("max_files must be >= 0")}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
