// Package config provides configuration management for cortexpuppet
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/normanking/cortexpuppet/internal/logging"
	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/normanking/cortexpuppet/internal/smoothing"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config holds all application configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server" yaml:"server"`
	Mapping MappingConfig  `mapstructure:"mapping" yaml:"mapping"`
	Library LibraryConfig  `mapstructure:"library" yaml:"library"`
	Takes   TakesConfig    `mapstructure:"takes" yaml:"takes"`
	Relay   RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Logging logging.Config `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the tracking server
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"` // empty allows any origin
}

// MappingConfig is the mapper configuration applied to new sessions. Values
// are passed through unchecked.
type MappingConfig struct {
	mapper.Config `mapstructure:",squash" yaml:",inline"`

	Filter   smoothing.Params    `mapstructure:"filter" yaml:"filter"`
	Synonyms map[string][]string `mapstructure:"synonyms" yaml:"synonyms,omitempty"` // extra category to morph id candidates
}

// LibraryConfig locates character rigs and catalogs
type LibraryConfig struct {
	Dir              string `mapstructure:"dir" yaml:"dir"`
	DefaultCharacter string `mapstructure:"default_character" yaml:"default_character,omitempty"`
}

// TakesConfig configures take recording. Finished takes older than
// Retention are pruned on PruneSchedule; zero retention keeps everything.
type TakesConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Path          string        `mapstructure:"path" yaml:"path"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// RelayConfig configures the Redis result relay
type RelayConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir := defaultDir()
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			ShutdownTimeout: 5 * time.Second,
			MaxMessageBytes: 1 << 20,
		},
		Mapping: MappingConfig{
			Config: mapper.DefaultConfig(),
			Filter: smoothing.DefaultParams(),
		},
		Library: LibraryConfig{
			Dir: filepath.Join(dir, "characters"),
		},
		Takes: TakesConfig{
			Enabled:       false,
			Path:          filepath.Join(dir, "takes.db"),
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Relay: RelayConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Prefix:  "cortexpuppet:results",
		},
		Logging: logging.Config{
			Dir:        filepath.Join(dir, "logs"),
			Level:      logging.LevelInfo,
			MaxHistory: 1000,
			Console:    true,
		},
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, "server.addr is empty")
	}
	if c.Server.MaxMessageBytes <= 0 {
		errs = append(errs, "server.max_message_bytes must be positive")
	}
	if c.Mapping.Filter.R < 0 || c.Mapping.Filter.Q < 0 {
		errs = append(errs, "mapping.filter noise must not be negative")
	}
	if c.Takes.Enabled && c.Takes.Path == "" {
		errs = append(errs, "takes.path is required when takes are enabled")
	}
	if c.Takes.Retention < 0 {
		errs = append(errs, "takes.retention must not be negative")
	}
	if c.Takes.Retention > 0 && c.Takes.PruneSchedule == "" {
		errs = append(errs, "takes.prune_schedule is required with a retention")
	}
	if c.Relay.Enabled && c.Relay.Addr == "" {
		errs = append(errs, "relay.addr is required when the relay is enabled")
	}
	if c.Relay.Enabled && c.Relay.Prefix == "" {
		errs = append(errs, "relay.prefix is required when the relay is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexpuppet"), nil
}

// DefaultPath returns the path Load uses when none is given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultDir() string {
	dir, err := Dir()
	if err != nil {
		return ".cortexpuppet"
	}
	return dir
}
