package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. CORTEXPUPPET_SERVER_ADDR.
const EnvPrefix = "CORTEXPUPPET"

// Loader reads a config file with environment overrides and can watch it
// for changes.
type Loader struct {
	v    *viper.Viper
	path string
	log  zerolog.Logger
}

// NewLoader creates a Loader for path. An empty path uses DefaultPath.
func NewLoader(path string, log zerolog.Logger) (*Loader, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	return &Loader{v: v, path: path, log: log}, nil
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file, writing one with defaults first if it does
// not exist.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := Save(DefaultConfig(), l.path); err != nil {
			return nil, err
		}
		l.log.Info().Str("path", l.path).Msg("wrote default config")
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return l.decode()
}

// Watch calls fn with each valid configuration written to the file after
// Load. Invalid edits are logged and skipped.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.log.Warn().Err(err).Str("file", e.Name).Msg("ignoring unreadable config change")
			return
		}
		l.log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads configuration from path, or the default location when path is
// empty.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// Save writes the configuration to path as YAML. The file is replaced
// atomically so a watcher never reads a partial write.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// setDefaults registers every key of cfg with viper so environment
// overrides apply to keys the file leaves out.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	setDefaultTree(v, "", tree)
	return nil
}

func setDefaultTree(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
			setDefaultTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
