package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Mapping.Smoothing)
	assert.Equal(t, 1.0, cfg.Mapping.Sensitivity)
	assert.Equal(t, 0.01, cfg.Mapping.Filter.R)
	assert.Equal(t, 0.1, cfg.Mapping.Filter.Q)
	assert.False(t, cfg.Takes.Enabled)
	assert.False(t, cfg.Relay.Enabled)
	assert.Equal(t, "cortexpuppet:results", cfg.Relay.Prefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "head_rotation_scale: 1")
	assert.Contains(t, string(data), "shutdown_timeout: 5s")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
mapping:
  smoothing: false
  sensitivity: 2.5
  filter:
    measurement_noise: 0.5
  synonyms:
    jawOpen: [Mouth_Open]
takes:
  enabled: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxMessageBytes, "unset keys keep defaults")
	assert.False(t, cfg.Mapping.Smoothing)
	assert.Equal(t, 2.5, cfg.Mapping.Sensitivity)
	assert.Equal(t, 1.0, cfg.Mapping.MorphScale)
	assert.Equal(t, 0.5, cfg.Mapping.Filter.Q)
	assert.Equal(t, 0.01, cfg.Mapping.Filter.R)
	// viper folds keys to lower case; the mapper matches categories without case.
	assert.Equal(t, []string{"Mouth_Open"}, cfg.Mapping.Synonyms["jawopen"])
	assert.True(t, cfg.Takes.Enabled)
	assert.NotEmpty(t, cfg.Takes.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0644))

	t.Setenv("CORTEXPUPPET_SERVER_ADDR", ":9100")
	t.Setenv("CORTEXPUPPET_MAPPING_MORPH_SCALE", "0.75")
	t.Setenv("CORTEXPUPPET_RELAY_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 0.75, cfg.Mapping.MorphScale)
	assert.True(t, cfg.Relay.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \"\"\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }},
		{"zero message limit", func(c *Config) { c.Server.MaxMessageBytes = 0 }},
		{"negative noise", func(c *Config) { c.Mapping.Filter.Q = -1 }},
		{"takes without path", func(c *Config) { c.Takes.Enabled = true; c.Takes.Path = "" }},
		{"negative retention", func(c *Config) { c.Takes.Retention = -time.Hour }},
		{"retention without schedule", func(c *Config) { c.Takes.PruneSchedule = "" }},
		{"relay without addr", func(c *Config) { c.Relay.Enabled = true; c.Relay.Addr = "" }},
		{"relay without prefix", func(c *Config) { c.Relay.Enabled = true; c.Relay.Prefix = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := DefaultConfig()
	cfg.Mapping.Sensitivity = -3
	assert.NoError(t, cfg.Validate(), "mapping values are not range checked")
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	l, err := NewLoader(path, zerolog.Nop())
	require.NoError(t, err)

	_, err = l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.Watch(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	cfg := DefaultConfig()
	cfg.Mapping.Sensitivity = 4
	require.NoError(t, Save(cfg, path))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-changed:
			if got.Mapping.Sensitivity == 4 {
				return
			}
		case <-timeout:
			t.Fatal("no reload observed")
		}
	}
}
