package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mentorsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const sampleConfig = `
checkpoint_path: /var/lib/mentorsync/checkpoints.db
record_store:
  host: db.internal
  database: mentoring
  user: sync
  password: ${MENTORSYNC_TEST_DB_PASSWORD}
sources:
  - key: goals
  - key: logins
    table: login_events
    sheet_range: Logins
sheets:
  endpoint: https://sheets.internal/append
  spreadsheet_id: sheet-1
discord:
  webhook_url: https://discord.test/webhook
  max_per_window: 10
  window: 30s
cycle_timeout: 90s
`

func TestLoadConfigDefaults(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultCheckpointPath, cfg.CheckpointPath)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, 500, cfg.Sheets.MaxRowsPerBatch)
	assert.Equal(t, 30, cfg.Discord.MaxPerWindow)
	assert.Equal(t, time.Minute, cfg.Discord.Window)
	assert.Equal(t, uint64(3), cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.CycleTimeout)
	assert.False(t, cfg.AdvanceOnEmpty)
}

func TestLoadConfigFromFile(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)
	t.Setenv("MENTORSYNC_TEST_DB_PASSWORD", "hunter2")

	path := writeConfigFile(t, sampleConfig)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mentorsync/checkpoints.db", cfg.CheckpointPath)
	assert.Equal(t, "db.internal", cfg.RecordStore.Host)
	assert.Equal(t, 5432, cfg.RecordStore.Port) // default survives partial override
	assert.Equal(t, "hunter2", cfg.RecordStore.Password)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "goals", cfg.Sources[0].TableName())
	assert.Equal(t, "goals", cfg.Sources[0].Range())
	assert.Equal(t, "login_events", cfg.Sources[1].TableName())
	assert.Equal(t, "Logins", cfg.Sources[1].Range())

	assert.Equal(t, 10, cfg.Discord.MaxPerWindow)
	assert.Equal(t, 30*time.Second, cfg.Discord.Window)
	assert.Equal(t, 90*time.Second, cfg.CycleTimeout)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	path := writeConfigFile(t, sampleConfig)
	t.Setenv("MENTORSYNC_CHECKPOINT_PATH", "/tmp/env.db")
	t.Setenv("MENTORSYNC_DISCORD__MAX_PER_WINDOW", "5")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.CheckpointPath)
	assert.Equal(t, 5, cfg.Discord.MaxPerWindow)
}

func TestLoadConfigFlagOverride(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	path := writeConfigFile(t, sampleConfig)
	t.Setenv("MENTORSYNC_CHECKPOINT_PATH", "/tmp/env.db")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("checkpoint", "", "")
	flags.String("listen", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--checkpoint=/tmp/flag.db", "--verbose"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	// Flags beat env vars; an unset flag changes nothing.
	assert.Equal(t, "/tmp/flag.db", cfg.CheckpointPath)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfigMissingFile(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CheckpointPath: "checkpoints.db",
			RecordStore:    RecordStoreConfig{Database: "mentoring"},
			Sources:        []SourceConfig{{Key: "goals"}},
			Sheets:         SheetsConfig{Endpoint: "https://sheets.internal/append"},
			Discord:        DiscordConfig{WebhookURL: "https://discord.test/webhook"},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing checkpoint path", func(c *Config) { c.CheckpointPath = "" }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"empty source key", func(c *Config) { c.Sources = []SourceConfig{{}} }},
		{"unknown source", func(c *Config) { c.Sources = []SourceConfig{{Key: "grades"}} }},
		{"duplicate source", func(c *Config) {
			c.Sources = []SourceConfig{{Key: "goals"}, {Key: "goals"}}
		}},
		{"missing database", func(c *Config) { c.RecordStore.Database = "" }},
		{"missing sheets endpoint", func(c *Config) { c.Sheets.Endpoint = "" }},
		{"missing webhook", func(c *Config) { c.Discord.WebhookURL = "" }},
		{"negative window", func(c *Config) { c.Discord.Window = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
