// Package config provides configuration management for the mentorsync CLI.
//
// Configuration is merged from four layers, lowest to highest precedence:
// built-in defaults, a YAML config file, MENTORSYNC_-prefixed environment
// variables, and command-line flags.
package config

import "time"

// SourceConfig binds one sync source to its record-store table and
// spreadsheet tab. Table and sheet range default to the source key.
type SourceConfig struct {
	Key        string `koanf:"key"`
	Table      string `koanf:"table"`
	SheetRange string `koanf:"sheet_range"`
}

// TableName returns the record-store table for the source.
func (s SourceConfig) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Key
}

// Range returns the spreadsheet tab or range for the source.
func (s SourceConfig) Range() string {
	if s.SheetRange != "" {
		return s.SheetRange
	}
	return s.Key
}

// RecordStoreConfig holds the Postgres connection settings for the
// record store being mirrored.
type RecordStoreConfig struct {
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Options  map[string]string `koanf:"options"`
}

// SheetsConfig holds the spreadsheet append endpoint settings.
type SheetsConfig struct {
	Endpoint        string `koanf:"endpoint"`
	SpreadsheetID   string `koanf:"spreadsheet_id"`
	APIToken        string `koanf:"api_token"`
	MaxRowsPerBatch int    `koanf:"max_rows_per_batch"`
}

// DiscordConfig holds the notification webhook settings.
type DiscordConfig struct {
	WebhookURL   string        `koanf:"webhook_url"`
	Username     string        `koanf:"username"`
	MaxPerWindow int           `koanf:"max_per_window"`
	Window       time.Duration `koanf:"window"`
}

// RetryConfig bounds transient-failure retries within a sync cycle.
type RetryConfig struct {
	MaxAttempts uint64        `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
}

// Config holds all CLI configuration options.
type Config struct {
	CheckpointPath string            `koanf:"checkpoint_path"`
	RecordStore    RecordStoreConfig `koanf:"record_store"`
	Sources        []SourceConfig    `koanf:"sources"`
	Sheets         SheetsConfig      `koanf:"sheets"`
	Discord        DiscordConfig     `koanf:"discord"`
	Retry          RetryConfig       `koanf:"retry"`
	CycleTimeout   time.Duration     `koanf:"cycle_timeout"`
	AdvanceOnEmpty bool              `koanf:"advance_on_empty"`
	ListenAddr     string            `koanf:"listen_addr"`
	Verbose        bool              `koanf:"verbose"`
}

// Default configuration values.
const (
	DefaultCheckpointPath = ".mentorsync/checkpoints.db"
	DefaultListenAddr     = ":8744"
)
