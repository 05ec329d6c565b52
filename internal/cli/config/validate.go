package config

import (
	"fmt"

	"github.com/brightpath-labs/mentorsync/internal/project"
)

// Validate checks if the configuration is valid for running sync cycles.
// Help and status-only commands may work with a partial config, so this is
// called by the commands that need a full one.
func (c *Config) Validate() error {
	if c.CheckpointPath == "" {
		return fmt.Errorf("checkpoint_path is required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if src.Key == "" {
			return fmt.Errorf("source key must not be empty")
		}
		if seen[src.Key] {
			return fmt.Errorf("duplicate source %q", src.Key)
		}
		seen[src.Key] = true
		if _, ok := project.Builtin(src.Key); !ok {
			return fmt.Errorf("unknown source %q (known sources: %v)", src.Key, project.Sources())
		}
	}

	if c.RecordStore.Database == "" {
		return fmt.Errorf("record_store.database is required")
	}
	if c.Sheets.Endpoint == "" {
		return fmt.Errorf("sheets.endpoint is required")
	}
	if c.Discord.WebhookURL == "" {
		return fmt.Errorf("discord.webhook_url is required")
	}
	if c.Discord.MaxPerWindow < 0 {
		return fmt.Errorf("discord.max_per_window must not be negative")
	}
	if c.Discord.Window < 0 {
		return fmt.Errorf("discord.window must not be negative")
	}
	if c.Sheets.MaxRowsPerBatch < 0 {
		return fmt.Errorf("sheets.max_rows_per_batch must not be negative")
	}
	return nil
}
