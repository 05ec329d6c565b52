// Package commands implements the mentorsync subcommands.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brightpath-labs/mentorsync/internal/checkpoint"
	"github.com/brightpath-labs/mentorsync/internal/cli/config"
	"github.com/brightpath-labs/mentorsync/internal/engine"
	"github.com/brightpath-labs/mentorsync/internal/sink"
	"github.com/brightpath-labs/mentorsync/internal/source"
)

// buildEngine wires the checkpoint store, record-store source, and both
// sinks from the loaded config. The returned cleanup closes the store and
// the source connection.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := config.GetLogger(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	src := source.New(logger)
	if err := src.Connect(ctx, source.Config{
		Host:     cfg.RecordStore.Host,
		Port:     cfg.RecordStore.Port,
		Database: cfg.RecordStore.Database,
		User:     cfg.RecordStore.User,
		Password: cfg.RecordStore.Password,
		Options:  cfg.RecordStore.Options,
	}); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to connect to record store: %w", err)
	}

	tabular := sink.NewSheets(sink.SheetsConfig{
		Endpoint:        cfg.Sheets.Endpoint,
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		APIToken:        cfg.Sheets.APIToken,
		MaxRowsPerBatch: cfg.Sheets.MaxRowsPerBatch,
	}, logger)

	events := sink.NewDiscord(sink.DiscordConfig{
		WebhookURL:   cfg.Discord.WebhookURL,
		Username:     cfg.Discord.Username,
		MaxPerWindow: cfg.Discord.MaxPerWindow,
		Window:       cfg.Discord.Window,
	}, logger)

	specs := make([]engine.SourceSpec, len(cfg.Sources))
	for i, s := range cfg.Sources {
		specs[i] = engine.SourceSpec{Key: s.Key, Table: s.TableName(), SheetRange: s.Range()}
	}

	eng := engine.New(engine.Config{
		Sources: specs,
		Retry: engine.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		},
		CycleTimeout:   cfg.CycleTimeout,
		AdvanceOnEmpty: cfg.AdvanceOnEmpty,
		Logger:         logger,
	}, store, src, tabular, events)

	cleanup := func() {
		_ = src.Close()
		_ = store.Close()
	}
	return eng, cleanup, nil
}

// openStore opens the checkpoint database, creating its directory if needed.
func openStore(ctx context.Context, cfg *config.Config) (*checkpoint.SQLiteStore, error) {
	dir := filepath.Dir(cfg.CheckpointPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	store := checkpoint.NewSQLiteStore(config.GetLogger(ctx))
	if err := store.Open(cfg.CheckpointPath); err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return store, nil
}

// splitSources splits a comma-separated source list, trimming whitespace
// and dropping empty entries.
func splitSources(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
