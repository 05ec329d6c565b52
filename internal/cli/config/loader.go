package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in context.
// Shared with the cli package via both using the same type.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// Package-level koanf instance and config file tracking.
var (
	k              = koanf.New(".")
	configFileUsed string
)

// findConfigFile finds the config file to use.
// Priority: explicit path > mentorsync.yaml > mentorsync.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("mentorsync.yaml"); err == nil {
		return "mentorsync.yaml"
	}
	if _, err := os.Stat("mentorsync.yml"); err == nil {
		return "mentorsync.yml"
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"checkpoint_path":           DefaultCheckpointPath,
		"listen_addr":               DefaultListenAddr,
		"record_store.host":         "localhost",
		"record_store.port":         5432,
		"sheets.max_rows_per_batch": 500,
		"discord.max_per_window":    30,
		"discord.window":            "60s",
		"retry.max_attempts":        3,
		"retry.base_delay":          "500ms",
		"cycle_timeout":             "5m",
		"advance_on_empty":          false,
		"verbose":                   false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (MENTORSYNC_ prefix)
	// Transform: MENTORSYNC_CHECKPOINT_PATH -> checkpoint_path
	// A double underscore nests: MENTORSYNC_DISCORD__WEBHOOK_URL -> discord.webhook_url
	if err := k.Load(env.Provider("MENTORSYNC_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "MENTORSYNC_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")

			// The CLI uses short flag names; map them to their config keys
			switch key {
			case "checkpoint":
				return "checkpoint_path", posflag.FlagVal(flags, f)
			case "listen":
				return "listen_addr", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Expand ${VAR} references in secret-bearing fields
	cfg.RecordStore.Password = expandEnvVars(cfg.RecordStore.Password)
	cfg.RecordStore.User = expandEnvVars(cfg.RecordStore.User)
	cfg.Sheets.APIToken = expandEnvVars(cfg.Sheets.APIToken)
	cfg.Discord.WebhookURL = expandEnvVars(cfg.Discord.WebhookURL)

	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// IntoContext stores the config and logger in the context for retrieval by
// commands without creating an import cycle with the cli package.
func IntoContext(ctx context.Context, cfg *Config, logger *slog.Logger) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the loaded config from the command context.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return &Config{
		CheckpointPath: DefaultCheckpointPath,
		ListenAddr:     DefaultListenAddr,
	}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
