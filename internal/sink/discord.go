package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// DiscordConfig configures the notification webhook.
type DiscordConfig struct {
	WebhookURL string
	Username   string

	// MaxPerWindow and Window define the rolling send limit shared by all
	// concurrent senders.
	MaxPerWindow int
	Window       time.Duration
}

// DiscordSink posts messages to a webhook. A shared token bucket serializes
// concurrent senders across sources; an exhausted bucket or an HTTP 429
// surfaces as ErrRateLimited, never a silent drop.
type DiscordSink struct {
	cfg     DiscordConfig
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger
}

// NewDiscord creates a new event sink. If logger is nil, a discard logger
// is used.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) *DiscordSink {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DiscordSink{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.MaxPerWindow)), cfg.MaxPerWindow),
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type embed struct {
	Title     string              `json:"title"`
	Color     int                 `json:"color,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
	Fields    []core.MessageField `json:"fields,omitempty"`
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

// Send posts one message to the webhook. Waiting for the token bucket
// respects the context deadline: a wait that cannot complete in time
// returns ErrRateLimited while the context itself is still live.
func (d *DiscordSink) Send(ctx context.Context, msg core.Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	payload := webhookPayload{
		Username: d.cfg.Username,
		Embeds: []embed{{
			Title:     msg.Title,
			Color:     msg.Color,
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
			Fields:    msg.Fields,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		d.logger.Debug("webhook rate limited", slog.String("title", msg.Title))
		return ErrRateLimited
	case resp.StatusCode >= 300:
		return fmt.Errorf("send message: %s", resp.Status)
	}
	return nil
}

// Ensure DiscordSink implements the Event interface.
var _ Event = (*DiscordSink)(nil)
