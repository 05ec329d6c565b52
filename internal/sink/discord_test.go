package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-labs/mentorsync/internal/testutil"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

func testMessage() core.Message {
	return core.Message{
		Title:     "Goal updated",
		Color:     0x2ecc71,
		Timestamp: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Fields: []core.MessageField{
			{Name: "student_id", Value: "s-7", Inline: true},
			{Name: "title", Value: "Finish unit 3", Inline: true},
		},
	}
}

func TestSendPostsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(DiscordConfig{
		WebhookURL: srv.URL,
		Username:   "mentorsync",
	}, testutil.NewTestLogger(t))

	require.NoError(t, d.Send(context.Background(), testMessage()))

	assert.Equal(t, "mentorsync", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Goal updated", got.Embeds[0].Title)
	assert.Equal(t, 0x2ecc71, got.Embeds[0].Color)
	assert.Equal(t, "2026-03-01T12:30:00Z", got.Embeds[0].Timestamp)
	require.Len(t, got.Embeds[0].Fields, 2)
	assert.Equal(t, "student_id", got.Embeds[0].Fields[0].Name)
}

func TestSendServerRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscord(DiscordConfig{WebhookURL: srv.URL}, testutil.NewTestLogger(t))

	err := d.Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSendLocalRateLimit(t *testing.T) {
	var sends int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sends++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// Two tokens per hour: the burst covers two sends, the third would have
	// to wait far past the context deadline.
	d := NewDiscord(DiscordConfig{
		WebhookURL:   srv.URL,
		MaxPerWindow: 2,
		Window:       time.Hour,
	}, testutil.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Send(ctx, testMessage()))
	require.NoError(t, d.Send(ctx, testMessage()))

	err := d.Send(ctx, testMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, sends)
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDiscord(DiscordConfig{WebhookURL: srv.URL}, testutil.NewTestLogger(t))

	err := d.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}
