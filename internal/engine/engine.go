// Package engine drives incremental sync cycles: load watermarks, query
// changed records, project, dispatch to sinks, and advance checkpoints.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brightpath-labs/mentorsync/internal/checkpoint"
	"github.com/brightpath-labs/mentorsync/internal/sink"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// ErrCycleInProgress is returned when a trigger arrives while a cycle is
// already running. Cycles are never run concurrently against the same
// checkpoints; the caller coalesces or drops the trigger.
var ErrCycleInProgress = errors.New("engine: sync cycle already in progress")

// ChangeSource is the record-store query interface the engine consumes.
type ChangeSource interface {
	ChangedSince(ctx context.Context, table string, since time.Time) ([]core.ChangeRecord, error)
}

// SourceSpec binds a source key to its record-store table and tabular-sink
// destination.
type SourceSpec struct {
	Key string

	// Table is the record-store collection table.
	Table string

	// SheetRange is the tab or range the tabular sink appends to.
	SheetRange string
}

// RetryConfig bounds transient-failure retries within a cycle.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first attempt.
	MaxAttempts uint64

	// BaseDelay seeds the fibonacci backoff curve.
	BaseDelay time.Duration
}

// Config holds engine configuration.
type Config struct {
	Sources []SourceSpec
	Retry   RetryConfig

	// CycleTimeout is the overall cycle deadline. Sources still in flight
	// when it expires are treated as partial failures; sources that already
	// committed keep their watermarks.
	CycleTimeout time.Duration

	// AdvanceOnEmpty moves a source's watermark to the cycle start time
	// when no records changed. Off by default: a record committed with a
	// server-assigned timestamp just below "now" could otherwise be skipped
	// under clock skew.
	AdvanceOnEmpty bool

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine orchestrates sync cycles over the configured sources.
type Engine struct {
	cfg     Config
	store   checkpoint.Store
	source  ChangeSource
	tabular sink.Tabular
	events  sink.Event
	logger  *slog.Logger

	// cycleMu is the mutual-exclusion lease: at most one cycle at a time.
	cycleMu sync.Mutex

	// nowFn is swappable in tests.
	nowFn func() time.Time
}

// New creates a new engine.
func New(cfg Config, store checkpoint.Store, src ChangeSource, tabular sink.Tabular, events sink.Event) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		source:  src,
		tabular: tabular,
		events:  events,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Store returns the checkpoint store backing this engine.
func (e *Engine) Store() checkpoint.Store {
	return e.store
}

// selectSources filters the configured sources by key; nil means all.
func (e *Engine) selectSources(include []string) []SourceSpec {
	if len(include) == 0 {
		return e.cfg.Sources
	}
	want := make(map[string]bool, len(include))
	for _, k := range include {
		want[k] = true
	}
	var out []SourceSpec
	for _, s := range e.cfg.Sources {
		if want[s.Key] {
			out = append(out, s)
		}
	}
	return out
}
