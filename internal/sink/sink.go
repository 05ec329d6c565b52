// Package sink delivers projected rows and messages to external append-only
// destinations. Both adapters are idempotent-safe under retry: resending a
// logical batch after a transient failure may duplicate appends but never
// loses data, and neither assumes the destination deduplicates.
package sink

import (
	"context"
	"errors"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// ErrRateLimited reports that the event sink refused a send because the
// rolling rate window is exhausted. The send may be retried; it was never
// silently dropped.
var ErrRateLimited = errors.New("sink: rate limited")

// ChunkResult reports the outcome of one size-bounded chunk of an append.
// Start and End are row offsets into the logical batch, End exclusive.
// Chunks after the first failure are not attempted and not reported, so a
// caller knows exactly which rows were not committed.
type ChunkResult struct {
	Start int
	End   int
	Err   error
}

// Tabular appends ordered rows to a positional-column destination. Row
// order is preserved within the batch.
type Tabular interface {
	AppendRows(ctx context.Context, table string, rows []core.ProjectedRow) []ChunkResult
}

// Event sends one structured message to a notification channel.
type Event interface {
	Send(ctx context.Context, msg core.Message) error
}
