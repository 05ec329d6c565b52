// Package checkpoint persists per-source sync watermarks and run history in
// a local SQLite database.
package checkpoint

import (
	"errors"
	"time"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// ErrWatermarkConflict is returned by CommitCheckpoint when the stored
// watermark no longer matches the value read at cycle start. The commit was
// not applied; the caller must re-read before retrying.
var ErrWatermarkConflict = errors.New("checkpoint: watermark conflict")

// ErrRunNotFound is returned when a sync run ID does not exist.
var ErrRunNotFound = errors.New("checkpoint: run not found")

// Store is the persistence contract the sync orchestrator depends on.
type Store interface {
	// ReadCheckpoint returns the checkpoint for a source. A source that has
	// never synced yields an epoch-zero checkpoint, not an error.
	ReadCheckpoint(source string) (*core.Checkpoint, error)

	// CommitCheckpoint atomically persists the new watermark and run
	// summary. The write is compare-and-set on the expected watermark and
	// must only be called after every sink write for the cycle has been
	// acknowledged.
	CommitCheckpoint(source string, expected time.Time, next *core.Checkpoint) error

	// ListCheckpoints returns all checkpoints ordered by source.
	ListCheckpoints() ([]*core.Checkpoint, error)

	// CreateRun opens a new sync run in the running state.
	CreateRun() (*core.SyncRun, error)

	// CompleteRun finalizes a run with its outcome.
	CompleteRun(id string, status core.RunStatus, errMsg string) error

	// GetRun retrieves a run by ID.
	GetRun(id string) (*core.SyncRun, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*core.SyncRun, error)

	// RecordSourceResult persists one source's contribution to a run.
	RecordSourceResult(res *core.SourceResult) error

	// GetSourceResults returns the per-source results of a run.
	GetSourceResults(runID string) ([]*core.SourceResult, error)

	Close() error
}
