package core

import "time"

// RunStatus describes the outcome of a sync cycle.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// SourceStatus describes the outcome of one source within a cycle.
type SourceStatus string

const (
	SourceStatusSuccess SourceStatus = "success"
	SourceStatusFailed  SourceStatus = "failed"
)

// Checkpoint is the durable watermark for one source: every record with a
// change-timestamp at or below Watermark has been appended to all sinks.
// The watermark only moves forward, and only after the sinks acknowledged
// the cycle's writes.
type Checkpoint struct {
	Source        string    `json:"source"`
	Watermark     time.Time `json:"watermark"`
	LastStatus    RunStatus `json:"last_status"`
	RecordsSynced int64     `json:"records_synced"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SyncRun records one orchestration cycle. It is created when the cycle
// starts, finalized exactly once when the cycle ends, and never mutated
// afterwards.
type SyncRun struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// SourceResult is one source's contribution to a cycle. WatermarkBefore and
// WatermarkAfter bound the range of change-timestamps the cycle dispatched
// for this source; equal values mean the watermark did not move.
type SourceResult struct {
	ID              string       `json:"id"`
	RunID           string       `json:"run_id"`
	Source          string       `json:"source"`
	Status          SourceStatus `json:"status"`
	RecordsSynced   int64        `json:"records_synced"`
	RecordsSkipped  int64        `json:"records_skipped"`
	Error           string       `json:"error,omitempty"`
	WatermarkBefore time.Time    `json:"watermark_before"`
	WatermarkAfter  time.Time    `json:"watermark_after"`
}
