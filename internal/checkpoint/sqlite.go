package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new store instance. If logger is nil, a discard
// logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database and runs pending migrations.
// Use ":memory:" for an in-memory store.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping checkpoint database: %w", err)
	}

	s.db = db
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func generateID() string {
	return uuid.New().String()
}

// toNanos maps a timestamp to its stored integer form. The zero time maps
// to 0, the epoch-zero sentinel.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- Checkpoint operations ---

// ReadCheckpoint returns the stored checkpoint for a source. A missing row
// means the source has never synced: an epoch-zero checkpoint is returned,
// never an error.
func (s *SQLiteStore) ReadCheckpoint(source string) (*core.Checkpoint, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	cp := &core.Checkpoint{}
	var watermark, updatedAt int64
	var lastErr sql.NullString

	err := s.db.QueryRow(
		`SELECT source, watermark, last_status, records_synced, last_error, updated_at
		 FROM checkpoints WHERE source = ?`,
		source,
	).Scan(&cp.Source, &watermark, &cp.LastStatus, &cp.RecordsSynced, &lastErr, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return &core.Checkpoint{Source: source}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	cp.Watermark = fromNanos(watermark)
	cp.UpdatedAt = fromNanos(updatedAt)
	if lastErr.Valid {
		cp.LastError = lastErr.String
	}

	return cp, nil
}

// CommitCheckpoint persists the new watermark and run summary for a source.
// The write is compare-and-set: it only applies when the stored watermark
// still equals expected. A mismatch returns ErrWatermarkConflict and leaves
// the prior watermark intact, so the next cycle re-queries the same range.
func (s *SQLiteStore) CommitCheckpoint(source string, expected time.Time, next *core.Checkpoint) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()

	res, err := s.db.Exec(
		`UPDATE checkpoints
		 SET watermark = ?, last_status = ?, records_synced = ?, last_error = ?, updated_at = ?
		 WHERE source = ? AND watermark = ?`,
		toNanos(next.Watermark), string(next.LastStatus), next.RecordsSynced,
		nullString(next.LastError), toNanos(now), source, toNanos(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		s.logger.Debug("checkpoint committed",
			slog.String("source", source), slog.Time("watermark", next.Watermark))
		return nil
	}

	// No row matched: either this is the source's first commit, or an
	// overlapping cycle advanced the watermark first.
	if !expected.IsZero() {
		return ErrWatermarkConflict
	}

	_, err = s.db.Exec(
		`INSERT INTO checkpoints (source, watermark, last_status, records_synced, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		source, toNanos(next.Watermark), string(next.LastStatus), next.RecordsSynced,
		nullString(next.LastError), toNanos(now),
	)
	if err != nil {
		// The row appeared between the UPDATE and the INSERT.
		if existing, rerr := s.ReadCheckpoint(source); rerr == nil && !existing.Watermark.IsZero() {
			return ErrWatermarkConflict
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint created",
		slog.String("source", source), slog.Time("watermark", next.Watermark))
	return nil
}

// ListCheckpoints returns all checkpoints ordered by source.
func (s *SQLiteStore) ListCheckpoints() ([]*core.Checkpoint, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT source, watermark, last_status, records_synced, last_error, updated_at
		 FROM checkpoints ORDER BY source`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*core.Checkpoint
	for rows.Next() {
		cp := &core.Checkpoint{}
		var watermark, updatedAt int64
		var lastErr sql.NullString

		if err := rows.Scan(&cp.Source, &watermark, &cp.LastStatus, &cp.RecordsSynced, &lastErr, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		cp.Watermark = fromNanos(watermark)
		cp.UpdatedAt = fromNanos(updatedAt)
		if lastErr.Valid {
			cp.LastError = lastErr.String
		}
		cps = append(cps, cp)
	}

	return cps, rows.Err()
}

// --- Run operations ---

// CreateRun opens a new sync run in the running state.
func (s *SQLiteStore) CreateRun() (*core.SyncRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.SyncRun{
		ID:        generateID(),
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO sync_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// CompleteRun finalizes a run with the given outcome.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()

	res, err := s.db.Exec(
		`UPDATE sync_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.SyncRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.SyncRun{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(
		`SELECT id, started_at, completed_at, status, error FROM sync_runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.StartedAt, &completedAt, &run.Status, &errMsg)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}

	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.SyncRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, started_at, completed_at, status, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.SyncRun
	for rows.Next() {
		run := &core.SyncRun{}
		var completedAt sql.NullTime
		var errMsg sql.NullString

		if err := rows.Scan(&run.ID, &run.StartedAt, &completedAt, &run.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// --- Source result operations ---

// RecordSourceResult persists one source's contribution to a run.
func (s *SQLiteStore) RecordSourceResult(res *core.SourceResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if res.ID == "" {
		res.ID = generateID()
	}

	_, err := s.db.Exec(
		`INSERT INTO source_results
		 (id, run_id, source, status, records_synced, records_skipped, error, watermark_before, watermark_after)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.RunID, res.Source, string(res.Status), res.RecordsSynced, res.RecordsSkipped,
		nullString(res.Error), toNanos(res.WatermarkBefore), toNanos(res.WatermarkAfter),
	)
	if err != nil {
		return fmt.Errorf("failed to record source result: %w", err)
	}

	return nil
}

// GetSourceResults returns the per-source results of a run, ordered by
// source for stable output.
func (s *SQLiteStore) GetSourceResults(runID string) ([]*core.SourceResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, source, status, records_synced, records_skipped, error, watermark_before, watermark_after
		 FROM source_results WHERE run_id = ? ORDER BY source`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get source results: %w", err)
	}
	defer rows.Close()

	var results []*core.SourceResult
	for rows.Next() {
		res := &core.SourceResult{}
		var errMsg sql.NullString
		var before, after int64

		if err := rows.Scan(&res.ID, &res.RunID, &res.Source, &res.Status, &res.RecordsSynced,
			&res.RecordsSkipped, &errMsg, &before, &after); err != nil {
			return nil, fmt.Errorf("failed to scan source result: %w", err)
		}

		if errMsg.Valid {
			res.Error = errMsg.String
		}
		res.WatermarkBefore = fromNanos(before)
		res.WatermarkAfter = fromNanos(after)
		results = append(results, res)
	}

	return results, rows.Err()
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
