package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/brightpath-labs/mentorsync/internal/project"
	"github.com/brightpath-labs/mentorsync/internal/sink"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// item carries one record through the project/dispatch pipeline. A skipped
// item is a malformed record: it is consumed (the watermark may pass it)
// but nothing is sent to the sinks for it.
type item struct {
	rec     core.ChangeRecord
	row     core.ProjectedRow
	msg     core.Message
	skipped bool
}

// RunCycle executes one sync cycle end to end: per source, load the
// watermark, query changed records, project, dispatch to both sinks, and
// commit the new watermark. include filters the configured sources by key;
// nil means all. A cycle already in progress returns ErrCycleInProgress
// without side effects.
//
// All per-source failures are contained in the returned run; the error
// return is reserved for the cycle being unable to start or record itself.
func (e *Engine) RunCycle(ctx context.Context, include []string) (*core.SyncRun, error) {
	if !e.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer e.cycleMu.Unlock()

	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	sources := e.selectSources(include)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources selected")
	}

	run, err := e.store.CreateRun()
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	e.logger.Info("starting sync cycle", "run_id", run.ID, "sources", len(sources))

	// Sources are independent: fan out one pipeline each, fan in before
	// finalizing. The shared event sink rate-limits across all of them.
	results := make([]*core.SourceResult, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i] = e.syncSource(ctx, run.ID, src)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	var total int64
	var errs []error
	for _, res := range results {
		if err := e.store.RecordSourceResult(res); err != nil {
			e.logger.Error("failed to record source result", "source", res.Source, "error", err)
		}
		total += res.RecordsSynced
		if res.Status == core.SourceStatusFailed {
			failed++
			errs = append(errs, fmt.Errorf("%s: %s", res.Source, res.Error))
		}
	}

	status := core.RunStatusSuccess
	switch {
	case failed == len(results):
		status = core.RunStatusFailed
	case failed > 0:
		status = core.RunStatusPartial
	}

	errMsg := ""
	if len(errs) > 0 {
		errMsg = errors.Join(errs...).Error()
	}
	if err := e.store.CompleteRun(run.ID, status, errMsg); err != nil {
		e.logger.Error("failed to finalize sync run", "run_id", run.ID, "error", err)
	}

	e.logger.Info("sync cycle finished",
		"run_id", run.ID, "status", string(status), "records", total)

	return e.store.GetRun(run.ID)
}

// syncSource runs the query → project → dispatch → commit pipeline for one
// source. Every failure is contained in the returned result: one source's
// failure never blocks or rolls back another's.
func (e *Engine) syncSource(ctx context.Context, runID string, src SourceSpec) *core.SourceResult {
	res := &core.SourceResult{RunID: runID, Source: src.Key, Status: core.SourceStatusSuccess}
	log := e.logger.With("source", src.Key)

	cp, err := e.store.ReadCheckpoint(src.Key)
	if err != nil {
		return fail(res, fmt.Errorf("read checkpoint: %w", err))
	}
	res.WatermarkBefore = cp.Watermark
	res.WatermarkAfter = cp.Watermark

	schema, ok := project.Builtin(src.Key)
	if !ok {
		return fail(res, fmt.Errorf("no projection schema registered for source %q", src.Key))
	}

	cycleStart := e.nowFn().UTC()

	var records []core.ChangeRecord
	err = e.retryTransient(ctx, func(ctx context.Context) error {
		var qerr error
		records, qerr = e.source.ChangedSince(ctx, src.Table, cp.Watermark)
		return qerr
	})
	if err != nil {
		return fail(res, fmt.Errorf("query changes: %w", err))
	}

	if len(records) == 0 {
		log.Debug("no changes since watermark", "watermark", cp.Watermark)
		// The watermark only ever moves forward. A stored watermark ahead of
		// the local clock (a record carried a future server-assigned
		// timestamp) must stand until the clock catches up.
		if e.cfg.AdvanceOnEmpty && cycleStart.After(cp.Watermark) {
			if err := e.commit(src.Key, cp.Watermark, cycleStart, 0, core.RunStatusSuccess, ""); err != nil {
				return fail(res, err)
			}
			res.WatermarkAfter = cycleStart
		}
		return res
	}

	items, skipped := e.projectAll(schema, records, log)
	res.RecordsSkipped = int64(skipped)

	dispatched, dispErr := e.dispatch(ctx, src, items)

	newWM := watermarkAfter(cp.Watermark, items, dispatched)
	var synced int64
	for _, it := range items[:dispatched] {
		if !it.skipped {
			synced++
		}
	}
	res.RecordsSynced = synced

	if dispErr != nil {
		res.Status = core.SourceStatusFailed
		res.Error = dispErr.Error()
	}

	if newWM.After(cp.Watermark) {
		status := core.RunStatusSuccess
		if dispErr != nil {
			status = core.RunStatusPartial
		}
		if err := e.commit(src.Key, cp.Watermark, newWM, synced, status, res.Error); err != nil {
			return fail(res, err)
		}
		res.WatermarkAfter = newWM
	}

	log.Debug("source synced",
		"records", synced, "skipped", skipped, "watermark", res.WatermarkAfter,
		"status", string(res.Status))

	return res
}

// projectAll projects records in order. A malformed record is skipped and
// logged; it never aborts the rest of the source's batch.
func (e *Engine) projectAll(schema project.Schema, records []core.ChangeRecord, log *slog.Logger) ([]item, int) {
	items := make([]item, 0, len(records))
	skipped := 0
	for _, rec := range records {
		row, err := project.Project(schema, rec)
		if err != nil {
			log.Warn("skipping malformed record", "record_id", rec.ID, "error", err)
			items = append(items, item{rec: rec, skipped: true})
			skipped++
			continue
		}
		items = append(items, item{rec: rec, row: row, msg: project.MessageFor(schema, rec, row)})
	}
	return items, skipped
}

// dispatch appends rows to the tabular sink and sends messages to the event
// sink, both in change-timestamp order. It returns how many leading items
// were fully dispatched to every sink, and the first error encountered.
func (e *Engine) dispatch(ctx context.Context, src SourceSpec, items []item) (int, error) {
	tabOK, tabErr := e.dispatchTabular(ctx, src, items)
	evtOK, evtErr := e.dispatchEvents(ctx, items)

	n := min(tabOK, evtOK)
	err := tabErr
	if err == nil {
		err = evtErr
	}
	return n, err
}

// dispatchTabular appends the non-skipped rows, retrying the uncommitted
// tail per the retry policy. Already-committed chunks are never resent
// within a cycle; a retry after a reported failure may still duplicate the
// failed chunk, which the at-least-once contract allows.
func (e *Engine) dispatchTabular(ctx context.Context, src SourceSpec, items []item) (int, error) {
	rows := make([]core.ProjectedRow, 0, len(items))
	itemAt := make([]int, 0, len(items)) // row offset -> item index
	for i, it := range items {
		if it.skipped {
			continue
		}
		rows = append(rows, it.row)
		itemAt = append(itemAt, i)
	}
	if len(rows) == 0 {
		return len(items), nil
	}

	committed := 0
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		results := e.tabular.AppendRows(ctx, src.SheetRange, rows[committed:])
		for _, cr := range results {
			if cr.Err != nil {
				if retryable(cr.Err) {
					return retry.RetryableError(cr.Err)
				}
				return cr.Err
			}
			committed += cr.End - cr.Start
		}
		return nil
	})
	if err == nil {
		return len(items), nil
	}
	return itemAt[committed], fmt.Errorf("tabular sink: %w", err)
}

// dispatchEvents sends messages one at a time in order. Rate-limit results
// back off and retry within the cycle deadline; exhausted retries truncate
// the dispatched prefix at the failing message.
func (e *Engine) dispatchEvents(ctx context.Context, items []item) (int, error) {
	for i, it := range items {
		if it.skipped {
			continue
		}
		err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
			if err := e.events.Send(ctx, it.msg); err != nil {
				if errors.Is(err, sink.ErrRateLimited) || retryable(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		})
		if err != nil {
			return i, fmt.Errorf("event sink: %w", err)
		}
	}
	return len(items), nil
}

// commit performs the compare-and-set checkpoint write. A conflict means an
// overlapping cycle advanced the watermark first; the commit is abandoned
// and the prior watermark stands, so the next cycle re-queries the same
// range. Duplicate appends are possible then, lost records are not.
func (e *Engine) commit(source string, expected, next time.Time, synced int64, status core.RunStatus, lastErr string) error {
	err := e.store.CommitCheckpoint(source, expected, &core.Checkpoint{
		Source:        source,
		Watermark:     next,
		LastStatus:    status,
		RecordsSynced: synced,
		LastError:     lastErr,
	})
	if err != nil {
		return fmt.Errorf("commit watermark: %w", err)
	}
	return nil
}

// watermarkAfter returns the timestamp the watermark may advance to: the
// maximum change-timestamp among the fully dispatched prefix, held strictly
// below the first undispatched record's timestamp. Advancing onto a
// timestamp shared with an undispatched record would exclude that record
// from the next strictly-greater-than query.
func watermarkAfter(prev time.Time, items []item, dispatched int) time.Time {
	wm := prev
	for i := 0; i < dispatched; i++ {
		ts := items[i].rec.ChangedAt
		if dispatched < len(items) && !ts.Before(items[dispatched].rec.ChangedAt) {
			break
		}
		if ts.After(wm) {
			wm = ts
		}
	}
	return wm
}

// retryTransient retries fn per the configured policy, treating any error
// other than context cancellation as transient.
func (e *Engine) retryTransient(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (e *Engine) backoff() retry.Backoff {
	base := e.cfg.Retry.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxAttempts := e.cfg.Retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return retry.WithMaxRetries(maxAttempts, retry.NewFibonacci(base))
}

// retryable reports whether an error is worth retrying within the cycle.
// Cancellation and deadline expiry are terminal: the cycle is over.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func fail(res *core.SourceResult, err error) *core.SourceResult {
	res.Status = core.SourceStatusFailed
	res.Error = err.Error()
	return res
}
