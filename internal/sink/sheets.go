package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

const defaultMaxRowsPerBatch = 500

// SheetsConfig configures the spreadsheet append endpoint.
type SheetsConfig struct {
	// Endpoint is the full URL of the append-rows API.
	Endpoint string

	// SpreadsheetID identifies the destination spreadsheet.
	SpreadsheetID string

	// APIToken, when set, is sent as a bearer token.
	APIToken string

	// MaxRowsPerBatch bounds chunk size; the endpoint rejects oversized
	// batches.
	MaxRowsPerBatch int
}

// SheetsSink appends rows to a spreadsheet over HTTP. Logical batches are
// split into size-bounded chunks transparently to the caller.
type SheetsSink struct {
	cfg    SheetsConfig
	client *http.Client
	logger *slog.Logger
}

// NewSheets creates a new tabular sink. If logger is nil, a discard logger
// is used.
func NewSheets(cfg SheetsConfig, logger *slog.Logger) *SheetsSink {
	if cfg.MaxRowsPerBatch <= 0 {
		cfg.MaxRowsPerBatch = defaultMaxRowsPerBatch
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SheetsSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type appendRequest struct {
	SpreadsheetID string     `json:"spreadsheet_id"`
	Range         string     `json:"range"`
	Values        [][]string `json:"values"`
}

// AppendRows appends the batch in order, one chunk at a time. It stops at
// the first failed chunk: appending later chunks ahead of failed rows would
// break row order once the failed rows are retried.
func (s *SheetsSink) AppendRows(ctx context.Context, table string, rows []core.ProjectedRow) []ChunkResult {
	var results []ChunkResult
	for start := 0; start < len(rows); start += s.cfg.MaxRowsPerBatch {
		end := min(start+s.cfg.MaxRowsPerBatch, len(rows))
		err := s.appendChunk(ctx, table, rows[start:end])
		results = append(results, ChunkResult{Start: start, End: end, Err: err})
		if err != nil {
			s.logger.Warn("chunk append failed",
				slog.String("range", table), slog.Int("start", start), slog.Int("end", end),
				slog.Any("error", err))
			break
		}
	}
	return results
}

func (s *SheetsSink) appendChunk(ctx context.Context, table string, rows []core.ProjectedRow) error {
	values := make([][]string, len(rows))
	for i, r := range rows {
		values[i] = []string(r)
	}

	body, err := json.Marshal(appendRequest{
		SpreadsheetID: s.cfg.SpreadsheetID,
		Range:         table,
		Values:        values,
	})
	if err != nil {
		return fmt.Errorf("failed to encode append request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("append rows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("append rows: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Ensure SheetsSink implements the Tabular interface.
var _ Tabular = (*SheetsSink)(nil)
