package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// identPattern restricts table names to plain SQL identifiers. Collection
// tables are operator-configured, but they still end up interpolated into
// the query text.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresSource queries record-store collections through database/sql
// using the pgx stdlib driver.
type PostgresSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new record-store source. If logger is nil, a discard logger
// is used.
func New(logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgresSource{logger: logger}
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB, logger *slog.Logger) *PostgresSource {
	s := New(logger)
	s.db = db
	return s
}

// Connect establishes a connection to the record store.
func (p *PostgresSource) Connect(ctx context.Context, cfg Config) error {
	dsn := buildDSN(cfg)

	p.logger.Debug("connecting to record store",
		slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open record store connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping record store: %w", err)
	}

	p.db = db
	return nil
}

// Close closes the record store connection.
func (p *PostgresSource) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// buildDSN constructs a key=value connection string.
func buildDSN(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.User != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.User)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
}

// ChangedSince returns every record in table whose change-timestamp is
// strictly greater than since, ordered ascending by (changed_at, id). The
// driver cursor pages internally; the caller sees one ordered sequence.
// Re-running with the same watermark reproduces the same records, modulo
// new writes. An empty result is success.
func (p *PostgresSource) ChangedSince(ctx context.Context, table string, since time.Time) ([]core.ChangeRecord, error) {
	if p.db == nil {
		return nil, fmt.Errorf("record store connection not established")
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid collection table name: %q", table)
	}

	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE changed_at > $1 ORDER BY changed_at, id`, table)

	rows, err := p.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", table, err)
	}

	var records []core.ChangeRecord
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table, err)
		}

		rec := core.ChangeRecord{Attrs: make(map[string]any, len(cols))}
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}

			switch col {
			case "id":
				rec.ID = fmt.Sprint(v)
			case "changed_at":
				t, ok := v.(time.Time)
				if !ok {
					return nil, fmt.Errorf("%s.changed_at is not a timestamp (got %T)", table, vals[i])
				}
				rec.ChangedAt = t.UTC()
			default:
				rec.Attrs[col] = v
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}

	p.logger.Debug("queried changed records",
		slog.String("table", table), slog.Time("since", since), slog.Int("count", len(records)))

	return records, nil
}

// Ensure PostgresSource implements the Querier interface.
var _ Querier = (*PostgresSource)(nil)
