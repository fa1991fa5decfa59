// Package storage persists aircraft state rows in an append-only table and
// reads back the freshest row per aircraft.
//
// Three backends share one contract: ClickHouse for the hosted analytical
// store, PostgreSQL, and SQLite for local runs and tests. The backend is
// chosen from the DSN scheme.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"flight_tracker/internal/state"
)

// ErrUnavailable is returned when the store cannot be reached or a read or
// write against it fails.
var ErrUnavailable = errors.New("store unavailable")

const (
	tableName = "entity_states"
	runsTable = "ingest_runs"
)

// Store is an append-only log of EntityState rows. There is deliberately no
// update or delete.
type Store interface {
	// EnsureSchema creates the tables if missing. It is idempotent and leaves
	// extra columns in an existing table alone.
	EnsureSchema(ctx context.Context) error

	// AppendBatch writes every row of b or none of them. Appending a batch
	// whose RunID was already applied is a no-op.
	AppendBatch(ctx context.Context, b Batch) error

	// LatestStates returns at most one row per entity: the freshest one by
	// ingested_at, then source_timestamp, seq and run_id. A store that was
	// never written to returns no rows and no error.
	LatestStates(ctx context.Context) ([]state.EntityState, error)

	// MaxIngestedAt returns the newest ingested_at in the store, or nil.
	MaxIngestedAt(ctx context.Context) (*time.Time, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int64, error)

	Close() error
}

// Batch is the output of one ingestion run. All rows share IngestedAt and
// RunID; each row's Seq is its index in Rows.
type Batch struct {
	RunID      string
	IngestedAt time.Time
	Rows       []state.EntityState
}

// Validate checks the batch header.
func (b Batch) Validate() error {
	if b.RunID == "" {
		return errors.New("batch has no run id")
	}
	if b.IngestedAt.IsZero() {
		return errors.New("batch has no ingested_at")
	}
	return nil
}

// Stamped returns copies of the rows carrying the batch stamp.
func (b Batch) Stamped() []state.EntityState {
	ts := b.IngestedAt.UTC().Truncate(time.Millisecond)
	out := make([]state.EntityState, len(b.Rows))
	for i, r := range b.Rows {
		r.IngestedAt = ts
		r.RunID = b.RunID
		r.Seq = i
		out[i] = r
	}
	return out
}

// Opener acquires a store connection. Callers close what they open.
type Opener func(ctx context.Context) (Store, error)

// DSNOpener returns an Opener for dsn.
func DSNOpener(dsn string) Opener {
	return func(ctx context.Context) (Store, error) {
		return Open(ctx, dsn)
	}
}

// Backend names.
const (
	BackendClickHouse = "clickhouse"
	BackendPostgres   = "postgres"
	BackendSQLite     = "sqlite"
)

// CheckDSN reports which backend serves dsn without connecting.
func CheckDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", errors.New("empty store dsn")
	}
	switch {
	case strings.HasPrefix(dsn, "clickhouse://"):
		return BackendClickHouse, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return BackendPostgres, nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		return BackendSQLite, nil
	}
	return "", fmt.Errorf("unsupported store dsn scheme: %q", Redact(dsn))
}

// Open connects to the backend named by the DSN scheme.
func Open(ctx context.Context, dsn string) (Store, error) {
	backend, err := CheckDSN(dsn)
	if err != nil {
		return nil, err
	}

	var s Store
	switch backend {
	case BackendClickHouse:
		s, err = OpenClickHouse(ctx, dsn)
	case BackendPostgres:
		s, err = OpenPostgres(ctx, dsn)
	default:
		s, err = OpenSQLite(sqlitePath(dsn))
	}
	if err != nil {
		return nil, unavailable("open "+backend, err)
	}
	return s, nil
}

// Redact hides the password of a URL-style DSN for logging.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
