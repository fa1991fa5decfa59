package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flight_tracker/internal/state"
)

// SQLiteDB is the local single-file backend. Timestamps are stored as unix
// milliseconds so they order numerically.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection keeps :memory: databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func sqlitePath(dsn string) string {
	return strings.TrimPrefix(dsn, "sqlite://")
}

// Close closes the database connection.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

// EnsureSchema creates the tables and indices.
func (d *SQLiteDB) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entity_states (
		entity_id TEXT NOT NULL CHECK (entity_id <> ''),
		callsign TEXT,
		origin_label TEXT NOT NULL DEFAULT 'Unknown',
		latitude REAL NOT NULL CHECK (latitude BETWEEN -90 AND 90),
		longitude REAL NOT NULL CHECK (longitude BETWEEN -180 AND 180),
		altitude REAL,
		velocity REAL,
		heading REAL,
		vertical_rate REAL,
		ground_flag INTEGER NOT NULL DEFAULT 0,
		status_code TEXT,
		source_timestamp INTEGER,
		ingested_at INTEGER NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entity_states_entity ON entity_states(entity_id, ingested_at);
	CREATE INDEX IF NOT EXISTS idx_entity_states_ingested ON entity_states(ingested_at);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		run_id TEXT PRIMARY KEY,
		ingested_at INTEGER NOT NULL,
		row_count INTEGER NOT NULL
	);
	`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return unavailable("create schema", err)
	}

	// Run migrations for tables created before runs were tracked.
	if err := d.migrateSchema(ctx); err != nil {
		return unavailable("migrate schema", err)
	}
	return nil
}

// migrateSchema adds columns missing from older entity_states tables.
func (d *SQLiteDB) migrateSchema(ctx context.Context) error {
	migrations := []struct {
		column string
		stmt   string
	}{
		{"run_id", `ALTER TABLE entity_states ADD COLUMN run_id TEXT NOT NULL DEFAULT ''`},
		{"seq", `ALTER TABLE entity_states ADD COLUMN seq INTEGER NOT NULL DEFAULT 0`},
	}

	for _, m := range migrations {
		var count int
		err := d.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info('entity_states') WHERE name = ?`, m.column).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if _, err := d.db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("add column %s: %w", m.column, err)
		}
	}
	return nil
}

// AppendBatch inserts the batch in one transaction, recording the run id
// first so a replayed run changes nothing.
func (d *SQLiteDB) AppendBatch(ctx context.Context, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_runs (run_id, ingested_at, row_count) VALUES (?, ?, ?) ON CONFLICT(run_id) DO NOTHING`,
		b.RunID, toMillis(b.IngestedAt), len(b.Rows))
	if err != nil {
		return unavailable("record run", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return unavailable("record run", err)
	} else if n == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_states (entity_id, callsign, origin_label, latitude, longitude, altitude, velocity, heading, vertical_rate, ground_flag, status_code, source_timestamp, ingested_at, run_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return unavailable("prepare insert", err)
	}
	defer stmt.Close()

	for _, r := range b.Stamped() {
		var srcTS any
		if r.SourceTimestamp != nil {
			srcTS = toMillis(*r.SourceTimestamp)
		}
		_, err := stmt.ExecContext(ctx,
			r.EntityID, r.Callsign, r.OriginLabel, r.Latitude, r.Longitude,
			r.Altitude, r.Velocity, r.Heading, r.VerticalRate, r.OnGround,
			r.StatusCode, srcTS, toMillis(r.IngestedAt), r.RunID, r.Seq)
		if err != nil {
			return unavailable(fmt.Sprintf("insert row %d (%s)", r.Seq, r.EntityID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit batch", err)
	}
	return nil
}

// LatestStates ranks rows per entity with a window function.
func (d *SQLiteDB) LatestStates(ctx context.Context) ([]state.EntityState, error) {
	if ok, err := d.hasTable(ctx); err != nil || !ok {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT entity_id, callsign, origin_label, latitude, longitude, altitude, velocity, heading, vertical_rate, ground_flag, status_code, source_timestamp, ingested_at, run_id, seq
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY entity_id
				ORDER BY ingested_at DESC, source_timestamp IS NULL, source_timestamp DESC, seq DESC, run_id DESC
			) AS rn
			FROM entity_states
			WHERE entity_id <> ''
		)
		WHERE rn = 1
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, unavailable("query latest states", err)
	}
	defer rows.Close()

	var out []state.EntityState
	for rows.Next() {
		var (
			r                                     state.EntityState
			callsign, status                      sql.NullString
			altitude, velocity, heading, vertical sql.NullFloat64
			srcTS                                 sql.NullInt64
			ingested                              int64
		)
		if err := rows.Scan(&r.EntityID, &callsign, &r.OriginLabel, &r.Latitude, &r.Longitude,
			&altitude, &velocity, &heading, &vertical, &r.OnGround, &status, &srcTS,
			&ingested, &r.RunID, &r.Seq); err != nil {
			return nil, unavailable("scan latest state", err)
		}
		r.Callsign = nullString(callsign)
		r.StatusCode = nullString(status)
		r.Altitude = nullFloat(altitude)
		r.Velocity = nullFloat(velocity)
		r.Heading = nullFloat(heading)
		r.VerticalRate = nullFloat(vertical)
		if srcTS.Valid {
			ts := fromMillis(srcTS.Int64)
			r.SourceTimestamp = &ts
		}
		r.IngestedAt = fromMillis(ingested)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read latest states", err)
	}
	return out, nil
}

// MaxIngestedAt returns the newest batch stamp.
func (d *SQLiteDB) MaxIngestedAt(ctx context.Context) (*time.Time, error) {
	if ok, err := d.hasTable(ctx); err != nil || !ok {
		return nil, err
	}

	var ms sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `SELECT MAX(ingested_at) FROM entity_states`).Scan(&ms); err != nil {
		return nil, unavailable("query max ingested_at", err)
	}
	if !ms.Valid {
		return nil, nil
	}
	ts := fromMillis(ms.Int64)
	return &ts, nil
}

// Count returns the number of stored rows.
func (d *SQLiteDB) Count(ctx context.Context) (int64, error) {
	if ok, err := d.hasTable(ctx); err != nil || !ok {
		return 0, err
	}

	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_states`).Scan(&n); err != nil {
		return 0, unavailable("count rows", err)
	}
	return n, nil
}

func (d *SQLiteDB) hasTable(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName).Scan(&n)
	if err != nil {
		return false, unavailable("inspect schema", err)
	}
	return n > 0, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
