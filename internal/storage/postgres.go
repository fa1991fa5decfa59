package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"flight_tracker/internal/state"
)

// PostgresDB wraps a PostgreSQL connection pool.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL. The pool is small: a
// store is opened for one ingestion run or one resolver fetch.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 4
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() error {
	d.pool.Close()
	return nil
}

// EnsureSchema creates the PostgreSQL tables.
func (d *PostgresDB) EnsureSchema(ctx context.Context) error {
	schema := `
	-- Append-only aircraft state log.
	CREATE TABLE IF NOT EXISTS entity_states (
		entity_id           TEXT NOT NULL CHECK (entity_id <> ''),
		callsign            TEXT,
		origin_label        TEXT NOT NULL DEFAULT 'Unknown',
		latitude            DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
		longitude           DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
		altitude            DOUBLE PRECISION,
		velocity            DOUBLE PRECISION,
		heading             DOUBLE PRECISION,
		vertical_rate       DOUBLE PRECISION,
		ground_flag         BOOLEAN NOT NULL DEFAULT FALSE,
		status_code         TEXT,
		source_timestamp    TIMESTAMPTZ,
		ingested_at         TIMESTAMPTZ NOT NULL,
		run_id              TEXT NOT NULL DEFAULT '',
		seq                 INTEGER NOT NULL DEFAULT 0
	);

	-- Older tables predate run tracking.
	ALTER TABLE entity_states ADD COLUMN IF NOT EXISTS run_id TEXT NOT NULL DEFAULT '';
	ALTER TABLE entity_states ADD COLUMN IF NOT EXISTS seq INTEGER NOT NULL DEFAULT 0;

	CREATE INDEX IF NOT EXISTS idx_entity_states_latest ON entity_states(entity_id, ingested_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entity_states_ingested ON entity_states(ingested_at);

	-- One row per applied ingestion run.
	CREATE TABLE IF NOT EXISTS ingest_runs (
		run_id          TEXT PRIMARY KEY,
		ingested_at     TIMESTAMPTZ NOT NULL,
		row_count       INTEGER NOT NULL
	);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return unavailable("create schema", err)
	}
	return nil
}

var pgColumns = []string{
	"entity_id", "callsign", "origin_label", "latitude", "longitude",
	"altitude", "velocity", "heading", "vertical_rate", "ground_flag",
	"status_code", "source_timestamp", "ingested_at", "run_id", "seq",
}

// AppendBatch copies the batch inside one transaction. The run id insert
// comes first; if it conflicts the run was already applied.
func (d *PostgresDB) AppendBatch(ctx context.Context, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO ingest_runs (run_id, ingested_at, row_count) VALUES ($1, $2, $3) ON CONFLICT (run_id) DO NOTHING`,
		b.RunID, b.IngestedAt.UTC(), len(b.Rows))
	if err != nil {
		return unavailable("record run", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	rows := b.Stamped()
	_, err = tx.CopyFrom(ctx, pgx.Identifier{tableName}, pgColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				r.EntityID, r.Callsign, r.OriginLabel, r.Latitude, r.Longitude,
				r.Altitude, r.Velocity, r.Heading, r.VerticalRate, r.OnGround,
				r.StatusCode, r.SourceTimestamp, r.IngestedAt, r.RunID, int32(r.Seq),
			}, nil
		}))
	if err != nil {
		return unavailable("copy batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit batch", err)
	}
	return nil
}

// LatestStates picks one row per entity with DISTINCT ON.
func (d *PostgresDB) LatestStates(ctx context.Context) ([]state.EntityState, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT ON (entity_id)
			entity_id, callsign, origin_label, latitude, longitude, altitude, velocity, heading,
			vertical_rate, ground_flag, status_code, source_timestamp, ingested_at, run_id, seq
		FROM entity_states
		WHERE entity_id <> ''
		ORDER BY entity_id, ingested_at DESC, source_timestamp DESC NULLS LAST, seq DESC, run_id DESC
	`)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, unavailable("query latest states", err)
	}
	defer rows.Close()

	var out []state.EntityState
	for rows.Next() {
		var (
			r   state.EntityState
			seq int32
		)
		if err := rows.Scan(&r.EntityID, &r.Callsign, &r.OriginLabel, &r.Latitude, &r.Longitude,
			&r.Altitude, &r.Velocity, &r.Heading, &r.VerticalRate, &r.OnGround, &r.StatusCode,
			&r.SourceTimestamp, &r.IngestedAt, &r.RunID, &seq); err != nil {
			return nil, unavailable("scan latest state", err)
		}
		r.Seq = int(seq)
		r.IngestedAt = r.IngestedAt.UTC()
		if r.SourceTimestamp != nil {
			ts := r.SourceTimestamp.UTC()
			r.SourceTimestamp = &ts
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, unavailable("read latest states", err)
	}
	return out, nil
}

// MaxIngestedAt returns the newest batch stamp.
func (d *PostgresDB) MaxIngestedAt(ctx context.Context) (*time.Time, error) {
	var ts *time.Time
	if err := d.pool.QueryRow(ctx, `SELECT MAX(ingested_at) FROM entity_states`).Scan(&ts); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, unavailable("query max ingested_at", err)
	}
	if ts != nil {
		utc := ts.UTC()
		ts = &utc
	}
	return ts, nil
}

// Count returns the number of stored rows.
func (d *PostgresDB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entity_states`).Scan(&n); err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, unavailable("count rows", err)
	}
	return n, nil
}

// isUndefinedTable matches SQLSTATE 42P01.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
