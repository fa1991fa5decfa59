package storage

import (
	"context"
	"os"
	"testing"
)

// setupTestPostgres connects to FLIGHT_TRACKER_TEST_POSTGRES_DSN and drops the
// tables. Returns nil if no PostgreSQL connection is available.
func setupTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	dsn := os.Getenv("FLIGHT_TRACKER_TEST_POSTGRES_DSN")
	if dsn == "" {
		return nil
	}

	ctx := context.Background()
	pg, err := OpenPostgres(ctx, dsn)
	if err != nil {
		return nil
	}
	if _, err := pg.pool.Exec(ctx, `DROP TABLE IF EXISTS entity_states; DROP TABLE IF EXISTS ingest_runs`); err != nil {
		pg.Close()
		return nil
	}
	return pg
}

func TestPostgresStore(t *testing.T) {
	if pg := setupTestPostgres(t); pg == nil {
		t.Skip("No PostgreSQL connection available")
	} else {
		pg.Close()
	}

	runStoreSuite(t, func(t *testing.T) Store {
		pg := setupTestPostgres(t)
		if pg == nil {
			t.Fatal("PostgreSQL went away")
		}
		t.Cleanup(func() { _ = pg.Close() })
		return pg
	})
}
