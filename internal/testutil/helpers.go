package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"TaniLedger/internal/observability"
	"TaniLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// TestDatabaseURL returns the Postgres DSN for integration tests, or "" when
// integration tests are disabled.
func TestDatabaseURL() string {
	return os.Getenv("TANI_TEST_DATABASE_URL")
}

// TestNATSURL returns the NATS URL for integration tests, or "".
func TestNATSURL() string {
	return os.Getenv("TANI_TEST_NATS_URL")
}

// RequireNATS skips the test unless TANI_TEST_NATS_URL is set.
func RequireNATS(t *testing.T) string {
	t.Helper()
	url := TestNATSURL()
	if url == "" {
		t.Skip("skipping NATS integration test (set TANI_TEST_NATS_URL to run)")
	}
	return url
}

// SetupTestDB opens the integration database, applies migrations and
// truncates every table on cleanup. Skips when TANI_TEST_DATABASE_URL is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := TestDatabaseURL()
	if dsn == "" {
		t.Skip("skipping postgres integration test (set TANI_TEST_DATABASE_URL to run)")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}

	// The migrator owns and closes its own handle
	migrateDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open migration db: %v", err)
	}
	migrator, err := persistence.NewMigrator(migrateDB, zerolog.Nop())
	if err != nil {
		t.Fatalf("init migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	migrator.Close()

	t.Cleanup(func() {
		tables := []string{
			"event_log.journals",
			"event_log.events",
			"event_log.snapshots",
			"projections.assets",
			"projections.farmlands",
			"projections.holdings",
			"projections.listings",
			"projections.loans",
			"projections.cash_balances",
			"projections.watermark",
		}
		for _, table := range tables {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		db.Close()
	})

	return db
}

// TestMetrics returns an unregistered metric set.
func TestMetrics() *observability.Metrics {
	return observability.NewMetrics(nil)
}
