// Package dbtest opens the test database for repository tests.
package dbtest

import (
	"database/sql"
	"os"
	"testing"

	"hotspot-control-plane/backend/internal/db"
	"hotspot-control-plane/backend/internal/db/migrate"
)

// New migrates the database at DATABASE_URL, empties every table and returns a handle
// closed on cleanup. The test is skipped when DATABASE_URL is unset.
func New(t testing.TB) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres test")
	}
	if err := migrate.Run(dsn, migrate.DirectionUp); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := conn.Exec(`TRUNCATE audit_logs, payments, sessions, accounts`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn
}
