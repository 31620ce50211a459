// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/db"
)

// DB returns a migrated SQLite database living in t's temp dir.
func DB(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := db.Init("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	err = db.RunMigrations(context.Background(), conn.DB, "sqlite")
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return conn
}
