// Package testing provides shared database helpers for qac tests.
package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/qacompanion/qac/db"
)

// CreateTestDB creates an in-memory SQLite test database with the full qac
// schema applied. Automatically registers cleanup via t.Cleanup().
// Skips the test when the driver build lacks the sqlite-vec module.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// A second pooled connection would see its own empty in-memory database.
	database.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	var vecVersion string
	if err := database.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		database.Close()
		t.Skipf("sqlite-vec module unavailable in this build: %v", err)
	}

	if err := db.Migrate(database, nil); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	// Register cleanup
	t.Cleanup(func() {
		database.Close()
	})

	return database
}
