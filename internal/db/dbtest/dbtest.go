// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"testing"

	"github.com/bartek5186/stocksync/internal/db"
)

// New returns a migrated in-memory SQLite handle (pure-Go driver, no cgo).
// A single connection keeps the :memory: database alive for the whole test.
func New(t testing.TB) *db.Handle {
	t.Helper()
	h, err := db.Open("sqlite-pure", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		t.Fatalf("test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := h.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}
