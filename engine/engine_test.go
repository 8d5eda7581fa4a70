package engine

import (
	"testing"

	"github.com/scaupdb/scaup/kv"
	"github.com/scaupdb/scaup/kv/memory"
)

// newTestDB opens a fresh in-memory database, isolated from every other
// test by way of its own driver and registry (the registry is keyed by
// (driver name, path), and every memory.Driver starts with no stores).
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(OpenOptions{
		Name:     t.Name(),
		Driver:   memory.NewDriver(),
		Path:     "test",
		Registry: kv.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func mustWrite(t *testing.T, db *DB, docs ...Doc) []Result {
	t.Helper()

	results, err := db.BulkWrite(WriteRequest{Docs: docs, NewEdits: true})
	if err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}

	for _, r := range results {
		if !r.OK {
			t.Fatalf("write of %s failed: %v", r.ID, r.Error)
		}
	}

	return results
}
