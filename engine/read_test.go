package engine

import (
	"testing"
)

func seedDocs(t *testing.T, db *DB, ids ...string) {
	t.Helper()

	docs := make([]Doc, len(ids))
	for i, id := range ids {
		docs[i] = Doc{ID: id, Body: map[string]interface{}{"id": id}}
	}

	mustWrite(t, db, docs...)
}

func TestGetUnknownIDReturnsMissing(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.Get("nope", GetOptions{}); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestGetExplicitRevBypassesDeletedCheck(t *testing.T) {
	db := newTestDB(t)

	r1 := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{"v": 1}})
	mustWrite(t, db, Doc{ID: "doc1", Rev: r1[0].Rev, Deleted: true, Body: map[string]interface{}{}})

	// Winning rev is now a tombstone.
	if _, err := db.Get("doc1", GetOptions{}); err == nil {
		t.Fatal("expected winning-rev get of a deleted doc to fail")
	}

	// The old revision is still retrievable by explicit rev.
	got, err := db.Get("doc1", GetOptions{Rev: r1[0].Rev})
	if err != nil {
		t.Fatalf("explicit-rev get failed: %v", err)
	}
	if got.Doc.Body["v"].(float64) != 1 {
		t.Fatalf("unexpected body for explicit rev: %+v", got.Doc.Body)
	}
}

func TestAllDocsOrderingAndTotalRows(t *testing.T) {
	db := newTestDB(t)
	seedDocs(t, db, "a", "b", "c")

	result, err := db.AllDocs(AllDocsOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalRows != 3 {
		t.Fatalf("TotalRows = %d, want 3", result.TotalRows)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3", len(result.Rows))
	}
	if result.Rows[0].ID != "a" || result.Rows[2].ID != "c" {
		t.Fatalf("unexpected order: %v", result.Rows)
	}
}

func TestAllDocsDescending(t *testing.T) {
	db := newTestDB(t)
	seedDocs(t, db, "a", "b", "c")

	result, err := db.AllDocs(AllDocsOptions{Descending: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 3 || result.Rows[0].ID != "c" || result.Rows[2].ID != "a" {
		t.Fatalf("unexpected descending order: %v", result.Rows)
	}
}

func TestAllDocsSkipAndLimit(t *testing.T) {
	db := newTestDB(t)
	seedDocs(t, db, "a", "b", "c", "d")

	result, err := db.AllDocs(AllDocsOptions{Skip: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 2 || result.Rows[0].ID != "b" || result.Rows[1].ID != "c" {
		t.Fatalf("unexpected rows: %v", result.Rows)
	}
}

func TestAllDocsExcludesDeletedByDefault(t *testing.T) {
	db := newTestDB(t)

	r1 := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{}})
	mustWrite(t, db, Doc{ID: "doc1", Rev: r1[0].Rev, Deleted: true, Body: map[string]interface{}{}})
	seedDocs(t, db, "doc2")

	result, err := db.AllDocs(AllDocsOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 1 || result.Rows[0].ID != "doc2" {
		t.Fatalf("expected only the non-deleted doc, got %v", result.Rows)
	}
}

func TestAllDocsIncludeDeletedOK(t *testing.T) {
	db := newTestDB(t)

	r1 := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{}})
	mustWrite(t, db, Doc{ID: "doc1", Rev: r1[0].Rev, Deleted: true, Body: map[string]interface{}{}})

	result, err := db.AllDocs(AllDocsOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 1 || !result.Rows[0].Deleted {
		t.Fatalf("expected the deleted row to be included, got %v", result.Rows)
	}
}

func TestAllDocsInclusiveEndFalseExcludesEndKey(t *testing.T) {
	db := newTestDB(t)
	seedDocs(t, db, "a", "b", "c")

	result, err := db.AllDocs(AllDocsOptions{
		StartKey:        []byte("a"),
		EndKey:          []byte("b"),
		InclusiveEndSet: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 1 || result.Rows[0].ID != "a" {
		t.Fatalf("expected only 'a' with inclusive_end=false, got %v", result.Rows)
	}
}

func TestAllDocsLimitZeroBoundary(t *testing.T) {
	db := newTestDB(t)
	seedDocs(t, db, "a", "b")

	result, err := db.AllDocs(AllDocsOptions{Limit: 0, LimitZero: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("expected no rows for limit:0, got %v", result.Rows)
	}
	if result.TotalRows != 2 {
		t.Fatalf("TotalRows = %d, want 2 even with limit:0", result.TotalRows)
	}
}

func TestAllDocsIncludeDocsHydratesBody(t *testing.T) {
	db := newTestDB(t)
	seedDocs(t, db, "a")

	result, err := db.AllDocs(AllDocsOptions{IncludeDocs: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if result.Rows[0].Doc.Body["id"].(string) != "a" {
		t.Fatalf("unexpected hydrated doc body: %+v", result.Rows[0].Doc.Body)
	}
}
