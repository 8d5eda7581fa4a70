package engine

import (
	"errors"
	"testing"
)

func TestBulkWriteFreshDocAssignsFirstRev(t *testing.T) {
	db := newTestDB(t)

	results := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{"a": 1}})

	if results[0].Rev == "" {
		t.Fatal("expected a rev to be assigned")
	}

	got, err := db.Get("doc1", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Doc.Rev != results[0].Rev {
		t.Fatalf("Get returned rev %q, want %q", got.Doc.Rev, results[0].Rev)
	}
	if got.Doc.Body["a"].(float64) != 1 {
		t.Fatalf("unexpected body: %+v", got.Doc.Body)
	}
}

func TestBulkWriteUpdateSeqAndDocCount(t *testing.T) {
	db := newTestDB(t)

	mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{}})
	mustWrite(t, db, Doc{ID: "doc2", Body: map[string]interface{}{}})

	info, err := db.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 2 {
		t.Fatalf("DocCount = %d, want 2", info.DocCount)
	}
	if info.UpdateSeq != 2 {
		t.Fatalf("UpdateSeq = %d, want 2", info.UpdateSeq)
	}
}

func TestBulkWriteSecondRevisionExtendsTree(t *testing.T) {
	db := newTestDB(t)

	r1 := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{"v": 1}})
	r2 := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{"v": 2}})

	if r2[0].Rev == r1[0].Rev {
		t.Fatal("expected second write to produce a new rev")
	}

	got, err := db.Get("doc1", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Doc.Body["v"].(float64) != 2 {
		t.Fatalf("expected winning rev to carry the latest body, got %+v", got.Doc.Body)
	}

	tree, err := db.GetRevisionTree("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected 2 nodes in rev tree, got %d", len(tree))
	}
}

func TestBulkWriteIdempotenceGuardSkipsDuplicateRev(t *testing.T) {
	db := newTestDB(t)

	r1, err := db.BulkWrite(WriteRequest{
		Docs:     []Doc{{ID: "doc1", Rev: "1-fixed", Body: map[string]interface{}{"v": 1}}},
		NewEdits: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r1[0].OK {
		t.Fatalf("first write failed: %v", r1[0].Error)
	}

	before, err := db.Info()
	if err != nil {
		t.Fatal(err)
	}

	r2, err := db.BulkWrite(WriteRequest{
		Docs:     []Doc{{ID: "doc1", Rev: "1-fixed", Body: map[string]interface{}{"v": 1}}},
		NewEdits: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r2[0].OK || r2[0].Rev != "1-fixed" {
		t.Fatalf("expected a successful no-op result, got %+v", r2[0])
	}

	after, err := db.Info()
	if err != nil {
		t.Fatal(err)
	}
	if after.UpdateSeq != before.UpdateSeq {
		t.Fatalf("duplicate rev write should not advance update_seq: before=%d after=%d", before.UpdateSeq, after.UpdateSeq)
	}
}

func TestBulkWriteDeleteDecrementsDocCount(t *testing.T) {
	db := newTestDB(t)

	r1 := mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{}})

	mustWrite(t, db, Doc{ID: "doc1", Rev: r1[0].Rev, Deleted: true, Body: map[string]interface{}{}})

	info, err := db.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 0 {
		t.Fatalf("DocCount = %d, want 0 after delete", info.DocCount)
	}

	if _, err := db.Get("doc1", GetOptions{}); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected Get of deleted doc to report missing, got %v", err)
	}
}

func TestBulkWriteNewEditsFalseRequiresExplicitRev(t *testing.T) {
	db := newTestDB(t)

	results, err := db.BulkWrite(WriteRequest{
		Docs:     []Doc{{ID: "doc1", Body: map[string]interface{}{}}},
		NewEdits: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].OK {
		t.Fatal("expected failure: new_edits=false with no rev supplied")
	}
	if !errors.Is(results[0].Error, ErrBadArgument) {
		t.Fatalf("expected ErrBadArgument, got %v", results[0].Error)
	}
}

func TestBulkWriteConflictingBranchesBothLiveAsLeaves(t *testing.T) {
	db := newTestDB(t)

	r1, err := db.BulkWrite(WriteRequest{
		Docs:     []Doc{{ID: "doc1", Rev: "1-branch-a", Body: map[string]interface{}{"v": "a"}}},
		NewEdits: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r1[0].OK {
		t.Fatalf("first branch write failed: %v", r1[0].Error)
	}

	results, err := db.BulkWrite(WriteRequest{
		Docs:     []Doc{{ID: "doc1", Rev: "1-branch-b", Body: map[string]interface{}{"v": "b"}}},
		NewEdits: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].OK {
		t.Fatalf("second branch write failed: %v", results[0].Error)
	}

	got, err := db.Get("doc1", GetOptions{Conflicts: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Conflicts) != 1 {
		t.Fatalf("expected exactly one conflicting leaf, got %v", got.Conflicts)
	}
}

func TestBulkWriteMissingStubFailsWholeBatch(t *testing.T) {
	db := newTestDB(t)

	results, err := db.BulkWrite(WriteRequest{
		Docs: []Doc{{
			ID:          "doc1",
			Body:        map[string]interface{}{},
			Attachments: map[string]Attachment{"f.txt": {Stub: true, Digest: "md5-doesnotexist"}},
		}},
		NewEdits: true,
	})
	if !errors.Is(err, ErrMissingStub) {
		t.Fatalf("expected the batch to fail with ErrMissingStub, got %v", err)
	}
	if results != nil {
		t.Fatalf("expected no per-doc results for a failed batch, got %+v", results)
	}

	info, err := db.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.UpdateSeq != 0 {
		t.Fatalf("UpdateSeq = %d, want 0 after a rejected batch", info.UpdateSeq)
	}
}

func TestBulkWriteLocalDocRidesAlongside(t *testing.T) {
	db := newTestDB(t)

	results, err := db.BulkWrite(WriteRequest{
		Docs: []Doc{
			{ID: "doc1", Body: map[string]interface{}{}},
			{ID: "_local/config", Body: map[string]interface{}{"x": 1}},
		},
		NewEdits: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if !r.OK {
			t.Fatalf("write of %s failed: %v", r.ID, r.Error)
		}
	}
	if results[1].Rev != "0-1" {
		t.Fatalf("local doc rev = %q, want 0-1", results[1].Rev)
	}

	info, err := db.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 1 {
		t.Fatalf("DocCount = %d, want 1 (local docs do not count)", info.DocCount)
	}
}
