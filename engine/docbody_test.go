package engine

import (
	"github.com/google/go-cmp/cmp"
	"testing"
)

func TestEncodeDecodeBodyRoundTrip(t *testing.T) {
	raw, err := encodeBody("doc1", "1-abc", false, map[string]interface{}{"color": "red"})
	if err != nil {
		t.Fatal(err)
	}

	stored, err := decodeBody(raw)
	if err != nil {
		t.Fatal(err)
	}

	if stored.ID != "doc1" || stored.Rev != "1-abc" || stored.Deleted {
		t.Fatalf("unexpected decode: %+v", stored)
	}

	if diff := cmp.Diff(map[string]interface{}{"color": "red"}, stored.Fields); diff != "" {
		t.Fatalf("Fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBodyStripsReservedKeys(t *testing.T) {
	raw, err := encodeBody("doc1", "1-abc", true, map[string]interface{}{"a": 1})
	if err != nil {
		t.Fatal(err)
	}

	stored, err := decodeBody(raw)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := stored.Fields[keyID]; ok {
		t.Fatal("_id leaked into Fields")
	}
	if _, ok := stored.Fields[keyRev]; ok {
		t.Fatal("_rev leaked into Fields")
	}
	if _, ok := stored.Fields[keyDeleted]; ok {
		t.Fatal("_deleted leaked into Fields")
	}
	if !stored.Deleted {
		t.Fatal("expected Deleted to be true")
	}
}

func TestEncodeBodyOmitsDeletedWhenFalse(t *testing.T) {
	raw, err := encodeBody("doc1", "1-abc", false, nil)
	if err != nil {
		t.Fatal(err)
	}

	var flat map[string]interface{}
	if err := unmarshalJSON(raw, &flat); err != nil {
		t.Fatal(err)
	}

	if _, ok := flat[keyDeleted]; ok {
		t.Fatal("_deleted should be omitted when false")
	}
}
