package engine

import (
	"encoding/base64"
	"testing"
)

func TestBulkWriteInlineAttachmentRoundTrips(t *testing.T) {
	db := newTestDB(t)

	body := []byte("hello world")
	encoded := base64.StdEncoding.EncodeToString(body)

	mustWrite(t, db, Doc{
		ID:   "doc1",
		Body: map[string]interface{}{},
		Attachments: map[string]Attachment{
			"greeting.txt": {ContentType: "text/plain", Data: encoded},
		},
	})

	got, err := db.Get("doc1", GetOptions{Attachments: true})
	if err != nil {
		t.Fatal(err)
	}

	atts, ok := got.Doc.Body["_attachments"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected _attachments in body, got %+v", got.Doc.Body)
	}

	entry := atts["greeting.txt"].(map[string]interface{})
	if entry["data"].(string) != encoded {
		t.Fatalf("hydrated attachment data = %q, want %q", entry["data"], encoded)
	}
}

func TestBulkWriteStubReferencesExistingDigest(t *testing.T) {
	db := newTestDB(t)

	body := []byte("shared bytes")
	encoded := base64.StdEncoding.EncodeToString(body)

	mustWrite(t, db, Doc{
		ID:          "doc1",
		Body:        map[string]interface{}{},
		Attachments: map[string]Attachment{"a.txt": {Data: encoded}},
	})

	digest := digestOf(body)

	mustWrite(t, db, Doc{
		ID:          "doc2",
		Body:        map[string]interface{}{},
		Attachments: map[string]Attachment{"a.txt": {Stub: true, Digest: digest}},
	})

	raw, err := db.GetAttachment(digest)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != string(body) {
		t.Fatalf("GetAttachment returned %q, want %q", raw, body)
	}
}

func TestCompactionReclaimsOrphanedAttachment(t *testing.T) {
	db := newTestDB(t)

	body := []byte("to be reclaimed")
	encoded := base64.StdEncoding.EncodeToString(body)
	digest := digestOf(body)

	r1 := mustWrite(t, db, Doc{
		ID:          "doc1",
		Body:        map[string]interface{}{},
		Attachments: map[string]Attachment{"a.txt": {Data: encoded}},
	})

	// Overwrite the document without referencing the attachment, then
	// compact away the superseded revision.
	mustWrite(t, db, Doc{ID: "doc1", Body: map[string]interface{}{"v": 2}})

	if err := db.Compact("doc1", []string{r1[0].Rev}, CompactOptions{}); err != nil {
		t.Fatal(err)
	}

	raw, err := db.GetAttachment(digest)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 0 {
		t.Fatalf("expected attachment body to be reclaimed, got %d bytes", len(raw))
	}
}

func TestHashAttachmentsRejectsStubWithoutDigest(t *testing.T) {
	_, err := hashAttachments(map[string]Attachment{"f.txt": {Stub: true}})
	if err == nil {
		t.Fatal("expected error for a stub attachment with no digest")
	}
}

func TestDigestOfIsStableAndPrefixed(t *testing.T) {
	d := digestOf([]byte("x"))
	if len(d) < 4 || d[:4] != "md5-" {
		t.Fatalf("digest %q missing md5- prefix", d)
	}
	if digestOf([]byte("x")) != d {
		t.Fatal("digestOf is not deterministic")
	}
}
