package engine

import "github.com/scaupdb/scaup/internal/revtree"

// LocalPrefix is the well-known marker that routes an id to local_store
// instead of doc_store/by_seq_store/the change feed.
const LocalPrefix = "_local/"

// IsLocalID reports whether id is a local-document id.
func IsLocalID(id string) bool {
	return len(id) >= len(LocalPrefix) && id[:len(LocalPrefix)] == LocalPrefix
}

// Attachment is one attachment as it appears in a document body, either
// inline (Data set, Stub false) or as a stub reference to existing
// content (Stub true, Data nil).
type Attachment struct {
	ContentType string `json:"content_type,omitempty"`
	Digest      string `json:"digest,omitempty"`
	Length      int64  `json:"length,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
	Data        string `json:"data,omitempty"` // base64, inline bodies only
}

// Doc is a user-supplied document as given to BulkWrite: the raw id/rev
// plus arbitrary fields captured in Body, and any declared attachments.
type Doc struct {
	ID          string
	Rev         string // regular docs: read only when NewEdits is false; local docs: the current rev being replaced
	Deleted     bool
	Body        map[string]interface{}
	Attachments map[string]Attachment
}

// Metadata is the per-document row stored in doc_store: the revision
// tree plus the memoized winning-revision derivations. This is exactly
// spec.md §3's "{id, rev_tree, rev_map, winningRev?, deleted?, seq?}".
type Metadata struct {
	ID         string           `json:"id"`
	RevTree    revtree.Tree     `json:"rev_tree"`
	RevMap     map[string]int64 `json:"rev_map"`
	WinningRev string           `json:"winningRev,omitempty"`
	Deleted    bool             `json:"deleted,omitempty"`
	Seq        int64            `json:"seq,omitempty"`
}

// clone returns a deep-enough copy of m for use in the per-call cache:
// RevTree and RevMap are copied so that mutating the clone never
// touches a value another goroutine might still be reading.
func (m Metadata) clone() Metadata {
	tree := make(revtree.Tree, len(m.RevTree))
	for k, v := range m.RevTree {
		tree[k] = v
	}

	revMap := make(map[string]int64, len(m.RevMap))
	for k, v := range m.RevMap {
		revMap[k] = v
	}

	m.RevTree = tree
	m.RevMap = revMap

	return m
}

// Result is one positional outcome of a BulkWrite call.
type Result struct {
	OK    bool
	ID    string
	Rev   string
	Error error
}

// AttachmentRefs is the attach_store row shape: back-references from a
// content digest to every "<docid>@<rev>" that still points at it.
type AttachmentRefs struct {
	Refs map[string]bool `json:"refs,omitempty"`
}
