package engine

import (
	"bytes"

	"github.com/scaupdb/scaup/internal/revtree"
	"github.com/scaupdb/scaup/kv"
)

// GetOptions controls `get`, spec.md §4.F.
type GetOptions struct {
	// Rev requests a specific revision instead of the winning one; when
	// set, a deleted winner does not produce Missing("deleted").
	Rev         string
	Conflicts   bool
	Attachments bool
}

// GetResult is one document as returned by `get`: the decoded body plus
// its metadata, and (when requested) the list of conflicting revisions.
type GetResult struct {
	Doc       Doc
	Metadata  Metadata
	Conflicts []string
}

// Get implements `get`, spec.md §4.F, on a read slot.
func (db *DB) Get(id string, opts GetOptions) (GetResult, error) {
	if err := db.checkOpen(); err != nil {
		return GetResult{}, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		return db.getLocked(id, opts)
	})
	if err != nil {
		return GetResult{}, err
	}

	return result.(GetResult), nil
}

func (db *DB) getLocked(id string, opts GetOptions) (GetResult, error) {
	txn := NewTxn(db.backend)
	docStore := txn.NS(nsDocStore)
	bySeq := txn.NS(nsBySeqStore)

	meta, ok := db.metaC.get(id)
	if !ok {
		raw, err := docStore.Get([]byte(id))
		if err != nil {
			if isNotFound(err) {
				return GetResult{}, newMissing(ReasonMissing)
			}

			return GetResult{}, err
		}

		if err := unmarshalJSON(raw, &meta); err != nil {
			return GetResult{}, err
		}

		db.metaC.put(id, meta)
	}

	rev := opts.Rev
	if rev == "" {
		rev = meta.WinningRev

		if revtree.IsDeleted(meta.RevTree, rev) {
			return GetResult{}, newMissing(ReasonDeleted)
		}
	}

	seq, ok := meta.RevMap[rev]
	if !ok {
		return GetResult{}, newMissing(ReasonMissing)
	}

	stored, err := loadStoredDoc(bySeq, seq)
	if err != nil {
		if isNotFound(err) {
			return GetResult{}, newMissing(ReasonMissing)
		}

		return GetResult{}, err
	}

	if stored.ID != "" && stored.ID != meta.ID {
		return GetResult{}, errInvariant
	}
	if stored.Rev != "" && stored.Rev != rev {
		return GetResult{}, errInvariant
	}

	doc := Doc{ID: meta.ID, Rev: rev, Deleted: stored.Deleted, Body: stored.Fields}

	var conflicts []string
	if opts.Conflicts {
		conflicts = revtree.CollectConflicts(meta.RevTree, meta.WinningRev)
	}

	if opts.Attachments {
		if err := db.hydrateAttachments(txn, doc.Body); err != nil {
			return GetResult{}, err
		}
	}

	return GetResult{Doc: doc, Metadata: meta, Conflicts: conflicts}, nil
}

// hydrateAttachments fills in the inline base64 body of every entry in
// fields["_attachments"] that carries a digest, and marks the entry
// stub: false — spec.md §4.F's `attachments` option.
func (db *DB) hydrateAttachments(txn *Txn, fields map[string]interface{}) error {
	raw, ok := fields["_attachments"]
	if !ok {
		return nil
	}

	attMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}

	store := newAttachmentStore(txn)

	for name, v := range attMap {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}

		digest, _ := entry["digest"].(string)
		if digest == "" {
			continue
		}

		data, err := store.Get(digest)
		if err != nil {
			return err
		}

		entry["data"] = encodeBase64(data)
		entry["stub"] = false
		attMap[name] = entry
	}

	return nil
}

// GetAttachment implements `get_attachment`, spec.md §4.E read path, on
// a read slot.
func (db *DB) GetAttachment(digest string) ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		txn := NewTxn(db.backend)
		store := newAttachmentStore(txn)

		return store.Get(digest)
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// GetRevisionTree implements `get_revision_tree`, exposing a document's
// full branching history (not just the winning rev) for inspection and
// replication-style conflict resolution.
func (db *DB) GetRevisionTree(id string) (revtree.Tree, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		txn := NewTxn(db.backend)

		raw, err := txn.NS(nsDocStore).Get([]byte(id))
		if err != nil {
			if isNotFound(err) {
				return nil, newMissing(ReasonMissing)
			}

			return nil, err
		}

		var meta Metadata
		if err := unmarshalJSON(raw, &meta); err != nil {
			return nil, err
		}

		return meta.RevTree, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(revtree.Tree), nil
}

// AllDocsOptions controls `all_docs`, spec.md §4.F's table.
type AllDocsOptions struct {
	StartKey       []byte
	EndKey         []byte
	Key            []byte
	Descending     bool
	Skip           int
	// Limit caps the number of rows returned; 0 means unlimited unless
	// LimitZero is also set, matching spec.md's {limit: 0} boundary case.
	Limit          int
	LimitZero      bool
	IncludeDeleted bool
	IncludeDocs    bool
	Conflicts      bool
	Attachments    bool
	// InclusiveEndSet, when true, excludes the row exactly equal to
	// EndKey (spec.md's inclusive_end: false option).
	InclusiveEndSet bool
}

// AllDocsRow is one row of an `all_docs` result.
type AllDocsRow struct {
	ID        string
	Rev       string
	Deleted   bool
	Doc       Doc
	Conflicts []string
}

// AllDocsResult is the full `all_docs` response.
type AllDocsResult struct {
	TotalRows int64
	Offset    int
	Rows      []AllDocsRow
}

// AllDocs implements `all_docs`, spec.md §4.F, on a read slot.
func (db *DB) AllDocs(opts AllDocsOptions) (AllDocsResult, error) {
	if err := db.checkOpen(); err != nil {
		return AllDocsResult{}, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		return db.allDocsLocked(opts)
	})
	if err != nil {
		return AllDocsResult{}, err
	}

	return result.(AllDocsResult), nil
}

func (db *DB) allDocsLocked(opts AllDocsOptions) (AllDocsResult, error) {
	totalRows := db.currentDocCount()

	if opts.Limit == 0 && opts.LimitZero {
		return AllDocsResult{TotalRows: totalRows, Offset: opts.Skip}, nil
	}

	gte, lte := opts.StartKey, opts.EndKey
	if opts.Key != nil {
		gte, lte = opts.Key, opts.Key
	}
	endKey := lte

	if opts.Descending {
		gte, lte = lte, gte
	}

	if gte != nil && lte != nil && bytes.Compare(gte, lte) > 0 {
		return AllDocsResult{TotalRows: totalRows, Offset: opts.Skip}, nil
	}

	inclusiveEnd := true
	if opts.InclusiveEndSet {
		inclusiveEnd = false
	}

	txn := NewTxn(db.backend)
	docStore := txn.NS(nsDocStore)
	bySeq := txn.NS(nsBySeqStore)

	cursor, err := docStore.RangeScan(kv.RangeOptions{Gte: gte, Lte: lte, Reverse: opts.Descending})
	if err != nil {
		return AllDocsResult{}, err
	}
	defer cursor.Close()

	var rows []AllDocsRow
	skipped := 0

	for cursor.Next() {
		entry := cursor.Entry()

		if !inclusiveEnd && endKey != nil && bytes.Equal(entry.Key, endKey) {
			continue
		}

		var meta Metadata
		if err := unmarshalJSON(entry.Value, &meta); err != nil {
			return AllDocsResult{}, err
		}

		deleted := revtree.IsDeleted(meta.RevTree, meta.WinningRev)
		if deleted && !opts.IncludeDeleted {
			continue
		}

		if skipped < opts.Skip {
			if !deleted {
				skipped++

				continue
			}
		}

		row := AllDocsRow{ID: meta.ID, Rev: meta.WinningRev, Deleted: deleted}

		if deleted {
			rows = append(rows, row)

			if opts.Limit > 0 && len(rows) >= opts.Limit {
				break
			}

			continue
		}

		if opts.IncludeDocs {
			seq, ok := meta.RevMap[meta.WinningRev]
			if ok {
				stored, err := loadStoredDoc(bySeq, seq)
				if err == nil {
					row.Doc = Doc{ID: meta.ID, Rev: meta.WinningRev, Body: stored.Fields}

					if opts.Attachments {
						if err := db.hydrateAttachments(txn, row.Doc.Body); err != nil {
							return AllDocsResult{}, err
						}
					}
				}
			}
		}

		if opts.Conflicts {
			row.Conflicts = revtree.CollectConflicts(meta.RevTree, meta.WinningRev)
		}

		rows = append(rows, row)

		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
	}

	if cursor.Err() != nil {
		return AllDocsResult{}, cursor.Err()
	}

	return AllDocsResult{TotalRows: totalRows, Offset: opts.Skip, Rows: rows}, nil
}
