package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/scaupdb/scaup/internal/opctx"
	"github.com/scaupdb/scaup/internal/revtree"
)

// CompactOptions controls one compact call. Reserved for future
// extension; currently empty because spec.md §4.H names no options
// beyond doc_id and revs_to_remove.
type CompactOptions struct{}

// Compact implements component I, spec.md §4.H, on the write lock: it
// marks the given revisions of one document as compacted, deletes their
// by_seq_store bodies, and reclaims any attachment left with no
// remaining references.
func (db *DB) Compact(docID string, revsToRemove []string, opts CompactOptions) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	_, err := db.queue.Submit(Write, func() (interface{}, error) {
		txn := NewTxn(db.backend)
		bySeq := txn.NS(nsBySeqStore)
		atts := newAttachmentStore(txn)
		docStore := txn.NS(nsDocStore)

		state, err := db.loadDocState(docStore, docID)
		if err != nil {
			return nil, err
		}
		if !state.exists {
			return nil, newMissing(ReasonMissing)
		}

		if _, err := db.compactNoLock(txn, bySeq, atts, docID, state.meta, revsToRemove); err != nil {
			return nil, err
		}

		db.metrics.compactions.Inc()

		ctx := opctx.WithFields(context.Background(), zap.String("db", db.name), zap.String("doc_id", docID))
		opctx.Logger(ctx, db.logger).Debug("compacted revisions", zap.Strings("revs", revsToRemove))

		return nil, txn.Execute()
	})

	return err
}

// compactNoLock is the lock-free variant spec.md §4.H allows for use
// inside an enclosing bulk write: it buffers the same writes into txn
// but leaves Execute to the caller.
func (db *DB) compactNoLock(txn *Txn, bySeq NamespacedTxn, atts *attachmentStore, docID string, meta Metadata, revsToRemove []string) (Metadata, error) {
	meta = meta.clone()

	removedRefs := make(map[string]map[string]bool) // digest -> set of "<id>@<rev>"

	for _, rev := range revsToRemove {
		node, ok := meta.RevTree[rev]
		if !ok {
			continue
		}

		seq, hasSeq := meta.RevMap[rev]

		if hasSeq {
			raw, err := bySeq.Get(seqKey(seq))
			if err == nil {
				stored, decodeErr := decodeBody(raw)
				if decodeErr == nil {
					for _, digest := range attachmentDigests(stored.Fields) {
						key := docID + "@" + rev
						if removedRefs[digest] == nil {
							removedRefs[digest] = make(map[string]bool)
						}
						removedRefs[digest][key] = true
					}
				}
			} else if !isNotFound(err) {
				return Metadata{}, err
			}

			bySeq.Delete(seqKey(seq))
		}

		node.Status = revtree.StatusMissing
		meta.RevTree[rev] = node
	}

	for digest, refs := range removedRefs {
		if err := atts.removeRefs(digest, refs); err != nil {
			return Metadata{}, err
		}
	}

	encoded, err := marshalJSON(meta)
	if err != nil {
		return Metadata{}, err
	}

	txn.NS(nsDocStore).Put([]byte(docID), encoded)
	db.metaC.invalidate(docID)

	return meta, nil
}

// attachmentDigests extracts the digests of a stored body's
// "_attachments" map, the shape writeDoc persists them in.
func attachmentDigests(fields map[string]interface{}) []string {
	raw, ok := fields["_attachments"]
	if !ok {
		return nil
	}

	attMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}

	var digests []string

	for _, v := range attMap {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}

		if digest, ok := entry["digest"].(string); ok && digest != "" {
			digests = append(digests, digest)
		}
	}

	return digests
}
