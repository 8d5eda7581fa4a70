package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scaupdb/scaup/internal/opctx"
	"github.com/scaupdb/scaup/internal/revtree"
)

// WriteRequest is the input to BulkWrite: the documents to apply plus
// the option controlling whether new revisions are generated.
type WriteRequest struct {
	Docs []Doc
	// NewEdits, when false, means the caller supplies explicit revision
	// ids (used for replication-style writes); when true, the engine
	// computes the next rev from each doc's parent. The zero value is
	// false, so callers that want generated revs set it explicitly.
	NewEdits bool
}

// docState is the per-call cache entry tracked across stage 3-5 of the
// pipeline: the document's metadata as it stands after every revision
// accepted so far in this batch.
type docState struct {
	meta   Metadata
	exists bool
}

// BulkWrite implements component E, spec.md §4.D: parse, verify
// attachment stubs, merge revisions, write accepted docs, optionally
// auto-compact, and commit as one scoped transaction on the write lock.
func (db *DB) BulkWrite(req WriteRequest) ([]Result, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	result, err := db.queue.Submit(Write, func() (interface{}, error) {
		return db.bulkWriteLocked(req)
	})
	if err != nil {
		return nil, err
	}

	return result.([]Result), nil
}

func (db *DB) bulkWriteLocked(req WriteRequest) ([]Result, error) {
	start := time.Now()
	defer func() { db.metrics.bulkWriteSecs.Observe(time.Since(start).Seconds()) }()

	ctx := opctx.WithFields(context.Background(), zap.String("db", db.name), zap.Int("docs", len(req.Docs)))
	logger := opctx.Logger(ctx, db.logger)

	txn := NewTxn(db.backend)
	docStore := txn.NS(nsDocStore)
	bySeq := txn.NS(nsBySeqStore)
	localStore := txn.NS(nsLocalStore)
	atts := newAttachmentStore(txn)

	// Stage 2: stub verification. A missing stub fails the whole batch
	// before any state is touched.
	for _, doc := range req.Docs {
		if IsLocalID(doc.ID) {
			continue
		}

		for name, att := range doc.Attachments {
			if !att.Stub {
				continue
			}

			if att.Digest == "" {
				return nil, newBadArgument(fmt.Sprintf("attachment %q is a stub with no digest", name))
			}

			exists, err := atts.stubExists(att.Digest)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, newMissingStub(att.Digest)
			}
		}
	}

	// Stage 3: existing-doc fetch, cached per id for the rest of this call.
	cache := make(map[string]docState)

	seq := db.currentUpdateSeq()
	docCount := db.currentDocCount()

	results := make([]Result, len(req.Docs))
	touched := make(map[string]bool)

	for i, doc := range req.Docs {
		if IsLocalID(doc.ID) {
			res, err := db.putLocalInTxn(localStore, doc)
			if err != nil {
				results[i] = Result{ID: doc.ID, Error: err}

				continue
			}

			results[i] = res

			continue
		}

		state, ok := cache[doc.ID]
		if !ok {
			loaded, err := db.loadDocState(docStore, doc.ID)
			if err != nil {
				return nil, err
			}
			state = loaded
			cache[doc.ID] = state
		}

		// Stage 1: parse, external revision helper.
		body, parentRev, err := parseDoc(doc, state, req.NewEdits)
		if err != nil {
			results[i] = Result{ID: doc.ID, Error: err}

			continue
		}

		// Stage 4: revision merge, external process_docs.
		decision, err := processDoc(doc, state, body, parentRev, req.NewEdits)
		if err != nil {
			results[i] = Result{ID: doc.ID, Error: err}

			continue
		}

		if decision.skip {
			// Idempotence guard: this exact rev is already in rev_map.
			results[i] = Result{OK: true, ID: doc.ID, Rev: decision.rev}

			continue
		}

		seq++

		newMeta, err := db.writeDoc(txn, bySeq, atts, doc, decision, seq)
		if err != nil {
			return nil, err
		}

		docCount += decision.docCountDelta
		cache[doc.ID] = docState{meta: newMeta, exists: true}
		touched[doc.ID] = true

		results[i] = Result{OK: true, ID: doc.ID, Rev: decision.rev}
	}

	// Stage 6: auto-compaction, inline and lock-free within this txn.
	if db.isAutoCompactionEnabled() {
		for id := range touched {
			state := cache[id]

			compactable := revtree.CompactableRevs(state.meta.RevTree)
			if len(compactable) == 0 {
				continue
			}

			newMeta, err := db.compactNoLock(txn, bySeq, atts, id, state.meta, compactable)
			if err != nil {
				return nil, err
			}

			cache[id] = docState{meta: newMeta, exists: true}
		}
	}

	// Stage 7: commit.
	meta := txn.NS(nsMetaStore)

	seqEncoded, err := marshalJSON(seq)
	if err != nil {
		return nil, err
	}
	meta.Put([]byte(metaLastUpdateSeq), seqEncoded)

	countEncoded, err := marshalJSON(docCount)
	if err != nil {
		return nil, err
	}
	meta.Put([]byte(metaDocCount), countEncoded)

	if err := txn.Execute(); err != nil {
		logger.Warn("bulk write failed", zap.Error(err))

		return nil, err
	}

	logger.Debug("bulk write committed", zap.Int64("update_seq", seq), zap.Int("touched", len(touched)))

	db.setUpdateSeq(seq)
	db.setDocCount(docCount)
	db.metrics.updateSeq.Set(float64(seq))
	db.metrics.docCount.Set(float64(docCount))
	db.metrics.bulkWriteDocs.Add(float64(len(touched)))

	if len(touched) > 0 {
		globalBroadcaster.notify(db.name)
	}

	return results, nil
}

func (db *DB) loadDocState(docStore NamespacedTxn, id string) (docState, error) {
	if cached, ok := db.metaC.get(id); ok {
		return docState{meta: cached.clone(), exists: true}, nil
	}

	raw, err := docStore.Get([]byte(id))
	if err != nil {
		if isNotFound(err) {
			return docState{meta: Metadata{ID: id, RevTree: revtree.Tree{}, RevMap: map[string]int64{}}}, nil
		}

		return docState{}, err
	}

	var meta Metadata
	if err := unmarshalJSON(raw, &meta); err != nil {
		return docState{}, fmt.Errorf("scaup: corrupt doc_store row for %s: %w", id, err)
	}

	if meta.RevTree == nil {
		meta.RevTree = revtree.Tree{}
	}
	if meta.RevMap == nil {
		meta.RevMap = map[string]int64{}
	}

	db.metaC.put(id, meta)

	return docState{meta: meta, exists: true}, nil
}

// parseDoc is stage 1's external revision helper: it computes the
// content bytes a new revision's hash is derived from, and the parent
// rev it extends.
func parseDoc(doc Doc, state docState, newEdits bool) (body []byte, parentRev string, err error) {
	encoded, err := marshalJSON(doc.Body)
	if err != nil {
		return nil, "", err
	}

	if !newEdits {
		if doc.Rev == "" {
			return nil, "", newBadArgument("new_edits=false requires an explicit rev")
		}

		return encoded, revtree.Tree(state.meta.RevTree)[doc.Rev].Parent, nil
	}

	return encoded, state.meta.WinningRev, nil
}

// writeDecision is process_docs's per-doc output, spec.md §4.D stage 4.
type writeDecision struct {
	rev           string
	deleted       bool
	docCountDelta int64
	newMeta       Metadata
	skip          bool
}

// processDoc is the external process_docs helper: given a doc's prior
// metadata and the parsed body, it computes the new revision, merges it
// into the revision tree, and decides the document-count delta implied
// by any winning-revision change.
func processDoc(doc Doc, state docState, body []byte, parentRev string, newEdits bool) (writeDecision, error) {
	var rev string
	if newEdits {
		rev = revtree.NewRev(parentRev, body)
	} else {
		rev = doc.Rev
	}

	meta := state.meta.clone()
	if meta.ID == "" {
		meta.ID = doc.ID
	}

	if _, exists := meta.RevTree[rev]; exists {
		// Idempotence guard (spec.md §4.D stage 5): this exact rev is
		// already present, so the whole write-doc step is skipped.
		return writeDecision{rev: rev, skip: true}, nil
	}

	wasDeleted := state.exists && revtree.IsDeleted(meta.RevTree, meta.WinningRev)

	meta.RevTree[rev] = revtreeNode(rev, parentRev, doc.Deleted)

	winner := revtree.WinningRev(meta.RevTree)
	meta.WinningRev = winner
	meta.Deleted = revtree.IsDeleted(meta.RevTree, winner)

	var delta int64
	switch {
	case !state.exists:
		if !meta.Deleted {
			delta = 1
		}
	case wasDeleted && !meta.Deleted:
		delta = 1
	case !wasDeleted && meta.Deleted:
		delta = -1
	}

	return writeDecision{
		rev:           rev,
		deleted:       doc.Deleted,
		docCountDelta: delta,
		newMeta:       meta,
	}, nil
}

func revtreeNode(rev, parent string, deleted bool) revtree.Node {
	return revtree.Node{Rev: rev, Parent: parent, Deleted: deleted, Status: revtree.StatusAvailable}
}

// writeDoc is stage 5: allocate the seq, ref-count attachments, and
// buffer the by_seq_store/doc_store writes for one accepted revision.
func (db *DB) writeDoc(txn *Txn, bySeq NamespacedTxn, atts *attachmentStore, doc Doc, decision writeDecision, seq int64) (Metadata, error) {
	hashed, err := hashAttachments(doc.Attachments)
	if err != nil {
		return Metadata{}, err
	}

	for _, h := range hashed {
		if err := atts.addRef(h.digest, doc.ID, decision.rev, h.body); err != nil {
			return Metadata{}, err
		}
	}

	storedAttachments := make(map[string]Attachment, len(hashed))
	for _, h := range hashed {
		storedAttachments[h.name] = Attachment{
			ContentType: doc.Attachments[h.name].ContentType,
			Digest:      h.digest,
			Length:      int64(len(h.body)),
			Stub:        true,
		}
	}

	bodyFields := make(map[string]interface{}, len(doc.Body)+1)
	for k, v := range doc.Body {
		bodyFields[k] = v
	}
	if len(storedAttachments) > 0 {
		bodyFields["_attachments"] = storedAttachments
	}

	encoded, err := encodeBody(doc.ID, decision.rev, decision.deleted, bodyFields)
	if err != nil {
		return Metadata{}, err
	}

	bySeq.Put(seqKey(seq), encoded)

	meta := decision.newMeta
	meta.Seq = seq
	meta.RevMap[decision.rev] = seq

	metaEncoded, err := marshalJSON(meta)
	if err != nil {
		return Metadata{}, err
	}

	txn.NS(nsDocStore).Put([]byte(doc.ID), metaEncoded)
	db.metaC.invalidate(doc.ID)

	return meta, nil
}

func (db *DB) currentUpdateSeq() int64 { return atomic.LoadInt64(&db.updateSeq) }
func (db *DB) currentDocCount() int64  { return atomic.LoadInt64(&db.docCount) }
func (db *DB) setUpdateSeq(v int64)    { atomic.StoreInt64(&db.updateSeq, v) }
func (db *DB) setDocCount(v int64)     { atomic.StoreInt64(&db.docCount, v) }

// putLocalInTxn buffers a local-doc write inside an already-open
// transaction, per spec.md §4.I's lock-free variant; BulkWrite uses it
// so that local docs can ride inside the same batch as regular writes.
func (db *DB) putLocalInTxn(localStore NamespacedTxn, doc Doc) (Result, error) {
	existing, err := getLocalDoc(localStore, doc.ID)
	if err != nil && !isNotFound(err) {
		return Result{}, err
	}

	found := err == nil

	if found {
		if doc.Rev == "" || doc.Rev != existing.Rev {
			return Result{}, newRevConflict()
		}
	} else if doc.Rev != "" {
		return Result{}, newRevConflict()
	}

	nextRev := nextLocalRev(existing.Rev)

	encoded, err := encodeBody(doc.ID, nextRev, false, doc.Body)
	if err != nil {
		return Result{}, err
	}

	localStore.Put([]byte(doc.ID), encoded)

	return Result{OK: true, ID: doc.ID, Rev: nextRev}, nil
}
