package engine

import (
	"sync"

	"github.com/scaupdb/scaup/kv"
)

// broadcaster is the change-feed notification hub (component H, live
// mode): a mutex-guarded registry of per-database-name listener
// channels. Every successful bulk write calls notify(name); each
// registered listener re-runs the historical scan from its own
// last-seen sequence.
//
// Grounded on the same "process-wide, name-keyed registry" discipline
// as kv/registry.go (spec.md §9: "guard with the same discipline as any
// shared singleton").
type broadcaster struct {
	mu        sync.Mutex
	listeners map[string]map[int]chan struct{}
	nextID    int
}

var globalBroadcaster = &broadcaster{listeners: make(map[string]map[int]chan struct{})}

func (b *broadcaster) register(name string) *broadcaster {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[name]; !ok {
		b.listeners[name] = make(map[int]chan struct{})
	}

	return b
}

func (b *broadcaster) unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.listeners[name] {
		close(ch)
	}

	delete(b.listeners, name)
}

func (b *broadcaster) notify(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.listeners[name] {
		select {
		case ch <- struct{}{}:
		default:
			// listener already has a pending wakeup queued; coalescing
			// it is fine since the live scan always resumes from the
			// listener's own last_seq, not from this notification.
		}
	}
}

func (b *broadcaster) listen(name string) (ch chan struct{}, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch = make(chan struct{}, 1)
	if b.listeners[name] == nil {
		b.listeners[name] = make(map[int]chan struct{})
	}
	b.listeners[name][id] = ch

	cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if m, ok := b.listeners[name]; ok {
			delete(m, id)
		}
	}

	return ch, cancel
}

// Change is one row of a changes response, spec.md §4.G.
type Change struct {
	Seq     int64                  `json:"seq"`
	ID      string                 `json:"id"`
	Rev     string                 `json:"rev"`
	Deleted bool                   `json:"deleted,omitempty"`
	Doc     map[string]interface{} `json:"doc,omitempty"`
}

// ChangesOptions controls the `changes` operation.
type ChangesOptions struct {
	Since       int64
	Descending  bool
	Limit       int
	IncludeDocs bool
	Attachments bool
	ReturnDocs  bool
	Continuous  bool
	// Filter, if set, is consulted for every candidate change; a false
	// return excludes the row.
	Filter func(Change) (bool, error)
}

// ChangesResult is what `changes` resolves to in historical mode, or
// what each invocation of OnChange aggregates to when ReturnDocs is set.
type ChangesResult struct {
	Results []Change
	LastSeq int64
}

// Cancel stops a live changes feed started with ChangesLive.
type Cancel func()

// Changes implements the historical half of component H.
func (db *DB) Changes(opts ChangesOptions, onChange func(Change)) (ChangesResult, error) {
	if err := db.checkOpen(); err != nil {
		return ChangesResult{}, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		return db.scanChanges(opts, onChange, nil)
	})
	if err != nil {
		return ChangesResult{}, err
	}

	return result.(ChangesResult), nil
}

// ChangesLive implements the live-tailing half of component H: it
// immediately performs one historical scan from opts.Since, then
// re-scans from the last delivered sequence every time this database
// commits a bulk write, until Cancel is called.
func (db *DB) ChangesLive(opts ChangesOptions, onChange func(Change)) (Cancel, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	ch, cancelListen := globalBroadcaster.listen(db.name)
	cancelled := make(chan struct{})

	var mu sync.Mutex
	since := opts.Since

	runOnce := func() {
		mu.Lock()
		s := since
		mu.Unlock()

		liveOpts := opts
		liveOpts.Since = s

		result, err := db.queue.Submit(Read, func() (interface{}, error) {
			return db.scanChanges(liveOpts, onChange, cancelled)
		})
		if err != nil {
			return
		}

		r := result.(ChangesResult)

		mu.Lock()
		if r.LastSeq > since {
			since = r.LastSeq
		}
		mu.Unlock()
	}

	go func() {
		runOnce()

		for {
			select {
			case <-cancelled:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}

				runOnce()
			}
		}
	}()

	cancel := func() {
		select {
		case <-cancelled:
		default:
			close(cancelled)
		}
		cancelListen()
	}

	return cancel, nil
}

// scanChanges is the engine behind both Changes and ChangesLive,
// spec.md §4.G steps 1-5. It must be called on the queue (as a Read).
func (db *DB) scanChanges(opts ChangesOptions, onChange func(Change), cancelled chan struct{}) (ChangesResult, error) {
	txn := NewTxn(db.backend)
	bySeq := txn.NS(nsBySeqStore)
	docStore := txn.NS(nsDocStore)

	rangeOpts := kv.RangeOptions{Reverse: opts.Descending, Limit: 0, Gte: seqKey(opts.Since)}

	cursor, err := bySeq.RangeScan(rangeOpts)
	if err != nil {
		return ChangesResult{}, err
	}
	defer cursor.Close()

	metaCache := make(map[string]Metadata)
	var results []Change
	lastSeq := opts.Since
	count := 0

	for cursor.Next() {
		if cancelled != nil {
			select {
			case <-cancelled:
				return ChangesResult{Results: results, LastSeq: lastSeq}, nil
			default:
			}
		}

		entry := cursor.Entry()
		seq := parseSeqKey(entry.Key)

		if seq == opts.Since {
			continue // exclusive lower bound, both scan directions
		}

		stored, err := decodeBody(entry.Value)
		if err != nil {
			return ChangesResult{}, err
		}

		meta, ok := metaCache[stored.ID]
		if !ok {
			m, err := loadMetadata(docStore, stored.ID)
			if err != nil {
				if isNotFound(err) {
					continue
				}

				return ChangesResult{}, err
			}
			meta = m
			metaCache[stored.ID] = meta
		}

		if meta.Seq != seq {
			// A later revision superseded this row.
			continue
		}

		rev := stored.Rev
		deleted := stored.Deleted
		doc := stored.Fields

		if meta.WinningRev != rev {
			winnerSeq, ok := meta.RevMap[meta.WinningRev]
			if ok {
				winnerStored, err := loadStoredDoc(bySeq, winnerSeq)
				if err == nil {
					rev = winnerStored.Rev
					deleted = winnerStored.Deleted
					doc = winnerStored.Fields
				}
			}
		}

		change := Change{Seq: seq, ID: stored.ID, Rev: rev, Deleted: deleted}
		if opts.IncludeDocs {
			change.Doc = doc
		}

		if opts.Filter != nil {
			keep, err := opts.Filter(change)
			if err != nil {
				return ChangesResult{}, err
			}
			if !keep {
				continue
			}
		}

		count++
		lastSeq = seq

		if onChange != nil {
			onChange(change)
		}
		if opts.ReturnDocs {
			results = append(results, change)
		}

		if opts.Limit > 0 && count >= opts.Limit {
			break
		}
	}

	if cursor.Err() != nil {
		return ChangesResult{}, cursor.Err()
	}

	return ChangesResult{Results: results, LastSeq: lastSeq}, nil
}

func parseSeqKey(key []byte) int64 {
	var n int64
	for _, c := range key {
		n = n*10 + int64(c-'0')
	}

	return n
}

func loadStoredDoc(bySeq NamespacedTxn, seq int64) (storedBody, error) {
	raw, err := bySeq.Get(seqKey(seq))
	if err != nil {
		return storedBody{}, err
	}

	return decodeBody(raw)
}

func loadMetadata(docStore NamespacedTxn, id string) (Metadata, error) {
	raw, err := docStore.Get([]byte(id))
	if err != nil {
		return Metadata{}, err
	}

	var meta Metadata
	if err := unmarshalJSON(raw, &meta); err != nil {
		return Metadata{}, err
	}

	return meta, nil
}
