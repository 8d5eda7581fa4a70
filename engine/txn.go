package engine

import (
	"fmt"

	"github.com/scaupdb/scaup/kv"
)

// Txn is the scoped transaction of spec.md §4.B: an in-process
// read/write buffer with read-your-writes semantics over a single
// backend, committed as one atomic batch. It is not shared across
// goroutines and needs no internal locking — the operation queue
// (component D) is what keeps callers from stepping on each other.
//
// Grounded on storage/mvcc's transaction type, which wraps one
// kv.Transaction the same way this wraps one kv.Backend plus a
// pending-ops buffer; adapted because this backend adapter has no
// native multi-op transaction object, only an atomic Batch call.
type Txn struct {
	backend kv.Backend
	pending []kv.BatchOp
	// index mirrors pending for O(1) point lookups: ns+key -> position
	// of the most recent op touching that key.
	index   map[string]int
	done    bool
}

// NewTxn starts a new scoped transaction over backend.
func NewTxn(backend kv.Backend) *Txn {
	return &Txn{backend: backend, index: make(map[string]int)}
}

func indexKey(ns string, key []byte) string {
	return ns + "\x00" + string(key)
}

// Get returns the buffered value for (ns, key) if this transaction has
// already written it, otherwise reads through to the backend.
func (t *Txn) Get(ns string, key []byte) ([]byte, error) {
	if pos, ok := t.index[indexKey(ns, key)]; ok {
		op := t.pending[pos]
		if op.Op == kv.OpDelete {
			return nil, kv.ErrNotFound
		}

		return op.Value, nil
	}

	return t.backend.Get(ns, key)
}

// Put buffers a write; it is visible to subsequent Get calls in this
// transaction but not to the backend until Execute.
func (t *Txn) Put(ns string, key, value []byte) {
	t.append(kv.BatchOp{NS: ns, Op: kv.OpPut, Key: key, Value: value})
}

// Delete buffers a delete.
func (t *Txn) Delete(ns string, key []byte) {
	t.append(kv.BatchOp{NS: ns, Op: kv.OpDelete, Key: key})
}

// Batch buffers every op in ops, in order.
func (t *Txn) Batch(ops []kv.BatchOp) {
	for _, op := range ops {
		t.append(op)
	}
}

func (t *Txn) append(op kv.BatchOp) {
	k := indexKey(op.NS, op.Key)
	if pos, ok := t.index[k]; ok {
		t.pending[pos] = op

		return
	}

	t.index[k] = len(t.pending)
	t.pending = append(t.pending, op)
}

// RangeScan reads through to the backend. Scans do not observe this
// transaction's own buffered writes — read-your-writes is only needed
// for point Get, and no component in this engine scans a namespace it
// has itself written to within the same transaction.
func (t *Txn) RangeScan(ns string, opts kv.RangeOptions) (kv.Cursor, error) {
	return t.backend.RangeScan(ns, opts)
}

// NS returns a namespaced view of this transaction for component B's
// sublevel convenience.
func (t *Txn) NS(ns string) NamespacedTxn {
	return NamespacedTxn{txn: t, ns: ns}
}

// Execute flushes the pending write set as a single atomic backend
// batch. Calling Execute twice is an error.
func (t *Txn) Execute() error {
	if t.done {
		return fmt.Errorf("scaup: transaction already executed")
	}
	t.done = true

	if len(t.pending) == 0 {
		return nil
	}

	return t.backend.Batch(t.pending)
}

// NamespacedTxn is a Txn narrowed to one namespace, the scoped-
// transaction analogue of kv.Namespaced.
type NamespacedTxn struct {
	txn *Txn
	ns  string
}

// Get reads key from this namespace.
func (n NamespacedTxn) Get(key []byte) ([]byte, error) { return n.txn.Get(n.ns, key) }

// Put writes key in this namespace.
func (n NamespacedTxn) Put(key, value []byte) { n.txn.Put(n.ns, key, value) }

// Delete removes key from this namespace.
func (n NamespacedTxn) Delete(key []byte) { n.txn.Delete(n.ns, key) }

// RangeScan opens a cursor over this namespace.
func (n NamespacedTxn) RangeScan(opts kv.RangeOptions) (kv.Cursor, error) {
	return n.txn.RangeScan(n.ns, opts)
}
