// Package kv defines the narrow ordered key/value backend contract the
// storage engine is layered on top of: typed get/put/del, atomic batches,
// and ordered range scans over namespaced byte-slice keys.
package kv

import "errors"

// ErrNotFound is returned by Get when the key does not exist. Callers at
// higher layers convert this into a domain-specific error; it must never
// leak out of the engine package raw.
var ErrNotFound = errors.New("kv: key not found")

// ErrClosed is returned by the memory backend for any operation after
// Close has returned. The bbolt backend reports bbolt's own
// closed-database error instead.
var ErrClosed = errors.New("kv: backend is closed")

// Op identifies the kind of a batched operation.
type Op int

const (
	// OpPut upserts Key to Value.
	OpPut Op = iota
	// OpDelete removes Key.
	OpDelete
)

// BatchOp is one operation inside an atomic Batch call.
type BatchOp struct {
	NS    string
	Op    Op
	Key   []byte
	Value []byte
}

// RangeOptions controls a RangeScan. Gte and Lte bound the scan
// (inclusive); a nil bound means unbounded in that direction. Reverse
// walks from Lte down to Gte. Limit stops the scan after that many rows;
// Limit <= 0 means unbounded.
type RangeOptions struct {
	Gte     []byte
	Lte     []byte
	Reverse bool
	Limit   int
}

// Entry is one row returned by a range scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Cursor iterates the rows matched by a RangeScan. Callers must call
// Close when finished, even after exhausting Next or hitting an error.
type Cursor interface {
	// Next advances the cursor and reports whether an entry is
	// available. It returns false at end of range or on error; check
	// Err to distinguish the two.
	Next() bool
	// Entry returns the row at the current position. Only valid after
	// a call to Next returned true.
	Entry() Entry
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases resources held by the cursor.
	Close() error
}

// Backend is a typed wrapper over an ordered key/value store supporting
// prefixed namespaces, ordered range scans, and atomic multi-key
// batches. A Backend is obtained from a Driver and is shared
// process-wide through the registry in this package.
type Backend interface {
	// Get fetches a single value from namespace ns. It returns
	// ErrNotFound if the key does not exist.
	Get(ns string, key []byte) ([]byte, error)
	// Put upserts a single key in namespace ns.
	Put(ns string, key, value []byte) error
	// Del deletes a single key in namespace ns. It is not an error to
	// delete a key that does not exist.
	Del(ns string, key []byte) error
	// Batch commits every operation in ops atomically: either all of
	// them are visible afterward, or none are.
	Batch(ops []BatchOp) error
	// RangeScan opens a cursor over namespace ns bounded by opts.
	RangeScan(ns string, opts RangeOptions) (Cursor, error)
	// Close releases the backend's resources; later operations on a
	// closed store fail. A handle obtained from a Registry closes the
	// underlying store only when the last handle for it is closed, and
	// until then the store stays usable through every handle.
	Close() error
}

// Driver opens and destroys named databases for one backend
// implementation (e.g. "bbolt", "memory").
type Driver interface {
	// Name identifies this driver, used as the first half of the
	// registry key.
	Name() string
	// Open opens (creating if createIfMissing) the database at path.
	Open(path string, createIfMissing bool) (Backend, error)
	// Destroy removes a database's on-disk (or in-memory) state
	// entirely. The database must not be open.
	Destroy(path string) error
}
