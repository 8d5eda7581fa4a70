// Package bbolt adapts go.etcd.io/bbolt to the kv.Backend contract. Each
// logical namespace becomes its own top-level bucket, created lazily on
// first write. Range scans are walked with a bolt.Cursor using
// Seek/Next/Prev, honoring RangeOptions.Reverse and RangeOptions.Limit.
//
// Grounded on storage/kv/plugins/bbolt/bbolt.go and the older
// storage/kv/bbolt.go adapters, collapsed from their bucket-of-buckets
// transaction API down to this package's flatter
// get/put/del/batch/range_scan backend contract.
package bbolt

import (
	"fmt"
	"os"

	"github.com/scaupdb/scaup/kv"
	bolt "go.etcd.io/bbolt"
)

// DriverName is the name this driver registers under in the process-wide
// registry.
const DriverName = "bbolt"

var _ kv.Driver = (*Driver)(nil)

// Driver opens bbolt-backed kv.Backend instances.
type Driver struct{}

// Name implements kv.Driver.
func (Driver) Name() string { return DriverName }

// Open implements kv.Driver.
func (Driver) Open(path string, createIfMissing bool) (kv.Backend, error) {
	if !createIfMissing {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("bbolt: %w", kv.ErrNotFound)
		}
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bbolt: open %q: %w", path, err)
	}

	return &Backend{db: db}, nil
}

// Destroy implements kv.Driver.
func (Driver) Destroy(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bbolt: destroy %q: %w", path, err)
	}

	return nil
}

var _ kv.Backend = (*Backend)(nil)

// Backend is a kv.Backend implementation backed by a single bbolt file.
type Backend struct {
	db *bolt.DB
}

func bucketName(ns string) []byte { return []byte(ns) }

// Get implements kv.Backend.
func (b *Backend) Get(ns string, key []byte) ([]byte, error) {
	var value []byte

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(ns))
		if bucket == nil {
			return kv.ErrNotFound
		}

		v := bucket.Get(key)
		if v == nil {
			return kv.ErrNotFound
		}

		value = append([]byte(nil), v...)

		return nil
	})

	return value, err
}

// Put implements kv.Backend.
func (b *Backend) Put(ns string, key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(ns))
		if err != nil {
			return err
		}

		return bucket.Put(key, value)
	})
}

// Del implements kv.Backend.
func (b *Backend) Del(ns string, key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(ns))
		if bucket == nil {
			return nil
		}

		return bucket.Delete(key)
	})
}

// Batch implements kv.Backend. All ops commit in a single bolt
// transaction, so the all-or-nothing contract falls directly out of
// bbolt's own transaction semantics.
func (b *Backend) Batch(ops []kv.BatchOp) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		buckets := make(map[string]*bolt.Bucket)

		bucketFor := func(ns string) (*bolt.Bucket, error) {
			if bucket, ok := buckets[ns]; ok {
				return bucket, nil
			}

			bucket, err := tx.CreateBucketIfNotExists(bucketName(ns))
			if err != nil {
				return nil, err
			}

			buckets[ns] = bucket

			return bucket, nil
		}

		for _, op := range ops {
			bucket, err := bucketFor(op.NS)
			if err != nil {
				return err
			}

			switch op.Op {
			case kv.OpPut:
				if err := bucket.Put(op.Key, op.Value); err != nil {
					return err
				}
			case kv.OpDelete:
				if err := bucket.Delete(op.Key); err != nil {
					return err
				}
			default:
				return fmt.Errorf("bbolt: unknown op %d", op.Op)
			}
		}

		return nil
	})
}

// RangeScan implements kv.Backend.
func (b *Backend) RangeScan(ns string, opts kv.RangeOptions) (kv.Cursor, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("bbolt: begin range scan: %w", err)
	}

	bucket := tx.Bucket(bucketName(ns))
	if bucket == nil {
		tx.Rollback()

		return &emptyCursor{}, nil
	}

	return newCursor(tx, bucket.Cursor(), opts), nil
}

// Close implements kv.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}

type emptyCursor struct{}

func (emptyCursor) Next() bool       { return false }
func (emptyCursor) Entry() kv.Entry  { return kv.Entry{} }
func (emptyCursor) Err() error       { return nil }
func (emptyCursor) Close() error     { return nil }

type cursor struct {
	tx      *bolt.Tx
	c       *bolt.Cursor
	opts    kv.RangeOptions
	started bool
	count   int
	key     []byte
	value   []byte
	err     error
	closed  bool
}

func newCursor(tx *bolt.Tx, c *bolt.Cursor, opts kv.RangeOptions) *cursor {
	return &cursor{tx: tx, c: c, opts: opts}
}

func (cur *cursor) Next() bool {
	if cur.err != nil || cur.closed {
		return false
	}

	if cur.opts.Limit > 0 && cur.count >= cur.opts.Limit {
		return false
	}

	var k, v []byte

	if !cur.started {
		cur.started = true

		if cur.opts.Reverse {
			if cur.opts.Lte != nil {
				k, v = cur.c.Seek(cur.opts.Lte)
				if k == nil || string(k) > string(cur.opts.Lte) {
					k, v = cur.c.Prev()
				}
			} else {
				k, v = cur.c.Last()
			}
		} else {
			if cur.opts.Gte != nil {
				k, v = cur.c.Seek(cur.opts.Gte)
			} else {
				k, v = cur.c.First()
			}
		}
	} else {
		if cur.opts.Reverse {
			k, v = cur.c.Prev()
		} else {
			k, v = cur.c.Next()
		}
	}

	if k == nil {
		return false
	}

	if cur.opts.Reverse && cur.opts.Gte != nil && string(k) < string(cur.opts.Gte) {
		return false
	}

	if !cur.opts.Reverse && cur.opts.Lte != nil && string(k) > string(cur.opts.Lte) {
		return false
	}

	cur.key = append([]byte(nil), k...)
	cur.value = append([]byte(nil), v...)
	cur.count++

	return true
}

func (cur *cursor) Entry() kv.Entry {
	return kv.Entry{Key: cur.key, Value: cur.value}
}

func (cur *cursor) Err() error { return cur.err }

func (cur *cursor) Close() error {
	if cur.closed {
		return nil
	}
	cur.closed = true

	return cur.tx.Rollback()
}
