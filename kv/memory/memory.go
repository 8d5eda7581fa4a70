// Package memory implements kv.Backend entirely in process memory, ordered
// by github.com/emirpasic/gods/maps/treemap. It exists for fast tests
// that don't need real durability.
//
// Grounded on storage/mvcc/fake.go and storage/kv/fake.go
// (FakeStore/FakeMap over a treemap.Map), collapsed to this package's
// namespace-as-argument backend contract: one treemap per namespace
// instead of one treemap of treemaps.
package memory

import (
	"bytes"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/scaupdb/scaup/kv"
)

var _ kv.Driver = (*Driver)(nil)

// DriverName is the name this driver registers under in the process-wide
// registry.
const DriverName = "memory"

// Driver opens in-memory kv.Backend instances. Every distinct path gets
// its own independent store; Destroy simply forgets it.
type Driver struct {
	mu     sync.Mutex
	stores map[string]*Backend
}

// NewDriver creates a Driver with no stores yet.
func NewDriver() *Driver {
	return &Driver{stores: make(map[string]*Backend)}
}

// Name implements kv.Driver.
func (*Driver) Name() string { return DriverName }

// Open implements kv.Driver.
func (d *Driver) Open(path string, createIfMissing bool) (kv.Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.stores[path]; ok {
		return b, nil
	}

	if !createIfMissing {
		return nil, kv.ErrNotFound
	}

	b := newBackend()
	d.stores[path] = b

	return b, nil
}

// Destroy implements kv.Driver.
func (d *Driver) Destroy(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.stores, path)

	return nil
}

// keyComparator orders treemap keys, which are always stored as the Go
// string produced by string(key) (see nsFor/Put/Get/Del/Batch below), not
// as []byte.
func keyComparator(a, b interface{}) int {
	return bytes.Compare([]byte(a.(string)), []byte(b.(string)))
}

var _ kv.Backend = (*Backend)(nil)

// Backend is an in-memory kv.Backend, one treemap per namespace.
type Backend struct {
	mu     sync.RWMutex
	nss    map[string]*treemap.Map
	closed bool
}

func newBackend() *Backend {
	return &Backend{nss: make(map[string]*treemap.Map)}
}

func (b *Backend) nsFor(ns string) *treemap.Map {
	if m, ok := b.nss[ns]; ok {
		return m
	}

	m := treemap.NewWith(keyComparator)
	b.nss[ns] = m

	return m
}

// Get implements kv.Backend.
func (b *Backend) Get(ns string, key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, kv.ErrClosed
	}

	m, ok := b.nss[ns]
	if !ok {
		return nil, kv.ErrNotFound
	}

	v, found := m.Get(string(key))
	if !found {
		return nil, kv.ErrNotFound
	}

	return append([]byte(nil), v.([]byte)...), nil
}

// Put implements kv.Backend.
func (b *Backend) Put(ns string, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return kv.ErrClosed
	}

	b.nsFor(ns).Put(string(key), append([]byte(nil), value...))

	return nil
}

// Del implements kv.Backend.
func (b *Backend) Del(ns string, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return kv.ErrClosed
	}

	if m, ok := b.nss[ns]; ok {
		m.Remove(string(key))
	}

	return nil
}

// Batch implements kv.Backend.
func (b *Backend) Batch(ops []kv.BatchOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return kv.ErrClosed
	}

	for _, op := range ops {
		switch op.Op {
		case kv.OpPut:
			b.nsFor(op.NS).Put(string(op.Key), append([]byte(nil), op.Value...))
		case kv.OpDelete:
			if m, ok := b.nss[op.NS]; ok {
				m.Remove(string(op.Key))
			}
		}
	}

	return nil
}

// RangeScan implements kv.Backend.
func (b *Backend) RangeScan(ns string, opts kv.RangeOptions) (kv.Cursor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, kv.ErrClosed
	}

	m, ok := b.nss[ns]
	if !ok {
		return &cursor{}, nil
	}

	keys := m.Keys()
	entries := make([]kv.Entry, 0, len(keys))

	for _, k := range keys {
		kb := []byte(k.(string))

		if opts.Gte != nil && bytes.Compare(kb, opts.Gte) < 0 {
			continue
		}
		if opts.Lte != nil && bytes.Compare(kb, opts.Lte) > 0 {
			continue
		}

		v, _ := m.Get(k)
		entries = append(entries, kv.Entry{Key: kb, Value: v.([]byte)})
	}

	if opts.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	return &cursor{entries: entries, pos: -1}, nil
}

// Close implements kv.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	return nil
}

type cursor struct {
	entries []kv.Entry
	pos     int
}

func (c *cursor) Next() bool {
	c.pos++

	return c.pos < len(c.entries)
}

func (c *cursor) Entry() kv.Entry {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return kv.Entry{}
	}

	return c.entries[c.pos]
}

func (c *cursor) Err() error   { return nil }
func (c *cursor) Close() error { return nil }
