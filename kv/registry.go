package kv

import (
	"fmt"
	"sync"
)

// registryKey identifies a shared backend handle by driver name and
// database name/path, exactly as spec.md §4.A/§9 describes: "A
// process-wide registry keyed by (backend_name, database_name) returns
// a single shared handle per database to prevent the backend's
// 'already open' failures."
type registryKey struct {
	driver string
	path   string
}

type registryEntry struct {
	backend Backend
	refs    int
}

// Registry is a process-wide, refcounted cache of open Backend handles.
// Close decrements the refcount and only actually closes the underlying
// Backend when the last reference goes away. It is safe for concurrent
// use by multiple database instances sharing one process.
type Registry struct {
	mu      sync.Mutex
	entries map[registryKey]*registryEntry
}

// NewRegistry creates an empty registry. Most programs use the
// package-level DefaultRegistry instead of constructing their own.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]*registryEntry)}
}

// DefaultRegistry is the registry used by Open when the caller doesn't
// supply one explicitly.
var DefaultRegistry = NewRegistry()

// Open returns the shared Backend for (driver.Name(), path), opening it
// via driver if no handle is currently cached.
func (r *Registry) Open(driver Driver, path string, createIfMissing bool) (Backend, error) {
	key := registryKey{driver: driver.Name(), path: path}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok {
		entry.refs++

		return &refcountedBackend{registry: r, key: key, Backend: entry.backend}, nil
	}

	backend, err := driver.Open(path, createIfMissing)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s %q: %w", driver.Name(), path, err)
	}

	r.entries[key] = &registryEntry{backend: backend, refs: 1}

	return &refcountedBackend{registry: r, key: key, Backend: backend}, nil
}

// release decrements the refcount for key and closes the underlying
// backend once it reaches zero.
func (r *Registry) release(key registryKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil
	}

	entry.refs--
	if entry.refs > 0 {
		return nil
	}

	delete(r.entries, key)

	return entry.backend.Close()
}

// Destroy permanently removes the backing store for (driver.Name(),
// path). It refuses if a handle for that key is still registered, since
// destroying the store out from under a live refcountedBackend would
// corrupt whatever holds that handle.
func (r *Registry) Destroy(driver Driver, path string) error {
	key := registryKey{driver: driver.Name(), path: path}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, stillOpen := r.entries[key]; stillOpen {
		return fmt.Errorf("kv: cannot destroy %s %q: still open", driver.Name(), path)
	}

	// Still under r.mu, so a concurrent Open for this key can't register
	// a fresh handle in the window between the check above and the
	// driver.Destroy below.
	return driver.Destroy(path)
}

// refcountedBackend wraps a shared Backend so that each Open caller gets
// its own handle, but Close only propagates to the real backend once
// every handle has been closed.
type refcountedBackend struct {
	Backend
	registry *Registry
	key      registryKey
	closed   bool
	mu       sync.Mutex
}

func (b *refcountedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.registry.release(b.key)
}
