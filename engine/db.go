// Package engine implements scaup's storage engine: a six-namespace
// document store with MVCC revision trees, content-addressed
// attachments, a monotonic change feed, and compaction, layered over
// the kv.Backend abstraction.
package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scaupdb/scaup/kv"
)

// DB is one open database instance (component J). All access to its
// backend funnels through queue, which enforces the multi-reader/
// single-writer discipline of component D.
type DB struct {
	name     string
	backend  kv.Backend
	registry *kv.Registry
	driver   kv.Driver
	path     string

	queue  *Queue
	logger *zap.Logger

	updateSeq      int64 // atomic
	docCount       int64 // atomic
	autoCompaction int32 // atomic bool
	uuidVal        string

	metrics     *metricsSet
	broadcaster *broadcaster
	cfgWatcher  *configWatcher
	metaC       *metaCache

	closed int32 // atomic bool
}

// Open opens (and, if needed, creates) a database per opts. It
// bootstraps the in-memory update-sequence/doc-count caches from
// meta_store and generates _local_uuid on first open, per spec.md §3
// invariant 5 and SPEC_FULL.md §4.J.
func Open(opts OpenOptions) (*DB, error) {
	if err := opts.applyConfigFile(); err != nil {
		return nil, err
	}

	if opts.Driver == nil {
		return nil, newBackendUnavailable(fmt.Errorf("no driver configured"))
	}

	registry := opts.Registry
	if registry == nil {
		registry = kv.DefaultRegistry
	}

	createIfMissing := true
	if opts.CreateIfMissing != nil {
		createIfMissing = *opts.CreateIfMissing
	}

	backend, err := registry.Open(opts.Driver, opts.Path, createIfMissing)
	if err != nil {
		return nil, newBackendUnavailable(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db := &DB{
		name:        opts.Name,
		backend:     backend,
		registry:    registry,
		driver:      opts.Driver,
		path:        opts.Path,
		queue:       NewQueue(),
		logger:      logger,
		metrics:     newMetricsSet(opts.Registerer, opts.Name),
		broadcaster: globalBroadcaster.register(opts.Name),
		metaC:       newMetaCache(),
	}

	db.queue.Observe(func(depth int) {
		db.metrics.queueDepth.Set(float64(depth))
	})

	if opts.AutoCompaction {
		db.autoCompaction = 1
	}

	if err := db.bootstrap(); err != nil {
		backend.Close()

		return nil, err
	}

	if opts.ConfigFile != "" && opts.WatchConfig {
		watcher, err := startConfigWatcher(db, opts.ConfigFile)
		if err != nil {
			db.logger.Warn("could not start config watcher", zap.Error(err))
		} else {
			db.cfgWatcher = watcher
		}
	}

	return db, nil
}

func (db *DB) bootstrap() error {
	meta := kv.Namespace(db.backend, nsMetaStore)

	seq, err := getInt64(meta, metaLastUpdateSeq)
	if err != nil {
		return err
	}
	atomic.StoreInt64(&db.updateSeq, seq)

	count, err := getInt64(meta, metaDocCount)
	if err != nil {
		return err
	}
	atomic.StoreInt64(&db.docCount, count)

	uuidBytes, err := meta.Get([]byte(metaUUID))
	if err != nil {
		if !isNotFound(err) {
			return err
		}

		id := uuid.New().String()

		encoded, encErr := marshalJSON(id)
		if encErr != nil {
			return encErr
		}

		if err := meta.Put([]byte(metaUUID), encoded); err != nil {
			return err
		}

		db.uuidVal = id

		return nil
	}

	var id string
	if err := unmarshalJSON(uuidBytes, &id); err != nil {
		return fmt.Errorf("scaup: corrupt %s: %w", metaUUID, err)
	}
	db.uuidVal = id

	return nil
}

func getInt64(ns kv.Namespaced, key string) (int64, error) {
	raw, err := ns.Get([]byte(key))
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}

		return 0, err
	}

	var v int64
	if err := unmarshalJSON(raw, &v); err != nil {
		return 0, fmt.Errorf("scaup: corrupt %s: %w", key, err)
	}

	return v, nil
}

// Id returns this database's immutable UUID, generated on first open.
func (db *DB) Id() string { return db.uuidVal }

// Info is the public `info` operation: update sequence, document count,
// current queue depth, and the database's id.
type Info struct {
	DocCount   int64  `json:"doc_count"`
	UpdateSeq  int64  `json:"update_seq"`
	QueueDepth int    `json:"queue_depth"`
	DBName     string `json:"db_name"`
	UUID       string `json:"uuid"`
}

// Info returns the current summary of this database.
func (db *DB) Info() (Info, error) {
	if err := db.checkOpen(); err != nil {
		return Info{}, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		return Info{
			DocCount:   atomic.LoadInt64(&db.docCount),
			UpdateSeq:  atomic.LoadInt64(&db.updateSeq),
			QueueDepth: db.queue.Depth(),
			DBName:     db.name,
			UUID:       db.uuidVal,
		}, nil
	})
	if err != nil {
		return Info{}, err
	}

	return result.(Info), nil
}

func (db *DB) checkOpen() error {
	if atomic.LoadInt32(&db.closed) == 1 {
		return newNotOpen()
	}

	return nil
}

func (db *DB) isAutoCompactionEnabled() bool {
	return atomic.LoadInt32(&db.autoCompaction) == 1
}

// Close shuts down this database instance: it stops accepting new
// operations, tears down the config watcher, and releases its backend
// handle back to the registry (which only really closes the backend
// once every open handle to it has been released).
func (db *DB) Close() error {
	if !atomic.CompareAndSwapInt32(&db.closed, 0, 1) {
		return nil
	}

	if db.cfgWatcher != nil {
		db.cfgWatcher.Close()
	}

	globalBroadcaster.unregister(db.name)

	return db.backend.Close()
}

// Destroy closes db and permanently removes its backing store. It is
// the counterpart to Open for a caller that already holds a *DB, so it
// doesn't need to re-thread OpenOptions just to drop what it opened.
func (db *DB) Destroy() error {
	if err := db.Close(); err != nil {
		return err
	}

	return db.registry.Destroy(db.driver, db.path)
}

// Destroy permanently removes the backing store described by opts,
// without requiring that it ever be opened in this process. Refuses if
// some other handle for the same (driver, path) is still open.
func Destroy(opts OpenOptions) error {
	if opts.Driver == nil {
		return newBackendUnavailable(fmt.Errorf("no driver configured"))
	}

	registry := opts.Registry
	if registry == nil {
		registry = kv.DefaultRegistry
	}

	return registry.Destroy(opts.Driver, opts.Path)
}
