package engine

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// metaCache memoizes decoded doc_store rows for a short TTL, so that
// back-to-back operations against the same hot document (get followed
// by another get, or a bulk write or compaction loading the doc's prior
// metadata) skip a repeat unmarshal. The changes scan reads doc_store
// directly and does not use this cache. Every write to a document's
// doc_store row invalidates its entry, so a cache hit never serves
// metadata older than the write that produced it.
//
// Grounded on storage/data_cache.go's dbCache, which wraps the same
// github.com/patrickmn/go-cache library with op-tagged entries;
// simplified here to plain put/invalidate since this cache only ever
// holds one value shape (Metadata), not raw op-tagged bytes.
type metaCache struct {
	c *cache.Cache
}

const (
	metaCacheTTL     = 30 * time.Second
	metaCacheCleanup = 1 * time.Minute
)

func newMetaCache() *metaCache {
	return &metaCache{c: cache.New(metaCacheTTL, metaCacheCleanup)}
}

func (m *metaCache) get(id string) (Metadata, bool) {
	v, ok := m.c.Get(id)
	if !ok {
		return Metadata{}, false
	}

	meta, ok := v.(Metadata)

	return meta, ok
}

func (m *metaCache) put(id string, meta Metadata) {
	m.c.SetDefault(id, meta.clone())
}

func (m *metaCache) invalidate(id string) {
	m.c.Delete(id)
}
