package engine

import "testing"

func TestMetaCacheGetPutInvalidate(t *testing.T) {
	c := newMetaCache()

	if _, ok := c.get("doc1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.put("doc1", Metadata{ID: "doc1", WinningRev: "1-a"})

	got, ok := c.get("doc1")
	if !ok || got.WinningRev != "1-a" {
		t.Fatalf("expected cached metadata, got %+v, ok=%v", got, ok)
	}

	c.invalidate("doc1")

	if _, ok := c.get("doc1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestMetaCachePutClonesRevMap(t *testing.T) {
	c := newMetaCache()

	meta := Metadata{ID: "doc1", RevMap: map[string]int64{"1-a": 1}}
	c.put("doc1", meta)

	meta.RevMap["1-a"] = 99

	got, _ := c.get("doc1")
	if got.RevMap["1-a"] != 1 {
		t.Fatalf("cache entry should be insulated from later mutation of the source map, got %d", got.RevMap["1-a"])
	}
}
