package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/scaupdb/scaup/kv"
)

func openTemp(t *testing.T) kv.Backend {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	b, err := Driver{}.Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })

	return b
}

func TestOpenMissingWithoutCreateIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.db")

	if _, err := (Driver{}).Open(path, false); err == nil {
		t.Fatal("expected error opening a missing file with createIfMissing=false")
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	b := openTemp(t)

	if err := b.Put("ns", []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	got, err := b.Get("ns", []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
}

func TestGetMissingBucketReturnsNotFound(t *testing.T) {
	b := openTemp(t)

	if _, err := b.Get("never-written", []byte("k")); err != kv.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBatchAtomicAcrossNamespaces(t *testing.T) {
	b := openTemp(t)

	err := b.Batch([]kv.BatchOp{
		{NS: "ns1", Op: kv.OpPut, Key: []byte("a"), Value: []byte("1")},
		{NS: "ns2", Op: kv.OpPut, Key: []byte("b"), Value: []byte("2")},
	})
	if err != nil {
		t.Fatal(err)
	}

	v1, err := b.Get("ns1", []byte("a"))
	if err != nil || string(v1) != "1" {
		t.Fatalf("ns1/a = %q, %v", v1, err)
	}

	v2, err := b.Get("ns2", []byte("b"))
	if err != nil || string(v2) != "2" {
		t.Fatalf("ns2/b = %q, %v", v2, err)
	}
}

func TestRangeScanForwardAndReverse(t *testing.T) {
	b := openTemp(t)

	for _, k := range []string{"a", "b", "c"} {
		if err := b.Put("ns", []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := b.RangeScan("ns", kv.RangeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var forward []string
	for cur.Next() {
		forward = append(forward, string(cur.Entry().Key))
	}
	cur.Close()

	if len(forward) != 3 || forward[0] != "a" || forward[2] != "c" {
		t.Fatalf("forward = %v, want [a b c]", forward)
	}

	cur, err = b.RangeScan("ns", kv.RangeOptions{Reverse: true})
	if err != nil {
		t.Fatal(err)
	}
	var reverse []string
	for cur.Next() {
		reverse = append(reverse, string(cur.Entry().Key))
	}
	cur.Close()

	if len(reverse) != 3 || reverse[0] != "c" || reverse[2] != "a" {
		t.Fatalf("reverse = %v, want [c b a]", reverse)
	}
}

func TestRangeScanEmptyBucketReturnsNoRows(t *testing.T) {
	b := openTemp(t)

	cur, err := b.RangeScan("never-written", kv.RangeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	if cur.Next() {
		t.Fatal("expected no rows from an empty/nonexistent bucket")
	}
}

func TestDelRemovesKey(t *testing.T) {
	b := openTemp(t)

	b.Put("ns", []byte("k"), []byte("v"))
	if err := b.Del("ns", []byte("k")); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Get("ns", []byte("k")); err != kv.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestDestroyRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destroy.db")

	b, err := (Driver{}).Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	if err := (Driver{}).Destroy(path); err != nil {
		t.Fatal(err)
	}

	if _, err := (Driver{}).Open(path, false); err == nil {
		t.Fatal("expected open of destroyed file to fail")
	}
}
