package store

import "testing"

func TestMemBackendGetSetDelete(t *testing.T) {
	b := NewMemBackend()
	if v, err := b.Get([]byte("a")); err != nil || v != nil {
		t.Fatalf("expected miss, got %v %v", v, err)
	}
	if err := b.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := b.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get: %v %v", v, err)
	}
	if err := b.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := b.Has([]byte("a")); ok {
		t.Fatalf("expected key gone after delete")
	}
}

func TestMemBackendScanOrder(t *testing.T) {
	b := NewMemBackend()
	for _, k := range []string{"b", "a", "c"} {
		if err := b.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	it := b.Scan(nil, nil, Ascending)
	var got []string
	for it.Valid() {
		got = append(got, string(it.Pair().Key))
		it.Next()
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	it = b.Scan(nil, nil, Descending)
	got = nil
	for it.Valid() {
		got = append(got, string(it.Pair().Key))
		it.Next()
	}
	want = []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("descending got %v want %v", got, want)
		}
	}
}

func TestMemBackendScanSnapshotIsolation(t *testing.T) {
	b := NewMemBackend()
	_ = b.Set([]byte("a"), []byte("1"))
	it := b.Scan(nil, nil, Ascending)
	_ = b.Set([]byte("b"), []byte("2"))
	count := 0
	for it.Valid() {
		count++
		it.Next()
	}
	if count != 1 {
		t.Fatalf("expected iterator unaffected by later write, got %d entries", count)
	}
}

func TestMemBackendBatchCommit(t *testing.T) {
	b := NewMemBackend()
	_ = b.Set([]byte("a"), []byte("1"))
	batch := b.NewBatch()
	batch.Set([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := b.Has([]byte("a")); ok {
		t.Fatalf("expected a deleted")
	}
	if v, _ := b.Get([]byte("b")); string(v) != "2" {
		t.Fatalf("expected b=2, got %q", v)
	}
}
