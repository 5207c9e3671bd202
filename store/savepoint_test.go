package store

import "testing"

func TestSavepointReadsThroughToParent(t *testing.T) {
	parent := NewMemBackend()
	_ = parent.Set([]byte("a"), []byte("1"))
	sp := NewSavepoint(parent)
	v, _ := sp.Get([]byte("a"))
	if string(v) != "1" {
		t.Fatalf("expected savepoint to see parent value, got %q", v)
	}
}

func TestSavepointDiscardLeavesParentUntouched(t *testing.T) {
	parent := NewMemBackend()
	sp := NewSavepoint(parent)
	_ = sp.Set([]byte("a"), []byte("1"))
	sp.Discard()
	if ok, _ := parent.Has([]byte("a")); ok {
		t.Fatalf("expected discarded write to never reach parent")
	}
}

func TestSavepointCommitFoldsIntoParent(t *testing.T) {
	parent := NewMemBackend()
	_ = parent.Set([]byte("a"), []byte("1"))
	sp := NewSavepoint(parent)
	_ = sp.Set([]byte("a"), []byte("2"))
	_ = sp.Delete([]byte("a"))
	_ = sp.Set([]byte("b"), []byte("3"))
	if err := sp.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := parent.Has([]byte("a")); ok {
		t.Fatalf("expected a deleted in parent after commit")
	}
	v, _ := parent.Get([]byte("b"))
	if string(v) != "3" {
		t.Fatalf("expected b=3 in parent, got %q", v)
	}
}

func TestSavepointObservesOuterInFlightWrites(t *testing.T) {
	// Models a query issued from inside an outer execute: the outer
	// execute's savepoint is the parent the read-only query layers on.
	parent := NewMemBackend()
	outer := NewSavepoint(parent)
	_ = outer.Set([]byte("balance"), []byte("100"))

	queryView := NewSavepoint(outer)
	v, _ := queryView.Get([]byte("balance"))
	if string(v) != "100" {
		t.Fatalf("expected query to observe outer execute's in-flight write, got %q", v)
	}
}

func TestSavepointNestedScanMerge(t *testing.T) {
	parent := NewMemBackend()
	_ = parent.Set([]byte("a"), []byte("1"))
	_ = parent.Set([]byte("b"), []byte("2"))
	sp := NewSavepoint(parent)
	_ = sp.Delete([]byte("a"))
	_ = sp.Set([]byte("c"), []byte("3"))

	it := sp.Scan(nil, nil, Ascending)
	var got []string
	for it.Valid() {
		got = append(got, string(it.Pair().Key))
		it.Next()
	}
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
