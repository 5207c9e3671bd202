package vm

import (
	"errors"
	"testing"

	"cwchain/core"
	"cwchain/store"
)

func newTestEnv(readOnly bool) *Environment {
	backend := store.NewMemBackend()
	return NewEnvironment(backend, readOnly, nil, core.Block{Height: 1}, "test-chain", NewGasMeter(1_000_000))
}

func TestEnvironmentReadWriteRoundTrip(t *testing.T) {
	env := newTestEnv(false)
	if err := env.DBWrite([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	got, err := env.DBRead([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1" {
		t.Fatalf("got %q, want %q", got, "1")
	}
}

func TestEnvironmentRejectsWritesWhenReadOnly(t *testing.T) {
	env := newTestEnv(true)
	if err := env.DBWrite([]byte("a"), []byte("1")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("got %v, want ErrReadOnly", err)
	}
	if err := env.DBRemove([]byte("a")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("got %v, want ErrReadOnly", err)
	}
}

func TestEnvironmentScanAndNextLifecycle(t *testing.T) {
	env := newTestEnv(false)
	for _, k := range []string{"a", "b", "c"} {
		if err := env.DBWrite([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	id, err := env.DBScan(nil, nil, store.Ascending)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for {
		key, _, ok, err := env.DBNext(id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, string(key))
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}

	env.closeIterators()
	if _, _, _, err := env.DBNext(id); err == nil {
		t.Fatal("expected an error reading from a closed iterator id")
	}
}

func TestEnvironmentDebugLog(t *testing.T) {
	env := newTestEnv(false)
	env.Debug("hello")
	env.Debug("world")
	log := env.DebugLog()
	if len(log) != 2 || log[0] != "hello" || log[1] != "world" {
		t.Fatalf("got %v", log)
	}
}

func TestEnvironmentQueryChainRequiresQuerier(t *testing.T) {
	env := newTestEnv(true)
	if _, err := env.QueryChain(core.QueryRequest{Info: &core.QueryInfo{}}); err == nil {
		t.Fatal("expected an error with no querier configured")
	}
}
