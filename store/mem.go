package store

import (
	"sort"
	"sync"
)

// MemBackend is an in-memory Backend, used for tests. Safe for concurrent
// use.
type MemBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemBackend() *MemBackend {
	return &MemBackend{data: map[string][]byte{}}
}

func (m *MemBackend) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemBackend) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemBackend) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemBackend) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Scan takes a point-in-time snapshot of matching keys so the returned
// Iterator is unaffected by writes made after Scan returns.
func (m *MemBackend) Scan(min, max []byte, order Order) Iterator {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if inRange([]byte(k), min, max) {
			keys = append(keys, k)
		}
	}
	pairs := make([]Pair, 0, len(keys))
	sort.Strings(keys)
	for _, k := range keys {
		v := m.data[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		pairs = append(pairs, Pair{Key: []byte(k), Value: cp})
	}
	m.mu.RUnlock()

	if order == Descending {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	return &sliceIterator{pairs: pairs, idx: 0}
}

func (m *MemBackend) NewBatch() Batch {
	return &memBatch{backend: m}
}

func (m *MemBackend) Close() error { return nil }

type sliceIterator struct {
	pairs []Pair
	idx   int
}

func (it *sliceIterator) Valid() bool { return it.idx < len(it.pairs) }

func (it *sliceIterator) Next() {
	if it.Valid() {
		it.idx++
	}
}

func (it *sliceIterator) Pair() Pair { return it.pairs[it.idx] }

func (it *sliceIterator) Close() error { return nil }

type memOp struct {
	del   bool
	key   []byte
	value []byte
}

type memBatch struct {
	backend *MemBackend
	ops     []memOp
}

func (b *memBatch) Set(key, value []byte) {
	b.ops = append(b.ops, memOp{key: key, value: value})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{del: true, key: key})
}

func (b *memBatch) Commit() error {
	b.backend.mu.Lock()
	defer b.backend.mu.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(b.backend.data, string(op.key))
			continue
		}
		cp := make([]byte, len(op.value))
		copy(cp, op.value)
		b.backend.data[string(op.key)] = cp
	}
	return nil
}
