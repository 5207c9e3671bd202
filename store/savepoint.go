package store

import "sort"

type overlayEntry struct {
	deleted bool
	value   []byte
}

// Savepoint is a Backend-shaped write buffer layered on top of a parent
// Backend (which may itself be another Savepoint). It gives the execution
// pipeline hierarchical atomicity for submessage dispatch (§4.6.2): a
// submessage's writes land in a fresh Savepoint, and on success Commit folds
// them into the parent; on failure Discard throws them away with no trace.
// Because reads and scans transparently see the parent through the overlay,
// a query issued from inside an outer execute observes that execute's
// in-flight writes, matching the testable property the pipeline relies on.
type Savepoint struct {
	parent  Backend
	overlay map[string]overlayEntry
}

// NewSavepoint opens a savepoint on top of parent.
func NewSavepoint(parent Backend) *Savepoint {
	return &Savepoint{parent: parent, overlay: map[string]overlayEntry{}}
}

func (s *Savepoint) Get(key []byte) ([]byte, error) {
	if e, ok := s.overlay[string(key)]; ok {
		if e.deleted {
			return nil, nil
		}
		out := make([]byte, len(e.value))
		copy(out, e.value)
		return out, nil
	}
	return s.parent.Get(key)
}

func (s *Savepoint) Has(key []byte) (bool, error) {
	if e, ok := s.overlay[string(key)]; ok {
		return !e.deleted, nil
	}
	return s.parent.Has(key)
}

func (s *Savepoint) Set(key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.overlay[string(key)] = overlayEntry{value: cp}
	return nil
}

func (s *Savepoint) Delete(key []byte) error {
	s.overlay[string(key)] = overlayEntry{deleted: true}
	return nil
}

// Scan merges the overlay with the parent's view of the same range, with
// overlay entries (including tombstones) taking precedence over whatever
// the parent holds for the same key.
func (s *Savepoint) Scan(min, max []byte, order Order) Iterator {
	merged := map[string][]byte{}
	parentIt := s.parent.Scan(min, max, Ascending)
	for parentIt.Valid() {
		p := parentIt.Pair()
		merged[string(p.Key)] = p.Value
		parentIt.Next()
	}
	_ = parentIt.Close()

	for k, e := range s.overlay {
		if !inRange([]byte(k), min, max) {
			continue
		}
		if e.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = e.value
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Pair{Key: []byte(k), Value: merged[k]})
	}
	if order == Descending {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	return &sliceIterator{pairs: pairs}
}

// Commit folds every buffered write into the parent backend, in overlay
// iteration order (the parent itself enforces any ordering it cares about).
func (s *Savepoint) Commit() error {
	for k, e := range s.overlay {
		if e.deleted {
			if err := s.parent.Delete([]byte(k)); err != nil {
				return err
			}
			continue
		}
		if err := s.parent.Set([]byte(k), e.value); err != nil {
			return err
		}
	}
	s.overlay = map[string]overlayEntry{}
	return nil
}

// Discard drops every buffered write without touching the parent.
func (s *Savepoint) Discard() {
	s.overlay = map[string]overlayEntry{}
}

// OverlayEntry is one buffered write in a Savepoint, exposed so a caller
// that needs the raw write-set (the block pipeline folding a block's worth
// of commits into the Jellyfish Merkle Tree) doesn't have to replay Scan.
type OverlayEntry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Entries returns every buffered write in this savepoint, in no particular
// order. It does not recurse into the parent: call it only on the
// outermost savepoint a caller wants the full write-set of.
func (s *Savepoint) Entries() []OverlayEntry {
	out := make([]OverlayEntry, 0, len(s.overlay))
	for k, e := range s.overlay {
		out = append(out, OverlayEntry{Key: []byte(k), Value: e.value, Deleted: e.deleted})
	}
	return out
}

func (s *Savepoint) NewBatch() Batch { return &savepointBatch{sp: s} }

func (s *Savepoint) Close() error { return nil }

type savepointBatch struct {
	sp  *Savepoint
	ops []memOp
}

func (b *savepointBatch) Set(key, value []byte) {
	b.ops = append(b.ops, memOp{key: key, value: value})
}

func (b *savepointBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{del: true, key: key})
}

func (b *savepointBatch) Commit() error {
	for _, op := range b.ops {
		if op.del {
			if err := b.sp.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := b.sp.Set(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}
