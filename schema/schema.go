// Package schema provides typed, namespaced views over a store.Backend:
// Item[V], a single fixed-key value, and Map[K, V], a namespace of
// length-prefixed composite keys. Both are thin codecs over
// store.Backend — no caching, no buffering — so their behavior is exactly
// whatever Backend they're given.
package schema

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"cwchain/core"
	"cwchain/store"
)

// Key is implemented by anything usable as a Map key. Encode returns the
// key's wire bytes — for a composite key, the concatenation of each
// component run through EncodeComponent.
type Key interface {
	Encode() []byte
}

// EncodeComponent length-prefixes a single key component with a 16-bit
// big-endian length, the composite-key convention this package's Map keys
// and the VM's host storage keys both follow.
func EncodeComponent(b []byte) []byte {
	out := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(out, uint16(len(b)))
	copy(out[2:], b)
	return out
}

// BytesKey is a Key wrapping a single raw byte-slice component.
type BytesKey []byte

func (k BytesKey) Encode() []byte { return EncodeComponent(k) }

// StringKey is a Key wrapping a single string component.
type StringKey string

func (k StringKey) Encode() []byte { return EncodeComponent([]byte(k)) }

// AddressKey is a Key wrapping a core.Address component.
type AddressKey core.Address

func (k AddressKey) Encode() []byte { return EncodeComponent(k[:]) }

// HashKey is a Key wrapping a core.Hash component.
type HashKey core.Hash

func (k HashKey) Encode() []byte { return EncodeComponent(k[:]) }

// Pair2 composes two key components into one composite Key, e.g. a bank
// balance keyed by (address, denom).
type Pair2[A, B Key] struct {
	First  A
	Second B
}

func (p Pair2[A, B]) Encode() []byte {
	return append(p.First.Encode(), p.Second.Encode()...)
}

func namespaceKey(namespace string, rest []byte) []byte {
	ns := EncodeComponent([]byte(namespace))
	out := make([]byte, 0, len(ns)+len(rest))
	out = append(out, ns...)
	out = append(out, rest...)
	return out
}

// Item is a degenerate Map: a single value at a fixed namespace key.
type Item[V any] struct {
	namespace string
}

func NewItem[V any](namespace string) Item[V] {
	return Item[V]{namespace: namespace}
}

func (it Item[V]) key() []byte { return namespaceKey(it.namespace, nil) }

// Load returns the stored value, or core.ErrNotFound if absent.
func (it Item[V]) Load(b store.Backend) (V, error) {
	var v V
	raw, err := b.Get(it.key())
	if err != nil {
		return v, err
	}
	if raw == nil {
		return v, core.ErrNotFound
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode item %q: %w", it.namespace, err)
	}
	return v, nil
}

// MayLoad returns (value, true) if present, or (zero, false) if absent.
func (it Item[V]) MayLoad(b store.Backend) (V, bool, error) {
	v, err := it.Load(b)
	if err == core.ErrNotFound {
		var zero V
		return zero, false, nil
	}
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v, true, nil
}

// Save writes v.
func (it Item[V]) Save(b store.Backend, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode item %q: %w", it.namespace, err)
	}
	return b.Set(it.key(), raw)
}

// Remove deletes the item.
func (it Item[V]) Remove(b store.Backend) error {
	return b.Delete(it.key())
}

// Update performs an atomic read-modify-write: fn receives (value, present)
// and returns (newValue, keep). keep=false removes the entry — this is how
// zero balances and supplies are garbage-collected.
func (it Item[V]) Update(b store.Backend, fn func(V, bool) (V, bool)) error {
	cur, present, err := it.MayLoad(b)
	if err != nil {
		return err
	}
	next, keep := fn(cur, present)
	if !keep {
		return it.Remove(b)
	}
	return it.Save(b, next)
}

// Map is a namespace of composite keys mapping to JSON-encoded values.
type Map[K Key, V any] struct {
	namespace string
}

func NewMap[K Key, V any](namespace string) Map[K, V] {
	return Map[K, V]{namespace: namespace}
}

func (m Map[K, V]) key(k K) []byte { return namespaceKey(m.namespace, k.Encode()) }

// Prefix returns the namespace's key prefix, for range-scanning a sub-tuple
// or the whole map.
func (m Map[K, V]) Prefix() []byte { return namespaceKey(m.namespace, nil) }

func (m Map[K, V]) Load(b store.Backend, k K) (V, error) {
	var v V
	raw, err := b.Get(m.key(k))
	if err != nil {
		return v, err
	}
	if raw == nil {
		return v, core.ErrNotFound
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode map %q entry: %w", m.namespace, err)
	}
	return v, nil
}

func (m Map[K, V]) MayLoad(b store.Backend, k K) (V, bool, error) {
	v, err := m.Load(b, k)
	if err == core.ErrNotFound {
		var zero V
		return zero, false, nil
	}
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v, true, nil
}

func (m Map[K, V]) Save(b store.Backend, k K, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode map %q entry: %w", m.namespace, err)
	}
	return b.Set(m.key(k), raw)
}

func (m Map[K, V]) Remove(b store.Backend, k K) error {
	return b.Delete(m.key(k))
}

func (m Map[K, V]) Update(b store.Backend, k K, fn func(V, bool) (V, bool)) error {
	cur, present, err := m.MayLoad(b, k)
	if err != nil {
		return err
	}
	next, keep := fn(cur, present)
	if !keep {
		return m.Remove(b, k)
	}
	return m.Save(b, k, next)
}

// Entry is one decoded (rawKey, value) pair from Range, where rawKey is the
// map key's wire bytes with the namespace prefix stripped (still
// length-prefix-component encoded, for callers that need to split it back
// into components).
type Entry[V any] struct {
	RawKey []byte
	Value  V
}

// Range scans the whole map (or, if startAfter is non-nil, everything
// strictly after it) up to limit entries in the given order.
func Range[K Key, V any](b store.Backend, m Map[K, V], startAfter []byte, limit int, order store.Order) ([]Entry[V], error) {
	prefix := m.Prefix()
	min := append(append([]byte{}, prefix...), nilToEmpty(startAfter)...)
	it := b.Scan(min, upperBound(prefix), order)
	defer it.Close()

	out := make([]Entry[V], 0, limit)
	skipFirst := startAfter != nil
	for it.Valid() && len(out) < limit {
		p := it.Pair()
		raw := p.Key[len(prefix):]
		if skipFirst && string(raw) == string(startAfter) {
			skipFirst = false
			it.Next()
			continue
		}
		var v V
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return nil, fmt.Errorf("decode map %q entry: %w", m.namespace, err)
		}
		out = append(out, Entry[V]{RawKey: append([]byte{}, raw...), Value: v})
		it.Next()
	}
	return out, nil
}

func nilToEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// upperBound returns the smallest key not prefixed by prefix, or nil if no
// such finite key exists.
func upperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
