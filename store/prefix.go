package store

// Prefixed composes a namespace prefix onto a Backend so higher layers (the
// merkle tree, the schema package, per-contract storage) never see or
// construct raw unprefixed keys.
type Prefixed struct {
	inner  Backend
	prefix []byte
}

// NewPrefixed returns a Backend view of inner where every key is implicitly
// prefixed with prefix.
func NewPrefixed(inner Backend, prefix []byte) *Prefixed {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &Prefixed{inner: inner, prefix: p}
}

func (p *Prefixed) full(key []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(key))
	out = append(out, p.prefix...)
	out = append(out, key...)
	return out
}

// prefixUpperBound returns the smallest key that is NOT prefixed by prefix,
// i.e. an exclusive upper bound for a full-range scan of the namespace. nil
// means the prefix is all-0xff (no finite bound exists, so the underlying
// scan is left open-ended on the high side).
func prefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func (p *Prefixed) Get(key []byte) ([]byte, error) { return p.inner.Get(p.full(key)) }

func (p *Prefixed) Has(key []byte) (bool, error) { return p.inner.Has(p.full(key)) }

func (p *Prefixed) Set(key, value []byte) error { return p.inner.Set(p.full(key), value) }

func (p *Prefixed) Delete(key []byte) error { return p.inner.Delete(p.full(key)) }

func (p *Prefixed) Scan(min, max []byte, order Order) Iterator {
	fullMin := p.full(nilToEmpty(min))
	var fullMax []byte
	if max == nil {
		fullMax = prefixUpperBound(p.prefix)
	} else {
		fullMax = p.full(max)
	}
	return &prefixIterator{inner: p.inner.Scan(fullMin, fullMax, order), prefix: p.prefix}
}

func nilToEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (p *Prefixed) NewBatch() Batch { return &prefixBatch{inner: p.inner.NewBatch(), prefix: p.prefix} }

func (p *Prefixed) Close() error { return p.inner.Close() }

type prefixIterator struct {
	inner  Iterator
	prefix []byte
}

func (it *prefixIterator) Valid() bool { return it.inner.Valid() }

func (it *prefixIterator) Next() { it.inner.Next() }

func (it *prefixIterator) Pair() Pair {
	pair := it.inner.Pair()
	return Pair{Key: pair.Key[len(it.prefix):], Value: pair.Value}
}

func (it *prefixIterator) Close() error { return it.inner.Close() }

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (b *prefixBatch) full(key []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(key))
	out = append(out, b.prefix...)
	out = append(out, key...)
	return out
}

func (b *prefixBatch) Set(key, value []byte) { b.inner.Set(b.full(key), value) }

func (b *prefixBatch) Delete(key []byte) { b.inner.Delete(b.full(key)) }

func (b *prefixBatch) Commit() error { return b.inner.Commit() }
