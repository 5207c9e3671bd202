package store

import (
	"cwchain/core"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend is the persistent Backend used outside of tests, wrapping a
// single badger.DB. Every Backend error surfaced here is a core.BackendError
// (§4.8): an I/O failure below the KV interface is fatal and must abort
// block processing rather than unwind a single transaction.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (creating if absent) a badger database rooted at dir.
func OpenBadger(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &core.BackendError{Op: "open", Cause: err}
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, &core.BackendError{Op: "get", Cause: err}
	}
	return out, nil
}

func (b *BadgerBackend) Has(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, &core.BackendError{Op: "has", Cause: err}
	}
	return found, nil
}

func (b *BadgerBackend) Set(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return &core.BackendError{Op: "set", Cause: err}
	}
	return nil
}

func (b *BadgerBackend) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return &core.BackendError{Op: "delete", Cause: err}
	}
	return nil
}

// Scan opens a read-only transaction and copies the matching range into
// memory up front: badger iterators are transaction-scoped, and every other
// Backend in this package guarantees a point-in-time snapshot, so
// BadgerBackend does the same rather than leaking transaction lifetime into
// Iterator.Close.
func (b *BadgerBackend) Scan(min, max []byte, order Order) Iterator {
	var pairs []Pair
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(min); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if !inRange(key, min, max) {
				if max != nil {
					break
				}
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pairs = append(pairs, Pair{Key: key, Value: val})
		}
		return nil
	})
	if order == Descending {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	return &sliceIterator{pairs: pairs}
}

type badgerBatch struct {
	db  *badger.DB
	wb  *badger.WriteBatch
	err error
}

func (b *BadgerBackend) NewBatch() Batch {
	return &badgerBatch{db: b.db, wb: b.db.NewWriteBatch()}
}

func (b *badgerBatch) Set(key, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.wb.Set(key, value)
}

func (b *badgerBatch) Delete(key []byte) {
	if b.err != nil {
		return
	}
	b.err = b.wb.Delete(key)
}

func (b *badgerBatch) Commit() error {
	if b.err != nil {
		b.wb.Cancel()
		return &core.BackendError{Op: "batch", Cause: b.err}
	}
	if err := b.wb.Flush(); err != nil {
		return &core.BackendError{Op: "batch", Cause: err}
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return &core.BackendError{Op: "close", Cause: err}
	}
	return nil
}
