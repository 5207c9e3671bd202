package vm

import (
	"fmt"
	"sync"

	"cwchain/core"
	"cwchain/store"
)

// ErrReadOnly is returned by db_write/db_remove when the environment was
// opened read-only, i.e. during a query entry point.
var ErrReadOnly = fmt.Errorf("store is read-only in this context")

// Querier answers a re-entrant query_chain call from inside a running
// contract invocation.
type Querier interface {
	Query(req core.QueryRequest) (core.QueryResponse, error)
}

// Environment is the host-side state backing one contract invocation: the
// store view it reads and (unless read-only) writes, a querier for
// query_chain re-entrancy, the block context, and the live db_scan
// iterators referenced by guest code via small integer IDs. A fresh
// Environment is built per invocation and discarded when the call returns,
// exactly as the spec requires: no iterator outlives its invocation.
type Environment struct {
	Store    store.Backend
	ReadOnly bool
	Querier  Querier
	Block    core.Block
	ChainID  string
	Gas      *GasMeter

	mu        sync.Mutex
	iterators map[uint32]store.Iterator
	nextIter  uint32
	debugLog  []string
}

func NewEnvironment(backend store.Backend, readOnly bool, querier Querier, block core.Block, chainID string, gas *GasMeter) *Environment {
	return &Environment{
		Store:     backend,
		ReadOnly:  readOnly,
		Querier:   querier,
		Block:     block,
		ChainID:   chainID,
		Gas:       gas,
		iterators: map[uint32]store.Iterator{},
	}
}

func (e *Environment) DBRead(key []byte) ([]byte, error) {
	if err := e.Gas.Consume(GasCostDBRead); err != nil {
		return nil, err
	}
	return e.Store.Get(key)
}

func (e *Environment) DBWrite(key, value []byte) error {
	if e.ReadOnly {
		return ErrReadOnly
	}
	if err := e.Gas.Consume(GasCostDBWrite); err != nil {
		return err
	}
	return e.Store.Set(key, value)
}

func (e *Environment) DBRemove(key []byte) error {
	if e.ReadOnly {
		return ErrReadOnly
	}
	if err := e.Gas.Consume(GasCostDBRemove); err != nil {
		return err
	}
	return e.Store.Delete(key)
}

// DBScan opens an iterator over [min, max) in order and returns the id the
// guest will use to pull records from it via DBNext.
func (e *Environment) DBScan(min, max []byte, order store.Order) (uint32, error) {
	if err := e.Gas.Consume(GasCostDBScan); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextIter++
	id := e.nextIter
	e.iterators[id] = e.Store.Scan(min, max, order)
	return id, nil
}

// DBNext returns the next (key, value) from iterator id, or ok=false when
// exhausted.
func (e *Environment) DBNext(id uint32) (key, value []byte, ok bool, err error) {
	if err := e.Gas.Consume(GasCostDBNext); err != nil {
		return nil, nil, false, err
	}
	e.mu.Lock()
	it, found := e.iterators[id]
	e.mu.Unlock()
	if !found {
		return nil, nil, false, fmt.Errorf("vm: unknown iterator id %d", id)
	}
	if !it.Valid() {
		return nil, nil, false, nil
	}
	pair := it.Pair()
	it.Next()
	return pair.Key, pair.Value, true, nil
}

// closeIterators releases every iterator opened during this invocation.
// Called once the entry point returns, guaranteeing iterators never
// outlive their invocation.
func (e *Environment) closeIterators() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, it := range e.iterators {
		_ = it.Close()
		delete(e.iterators, id)
	}
}

func (e *Environment) Debug(msg string) error {
	if err := e.Gas.Consume(GasCostDebug); err != nil {
		return err
	}
	e.mu.Lock()
	e.debugLog = append(e.debugLog, msg)
	e.mu.Unlock()
	return nil
}

// DebugLog returns every message passed to the debug import during this
// invocation, for tests and operator diagnostics.
func (e *Environment) DebugLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.debugLog...)
}

func (e *Environment) QueryChain(req core.QueryRequest) (core.QueryResponse, error) {
	if err := e.Gas.Consume(GasCostQuery); err != nil {
		return core.QueryResponse{}, err
	}
	if e.Querier == nil {
		return core.QueryResponse{}, fmt.Errorf("vm: no querier configured")
	}
	return e.Querier.Query(req)
}
