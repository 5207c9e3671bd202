package app

import (
	"fmt"

	"cwchain/core"
	"cwchain/schema"
	"cwchain/store"
	"cwchain/vm"
)

// RouteQuery answers a top-level client query (§4.7) against the committed
// store, with no contract invocation already in flight — this is what the
// query package's HTTP boundary and the genesis CLI's debug-query command
// call into.
func (a *App) RouteQuery(req core.QueryRequest) (core.QueryResponse, error) {
	return a.routeQuery(a.Store, nil, req)
}

// routeQuery implements §4.7's query dispatch table against st, the same
// store view the caller (either a top-level query or a contract's
// re-entrant query_chain import) is already looking through. Every branch
// is read-only: it never allocates a Savepoint of its own, since the
// caller already decided what view it wants answered.
func (a *App) routeQuery(st store.Backend, frame *txFrame, req core.QueryRequest) (core.QueryResponse, error) {
	switch {
	case req.Info != nil:
		return a.queryInfo(st)
	case req.Codes != nil:
		return a.queryCodes(st, req.Codes)
	case req.Accounts != nil:
		return a.queryAccounts(st, req.Accounts)
	case req.Code != nil:
		return a.queryCode(st, req.Code.Hash)
	case req.Account != nil:
		return a.queryAccount(st, req.Account.Addr)
	case req.WasmRaw != nil:
		return a.queryWasmRaw(st, *req.WasmRaw)
	case req.WasmSmart != nil:
		return a.queryWasmSmart(st, frame, *req.WasmSmart)
	case req.Balance != nil:
		return a.queryBank(st, frame, core.BankQuery{Balance: req.Balance})
	case req.Balances != nil:
		return a.queryBank(st, frame, core.BankQuery{Balances: req.Balances})
	case req.Supply != nil:
		return a.queryBank(st, frame, core.BankQuery{Supply: req.Supply})
	case req.Supplies != nil:
		return a.queryBank(st, frame, core.BankQuery{Supplies: req.Supplies})
	default:
		return core.QueryResponse{}, fmt.Errorf("app: query request has no variant set")
	}
}

func (a *App) queryInfo(st store.Backend) (core.QueryResponse, error) {
	cfg, err := configItem.Load(st)
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "load config", Cause: err}
	}
	return core.QueryResponse{Info: &core.ChainInfo{
		ChainID: a.ChainID,
		Config:  cfg,
		Block:   a.block,
	}}, nil
}

func (a *App) queryCodes(st store.Backend, q *core.QueryCodes) (core.QueryResponse, error) {
	var startAfter []byte
	if q.StartAfter != nil {
		startAfter = schema.HashKey(*q.StartAfter).Encode()
	}
	entries, err := schema.Range(st, codesMap, startAfter, core.PageLimit(q.Limit), store.Ascending)
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "scan codes", Cause: err}
	}
	hashes := make([]core.Hash, 0, len(entries))
	for _, e := range entries {
		var h core.Hash
		copy(h[:], e.RawKey[2:2+core.HashLength])
		hashes = append(hashes, h)
	}
	return core.QueryResponse{Codes: hashes}, nil
}

func (a *App) queryAccounts(st store.Backend, q *core.QueryAccounts) (core.QueryResponse, error) {
	var startAfter []byte
	if q.StartAfter != nil {
		startAfter = schema.AddressKey(*q.StartAfter).Encode()
	}
	entries, err := schema.Range(st, accountsMap, startAfter, core.PageLimit(q.Limit), store.Ascending)
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "scan accounts", Cause: err}
	}
	addrs := make([]core.Address, 0, len(entries))
	for _, e := range entries {
		var addr core.Address
		copy(addr[:], e.RawKey[2:2+core.HashLength])
		addrs = append(addrs, addr)
	}
	return core.QueryResponse{Accounts: addrs}, nil
}

func (a *App) queryCode(st store.Backend, hash core.Hash) (core.QueryResponse, error) {
	bytes, err := codesMap.Load(st, schema.HashKey(hash))
	if err == core.ErrNotFound {
		return core.QueryResponse{}, &core.UnknownCodeHashError{CodeHash: hash}
	}
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "load code", Cause: err}
	}
	return core.QueryResponse{Code: bytes}, nil
}

func (a *App) queryAccount(st store.Backend, addr core.Address) (core.QueryResponse, error) {
	account, ok, err := accountsMap.MayLoad(st, schema.AddressKey(addr))
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "load account", Cause: err}
	}
	if !ok {
		return core.QueryResponse{}, &core.UnknownAccountError{Address: addr}
	}
	return core.QueryResponse{Account: &account}, nil
}

func (a *App) queryWasmRaw(st store.Backend, q core.QueryWasmRaw) (core.QueryResponse, error) {
	cstore := contractStore(st, q.Contract)
	value, err := cstore.Get(q.Key)
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "read raw", Cause: err}
	}
	return core.QueryResponse{WasmRaw: value}, nil
}

// queryWasmSmart implements the read-only re-entry into a contract's own
// query export (§4.7, §9 Open Question 3): it runs against the same store
// view the caller is already looking through, so a contract querying
// itself (or another contract querying back into it) observes whatever
// writes are already in flight on that view.
func (a *App) queryWasmSmart(st store.Backend, frame *txFrame, q core.QueryWasmSmart) (core.QueryResponse, error) {
	account, ok, err := accountsMap.MayLoad(st, schema.AddressKey(q.Contract))
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "load account", Cause: err}
	}
	if !ok {
		return core.QueryResponse{}, &core.UnknownAccountError{Address: q.Contract}
	}

	cstore := contractStore(st, q.Contract)
	querier := a.querierForQuery(st, frame)
	block := a.block
	if frame != nil {
		block = frame.block
	}
	instance, _, err := a.buildInstance(cstore, querier, block, account.CodeHash, newGasMeter(a.GasLimit), true)
	if err != nil {
		return core.QueryResponse{}, err
	}
	defer instance.Close()

	simulate := true
	ctx := core.Context{
		ChainID:        a.ChainID,
		BlockHeight:    block.Height,
		BlockTimestamp: block.Timestamp,
		BlockHash:      block.Hash,
		Contract:       q.Contract,
		Simulate:       &simulate,
	}
	result, err := instance.Query(ctx, q.Msg)
	if err != nil {
		return core.QueryResponse{}, &core.VMTrapError{Reason: "query", Cause: err}
	}
	raw, err := result.IntoResult()
	if err != nil {
		return core.QueryResponse{}, err
	}
	return core.QueryResponse{WasmSmart: raw}, nil
}

// queryBank re-enters the configured bank contract's query_bank export,
// read-only, translating its tagged-union response back onto the matching
// QueryResponse field.
func (a *App) queryBank(st store.Backend, frame *txFrame, bq core.BankQuery) (core.QueryResponse, error) {
	cfg, err := configItem.Load(st)
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "load config", Cause: err}
	}
	account, ok, err := accountsMap.MayLoad(st, schema.AddressKey(cfg.Bank))
	if err != nil {
		return core.QueryResponse{}, &core.BackendError{Op: "load bank account", Cause: err}
	}
	if !ok {
		return core.QueryResponse{}, &core.UnknownAccountError{Address: cfg.Bank}
	}

	cstore := contractStore(st, cfg.Bank)
	querier := a.querierForQuery(st, frame)
	block := a.block
	if frame != nil {
		block = frame.block
	}
	instance, _, err := a.buildInstance(cstore, querier, block, account.CodeHash, newGasMeter(a.GasLimit), true)
	if err != nil {
		return core.QueryResponse{}, err
	}
	defer instance.Close()

	ctx := core.Context{
		ChainID:        a.ChainID,
		BlockHeight:    block.Height,
		BlockTimestamp: block.Timestamp,
		BlockHash:      block.Hash,
		Contract:       cfg.Bank,
	}
	result, err := instance.QueryBank(ctx, bq)
	if err != nil {
		return core.QueryResponse{}, &core.VMTrapError{Reason: "query_bank", Cause: err}
	}
	resp, err := result.IntoResult()
	if err != nil {
		return core.QueryResponse{}, err
	}
	return core.QueryResponse{
		Balance:  resp.Balance,
		Balances: resp.Balances,
		Supply:   resp.Supply,
		Supplies: resp.Supplies,
	}, nil
}

// querierForQuery picks the re-entrant frame-bound querier when one is
// available (a contract call already in flight) or a standalone read-only
// querier for a top-level client query with no frame at all.
func (a *App) querierForQuery(st store.Backend, frame *txFrame) vm.Querier {
	if frame != nil {
		return frame.querierFor(st)
	}
	return &standaloneQuerier{app: a, store: st}
}

type standaloneQuerier struct {
	app   *App
	store store.Backend
}

func (q *standaloneQuerier) Query(req core.QueryRequest) (core.QueryResponse, error) {
	return q.app.routeQuery(q.store, nil, req)
}
