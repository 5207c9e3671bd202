package app

import (
	"fmt"

	"cwchain/core"
	"cwchain/schema"
	"cwchain/store"
	"cwchain/vm"
)

// txFrame carries everything dispatch needs for the duration of one
// top-level transaction (genesis runs as one such transaction): the store view mutations
// land in, the block/chain context, and the re-entrancy call stack (§9
// Open Question 2: re-entrancy into a contract already on the stack is
// forbidden).
type txFrame struct {
	app     *App
	block   core.Block
	config  core.Config
	gas     *vm.GasMeter
	stack   map[core.Address]bool
	stackOf []core.Address
}

func (a *App) newFrame(block core.Block, config core.Config) *txFrame {
	return &txFrame{
		app:    a,
		block:  block,
		config: config,
		gas:    newGasMeter(a.GasLimit),
		stack:  map[core.Address]bool{},
	}
}

func (f *txFrame) enter(addr core.Address) error {
	if f.stack[addr] {
		return &core.ReentrancyError{Address: addr}
	}
	f.stack[addr] = true
	f.stackOf = append(f.stackOf, addr)
	return nil
}

func (f *txFrame) leave(addr core.Address) {
	delete(f.stack, addr)
	if n := len(f.stackOf); n > 0 && f.stackOf[n-1] == addr {
		f.stackOf = f.stackOf[:n-1]
	}
}

func (f *txFrame) context(contract core.Address, sender *core.Address, funds *core.Coins, submsgResult *core.SubMsgResult) core.Context {
	return core.Context{
		ChainID:        f.app.ChainID,
		BlockHeight:    f.block.Height,
		BlockTimestamp: f.block.Timestamp,
		BlockHash:      f.block.Hash,
		Contract:       contract,
		Sender:         sender,
		Funds:          funds,
		SubMsgResult:   submsgResult,
	}
}

// querierFor wraps st as a vm.Querier re-entering query_chain against this
// same frame, read-only, observing st's in-flight writes (§9 Open
// Question 3).
func (f *txFrame) querierFor(st store.Backend) vm.Querier {
	return &reentrantQuerier{app: f.app, frame: f, store: st}
}

// dispatchResult is what dispatching one Message produces: the events it
// materialized. It does not carry the address an Instantiate created.
type dispatchResult struct {
	events []core.Event
}

// dispatchMessage implements §4.6.1 for a single top-level or nested
// message, running entirely against st (the caller decides whether st is
// the tx-level savepoint or a submessage's nested one).
func (f *txFrame) dispatchMessage(st store.Backend, sender core.Address, msg core.Message) (dispatchResult, error) {
	switch {
	case msg.StoreCode != nil:
		return f.storeCode(st, sender, *msg.StoreCode)
	case msg.Instantiate != nil:
		return f.instantiate(st, sender, *msg.Instantiate)
	case msg.Execute != nil:
		return f.execute(st, sender, *msg.Execute)
	case msg.Migrate != nil:
		return f.migrate(st, sender, *msg.Migrate)
	default:
		return dispatchResult{}, fmt.Errorf("app: message has no variant set")
	}
}

func (f *txFrame) storeCode(st store.Backend, sender core.Address, m core.MsgStoreCode) (dispatchResult, error) {
	codeHash := core.HashBytes(m.WasmByteCode)
	if _, ok, err := codesMap.MayLoad(st, schema.HashKey(codeHash)); err != nil {
		return dispatchResult{}, &core.BackendError{Op: "check code exists", Cause: err}
	} else if ok {
		f.app.log.WithField("code_hash", codeHash).Warn("failed to store code: already exists")
		return dispatchResult{}, &core.CodeExistsError{CodeHash: codeHash}
	}
	if err := codesMap.Save(st, schema.HashKey(codeHash), m.WasmByteCode); err != nil {
		return dispatchResult{}, &core.BackendError{Op: "save code", Cause: err}
	}
	f.app.log.WithField("code_hash", codeHash).Info("stored code")
	ev := newEvent("store_code", sender, []core.Attribute{
		core.NewAttribute("code_hash", codeHash),
	})
	return dispatchResult{events: []core.Event{ev}}, nil
}

func (f *txFrame) instantiate(st store.Backend, sender core.Address, m core.MsgInstantiate) (dispatchResult, error) {
	addr := core.Derive(sender, m.CodeHash, m.Salt)

	if _, ok, err := accountsMap.MayLoad(st, schema.AddressKey(addr)); err != nil {
		return dispatchResult{}, &core.BackendError{Op: "check account exists", Cause: err}
	} else if ok {
		f.app.log.WithField("address", addr).Warn("failed to instantiate contract: account exists")
		return dispatchResult{}, &core.AccountExistsError{Address: addr}
	}

	account := core.Account{CodeHash: m.CodeHash, Admin: m.Admin}
	if err := accountsMap.Save(st, schema.AddressKey(addr), account); err != nil {
		return dispatchResult{}, &core.BackendError{Op: "save account", Cause: err}
	}

	events := make([]core.Event, 0, 2)
	if !m.Funds.IsEmpty() {
		transferEvents, err := f.transfer(st, sender, addr, m.Funds)
		if err != nil {
			f.app.log.WithField("address", addr).WithError(err).Warn("failed to instantiate contract: funds transfer rejected")
			return dispatchResult{}, err
		}
		events = append(events, transferEvents...)
	}

	if err := f.enter(addr); err != nil {
		return dispatchResult{}, err
	}
	defer f.leave(addr)

	cstore := contractStore(st, addr)
	querier := f.querierFor(st)
	instance, _, err := f.app.buildInstance(cstore, querier, f.block, m.CodeHash, f.gas, false)
	if err != nil {
		f.app.log.WithField("address", addr).WithError(err).Warn("failed to instantiate contract")
		return dispatchResult{}, err
	}
	defer instance.Close()

	funds := m.Funds
	ctx := f.context(addr, &sender, &funds, nil)
	result, err := instance.Instantiate(ctx, m.Msg)
	if err != nil {
		f.app.log.WithField("address", addr).WithError(err).Warn("failed to instantiate contract: vm trap")
		return dispatchResult{}, &core.VMTrapError{Reason: "instantiate", Cause: err}
	}
	resp, err := result.IntoResult()
	if err != nil {
		f.app.log.WithField("address", addr).WithError(err).Warn("failed to instantiate contract")
		return dispatchResult{}, err
	}

	f.app.log.WithField("address", addr).Info("instantiated contract")
	events = append(events, newEvent("instantiate", addr, resp.Attributes))

	subEvents, err := f.handleSubMsgs(st, addr, resp.SubMsgs)
	if err != nil {
		return dispatchResult{}, err
	}
	events = append(events, subEvents...)

	return dispatchResult{events: events}, nil
}

func (f *txFrame) execute(st store.Backend, sender core.Address, m core.MsgExecute) (dispatchResult, error) {
	account, ok, err := accountsMap.MayLoad(st, schema.AddressKey(m.Contract))
	if err != nil {
		return dispatchResult{}, &core.BackendError{Op: "load account", Cause: err}
	}
	if !ok {
		return dispatchResult{}, &core.UnknownAccountError{Address: m.Contract}
	}

	events := make([]core.Event, 0, 2)
	if !m.Funds.IsEmpty() {
		transferEvents, err := f.transfer(st, sender, m.Contract, m.Funds)
		if err != nil {
			f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to execute contract: funds transfer rejected")
			return dispatchResult{}, err
		}
		events = append(events, transferEvents...)
	}

	if err := f.enter(m.Contract); err != nil {
		return dispatchResult{}, err
	}
	defer f.leave(m.Contract)

	cstore := contractStore(st, m.Contract)
	querier := f.querierFor(st)
	instance, _, err := f.app.buildInstance(cstore, querier, f.block, account.CodeHash, f.gas, false)
	if err != nil {
		f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to execute contract")
		return dispatchResult{}, err
	}
	defer instance.Close()

	funds := m.Funds
	ctx := f.context(m.Contract, &sender, &funds, nil)
	result, err := instance.Execute(ctx, m.Msg)
	if err != nil {
		f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to execute contract: vm trap")
		return dispatchResult{}, &core.VMTrapError{Reason: "execute", Cause: err}
	}
	resp, err := result.IntoResult()
	if err != nil {
		f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to execute contract")
		return dispatchResult{}, err
	}

	f.app.log.WithField("address", m.Contract).Info("executed contract")
	events = append(events, newEvent("execute", m.Contract, resp.Attributes))

	subEvents, err := f.handleSubMsgs(st, m.Contract, resp.SubMsgs)
	if err != nil {
		return dispatchResult{}, err
	}
	events = append(events, subEvents...)

	return dispatchResult{events: events}, nil
}

func (f *txFrame) migrate(st store.Backend, sender core.Address, m core.MsgMigrate) (dispatchResult, error) {
	account, ok, err := accountsMap.MayLoad(st, schema.AddressKey(m.Contract))
	if err != nil {
		return dispatchResult{}, &core.BackendError{Op: "load account", Cause: err}
	}
	if !ok {
		return dispatchResult{}, &core.UnknownAccountError{Address: m.Contract}
	}
	if account.Admin == nil || *account.Admin != sender {
		f.app.log.WithField("address", m.Contract).Warn("failed to migrate contract: not admin")
		return dispatchResult{}, &core.NotAdminError{Address: m.Contract, Sender: sender}
	}

	account.CodeHash = m.NewCodeHash
	if err := accountsMap.Save(st, schema.AddressKey(m.Contract), account); err != nil {
		return dispatchResult{}, &core.BackendError{Op: "save account", Cause: err}
	}

	if err := f.enter(m.Contract); err != nil {
		return dispatchResult{}, err
	}
	defer f.leave(m.Contract)

	cstore := contractStore(st, m.Contract)
	querier := f.querierFor(st)
	instance, _, err := f.app.buildInstance(cstore, querier, f.block, m.NewCodeHash, f.gas, false)
	if err != nil {
		f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to migrate contract")
		return dispatchResult{}, err
	}
	defer instance.Close()

	ctx := f.context(m.Contract, &sender, nil, nil)
	result, err := instance.Migrate(ctx, m.Msg)
	if err != nil {
		f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to migrate contract: vm trap")
		return dispatchResult{}, &core.VMTrapError{Reason: "migrate", Cause: err}
	}
	resp, err := result.IntoResult()
	if err != nil {
		f.app.log.WithField("address", m.Contract).WithError(err).Warn("failed to migrate contract")
		return dispatchResult{}, err
	}

	f.app.log.WithField("address", m.Contract).Info("migrated contract")
	events := []core.Event{newEvent("migrate", m.Contract, resp.Attributes)}

	subEvents, err := f.handleSubMsgs(st, m.Contract, resp.SubMsgs)
	if err != nil {
		return dispatchResult{}, err
	}
	events = append(events, subEvents...)

	return dispatchResult{events: events}, nil
}

// reentrantQuerier lets a contract's query_chain import re-enter the query
// router, observing store's in-flight writes (§9 Open Question 3).
type reentrantQuerier struct {
	app   *App
	frame *txFrame
	store store.Backend
}

func (q *reentrantQuerier) Query(req core.QueryRequest) (core.QueryResponse, error) {
	return q.app.routeQuery(q.store, q.frame, req)
}
