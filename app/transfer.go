package app

import (
	"cwchain/core"
	"cwchain/schema"
	"cwchain/store"
)

// transfer implements the bank hook (§4.8): every value movement the
// pipeline performs is routed through the config's designated bank
// contract's transfer export. Once the bank has settled its own
// balance/supply bookkeeping, the recipient's own receive export is
// invoked — this is what "receive: triggered when a transfer targets this
// contract" (§4.5) means in practice, and it is how the reference bank
// contract's own receive (which unconditionally rejects) guards against
// funds being sent to the bank contract's own address.
func (f *txFrame) transfer(st store.Backend, from, to core.Address, coins core.Coins) ([]core.Event, error) {
	bankAddr := f.config.Bank

	bankAccount, ok, err := accountsMap.MayLoad(st, schema.AddressKey(bankAddr))
	if err != nil {
		return nil, &core.BackendError{Op: "load bank account", Cause: err}
	}
	if !ok {
		return nil, &core.UnknownAccountError{Address: bankAddr}
	}

	if err := f.enter(bankAddr); err != nil {
		return nil, err
	}
	bankStore := contractStore(st, bankAddr)
	querier := f.querierFor(st)
	bankInstance, _, err := f.app.buildInstance(bankStore, querier, f.block, bankAccount.CodeHash, f.gas, false)
	if err != nil {
		f.leave(bankAddr)
		return nil, err
	}

	transferMsg := core.TransferMsg{From: from, To: to, Coins: coins}
	bankCtx := f.context(bankAddr, &from, nil, nil)
	bankResult, err := bankInstance.Transfer(bankCtx, transferMsg)
	bankInstance.Close()
	f.leave(bankAddr)
	if err != nil {
		return nil, &core.VMTrapError{Reason: "bank transfer", Cause: err}
	}
	bankResp, err := bankResult.IntoResult()
	if err != nil {
		return nil, &core.BankRejectedError{Reason: err.Error()}
	}

	events := []core.Event{newEvent("transfer", bankAddr, bankResp.Attributes)}
	subEvents, err := f.handleSubMsgs(st, bankAddr, bankResp.SubMsgs)
	if err != nil {
		return nil, err
	}
	events = append(events, subEvents...)

	toAccount, ok, err := accountsMap.MayLoad(st, schema.AddressKey(to))
	if err != nil {
		return nil, &core.BackendError{Op: "load recipient account", Cause: err}
	}
	if !ok {
		return nil, &core.UnknownAccountError{Address: to}
	}

	if err := f.enter(to); err != nil {
		return nil, err
	}
	toStore := contractStore(st, to)
	toInstance, _, err := f.app.buildInstance(toStore, querier, f.block, toAccount.CodeHash, f.gas, false)
	if err != nil {
		f.leave(to)
		return nil, err
	}

	recvCtx := f.context(to, &from, &coins, nil)
	recvResult, err := toInstance.Receive(recvCtx)
	toInstance.Close()
	f.leave(to)
	if err != nil {
		return nil, &core.VMTrapError{Reason: "receive", Cause: err}
	}
	recvResp, err := recvResult.IntoResult()
	if err != nil {
		return nil, err
	}
	events[0].Attributes = append(events[0].Attributes, recvResp.Attributes...)

	recvSubEvents, err := f.handleSubMsgs(st, to, recvResp.SubMsgs)
	if err != nil {
		return nil, err
	}
	events = append(events, recvSubEvents...)

	return events, nil
}
