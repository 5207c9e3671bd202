package app

import (
	"encoding/json"
	"fmt"

	"cwchain/core"
	"cwchain/schema"
	"cwchain/store"
)

// handleSubMsgs implements §4.6.2/§4.6.3: dispatch each of parent's
// submessages in declared order, each under its own savepoint layered on
// st. On completion, if the submessage's reply_on policy matches the
// outcome, invoke the parent's reply with the (now-settled) result and
// splice in whatever submessages that reply itself returns. A submessage
// whose outcome is not replied-on propagates its own failure straight up,
// unwinding everything back to the tx (or to the next outer savepoint).
func (f *txFrame) handleSubMsgs(st store.Backend, parent core.Address, submsgs []core.SubMsg) ([]core.Event, error) {
	var events []core.Event
	for _, sm := range submsgs {
		subEvents, err := f.handleSubMsg(st, parent, sm)
		if err != nil {
			return nil, err
		}
		events = append(events, subEvents...)
	}
	return events, nil
}

func (f *txFrame) handleSubMsg(st store.Backend, parent core.Address, sm core.SubMsg) ([]core.Event, error) {
	sp := store.NewSavepoint(st)
	result, dispatchErr := f.dispatchMessage(sp, parent, sm.Msg)

	if dispatchErr == nil {
		if err := sp.Commit(); err != nil {
			return nil, &core.BackendError{Op: "commit submessage", Cause: err}
		}
		if sm.ReplyOn != core.ReplySuccess && sm.ReplyOn != core.ReplyAlways {
			// Never/Error-only: the result is discarded silently, writes
			// already landed via Commit above.
			return result.events, nil
		}
		resp := core.Response{Attributes: []core.Attribute{}, SubMsgs: []core.SubMsg{}}
		for _, ev := range result.events {
			resp.Attributes = append(resp.Attributes, ev.Attributes...)
		}
		submsgResult := core.SubMsgResult{ID: sm.ID, Ok: &resp}
		replyEvents, err := f.reply(st, parent, submsgResult)
		if err != nil {
			return nil, err
		}
		return append(result.events, replyEvents...), nil
	}

	// Submessage failed: its writes never happened.
	sp.Discard()
	if sm.ReplyOn != core.ReplyError && sm.ReplyOn != core.ReplyAlways {
		return nil, dispatchErr
	}
	errMsg := dispatchErr.Error()
	submsgResult := core.SubMsgResult{ID: sm.ID, Err: &errMsg}
	replyEvents, err := f.reply(st, parent, submsgResult)
	if err != nil {
		return nil, err
	}
	return replyEvents, nil
}

// reply invokes parent's reply entry point with result, folding its own
// response and submessages in exactly like execute's.
func (f *txFrame) reply(st store.Backend, parent core.Address, result core.SubMsgResult) ([]core.Event, error) {
	account, ok, err := accountsMap.MayLoad(st, schema.AddressKey(parent))
	if err != nil {
		return nil, &core.BackendError{Op: "load account", Cause: err}
	}
	if !ok {
		return nil, &core.UnknownAccountError{Address: parent}
	}

	// parent is already on the call stack from the outer instantiate/
	// execute/migrate invocation that is dispatching this submessage —
	// reply is a continuation of that same call, not a fresh re-entrant
	// one, so it does not go through f.enter/f.leave again.
	cstore := contractStore(st, parent)
	querier := f.querierFor(st)
	instance, _, err := f.app.buildInstance(cstore, querier, f.block, account.CodeHash, f.gas, false)
	if err != nil {
		f.app.log.WithField("address", parent).WithError(err).Warn("failed to invoke reply")
		return nil, err
	}
	defer instance.Close()

	ctx := f.context(parent, nil, nil, &result)
	msgBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("app: encoding submsg result: %w", err)
	}
	callResult, err := instance.Reply(ctx, msgBytes)
	if err != nil {
		f.app.log.WithField("address", parent).WithError(err).Warn("failed to invoke reply: vm trap")
		return nil, &core.VMTrapError{Reason: "reply", Cause: err}
	}
	resp, err := callResult.IntoResult()
	if err != nil {
		f.app.log.WithField("address", parent).WithError(err).Warn("reply returned an error")
		return nil, err
	}

	events := []core.Event{newEvent("reply", parent, resp.Attributes)}
	subEvents, err := f.handleSubMsgs(st, parent, resp.SubMsgs)
	if err != nil {
		return nil, err
	}
	return append(events, subEvents...), nil
}
