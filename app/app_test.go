package app

import (
	"encoding/json"
	"testing"

	"cwchain/bank"
	"cwchain/core"
	"cwchain/store"
	"cwchain/vm"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(store.NewMemBackend(), "test", 0, 0, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

// controllerExecuteMsg is the wire shape the controller native contract
// below accepts for execute.
type controllerExecuteMsg struct {
	FailSubMsg bool `json:"fail_submsg"`
}

// controllerEntryFuncs is a tiny contract used only to exercise submessage
// dispatch and reply handling: its execute entry point can queue a
// submessage targeting a nonexistent account, guaranteed to fail, with
// ReplyOn set to core.ReplyError, and its reply entry point records what it
// was told.
func controllerEntryFuncs(doomedTarget core.Address) vm.EntryFuncs {
	return vm.EntryFuncs{
		Instantiate: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			return core.NewResponse(), nil
		},
		Execute: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			var m controllerExecuteMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				return core.Response{}, err
			}
			if !m.FailSubMsg {
				return core.NewResponse().WithAttribute("action", "noop"), nil
			}
			subMsg, err := json.Marshal(map[string]any{})
			if err != nil {
				return core.Response{}, err
			}
			return core.NewResponse().WithSubMsg(core.SubMsg{
				ID: 1,
				Msg: core.Message{Execute: &core.MsgExecute{
					Contract: doomedTarget,
					Msg:      subMsg,
					Funds:    core.NewCoinsEmpty(),
				}},
				ReplyOn: core.ReplyError,
			}), nil
		},
		Reply: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			var result core.SubMsgResult
			if err := json.Unmarshal(msg, &result); err != nil {
				return core.Response{}, err
			}
			if result.Err != nil {
				return core.NewResponse().WithAttribute("reply_error", *result.Err), nil
			}
			return core.NewResponse().WithAttribute("reply_ok", "true"), nil
		},
	}
}

// vaultEntryFuncs is a minimal contract able to hold funds: instantiate and
// execute are no-ops, and receive always accepts.
func vaultEntryFuncs() vm.EntryFuncs {
	return vm.EntryFuncs{
		Instantiate: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			return core.NewResponse(), nil
		},
		Execute: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			return core.NewResponse().WithAttribute("action", "noop"), nil
		},
		Receive: func(ctx core.Context, env *vm.Environment) (core.Response, error) {
			return core.NewResponse().WithAttribute("action", "accepted"), nil
		},
	}
}

// bootstrap builds an App with a native bank contract instantiated at
// genesis with alice seeded with 1000 atom, returning the app, the bank
// address, and alice's address.
func bootstrap(t *testing.T) (a *App, bankAddr, alice core.Address) {
	t.Helper()
	a = newTestApp(t)

	bankCode := []byte("native:bank")
	bankHash := core.HashBytes(bankCode)
	a.RegisterNative(bankHash, bank.NativeEntryFuncs())

	alice = core.Address{1}
	bankSalt := []byte("bank")
	bankAddr = core.Derive(core.GenesisSender, bankHash, bankSalt)

	initMsg, err := json.Marshal(bank.InstantiateMsg{InitialBalances: []bank.Balance{
		{Address: alice, Coins: mustCoins(t, "atom", 1000)},
	}})
	if err != nil {
		t.Fatalf("marshal instantiate msg: %v", err)
	}

	msgs := []core.Message{
		{StoreCode: &core.MsgStoreCode{WasmByteCode: bankCode}},
		{Instantiate: &core.MsgInstantiate{
			CodeHash: bankHash,
			Msg:      initMsg,
			Salt:     bankSalt,
			Funds:    core.NewCoinsEmpty(),
			Admin:    &bankAddr,
		}},
	}

	root, err := a.Genesis(core.Config{Bank: bankAddr}, msgs)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if root.IsZero() {
		t.Fatal("expected a non-zero genesis root")
	}
	return a, bankAddr, alice
}

func mustCoins(t *testing.T, denom string, amount uint64) core.Coins {
	t.Helper()
	c, err := core.NewCoins(core.Coin{Denom: denom, Amount: core.NewUint128FromUint64(amount)})
	if err != nil {
		t.Fatalf("building coins: %v", err)
	}
	return c
}

func balanceOf(t *testing.T, a *App, addr core.Address, denom string) core.Uint128 {
	t.Helper()
	resp, err := a.RouteQuery(core.QueryRequest{Balance: &core.QueryBalance{Addr: addr, Denom: denom}})
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if resp.Balance == nil {
		t.Fatal("expected a balance in the response")
	}
	return resp.Balance.Amount
}

// TestGenesisSeedsBalance covers genesis producing a queryable balance (S1).
func TestGenesisSeedsBalance(t *testing.T) {
	a, _, alice := bootstrap(t)
	if got := balanceOf(t, a, alice, "atom"); got.Cmp(core.NewUint128FromUint64(1000)) != 0 {
		t.Fatalf("expected alice to hold 1000 atom after genesis, got %s", got)
	}
}

// TestExecuteWithFundsTransfersAndInvokesReceive covers a funds-carrying
// execute message moving value through the bank hook and into the
// recipient's own receive export (S2).
func TestExecuteWithFundsTransfersAndInvokesReceive(t *testing.T) {
	a, bankAddr, alice := bootstrap(t)

	vaultHash := core.HashBytes([]byte("native:vault"))
	a.RegisterNative(vaultHash, vaultEntryFuncs())

	storeCode := core.Tx{Sender: alice, Msgs: []core.Message{
		{StoreCode: &core.MsgStoreCode{WasmByteCode: []byte("native:vault")}},
	}}
	vaultSalt := []byte("vault")
	vaultAddr := core.Derive(alice, vaultHash, vaultSalt)
	instantiate := core.Tx{Sender: alice, Msgs: []core.Message{
		{Instantiate: &core.MsgInstantiate{CodeHash: vaultHash, Msg: []byte("{}"), Salt: vaultSalt, Funds: core.NewCoinsEmpty()}},
	}}

	_, results, err := a.Block(core.Block{Height: 1}, []core.Tx{storeCode, instantiate})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("tx %d failed: %v", i, r.Err)
		}
	}

	execute := core.Tx{Sender: alice, Msgs: []core.Message{
		{Execute: &core.MsgExecute{Contract: vaultAddr, Msg: []byte("{}"), Funds: mustCoins(t, "atom", 200)}},
	}}
	_, results, err = a.Block(core.Block{Height: 2}, []core.Tx{execute})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("execute with funds failed: %v", results[0].Err)
	}

	foundReceive := false
	for _, ev := range results[0].Events {
		if ev.Kind == "transfer" {
			for _, attr := range ev.Attributes {
				if attr.Key == "action" && attr.Value == "accepted" {
					foundReceive = true
				}
			}
		}
	}
	if !foundReceive {
		t.Fatalf("expected the transfer event to carry the recipient's receive attributes, got %+v", results[0].Events)
	}

	if got := balanceOf(t, a, alice, "atom"); got.Cmp(core.NewUint128FromUint64(800)) != 0 {
		t.Fatalf("expected alice left with 800 atom, got %s", got)
	}
	if got := balanceOf(t, a, vaultAddr, "atom"); got.Cmp(core.NewUint128FromUint64(200)) != 0 {
		t.Fatalf("expected vault to hold 200 atom, got %s", got)
	}
	_ = bankAddr
}

// TestExecuteWithFundsToUninstantiatedRecipientFails pins the current
// reading of §4.5/§4.8: transfer requires the recipient to already have an
// account to invoke receive on, so funds sent to an address nothing has
// ever instantiated are rejected rather than silently credited.
func TestExecuteWithFundsToUninstantiatedRecipientFails(t *testing.T) {
	a, _, alice := bootstrap(t)

	vaultHash := core.HashBytes([]byte("native:vault"))
	a.RegisterNative(vaultHash, vaultEntryFuncs())

	storeCode := core.Tx{Sender: alice, Msgs: []core.Message{
		{StoreCode: &core.MsgStoreCode{WasmByteCode: []byte("native:vault")}},
	}}
	_, results, err := a.Block(core.Block{Height: 1}, []core.Tx{storeCode})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("store code failed: %v", results[0].Err)
	}

	// vaultAddr is derived but never instantiated.
	vaultAddr := core.Derive(alice, vaultHash, []byte("never-instantiated"))
	execute := core.Tx{Sender: alice, Msgs: []core.Message{
		{Execute: &core.MsgExecute{Contract: vaultAddr, Msg: []byte("{}"), Funds: mustCoins(t, "atom", 200)}},
	}}
	_, results, err = a.Block(core.Block{Height: 2}, []core.Tx{execute})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err == nil {
		t.Fatal("expected a transfer to an uninstantiated recipient to fail")
	}
	if _, ok := results[0].Err.(*core.UnknownAccountError); !ok {
		t.Fatalf("expected UnknownAccountError, got %T: %v", results[0].Err, results[0].Err)
	}

	if got := balanceOf(t, a, alice, "atom"); got.Cmp(core.NewUint128FromUint64(1000)) != 0 {
		t.Fatalf("expected the rejected transfer to leave alice's balance untouched, got %s", got)
	}
}

// TestBurnToZeroRemovesBalance covers minting then burning the same amount
// through the bank contract's execute export, driven through the pipeline
// rather than called directly (S3).
func TestBurnToZeroRemovesBalance(t *testing.T) {
	a, bankAddr, alice := bootstrap(t)

	mintMsg, err := json.Marshal(bank.ExecuteMsg{Mint: &bank.MintMsg{To: alice, Denom: "gold", Amount: core.NewUint128FromUint64(50)}})
	if err != nil {
		t.Fatalf("marshal mint: %v", err)
	}
	burnMsg, err := json.Marshal(bank.ExecuteMsg{Burn: &bank.BurnMsg{From: alice, Denom: "gold", Amount: core.NewUint128FromUint64(50)}})
	if err != nil {
		t.Fatalf("marshal burn: %v", err)
	}

	tx := core.Tx{Sender: alice, Msgs: []core.Message{
		{Execute: &core.MsgExecute{Contract: bankAddr, Msg: mintMsg, Funds: core.NewCoinsEmpty()}},
		{Execute: &core.MsgExecute{Contract: bankAddr, Msg: burnMsg, Funds: core.NewCoinsEmpty()}},
	}}
	_, results, err := a.Block(core.Block{Height: 1}, []core.Tx{tx})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("mint/burn tx failed: %v", results[0].Err)
	}
	if got := balanceOf(t, a, alice, "gold"); !got.IsZero() {
		t.Fatalf("expected zero gold balance after burn-to-zero, got %s", got)
	}
}

// TestInstantiateRejectsAddressCollision covers two instantiate messages
// that would derive the same contract address (S4).
func TestInstantiateRejectsAddressCollision(t *testing.T) {
	a := newTestApp(t)
	code := []byte("native:dup")
	hash := core.HashBytes(code)
	a.RegisterNative(hash, vaultEntryFuncs())

	sender := core.Address{5}
	salt := []byte("same-salt")
	msgs := []core.Message{
		{StoreCode: &core.MsgStoreCode{WasmByteCode: code}},
		{Instantiate: &core.MsgInstantiate{CodeHash: hash, Msg: []byte("{}"), Salt: salt, Funds: core.NewCoinsEmpty()}},
		{Instantiate: &core.MsgInstantiate{CodeHash: hash, Msg: []byte("{}"), Salt: salt, Funds: core.NewCoinsEmpty()}},
	}
	tx := core.Tx{Sender: sender, Msgs: msgs}
	_, results, err := a.Block(core.Block{Height: 1}, []core.Tx{tx})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err == nil {
		t.Fatal("expected the second instantiate at the same address to fail")
	}
	if _, ok := results[0].Err.(*core.AccountExistsError); !ok {
		t.Fatalf("expected AccountExistsError, got %T: %v", results[0].Err, results[0].Err)
	}
}

// TestSubMsgReplyOnError covers a submessage whose dispatch fails, with
// ReplyOn set to error, invoking the parent's reply with the failure (S5).
func TestSubMsgReplyOnError(t *testing.T) {
	a := newTestApp(t)
	doomed := core.Address{0xde, 0xad}

	controllerCode := []byte("native:controller")
	controllerHash := core.HashBytes(controllerCode)
	a.RegisterNative(controllerHash, controllerEntryFuncs(doomed))

	sender := core.Address{6}
	salt := []byte("controller")
	controllerAddr := core.Derive(sender, controllerHash, salt)

	setup := core.Tx{Sender: sender, Msgs: []core.Message{
		{StoreCode: &core.MsgStoreCode{WasmByteCode: controllerCode}},
		{Instantiate: &core.MsgInstantiate{CodeHash: controllerHash, Msg: []byte("{}"), Salt: salt, Funds: core.NewCoinsEmpty()}},
	}}
	_, results, err := a.Block(core.Block{Height: 1}, []core.Tx{setup})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("setup failed: %v", results[0].Err)
	}

	execMsg, err := json.Marshal(controllerExecuteMsg{FailSubMsg: true})
	if err != nil {
		t.Fatalf("marshal exec msg: %v", err)
	}
	run := core.Tx{Sender: sender, Msgs: []core.Message{
		{Execute: &core.MsgExecute{Contract: controllerAddr, Msg: execMsg, Funds: core.NewCoinsEmpty()}},
	}}
	_, results, err = a.Block(core.Block{Height: 2}, []core.Tx{run})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("expected the failing submessage to be absorbed by reply_on=error, got %v", results[0].Err)
	}

	foundReply := false
	for _, ev := range results[0].Events {
		if ev.Kind != "reply" {
			continue
		}
		for _, attr := range ev.Attributes {
			if attr.Key == "reply_error" {
				foundReply = true
			}
		}
	}
	if !foundReply {
		t.Fatalf("expected a reply event carrying reply_error, got %+v", results[0].Events)
	}
}

// TestStoreCodeRejectsDuplicateUpload covers re-uploading identical bytecode
// a second time (S6).
func TestStoreCodeRejectsDuplicateUpload(t *testing.T) {
	a := newTestApp(t)
	code := []byte("same bytes twice")
	sender := core.Address{7}
	tx := core.Tx{Sender: sender, Msgs: []core.Message{
		{StoreCode: &core.MsgStoreCode{WasmByteCode: code}},
		{StoreCode: &core.MsgStoreCode{WasmByteCode: code}},
	}}
	_, results, err := a.Block(core.Block{Height: 1}, []core.Tx{tx})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if results[0].Err == nil {
		t.Fatal("expected the second store_code of identical bytes to fail")
	}
	if _, ok := results[0].Err.(*core.CodeExistsError); !ok {
		t.Fatalf("expected CodeExistsError, got %T: %v", results[0].Err, results[0].Err)
	}
}
