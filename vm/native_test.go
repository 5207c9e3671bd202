package vm

import (
	"encoding/json"
	"errors"
	"testing"

	"cwchain/core"
	"cwchain/store"
)

func TestNativeInstanceInstantiateAndExecute(t *testing.T) {
	backend := store.NewMemBackend()
	counterKey := []byte("count")

	funcs := EntryFuncs{
		Instantiate: func(ctx core.Context, msg []byte, env *Environment) (core.Response, error) {
			if err := env.DBWrite(counterKey, []byte("0")); err != nil {
				return core.Response{}, err
			}
			return core.NewResponse(), nil
		},
		Execute: func(ctx core.Context, msg []byte, env *Environment) (core.Response, error) {
			cur, err := env.DBRead(counterKey)
			if err != nil {
				return core.Response{}, err
			}
			if cur == nil {
				return core.Response{}, errors.New("not instantiated")
			}
			if err := env.DBWrite(counterKey, []byte("1")); err != nil {
				return core.Response{}, err
			}
			return core.NewResponse().WithAttribute("action", "bump"), nil
		},
	}

	block := core.Block{Height: 1}
	ctx := core.Context{ChainID: "test", BlockHeight: block.Height}
	env := NewEnvironment(backend, false, nil, block, "test", NewGasMeter(1_000_000))
	inst := NewNativeInstance(funcs, env)

	res, err := inst.Instantiate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Err != nil {
		t.Fatalf("unexpected contract error: %s", *res.Err)
	}

	env2 := NewEnvironment(backend, false, nil, block, "test", NewGasMeter(1_000_000))
	inst2 := NewNativeInstance(funcs, env2)
	res2, err := inst2.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Err != nil {
		t.Fatalf("unexpected contract error: %s", *res2.Err)
	}
	if len(res2.Ok.Attributes) != 1 || res2.Ok.Attributes[0].Value != "bump" {
		t.Fatalf("got response %+v", res2.Ok)
	}

	got, err := backend.Get(counterKey)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1" {
		t.Fatalf("got %q, want %q", got, "1")
	}
}

func TestNativeInstanceWrapsClosureErrorAsContractErr(t *testing.T) {
	funcs := EntryFuncs{
		Execute: func(ctx core.Context, msg []byte, env *Environment) (core.Response, error) {
			return core.Response{}, errors.New("boom")
		},
	}
	env := NewEnvironment(store.NewMemBackend(), false, nil, core.Block{}, "test", NewGasMeter(1_000_000))
	inst := NewNativeInstance(funcs, env)

	res, err := inst.Execute(core.Context{}, nil)
	if err != nil {
		t.Fatalf("closure errors should surface as ContractResult.Err, not a Go error: %v", err)
	}
	if res.Err == nil || *res.Err != "boom" {
		t.Fatalf("got %+v", res)
	}
}

func TestNativeInstanceMissingExportIsAVMTrap(t *testing.T) {
	env := NewEnvironment(store.NewMemBackend(), false, nil, core.Block{}, "test", NewGasMeter(1_000_000))
	inst := NewNativeInstance(EntryFuncs{}, env)

	if _, err := inst.Query(core.Context{}, nil); err == nil {
		t.Fatal("expected an error for a missing query export")
	}
}

func TestNativeInstanceQueryBank(t *testing.T) {
	funcs := EntryFuncs{
		QueryBank: func(ctx core.Context, msg core.BankQuery, env *Environment) (core.BankQueryResponse, error) {
			amount := core.NewUint128FromUint64(42)
			return core.BankQueryResponse{Supply: &core.Coin{Denom: "uatom", Amount: amount}}, nil
		},
	}
	env := NewEnvironment(store.NewMemBackend(), true, nil, core.Block{}, "test", NewGasMeter(1_000_000))
	inst := NewNativeInstance(funcs, env)

	res, err := inst.QueryBank(core.Context{}, core.BankQuery{Supply: &core.QuerySupply{Denom: "uatom"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Err != nil {
		t.Fatalf("unexpected err: %s", *res.Err)
	}
	raw, err := json.Marshal(res.Ok)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty encoded response")
	}
}
