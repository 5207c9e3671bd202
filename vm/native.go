package vm

import (
	"encoding/json"
	"fmt"

	"cwchain/core"
)

// NativeInstance dispatches entry-point calls straight to Go closures,
// skipping Wasm entirely. It backs the bank contract's fast path (§4.9)
// and lets the pipeline and store layers be exercised in tests without a
// Wasm toolchain, the same role the reference VM's SuperLightVM/LightVM
// tiers play ahead of its HeavyVM.
type NativeInstance struct {
	funcs EntryFuncs
	env   *Environment
}

// NewNativeInstance builds a NativeInstance bound to one invocation
// Environment. A fresh Environment (and so a fresh NativeInstance) is
// expected per call, matching the Wasm path's lifecycle.
func NewNativeInstance(funcs EntryFuncs, env *Environment) *NativeInstance {
	return &NativeInstance{funcs: funcs, env: env}
}

func missingExport(name string) error {
	return fmt.Errorf("vm: native instance has no %s export", name)
}

func (n *NativeInstance) Instantiate(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.Instantiate == nil {
		return core.ContractResult[core.Response]{}, missingExport("instantiate")
	}
	resp, err := n.funcs.Instantiate(ctx, msg, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) Execute(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.Execute == nil {
		return core.ContractResult[core.Response]{}, missingExport("execute")
	}
	resp, err := n.funcs.Execute(ctx, msg, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) Query(ctx core.Context, msg []byte) (core.ContractResult[json.RawMessage], error) {
	defer n.env.closeIterators()
	if n.funcs.Query == nil {
		return core.ContractResult[json.RawMessage]{}, missingExport("query")
	}
	raw, err := n.funcs.Query(ctx, msg, n.env)
	return toResult(json.RawMessage(raw), err), nil
}

func (n *NativeInstance) Migrate(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.Migrate == nil {
		return core.ContractResult[core.Response]{}, missingExport("migrate")
	}
	resp, err := n.funcs.Migrate(ctx, msg, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) Reply(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.Reply == nil {
		return core.ContractResult[core.Response]{}, missingExport("reply")
	}
	resp, err := n.funcs.Reply(ctx, msg, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) Receive(ctx core.Context) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.Receive == nil {
		return core.ContractResult[core.Response]{}, missingExport("receive")
	}
	resp, err := n.funcs.Receive(ctx, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) BeforeTx(ctx core.Context, tx core.Tx) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.BeforeTx == nil {
		return core.ContractResult[core.Response]{}, missingExport("before_tx")
	}
	resp, err := n.funcs.BeforeTx(ctx, tx, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) Transfer(ctx core.Context, msg core.TransferMsg) (core.ContractResult[core.Response], error) {
	defer n.env.closeIterators()
	if n.funcs.Transfer == nil {
		return core.ContractResult[core.Response]{}, missingExport("transfer")
	}
	resp, err := n.funcs.Transfer(ctx, msg, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) QueryBank(ctx core.Context, msg core.BankQuery) (core.ContractResult[core.BankQueryResponse], error) {
	defer n.env.closeIterators()
	if n.funcs.QueryBank == nil {
		return core.ContractResult[core.BankQueryResponse]{}, missingExport("query_bank")
	}
	resp, err := n.funcs.QueryBank(ctx, msg, n.env)
	return toResult(resp, err), nil
}

func (n *NativeInstance) Close() error { return nil }

// toResult folds a closure's (value, error) return into a ContractResult:
// an error here is the contract's own deterministic rejection, not a VM
// trap, so it is carried in-band rather than propagated as a Go error.
func toResult[T any](v T, err error) core.ContractResult[T] {
	if err != nil {
		return core.Err[T](err.Error())
	}
	return core.Ok(v)
}
