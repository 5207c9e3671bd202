package vm

import (
	"encoding/json"

	"cwchain/core"
)

// Instance is a live handle to one contract's code, scoped to a single
// entry-point invocation's environment. Every method call here corresponds
// to one of the guest-exported lifecycle symbols in §4.4/§4.5.
//
// The returned error is reserved for VM-trap-level failures (malformed
// ABI payloads, a missing export, a wasmer runtime error) — a contract's
// own deterministic failure is instead carried inside the ContractResult's
// Err variant, exactly mirroring the reference VM's two-layer
// VmResult<GenericResult<T>> split.
type Instance interface {
	Instantiate(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error)
	Execute(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error)
	Query(ctx core.Context, msg []byte) (core.ContractResult[json.RawMessage], error)
	Migrate(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error)
	Reply(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error)
	Receive(ctx core.Context) (core.ContractResult[core.Response], error)
	BeforeTx(ctx core.Context, tx core.Tx) (core.ContractResult[core.Response], error)
	Transfer(ctx core.Context, msg core.TransferMsg) (core.ContractResult[core.Response], error)
	QueryBank(ctx core.Context, msg core.BankQuery) (core.ContractResult[core.BankQueryResponse], error)
	Close() error
}

// EntryFuncs is the set of lifecycle callbacks a NativeInstance dispatches
// to directly, bypassing Wasm entirely. Any entry left nil responds with a
// VM trap when called, matching a real module missing that export.
type EntryFuncs struct {
	Instantiate func(ctx core.Context, msg []byte, env *Environment) (core.Response, error)
	Execute     func(ctx core.Context, msg []byte, env *Environment) (core.Response, error)
	Query       func(ctx core.Context, msg []byte, env *Environment) ([]byte, error)
	Migrate     func(ctx core.Context, msg []byte, env *Environment) (core.Response, error)
	Reply       func(ctx core.Context, msg []byte, env *Environment) (core.Response, error)
	Receive     func(ctx core.Context, env *Environment) (core.Response, error)
	BeforeTx    func(ctx core.Context, tx core.Tx, env *Environment) (core.Response, error)
	Transfer    func(ctx core.Context, msg core.TransferMsg, env *Environment) (core.Response, error)
	QueryBank   func(ctx core.Context, msg core.BankQuery, env *Environment) (core.BankQueryResponse, error)
}
