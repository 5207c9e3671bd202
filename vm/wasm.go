package vm

import (
	"encoding/json"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"cwchain/core"
	"cwchain/store"
)

// WasmInstance is the real, sandboxed Instance implementation: compiled
// guest bytecode running under wasmer with the nine host imports wired
// under the "env" namespace, exactly as laid out in §4.4/§4.5.
type WasmInstance struct {
	store      *wasmer.Store
	instance   *wasmer.Instance
	mem        *wasmer.Memory
	allocate   wasmer.NativeFunction
	deallocate wasmer.NativeFunction
	env        *Environment
}

// NewWasmInstance compiles wasmByteCode and links it against env, mirroring
// build_from_code in the reference VM: compile, build the import object,
// instantiate, then pull out the memory and allocator exports every guest
// module is required to provide.
func NewWasmInstance(wasmByteCode []byte, env *Environment) (*WasmInstance, error) {
	engine := wasmer.NewEngine()
	wstore := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(wstore, wasmByteCode)
	if err != nil {
		return nil, fmt.Errorf("vm: compiling module: %w", err)
	}

	w := &WasmInstance{store: wstore, env: env}
	imports := w.registerHostImports(wstore)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, fmt.Errorf("vm: instantiating module: %w", err)
	}
	w.instance = instance

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, fmt.Errorf("vm: module does not export memory: %w", err)
	}
	w.mem = mem

	allocate, err := instance.Exports.GetFunction("allocate")
	if err != nil {
		return nil, fmt.Errorf("vm: module does not export allocate: %w", err)
	}
	w.allocate = allocate

	deallocate, err := instance.Exports.GetFunction("deallocate")
	if err != nil {
		return nil, fmt.Errorf("vm: module does not export deallocate: %w", err)
	}
	w.deallocate = deallocate

	return w, nil
}

func (w *WasmInstance) Close() error {
	w.env.closeIterators()
	return nil
}

// --- guest memory marshalling -------------------------------------------

func (w *WasmInstance) writeToMemory(data []byte) (uint32, error) {
	dataPtrAny, err := w.allocate(int32(len(data)))
	if err != nil {
		return 0, fmt.Errorf("vm: calling allocate: %w", err)
	}
	dataPtr := uint32(dataPtrAny.(int32))
	copy(w.mem.Data()[dataPtr:], data)

	region := Region{Offset: dataPtr, Capacity: uint32(len(data)), Length: uint32(len(data))}
	regionPtrAny, err := w.allocate(int32(RegionSize))
	if err != nil {
		return 0, fmt.Errorf("vm: calling allocate: %w", err)
	}
	regionPtr := uint32(regionPtrAny.(int32))
	encoded := region.Encode()
	copy(w.mem.Data()[regionPtr:], encoded[:])

	return regionPtr, nil
}

func (w *WasmInstance) readRegion(ptr uint32) (Region, error) {
	if int(ptr)+RegionSize > len(w.mem.Data()) {
		return Region{}, fmt.Errorf("vm: region pointer %d out of bounds", ptr)
	}
	var buf [RegionSize]byte
	copy(buf[:], w.mem.Data()[ptr:ptr+RegionSize])
	return DecodeRegion(buf[:]), nil
}

func (w *WasmInstance) readData(region Region) ([]byte, error) {
	end := region.Offset + region.Length
	if int(end) > len(w.mem.Data()) {
		return nil, fmt.Errorf("vm: region data out of bounds")
	}
	out := make([]byte, region.Length)
	copy(out, w.mem.Data()[region.Offset:end])
	return out, nil
}

// readThenWipe reads the data pointed to by the Region at ptr, then frees
// both the data buffer and the Region struct itself in the guest's heap.
func (w *WasmInstance) readThenWipe(ptr uint32) ([]byte, error) {
	region, err := w.readRegion(ptr)
	if err != nil {
		return nil, err
	}
	data, err := w.readData(region)
	if err != nil {
		return nil, err
	}
	if _, err := w.deallocate(int32(region.Offset)); err != nil {
		return nil, fmt.Errorf("vm: calling deallocate: %w", err)
	}
	if _, err := w.deallocate(int32(ptr)); err != nil {
		return nil, fmt.Errorf("vm: calling deallocate: %w", err)
	}
	return data, nil
}

// --- entry point dispatch -------------------------------------------------

func (w *WasmInstance) callIn0Out1(name string) ([]byte, error) {
	fn, err := w.instance.Exports.GetFunction(name)
	if err != nil {
		return nil, fmt.Errorf("vm: module has no %s export: %w", name, err)
	}
	resPtrAny, err := fn()
	if err != nil {
		return nil, fmt.Errorf("vm: calling %s: %w", name, err)
	}
	return w.readThenWipe(uint32(resPtrAny.(int32)))
}

func (w *WasmInstance) callIn1Out1(name string, msg []byte) ([]byte, error) {
	fn, err := w.instance.Exports.GetFunction(name)
	if err != nil {
		return nil, fmt.Errorf("vm: module has no %s export: %w", name, err)
	}
	msgPtr, err := w.writeToMemory(msg)
	if err != nil {
		return nil, err
	}
	resPtrAny, err := fn(int32(msgPtr))
	if err != nil {
		return nil, fmt.Errorf("vm: calling %s: %w", name, err)
	}
	return w.readThenWipe(uint32(resPtrAny.(int32)))
}

func callAndDecode[T any](w *WasmInstance, name string, ctx core.Context, msg []byte) (core.ContractResult[T], error) {
	ctxBytes, err := json.Marshal(ctx)
	if err != nil {
		return core.ContractResult[T]{}, err
	}

	ctxPtr, err := w.writeToMemory(ctxBytes)
	if err != nil {
		return core.ContractResult[T]{}, err
	}
	msgPtr, err := w.writeToMemory(msg)
	if err != nil {
		return core.ContractResult[T]{}, err
	}

	fn, err := w.instance.Exports.GetFunction(name)
	if err != nil {
		return core.ContractResult[T]{}, fmt.Errorf("vm: module has no %s export: %w", name, err)
	}
	resPtrAny, err := fn(int32(ctxPtr), int32(msgPtr))
	if err != nil {
		return core.ContractResult[T]{}, fmt.Errorf("vm: calling %s: %w", name, err)
	}
	resBytes, err := w.readThenWipe(uint32(resPtrAny.(int32)))
	if err != nil {
		return core.ContractResult[T]{}, err
	}

	var result core.ContractResult[T]
	if err := json.Unmarshal(resBytes, &result); err != nil {
		return core.ContractResult[T]{}, fmt.Errorf("vm: decoding %s result: %w", name, err)
	}
	return result, nil
}

func (w *WasmInstance) Instantiate(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	return callAndDecode[core.Response](w, "instantiate", ctx, msg)
}

func (w *WasmInstance) Execute(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	return callAndDecode[core.Response](w, "execute", ctx, msg)
}

func (w *WasmInstance) Query(ctx core.Context, msg []byte) (core.ContractResult[json.RawMessage], error) {
	defer w.env.closeIterators()
	return callAndDecode[json.RawMessage](w, "query", ctx, msg)
}

func (w *WasmInstance) Migrate(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	return callAndDecode[core.Response](w, "migrate", ctx, msg)
}

func (w *WasmInstance) Reply(ctx core.Context, msg []byte) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	return callAndDecode[core.Response](w, "reply", ctx, msg)
}

func (w *WasmInstance) Receive(ctx core.Context) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	ctxBytes, err := json.Marshal(ctx)
	if err != nil {
		return core.ContractResult[core.Response]{}, err
	}
	resBytes, err := w.callInCtxOnly("receive", ctxBytes)
	if err != nil {
		return core.ContractResult[core.Response]{}, err
	}
	var result core.ContractResult[core.Response]
	if err := json.Unmarshal(resBytes, &result); err != nil {
		return core.ContractResult[core.Response]{}, err
	}
	return result, nil
}

func (w *WasmInstance) callInCtxOnly(name string, ctxBytes []byte) ([]byte, error) {
	ctxPtr, err := w.writeToMemory(ctxBytes)
	if err != nil {
		return nil, err
	}
	fn, err := w.instance.Exports.GetFunction(name)
	if err != nil {
		return nil, fmt.Errorf("vm: module has no %s export: %w", name, err)
	}
	resPtrAny, err := fn(int32(ctxPtr))
	if err != nil {
		return nil, fmt.Errorf("vm: calling %s: %w", name, err)
	}
	return w.readThenWipe(uint32(resPtrAny.(int32)))
}

func (w *WasmInstance) BeforeTx(ctx core.Context, tx core.Tx) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	txBytes, err := json.Marshal(tx)
	if err != nil {
		return core.ContractResult[core.Response]{}, err
	}
	return callAndDecode[core.Response](w, "before_tx", ctx, txBytes)
}

func (w *WasmInstance) Transfer(ctx core.Context, msg core.TransferMsg) (core.ContractResult[core.Response], error) {
	defer w.env.closeIterators()
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return core.ContractResult[core.Response]{}, err
	}
	return callAndDecode[core.Response](w, "transfer", ctx, msgBytes)
}

func (w *WasmInstance) QueryBank(ctx core.Context, msg core.BankQuery) (core.ContractResult[core.BankQueryResponse], error) {
	defer w.env.closeIterators()
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return core.ContractResult[core.BankQueryResponse]{}, err
	}
	return callAndDecode[core.BankQueryResponse](w, "query_bank", ctx, msgBytes)
}

// --- host imports ----------------------------------------------------------

func i32Type(nIn, nOut int) *wasmer.FunctionType {
	in := make([]wasmer.ValueKind, nIn)
	out := make([]wasmer.ValueKind, nOut)
	for i := range in {
		in[i] = wasmer.ValueKind(wasmer.I32)
	}
	for i := range out {
		out[i] = wasmer.ValueKind(wasmer.I32)
	}
	return wasmer.NewFunctionType(wasmer.NewValueTypes(in...), wasmer.NewValueTypes(out...))
}

// registerHostImports builds the "env" import namespace backing the nine
// host functions every guest module links against (§4.5). Reads use
// db_read/db_scan/db_next; db_write/db_remove enforce the environment's
// read-only flag via the GasMeter-guarded Environment methods.
func (w *WasmInstance) registerHostImports(wstore *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	dbRead := wasmer.NewFunction(wstore, i32Type(1, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		keyRegion, err := w.readRegion(uint32(args[0].I32()))
		if err != nil {
			return nil, err
		}
		key, err := w.readData(keyRegion)
		if err != nil {
			return nil, err
		}
		val, err := w.env.DBRead(key)
		if err != nil {
			return nil, err
		}
		if val == nil {
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		}
		ptr, err := w.writeToMemory(val)
		if err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(ptr))}, nil
	})

	dbWrite := wasmer.NewFunction(wstore, i32Type(2, 0), func(args []wasmer.Value) ([]wasmer.Value, error) {
		keyRegion, err := w.readRegion(uint32(args[0].I32()))
		if err != nil {
			return nil, err
		}
		key, err := w.readData(keyRegion)
		if err != nil {
			return nil, err
		}
		valRegion, err := w.readRegion(uint32(args[1].I32()))
		if err != nil {
			return nil, err
		}
		val, err := w.readData(valRegion)
		if err != nil {
			return nil, err
		}
		if err := w.env.DBWrite(key, val); err != nil {
			return nil, err
		}
		return nil, nil
	})

	dbRemove := wasmer.NewFunction(wstore, i32Type(1, 0), func(args []wasmer.Value) ([]wasmer.Value, error) {
		keyRegion, err := w.readRegion(uint32(args[0].I32()))
		if err != nil {
			return nil, err
		}
		key, err := w.readData(keyRegion)
		if err != nil {
			return nil, err
		}
		if err := w.env.DBRemove(key); err != nil {
			return nil, err
		}
		return nil, nil
	})

	dbScan := wasmer.NewFunction(wstore, i32Type(3, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		var min, max []byte
		if ptr := uint32(args[0].I32()); ptr != 0 {
			region, err := w.readRegion(ptr)
			if err != nil {
				return nil, err
			}
			if min, err = w.readData(region); err != nil {
				return nil, err
			}
		}
		if ptr := uint32(args[1].I32()); ptr != 0 {
			region, err := w.readRegion(ptr)
			if err != nil {
				return nil, err
			}
			if max, err = w.readData(region); err != nil {
				return nil, err
			}
		}
		order := store.Ascending
		if args[2].I32() != 0 {
			order = store.Descending
		}
		id, err := w.env.DBScan(min, max, order)
		if err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(id))}, nil
	})

	dbNext := wasmer.NewFunction(wstore, i32Type(1, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		id := uint32(args[0].I32())
		key, val, ok, err := w.env.DBNext(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		}
		record := JoinRecordTail(key, val)
		ptr, err := w.writeToMemory(record)
		if err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(ptr))}, nil
	})

	debug := wasmer.NewFunction(wstore, i32Type(1, 0), func(args []wasmer.Value) ([]wasmer.Value, error) {
		region, err := w.readRegion(uint32(args[0].I32()))
		if err != nil {
			return nil, err
		}
		msg, err := w.readData(region)
		if err != nil {
			return nil, err
		}
		if err := w.env.Debug(string(msg)); err != nil {
			return nil, err
		}
		return nil, nil
	})

	queryChain := wasmer.NewFunction(wstore, i32Type(1, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		region, err := w.readRegion(uint32(args[0].I32()))
		if err != nil {
			return nil, err
		}
		reqBytes, err := w.readData(region)
		if err != nil {
			return nil, err
		}
		var req core.QueryRequest
		if err := json.Unmarshal(reqBytes, &req); err != nil {
			return nil, fmt.Errorf("vm: decoding query_chain request: %w", err)
		}
		resp, err := w.env.QueryChain(req)
		var result core.ContractResult[core.QueryResponse]
		if err != nil {
			msg := err.Error()
			result = core.ContractResult[core.QueryResponse]{Err: &msg}
		} else {
			result = core.Ok(resp)
		}
		respBytes, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		ptr, err := w.writeToMemory(respBytes)
		if err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(ptr))}, nil
	})

	verify := func(verifyFn func(msgHash, sig, pubkey []byte) (bool, error)) *wasmer.Function {
		return wasmer.NewFunction(wstore, i32Type(3, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
			hashRegion, err := w.readRegion(uint32(args[0].I32()))
			if err != nil {
				return nil, err
			}
			msgHash, err := w.readData(hashRegion)
			if err != nil {
				return nil, err
			}
			sigRegion, err := w.readRegion(uint32(args[1].I32()))
			if err != nil {
				return nil, err
			}
			sig, err := w.readData(sigRegion)
			if err != nil {
				return nil, err
			}
			pubkeyRegion, err := w.readRegion(uint32(args[2].I32()))
			if err != nil {
				return nil, err
			}
			pubkey, err := w.readData(pubkeyRegion)
			if err != nil {
				return nil, err
			}
			if err := w.env.Gas.Consume(GasCostVerify); err != nil {
				return nil, err
			}
			ok, err := verifyFn(msgHash, sig, pubkey)
			if err != nil {
				return nil, err
			}
			if ok {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})
	}

	imports.Register("env", map[string]wasmer.IntoExtern{
		"db_read":          dbRead,
		"db_write":         dbWrite,
		"db_remove":        dbRemove,
		"db_scan":          dbScan,
		"db_next":          dbNext,
		"debug":            debug,
		"query_chain":      queryChain,
		"secp256k1_verify": verify(Secp256k1Verify),
		"secp256r1_verify": verify(Secp256r1Verify),
	})

	return imports
}
