// Package genesis assembles and applies the initial chain state (§4.6,
// §6): a Builder for constructing a core.GenesisState programmatically,
// mirroring the reference SDK's GenesisBuilder, and Apply, which drives it
// through the execution pipeline at height zero.
package genesis

import (
	"encoding/json"
	"sort"

	"github.com/sirupsen/logrus"

	"cwchain/app"
	"cwchain/core"
)

// AdminOption decides a newly instantiated contract's admin at genesis-build
// time. It has no direct counterpart in core.Message — Decide folds it into
// the concrete *core.Address (or nil) the Instantiate message carries.
type AdminOption struct {
	self bool
	addr *core.Address
}

// NoAdmin leaves the contract without an admin: migrate will always fail
// with NotAdminError.
func NoAdmin() AdminOption { return AdminOption{} }

// SetToSelf makes the contract its own admin, letting it migrate itself
// (e.g. from its own execute handler dispatching a Migrate submessage).
func SetToSelf() AdminOption { return AdminOption{self: true} }

// SetTo names an explicit admin address.
func SetTo(addr core.Address) AdminOption { return AdminOption{addr: &addr} }

// Decide resolves the option against the contract address it was computed
// for.
func (o AdminOption) Decide(contract core.Address) *core.Address {
	if o.self {
		return &contract
	}
	return o.addr
}

// Builder assembles a core.GenesisState without the caller hand-writing
// the message list or worrying about StoreCode/instantiate ordering. It
// mirrors the reference SDK's GenesisBuilder; it does not reproduce that
// builder's CometBFT-genesis-file patching half, which belongs to the
// out-of-scope CLI/genesis-file assembler.
type Builder struct {
	config    *core.Config
	codeMsgs  []core.Message
	otherMsgs []core.Message
}

func NewBuilder() *Builder {
	return &Builder{}
}

// StoreCode queues a StoreCode message for wasmByteCode and returns the
// code hash it will be stored under.
func (b *Builder) StoreCode(wasmByteCode []byte) core.Hash {
	codeHash := core.HashBytes(wasmByteCode)
	b.codeMsgs = append(b.codeMsgs, core.Message{StoreCode: &core.MsgStoreCode{WasmByteCode: wasmByteCode}})
	return codeHash
}

// Instantiate queues an Instantiate message and returns the address the
// contract will be created at, computed the same way the pipeline itself
// derives it (sender is always the all-zero genesis sender).
func (b *Builder) Instantiate(codeHash core.Hash, msg any, salt []byte, admin AdminOption) (core.Address, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return core.Address{}, err
	}
	contract := core.Derive(core.GenesisSender, codeHash, salt)
	b.otherMsgs = append(b.otherMsgs, core.Message{Instantiate: &core.MsgInstantiate{
		CodeHash: codeHash,
		Msg:      raw,
		Salt:     salt,
		Funds:    core.NewCoinsEmpty(),
		Admin:    admin.Decide(contract),
	}})
	return contract, nil
}

// StoreCodeAndInstantiate is a convenience combining StoreCode and
// Instantiate in one call.
func (b *Builder) StoreCodeAndInstantiate(wasmByteCode []byte, msg any, salt []byte, admin AdminOption) (core.Address, error) {
	codeHash := b.StoreCode(wasmByteCode)
	return b.Instantiate(codeHash, msg, salt, admin)
}

// Execute queues an Execute message against an already-instantiated
// contract (typically one this same Builder instantiated earlier).
func (b *Builder) Execute(contract core.Address, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.otherMsgs = append(b.otherMsgs, core.Message{Execute: &core.MsgExecute{
		Contract: contract,
		Msg:      raw,
		Funds:    core.NewCoinsEmpty(),
	}})
	return nil
}

// SetConfig records the chain-wide config. Calling it twice is a caller
// bug; the second call silently wins, since a genesis builder is always
// single-use and discarded after Finalize.
func (b *Builder) SetConfig(cfg core.Config) {
	b.config = &cfg
}

// Finalize assembles the accumulated messages into a GenesisState, with
// every StoreCode message ordered ahead of every other message — the same
// invariant Apply itself defensively enforces, so a GenesisState built by
// Builder never needs that defensive reordering.
func (b *Builder) Finalize() (core.GenesisState, error) {
	if b.config == nil {
		return core.GenesisState{}, errConfigNotSet
	}
	msgs := make([]core.Message, 0, len(b.codeMsgs)+len(b.otherMsgs))
	msgs = append(msgs, b.codeMsgs...)
	msgs = append(msgs, b.otherMsgs...)
	return core.GenesisState{Config: *b.config, Msgs: msgs}, nil
}

var errConfigNotSet = genesisError("genesis: config is not set")

type genesisError string

func (e genesisError) Error() string { return string(e) }

// Apply drives state into a's pipeline at height zero: every message is
// dispatched with the reserved all-zero GenesisSender, StoreCode messages
// first. Per §6, a GenesisState is expected to already carry that
// ordering (Builder.Finalize guarantees it); Apply still defensively
// checks and reorders, logging a warning, rather than trusting every
// caller's hand-assembled JSON.
func Apply(a *app.App, genesisState core.GenesisState, log *logrus.Entry) (core.Hash, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	msgs := genesisState.Msgs
	if !storeCodeMessagesFirst(msgs) {
		log.Warn("genesis state's store_code messages were not ordered first; reordering defensively")
		msgs = reorderStoreCodeFirst(msgs)
	}

	root, err := a.Genesis(genesisState.Config, msgs)
	if err != nil {
		return core.Hash{}, err
	}
	log.WithField("root_hash", root).Info("applied genesis state")
	return root, nil
}

func storeCodeMessagesFirst(msgs []core.Message) bool {
	seenOther := false
	for _, m := range msgs {
		if m.StoreCode != nil {
			if seenOther {
				return false
			}
			continue
		}
		seenOther = true
	}
	return true
}

func reorderStoreCodeFirst(msgs []core.Message) []core.Message {
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StoreCode != nil && out[j].StoreCode == nil
	})
	return out
}
