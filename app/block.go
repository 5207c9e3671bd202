package app

import (
	"cwchain/core"
	"cwchain/merkle"
	"cwchain/schema"
	"cwchain/store"
)

// TxResult is what Block reports for one submitted transaction: either the
// events it produced, or the error that aborted it (a pipeline error or VM
// trap, never a BackendError — that one is fatal and returned by Block
// itself) together with a single failure event carrying that error.
type TxResult struct {
	Events []core.Event
	Err    error
}

// Block implements §4.6: it opens one savepoint for the whole block, runs
// before_tx then dispatches every message of every tx under its own nested
// savepoint, folds the block's full write-set into the Jellyfish Merkle
// Tree, and commits. A tx whose before_tx or message dispatch fails is
// rolled back in isolation; the rest of the block still lands. Returns the
// new root hash and one TxResult per tx, in order. Before a config has been
// stored (no Genesis yet), the block runs against a zero-valued Config.
func (a *App) Block(block core.Block, txs []core.Tx) (core.Hash, []TxResult, error) {
	cfg, _, err := configItem.MayLoad(a.Store)
	if err != nil {
		return core.Hash{}, nil, &core.BackendError{Op: "load config", Cause: err}
	}
	return a.runBlock(block, txs, cfg, false)
}

// genesisBlock is Block's genesis-only counterpart: at genesis cfg has not
// been committed to a.Store yet, so there is nothing for configItem.Load
// to find. cfg is threaded in directly instead, and written into the
// block's own savepoint (writeConfig) so it is folded into the same
// write-set as every other genesis mutation and lands as a merkle leaf
// exactly like last_finalized_block below — a top-level key belongs in
// the tree (§3, §9), never written straight to a.Store out of band.
func (a *App) genesisBlock(cfg core.Config, block core.Block, txs []core.Tx) (core.Hash, []TxResult, error) {
	return a.runBlock(block, txs, cfg, true)
}

func (a *App) runBlock(block core.Block, txs []core.Tx, cfg core.Config, writeConfig bool) (core.Hash, []TxResult, error) {
	blockStore := store.NewSavepoint(a.Store)

	if writeConfig {
		if err := configItem.Save(blockStore, cfg); err != nil {
			return core.Hash{}, nil, &core.BackendError{Op: "save genesis config", Cause: err}
		}
	}

	results := make([]TxResult, 0, len(txs))
	for _, tx := range txs {
		frame := a.newFrame(block, cfg)
		res := a.runTx(blockStore, frame, tx)
		if _, fatal := res.Err.(*core.BackendError); fatal {
			return core.Hash{}, nil, res.Err
		}
		if res.Err != nil {
			res.Events = []core.Event{failureEvent(tx.Sender, res.Err.Error())}
		}
		results = append(results, res)
	}

	if err := lastBlockItm.Save(blockStore, block); err != nil {
		return core.Hash{}, nil, &core.BackendError{Op: "save last block", Cause: err}
	}

	entries := blockStore.Entries()
	writes := make([]merkle.Write, 0, len(entries))
	for _, e := range entries {
		w := merkle.Write{Key: e.Key}
		if !e.Deleted {
			w.Value = e.Value
		}
		writes = append(writes, w)
	}

	newVersion := a.version + 1
	root, err := a.Tree.Apply(a.version, newVersion, writes)
	if err != nil {
		return core.Hash{}, nil, &core.BackendError{Op: "apply merkle writes", Cause: err}
	}

	if err := blockStore.Commit(); err != nil {
		return core.Hash{}, nil, &core.BackendError{Op: "commit block", Cause: err}
	}

	a.version = newVersion
	a.block = block
	return root, results, nil
}

// runTx runs one transaction's before_tx hook (if the sender has an
// account to run it against) and every one of its messages, all under a
// single savepoint: a failure anywhere in the tx discards the whole tx's
// writes, but leaves the rest of the block alone.
func (a *App) runTx(blockStore *store.Savepoint, frame *txFrame, tx core.Tx) TxResult {
	txStore := store.NewSavepoint(blockStore)

	if account, ok, err := accountsMap.MayLoad(txStore, schema.AddressKey(tx.Sender)); err != nil {
		return TxResult{Err: &core.BackendError{Op: "load sender account", Cause: err}}
	} else if ok {
		if err := frame.enter(tx.Sender); err != nil {
			return TxResult{Err: err}
		}
		cstore := contractStore(txStore, tx.Sender)
		querier := frame.querierFor(txStore)
		instance, _, err := a.buildInstance(cstore, querier, frame.block, account.CodeHash, frame.gas, false)
		if err != nil {
			frame.leave(tx.Sender)
			return TxResult{Err: err}
		}
		ctx := frame.context(tx.Sender, &tx.Sender, nil, nil)
		result, err := instance.BeforeTx(ctx, tx)
		instance.Close()
		frame.leave(tx.Sender)
		if err != nil {
			return TxResult{Err: &core.VMTrapError{Reason: "before_tx", Cause: err}}
		}
		if _, err := result.IntoResult(); err != nil {
			a.log.WithField("sender", tx.Sender).WithError(err).Warn("tx rejected by before_tx")
			return TxResult{Err: err}
		}
	}

	var events []core.Event
	for _, msg := range tx.Msgs {
		result, err := frame.dispatchMessage(txStore, tx.Sender, msg)
		if err != nil {
			if _, fatal := err.(*core.BackendError); fatal {
				return TxResult{Err: err}
			}
			txStore.Discard()
			return TxResult{Err: err}
		}
		events = append(events, result.events...)
	}

	if err := txStore.Commit(); err != nil {
		return TxResult{Err: &core.BackendError{Op: "commit tx", Cause: err}}
	}
	return TxResult{Events: events}
}
