package app

import "cwchain/core"

// Genesis applies a GenesisState's config and messages at height zero: the
// config singleton is folded into the genesis block's own write-set (it is
// not itself a dispatched message, but it is still a merkle leaf — see
// genesisBlock), then every message in msgs runs as a single genesis
// transaction sent by core.GenesisSender, folding into the same block/
// merkle pipeline every later block goes through.
func (a *App) Genesis(cfg core.Config, msgs []core.Message) (core.Hash, error) {
	tx := core.Tx{Sender: core.GenesisSender, Msgs: msgs}
	block := core.Block{Height: 0}

	root, results, err := a.genesisBlock(cfg, block, []core.Tx{tx})
	if err != nil {
		return core.Hash{}, err
	}
	if results[0].Err != nil {
		return core.Hash{}, results[0].Err
	}
	return root, nil
}
