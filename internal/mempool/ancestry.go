package mempool

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// collectAncestors returns every in-mempool transaction that transaction
// transitively depends on: each input's owning transaction (if still
// unconfirmed and in the pool) plus that parent's own recorded ancestors.
// Must be called with p.mu held.
func (p *Pool) collectAncestors(transaction *tx.Transaction) map[types.Hash]struct{} {
	out := make(map[types.Hash]struct{})
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		parent, ok := p.txs[in.PrevOut.TxID]
		if !ok {
			continue
		}
		out[in.PrevOut.TxID] = struct{}{}
		for a := range parent.ancestors {
			out[a] = struct{}{}
		}
	}
	return out
}

// evictWithDescendants removes txHash and every transaction that spends,
// directly or transitively, one of its outputs. Must be called with p.mu
// held.
func (p *Pool) evictWithDescendants(txHash types.Hash) {
	e, ok := p.txs[txHash]
	if !ok {
		return
	}
	for d := range e.descendants {
		p.evictWithDescendants(d)
	}
	p.removeLocked(txHash)
}
