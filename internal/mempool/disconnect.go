package mempool

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// DisconnectPool holds transactions from blocks a reorg disconnected, in
// the order they were disconnected, so they can be replayed back into the
// mempool once the new branch is active.
// Insertion-ordered and hash-indexed, mirroring the existing Hashes()/map
// idiom the rest of this package already uses for the main pool.
type DisconnectPool struct {
	order []types.Hash
	byTx  map[types.Hash]*tx.Transaction
}

func newDisconnectPool() *DisconnectPool {
	return &DisconnectPool{byTx: make(map[types.Hash]*tx.Transaction)}
}

// add records a disconnected block's transactions, skipping coinbases
// (only non-coinbase transactions are eligible for re-admission) and
// anything already queued. Coinbases are recognized by shape — a single
// zero-outpoint input — so callers may pass either a block's full
// transaction list or one already stripped of its coinbase.
func (d *DisconnectPool) add(txs []*tx.Transaction) {
	for _, t := range txs {
		if len(t.Inputs) == 1 && t.Inputs[0].PrevOut.IsZero() {
			continue // coinbase
		}
		h := t.Hash()
		if _, exists := d.byTx[h]; exists {
			continue
		}
		d.byTx[h] = t
		d.order = append(d.order, h)
	}
}

// Drain returns every queued transaction in disconnection order and empties
// the pool.
func (d *DisconnectPool) Drain() []*tx.Transaction {
	out := make([]*tx.Transaction, 0, len(d.order))
	for _, h := range d.order {
		out = append(out, d.byTx[h])
	}
	d.order = nil
	d.byTx = make(map[types.Hash]*tx.Transaction)
	return out
}

// AddDisconnected queues a reverted block's transactions for later
// re-admission via ReadmitDisconnected.
func (p *Pool) AddDisconnected(txs []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnect.add(txs)
}

// ReadmitDisconnected drains the disconnect pool and attempts to re-accept
// every transaction it held, bypassing package limits (the transactions
// were already valid in a connected block; a momentary mempool limit
// shouldn't discard them). Returns the transactions that failed
// re-admission (e.g. now double-spent by the new branch).
func (p *Pool) ReadmitDisconnected() []*tx.Transaction {
	p.mu.Lock()
	txs := p.disconnect.Drain()
	p.mu.Unlock()

	var rejected []*tx.Transaction
	for _, t := range txs {
		if _, err := p.TryAccept(t, true, false); err != nil {
			rejected = append(rejected, t)
		}
	}
	return rejected
}
