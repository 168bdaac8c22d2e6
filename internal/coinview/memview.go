package coinview

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// MemView is an in-memory layer over a parent View. The tip cache and
// every transient overlay used during block validation or mempool
// acceptance are MemViews; only their parent differs (a DBView for the
// tip cache, a MemView for an overlay stacked on the tip cache).
type MemView struct {
	mu     sync.Mutex
	parent View
	// entries holds this layer's view of each touched outpoint: a non-nil
	// UTXO for an added/cached coin, nil for a tombstone (spent here).
	entries   map[types.Outpoint]*utxo.UTXO
	tombstone map[types.Outpoint]bool
	best      types.Hash
}

// NewMemView creates a cache or overlay layer on top of parent.
func NewMemView(parent View) *MemView {
	return &MemView{
		parent:    parent,
		entries:   make(map[types.Outpoint]*utxo.UTXO),
		tombstone: make(map[types.Outpoint]bool),
		best:      parent.BestBlock(),
	}
}

func (v *MemView) Get(outpoint types.Outpoint) (*utxo.UTXO, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.getLocked(outpoint)
}

func (v *MemView) getLocked(outpoint types.Outpoint) (*utxo.UTXO, error) {
	if v.tombstone[outpoint] {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, outpoint)
	}
	if u, ok := v.entries[outpoint]; ok {
		return u, nil
	}
	u, err := v.parent.Get(outpoint)
	if err != nil {
		return nil, err
	}
	// Populate this layer's cache with the resolved value.
	v.entries[outpoint] = u
	return u, nil
}

func (v *MemView) Have(outpoint types.Outpoint) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tombstone[outpoint] {
		return false
	}
	if _, ok := v.entries[outpoint]; ok {
		return true
	}
	return v.parent.Have(outpoint)
}

func (v *MemView) Add(outpoint types.Outpoint, u *utxo.UTXO, allowOverwrite bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !allowOverwrite {
		if _, err := v.getLocked(outpoint); err == nil {
			return fmt.Errorf("%w: %s", ErrOverwriteUnseen, outpoint)
		}
	}
	delete(v.tombstone, outpoint)
	v.entries[outpoint] = u
	return nil
}

func (v *MemView) Spend(outpoint types.Outpoint) (*utxo.UTXO, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, err := v.getLocked(outpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, outpoint)
	}
	v.entries[outpoint] = nil
	v.tombstone[outpoint] = true
	return prev, nil
}

func (v *MemView) setRaw(outpoint types.Outpoint, u *utxo.UTXO) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if u == nil {
		v.entries[outpoint] = nil
		v.tombstone[outpoint] = true
		return nil
	}
	delete(v.tombstone, outpoint)
	v.entries[outpoint] = u
	return nil
}

func (v *MemView) BestBlock() types.Hash {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.best
}

func (v *MemView) SetBestBlock(h types.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.best = h
}

// Flush propagates every dirty entry into the parent layer and clears this
// one. When the parent is the base DBView, propagation goes through
// DBView.applyBatch, which writes coins one at a time and is not atomic;
// otherwise it's a sequence of in-memory setRaw calls, which cannot
// partially fail.
func (v *MemView) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if db, ok := v.parent.(*DBView); ok {
		dirty := make(map[types.Outpoint]*utxo.UTXO, len(v.entries))
		for op, u := range v.entries {
			if u != nil {
				dirty[op] = u
			}
		}
		if err := db.applyBatch(dirty, v.tombstone, v.best); err != nil {
			return err
		}
	} else {
		setter, ok := v.parent.(rawSetter)
		if !ok {
			return fmt.Errorf("coinview: parent %T does not support flush propagation", v.parent)
		}
		for op, u := range v.entries {
			if err := setter.setRaw(op, u); err != nil {
				return fmt.Errorf("coinview flush: %w", err)
			}
		}
		v.parent.SetBestBlock(v.best)
	}

	v.entries = make(map[types.Outpoint]*utxo.UTXO)
	v.tombstone = make(map[types.Outpoint]bool)
	return nil
}
