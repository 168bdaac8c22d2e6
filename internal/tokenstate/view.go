package tokenstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ErrNoSuchToken is returned when an issuance record does not exist.
var ErrNoSuchToken = errors.New("tokenstate: no such token")

// View is the capability every token-state layer implements, mirroring
// internal/coinview.View: get/add issuance, get/put restriction, flush,
// best-block. Restrictions always resolve (a zero-value default stands in
// for "never touched"), since most tokens are never restricted.
type View interface {
	GetIssuance(id types.TokenID) (*Issuance, error)
	AddIssuance(id types.TokenID, rec *Issuance, allowOverwrite bool) error
	RemoveIssuance(id types.TokenID) (*Issuance, error)
	GetRestriction(id types.TokenID) (*Restriction, error)
	PutRestriction(id types.TokenID, rec *Restriction) (prev *Restriction, err error)
	BestBlock() types.Hash
	SetBestBlock(h types.Hash)
	Flush() error
}

type rawSetter interface {
	setRawIssuance(id types.TokenID, rec *Issuance) error
	setRawRestriction(id types.TokenID, rec *Restriction) error
}

const bestBlockKeyStr = "ts/bestblock"

// DBView is the bottom of the token-state stack: a direct pass-through to
// the on-disk Store.
type DBView struct {
	mu    sync.RWMutex
	store *Store
	db    storage.DB
}

// NewDBView wraps a Store as the database view layer.
func NewDBView(store *Store, db storage.DB) *DBView {
	return &DBView{store: store, db: db}
}

func (v *DBView) GetIssuance(id types.TokenID) (*Issuance, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, err := v.store.GetIssuance(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchToken, id)
	}
	return rec, nil
}

func (v *DBView) AddIssuance(id types.TokenID, rec *Issuance, allowOverwrite bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !allowOverwrite {
		if ok, _ := v.store.HasIssuance(id); ok {
			return fmt.Errorf("tokenstate: issuance %s already exists", id)
		}
	}
	return v.store.PutIssuance(id, rec)
}

func (v *DBView) RemoveIssuance(id types.TokenID) (*Issuance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, err := v.store.GetIssuance(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchToken, id)
	}
	return rec, v.store.DeleteIssuance(id)
}

func (v *DBView) GetRestriction(id types.TokenID) (*Restriction, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.store.GetRestriction(id)
}

func (v *DBView) PutRestriction(id types.TokenID, rec *Restriction) (*Restriction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, _ := v.store.GetRestriction(id)
	if err := v.store.PutRestriction(id, rec); err != nil {
		return nil, err
	}
	return prev, nil
}

func (v *DBView) setRawIssuance(id types.TokenID, rec *Issuance) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec == nil {
		return v.store.DeleteIssuance(id)
	}
	return v.store.PutIssuance(id, rec)
}

func (v *DBView) setRawRestriction(id types.TokenID, rec *Restriction) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.PutRestriction(id, rec)
}

func (v *DBView) BestBlock() types.Hash {
	data, err := v.db.Get([]byte(bestBlockKeyStr))
	if err != nil || len(data) != types.HashSize {
		return types.Hash{}
	}
	var h types.Hash
	copy(h[:], data)
	return h
}

func (v *DBView) SetBestBlock(h types.Hash) {
	v.db.Put([]byte(bestBlockKeyStr), h[:])
}

// Flush is a no-op: DBView writes through immediately.
func (v *DBView) Flush() error { return nil }

// MemView is an in-memory layer over a parent View, mirroring
// coinview.MemView: used for both the tip cache and per-block overlays.
type MemView struct {
	mu               sync.Mutex
	parent           View
	issuance         map[types.TokenID]*Issuance
	issuanceTomb     map[types.TokenID]bool
	restriction      map[types.TokenID]*Restriction
	best             types.Hash
}

// NewMemView creates a cache or overlay layer on top of parent.
func NewMemView(parent View) *MemView {
	return &MemView{
		parent:       parent,
		issuance:     make(map[types.TokenID]*Issuance),
		issuanceTomb: make(map[types.TokenID]bool),
		restriction:  make(map[types.TokenID]*Restriction),
		best:         parent.BestBlock(),
	}
}

func (v *MemView) GetIssuance(id types.TokenID) (*Issuance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.issuanceTomb[id] {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchToken, id)
	}
	if rec, ok := v.issuance[id]; ok {
		return rec, nil
	}
	rec, err := v.parent.GetIssuance(id)
	if err != nil {
		return nil, err
	}
	v.issuance[id] = rec
	return rec, nil
}

func (v *MemView) AddIssuance(id types.TokenID, rec *Issuance, allowOverwrite bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !allowOverwrite {
		if _, err := v.getIssuanceLocked(id); err == nil {
			return fmt.Errorf("tokenstate: issuance %s already exists", id)
		}
	}
	delete(v.issuanceTomb, id)
	v.issuance[id] = rec
	return nil
}

func (v *MemView) getIssuanceLocked(id types.TokenID) (*Issuance, error) {
	if v.issuanceTomb[id] {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchToken, id)
	}
	if rec, ok := v.issuance[id]; ok {
		return rec, nil
	}
	return v.parent.GetIssuance(id)
}

func (v *MemView) RemoveIssuance(id types.TokenID) (*Issuance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, err := v.getIssuanceLocked(id)
	if err != nil {
		return nil, err
	}
	v.issuance[id] = nil
	v.issuanceTomb[id] = true
	return prev, nil
}

func (v *MemView) GetRestriction(id types.TokenID) (*Restriction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec, ok := v.restriction[id]; ok {
		return rec.clone(), nil
	}
	rec, err := v.parent.GetRestriction(id)
	if err != nil {
		return nil, err
	}
	v.restriction[id] = rec
	return rec.clone(), nil
}

func (v *MemView) PutRestriction(id types.TokenID, rec *Restriction) (*Restriction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var prev *Restriction
	if cur, ok := v.restriction[id]; ok {
		prev = cur.clone()
	} else if p, err := v.parent.GetRestriction(id); err == nil {
		prev = p
	}
	v.restriction[id] = rec
	return prev, nil
}

func (v *MemView) setRawIssuance(id types.TokenID, rec *Issuance) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec == nil {
		v.issuance[id] = nil
		v.issuanceTomb[id] = true
		return nil
	}
	delete(v.issuanceTomb, id)
	v.issuance[id] = rec
	return nil
}

func (v *MemView) setRawRestriction(id types.TokenID, rec *Restriction) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.restriction[id] = rec
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
// one, through one setRaw call per entry. With a DBView parent each call is
// a separate store write, so the flush is not atomic: an error partway
// leaves the earlier writes in place.
func (v *MemView) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	setter, ok := v.parent.(rawSetter)
	if !ok {
		return fmt.Errorf("tokenstate: parent %T does not support flush propagation", v.parent)
	}
	for id, rec := range v.issuance {
		if err := setter.setRawIssuance(id, rec); err != nil {
			return fmt.Errorf("tokenstate flush issuance: %w", err)
		}
	}
	for id, rec := range v.restriction {
		if err := setter.setRawRestriction(id, rec); err != nil {
			return fmt.Errorf("tokenstate flush restriction: %w", err)
		}
	}
	v.parent.SetBestBlock(v.best)

	v.issuance = make(map[types.TokenID]*Issuance)
	v.issuanceTomb = make(map[types.TokenID]bool)
	v.restriction = make(map[types.TokenID]*Restriction)
	return nil
}
