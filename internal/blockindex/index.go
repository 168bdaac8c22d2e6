package blockindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Errors returned by BlockIndex operations.
var (
	ErrUnknownPredecessor = errors.New("blockindex: predecessor not found")
	ErrDuplicatePrev      = errors.New("blockindex: predecessor already failed")
	ErrAlreadyIndexed     = errors.New("blockindex: header already indexed")
	ErrNotFound           = errors.New("blockindex: entry not found")
)

const indexKeyPrefix = "bi/"

func indexKey(h types.Hash) []byte {
	return append([]byte(indexKeyPrefix), h[:]...)
}

// BlockIndex is the in-memory directed tree over every known block header,
// persisted to the disk store a dirty-entry batch at a time. It tracks the
// best known header and maintains a candidate set ordered for fork choice:
// highest cumulative work first, ties broken by most recently marked
// precious, then by earliest sequence number, then by hash.
type BlockIndex struct {
	mu         sync.RWMutex
	db         storage.DB
	entries    map[types.Hash]*Entry
	dirty      map[types.Hash]*Entry
	nextSeq    uint64
	bestHeader *Entry
	// preciousCounter hands out strictly decreasing tie-break overrides to
	// MarkPrecious; it is session-scoped (not persisted), matching the
	// operator-facing, non-consensus nature of preciousblock.
	preciousCounter int64
}

// New creates an empty BlockIndex backed by db. Callers load persisted
// entries with Load before use.
func New(db storage.DB) *BlockIndex {
	return &BlockIndex{
		db:      db,
		entries: make(map[types.Hash]*Entry),
		dirty:   make(map[types.Hash]*Entry),
	}
}

// Load reconstructs the in-memory tree from persisted entries. Entries are
// inserted in ascending-height order so Prev/Skip pointers resolve; any
// entry whose predecessor is missing (partial write) is skipped.
func (bi *BlockIndex) Load() error {
	bi.mu.Lock()
	defer bi.mu.Unlock()

	var loaded []*Entry
	err := bi.db.ForEach([]byte(indexKeyPrefix), func(key, value []byte) error {
		var p persisted
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("blockindex: decode %x: %w", key, err)
		}
		loaded = append(loaded, fromPersisted(p))
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Height < loaded[j].Height })

	for _, e := range loaded {
		if e.Height > 0 {
			prev, ok := bi.entries[e.PrevHash]
			if !ok {
				continue
			}
			e.Prev = prev
			e.Skip = prev.GetAncestor(uint64(getSkipHeight(int64(e.Height))))
		}
		bi.entries[e.Hash] = e
		if e.Sequence >= bi.nextSeq {
			bi.nextSeq = e.Sequence + 1
		}
		if bi.bestHeader == nil || isBetterHeader(e, bi.bestHeader) {
			bi.bestHeader = e
		}
	}
	if len(bi.entries) > 0 {
		log.BlockIndex.Debug().Int("entries", len(bi.entries)).Msg("Block index loaded")
	}
	return nil
}

// isBetterHeader reports whether candidate should replace current as the
// best known header: strictly more work, or equal work and an earlier
// sequence number (first-seen wins ties).
func isBetterHeader(candidate, current *Entry) bool {
	cmp := candidate.CumulativeWork.Cmp(current.CumulativeWork)
	if cmp != 0 {
		return cmp > 0
	}
	return candidate.Sequence < current.Sequence
}

// Get returns the entry for hash, if known.
func (bi *BlockIndex) Get(hash types.Hash) (*Entry, bool) {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	e, ok := bi.entries[hash]
	return e, ok
}

// InsertHeader adds a new header to the tree. work is this block's own
// proof-of-work contribution (added to the predecessor's cumulative work).
// genesis is inserted with a zero PrevHash and is not required to have a
// known predecessor.
func (bi *BlockIndex) InsertHeader(hash, prevHash types.Hash, time uint64, work *big.Int, isPoS bool, stakeModifier types.Hash) (*Entry, error) {
	bi.mu.Lock()
	defer bi.mu.Unlock()

	if _, exists := bi.entries[hash]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyIndexed, hash)
	}

	e := &Entry{
		Hash:           hash,
		PrevHash:       prevHash,
		Time:           time,
		CumulativeWork: new(big.Int),
		Status:         StatusValidTree,
		Sequence:       bi.nextSeq,
		IsProofOfStake: isPoS,
		StakeModifier:  stakeModifier,
	}
	bi.nextSeq++

	if !isZeroHash(prevHash) {
		prev, ok := bi.entries[prevHash]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPredecessor, prevHash)
		}
		if prev.Status.Failed() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePrev, prevHash)
		}
		e.Prev = prev
		e.Height = prev.Height + 1
		e.CumulativeWork.Add(prev.CumulativeWork, work)
		e.MaxTimePast = maxU64(prev.MaxTimePast, time)
		e.Skip = prev.GetAncestor(uint64(getSkipHeight(int64(e.Height))))
	} else {
		e.CumulativeWork.Set(work)
		e.MaxTimePast = time
	}

	bi.entries[hash] = e
	bi.dirty[hash] = e
	if bi.bestHeader == nil || isBetterHeader(e, bi.bestHeader) {
		bi.bestHeader = e
	}
	return e, nil
}

func isZeroHash(h types.Hash) bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// RaiseValidity bumps e's validity level to at least level: the level bit
// and every level below it are set, so validity is always a contiguous
// prefix of the VALID_TREE..VALID_SCRIPTS ladder. Any higher level already
// held is left untouched; it never lowers validity — use MarkFailed for
// that.
func (bi *BlockIndex) RaiseValidity(hash types.Hash, level Status) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	e, ok := bi.entries[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	mask := validityLevelMask(level)
	if e.Status&mask != mask {
		e.Status |= mask
		bi.dirty[hash] = e
	}
	return nil
}

// validityLevelMask expands a validity level into that bit plus every
// level below it: raising to VALID_CHAIN implies VALID_TRANSACTIONS and
// VALID_TREE. The highest validity bit present in level wins.
func validityLevelMask(level Status) Status {
	level &= validityMask
	if level == 0 {
		return 0
	}
	top := StatusValidTree
	for _, s := range [...]Status{StatusValidTransactions, StatusValidChain, StatusValidScripts} {
		if level&s != 0 {
			top = s
		}
	}
	return ((top << 1) - 1) & validityMask
}

// SetDataAvailable marks e as having its block bytes (and, if haveUndo, its
// undo record) on disk at the given locations.
func (bi *BlockIndex) SetDataAvailable(hash types.Hash, blockLoc storage.Location, haveUndo bool, undoLoc storage.Location, numTx uint64) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	e, ok := bi.entries[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	e.BlockLocation = blockLoc
	e.Status |= StatusHaveData
	e.NumTx = numTx
	if haveUndo {
		e.UndoLocation = undoLoc
		e.Status |= StatusHaveUndo
	}
	if e.Prev == nil || e.Prev.ChainTx > 0 || e.Height == 0 {
		base := uint64(0)
		if e.Prev != nil {
			base = e.Prev.ChainTx
		}
		e.ChainTx = base + numTx
	}
	bi.dirty[hash] = e
	return nil
}

// MarkFailed marks hash itself invalid and every descendant already known
// as FAILED_CHILD, per the chain controller's Invalidate operation.
func (bi *BlockIndex) MarkFailed(hash types.Hash) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	e, ok := bi.entries[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	e.Status |= StatusFailedValid
	bi.dirty[hash] = e

	children := 0
	for _, other := range bi.entries {
		if other.Prev != nil && ancestorFailed(other, e) {
			other.Status |= StatusFailedChild
			bi.dirty[other.Hash] = other
			children++
		}
	}
	log.BlockIndex.Warn().
		Str("hash", hash.String()[:16]+"...").
		Uint64("height", e.Height).
		Int("descendants", children).
		Msg("Block marked invalid")
	bi.recomputeBest()
	return nil
}

func ancestorFailed(e, failed *Entry) bool {
	for cur := e.Prev; cur != nil; cur = cur.Prev {
		if cur.Hash == failed.Hash {
			return true
		}
	}
	return false
}

// ClearFailed undoes MarkFailed on hash and every descendant whose only
// reason for failing was this ancestor, per the chain controller's
// Reconsider operation.
func (bi *BlockIndex) ClearFailed(hash types.Hash) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	e, ok := bi.entries[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	e.Status &^= StatusFailedValid
	bi.dirty[hash] = e
	for _, other := range bi.entries {
		if other.Status&StatusFailedChild != 0 && !bi.hasFailedAncestor(other) {
			other.Status &^= StatusFailedChild
			bi.dirty[other.Hash] = other
		}
	}
	bi.recomputeBest()
	return nil
}

func (bi *BlockIndex) hasFailedAncestor(e *Entry) bool {
	for cur := e.Prev; cur != nil; cur = cur.Prev {
		if cur.Status&StatusFailedValid != 0 {
			return true
		}
	}
	return false
}

// recomputeBest rescans every entry for the new best header; called after
// MarkFailed/ClearFailed may have changed which entries are eligible.
func (bi *BlockIndex) recomputeBest() {
	bi.bestHeader = nil
	for _, e := range bi.entries {
		if e.Status.Failed() {
			continue
		}
		if bi.bestHeader == nil || isBetterHeader(e, bi.bestHeader) {
			bi.bestHeader = e
		}
	}
}

// BestHeader returns the current best known header (highest work, not
// failed), independent of how much of its chain is fully validated.
func (bi *BlockIndex) BestHeader() *Entry {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.bestHeader
}

// MarkPrecious gives hash priority over every other candidate of equal
// cumulative work, per the chain controller's preciousblock operation.
// Each call assigns a PreciousSeq strictly lower than any
// previous call's, so only the most recently marked block wins a tie; it
// does not change which candidate wins when work actually differs.
func (bi *BlockIndex) MarkPrecious(hash types.Hash) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	e, ok := bi.entries[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	bi.preciousCounter--
	e.PreciousSeq = bi.preciousCounter
	bi.dirty[hash] = e
	return nil
}

// Candidates returns every non-failed entry whose transactions have been
// individually validated (VALID_TRANSACTIONS), ordered best-first by Better:
// highest cumulative work, then most recently marked precious, then lowest
// sequence number, then lowest hash. The
// activate-best-chain loop walks this list looking for the first entry it
// can successfully switch to; full UTXO-context validation happens during
// that switch, not as a precondition for candidacy.
func (bi *BlockIndex) Candidates() []*Entry {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	var out []*Entry
	for _, e := range bi.entries {
		if e.Status.Failed() {
			continue
		}
		if e.Status&StatusValidTransactions == 0 {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return Better(out[i], out[j]) })
	return out
}

// Better reports whether a ranks above b in fork-choice order: more
// cumulative work, then most recently marked precious, then earliest
// sequence number (first seen wins ties), then lowest hash. Candidates
// sorts with it, and the chain controller uses it to decide whether a
// candidate outranks the active tip.
func Better(a, b *Entry) bool {
	if cmp := a.CumulativeWork.Cmp(b.CumulativeWork); cmp != 0 {
		return cmp > 0
	}
	if a.PreciousSeq != b.PreciousSeq {
		return a.PreciousSeq < b.PreciousSeq
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return lessHash(a.Hash, b.Hash)
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// FindFork returns the highest common ancestor of a and b, walking the
// shorter entry up to the other's height first, then both up in lockstep.
// Both arguments must already be indexed.
func (bi *BlockIndex) FindFork(a, b *Entry) *Entry {
	if a == nil || b == nil {
		return nil
	}
	if a.Height > b.Height {
		a = a.GetAncestor(b.Height)
	} else if b.Height > a.Height {
		b = b.GetAncestor(a.Height)
	}
	for a != nil && b != nil && a.Hash != b.Hash {
		a = a.Prev
		b = b.Prev
	}
	return a
}

// Flush persists every dirty entry in a single batch when the backing
// store supports it, falling back to sequential writes otherwise.
func (bi *BlockIndex) Flush() error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if len(bi.dirty) == 0 {
		return nil
	}

	if batcher, ok := bi.db.(storage.Batcher); ok {
		b := batcher.NewBatch()
		for hash, e := range bi.dirty {
			data, err := json.Marshal(e.toPersisted())
			if err != nil {
				return fmt.Errorf("blockindex: encode %s: %w", hash, err)
			}
			if err := b.Put(indexKey(hash), data); err != nil {
				return err
			}
		}
		if err := b.Commit(); err != nil {
			return fmt.Errorf("blockindex: flush: %w", err)
		}
	} else {
		for hash, e := range bi.dirty {
			data, err := json.Marshal(e.toPersisted())
			if err != nil {
				return fmt.Errorf("blockindex: encode %s: %w", hash, err)
			}
			if err := bi.db.Put(indexKey(hash), data); err != nil {
				return fmt.Errorf("blockindex: flush: %w", err)
			}
		}
	}
	bi.dirty = make(map[types.Hash]*Entry)
	return nil
}
