// Package blockindex maintains the in-memory directed tree of every known
// block header: cumulative work, validity level, data-availability flags,
// and a skip pointer for O(log n) ancestor lookup. It is the Block Index
// component of the chain state machine.
package blockindex

import (
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Status is a bitfield tracking an entry's validity and data availability.
// Status levels are monotonic: they never decrease except through an
// explicit MarkFailed/Invalidate call, which also clears HAVE_DATA-derived
// counters (ChainTx).
type Status uint16

const (
	StatusValidTree         Status = 1 << iota // header connects to genesis, basic PoW/format checked
	StatusValidTransactions                    // block's own transactions are individually valid
	StatusValidChain                           // full UTXO-aware validation against its ancestors
	StatusValidScripts                         // every script in the chain up to here has been verified
	StatusHaveData                             // block bytes are on disk
	StatusHaveUndo                             // undo record is on disk (implies HaveData)
	StatusOptWitness                           // block carries witness/extended data
	StatusFailedValid                          // this entry itself failed validation
	StatusFailedChild                          // an ancestor failed; this entry can never become valid
)

// validityMask isolates the monotonically increasing validity level from
// the independent data-availability and failure bits.
const validityMask = StatusValidTree | StatusValidTransactions | StatusValidChain | StatusValidScripts

// Failed reports whether this entry or an ancestor is marked failed.
func (s Status) Failed() bool { return s&(StatusFailedValid|StatusFailedChild) != 0 }

// Entry is the in-memory metadata record for one known block header.
type Entry struct {
	Hash     types.Hash
	PrevHash types.Hash
	Prev     *Entry
	Skip     *Entry // ancestor at getSkipHeight(Height), for O(log n) lookup

	Height          uint64
	CumulativeWork  *big.Int
	Time            uint64
	MaxTimePast     uint64 // max block time over all ancestors including self
	Status          Status
	NumTx           uint64 // this block's own transaction count
	ChainTx         uint64 // cumulative tx count; 0 until every ancestor HAVE_DATA
	Sequence        uint64 // monotonic insertion order, used as a fork-choice tie-break
	PreciousSeq     int64  // preciousblock override; more negative sorts earlier in Candidates
	IsProofOfStake  bool
	StakeModifier   types.Hash
	BlockLocation   storage.Location
	UndoLocation    storage.Location
}

// persisted mirrors Entry for JSON (de)serialization; Prev/Skip are
// pointers resolved by the index on load, not stored directly.
type persisted struct {
	Hash            types.Hash       `json:"hash"`
	PrevHash        types.Hash       `json:"prev_hash"`
	Height          uint64           `json:"height"`
	CumulativeWork  string           `json:"cumulative_work"`
	Time            uint64           `json:"time"`
	MaxTimePast     uint64           `json:"max_time_past"`
	Status          Status           `json:"status"`
	NumTx           uint64           `json:"num_tx"`
	ChainTx         uint64           `json:"chain_tx"`
	Sequence        uint64           `json:"sequence"`
	IsProofOfStake  bool             `json:"is_pos"`
	StakeModifier   types.Hash       `json:"stake_modifier"`
	BlockLocation   storage.Location `json:"block_location"`
	UndoLocation    storage.Location `json:"undo_location"`
}

func (e *Entry) toPersisted() persisted {
	work := "0"
	if e.CumulativeWork != nil {
		work = e.CumulativeWork.String()
	}
	return persisted{
		Hash: e.Hash, PrevHash: e.PrevHash, Height: e.Height,
		CumulativeWork: work, Time: e.Time, MaxTimePast: e.MaxTimePast,
		Status: e.Status, NumTx: e.NumTx, ChainTx: e.ChainTx,
		Sequence: e.Sequence, IsProofOfStake: e.IsProofOfStake,
		StakeModifier: e.StakeModifier, BlockLocation: e.BlockLocation,
		UndoLocation: e.UndoLocation,
	}
}

func fromPersisted(p persisted) *Entry {
	work, ok := new(big.Int).SetString(p.CumulativeWork, 10)
	if !ok {
		work = big.NewInt(0)
	}
	return &Entry{
		Hash: p.Hash, PrevHash: p.PrevHash, Height: p.Height,
		CumulativeWork: work, Time: p.Time, MaxTimePast: p.MaxTimePast,
		Status: p.Status, NumTx: p.NumTx, ChainTx: p.ChainTx,
		Sequence: p.Sequence, IsProofOfStake: p.IsProofOfStake,
		StakeModifier: p.StakeModifier, BlockLocation: p.BlockLocation,
		UndoLocation: p.UndoLocation,
	}
}

// invertLowestOne clears the lowest set bit of n.
func invertLowestOne(n int64) int64 { return n & (n - 1) }

// getSkipHeight computes the height an entry at `height` should skip to,
// the standard logarithmic skip-list placement (Bitcoin Core's
// CBlockIndex::GetSkipHeight): roughly half the distance to height 0 at
// each step, so walking skip pointers reaches any ancestor in O(log n).
func getSkipHeight(height int64) int64 {
	if height < 2 {
		return 0
	}
	if height&1 != 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

// GetAncestor returns the entry at the given height on e's chain, using
// the skip pointer to do so in O(log n) steps.
func (e *Entry) GetAncestor(height uint64) *Entry {
	if height > e.Height {
		return nil
	}
	walk := e
	heightWalk := int64(e.Height)
	target := int64(height)
	for heightWalk > target {
		skipHeight := getSkipHeight(heightWalk)
		prevHeight := heightWalk - 1
		// Only take the skip pointer when it doesn't overshoot past the
		// target and is strictly better than walking to Prev.
		if walk.Skip != nil && (skipHeight == target ||
			(skipHeight > target && !(skipHeight-2 < target && prevHeight < skipHeight))) {
			walk = walk.Skip
			heightWalk = skipHeight
			continue
		}
		walk = walk.Prev
		heightWalk = prevHeight
		if walk == nil {
			return nil
		}
	}
	return walk
}
