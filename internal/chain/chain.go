// Package chain implements the blockchain state machine.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/blockindex"
	"github.com/Klingon-tech/klingnet-chain/internal/coinview"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/scriptengine"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/tokenstate"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// RegistrationHandler is called when a ScriptTypeRegister output is found in a confirmed block.
// The value parameter is the output's KGX value (burn amount) so the handler can enforce MinDeposit.
type RegistrationHandler func(txHash types.Hash, outputIndex uint32, value uint64, scriptData []byte, height uint64)

// DeregistrationHandler is called when a ScriptTypeRegister output is reverted during a reorg.
type DeregistrationHandler func(txHash types.Hash, outputIndex uint32)

// StakeHandler is called when a ScriptTypeStake output is found in a confirmed block.
type StakeHandler func(pubKey []byte)

// UnstakeHandler is called when a ScriptTypeStake output is spent (stake withdrawn).
type UnstakeHandler func(pubKey []byte)

// RevertedTxHandler is called after a reorg with transactions from reverted blocks
// that are not present in the new branch (for mempool re-insertion).
type RevertedTxHandler func(txs []*tx.Transaction)

// Chain represents a blockchain instance with state, storage, and consensus.
type Chain struct {
	mu        sync.Mutex // Protects all state mutations (ProcessBlock, Reorg).
	ID        types.ChainID
	state     *State
	blocks    *BlockStore
	utxos     utxo.Set
	engine    consensus.Engine
	validator *consensus.Validator

	// index mirrors every accepted header's validity/work/failure status,
	// independent of blocks' own height-indexed storage, so Invalidate/
	// Reconsider and candidate bookkeeping don't need to rescan the block
	// store.
	index *blockindex.BlockIndex
	// scripts is the shared script-check engine: every
	// ConnectBlock-equivalent path (fast path, reorg replay, rebuild
	// replay) pushes one Check per signature-bearing input here instead
	// of verifying serially.
	scripts *scriptengine.Engine

	// coins is the tip-level Coin View (database layer). Every
	// ConnectBlock/DisconnectBlock path stacks a transient MemView on top
	// of it for the duration of one block, flushing into it on success;
	// validateBlockState reads straight from it (no overlay needed for a
	// read-only pass).
	coins *coinview.DBView
	// tokens is the tip-level Token State view: restricted-asset
	// metadata (qualifier tags, freezes, verifier strings) mutated by
	// governance ops, layered exactly like coins.
	tokens *tokenstate.DBView
	// tokenStore is the concrete store behind tokens, kept directly for
	// the rare operations (ClearAll during a full rebuild) the View
	// interface doesn't expose.
	tokenStore *tokenstate.Store

	maxSupply      uint64     // Max coin supply (0 = unlimited).
	blockReward    uint64     // Base block subsidy in base units.
	validatorStake uint64     // Exact stake amount required (0 = disabled).
	genesisHash    types.Hash // Hash of the genesis block (immutable).

	registrationHandler   RegistrationHandler
	deregistrationHandler DeregistrationHandler
	stakeHandler          StakeHandler
	unstakeHandler        UnstakeHandler
	revertedTxHandler     RevertedTxHandler
}

// New creates a new chain with the given components.
func New(id types.ChainID, db storage.DB, utxoSet utxo.Set, engine consensus.Engine) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if utxoSet == nil {
		return nil, fmt.Errorf("utxo set is nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("consensus engine is nil")
	}

	blocks := NewBlockStore(db)

	// Recover state from the block store.
	tipHash, height, supply, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}

	cumDiff := blocks.GetCumulativeDifficulty()

	// Recover genesis hash for reorg protection.
	var genesisHash types.Hash
	genBlk, err := blocks.GetBlockByHeight(0)
	if err == nil {
		genesisHash = genBlk.Hash()
	}

	idx := blockindex.New(db)
	if err := idx.Load(); err != nil {
		return nil, fmt.Errorf("load block index: %w", err)
	}

	// The Coin View Stack sits directly on the same store utxoSet already
	// wraps: ConnectBlock/DisconnectBlock overlay it per block, so it
	// needs the concrete type, not just the flat Set interface.
	utxoStore, ok := utxoSet.(*utxo.Store)
	if !ok {
		return nil, fmt.Errorf("utxo set must be *utxo.Store (coin view stack requires a concrete store)")
	}
	coinsView := coinview.NewDBView(utxoStore, db)
	tokenStore := tokenstate.NewStore(db)
	tokensView := tokenstate.NewDBView(tokenStore, db)

	ch := &Chain{
		ID:          id,
		state:       &State{TipHash: tipHash, Height: height, Supply: supply, CumulativeDifficulty: cumDiff},
		blocks:      blocks,
		utxos:       utxoSet,
		engine:      engine,
		validator:   consensus.NewValidator(engine),
		genesisHash: genesisHash,
		index:       idx,
		scripts:     scriptengine.New(runtime.NumCPU(), 0),
		coins:       coinsView,
		tokens:      tokensView,
		tokenStore:  tokenStore,
	}

	// Check for incomplete reorg — if the node crashed mid-reorg, the UTXO
	// set may be inconsistent. Rebuild from blocks.
	if _, found := blocks.GetReorgCheckpoint(); found {
		if err := ch.RebuildUTXOs(); err != nil {
			return nil, fmt.Errorf("recover from interrupted reorg: %w", err)
		}
	}

	// Backfill the index from any blocks already on disk (first run against
	// an existing store, or one created before the index existed): every
	// persisted block becomes a ValidChain, data-available entry so
	// Candidates/Invalidate/Reconsider have the full picture immediately.
	if genesisHash != (types.Hash{}) {
		if _, ok := idx.Get(genesisHash); !ok {
			if err := ch.backfillIndex(); err != nil {
				return nil, fmt.Errorf("backfill block index: %w", err)
			}
		}
	}

	return ch, nil
}

// backfillIndex walks every block already on disk (height 0..tip) and
// registers it in the block index, for stores that predate the index or
// are opened for the first time with existing data.
func (c *Chain) backfillIndex() error {
	height := c.state.Height
	for h := uint64(0); h <= height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block %d: %w", h, err)
		}
		hash := blk.Hash()
		if _, ok := c.index.Get(hash); ok {
			continue
		}
		work := new(big.Int).SetUint64(blk.Header.Difficulty)
		if _, err := c.index.InsertHeader(hash, blk.Header.PrevHash, blk.Header.Timestamp, work, false, types.Hash{}); err != nil {
			return fmt.Errorf("index block %d: %w", h, err)
		}
		if err := c.index.RaiseValidity(hash, blockindex.StatusValidScripts); err != nil {
			return fmt.Errorf("raise validity %d: %w", h, err)
		}
		if err := c.index.SetDataAvailable(hash, storage.Location{}, false, storage.Location{}, uint64(len(blk.Transactions))); err != nil {
			return fmt.Errorf("set data available %d: %w", h, err)
		}
	}
	return c.index.Flush()
}

// indexSideBlock registers a stored fork block (and any stored ancestors
// the index doesn't know yet) in the block index, raising it to
// VALID_TRANSACTIONS: structural and per-transaction checks have already
// passed, full UTXO-context validation happens if and when the candidate
// machinery connects its branch. Rejects blocks extending a failed chain
// (blockindex.ErrDuplicatePrev).
func (c *Chain) indexSideBlock(blk *block.Block) error {
	hash := blk.Hash()
	if _, ok := c.index.Get(hash); ok {
		return c.index.RaiseValidity(hash, blockindex.StatusValidTransactions)
	}
	if blk.Header.Height > 0 {
		if _, ok := c.index.Get(blk.Header.PrevHash); !ok {
			parent, err := c.blocks.GetBlock(blk.Header.PrevHash)
			if err != nil {
				return fmt.Errorf("load fork parent %s: %w", blk.Header.PrevHash, err)
			}
			if err := c.indexSideBlock(parent); err != nil {
				return err
			}
		}
	}
	work := new(big.Int).SetUint64(blk.Header.Difficulty)
	if _, err := c.index.InsertHeader(hash, blk.Header.PrevHash, blk.Header.Timestamp, work, false, types.Hash{}); err != nil {
		return err
	}
	if err := c.index.RaiseValidity(hash, blockindex.StatusValidTransactions); err != nil {
		return err
	}
	return c.index.SetDataAvailable(hash, storage.Location{}, false, storage.Location{}, uint64(len(blk.Transactions)))
}

// raiseValidityIfIndexed bumps a block's validity level when it is already
// in the index. Fast-path validation runs before the block is indexed, so
// a missing entry is expected there, not an error.
func (c *Chain) raiseValidityIfIndexed(hash types.Hash, level blockindex.Status) {
	if _, ok := c.index.Get(hash); ok {
		_ = c.index.RaiseValidity(hash, level)
	}
}

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	if !c.state.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", c.state.Height)
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	// Genesis block bypasses consensus validation (no validator sig needed).
	// Apply directly: store block, apply UTXOs, set tip.
	if err := c.applyBlock(blk); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	blockLoc, err := c.blocks.PutBlock(blk)
	if err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	// Compute initial supply from genesis allocations.
	var supply uint64
	for _, v := range gen.Alloc {
		supply += v
	}

	hash := blk.Hash()
	c.state.TipHash = hash
	c.state.Height = 0
	c.state.Supply = supply
	c.genesisHash = hash

	// Store protocol limits from genesis.
	c.maxSupply = gen.Protocol.Consensus.MaxSupply
	c.blockReward = gen.Protocol.Consensus.BlockReward
	c.validatorStake = gen.Protocol.Consensus.ValidatorStake

	if err := c.blocks.SetTip(hash, 0, supply); err != nil {
		return fmt.Errorf("set genesis tip: %w", err)
	}

	if err := c.recordAccepted(blk, blockLoc, storage.Location{}, false); err != nil {
		return fmt.Errorf("index genesis: %w", err)
	}
	if err := c.index.Flush(); err != nil {
		return fmt.Errorf("flush block index: %w", err)
	}

	return nil
}

// recordAccepted registers a newly connected block in the block index,
// raising it to VALID_SCRIPTS (full validation, script checks included,
// has run by the time a block connects) and marking its data available.
// Called from the fast path, genesis init, and reorg replay — every place
// a block becomes part of the active chain. blockLoc/undoLoc are the
// Locations PutBlock/PutUndo (or CommitBlock) just returned; haveUndo is
// false for genesis, which has nothing to undo. Callers flush the index's
// dirty set themselves: per block on the fast path, per batch during
// branch replay.
func (c *Chain) recordAccepted(blk *block.Block, blockLoc, undoLoc storage.Location, haveUndo bool) error {
	hash := blk.Hash()
	if _, ok := c.index.Get(hash); !ok {
		work := new(big.Int).SetUint64(blk.Header.Difficulty)
		if _, err := c.index.InsertHeader(hash, blk.Header.PrevHash, blk.Header.Timestamp, work, false, types.Hash{}); err != nil {
			return err
		}
	}
	if err := c.index.RaiseValidity(hash, blockindex.StatusValidScripts); err != nil {
		return err
	}
	return c.index.SetDataAvailable(hash, blockLoc, haveUndo, undoLoc, uint64(len(blk.Transactions)))
}

// Invalidate permanently marks hash (and every descendant already known to
// the index) invalid, per the chain controller's invalidateblock
// operation. If the current tip descends from hash, the chain reorgs to
// the best remaining, non-failed candidate.
func (c *Chain) Invalidate(hash types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hash == c.genesisHash {
		return fmt.Errorf("cannot invalidate genesis block")
	}
	if err := c.index.MarkFailed(hash); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := c.index.Flush(); err != nil {
		return fmt.Errorf("flush block index: %w", err)
	}

	if !c.tipHasEntry(hash) {
		return nil
	}
	return c.activateBestCandidate()
}

// Reconsider clears a prior Invalidate on hash and every descendant whose
// only failure reason was this ancestor (the reconsiderblock operation),
// then
// reorgs to the resulting best candidate if it now out-works the tip.
func (c *Chain) Reconsider(hash types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.ClearFailed(hash); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	if err := c.index.Flush(); err != nil {
		return fmt.Errorf("flush block index: %w", err)
	}
	return c.activateBestCandidate()
}

// tipHasEntry reports whether the current tip descends from (or is) hash.
func (c *Chain) tipHasEntry(hash types.Hash) bool {
	tip, ok := c.index.Get(c.state.TipHash)
	if !ok {
		return false
	}
	if tip.Hash == hash {
		return true
	}
	for cur := tip.Prev; cur != nil; cur = cur.Prev {
		if cur.Hash == hash {
			return true
		}
	}
	return false
}

// activateBestCandidate is the activate-best-chain loop: walk the
// candidate set best-work-first and reorg to the first entry that has its
// block data on disk and isn't already the active tip. Reorg itself
// declines candidates that don't out-work the tip, and since candidates
// are ordered by work, one declined candidate means all the rest would be
// too. A candidate whose branch fails validation before any state was
// touched (ErrBranchInvalid) is marked failed with its descendants and
// the loop restarts against the pruned candidate set; any other Reorg
// error is surfaced to the caller.
func (c *Chain) activateBestCandidate() error {
	for {
		restart := false
		for _, entry := range c.index.Candidates() {
			if entry.Hash == c.state.TipHash {
				return nil
			}
			has, err := c.blocks.HasBlock(entry.Hash)
			if err != nil || !has {
				continue
			}
			err = c.Reorg(entry.Hash)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrBranchInvalid) {
				if markErr := c.index.MarkFailed(entry.Hash); markErr != nil {
					return fmt.Errorf("mark failed candidate %s: %v (after %w)", entry.Hash, markErr, err)
				}
				if flushErr := c.index.Flush(); flushErr != nil {
					return fmt.Errorf("flush block index: %w", flushErr)
				}
				restart = true
				break
			}
			return fmt.Errorf("activate candidate %s: %w", entry.Hash, err)
		}
		if !restart {
			return nil
		}
	}
}

// SetConsensusRules configures consensus economic limits for runtime validation.
// Call this on startup for both fresh and resumed chains.
func (c *Chain) SetConsensusRules(r config.ConsensusRules) {
	c.maxSupply = r.MaxSupply
	c.blockReward = r.BlockReward
	c.validatorStake = r.ValidatorStake
}

// State returns a copy of the current chain state.
func (c *Chain) State() State {
	return *c.state
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	return c.state.TipHash
}

// TipTimestamp returns the timestamp of the current chain tip.
func (c *Chain) TipTimestamp() uint64 {
	return c.state.TipTimestamp
}

// Supply returns the total coins in circulation.
func (c *Chain) Supply() uint64 {
	return c.state.Supply
}

// SetRegistrationHandler sets the callback for ScriptTypeRegister outputs in confirmed blocks.
func (c *Chain) SetRegistrationHandler(fn RegistrationHandler) {
	c.registrationHandler = fn
}

// SetDeregistrationHandler sets the callback for ScriptTypeRegister outputs reverted during a reorg.
func (c *Chain) SetDeregistrationHandler(fn DeregistrationHandler) {
	c.deregistrationHandler = fn
}

// SetStakeHandler sets the callback for ScriptTypeStake outputs in confirmed blocks.
func (c *Chain) SetStakeHandler(fn StakeHandler) {
	c.stakeHandler = fn
}

// SetUnstakeHandler sets the callback for ScriptTypeStake outputs being spent (stake withdrawn).
func (c *Chain) SetUnstakeHandler(fn UnstakeHandler) {
	c.unstakeHandler = fn
}

// SetRevertedTxHandler sets the callback for transactions reverted during a reorg.
// These transactions should be re-added to the mempool if they are still valid.
func (c *Chain) SetRevertedTxHandler(fn RevertedTxHandler) {
	c.revertedTxHandler = fn
}

// getBlockTimestamp returns the timestamp of a block at the given height.
// Used for PoW difficulty verification.
func (c *Chain) getBlockTimestamp(height uint64) (uint64, error) {
	blk, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return 0, err
	}
	return blk.Header.Timestamp, nil
}

// verifyDifficulty checks that a PoW block's stated difficulty matches
// the expected value computed from chain history. No-op for non-PoW engines.
func (c *Chain) verifyDifficulty(blk *block.Block) error {
	pow, ok := c.engine.(*consensus.PoW)
	if !ok {
		return nil // Not PoW — no difficulty to verify.
	}

	var prevDifficulty uint64
	if blk.Header.Height > 1 {
		prevBlk, err := c.blocks.GetBlockByHeight(blk.Header.Height - 1)
		if err != nil {
			return fmt.Errorf("get prev block for difficulty: %w", err)
		}
		prevDifficulty = prevBlk.Header.Difficulty
	}

	return pow.VerifyDifficulty(blk.Header, prevDifficulty, c.getBlockTimestamp)
}

// RebuildUTXOs clears the UTXO set and replays all blocks from genesis to
// the current tip, reconstructing the UTXO state and re-storing each
// block's undo record so later reorgs don't fail for lack of one. Used to
// recover from a crash during reorg where the UTXO set may be inconsistent.
func (c *Chain) RebuildUTXOs() error {
	store, ok := c.utxos.(*utxo.Store)
	if !ok {
		return fmt.Errorf("UTXO set does not support ClearAll (not *utxo.Store)")
	}

	if err := store.ClearAll(); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	if c.tokenStore != nil {
		if err := c.tokenStore.ClearAll(); err != nil {
			return fmt.Errorf("clear token state: %w", err)
		}
	}

	// Replay all blocks from genesis to current tip. The reward is computed
	// before the block applies, while its inputs are still unspent.
	var supply uint64
	var cumDiff uint64
	for h := uint64(0); h <= c.state.Height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}

		blockReward := c.computeBlockReward(blk)

		if h == 0 {
			if err := c.applyBlock(blk); err != nil {
				return fmt.Errorf("replay block at height %d: %w", h, err)
			}
		} else {
			undo, err := c.applyBlockWithUndo(blk)
			if err != nil {
				return fmt.Errorf("replay block at height %d: %w", h, err)
			}
			undo.BlockReward = blockReward
			undoBytes, err := json.Marshal(undo)
			if err != nil {
				return fmt.Errorf("marshal undo at height %d: %w", h, err)
			}
			if _, err := c.blocks.PutUndo(blk.Hash(), blk.Header.PrevHash, undoBytes); err != nil {
				return fmt.Errorf("store undo at height %d: %w", h, err)
			}
		}

		supply += blockReward
		cumDiff += blk.Header.Difficulty
	}

	c.state.Supply = supply
	c.state.CumulativeDifficulty = cumDiff

	// Persist recovered state.
	if err := c.blocks.SetTip(c.state.TipHash, c.state.Height, supply); err != nil {
		return fmt.Errorf("set tip after rebuild: %w", err)
	}
	if err := c.blocks.SetCumulativeDifficulty(cumDiff); err != nil {
		return fmt.Errorf("set cumulative difficulty after rebuild: %w", err)
	}

	// Clear the checkpoint — recovery complete.
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("delete reorg checkpoint: %w", err)
	}

	return nil
}

// GetTransaction looks up a confirmed transaction by hash via the tx index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}

// MinBlocksToKeep is the retention window PruneToHeight always preserves
// below its target height.
const MinBlocksToKeep = 288

// EnableBlockFiles switches block/undo storage from KV-embedded JSON to the
// append-only blk?????.dat/rev?????.dat file sequence under dir.
// Call once, before any blocks are written under the new scheme — typically
// right after New(), using config.BlocksDir(). maxFileSize<=0 uses the
// FileStore default (128 MiB).
func (c *Chain) EnableBlockFiles(dir string, maxFileSize int64) error {
	fs, err := storage.NewFileStore(dir, 0, maxFileSize)
	if err != nil {
		return fmt.Errorf("enable block files: %w", err)
	}
	c.blocks.SetFileStore(fs)
	return nil
}

// SetScriptWorkers resizes the script-check worker pool. n<=0 selects one
// worker per CPU core. Call before the node starts processing blocks; the
// previous engine's result cache is discarded.
func (c *Chain) SetScriptWorkers(n int) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = scriptengine.New(n, 0)
}

// BlockFilesSize reports the total on-disk bytes of the block/undo file
// sequence, for the prune loop's byte-budget check.
func (c *Chain) BlockFilesSize() (int64, error) {
	return c.blocks.BlockFilesSize()
}

// PruneToHeight deletes block/undo files more than MinBlocksToKeep below
// height, per the chain controller's prune_to_height control surface
// operation. Returns the indices of
// files removed (possibly none, if nothing yet falls outside the window).
func (c *Chain) PruneToHeight(height uint64) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks.PruneToHeight(height, MinBlocksToKeep)
}

// PreciousBlock marks hash as preferred among otherwise-equal-work
// candidates (the precious_block operation) and, if that makes it the best
// candidate, activates it as the new tip.
func (c *Chain) PreciousBlock(hash types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.index.MarkPrecious(hash); err != nil {
		return fmt.Errorf("mark precious: %w", err)
	}
	return c.activateBestCandidate()
}

// VerifyChainLevel controls how much verify_chain re-checks per block,
// cheapest first.
type VerifyChainLevel int

const (
	// VerifyLevelExistence checks only that block data is present on disk.
	VerifyLevelExistence VerifyChainLevel = iota
	// VerifyLevelUndo additionally requires a readable undo record for
	// every non-genesis block in range.
	VerifyLevelUndo
	// VerifyLevelConnectivity additionally checks that each block's
	// PrevHash links to the preceding block actually stored at height-1.
	VerifyLevelConnectivity
	// VerifyLevelStructure additionally re-runs context-free structural
	// validation (merkle root, header shape) on each block.
	VerifyLevelStructure
	// VerifyLevelFull additionally replays each block's UTXO-dependent
	// validation (signatures, maturity, tokens) against a throwaway view,
	// without mutating live chain state.
	VerifyLevelFull
)

// VerifyChain walks the last depth blocks below the active tip (or the
// whole chain if depth is 0 or exceeds the tip height), applying
// increasingly expensive checks up to level. It returns the first error
// encountered, naming the offending height, or nil if every block in range
// passes every check up to level.
func (c *Chain) VerifyChain(level VerifyChainLevel, depth uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.state.Height
	start := uint64(0)
	if depth > 0 && depth <= tip {
		start = tip - depth + 1
	}

	var prev *block.Block
	for h := start; h <= tip; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("verify_chain: block at height %d unreadable: %w", h, err)
		}

		if level >= VerifyLevelUndo && h > 0 {
			if _, err := c.blocks.GetUndo(blk.Hash(), blk.Header.PrevHash); err != nil {
				return fmt.Errorf("verify_chain: undo at height %d unreadable: %w", h, err)
			}
		}

		if level >= VerifyLevelConnectivity && prev != nil {
			if blk.Header.PrevHash != prev.Hash() {
				return fmt.Errorf("verify_chain: block at height %d does not link to height %d", h, h-1)
			}
		}

		if level >= VerifyLevelStructure {
			if err := blk.Validate(); err != nil {
				return fmt.Errorf("verify_chain: structural check failed at height %d: %w", h, err)
			}
		}

		if level >= VerifyLevelFull && h > 0 {
			if err := c.validateBlockState(blk); err != nil {
				return fmt.Errorf("verify_chain: state validation failed at height %d: %w", h, err)
			}
		}

		prev = blk
	}
	return nil
}
