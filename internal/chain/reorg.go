package chain

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/blockindex"
	"github.com/Klingon-tech/klingnet-chain/internal/coinview"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/tokenstate"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GovernanceUndoEntry records a restriction record's value immediately
// before a governance op mutated it, so reverting a block can put it back
// exactly rather than re-deriving it.
type GovernanceUndoEntry struct {
	TokenID types.TokenID           `json:"token_id"`
	Prev    *tokenstate.Restriction `json:"prev"`
}

// UndoData stores the information needed to revert a block's UTXO and
// token-state changes.
type UndoData struct {
	SpentUTXOs       []utxo.UTXO            `json:"spent_utxos"`
	CreatedOutpoints []types.Outpoint       `json:"created_outpoints"`
	TxHashes         []types.Hash           `json:"tx_hashes"`
	BlockReward      uint64                 `json:"block_reward"`
	GovernanceUndo   []GovernanceUndoEntry  `json:"governance_undo,omitempty"`
}

// ErrForkDetected indicates a valid block whose parent is known but is not the
// current tip. The caller should decide whether to reorg.
var ErrForkDetected = fmt.Errorf("fork detected")

// ErrReorgTooDeep is returned when a reorg exceeds MaxReorgDepth.
var ErrReorgTooDeep = fmt.Errorf("reorg too deep")

// ErrGenesisReorg is returned when a reorg would replace the genesis block.
var ErrGenesisReorg = fmt.Errorf("reorg would replace genesis block")

// ErrBranchInvalid tags a reorg that was rejected because the new branch
// failed validation before any chain state was touched. The activate loop
// marks such a candidate failed and retries the next one; errors without
// this tag may have interrupted a partially applied switch and are
// surfaced instead (crash-checkpoint recovery covers them).
var ErrBranchInvalid = fmt.Errorf("branch failed validation")

// MaxReorgDepth is the maximum number of blocks that can be reverted in a reorg.
const MaxReorgDepth = 1000

// connectBatchSize bounds how many blocks are connected per batch during
// branch replay; the block index's dirty set is flushed once per batch
// rather than once per block.
const connectBatchSize = 32

// applyBlockWithUndo applies a block to the Coin View Stack and Token
// State, returning undo data for both. Every mutation goes through a
// per-block coinview.MemView/tokenstate.MemView overlay stacked on the
// chain's tip views, flushed atomically into them once the whole block
// has applied cleanly — the overlay is what ConnectBlock actually runs
// against, not a direct write to the backing store.
func (c *Chain) applyBlockWithUndo(blk *block.Block) (*UndoData, error) {
	undo := &UndoData{}

	coins := coinview.NewMemView(c.coins)
	tokens := tokenstate.NewMemView(c.tokens)

	for txIdx, transaction := range blk.Transactions {
		txHash := transaction.Hash()
		undo.TxHashes = append(undo.TxHashes, txHash)
		isCoinbase := txIdx == 0 && blk.Header.Height > 0

		// Detect if this tx spends any stake UTXOs → lock return outputs.
		var lockedUntil uint64
		for _, in := range transaction.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			u, err := coins.Get(in.PrevOut)
			if err == nil && u.Script.Type == types.ScriptTypeStake {
				lockedUntil = blk.Header.Height + config.UnstakeCooldown
				break
			}
		}

		// Spend inputs — save UTXO before deleting for undo.
		for _, in := range transaction.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			u, err := coins.Spend(in.PrevOut)
			if err != nil {
				return nil, fmt.Errorf("spend %s: %w", in.PrevOut, err)
			}
			undo.SpentUTXOs = append(undo.SpentUTXOs, *u)
		}

		// Create outputs.
		for i, out := range transaction.Outputs {
			op := types.Outpoint{TxID: txHash, Index: uint32(i)}
			undo.CreatedOutpoints = append(undo.CreatedOutpoints, op)

			u := &utxo.UTXO{
				Outpoint:    op,
				Value:       out.Value,
				Script:      out.Script,
				Token:       out.Token,
				Height:      blk.Header.Height,
				Coinbase:    isCoinbase,
				LockedUntil: lockedUntil,
			}
			if err := coins.Add(op, u, false); err != nil {
				return nil, fmt.Errorf("create output %s:%d: %w", txHash, i, err)
			}

			if out.Script.Type == types.ScriptTypeGovernance {
				entry, err := applyGovernanceOp(tokens, out.Script.Data)
				if err != nil {
					return nil, fmt.Errorf("governance op %s:%d: %w", txHash, i, err)
				}
				if entry != nil {
					undo.GovernanceUndo = append(undo.GovernanceUndo, *entry)
				}
			}
		}
	}

	coins.SetBestBlock(blk.Hash())
	if err := coins.Flush(); err != nil {
		return nil, fmt.Errorf("flush coin view: %w", err)
	}
	tokens.SetBestBlock(blk.Hash())
	if err := tokens.Flush(); err != nil {
		return nil, fmt.Errorf("flush token state: %w", err)
	}

	return undo, nil
}

// revertBlock undoes a block's Coin View and Token State changes using
// stored undo data, through the same overlay/flush discipline
// applyBlockWithUndo uses. prevHash becomes the views' new best-block
// marker (the block being reverted's parent).
func (c *Chain) revertBlock(undo *UndoData, prevHash types.Hash) error {
	coins := coinview.NewMemView(c.coins)
	tokens := tokenstate.NewMemView(c.tokens)

	// Delete created outputs (reverse order for safety).
	for i := len(undo.CreatedOutpoints) - 1; i >= 0; i-- {
		if _, err := coins.Spend(undo.CreatedOutpoints[i]); err != nil {
			return fmt.Errorf("delete created output %s: %w", undo.CreatedOutpoints[i], err)
		}
	}

	// Restore spent UTXOs.
	for i := range undo.SpentUTXOs {
		spent := undo.SpentUTXOs[i]
		if err := coins.Add(spent.Outpoint, &spent, true); err != nil {
			return fmt.Errorf("restore utxo %s: %w", spent.Outpoint, err)
		}
	}

	// Undo governance ops in reverse application order.
	for i := len(undo.GovernanceUndo) - 1; i >= 0; i-- {
		entry := undo.GovernanceUndo[i]
		if _, err := tokens.PutRestriction(entry.TokenID, entry.Prev); err != nil {
			return fmt.Errorf("revert restriction %s: %w", entry.TokenID, err)
		}
	}

	coins.SetBestBlock(prevHash)
	if err := coins.Flush(); err != nil {
		return fmt.Errorf("flush coin view: %w", err)
	}
	tokens.SetBestBlock(prevHash)
	if err := tokens.Flush(); err != nil {
		return fmt.Errorf("flush token state: %w", err)
	}

	// Remove tx index entries.
	for _, txHash := range undo.TxHashes {
		if err := c.blocks.DeleteTxIndex(txHash); err != nil {
			return fmt.Errorf("delete tx index %s: %w", txHash, err)
		}
	}

	return nil
}

// Reorg switches the chain from the current tip to the new tip. The fork
// point is resolved through the block index (FindFork over skip pointers)
// and the work comparison uses the index's cumulative work, so neither
// requires re-reading old-branch blocks from disk. The switch only
// proceeds if the target outranks the tip in fork-choice order — strictly
// more cumulative work, with precious/first-seen tie-breaks — or if the
// tip has been invalidated, in which case the chain disconnects back to
// the target regardless of work. PoA in-turn blocks carry difficulty 2 vs
// 1 out-of-turn, so the in-turn chain always wins the work comparison.
func (c *Chain) Reorg(newTipHash types.Hash) error {
	newEntry, ok := c.index.Get(newTipHash)
	if !ok {
		return fmt.Errorf("reorg target %s not in block index", newTipHash)
	}
	tipEntry, ok := c.index.Get(c.state.TipHash)
	if !ok {
		return fmt.Errorf("active tip %s not in block index", c.state.TipHash)
	}

	// The candidate must outrank the tip in full fork-choice order (work,
	// precious marking, first-seen sequence) — unless the tip itself has
	// been invalidated, in which case the chain must move off it even to
	// a lower-work candidate.
	if !tipEntry.Status.Failed() && !blockindex.Better(newEntry, tipEntry) {
		return nil // Candidate doesn't outrank the tip — keep current chain.
	}

	fork := c.index.FindFork(tipEntry, newEntry)
	if fork == nil {
		return ErrGenesisReorg
	}
	if newEntry.Height-fork.Height > MaxReorgDepth {
		return fmt.Errorf("%w: branch exceeds %d blocks", ErrReorgTooDeep, MaxReorgDepth)
	}

	// Empty when newEntry is an ancestor of the tip: a pure disconnect.
	newBranch, err := c.collectBranch(newEntry, fork)
	if err != nil {
		return fmt.Errorf("collect new branch: %w", err)
	}

	forkHeight := fork.Height
	oldHeight := c.state.Height

	// Context-free validation of the whole branch up front, before any
	// state is touched: a bad branch is rejected while a retry is still
	// safe (ErrBranchInvalid), instead of after old blocks have already
	// been reverted. Input signatures need no UTXO context in this
	// protocol (one shared sighash per transaction), so a branch carrying
	// an invalid signature is caught here too.
	for _, blk := range newBranch {
		if err := c.validator.ValidateBlock(blk); err != nil {
			return fmt.Errorf("%w: block at height %d: %v", ErrBranchInvalid, blk.Header.Height, err)
		}
		for i, transaction := range blk.Transactions {
			if i == 0 {
				continue // Coinbase.
			}
			if err := transaction.VerifySignatures(); err != nil {
				return fmt.Errorf("%w: block at height %d tx %d: %v", ErrBranchInvalid, blk.Header.Height, i, err)
			}
		}
	}

	// Write reorg checkpoint so we can recover if the node crashes mid-reorg.
	if err := c.blocks.PutReorgCheckpoint(forkHeight); err != nil {
		return fmt.Errorf("write reorg checkpoint: %w", err)
	}

	// Collect reverted non-coinbase transactions for mempool re-insertion.
	var revertedTxs []*tx.Transaction

	// Revert old blocks from current tip down to fork point.
	for h := oldHeight; h > forkHeight; h-- {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load old block at height %d: %w", h, err)
		}
		bHash := blk.Hash()
		undoBytes, err := c.blocks.GetUndo(bHash, blk.Header.PrevHash)
		if err != nil {
			// Undo data missing — fall back to full UTXO rebuild.
			return c.rebuildReorg(newBranch, forkHeight)
		}
		var undo UndoData
		if err := json.Unmarshal(undoBytes, &undo); err != nil {
			return fmt.Errorf("unmarshal undo for block %s: %w", bHash, err)
		}

		if err := c.revertBlock(&undo, blk.Header.PrevHash); err != nil {
			return fmt.Errorf("revert block %s: %w", bHash, err)
		}

		// Notify sub-chain manager about reverted registrations.
		if c.deregistrationHandler != nil {
			for _, transaction := range blk.Transactions {
				txHash := transaction.Hash()
				for i, out := range transaction.Outputs {
					if out.Script.Type == types.ScriptTypeRegister {
						c.deregistrationHandler(txHash, uint32(i))
					}
				}
			}
		}

		// Undo stake creations: created stake outputs are being deleted → unstake.
		if c.unstakeHandler != nil {
			for _, transaction := range blk.Transactions {
				for _, out := range transaction.Outputs {
					if out.Script.Type == types.ScriptTypeStake && len(out.Script.Data) == 33 {
						c.unstakeHandler(out.Script.Data)
					}
				}
			}
		}

		// Undo stake spends: spent stake UTXOs are being restored → re-stake.
		if c.stakeHandler != nil {
			for i := range undo.SpentUTXOs {
				su := &undo.SpentUTXOs[i]
				if su.Script.Type == types.ScriptTypeStake && len(su.Script.Data) == 33 {
					c.stakeHandler(su.Script.Data)
				}
			}
		}

		// Collect non-coinbase transactions for mempool re-insertion.
		if c.revertedTxHandler != nil && len(blk.Transactions) > 1 {
			revertedTxs = append(revertedTxs, blk.Transactions[1:]...)
		}

		if undo.BlockReward > c.state.Supply {
			return fmt.Errorf("supply underflow at height %d: reward %d > supply %d", h, undo.BlockReward, c.state.Supply)
		}
		c.state.Supply -= undo.BlockReward
		c.state.CumulativeDifficulty -= blk.Header.Difficulty

		if err := c.blocks.DeleteUndo(bHash); err != nil {
			return fmt.Errorf("delete undo for block %s: %w", bHash, err)
		}
	}

	// Connect the new branch in batches of connectBatchSize: each block is
	// individually persisted by CommitBlock, while the block index's dirty
	// set is flushed once per batch. Context-free validation already ran in
	// the pre-pass above; only the UTXO-context checks remain per step.
	for idx, blk := range newBranch {
		// Verify PoW difficulty if applicable. Height-indexed predecessor
		// lookups resolve correctly here because each connected block
		// rewrites the height index before the next one is checked.
		if err := c.verifyDifficulty(blk); err != nil {
			return fmt.Errorf("difficulty check replay block at height %d: %w", blk.Header.Height, err)
		}

		// Validate UTXO-dependent rules (tx signatures, maturity, tokens, stakes).
		if err := c.validateBlockState(blk); err != nil {
			return fmt.Errorf("state validation replay block at height %d: %w", blk.Header.Height, err)
		}

		blockReward := c.computeBlockReward(blk)

		undo, err := c.applyBlockWithUndo(blk)
		if err != nil {
			return fmt.Errorf("apply new block at height %d: %w", blk.Header.Height, err)
		}
		undo.BlockReward = blockReward

		undoBytes, err := json.Marshal(undo)
		if err != nil {
			return fmt.Errorf("marshal undo: %w", err)
		}

		// Cap block reward to respect max supply and prevent overflow.
		if c.maxSupply > 0 && c.state.Supply+blockReward > c.maxSupply {
			blockReward = c.maxSupply - c.state.Supply
		}
		if c.state.Supply > ^uint64(0)-blockReward {
			return fmt.Errorf("supply overflow at height %d: supply %d + reward %d", blk.Header.Height, c.state.Supply, blockReward)
		}

		newSupply := c.state.Supply + blockReward
		newCumDiff := c.state.CumulativeDifficulty + blk.Header.Difficulty

		// Persist block and undo, then indexes and chain state (the latter
		// in one atomic batch with a Batcher-capable DB).
		blockLoc, undoLoc, err := c.blocks.CommitBlock(blk, undoBytes, newSupply, newCumDiff)
		if err != nil {
			return fmt.Errorf("commit replay block at height %d: %w", blk.Header.Height, err)
		}

		c.state.Supply = newSupply
		c.state.CumulativeDifficulty = newCumDiff

		if err := c.recordAccepted(blk, blockLoc, undoLoc, true); err != nil {
			return fmt.Errorf("index replay block at height %d: %w", blk.Header.Height, err)
		}

		// Fire registration handler for any registrations in the new branch.
		if c.registrationHandler != nil {
			for _, transaction := range blk.Transactions {
				txHash := transaction.Hash()
				for i, out := range transaction.Outputs {
					if out.Script.Type == types.ScriptTypeRegister {
						c.registrationHandler(txHash, uint32(i), out.Value, out.Script.Data, blk.Header.Height)
					}
				}
			}
		}

		// Fire stake handler for any stakes in the new branch.
		if c.stakeHandler != nil {
			for _, transaction := range blk.Transactions {
				for _, out := range transaction.Outputs {
					if out.Script.Type == types.ScriptTypeStake && len(out.Script.Data) == 33 {
						c.stakeHandler(out.Script.Data)
					}
				}
			}
		}

		// Fire unstake handler for spent stakes in the new branch.
		if c.unstakeHandler != nil {
			for i := range undo.SpentUTXOs {
				su := &undo.SpentUTXOs[i]
				if su.Script.Type == types.ScriptTypeStake && len(su.Script.Data) == 33 {
					c.unstakeHandler(su.Script.Data)
				}
			}
		}

		if (idx+1)%connectBatchSize == 0 {
			if err := c.index.Flush(); err != nil {
				return fmt.Errorf("flush block index: %w", err)
			}
		}
	}
	if err := c.index.Flush(); err != nil {
		return fmt.Errorf("flush block index: %w", err)
	}

	// Update in-memory tip state (persistent state already committed
	// atomically by CommitBlock during the replay loop above).
	if len(newBranch) > 0 {
		tip := newBranch[len(newBranch)-1]
		c.state.TipHash = tip.Hash()
		c.state.Height = tip.Header.Height
		c.state.TipTimestamp = tip.Header.Timestamp
	} else {
		// Pure disconnect: the target is an ancestor of the old tip (the
		// tip was invalidated). No CommitBlock ran, so persist the
		// moved-back tip and drop the stale height mappings explicitly.
		forkBlk, err := c.blocks.GetBlock(newEntry.Hash)
		if err != nil {
			return fmt.Errorf("load new tip %s: %w", newEntry.Hash, err)
		}
		c.state.TipHash = newEntry.Hash
		c.state.Height = newEntry.Height
		c.state.TipTimestamp = forkBlk.Header.Timestamp
		for h := oldHeight; h > forkHeight; h-- {
			if err := c.blocks.DeleteHeightIndex(h); err != nil {
				return fmt.Errorf("delete height index %d: %w", h, err)
			}
		}
		if err := c.blocks.SetTip(newEntry.Hash, newEntry.Height, c.state.Supply); err != nil {
			return fmt.Errorf("set tip: %w", err)
		}
		if err := c.blocks.SetCumulativeDifficulty(c.state.CumulativeDifficulty); err != nil {
			return fmt.Errorf("set cumulative difficulty: %w", err)
		}
	}

	// Reorg complete — remove the crash-recovery checkpoint.
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("delete reorg checkpoint: %w", err)
	}

	// Return reverted transactions to mempool (excluding any that appear in the new branch).
	if c.revertedTxHandler != nil && len(revertedTxs) > 0 {
		// Build a set of tx hashes in the new branch to filter conflicts.
		newBranchTxs := make(map[types.Hash]bool)
		for _, blk := range newBranch {
			for _, t := range blk.Transactions {
				newBranchTxs[t.Hash()] = true
			}
		}
		var toReturn []*tx.Transaction
		for _, t := range revertedTxs {
			if !newBranchTxs[t.Hash()] {
				toReturn = append(toReturn, t)
			}
		}
		if len(toReturn) > 0 {
			c.revertedTxHandler(toReturn)
		}
	}

	return nil
}

// collectBranch loads the blocks of the branch ending at newTip back to
// (excluding) fork, in ascending height order (fork+1 ... newTip). The
// walk follows the block index's predecessor pointers, so only the branch
// blocks themselves are read from disk.
func (c *Chain) collectBranch(newTip, fork *blockindex.Entry) ([]*block.Block, error) {
	if newTip.Height <= fork.Height {
		return nil, nil
	}
	n := newTip.Height - fork.Height
	branch := make([]*block.Block, n)
	e := newTip
	for i := int(n) - 1; i >= 0; i-- {
		if e == nil {
			return nil, fmt.Errorf("branch walk broke below %s", newTip.Hash)
		}
		blk, err := c.blocks.GetBlock(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("load branch block %s: %w", e.Hash, err)
		}
		branch[i] = blk
		e = e.Prev
	}
	return branch, nil
}

// rebuildReorg handles a reorg when undo data is missing for old-branch blocks.
// Instead of reverting individual blocks, it indexes the new branch by height,
// clears the entire UTXO set, and replays all blocks from genesis through the
// new tip. This is slower than undo-based reorg but always correct.
func (c *Chain) rebuildReorg(newBranch []*block.Block, forkHeight uint64) error {
	if len(newBranch) == 0 {
		// A pure disconnect found no undo record to revert with; the height
		// index still maps the branch being abandoned, so a rebuild would
		// only reconstruct it. Surface the corruption instead.
		return fmt.Errorf("rebuild reorg: no undo data and no replacement branch")
	}
	store, ok := c.utxos.(*utxo.Store)
	if !ok {
		return fmt.Errorf("rebuild reorg: UTXO set does not support ClearAll (not *utxo.Store)")
	}
	if c.tokenStore == nil {
		return fmt.Errorf("rebuild reorg: token state store not initialized")
	}

	newTip := newBranch[len(newBranch)-1]
	newTipHash := newTip.Hash()

	// Fire deregistration/unstake handlers for old-branch blocks (above fork point).
	oldHeight := c.state.Height
	for h := oldHeight; h > forkHeight; h-- {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			continue // Best-effort handler firing.
		}
		if c.deregistrationHandler != nil {
			for _, transaction := range blk.Transactions {
				txHash := transaction.Hash()
				for i, out := range transaction.Outputs {
					if out.Script.Type == types.ScriptTypeRegister {
						c.deregistrationHandler(txHash, uint32(i))
					}
				}
			}
		}
		if c.unstakeHandler != nil {
			for _, transaction := range blk.Transactions {
				for _, out := range transaction.Outputs {
					if out.Script.Type == types.ScriptTypeStake && len(out.Script.Data) == 33 {
						c.unstakeHandler(out.Script.Data)
					}
				}
			}
		}
	}

	// Index new branch blocks by height (overwrites old-branch height entries),
	// remembering where each landed so the replay loop below doesn't write them
	// a second time.
	blockLocs := make(map[types.Hash]storage.Location, len(newBranch))
	for _, blk := range newBranch {
		loc, err := c.blocks.PutBlock(blk)
		if err != nil {
			return fmt.Errorf("rebuild reorg: index block at height %d: %w", blk.Header.Height, err)
		}
		blockLocs[blk.Hash()] = loc
	}

	// Clear the entire UTXO set and token-state store (restriction/issuance
	// records are not height-indexed, so a full rebuild must wipe them too).
	if err := store.ClearAll(); err != nil {
		return fmt.Errorf("rebuild reorg: clear UTXOs: %w", err)
	}
	if err := c.tokenStore.ClearAll(); err != nil {
		return fmt.Errorf("rebuild reorg: clear token state: %w", err)
	}

	// Replay all blocks from genesis through the new tip, building UTXOs
	// and storing undo data for future reorgs.
	var supply uint64
	var cumDiff uint64
	for h := uint64(0); h <= newTip.Header.Height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("rebuild reorg: load block at height %d: %w", h, err)
		}

		// Validate new-branch blocks (same checks as normal Reorg replay).
		if h > forkHeight {
			if err := c.validator.ValidateBlock(blk); err != nil {
				return fmt.Errorf("rebuild reorg: validate block at height %d: %w", h, err)
			}
			if err := c.verifyDifficulty(blk); err != nil {
				return fmt.Errorf("rebuild reorg: difficulty check at height %d: %w", h, err)
			}
			if err := c.validateBlockState(blk); err != nil {
				return fmt.Errorf("rebuild reorg: state validation at height %d: %w", h, err)
			}
		}

		blockReward := c.computeBlockReward(blk)

		undo, err := c.applyBlockWithUndo(blk)
		if err != nil {
			return fmt.Errorf("rebuild reorg: apply block at height %d: %w", h, err)
		}
		undo.BlockReward = blockReward

		undoBytes, err := json.Marshal(undo)
		if err != nil {
			return fmt.Errorf("rebuild reorg: marshal undo at height %d: %w", h, err)
		}
		undoLoc, err := c.blocks.PutUndo(blk.Hash(), blk.Header.PrevHash, undoBytes)
		if err != nil {
			return fmt.Errorf("rebuild reorg: store undo at height %d: %w", h, err)
		}

		if c.maxSupply > 0 && supply+blockReward > c.maxSupply {
			blockReward = c.maxSupply - supply
		}
		supply += blockReward
		cumDiff += blk.Header.Difficulty

		blockLoc, ok := blockLocs[blk.Hash()]
		if !ok {
			// Old-branch block below the fork height: still indexed under its
			// original location by an earlier Chain.recordAccepted call.
			if entry, found := c.index.Get(blk.Hash()); found {
				blockLoc = entry.BlockLocation
			}
		}
		if err := c.recordAccepted(blk, blockLoc, undoLoc, true); err != nil {
			return fmt.Errorf("rebuild reorg: index block at height %d: %w", h, err)
		}

		// Fire registration/stake handlers for new-branch blocks only.
		if h > forkHeight {
			if c.registrationHandler != nil {
				for _, transaction := range blk.Transactions {
					txHash := transaction.Hash()
					for i, out := range transaction.Outputs {
						if out.Script.Type == types.ScriptTypeRegister {
							c.registrationHandler(txHash, uint32(i), out.Value, out.Script.Data, blk.Header.Height)
						}
					}
				}
			}
			if c.stakeHandler != nil {
				for _, transaction := range blk.Transactions {
					for _, out := range transaction.Outputs {
						if out.Script.Type == types.ScriptTypeStake && len(out.Script.Data) == 33 {
							c.stakeHandler(out.Script.Data)
						}
					}
				}
			}
			if c.unstakeHandler != nil {
				for i := range undo.SpentUTXOs {
					su := &undo.SpentUTXOs[i]
					if su.Script.Type == types.ScriptTypeStake && len(su.Script.Data) == 33 {
						c.unstakeHandler(su.Script.Data)
					}
				}
			}
		}

		if (h+1)%connectBatchSize == 0 {
			if err := c.index.Flush(); err != nil {
				return fmt.Errorf("rebuild reorg: flush block index: %w", err)
			}
		}
	}
	if err := c.index.Flush(); err != nil {
		return fmt.Errorf("rebuild reorg: flush block index: %w", err)
	}

	// Update chain state.
	c.state.TipHash = newTipHash
	c.state.Height = newTip.Header.Height
	c.state.TipTimestamp = newTip.Header.Timestamp
	c.state.Supply = supply
	c.state.CumulativeDifficulty = cumDiff

	if err := c.blocks.SetTip(newTipHash, newTip.Header.Height, supply); err != nil {
		return fmt.Errorf("rebuild reorg: set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeDifficulty(cumDiff); err != nil {
		return fmt.Errorf("rebuild reorg: set cumulative difficulty: %w", err)
	}

	// Reorg complete — remove the crash-recovery checkpoint.
	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("rebuild reorg: delete checkpoint: %w", err)
	}

	return nil
}
