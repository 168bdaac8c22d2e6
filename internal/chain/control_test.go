package chain

import (
	"os"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/blockindex"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// TestInvalidate_ReorgsAwayFromFailedTip builds a main chain and a competing
// fork, invalidates the main chain's tip, and expects the controller to
// reorg onto the fork.
func TestInvalidate_ReorgsAwayFromFailedTip(t *testing.T) {
	ch, _, addr, _ := reorgTestChain(t)
	genesisHash := ch.TipHash()

	blkA1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 0)
	if err := ch.ProcessBlock(blkA1); err != nil {
		t.Fatalf("process A1: %v", err)
	}
	blkA2 := buildCoinbaseBlock(t, ch, blkA1.Hash(), 2, addr, 0)
	if err := ch.ProcessBlock(blkA2); err != nil {
		t.Fatalf("process A2: %v", err)
	}

	blkB1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 100)
	if err := ch.ProcessBlock(blkB1); err != nil {
		t.Fatalf("process B1: %v", err)
	}

	if ch.TipHash() != blkA2.Hash() {
		t.Fatalf("expected tip A2 before invalidate, got %s", ch.TipHash())
	}

	if err := ch.Invalidate(blkA2.Hash()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	// A1 and B1 have equal cumulative work; the fork-choice tie-break favors
	// whichever reached the candidate set first (A1, processed before B1).
	if ch.TipHash() != blkA1.Hash() {
		t.Fatalf("expected tip to reorg to A1 after invalidating A2, got %s", ch.TipHash())
	}

	entry, ok := ch.index.Get(blkA2.Hash())
	if !ok {
		t.Fatal("A2 should remain in the block index")
	}
	if entry.Status&blockindex.StatusFailedValid == 0 {
		t.Error("A2 should carry FAILED_VALID after Invalidate")
	}
}

// TestInvalidate_Genesis rejects invalidating the genesis block.
func TestInvalidate_Genesis(t *testing.T) {
	ch, _, _, _ := reorgTestChain(t)
	if err := ch.Invalidate(ch.genesisHash); err == nil {
		t.Fatal("expected error invalidating genesis")
	}
}

// TestReconsider_RestoresPreviouslyFailedChain clears a prior Invalidate and
// expects the controller to reorg back onto the now-valid, higher-work
// chain.
func TestReconsider_RestoresPreviouslyFailedChain(t *testing.T) {
	ch, _, addr, _ := reorgTestChain(t)
	genesisHash := ch.TipHash()

	blkA1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 0)
	if err := ch.ProcessBlock(blkA1); err != nil {
		t.Fatalf("process A1: %v", err)
	}
	blkA2 := buildCoinbaseBlock(t, ch, blkA1.Hash(), 2, addr, 0)
	if err := ch.ProcessBlock(blkA2); err != nil {
		t.Fatalf("process A2: %v", err)
	}

	blkB1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 100)
	if err := ch.ProcessBlock(blkB1); err != nil {
		t.Fatalf("process B1: %v", err)
	}

	if err := ch.Invalidate(blkA2.Hash()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	// A1 and B1 tie on work; A1 was processed first so it wins the tie-break.
	if ch.TipHash() != blkA1.Hash() {
		t.Fatalf("expected tip A1 after invalidate, got %s", ch.TipHash())
	}

	if err := ch.Reconsider(blkA2.Hash()); err != nil {
		t.Fatalf("Reconsider: %v", err)
	}
	if ch.TipHash() != blkA2.Hash() {
		t.Fatalf("expected tip to reorg back to A2 after reconsider, got %s", ch.TipHash())
	}

	entry, ok := ch.index.Get(blkA2.Hash())
	if !ok {
		t.Fatal("A2 should remain in the block index")
	}
	if entry.Status&blockindex.StatusFailedValid != 0 {
		t.Error("A2 should no longer carry FAILED_VALID after Reconsider")
	}
}

// TestPreciousBlock_PrefersMarkedCandidate: among two equal-work
// candidates, the one marked precious wins activation.
func TestPreciousBlock_PrefersMarkedCandidate(t *testing.T) {
	ch, _, addr, _ := reorgTestChain(t)
	genesisHash := ch.TipHash()

	blkA1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 0)
	if err := ch.ProcessBlock(blkA1); err != nil {
		t.Fatalf("process A1: %v", err)
	}
	blkB1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 100)
	if err := ch.ProcessBlock(blkB1); err != nil {
		t.Fatalf("process B1: %v", err)
	}

	// Equal work, A1 arrived first, so it should still be tip.
	if ch.TipHash() != blkA1.Hash() {
		t.Fatalf("expected tip A1 before PreciousBlock, got %s", ch.TipHash())
	}

	if err := ch.PreciousBlock(blkB1.Hash()); err != nil {
		t.Fatalf("PreciousBlock: %v", err)
	}
	if ch.TipHash() != blkB1.Hash() {
		t.Fatalf("expected tip B1 after marking it precious, got %s", ch.TipHash())
	}
}

// TestVerifyChain_PassesAtEveryLevel walks a short valid chain at every
// verification level and expects no error.
func TestVerifyChain_PassesAtEveryLevel(t *testing.T) {
	ch, _, addr, _ := reorgTestChain(t)
	genesisHash := ch.TipHash()

	blkA1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 0)
	if err := ch.ProcessBlock(blkA1); err != nil {
		t.Fatalf("process A1: %v", err)
	}
	blkA2 := buildCoinbaseBlock(t, ch, blkA1.Hash(), 2, addr, 0)
	if err := ch.ProcessBlock(blkA2); err != nil {
		t.Fatalf("process A2: %v", err)
	}

	for level := VerifyLevelExistence; level <= VerifyLevelStructure; level++ {
		if err := ch.VerifyChain(level, 0); err != nil {
			t.Errorf("VerifyChain(level=%d, depth=0): %v", level, err)
		}
	}
	if err := ch.VerifyChain(VerifyLevelConnectivity, 1); err != nil {
		t.Errorf("VerifyChain(level=connectivity, depth=1): %v", err)
	}
}

// TestVerifyChain_DetectsBrokenLink corrupts the on-disk copy of a block's
// PrevHash and expects VerifyLevelConnectivity to surface it.
func TestVerifyChain_DetectsBrokenLink(t *testing.T) {
	ch, _, addr, _ := reorgTestChain(t)
	genesisHash := ch.TipHash()

	blkA1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 0)
	if err := ch.ProcessBlock(blkA1); err != nil {
		t.Fatalf("process A1: %v", err)
	}
	blkA2 := buildCoinbaseBlock(t, ch, blkA1.Hash(), 2, addr, 0)
	if err := ch.ProcessBlock(blkA2); err != nil {
		t.Fatalf("process A2: %v", err)
	}

	// Overwrite A2's stored PrevHash in place so it no longer links to A1.
	stored, err := ch.blocks.GetBlockByHeight(2)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	stored.Header.PrevHash = types.Hash{}
	if _, err := ch.blocks.PutBlock(stored); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	if err := ch.VerifyChain(VerifyLevelConnectivity, 0); err == nil {
		t.Fatal("expected VerifyChain to detect the broken link")
	}
}

// TestPruneToHeight_NoFileStoreAttached returns an error rather than
// silently no-oping when no file store backs the chain.
func TestPruneToHeight_NoFileStoreAttached(t *testing.T) {
	ch, _, _, _ := reorgTestChain(t)
	if _, err := ch.PruneToHeight(1000); err == nil {
		t.Fatal("expected error pruning without an attached file store")
	}
}

// TestPruneToHeight_WithinRetentionWindow exercises the no-op path: with the
// active tip well inside MinBlocksToKeep, nothing should be pruned.
func TestPruneToHeight_WithinRetentionWindow(t *testing.T) {
	ch, _, addr, _ := reorgTestChain(t)
	dir, err := os.MkdirTemp("", "klingnet-prune-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	if err := ch.EnableBlockFiles(dir, 8<<20); err != nil {
		t.Fatalf("EnableBlockFiles: %v", err)
	}

	genesisHash := ch.TipHash()
	blkA1 := buildCoinbaseBlock(t, ch, genesisHash, 1, addr, 0)
	if err := ch.ProcessBlock(blkA1); err != nil {
		t.Fatalf("process A1: %v", err)
	}

	pruned, err := ch.PruneToHeight(ch.Height())
	if err != nil {
		t.Fatalf("PruneToHeight: %v", err)
	}
	if len(pruned) != 0 {
		t.Errorf("expected no files pruned within the retention window, got %v", pruned)
	}
}
