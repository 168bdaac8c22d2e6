package blockindex

import (
	"errors"
	"math/big"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func buildChain(t *testing.T, bi *BlockIndex, n int) []types.Hash {
	t.Helper()
	hashes := make([]types.Hash, n)
	var prev types.Hash
	for i := 0; i < n; i++ {
		h := hashOf(byte(i + 1))
		hashes[i] = h
		if _, err := bi.InsertHeader(h, prev, uint64(1000+i), big.NewInt(10), false, types.Hash{}); err != nil {
			t.Fatalf("insert header %d: %v", i, err)
		}
		prev = h
	}
	return hashes
}

func TestInsertHeaderAndWork(t *testing.T) {
	bi := New(storage.NewMemory())
	hashes := buildChain(t, bi, 5)

	tip, ok := bi.Get(hashes[4])
	if !ok {
		t.Fatal("tip not found")
	}
	if tip.Height != 4 {
		t.Fatalf("expected height 4, got %d", tip.Height)
	}
	if tip.CumulativeWork.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected cumulative work 50, got %s", tip.CumulativeWork)
	}
	if bi.BestHeader().Hash != hashes[4] {
		t.Fatal("best header should be the tip")
	}
}

func TestInsertHeaderUnknownPredecessor(t *testing.T) {
	bi := New(storage.NewMemory())
	_, err := bi.InsertHeader(hashOf(9), hashOf(8), 1000, big.NewInt(1), false, types.Hash{})
	if err == nil {
		t.Fatal("expected error for unknown predecessor")
	}
}

// TestInsertHeaderDuplicatePrev confirms InsertHeader rejects a header
// whose predecessor is already marked failed, rather than silently
// indexing it as FAILED_CHILD.
func TestInsertHeaderDuplicatePrev(t *testing.T) {
	bi := New(storage.NewMemory())
	hashes := buildChain(t, bi, 1)

	if err := bi.MarkFailed(hashes[0]); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	_, err := bi.InsertHeader(hashOf(50), hashes[0], 2000, big.NewInt(1), false, types.Hash{})
	if !errors.Is(err, ErrDuplicatePrev) {
		t.Fatalf("expected ErrDuplicatePrev, got %v", err)
	}
	if _, ok := bi.Get(hashOf(50)); ok {
		t.Fatal("header with a failed predecessor should not be indexed")
	}
}

func TestGetAncestorSkipPointer(t *testing.T) {
	bi := New(storage.NewMemory())
	hashes := buildChain(t, bi, 64)
	tip, _ := bi.Get(hashes[63])

	for h := 0; h < 64; h++ {
		anc := tip.GetAncestor(uint64(h))
		if anc == nil || anc.Hash != hashes[h] {
			t.Fatalf("ancestor at height %d mismatch", h)
		}
	}
}

func TestFindFork(t *testing.T) {
	bi := New(storage.NewMemory())
	common := buildChain(t, bi, 3)
	tip, _ := bi.Get(common[2])

	// Fork a from the common tip.
	aHash := hashOf(100)
	if _, err := bi.InsertHeader(aHash, tip.Hash, 2000, big.NewInt(10), false, types.Hash{}); err != nil {
		t.Fatalf("insert fork a: %v", err)
	}
	bHash := hashOf(101)
	if _, err := bi.InsertHeader(bHash, tip.Hash, 2001, big.NewInt(10), false, types.Hash{}); err != nil {
		t.Fatalf("insert fork b: %v", err)
	}

	a, _ := bi.Get(aHash)
	b, _ := bi.Get(bHash)
	fork := bi.FindFork(a, b)
	if fork == nil || fork.Hash != tip.Hash {
		t.Fatalf("expected fork at common tip, got %+v", fork)
	}
}

// TestRaiseValidityImpliesLowerLevels confirms validity is a contiguous
// prefix of the ladder: raising to VALID_CHAIN sets VALID_TRANSACTIONS and
// VALID_TREE too, but never VALID_SCRIPTS.
func TestRaiseValidityImpliesLowerLevels(t *testing.T) {
	bi := New(storage.NewMemory())
	hashes := buildChain(t, bi, 1)

	if err := bi.RaiseValidity(hashes[0], StatusValidChain); err != nil {
		t.Fatalf("raise validity: %v", err)
	}
	e, _ := bi.Get(hashes[0])
	for _, s := range []Status{StatusValidTree, StatusValidTransactions, StatusValidChain} {
		if e.Status&s == 0 {
			t.Errorf("status %b should be set after raising to VALID_CHAIN", s)
		}
	}
	if e.Status&StatusValidScripts != 0 {
		t.Error("VALID_SCRIPTS should not be set by raising to VALID_CHAIN")
	}

	// Candidates admit anything at VALID_TRANSACTIONS or above.
	if len(bi.Candidates()) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(bi.Candidates()))
	}
}

func TestMarkFailedPropagatesToChildren(t *testing.T) {
	bi := New(storage.NewMemory())
	hashes := buildChain(t, bi, 3)
	for _, h := range hashes {
		if err := bi.RaiseValidity(h, StatusValidChain); err != nil {
			t.Fatalf("raise validity: %v", err)
		}
	}

	if err := bi.MarkFailed(hashes[0]); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	for i, h := range hashes {
		e, _ := bi.Get(h)
		if !e.Status.Failed() {
			t.Fatalf("entry %d should be failed", i)
		}
	}
	if len(bi.Candidates()) != 0 {
		t.Fatal("no candidates should remain once the whole chain is failed")
	}
}

func TestClearFailedRestoresChain(t *testing.T) {
	bi := New(storage.NewMemory())
	hashes := buildChain(t, bi, 3)
	for _, h := range hashes {
		bi.RaiseValidity(h, StatusValidChain)
	}
	bi.MarkFailed(hashes[0])
	if err := bi.ClearFailed(hashes[0]); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	for i, h := range hashes {
		e, _ := bi.Get(h)
		if e.Status.Failed() {
			t.Fatalf("entry %d should no longer be failed", i)
		}
	}
	if len(bi.Candidates()) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(bi.Candidates()))
	}
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	db := storage.NewMemory()
	bi := New(db)
	hashes := buildChain(t, bi, 4)
	for _, h := range hashes {
		bi.RaiseValidity(h, StatusValidChain|StatusValidScripts)
	}
	if err := bi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reloaded := New(db)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	tip, ok := reloaded.Get(hashes[3])
	if !ok {
		t.Fatal("reloaded index missing tip")
	}
	if tip.Height != 3 || tip.Status&StatusValidScripts == 0 {
		t.Fatalf("reloaded tip mismatch: %+v", tip)
	}
	if reloaded.BestHeader().Hash != hashes[3] {
		t.Fatal("reloaded best header mismatch")
	}
}

func TestCandidatesOrderingBySequence(t *testing.T) {
	bi := New(storage.NewMemory())
	root := hashOf(1)
	if _, err := bi.InsertHeader(root, types.Hash{}, 1000, big.NewInt(10), false, types.Hash{}); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	bi.RaiseValidity(root, StatusValidChain)

	// Two equal-work forks off root; the earlier-inserted one should sort first.
	first := hashOf(2)
	second := hashOf(3)
	if _, err := bi.InsertHeader(first, root, 1001, big.NewInt(5), false, types.Hash{}); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if _, err := bi.InsertHeader(second, root, 1001, big.NewInt(5), false, types.Hash{}); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	bi.RaiseValidity(first, StatusValidChain)
	bi.RaiseValidity(second, StatusValidChain)

	candidates := bi.Candidates()
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0].Hash != first {
		t.Fatalf("expected first-inserted fork to rank first, got %x", candidates[0].Hash)
	}
}
