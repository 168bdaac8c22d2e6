package mempool

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestPool_TryAccept_AncestorLimitRejectsLongChain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	utxos.add(prevOut, 100_000, addr)

	pool := New(utxos, 100)
	pool.SetPolicy(&Policy{MaxAncestors: 2, MaxDescendants: 100})

	// Build a chain of transactions, each spending the previous one's
	// output. The provider stands in for a mempool-aware coin view: every
	// output is pre-registered so ValidateWithUTXOs can see it.
	cur := prevOut
	var lastErr error
	for i := 0; i < 5; i++ {
		value := uint64(90_000 - i*1000)
		transaction := buildTx(t, key, cur, value)
		utxos.add(types.Outpoint{TxID: transaction.Hash(), Index: 0}, value, addr)

		_, err := pool.Add(transaction)
		if err != nil {
			lastErr = err
			break
		}
		cur = types.Outpoint{TxID: transaction.Hash(), Index: 0}
	}

	if lastErr == nil {
		t.Fatal("expected too-long-mempool-chain rejection before exhausting the chain")
	}
	if !errors.Is(lastErr, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", lastErr)
	}
}

func TestPool_TryAccept_ReplacementRequiresPolicyOptIn(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	utxos.add(prevOut, 100_000, addr)

	pool := New(utxos, 100)
	original := buildTx(t, key, prevOut, 90_000) // fee 10_000
	if _, err := pool.Add(original); err != nil {
		t.Fatalf("Add original: %v", err)
	}

	replacement := buildTx(t, key, prevOut, 50_000) // fee 50_000, higher rate
	if _, err := pool.Add(replacement); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict with replacement disabled, got: %v", err)
	}

	pool.SetPolicy(&Policy{MaxAncestors: DefaultMaxAncestors, MaxDescendants: DefaultMaxDescendants, AllowReplacement: true})
	if _, err := pool.Add(replacement); err != nil {
		t.Fatalf("Add replacement: %v", err)
	}
	if pool.Has(original.Hash()) {
		t.Error("original transaction should have been evicted by replacement")
	}
	if !pool.Has(replacement.Hash()) {
		t.Error("replacement transaction should be in the pool")
	}
}

func TestPool_TryAccept_ReplacementRequiresHigherFeeRate(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	utxos.add(prevOut, 100_000, addr)

	pool := New(utxos, 100)
	pool.SetPolicy(&Policy{MaxAncestors: DefaultMaxAncestors, MaxDescendants: DefaultMaxDescendants, AllowReplacement: true})

	original := buildTx(t, key, prevOut, 50_000) // fee 50_000
	if _, err := pool.Add(original); err != nil {
		t.Fatalf("Add original: %v", err)
	}

	worse := buildTx(t, key, prevOut, 90_000) // fee 10_000, lower rate
	if _, err := pool.Add(worse); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for lower fee-rate replacement, got: %v", err)
	}
	if !pool.Has(original.Hash()) {
		t.Error("original should remain after a failed replacement attempt")
	}
}

func TestPool_ReadmitDisconnected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := addressFromKey(key)

	utxos := newMockUTXOs()
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	utxos.add(prevOut, 100_000, addr)

	pool := New(utxos, 100)
	coinbase := buildTx(t, key, types.Outpoint{}, 1)
	transaction := buildTx(t, key, prevOut, 90_000)

	// AddDisconnected takes a disconnected block's transaction list and
	// skips the coinbase by shape (single zero-outpoint input).
	pool.AddDisconnected([]*tx.Transaction{coinbase, transaction})

	rejected := pool.ReadmitDisconnected()
	if len(rejected) != 0 {
		t.Fatalf("expected transaction to be re-admitted, rejected: %v", rejected)
	}
	if pool.Has(coinbase.Hash()) {
		t.Error("coinbase should never be re-admitted to the mempool")
	}
	if !pool.Has(transaction.Hash()) {
		t.Error("expected re-admitted transaction to be in the pool")
	}
}
