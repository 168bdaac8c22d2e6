package coinview

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func testOutpoint(b byte) types.Outpoint {
	var h types.Hash
	h[0] = b
	return types.Outpoint{TxID: h, Index: 0}
}

func TestDBViewAddGetSpend(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	view := NewDBView(store, db)

	op := testOutpoint(1)
	coin := &utxo.UTXO{Outpoint: op, Value: 100, Script: types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, types.AddressSize)}}

	if err := view.Add(op, coin, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !view.Have(op) {
		t.Fatal("expected Have true")
	}
	got, err := view.Get(op)
	if err != nil || got.Value != 100 {
		t.Fatalf("get: %+v %v", got, err)
	}

	prev, err := view.Spend(op)
	if err != nil || prev.Value != 100 {
		t.Fatalf("spend: %+v %v", prev, err)
	}
	if view.Have(op) {
		t.Fatal("expected Have false after spend")
	}
}

func TestOverlayFlushIntoCacheIntoDB(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	dbView := NewDBView(store, db)
	cache := NewMemView(dbView)
	overlay := NewMemView(cache)

	op := testOutpoint(2)
	coin := &utxo.UTXO{Outpoint: op, Value: 50, Script: types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, types.AddressSize)}}

	if err := overlay.Add(op, coin, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if dbView.Have(op) {
		t.Fatal("db should not see the coin before flush")
	}

	var head types.Hash
	head[0] = 0xAB
	overlay.SetBestBlock(head)
	if err := overlay.Flush(); err != nil {
		t.Fatalf("overlay flush: %v", err)
	}
	if cache.BestBlock() != head {
		t.Fatal("cache should adopt overlay's best block after flush")
	}
	if !cache.Have(op) {
		t.Fatal("cache should see the coin after overlay flush")
	}
	if dbView.Have(op) {
		t.Fatal("db should still not see the coin until cache flushes")
	}

	if err := cache.Flush(); err != nil {
		t.Fatalf("cache flush: %v", err)
	}
	if !dbView.Have(op) {
		t.Fatal("db should see the coin after cache flush")
	}
	if dbView.BestBlock() != head {
		t.Fatal("db best block should match after cache flush")
	}
}

func TestUndoRoundTrip(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	dbView := NewDBView(store, db)

	op := testOutpoint(3)
	coin := &utxo.UTXO{Outpoint: op, Value: 75, Script: types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, types.AddressSize)}}
	if err := dbView.Add(op, coin, false); err != nil {
		t.Fatalf("seed add: %v", err)
	}

	overlay := NewMemView(dbView)
	undoCoin, err := overlay.Spend(op)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if err := overlay.Flush(); err != nil {
		t.Fatalf("flush spend: %v", err)
	}
	if dbView.Have(op) {
		t.Fatal("expected coin spent after flush")
	}

	// Disconnect: restore from the undo record.
	restore := NewMemView(dbView)
	if err := restore.Add(op, undoCoin, true); err != nil {
		t.Fatalf("restore add: %v", err)
	}
	if err := restore.Flush(); err != nil {
		t.Fatalf("flush restore: %v", err)
	}
	if !dbView.Have(op) {
		t.Fatal("expected coin restored after undo")
	}
	got, err := dbView.Get(op)
	if err != nil || got.Value != 75 {
		t.Fatalf("restored coin mismatch: %+v %v", got, err)
	}
}

func TestSpendMissingInput(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	dbView := NewDBView(store, db)
	overlay := NewMemView(dbView)

	if _, err := overlay.Spend(testOutpoint(9)); err == nil {
		t.Fatal("expected ErrMissingInput")
	}
}
