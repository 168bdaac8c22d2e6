package scriptengine

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func signedCheck(t *testing.T, txHash types.Hash, idx uint32, sighash types.Hash, key *crypto.PrivateKey) *Check {
	t.Helper()
	sig, err := key.Sign(sighash[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &Check{
		TxHash:     txHash,
		InputIndex: idx,
		Sighash:    sighash,
		Signature:  sig,
		PubKey:     key.PublicKey(),
		ScriptType: types.ScriptTypeP2PKH,
	}
}

func TestCheck_VerifyValidSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sighash := crypto.Hash([]byte("tx-signing-bytes"))
	c := signedCheck(t, types.Hash{0x01}, 0, sighash, key)
	if err := c.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestCheck_VerifyRejectsWrongKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	sighash := crypto.Hash([]byte("tx-signing-bytes"))
	c := signedCheck(t, types.Hash{0x01}, 0, sighash, key)
	c.PubKey = other.PublicKey()
	if err := c.Verify(); err == nil {
		t.Fatal("expected verification failure for mismatched key")
	}
}

func TestCheck_VerifyStakeRequiresMatchingScriptData(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sighash := crypto.Hash([]byte("stake-tx"))
	c := signedCheck(t, types.Hash{0x02}, 0, sighash, key)
	c.ScriptType = types.ScriptTypeStake
	c.ScriptData = key.PublicKey()
	if err := c.Verify(); err != nil {
		t.Fatalf("Verify stake: %v", err)
	}

	c.ScriptData = append([]byte{}, c.ScriptData...)
	c.ScriptData[0] ^= 0xFF
	if err := c.Verify(); err == nil {
		t.Fatal("expected stake pubkey mismatch")
	}
}

func TestEngine_InlineAndParallelAgree(t *testing.T) {
	key, _ := crypto.GenerateKey()
	var checks []*Check
	for i := 0; i < 50; i++ {
		sighash := crypto.Hash([]byte{byte(i)})
		checks = append(checks, signedCheck(t, types.Hash{byte(i)}, uint32(i), sighash, key))
	}

	inline := New(0, 0)
	q := inline.NewQueue()
	q.PushBatch(checks)
	if !q.Wait() {
		t.Fatal("inline engine: expected all checks to pass")
	}

	parallel := New(4, 0)
	q2 := parallel.NewQueue()
	q2.PushBatch(checks)
	if !q2.Wait() {
		t.Fatal("parallel engine: expected all checks to pass")
	}
}

func TestEngine_WaitReportsFailure(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	sighash := crypto.Hash([]byte("mixed-batch"))

	good := signedCheck(t, types.Hash{0x10}, 0, sighash, key)
	bad := signedCheck(t, types.Hash{0x11}, 1, sighash, key)
	bad.PubKey = other.PublicKey()

	eng := New(2, 0)
	q := eng.NewQueue()
	q.PushBatch([]*Check{good, bad})
	if q.Wait() {
		t.Fatal("expected Wait to report failure when one check is invalid")
	}
}

func TestEngine_CacheHitSkipsReverification(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sighash := crypto.Hash([]byte("cache-me"))
	c := signedCheck(t, types.Hash{0x20}, 0, sighash, key)

	eng := New(0, 0)
	q := eng.NewQueue()
	q.PushBatch([]*Check{c})
	if !q.Wait() {
		t.Fatal("first pass should succeed")
	}
	if eng.CacheLen() != 1 {
		t.Fatalf("expected 1 cached result, got %d", eng.CacheLen())
	}

	// Mutate the signature after caching: a second queue referencing the
	// same (tx, input, scripttype) key must still hit cache and pass,
	// since the cache key doesn't cover the signature bytes themselves —
	// the whole point is to skip reverification for known-good inputs.
	c2 := *c
	c2.Signature = nil
	q2 := eng.NewQueue()
	q2.PushBatch([]*Check{&c2})
	if !q2.Wait() {
		t.Fatal("expected cache hit to skip reverification")
	}
}

func TestResultCache_BoundedEviction(t *testing.T) {
	c := newResultCache(4)
	for i := 0; i < 10; i++ {
		var h types.Hash
		h[0] = byte(i)
		c.insert(h)
		if c.len() > 4 {
			t.Fatalf("cache exceeded limit: %d", c.len())
		}
	}
}
