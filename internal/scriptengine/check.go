// Package scriptengine implements the bounded worker pool that drains a
// queue of per-input script verifications, with a content-addressed result
// cache. One instance is shared by the chain controller (block connection)
// and the mempool (transaction acceptance); both run the same checks under
// their own standardness flags.
//
// Follows the same shape as internal/consensus/pow.go's sealParallel: a fixed worker
// count draining a channel, a WaitGroup completion barrier, and a shared
// atomic "any failure" flag, generalized from mining to verification.
package scriptengine

import (
	"bytes"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Check is a single input's script verification task. Sighash is the
// transaction's precomputed signing hash; workers never need the full
// transaction, only this bundle plus the predecessor output's script.
type Check struct {
	TxHash     types.Hash
	InputIndex uint32
	Sighash    types.Hash
	Signature  []byte
	PubKey     []byte
	ScriptType types.ScriptType
	ScriptData []byte
}

// Verify runs the check with no cache and no worker pool involved; it is
// the predicate every cache hit is standing in for.
func (c *Check) Verify() error {
	switch c.ScriptType {
	case types.ScriptTypeP2PKH:
		if !crypto.VerifySignature(c.Sighash[:], c.Signature, c.PubKey) {
			return fmt.Errorf("scriptengine: invalid signature for tx %s input %d", c.TxHash, c.InputIndex)
		}
	case types.ScriptTypeStake:
		if len(c.ScriptData) != 33 || !bytes.Equal(c.PubKey, c.ScriptData) {
			return fmt.Errorf("scriptengine: stake pubkey mismatch for tx %s input %d", c.TxHash, c.InputIndex)
		}
		if !crypto.VerifySignature(c.Sighash[:], c.Signature, c.PubKey) {
			return fmt.Errorf("scriptengine: invalid stake signature for tx %s input %d", c.TxHash, c.InputIndex)
		}
	default:
		if !crypto.VerifySignature(c.Sighash[:], c.Signature, c.PubKey) {
			return fmt.Errorf("scriptengine: invalid signature for tx %s input %d", c.TxHash, c.InputIndex)
		}
	}
	return nil
}

// BuildChecks turns every spending input of t into a Check, looking up each
// input's previous output script via lookup. Coinbase inputs (zero outpoint)
// are skipped. Every Check shares t's single signing hash, since this
// protocol has no per-input sighash flags (see pkg/tx's VerifySignatures).
func BuildChecks(t *tx.Transaction, lookup func(types.Outpoint) (types.Script, error)) ([]*Check, error) {
	sighash := t.Hash()
	var checks []*Check
	for i, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		script, err := lookup(in.PrevOut)
		if err != nil {
			return nil, fmt.Errorf("scriptengine: lookup input %d: %w", i, err)
		}
		checks = append(checks, &Check{
			TxHash:     sighash,
			InputIndex: uint32(i),
			Sighash:    sighash,
			Signature:  in.Signature,
			PubKey:     in.PubKey,
			ScriptType: script.Type,
			ScriptData: script.Data,
		})
	}
	return checks, nil
}

// cacheKey is H(nonce | tx hash | input index | script type): nonce is the
// engine-wide salt so keys aren't predictable across restarts, and the
// script type stands in for verification flags since this engine runs a
// single standardness policy shared by mempool and block validation.
func (c *Check) cacheKey(nonce types.Hash) types.Hash {
	buf := make([]byte, 0, types.HashSize*2+5)
	buf = append(buf, nonce[:]...)
	buf = append(buf, c.TxHash[:]...)
	buf = append(buf, byte(c.InputIndex), byte(c.InputIndex>>8), byte(c.InputIndex>>16), byte(c.InputIndex>>24))
	buf = append(buf, byte(c.ScriptType))
	return crypto.Hash(buf)
}
