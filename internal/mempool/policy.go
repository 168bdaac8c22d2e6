package mempool

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// DefaultMaxTxSize is the maximum transaction size in bytes (signing bytes).
const DefaultMaxTxSize = 100_000

// DefaultMaxAncestors/DefaultMaxDescendants bound the in-mempool dependency
// chain a transaction may sit in.
const (
	DefaultMaxAncestors   = 25
	DefaultMaxDescendants = 25
)

// Policy defines transaction acceptance rules.
type Policy struct {
	MaxTxSize int // Maximum transaction size in signing bytes.

	// MaxAncestors/MaxDescendants bound how deep a transaction's in-mempool
	// dependency chain may run before try_accept rejects it with
	// "too-long-mempool-chain". 0 disables the corresponding check.
	MaxAncestors   int
	MaxDescendants int

	// AllowReplacement opts into BIP-125-style fee-rate replacement of
	// conflicting transactions. Disabled by default: the protocol leaves
	// replace-by-fee unspecified, so nodes that want it must turn it on
	// explicitly rather than have it silently active.
	AllowReplacement bool
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTxSize:      DefaultMaxTxSize,
		MaxAncestors:   DefaultMaxAncestors,
		MaxDescendants: DefaultMaxDescendants,
	}
}

// Check validates a transaction against policy rules.
// This is separate from consensus validation â€” policy rules can vary per node.
// Also enforces consensus limits as defense-in-depth (reject early before full validation).
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.SigningBytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	if len(transaction.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("too many inputs: %d, max %d", len(transaction.Inputs), config.MaxTxInputs)
	}
	if len(transaction.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("too many outputs: %d, max %d", len(transaction.Outputs), config.MaxTxOutputs)
	}
	for i, out := range transaction.Outputs {
		if len(out.Script.Data) > config.MaxScriptData {
			return fmt.Errorf("output %d script data too large: %d bytes, max %d", i, len(out.Script.Data), config.MaxScriptData)
		}
	}
	return nil
}
