package chain

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/tokenstate"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// outputOwner returns the address embedded in a script, for the script
// types that carry one, mirroring internal/utxo.Store's scriptAddress.
func outputOwner(s types.Script) (types.Address, bool) {
	switch s.Type {
	case types.ScriptTypeP2PKH, types.ScriptTypeMint:
		if len(s.Data) >= types.AddressSize {
			var addr types.Address
			copy(addr[:], s.Data[:types.AddressSize])
			return addr, true
		}
	}
	return types.Address{}, false
}

// applyGovernanceOp decodes a ScriptTypeGovernance output's data and, if
// recognized, mutates the token's restriction record on tokens. An
// unrecognized governance op is a no-op, not a failure: it returns a nil
// entry and nil error. The returned entry carries
// the restriction's prior value so revertGovernanceOps can undo it later.
func applyGovernanceOp(tokens tokenstate.View, data []byte) (*GovernanceUndoEntry, error) {
	op, err := tokenstate.DecodeGovernanceOp(data)
	if err != nil {
		if errors.Is(err, tokenstate.ErrUnknownGovernanceOp) {
			return nil, nil
		}
		return nil, err
	}

	current, err := tokens.GetRestriction(op.TokenID)
	if err != nil {
		return nil, fmt.Errorf("load restriction %s: %w", op.TokenID, err)
	}
	op.Apply(current)

	prev, err := tokens.PutRestriction(op.TokenID, current)
	if err != nil {
		return nil, fmt.Errorf("put restriction %s: %w", op.TokenID, err)
	}

	return &GovernanceUndoEntry{TokenID: op.TokenID, Prev: prev}, nil
}

// checkGovernanceOp validates that a ScriptTypeGovernance output's data
// decodes, without mutating anything. Called during validateBlockState so
// a malformed governance op fails the block instead of being silently
// skipped at apply time. An unrecognized kind is not an error here either.
func checkGovernanceOp(data []byte) error {
	_, err := tokenstate.DecodeGovernanceOp(data)
	if err != nil && !errors.Is(err, tokenstate.ErrUnknownGovernanceOp) {
		return err
	}
	return nil
}

// checkTokenRestriction rejects a token-carrying output whose recipient is
// frozen or fails the token's verifier expression. Tokens that were never
// restricted resolve to a zero-value Restriction and always pass.
func checkTokenRestriction(tokens tokenstate.View, tokenID types.TokenID, script types.Script) error {
	addr, ok := outputOwner(script)
	if !ok {
		return nil // Can't resolve an owner (e.g. burn output) — nothing to check.
	}
	restriction, err := tokens.GetRestriction(tokenID)
	if err != nil {
		return fmt.Errorf("load restriction %s: %w", tokenID, err)
	}
	if restriction.IsFrozen(addr) {
		return fmt.Errorf("token %s: recipient %s is frozen", tokenID, addr)
	}
	ok, err = tokenstate.EvaluateVerifier(restriction, addr)
	if err != nil {
		return fmt.Errorf("token %s: verifier: %w", tokenID, err)
	}
	if !ok {
		return fmt.Errorf("token %s: recipient %s does not satisfy verifier %q", tokenID, addr, restriction.Verifier)
	}
	return nil
}
