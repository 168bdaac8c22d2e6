package tokenstate

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GovernanceKind tags the variant of a decoded governance operation,
// pattern-matched from the prefix byte of an OP_RETURN-style output and
// re-expressed as a tagged-variant value instead of ad-hoc byte slicing
// at each call site.
type GovernanceKind uint8

const (
	GovernanceAddQualifier GovernanceKind = iota + 1
	GovernanceRemoveQualifier
	GovernanceFreezeAddress
	GovernanceUnfreezeAddress
	GovernanceFreezeGlobal
	GovernanceUnfreezeGlobal
	GovernanceSetVerifier
)

// GovernanceOp is the decoded form of a ScriptTypeGovernance output's data.
type GovernanceOp struct {
	Kind     GovernanceKind
	TokenID  types.TokenID
	Address  types.Address
	Tag      string
	Verifier string
}

// ErrUnknownGovernanceOp is returned for a prefix byte this decoder
// doesn't recognize; callers treat unknown prefixes as no-ops, not as a
// validation failure.
var ErrUnknownGovernanceOp = errors.New("tokenstate: unknown governance op")

// Wire layout: kind(1) | token_id(32) | payload, where payload depends on kind:
//
//	AddQualifier/RemoveQualifier: address(20) | tag_len(1) | tag
//	FreezeAddress/UnfreezeAddress: address(20)
//	FreezeGlobal/UnfreezeGlobal: (no payload)
//	SetVerifier: verifier_len(2 LE) | verifier
const governanceHeaderLen = 1 + types.HashSize

// DecodeGovernanceOp decodes a ScriptTypeGovernance output's raw data.
func DecodeGovernanceOp(data []byte) (GovernanceOp, error) {
	if len(data) < governanceHeaderLen {
		return GovernanceOp{}, fmt.Errorf("tokenstate: governance op too short: %d bytes", len(data))
	}
	kind := GovernanceKind(data[0])
	var tokenID types.TokenID
	copy(tokenID[:], data[1:1+types.HashSize])
	rest := data[governanceHeaderLen:]

	op := GovernanceOp{Kind: kind, TokenID: tokenID}

	switch kind {
	case GovernanceAddQualifier, GovernanceRemoveQualifier:
		if len(rest) < types.AddressSize+1 {
			return GovernanceOp{}, fmt.Errorf("tokenstate: qualifier op too short")
		}
		copy(op.Address[:], rest[:types.AddressSize])
		tagLen := int(rest[types.AddressSize])
		tagStart := types.AddressSize + 1
		if len(rest) < tagStart+tagLen {
			return GovernanceOp{}, fmt.Errorf("tokenstate: qualifier tag truncated")
		}
		op.Tag = string(rest[tagStart : tagStart+tagLen])

	case GovernanceFreezeAddress, GovernanceUnfreezeAddress:
		if len(rest) < types.AddressSize {
			return GovernanceOp{}, fmt.Errorf("tokenstate: freeze op too short")
		}
		copy(op.Address[:], rest[:types.AddressSize])

	case GovernanceFreezeGlobal, GovernanceUnfreezeGlobal:
		// No payload.

	case GovernanceSetVerifier:
		if len(rest) < 2 {
			return GovernanceOp{}, fmt.Errorf("tokenstate: verifier op too short")
		}
		vlen := int(rest[0]) | int(rest[1])<<8
		if len(rest) < 2+vlen {
			return GovernanceOp{}, fmt.Errorf("tokenstate: verifier string truncated")
		}
		op.Verifier = string(rest[2 : 2+vlen])

	default:
		return GovernanceOp{}, fmt.Errorf("%w: kind=%d", ErrUnknownGovernanceOp, kind)
	}

	return op, nil
}

// Apply mutates a Restriction (which the caller has already cloned from
// the current layer) in place according to op.
func (op GovernanceOp) Apply(r *Restriction) {
	r.TokenID = op.TokenID
	switch op.Kind {
	case GovernanceAddQualifier:
		if r.Qualifiers == nil {
			r.Qualifiers = make(map[types.Address]map[string]bool)
		}
		if r.Qualifiers[op.Address] == nil {
			r.Qualifiers[op.Address] = make(map[string]bool)
		}
		r.Qualifiers[op.Address][op.Tag] = true
	case GovernanceRemoveQualifier:
		if r.Qualifiers != nil {
			delete(r.Qualifiers[op.Address], op.Tag)
		}
	case GovernanceFreezeAddress:
		if r.Frozen == nil {
			r.Frozen = make(map[types.Address]bool)
		}
		r.Frozen[op.Address] = true
	case GovernanceUnfreezeAddress:
		if r.Frozen != nil {
			delete(r.Frozen, op.Address)
		}
	case GovernanceFreezeGlobal:
		r.GlobalFrozen = true
	case GovernanceUnfreezeGlobal:
		r.GlobalFrozen = false
	case GovernanceSetVerifier:
		r.Verifier = op.Verifier
	}
}

// EvaluateVerifier checks whether addr's qualifier set satisfies r's
// verifier expression. The expression grammar is deliberately small:
// tag names joined by '&' (AND) or '|' (OR), evaluated left to right
// without operator precedence (mixing & and | is rejected), matching the
// simple restricted-asset verifier strings used by the reference lineage.
// An empty verifier always passes.
func EvaluateVerifier(r *Restriction, addr types.Address) (bool, error) {
	if r == nil || r.Verifier == "" {
		return true, nil
	}
	expr := r.Verifier
	hasAnd := indexByte(expr, '&') >= 0
	hasOr := indexByte(expr, '|') >= 0
	if hasAnd && hasOr {
		return false, fmt.Errorf("tokenstate: mixed & and | in verifier %q not supported", expr)
	}

	sep := byte('&')
	if hasOr {
		sep = '|'
	}
	tags := splitByte(expr, sep)
	if sep == '&' {
		for _, tag := range tags {
			if !r.HasQualifier(addr, tag) {
				return false, nil
			}
		}
		return true, nil
	}
	for _, tag := range tags {
		if r.HasQualifier(addr, tag) {
			return true, nil
		}
	}
	return false, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func splitByte(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
