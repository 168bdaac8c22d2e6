// Package tokenstate tracks the non-UTXO token state: issuance records,
// aggregate supply, and restricted-asset metadata (qualifier tags,
// address/global freezes, verifier expressions). It is layered the same
// way internal/coinview is (database view, tip cache, transient overlay)
// and is flushed in lockstep with the Coin View, since both describe the
// same underlying block.
package tokenstate

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Issuance is the consensus-tracked record created by a token's first
// mint output and updated by every later reissuance.
type Issuance struct {
	ID          types.TokenID `json:"id"`
	Name        string        `json:"name"`
	Symbol      string        `json:"symbol"`
	Decimals    uint8         `json:"decimals"`
	Creator     types.Address `json:"creator"`
	TotalSupply uint64        `json:"total_supply"`
	Reissuable  bool          `json:"reissuable"`
}

// Restriction holds the restricted-asset metadata for a token. A token
// with no governance ops applied has an implicit zero-value Restriction
// (not globally frozen, no qualifier requirement, nobody frozen).
type Restriction struct {
	TokenID      types.TokenID            `json:"token_id"`
	GlobalFrozen bool                     `json:"global_frozen"`
	Verifier     string                   `json:"verifier"`
	Frozen       map[types.Address]bool   `json:"frozen,omitempty"`
	Qualifiers   map[types.Address]map[string]bool `json:"qualifiers,omitempty"`
}

// clone returns a deep copy so callers can mutate the result without
// corrupting state held by a lower layer.
func (r *Restriction) clone() *Restriction {
	if r == nil {
		return nil
	}
	out := &Restriction{TokenID: r.TokenID, GlobalFrozen: r.GlobalFrozen, Verifier: r.Verifier}
	if r.Frozen != nil {
		out.Frozen = make(map[types.Address]bool, len(r.Frozen))
		for k, v := range r.Frozen {
			out.Frozen[k] = v
		}
	}
	if r.Qualifiers != nil {
		out.Qualifiers = make(map[types.Address]map[string]bool, len(r.Qualifiers))
		for addr, tags := range r.Qualifiers {
			cp := make(map[string]bool, len(tags))
			for t, v := range tags {
				cp[t] = v
			}
			out.Qualifiers[addr] = cp
		}
	}
	return out
}

// HasQualifier reports whether addr holds the given qualifier tag.
func (r *Restriction) HasQualifier(addr types.Address, tag string) bool {
	if r == nil || r.Qualifiers == nil {
		return false
	}
	return r.Qualifiers[addr][tag]
}

// IsFrozen reports whether addr is individually frozen or the token is
// globally frozen.
func (r *Restriction) IsFrozen(addr types.Address) bool {
	if r == nil {
		return false
	}
	if r.GlobalFrozen {
		return true
	}
	return r.Frozen[addr]
}
