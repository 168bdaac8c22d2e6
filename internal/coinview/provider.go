package coinview

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Provider adapts a View to the read-only interfaces pkg/tx and
// internal/token validation need (tx.UTXOProvider, token.InputTokens),
// so block connection runs the same structural/UTXO-aware validation
// against whichever layer (tip cache or a per-block overlay) is active.
type Provider struct {
	View View
}

// NewProvider wraps a View for use by transaction/token validation.
func NewProvider(v View) *Provider {
	return &Provider{View: v}
}

// GetUTXO implements tx.UTXOProvider.
func (p *Provider) GetUTXO(outpoint types.Outpoint) (uint64, types.Script, error) {
	u, err := p.View.Get(outpoint)
	if err != nil {
		return 0, types.Script{}, err
	}
	return u.Value, u.Script, nil
}

// HasUTXO implements tx.UTXOProvider.
func (p *Provider) HasUTXO(outpoint types.Outpoint) bool {
	return p.View.Have(outpoint)
}

// GetTokenData implements token.InputTokens.
func (p *Provider) GetTokenData(outpoint types.Outpoint) *types.TokenData {
	u, err := p.View.Get(outpoint)
	if err != nil {
		return nil
	}
	return u.Token
}
