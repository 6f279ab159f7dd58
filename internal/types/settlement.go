package types

import "fmt"

// settlementAssets maps each supported chain to the canonical asset the
// pool prefers to hold there. Settling internally in one reference
// token per chain keeps swap requirements to a minimum.
var settlementAssets = map[int64]TokenInfo{
	1:     {ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
	10:    {ChainID: 10, Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Symbol: "USDC", Decimals: 6},
	137:   {ChainID: 137, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Decimals: 6},
	8453:  {ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
	42161: {ChainID: 42161, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6},
}

// SettlementAsset returns the canonical settlement asset for a chain.
// An unmapped chain is a hard error, never a silent fallback.
func SettlementAsset(chainID int64) (TokenInfo, error) {
	asset, ok := settlementAssets[chainID]
	if !ok {
		return TokenInfo{}, fmt.Errorf("%w: chain %d", ErrUnsupportedAsset, chainID)
	}
	return asset, nil
}

// IsSettlementAsset reports whether the token is the canonical
// settlement asset on its chain, compared by address.
func IsSettlementAsset(token TokenInfo) bool {
	asset, ok := settlementAssets[token.ChainID]
	return ok && token.SameAddress(asset.Address)
}
