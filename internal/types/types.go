package types

import "strings"

// NativeTokenAddress is the sentinel address used for a chain's native
// asset (ETH, MATIC, ...) wherever a token address is expected.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// TokenInfo identifies a token on a specific chain.
type TokenInfo struct {
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// IsNative reports whether the token is the chain's native asset.
func (t TokenInfo) IsNative() bool {
	return strings.EqualFold(t.Address, NativeTokenAddress)
}

// SameAddress compares token addresses case-insensitively.
func (t TokenInfo) SameAddress(address string) bool {
	return strings.EqualFold(t.Address, address)
}

// ExecutionResult is the outcome of a single settlement attempt. It is
// transient: the order queue persists the relevant fields onto the
// order and its attempt record.
type ExecutionResult struct {
	Success         bool   `json:"success"`
	TxHash          string `json:"tx_hash,omitempty"`
	ActualOutput    string `json:"actual_output,omitempty"`
	Error           string `json:"error,omitempty"`
	GasUsed         uint64 `json:"gas_used,omitempty"`
	TotalCost       string `json:"total_cost,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}
