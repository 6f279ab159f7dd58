package gateway

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Confirmation is the on-chain acknowledgement of a transaction.
type Confirmation struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// Gateway abstracts signing and broadcasting transactions from the
// pool's hot wallet, one wallet per chain. All blocking calls take a
// context; WaitForTransaction honors the context deadline and reports
// a confirmation timeout when it expires.
type Gateway interface {
	// GetWalletAddress returns the pool wallet address for a chain.
	GetWalletAddress(chainID int64) (string, error)

	// SendNative transfers the chain's native asset. Amount is in whole
	// tokens, not wei.
	SendNative(ctx context.Context, chainID int64, to string, amount decimal.Decimal) (string, error)

	// SendERC20 transfers an ERC-20 token. Amount is in whole tokens.
	SendERC20(ctx context.Context, chainID int64, tokenAddress, to string, amount decimal.Decimal, decimals int) (string, error)

	// ExecuteTransaction broadcasts an arbitrary prepared transaction,
	// typically a swap-route leg.
	ExecuteTransaction(ctx context.Context, chainID int64, to string, data []byte, value *big.Int) (string, error)

	// WaitForTransaction blocks until the transaction is mined or the
	// context deadline passes.
	WaitForTransaction(ctx context.Context, chainID int64, txHash string) (*Confirmation, error)

	// GetOnChainBalance reads the pool wallet's balance of a token,
	// converted to whole tokens.
	GetOnChainBalance(ctx context.Context, chainID int64, tokenAddress string, decimals int) (decimal.Decimal, error)
}
