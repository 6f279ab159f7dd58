package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PoolBalance is the authoritative record of how much of one
// (chain, token) pair the pool currently holds. Balances are stored as
// decimal strings so financial quantities with up to 18 decimal places
// never pass through binary floating point. Rows are never hard-deleted;
// a zero balance is a valid steady state.
type PoolBalance struct {
	gorm.Model    `json:"-"`
	ChainID       int64      `gorm:"uniqueIndex:idx_pool_balances_key" json:"chain_id"`
	TokenAddress  string     `gorm:"uniqueIndex:idx_pool_balances_key" json:"token_address"`
	TokenSymbol   string     `json:"token_symbol"`
	TokenDecimals int        `json:"token_decimals"`
	Balance       string     `json:"balance"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Amount parses the stored balance string.
func (b *PoolBalance) Amount() (decimal.Decimal, error) {
	return decimal.NewFromString(b.Balance)
}
