package ledger

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// normalizeAddress lowercases token addresses so the (chain, token) key
// is case-insensitive.
func normalizeAddress(address string) string {
	return strings.ToLower(address)
}

func (d *Database) GetBalance(chainID int64, tokenAddress string) (*PoolBalance, error) {
	var balance PoolBalance
	err := d.db.Where("chain_id = ? AND token_address = ?", chainID, normalizeAddress(tokenAddress)).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (d *Database) GetAllBalances() ([]PoolBalance, error) {
	var balances []PoolBalance
	if err := d.db.Order("chain_id ASC, token_address ASC").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

func (d *Database) CreateBalance(balance *PoolBalance) error {
	balance.TokenAddress = normalizeAddress(balance.TokenAddress)
	return d.db.Create(balance).Error
}

// CompareAndSetBalance applies a conditional overwrite: the update only
// lands if the stored balance still equals expected. Returns false when
// a concurrent writer got there first, so callers can re-read and retry
// instead of losing the in-flight delta.
func (d *Database) CompareAndSetBalance(chainID int64, tokenAddress, expected, next string, syncedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"balance":    next,
		"updated_at": time.Now(),
	}
	if syncedAt != nil {
		updates["last_synced_at"] = *syncedAt
	}

	result := d.db.Model(&PoolBalance{}).
		Where("chain_id = ? AND token_address = ? AND balance = ?", chainID, normalizeAddress(tokenAddress), expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
