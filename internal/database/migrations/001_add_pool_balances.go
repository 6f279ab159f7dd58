package migrations

import (
	"gorm.io/gorm"

	"github.com/ramppool/ramp-api/internal/ledger"
)

// AddPoolBalances creates the pool balances table and required indexes
func AddPoolBalances(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.PoolBalance{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Index for per-chain inventory listings
		`CREATE INDEX IF NOT EXISTS idx_pool_balances_chain_id
		 ON pool_balances(chain_id)`,

		// Index for stale-sync sweeps
		`CREATE INDEX IF NOT EXISTS idx_pool_balances_last_synced_at
		 ON pool_balances(last_synced_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
