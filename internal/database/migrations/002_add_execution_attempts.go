package migrations

import (
	"gorm.io/gorm"

	"github.com/ramppool/ramp-api/internal/orders"
)

// AddExecutionAttempts creates the execution attempt audit table and
// its indexes
func AddExecutionAttempts(db *gorm.DB) error {
	if err := db.AutoMigrate(&orders.ExecutionAttempt{}); err != nil {
		return err
	}

	indexes := []string{
		// Index for attempt history lookups per order
		`CREATE INDEX IF NOT EXISTS idx_execution_attempts_order_id
		 ON execution_attempts(order_id)`,

		// Index for status filtering
		`CREATE INDEX IF NOT EXISTS idx_execution_attempts_status
		 ON execution_attempts(status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
