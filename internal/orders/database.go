package orders

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByReference(externalReference string) (*Order, error) {
	var order Order
	if err := d.db.Where("external_reference = ?", externalReference).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrdersByStatus(status string, limit int) ([]Order, error) {
	var orders []Order
	if err := d.db.Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// GetExecutableOrders returns pending orders whose fiat leg is
// confirmed, oldest first, so the background drain never picks up an
// order that is still waiting for its payment.
func (d *Database) GetExecutableOrders(limit int) ([]Order, error) {
	var orders []Order
	if err := d.db.Where("status = ? AND payment_confirmed = ?", StatusPending, true).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// MarkPaymentConfirmed records that the fiat leg of an order settled.
func (d *Database) MarkPaymentConfirmed(orderID string) error {
	result := d.db.Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_confirmed": true,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("order not found")
	}
	return nil
}

// TransitionStatus performs the conditional state transition that
// serializes execution attempts: the update only lands when the stored
// status still equals from. Callers in different processes race here at
// the persistence layer; exactly one wins. Returns false for the loser.
func (d *Database) TransitionStatus(orderID, from, to string) (bool, error) {
	result := d.db.Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetOutcome records the terminal state of an execution attempt on the
// order itself.
func (d *Database) SetOutcome(orderID, status, txHash, errorMessage string) error {
	now := time.Now()
	result := d.db.Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":         status,
			"result_tx_hash": txHash,
			"error_message":  errorMessage,
			"processed_at":   now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("order not found")
	}
	return nil
}

// FailPending moves a still-pending order straight to FAILED, used when
// the upstream payment is rejected before any execution starts. Returns
// false when the order already left PENDING.
func (d *Database) FailPending(orderID, errorMessage string) (bool, error) {
	now := time.Now()
	result := d.db.Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, StatusPending).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"error_message": errorMessage,
			"processed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) CreateAttempt(attempt *ExecutionAttempt) error {
	return d.db.Create(attempt).Error
}

func (d *Database) GetAttemptsByOrder(orderID string) ([]ExecutionAttempt, error) {
	var attempts []ExecutionAttempt
	if err := d.db.Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}
