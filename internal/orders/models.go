package orders

import (
	"time"

	"gorm.io/gorm"

	"github.com/ramppool/ramp-api/internal/types"
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

const (
	TypeBuy  = "BUY"
	TypeSell = "SELL"
)

// Order is one settlement obligation created by a confirmed fiat
// payment (buy) or a detected crypto deposit (sell). Exactly one order
// exists per external payment reference, and the status column is the
// lock that serializes execution attempts: PENDING → PROCESSING →
// {COMPLETED | FAILED}, with no transition out of a terminal state.
type Order struct {
	gorm.Model        `json:"-"`
	OrderID           string     `gorm:"uniqueIndex" json:"order_id"`
	OrderType         string     `json:"order_type"` // BUY or SELL
	UserWalletAddress string     `json:"user_wallet_address"`
	TokenChainID      int64      `json:"token_chain_id"`
	TokenAddress      string     `json:"token_address"`
	TokenSymbol       string     `json:"token_symbol"`
	TokenDecimals     int        `json:"token_decimals"`
	RequestedAmount   string     `json:"requested_amount"`
	FiatAmount        string     `json:"fiat_amount"`
	FiatCurrency      string     `json:"fiat_currency"`
	UserEmail         string     `json:"user_email"`
	ExternalReference string     `gorm:"uniqueIndex" json:"external_reference"`
	// PaymentConfirmed marks the fiat leg as settled. Buy orders may
	// only execute once this is set; sell orders are created from an
	// observed deposit and start confirmed.
	PaymentConfirmed  bool       `json:"payment_confirmed"`
	Status            string     `json:"status"` // PENDING, PROCESSING, COMPLETED, FAILED
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	ResultTxHash      string     `json:"result_tx_hash,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Token assembles the order's requested token.
func (o *Order) Token() types.TokenInfo {
	return types.TokenInfo{
		ChainID:  o.TokenChainID,
		Address:  o.TokenAddress,
		Symbol:   o.TokenSymbol,
		Decimals: o.TokenDecimals,
	}
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

// ExecutionAttempt is the audit record of one execution attempt against
// an order. A retry never mutates a prior attempt; it creates a new row.
type ExecutionAttempt struct {
	gorm.Model   `json:"-"`
	AttemptID    string    `gorm:"uniqueIndex" json:"attempt_id"`
	OrderID      string    `gorm:"index" json:"order_id"`
	Status       string    `json:"status"` // COMPLETED, FAILED
	TxHash       string    `json:"tx_hash,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
