package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a time-bounded price commitment. Quotes are immutable
// once produced; orders record the resulting amounts rather than the
// quote itself.
type PriceQuote struct {
	ExternalRate decimal.Decimal `json:"external_rate"`
	YourRate     decimal.Decimal `json:"your_rate"`
	// MarkupOrDiscount is a signed percentage: positive is a markup on
	// buys, negative is a discount on sells. Either sign is pool margin.
	MarkupOrDiscount decimal.Decimal `json:"markup_or_discount"`
	FiatAmount       decimal.Decimal `json:"fiat_amount"`
	CryptoAmount     decimal.Decimal `json:"crypto_amount"`
	Currency         string          `json:"currency"`
	TokenSymbol      string          `json:"token_symbol"`
	ChainID          int64           `json:"chain_id"`
	RequiresSwap     bool            `json:"requires_swap"`
	Timestamp        time.Time       `json:"timestamp"`
	// ExpiresIn is the quote validity window in seconds; zero means the
	// quote never expires.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}
