// Package aggregator defines the contract for the external DEX
// route-aggregation collaborator. The engine never assumes a provider
// exists: when no integration is configured, every lookup reports that
// no route is available and the order fails cleanly.
package aggregator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/ramppool/ramp-api/internal/types"
)

// TransactionRequest is one prepared leg of a swap route, ready for the
// chain gateway to sign and broadcast.
type TransactionRequest struct {
	ChainID int64    `json:"chain_id"`
	To      string   `json:"to"`
	Data    []byte   `json:"data"`
	Value   *big.Int `json:"value"`
}

// Route is a swap path produced by an aggregator. FromAmount is the
// estimated input the route consumes, ToAmount the estimated output it
// delivers.
type Route struct {
	ProviderName string               `json:"provider_name"`
	Transactions []TransactionRequest `json:"transactions"`
	FromAmount   decimal.Decimal      `json:"from_amount"`
	ToAmount     decimal.Decimal      `json:"to_amount"`
}

// Aggregator finds the best swap route between two tokens.
type Aggregator interface {
	GetBestRoute(ctx context.Context, fromChainID, toChainID int64, fromToken, toToken string, amount decimal.Decimal, recipient string) (*Route, error)
}

// Unavailable is the placeholder used until a DEX aggregator
// integration is configured. It reports no route for every request.
type Unavailable struct{}

func NewUnavailable() *Unavailable {
	return &Unavailable{}
}

func (u *Unavailable) GetBestRoute(_ context.Context, fromChainID, toChainID int64, fromToken, toToken string, _ decimal.Decimal, _ string) (*Route, error) {
	return nil, fmt.Errorf("%w: no aggregator configured for %s on chain %d to %s on chain %d",
		types.ErrNoRouteAvailable, fromToken, fromChainID, toToken, toChainID)
}
