package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ramppool/ramp-api/internal/aggregator"
	"github.com/ramppool/ramp-api/internal/gateway"
	"github.com/ramppool/ramp-api/internal/ledger"
	"github.com/ramppool/ramp-api/internal/types"
)

// Engine converts a settled fiat payment (on-ramp) or a detected crypto
// deposit (off-ramp) into an on-chain fulfillment. Direct transfer from
// pool inventory is strictly preferred over swapping: it avoids
// slippage, swap fees and an extra failure point. The ledger is updated
// only after on-chain confirmation; a crash between confirmation and
// the ledger write is closed by the ledger's on-chain resync.
type Engine struct {
	ledger         *ledger.Service
	gateway        gateway.Gateway
	aggregator     aggregator.Aggregator
	confirmTimeout time.Duration
}

func NewEngine(ledgerSvc *ledger.Service, gw gateway.Gateway, agg aggregator.Aggregator, confirmTimeout time.Duration) *Engine {
	return &Engine{
		ledger:         ledgerSvc,
		gateway:        gw,
		aggregator:     agg,
		confirmTimeout: confirmTimeout,
	}
}

// OnRampParams describes one on-ramp fulfillment: deliver Amount of
// Token (on Token.ChainID) to Recipient. FromChainID names the chain
// whose settlement-asset inventory funds a swap when the pool does not
// hold Token directly.
type OnRampParams struct {
	FromChainID int64
	Token       types.TokenInfo
	Amount      decimal.Decimal
	Recipient   string
}

// ExecuteOnRamp fulfills an on-ramp obligation from pool inventory.
// It never returns an error to its caller: every internal failure is
// converted into a failed ExecutionResult carrying the error text and
// elapsed time, so the order queue always has something to record.
func (e *Engine) ExecuteOnRamp(ctx context.Context, params OnRampParams) *types.ExecutionResult {
	start := time.Now()
	logger := log.With().
		Str("service", "execution").
		Str("direction", "onramp").
		Int64("to_chain", params.Token.ChainID).
		Str("token", params.Token.Symbol).
		Str("amount", params.Amount.String()).
		Str("recipient", params.Recipient).
		Logger()

	result, err := e.executeOnRamp(ctx, logger, params)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		logger.Error().Err(err).Int64("elapsed_ms", elapsed).Msg("on-ramp execution failed")
		return &types.ExecutionResult{Error: err.Error(), ExecutionTimeMs: elapsed}
	}

	result.Success = true
	result.ExecutionTimeMs = elapsed
	logger.Info().
		Str("tx_hash", result.TxHash).
		Int64("elapsed_ms", elapsed).
		Msg("on-ramp execution completed")
	return result
}

func (e *Engine) executeOnRamp(ctx context.Context, logger zerolog.Logger, params OnRampParams) (*types.ExecutionResult, error) {
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", types.ErrValidation, params.Amount)
	}
	if params.Recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", types.ErrValidation)
	}

	balance, err := e.ledger.GetBalance(params.Token.ChainID, params.Token.Address)
	if err != nil {
		return nil, err
	}

	hasToken := false
	if balance != nil {
		amount, err := balance.Amount()
		if err != nil {
			return nil, err
		}
		hasToken = amount.Sign() > 0
	}

	if hasToken {
		return e.directTransfer(ctx, logger, params)
	}
	return e.swapAndTransfer(ctx, logger, params)
}

// directTransfer delivers the requested token straight from pool
// inventory. The balance is re-validated immediately before broadcast
// so the gap between the has-token check and the on-chain action cannot
// overdraw the pool; insufficient funds are a hard stop with no partial
// transfer.
func (e *Engine) directTransfer(ctx context.Context, logger zerolog.Logger, params OnRampParams) (*types.ExecutionResult, error) {
	balance, err := e.ledger.GetBalance(params.Token.ChainID, params.Token.Address)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("%w: no %s inventory on chain %d", types.ErrInsufficientBalance, params.Token.Symbol, params.Token.ChainID)
	}
	available, err := balance.Amount()
	if err != nil {
		return nil, err
	}
	if available.LessThan(params.Amount) {
		return nil, fmt.Errorf("%w: have %s, need %s of %s on chain %d",
			types.ErrInsufficientBalance, available, params.Amount, params.Token.Symbol, params.Token.ChainID)
	}

	logger.Info().Str("path", "direct").Msg("fulfilling from pool inventory")

	var txHash string
	if params.Token.IsNative() {
		txHash, err = e.gateway.SendNative(ctx, params.Token.ChainID, params.Recipient, params.Amount)
	} else {
		txHash, err = e.gateway.SendERC20(ctx, params.Token.ChainID, params.Token.Address, params.Recipient, params.Amount, params.Token.Decimals)
	}
	if err != nil {
		return nil, err
	}

	confirmation, err := e.waitForConfirmation(ctx, params.Token.ChainID, txHash)
	if err != nil {
		return nil, err
	}

	// Debit only after confirmation. If the conditional debit fails the
	// transfer has already happened, so the discrepancy is logged and
	// left to the on-chain resync rather than reported as a failure.
	if err := e.ledger.DecreaseBalance(params.Token.ChainID, params.Token, params.Amount); err != nil {
		logger.Error().Err(err).
			Str("tx_hash", txHash).
			Msg("ledger debit failed after confirmed transfer, awaiting resync")
	}

	return &types.ExecutionResult{
		TxHash:       txHash,
		ActualOutput: params.Amount.String(),
		GasUsed:      confirmation.GasUsed,
	}, nil
}

// swapAndTransfer converts settlement-asset inventory into the
// requested token via an aggregator route and executes the route's
// first leg on-chain.
func (e *Engine) swapAndTransfer(ctx context.Context, logger zerolog.Logger, params OnRampParams) (*types.ExecutionResult, error) {
	settlement, err := types.SettlementAsset(params.FromChainID)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("path", "swap").
		Int64("from_chain", params.FromChainID).
		Str("settlement_asset", settlement.Symbol).
		Msg("pool does not hold token, requesting swap route")

	route, err := e.aggregator.GetBestRoute(ctx,
		params.FromChainID, params.Token.ChainID,
		settlement.Address, params.Token.Address,
		params.Amount, params.Recipient)
	if err != nil {
		if errors.Is(err, types.ErrNoRouteAvailable) || errors.Is(err, types.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: aggregator: %v", types.ErrUpstream, err)
	}
	if len(route.Transactions) == 0 {
		return nil, fmt.Errorf("%w: route from %s has no transaction legs", types.ErrNoRouteAvailable, route.ProviderName)
	}

	leg := route.Transactions[0]
	txHash, err := e.gateway.ExecuteTransaction(ctx, leg.ChainID, leg.To, leg.Data, leg.Value)
	if err != nil {
		return nil, err
	}

	confirmation, err := e.waitForConfirmation(ctx, leg.ChainID, txHash)
	if err != nil {
		return nil, err
	}

	// The route's FromAmount is the estimated settlement-asset cost of
	// the swap; the debit uses it because the confirmed input amount is
	// not observable from the receipt.
	cost := route.FromAmount
	if cost.Sign() <= 0 {
		cost = params.Amount
	}
	if err := e.ledger.DecreaseBalance(params.FromChainID, settlement, cost); err != nil {
		logger.Error().Err(err).
			Str("tx_hash", txHash).
			Str("estimated_cost", cost.String()).
			Msg("settlement asset debit failed after confirmed swap, awaiting resync")
	}

	return &types.ExecutionResult{
		TxHash:       txHash,
		ActualOutput: route.ToAmount.String(),
		TotalCost:    cost.String(),
		GasUsed:      confirmation.GasUsed,
	}, nil
}

// ExecuteOffRamp absorbs a user's crypto deposit into pool inventory by
// swapping it toward the chain's settlement asset. Same result contract
// as ExecuteOnRamp: failures become a failed result, never an error.
func (e *Engine) ExecuteOffRamp(ctx context.Context, chainID int64, token types.TokenInfo, amount decimal.Decimal, recipient string) *types.ExecutionResult {
	start := time.Now()
	logger := log.With().
		Str("service", "execution").
		Str("direction", "offramp").
		Int64("chain_id", chainID).
		Str("token", token.Symbol).
		Str("amount", amount.String()).
		Logger()

	result, err := e.executeOffRamp(ctx, logger, chainID, token, amount, recipient)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		logger.Error().Err(err).Int64("elapsed_ms", elapsed).Msg("off-ramp execution failed")
		return &types.ExecutionResult{Error: err.Error(), ExecutionTimeMs: elapsed}
	}

	result.Success = true
	result.ExecutionTimeMs = elapsed
	logger.Info().
		Str("tx_hash", result.TxHash).
		Int64("elapsed_ms", elapsed).
		Msg("off-ramp execution completed")
	return result
}

func (e *Engine) executeOffRamp(ctx context.Context, logger zerolog.Logger, chainID int64, token types.TokenInfo, amount decimal.Decimal, recipient string) (*types.ExecutionResult, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", types.ErrValidation, amount)
	}

	settlement, err := types.SettlementAsset(chainID)
	if err != nil {
		return nil, err
	}

	// A deposit already denominated in the settlement asset needs no
	// swap, only a ledger credit.
	if token.SameAddress(settlement.Address) {
		if err := e.ledger.IncreaseBalance(chainID, token, amount); err != nil {
			return nil, err
		}
		logger.Info().Msg("settlement asset deposit credited without swap")
		return &types.ExecutionResult{ActualOutput: amount.String()}, nil
	}

	if recipient == "" {
		recipient, err = e.gateway.GetWalletAddress(chainID)
		if err != nil {
			return nil, err
		}
	}

	route, err := e.aggregator.GetBestRoute(ctx, chainID, chainID, token.Address, settlement.Address, amount, recipient)
	if err != nil {
		if errors.Is(err, types.ErrNoRouteAvailable) || errors.Is(err, types.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: aggregator: %v", types.ErrUpstream, err)
	}
	if len(route.Transactions) == 0 {
		return nil, fmt.Errorf("%w: route from %s has no transaction legs", types.ErrNoRouteAvailable, route.ProviderName)
	}

	leg := route.Transactions[0]
	txHash, err := e.gateway.ExecuteTransaction(ctx, leg.ChainID, leg.To, leg.Data, leg.Value)
	if err != nil {
		return nil, err
	}

	confirmation, err := e.waitForConfirmation(ctx, leg.ChainID, txHash)
	if err != nil {
		return nil, err
	}

	// The deposit is now pool inventory; the swap consumed settlement
	// asset. The route's ToAmount is the best available figure for the
	// consumed amount once confirmed.
	if err := e.ledger.IncreaseBalance(chainID, token, amount); err != nil {
		logger.Error().Err(err).
			Str("tx_hash", txHash).
			Msg("deposit credit failed after confirmed swap, awaiting resync")
	}
	if route.ToAmount.Sign() > 0 {
		if err := e.ledger.DecreaseBalance(chainID, settlement, route.ToAmount); err != nil {
			logger.Error().Err(err).
				Str("tx_hash", txHash).
				Str("estimated_cost", route.ToAmount.String()).
				Msg("settlement asset debit failed after confirmed swap, awaiting resync")
		}
	}

	return &types.ExecutionResult{
		TxHash:       txHash,
		ActualOutput: route.ToAmount.String(),
		TotalCost:    route.ToAmount.String(),
		GasUsed:      confirmation.GasUsed,
	}, nil
}

// waitForConfirmation bounds the gateway's confirmation wait by the
// engine's timeout. A timeout is a failure; the ledger stays untouched
// because no confirmation was observed.
func (e *Engine) waitForConfirmation(ctx context.Context, chainID int64, txHash string) (*gateway.Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	return e.gateway.WaitForTransaction(waitCtx, chainID, txHash)
}
