package ledger

import (
	"context"
	"fmt"

	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ramppool/ramp-api/internal/types"
	"github.com/ramppool/ramp-api/pkg/response"
)

// casRetries bounds the optimistic-concurrency loop on a single key.
const casRetries = 5

// ChainReader is the slice of the chain gateway the ledger needs for
// reconciliation: reading on-chain truth for one (chain, token) pair.
type ChainReader interface {
	GetOnChainBalance(ctx context.Context, chainID int64, tokenAddress string, decimals int) (decimal.Decimal, error)
}

// Service is the balance ledger: the single writer surface for pool
// inventory. All mutations go through IncreaseBalance / DecreaseBalance
// or the on-chain resync; nothing else may read-modify-write a row.
type Service struct {
	db    *Database
	chain ChainReader
}

func NewService(gormDB *gorm.DB, chain ChainReader) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		chain: chain,
	}
}

func (s *Service) GetBalance(chainID int64, tokenAddress string) (*PoolBalance, error) {
	return s.db.GetBalance(chainID, tokenAddress)
}

func (s *Service) GetAllBalances() ([]PoolBalance, error) {
	return s.db.GetAllBalances()
}

// Track registers a (chain, token) pair with a zero balance so resync
// and credits have a row to work against. Tracking an already-tracked
// pair is a no-op.
func (s *Service) Track(chainID int64, token types.TokenInfo) error {
	existing, err := s.db.GetBalance(chainID, token.Address)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.db.CreateBalance(&PoolBalance{
		ChainID:       chainID,
		TokenAddress:  token.Address,
		TokenSymbol:   token.Symbol,
		TokenDecimals: token.Decimals,
		Balance:       decimal.Zero.String(),
	})
}

// IncreaseBalance credits amount to the (chain, token) key, creating
// the row on first credit.
func (s *Service) IncreaseBalance(chainID int64, token types.TokenInfo, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: credit amount must be positive, got %s", types.ErrValidation, amount)
	}
	return s.adjustBalance(chainID, token, amount)
}

// DecreaseBalance debits amount from the (chain, token) key. The debit
// fails atomically with ErrInsufficientBalance if the result would be
// negative; the stored balance is left unchanged.
func (s *Service) DecreaseBalance(chainID int64, token types.TokenInfo, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: debit amount must be positive, got %s", types.ErrValidation, amount)
	}
	return s.adjustBalance(chainID, token, amount.Neg())
}

// adjustBalance is a bounded compare-and-swap loop over a single key.
// Concurrent writers to the same key each observe the other's committed
// value and retry, so no update is ever lost.
func (s *Service) adjustBalance(chainID int64, token types.TokenInfo, delta decimal.Decimal) error {
	for i := 0; i < casRetries; i++ {
		row, err := s.db.GetBalance(chainID, token.Address)
		if err != nil {
			return err
		}

		if row == nil {
			if delta.Sign() < 0 {
				return fmt.Errorf("%w: no balance for token %s on chain %d", types.ErrInsufficientBalance, token.Address, chainID)
			}
			err := s.db.CreateBalance(&PoolBalance{
				ChainID:       chainID,
				TokenAddress:  token.Address,
				TokenSymbol:   token.Symbol,
				TokenDecimals: token.Decimals,
				Balance:       delta.String(),
			})
			if err != nil {
				// Lost the creation race; retry against the new row.
				continue
			}
			return nil
		}

		current, err := row.Amount()
		if err != nil {
			return fmt.Errorf("corrupt balance for token %s on chain %d: %w", token.Address, chainID, err)
		}

		next := current.Add(delta)
		if next.Sign() < 0 {
			return fmt.Errorf("%w: have %s, need %s of %s on chain %d",
				types.ErrInsufficientBalance, current, delta.Abs(), token.Symbol, chainID)
		}

		ok, err := s.db.CompareAndSetBalance(chainID, token.Address, row.Balance, next.String(), nil)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("balance update for token %s on chain %d contended beyond %d retries", token.Address, chainID, casRetries)
}

// SyncAllBalances reconciles every tracked key against on-chain truth.
// Each key is overwritten with a compare-and-set against its last-known
// value: if an in-flight debit or credit lands between the chain read
// and the write, the overwrite is skipped rather than discarding the
// delta, and the key is picked up on the next sync cycle. Per-key
// failures are logged and skipped; the sweep itself never fails on one
// bad key.
func (s *Service) SyncAllBalances(ctx context.Context) ([]PoolBalance, error) {
	logger := log.With().Str("service", "ledger").Logger()

	balances, err := s.db.GetAllBalances()
	if err != nil {
		return nil, err
	}

	logger.Info().Int("tracked_keys", len(balances)).Msg("starting on-chain balance sync")

	for _, row := range balances {
		onChain, err := s.chain.GetOnChainBalance(ctx, row.ChainID, row.TokenAddress, row.TokenDecimals)
		if err != nil {
			logger.Error().Err(err).
				Int64("chain_id", row.ChainID).
				Str("token_address", row.TokenAddress).
				Msg("failed to read on-chain balance")
			continue
		}

		if onChain.String() == row.Balance {
			continue
		}

		now := time.Now()
		ok, err := s.db.CompareAndSetBalance(row.ChainID, row.TokenAddress, row.Balance, onChain.String(), &now)
		if err != nil {
			logger.Error().Err(err).
				Int64("chain_id", row.ChainID).
				Str("token_address", row.TokenAddress).
				Msg("failed to apply synced balance")
			continue
		}
		if !ok {
			logger.Warn().
				Int64("chain_id", row.ChainID).
				Str("token_address", row.TokenAddress).
				Msg("balance changed during sync, skipping key until next cycle")
			continue
		}

		logger.Info().
			Int64("chain_id", row.ChainID).
			Str("token_address", row.TokenAddress).
			Str("previous", row.Balance).
			Str("synced", onChain.String()).
			Msg("balance synced from chain")
	}

	return s.db.GetAllBalances()
}

// GinHandlers contains HTTP handlers for pool balance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetBalancesHandler handles GET requests for the full pool inventory
func (h *GinHandlers) GetBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balances, err := h.service.GetAllBalances()
		response.Handle(c, balances, err)
	}
}

// SyncBalancesHandler handles POST requests to reconcile the ledger
// against on-chain balances
func (h *GinHandlers) SyncBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balances, err := h.service.SyncAllBalances(c.Request.Context())
		response.Handle(c, balances, err)
	}
}

// TrackTokenHandler handles POST requests to start tracking a
// (chain, token) pair in the ledger
func (h *GinHandlers) TrackTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token types.TokenInfo
		if err := c.ShouldBindJSON(&token); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if token.ChainID == 0 || token.Address == "" {
			response.BadRequest(c, "chain_id and address are required")
			return
		}

		if err := h.service.Track(token.ChainID, token); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"message": "token tracked"})
	}
}
