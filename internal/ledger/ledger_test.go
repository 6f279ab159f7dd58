package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ramppool/ramp-api/internal/ledger"
	"github.com/ramppool/ramp-api/internal/types"
)

var (
	usdcBase = types.TokenInfo{ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6}
	daiPoly  = types.TokenInfo{ChainID: 137, Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Symbol: "DAI", Decimals: 18}
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&ledger.PoolBalance{}))
	return db
}

// stubChain returns canned on-chain balances per (chain, token) key.
type stubChain struct {
	balances map[string]decimal.Decimal
	err      error
}

func (s *stubChain) GetOnChainBalance(_ context.Context, chainID int64, tokenAddress string, _ int) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	key := fmt.Sprintf("%d:%s", chainID, tokenAddress)
	return s.balances[key], nil
}

func TestTrack(t *testing.T) {
	svc := ledger.NewService(newTestDB(t), &stubChain{})

	t.Run("creates zero balance row", func(t *testing.T) {
		require.NoError(t, svc.Track(usdcBase.ChainID, usdcBase))

		balance, err := svc.GetBalance(usdcBase.ChainID, usdcBase.Address)
		require.NoError(t, err)
		require.NotNil(t, balance)
		assert.Equal(t, "0", balance.Balance)
		assert.Equal(t, "USDC", balance.TokenSymbol)
	})

	t.Run("tracking twice is a no-op", func(t *testing.T) {
		require.NoError(t, svc.Track(usdcBase.ChainID, usdcBase))

		balances, err := svc.GetAllBalances()
		require.NoError(t, err)
		assert.Len(t, balances, 1)
	})
}

func TestIncreaseBalance(t *testing.T) {
	svc := ledger.NewService(newTestDB(t), &stubChain{})

	t.Run("first credit creates the row", func(t *testing.T) {
		require.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(500)))

		balance, err := svc.GetBalance(usdcBase.ChainID, usdcBase.Address)
		require.NoError(t, err)
		require.NotNil(t, balance)
		assert.Equal(t, "500", balance.Balance)
	})

	t.Run("subsequent credits accumulate", func(t *testing.T) {
		require.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.RequireFromString("0.5")))

		balance, err := svc.GetBalance(usdcBase.ChainID, usdcBase.Address)
		require.NoError(t, err)
		assert.Equal(t, "500.5", balance.Balance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		err := svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.Zero)
		assert.ErrorIs(t, err, types.ErrValidation)

		err = svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(-10))
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestDecreaseBalance(t *testing.T) {
	svc := ledger.NewService(newTestDB(t), &stubChain{})
	require.NoError(t, svc.IncreaseBalance(daiPoly.ChainID, daiPoly, decimal.NewFromInt(100)))

	t.Run("debits within balance", func(t *testing.T) {
		require.NoError(t, svc.DecreaseBalance(daiPoly.ChainID, daiPoly, decimal.NewFromInt(40)))

		balance, err := svc.GetBalance(daiPoly.ChainID, daiPoly.Address)
		require.NoError(t, err)
		assert.Equal(t, "60", balance.Balance)
	})

	t.Run("overdraw fails and leaves balance unchanged", func(t *testing.T) {
		err := svc.DecreaseBalance(daiPoly.ChainID, daiPoly, decimal.NewFromInt(1000))
		assert.ErrorIs(t, err, types.ErrInsufficientBalance)

		balance, err := svc.GetBalance(daiPoly.ChainID, daiPoly.Address)
		require.NoError(t, err)
		assert.Equal(t, "60", balance.Balance)
	})

	t.Run("debit against untracked key fails", func(t *testing.T) {
		err := svc.DecreaseBalance(1, types.TokenInfo{ChainID: 1, Address: "0x1111", Symbol: "WETH"}, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, types.ErrInsufficientBalance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		err := svc.DecreaseBalance(daiPoly.ChainID, daiPoly, decimal.Zero)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestAddressCaseInsensitivity(t *testing.T) {
	svc := ledger.NewService(newTestDB(t), &stubChain{})

	mixed := types.TokenInfo{ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6}
	require.NoError(t, svc.IncreaseBalance(mixed.ChainID, mixed, decimal.NewFromInt(10)))

	lower := types.TokenInfo{ChainID: 8453, Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Symbol: "USDC", Decimals: 6}
	require.NoError(t, svc.IncreaseBalance(lower.ChainID, lower, decimal.NewFromInt(5)))

	balance, err := svc.GetBalance(8453, "0X833589FCD6EDB6E08F4C7C32D4F71B54BDA02913")
	require.NoError(t, err)
	require.NotNil(t, balance)
	assert.Equal(t, "15", balance.Balance)

	balances, err := svc.GetAllBalances()
	require.NoError(t, err)
	assert.Len(t, balances, 1)
}

func TestConcurrentAdjustmentsPreserveNetSum(t *testing.T) {
	svc := ledger.NewService(newTestDB(t), &stubChain{})
	require.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(1000)))

	// Writers to the same key race on the compare-and-set; each one must
	// land exactly once, so the final balance is the arithmetic net.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(7)))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.DecreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(3)))
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(usdcBase.ChainID, usdcBase.Address)
	require.NoError(t, err)
	assert.Equal(t, "1016", balance.Balance)
}

func TestSyncAllBalances(t *testing.T) {
	t.Run("overwrites drifted keys with on-chain truth", func(t *testing.T) {
		chain := &stubChain{balances: map[string]decimal.Decimal{
			"8453:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": decimal.RequireFromString("750.25"),
		}}
		svc := ledger.NewService(newTestDB(t), chain)
		require.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(500)))

		balances, err := svc.SyncAllBalances(context.Background())
		require.NoError(t, err)
		require.Len(t, balances, 1)
		assert.Equal(t, "750.25", balances[0].Balance)
		assert.NotNil(t, balances[0].LastSyncedAt)
	})

	t.Run("matching keys are left alone", func(t *testing.T) {
		chain := &stubChain{balances: map[string]decimal.Decimal{
			"8453:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": decimal.NewFromInt(500),
		}}
		svc := ledger.NewService(newTestDB(t), chain)
		require.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(500)))

		balances, err := svc.SyncAllBalances(context.Background())
		require.NoError(t, err)
		require.Len(t, balances, 1)
		assert.Equal(t, "500", balances[0].Balance)
		assert.Nil(t, balances[0].LastSyncedAt)
	})

	t.Run("a failing chain read skips the key, not the sweep", func(t *testing.T) {
		chain := &stubChain{err: fmt.Errorf("rpc unreachable")}
		svc := ledger.NewService(newTestDB(t), chain)
		require.NoError(t, svc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(500)))

		balances, err := svc.SyncAllBalances(context.Background())
		require.NoError(t, err)
		require.Len(t, balances, 1)
		assert.Equal(t, "500", balances[0].Balance)
	})
}
