package execution_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ramppool/ramp-api/internal/aggregator"
	"github.com/ramppool/ramp-api/internal/execution"
	"github.com/ramppool/ramp-api/internal/gateway"
	"github.com/ramppool/ramp-api/internal/ledger"
	"github.com/ramppool/ramp-api/internal/types"
)

var (
	usdcBase = types.TokenInfo{ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6}
	usdcPoly = types.TokenInfo{ChainID: 137, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Decimals: 6}
	daiPoly  = types.TokenInfo{ChainID: 137, Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Symbol: "DAI", Decimals: 18}

	recipient = "0x1111111111111111111111111111111111111111"
)

func newLedger(t *testing.T) *ledger.Service {
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
	return ledger.NewService(db, &fakeGateway{})
}

// fakeGateway broadcasts nothing and confirms instantly unless told to
// hang or fail.
type fakeGateway struct {
	sendNativeCalls  int
	sendERC20Calls   int
	executeCalls     int
	sendErr          error
	hangConfirmation bool

	lastTo     string
	lastAmount decimal.Decimal
}

func (f *fakeGateway) GetWalletAddress(int64) (string, error) {
	return "0x2222222222222222222222222222222222222222", nil
}

func (f *fakeGateway) SendNative(_ context.Context, _ int64, to string, amount decimal.Decimal) (string, error) {
	f.sendNativeCalls++
	f.lastTo, f.lastAmount = to, amount
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0xnativehash", nil
}

func (f *fakeGateway) SendERC20(_ context.Context, _ int64, _ string, to string, amount decimal.Decimal, _ int) (string, error) {
	f.sendERC20Calls++
	f.lastTo, f.lastAmount = to, amount
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0xerc20hash", nil
}

func (f *fakeGateway) ExecuteTransaction(_ context.Context, _ int64, to string, _ []byte, _ *big.Int) (string, error) {
	f.executeCalls++
	f.lastTo = to
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0xswaphash", nil
}

func (f *fakeGateway) WaitForTransaction(ctx context.Context, _ int64, txHash string) (*gateway.Confirmation, error) {
	if f.hangConfirmation {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: transaction %s", types.ErrConfirmationTimeout, txHash)
	}
	return &gateway.Confirmation{TxHash: txHash, BlockNumber: 123, GasUsed: 21000}, nil
}

func (f *fakeGateway) GetOnChainBalance(context.Context, int64, string, int) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// fakeAggregator returns a single canned route.
type fakeAggregator struct {
	route *aggregator.Route
	err   error
	calls int
}

func (f *fakeAggregator) GetBestRoute(context.Context, int64, int64, string, string, decimal.Decimal, string) (*aggregator.Route, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.route, nil
}

func swapRoute(chainID int64, fromAmount, toAmount string) *aggregator.Route {
	return &aggregator.Route{
		ProviderName: "test-dex",
		Transactions: []aggregator.TransactionRequest{
			{ChainID: chainID, To: "0x3333333333333333333333333333333333333333", Data: []byte{0x01}, Value: big.NewInt(0)},
		},
		FromAmount: decimal.RequireFromString(fromAmount),
		ToAmount:   decimal.RequireFromString(toAmount),
	}
}

func balanceOf(t *testing.T, svc *ledger.Service, token types.TokenInfo) string {
	t.Helper()
	row, err := svc.GetBalance(token.ChainID, token.Address)
	require.NoError(t, err)
	if row == nil {
		return ""
	}
	return row.Balance
}

func TestExecuteOnRampDirectTransfer(t *testing.T) {
	ledgerSvc := newLedger(t)
	require.NoError(t, ledgerSvc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(500)))

	gw := &fakeGateway{}
	engine := execution.NewEngine(ledgerSvc, gw, aggregator.NewUnavailable(), time.Second)

	result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
		FromChainID: usdcBase.ChainID,
		Token:       usdcBase,
		Amount:      decimal.NewFromInt(100),
		Recipient:   recipient,
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "0xerc20hash", result.TxHash)
	assert.Equal(t, "100", result.ActualOutput)
	assert.Equal(t, uint64(21000), result.GasUsed)
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, int64(0))

	assert.Equal(t, 1, gw.sendERC20Calls)
	assert.Equal(t, 0, gw.executeCalls)
	assert.Equal(t, recipient, gw.lastTo)

	// Inventory debited only after confirmation.
	assert.Equal(t, "400", balanceOf(t, ledgerSvc, usdcBase))
}

func TestExecuteOnRampNativeTransfer(t *testing.T) {
	ledgerSvc := newLedger(t)
	eth := types.TokenInfo{ChainID: 8453, Address: types.NativeTokenAddress, Symbol: "ETH", Decimals: 18}
	require.NoError(t, ledgerSvc.IncreaseBalance(eth.ChainID, eth, decimal.NewFromInt(2)))

	gw := &fakeGateway{}
	engine := execution.NewEngine(ledgerSvc, gw, aggregator.NewUnavailable(), time.Second)

	result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
		FromChainID: eth.ChainID,
		Token:       eth,
		Amount:      decimal.NewFromInt(1),
		Recipient:   recipient,
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "0xnativehash", result.TxHash)
	assert.Equal(t, 1, gw.sendNativeCalls)
	assert.Equal(t, 0, gw.sendERC20Calls)
	assert.Equal(t, "1", balanceOf(t, ledgerSvc, eth))
}

func TestExecuteOnRampNoInventoryNoRoute(t *testing.T) {
	ledgerSvc := newLedger(t)

	gw := &fakeGateway{}
	engine := execution.NewEngine(ledgerSvc, gw, aggregator.NewUnavailable(), time.Second)

	result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
		FromChainID: daiPoly.ChainID,
		Token:       daiPoly,
		Amount:      decimal.NewFromInt(50),
		Recipient:   recipient,
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "no route available")
	assert.Equal(t, 0, gw.sendERC20Calls)
	assert.Equal(t, 0, gw.executeCalls)

	// Nothing moved, nothing debited.
	balances, err := ledgerSvc.GetAllBalances()
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestExecuteOnRampSwapPath(t *testing.T) {
	ledgerSvc := newLedger(t)
	require.NoError(t, ledgerSvc.IncreaseBalance(usdcPoly.ChainID, usdcPoly, decimal.NewFromInt(1000)))

	gw := &fakeGateway{}
	agg := &fakeAggregator{route: swapRoute(137, "50.5", "50")}
	engine := execution.NewEngine(ledgerSvc, gw, agg, time.Second)

	result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
		FromChainID: 137,
		Token:       daiPoly,
		Amount:      decimal.NewFromInt(50),
		Recipient:   recipient,
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "0xswaphash", result.TxHash)
	assert.Equal(t, "50", result.ActualOutput)
	assert.Equal(t, "50.5", result.TotalCost)
	assert.Equal(t, 1, agg.calls)
	assert.Equal(t, 1, gw.executeCalls)

	// Settlement inventory debited by the route's estimated input.
	assert.Equal(t, "949.5", balanceOf(t, ledgerSvc, usdcPoly))
}

func TestExecuteOnRampValidation(t *testing.T) {
	ledgerSvc := newLedger(t)
	gw := &fakeGateway{}
	engine := execution.NewEngine(ledgerSvc, gw, aggregator.NewUnavailable(), time.Second)

	t.Run("zero amount fails before any network call", func(t *testing.T) {
		result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
			FromChainID: 8453,
			Token:       usdcBase,
			Amount:      decimal.Zero,
			Recipient:   recipient,
		})
		require.False(t, result.Success)
		assert.Contains(t, result.Error, "validation failed")
		assert.Equal(t, 0, gw.sendERC20Calls)
	})

	t.Run("missing recipient fails", func(t *testing.T) {
		result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
			FromChainID: 8453,
			Token:       usdcBase,
			Amount:      decimal.NewFromInt(1),
		})
		require.False(t, result.Success)
		assert.Contains(t, result.Error, "recipient")
	})

	t.Run("unsupported settlement chain fails the swap path", func(t *testing.T) {
		result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
			FromChainID: 999,
			Token:       types.TokenInfo{ChainID: 999, Address: "0xabc", Symbol: "XYZ"},
			Amount:      decimal.NewFromInt(1),
			Recipient:   recipient,
		})
		require.False(t, result.Success)
		assert.Contains(t, result.Error, "unsupported settlement asset")
	})
}

func TestExecuteOnRampConfirmationTimeout(t *testing.T) {
	ledgerSvc := newLedger(t)
	require.NoError(t, ledgerSvc.IncreaseBalance(usdcBase.ChainID, usdcBase, decimal.NewFromInt(500)))

	gw := &fakeGateway{hangConfirmation: true}
	engine := execution.NewEngine(ledgerSvc, gw, aggregator.NewUnavailable(), 20*time.Millisecond)

	result := engine.ExecuteOnRamp(context.Background(), execution.OnRampParams{
		FromChainID: usdcBase.ChainID,
		Token:       usdcBase,
		Amount:      decimal.NewFromInt(100),
		Recipient:   recipient,
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "confirmation timed out")

	// No confirmation observed, so the ledger stays untouched.
	assert.Equal(t, "500", balanceOf(t, ledgerSvc, usdcBase))
}

func TestExecuteOffRamp(t *testing.T) {
	t.Run("settlement asset deposit is credited without a swap", func(t *testing.T) {
		ledgerSvc := newLedger(t)
		gw := &fakeGateway{}
		agg := &fakeAggregator{}
		engine := execution.NewEngine(ledgerSvc, gw, agg, time.Second)

		result := engine.ExecuteOffRamp(context.Background(), 137, usdcPoly, decimal.NewFromInt(300), "")

		require.True(t, result.Success, "error: %s", result.Error)
		assert.Equal(t, "", result.TxHash)
		assert.Equal(t, 0, agg.calls)
		assert.Equal(t, 0, gw.executeCalls)
		assert.Equal(t, "300", balanceOf(t, ledgerSvc, usdcPoly))
	})

	t.Run("other deposits swap toward the settlement asset", func(t *testing.T) {
		ledgerSvc := newLedger(t)
		require.NoError(t, ledgerSvc.IncreaseBalance(usdcPoly.ChainID, usdcPoly, decimal.NewFromInt(1000)))

		gw := &fakeGateway{}
		agg := &fakeAggregator{route: swapRoute(137, "200", "198")}
		engine := execution.NewEngine(ledgerSvc, gw, agg, time.Second)

		result := engine.ExecuteOffRamp(context.Background(), 137, daiPoly, decimal.NewFromInt(200), "")

		require.True(t, result.Success, "error: %s", result.Error)
		assert.Equal(t, "0xswaphash", result.TxHash)
		assert.Equal(t, 1, agg.calls)
		assert.Equal(t, 1, gw.executeCalls)

		// Deposit joins inventory; settlement asset pays for the swap.
		assert.Equal(t, "200", balanceOf(t, ledgerSvc, daiPoly))
		assert.Equal(t, "802", balanceOf(t, ledgerSvc, usdcPoly))
	})

	t.Run("no route fails cleanly", func(t *testing.T) {
		ledgerSvc := newLedger(t)
		gw := &fakeGateway{}
		engine := execution.NewEngine(ledgerSvc, gw, aggregator.NewUnavailable(), time.Second)

		result := engine.ExecuteOffRamp(context.Background(), 137, daiPoly, decimal.NewFromInt(200), "")

		require.False(t, result.Success)
		assert.Contains(t, result.Error, "no route available")
	})

	t.Run("zero amount is rejected", func(t *testing.T) {
		ledgerSvc := newLedger(t)
		engine := execution.NewEngine(ledgerSvc, &fakeGateway{}, aggregator.NewUnavailable(), time.Second)

		result := engine.ExecuteOffRamp(context.Background(), 137, daiPoly, decimal.Zero, "")
		require.False(t, result.Success)
		assert.Contains(t, result.Error, "validation failed")
	})
}
