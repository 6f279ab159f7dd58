package pricing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramppool/ramp-api/internal/pricing"
	"github.com/ramppool/ramp-api/internal/types"
)

var (
	usdcBase = types.TokenInfo{ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6}
	daiPoly  = types.TokenInfo{ChainID: 137, Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Symbol: "DAI", Decimals: 18}
)

// stubProvider returns a fixed rate or a fixed error.
type stubProvider struct {
	rate decimal.Decimal
	err  error
}

func (s *stubProvider) GetRate(_ context.Context, _, _ string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.rate, nil
}

func newService(provider pricing.RateProvider) *pricing.Service {
	return pricing.NewService(provider,
		decimal.RequireFromString("1.5"),
		decimal.RequireFromString("1.0"),
		60*time.Second)
}

func TestGetOnRampPrice(t *testing.T) {
	svc := newService(&stubProvider{rate: decimal.RequireFromString("15.60")})

	t.Run("applies markup on top of the external rate", func(t *testing.T) {
		quote, err := svc.GetOnRampPrice(context.Background(), usdcBase, decimal.NewFromInt(100), "GHS")
		require.NoError(t, err)

		// 100 * 15.60 * 1.015
		assert.True(t, quote.FiatAmount.Equal(decimal.RequireFromString("1583.4")), "got %s", quote.FiatAmount)
		assert.True(t, quote.ExternalRate.Equal(decimal.RequireFromString("15.60")))
		assert.True(t, quote.YourRate.Equal(decimal.RequireFromString("15.834")), "got %s", quote.YourRate)
		assert.True(t, quote.MarkupOrDiscount.Equal(decimal.RequireFromString("1.5")))
		assert.Equal(t, "GHS", quote.Currency)
		assert.Equal(t, int64(60), quote.ExpiresIn)
	})

	t.Run("settlement asset needs no swap", func(t *testing.T) {
		quote, err := svc.GetOnRampPrice(context.Background(), usdcBase, decimal.NewFromInt(10), "GHS")
		require.NoError(t, err)
		assert.False(t, quote.RequiresSwap)
	})

	t.Run("non-settlement asset requires a swap", func(t *testing.T) {
		quote, err := svc.GetOnRampPrice(context.Background(), daiPoly, decimal.NewFromInt(10), "GHS")
		require.NoError(t, err)
		assert.True(t, quote.RequiresSwap)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := svc.GetOnRampPrice(context.Background(), usdcBase, decimal.Zero, "GHS")
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestGetOffRampPrice(t *testing.T) {
	svc := newService(&stubProvider{rate: decimal.NewFromInt(1650)})

	quote, err := svc.GetOffRampPrice(context.Background(), usdcBase, decimal.NewFromInt(200), "NGN")
	require.NoError(t, err)

	// 200 * 1650 * 0.99
	assert.True(t, quote.FiatAmount.Equal(decimal.NewFromInt(326700)), "got %s", quote.FiatAmount)
	assert.True(t, quote.MarkupOrDiscount.Equal(decimal.RequireFromString("-1.0")), "got %s", quote.MarkupOrDiscount)
	assert.True(t, quote.YourRate.LessThan(quote.ExternalRate))
}

func TestExternalRateFallback(t *testing.T) {
	t.Run("provider failure degrades to the static table", func(t *testing.T) {
		svc := newService(&stubProvider{err: fmt.Errorf("provider down")})

		quote, err := svc.GetOnRampPrice(context.Background(), usdcBase, decimal.NewFromInt(1), "USD")
		require.NoError(t, err)
		assert.True(t, quote.ExternalRate.Equal(decimal.NewFromInt(1)))
	})

	t.Run("no fallback entry is an unsupported asset", func(t *testing.T) {
		svc := newService(&stubProvider{err: fmt.Errorf("provider down")})

		unknown := types.TokenInfo{ChainID: 1, Address: "0xabc", Symbol: "XYZ"}
		_, err := svc.GetOnRampPrice(context.Background(), unknown, decimal.NewFromInt(1), "USD")
		assert.ErrorIs(t, err, types.ErrUnsupportedAsset)
	})
}

func TestIsQuoteValid(t *testing.T) {
	svc := newService(&stubProvider{rate: decimal.NewFromInt(1)})

	t.Run("fresh quote is valid", func(t *testing.T) {
		quote := &pricing.PriceQuote{Timestamp: time.Now(), ExpiresIn: 60}
		assert.True(t, svc.IsQuoteValid(quote))
	})

	t.Run("quote past its window is invalid", func(t *testing.T) {
		quote := &pricing.PriceQuote{Timestamp: time.Now().Add(-120 * time.Second), ExpiresIn: 60}
		assert.False(t, svc.IsQuoteValid(quote))
	})

	t.Run("quote without expiry never expires", func(t *testing.T) {
		quote := &pricing.PriceQuote{Timestamp: time.Now().Add(-24 * time.Hour), ExpiresIn: 0}
		assert.True(t, svc.IsQuoteValid(quote))
	})
}

func TestCalculateProfitMargin(t *testing.T) {
	svc := newService(&stubProvider{rate: decimal.NewFromInt(1)})

	t.Run("markup margin", func(t *testing.T) {
		quote := &pricing.PriceQuote{
			FiatAmount:       decimal.NewFromInt(1000),
			MarkupOrDiscount: decimal.RequireFromString("1.5"),
		}
		assert.True(t, svc.CalculateProfitMargin(quote).Equal(decimal.NewFromInt(15)))
	})

	t.Run("discount margin is positive despite the sign", func(t *testing.T) {
		quote := &pricing.PriceQuote{
			FiatAmount:       decimal.NewFromInt(1000),
			MarkupOrDiscount: decimal.RequireFromString("-1.0"),
		}
		assert.True(t, svc.CalculateProfitMargin(quote).Equal(decimal.NewFromInt(10)))
	})
}

func TestUpdateMarkup(t *testing.T) {
	svc := newService(&stubProvider{rate: decimal.NewFromInt(10)})

	t.Run("rejects values outside [0, 100)", func(t *testing.T) {
		err := svc.UpdateMarkup(decimal.NewFromInt(-1), decimal.NewFromInt(1))
		assert.ErrorIs(t, err, types.ErrValidation)

		err = svc.UpdateMarkup(decimal.NewFromInt(1), decimal.NewFromInt(100))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("updated policy applies to subsequent quotes", func(t *testing.T) {
		require.NoError(t, svc.UpdateMarkup(decimal.NewFromInt(2), decimal.NewFromInt(3)))

		quote, err := svc.GetOnRampPrice(context.Background(), usdcBase, decimal.NewFromInt(100), "USD")
		require.NoError(t, err)
		// 100 * 10 * 1.02
		assert.True(t, quote.FiatAmount.Equal(decimal.NewFromInt(1020)), "got %s", quote.FiatAmount)

		offQuote, err := svc.GetOffRampPrice(context.Background(), usdcBase, decimal.NewFromInt(100), "USD")
		require.NoError(t, err)
		// 100 * 10 * 0.97
		assert.True(t, offQuote.FiatAmount.Equal(decimal.NewFromInt(970)), "got %s", offQuote.FiatAmount)
	})
}
