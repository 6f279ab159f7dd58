package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ramppool/ramp-api/internal/types"
	"github.com/ramppool/ramp-api/pkg/response"
)

var hundred = decimal.NewFromInt(100)

// fallbackRates is the static table used when the external provider is
// unavailable. Pricing must degrade, never fail, on provider errors.
var fallbackRates = map[string]map[string]decimal.Decimal{
	"USDC": {
		"USD": decimal.NewFromInt(1),
		"GHS": decimal.NewFromFloat(15.60),
		"NGN": decimal.NewFromInt(1650),
		"KES": decimal.NewFromInt(129),
		"EUR": decimal.NewFromFloat(0.92),
	},
	"USDT": {
		"USD": decimal.NewFromInt(1),
		"GHS": decimal.NewFromFloat(15.60),
		"NGN": decimal.NewFromInt(1650),
		"KES": decimal.NewFromInt(129),
		"EUR": decimal.NewFromFloat(0.92),
	},
	"DAI": {
		"USD": decimal.NewFromInt(1),
		"GHS": decimal.NewFromFloat(15.60),
		"NGN": decimal.NewFromInt(1650),
		"KES": decimal.NewFromInt(129),
		"EUR": decimal.NewFromFloat(0.92),
	},
	"ETH": {
		"USD": decimal.NewFromInt(3300),
		"GHS": decimal.NewFromInt(51480),
		"NGN": decimal.NewFromInt(5445000),
		"KES": decimal.NewFromInt(425700),
		"EUR": decimal.NewFromInt(3036),
	},
	"MATIC": {
		"USD": decimal.NewFromFloat(0.52),
		"GHS": decimal.NewFromFloat(8.11),
		"NGN": decimal.NewFromInt(858),
		"KES": decimal.NewFromFloat(67.1),
		"EUR": decimal.NewFromFloat(0.48),
	},
}

// Service converts crypto amounts into fiat obligations (buy) and fiat
// payouts into crypto entitlements (sell). Markup and discount are a
// pricing-policy lever operators adjust at runtime, so they live behind
// a lock rather than as constants.
type Service struct {
	provider RateProvider

	mu              sync.RWMutex
	onRampMarkup    decimal.Decimal // percent, applied on buys
	offRampDiscount decimal.Decimal // percent, applied on sells

	quoteTTL time.Duration
}

func NewService(provider RateProvider, onRampMarkup, offRampDiscount decimal.Decimal, quoteTTL time.Duration) *Service {
	return &Service{
		provider:        provider,
		onRampMarkup:    onRampMarkup,
		offRampDiscount: offRampDiscount,
		quoteTTL:        quoteTTL,
	}
}

// GetOnRampPrice quotes the fiat cost to acquire amount of token:
// finalPrice = amount * externalRate * (1 + markup).
func (s *Service) GetOnRampPrice(ctx context.Context, token types.TokenInfo, amount decimal.Decimal, currency string) (*PriceQuote, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", types.ErrValidation, amount)
	}

	rate, err := s.externalRate(ctx, token.Symbol, currency)
	if err != nil {
		return nil, err
	}

	markup := s.OnRampMarkup()
	multiplier := decimal.NewFromInt(1).Add(markup.Div(hundred))
	finalPrice := amount.Mul(rate).Mul(multiplier)

	return &PriceQuote{
		ExternalRate:     rate,
		YourRate:         finalPrice.Div(amount),
		MarkupOrDiscount: markup,
		FiatAmount:       finalPrice,
		CryptoAmount:     amount,
		Currency:         strings.ToUpper(currency),
		TokenSymbol:      token.Symbol,
		ChainID:          token.ChainID,
		RequiresSwap:     s.RequiresSwap(token),
		Timestamp:        time.Now(),
		ExpiresIn:        int64(s.quoteTTL.Seconds()),
	}, nil
}

// GetOffRampPrice quotes the fiat payout for selling amount of token:
// finalPrice = amount * externalRate * (1 - discount).
func (s *Service) GetOffRampPrice(ctx context.Context, token types.TokenInfo, amount decimal.Decimal, currency string) (*PriceQuote, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", types.ErrValidation, amount)
	}

	rate, err := s.externalRate(ctx, token.Symbol, currency)
	if err != nil {
		return nil, err
	}

	discount := s.OffRampDiscount()
	multiplier := decimal.NewFromInt(1).Sub(discount.Div(hundred))
	finalPrice := amount.Mul(rate).Mul(multiplier)

	return &PriceQuote{
		ExternalRate:     rate,
		YourRate:         finalPrice.Div(amount),
		MarkupOrDiscount: discount.Neg(),
		FiatAmount:       finalPrice,
		CryptoAmount:     amount,
		Currency:         strings.ToUpper(currency),
		TokenSymbol:      token.Symbol,
		ChainID:          token.ChainID,
		RequiresSwap:     s.RequiresSwap(token),
		Timestamp:        time.Now(),
		ExpiresIn:        int64(s.quoteTTL.Seconds()),
	}, nil
}

// externalRate consults the provider and degrades to the static
// fallback table on any failure. It only errors when the symbol has no
// reference rate anywhere.
func (s *Service) externalRate(ctx context.Context, symbol, currency string) (decimal.Decimal, error) {
	rate, err := s.provider.GetRate(ctx, symbol, currency)
	if err == nil {
		return rate, nil
	}

	log.Warn().Err(err).
		Str("service", "pricing").
		Str("symbol", symbol).
		Str("currency", currency).
		Msg("rate provider failed, using fallback rate")

	fallback, ok := fallbackRates[strings.ToUpper(symbol)][strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no reference rate for %s/%s", types.ErrUnsupportedAsset, symbol, currency)
	}
	return fallback, nil
}

// RequiresSwap reports whether fulfilling token requires a swap first.
// The pool settles internally in the canonical settlement asset per
// chain; everything else must be swapped into.
func (s *Service) RequiresSwap(token types.TokenInfo) bool {
	return !types.IsSettlementAsset(token)
}

// IsQuoteValid reports whether the quote is still within its validity
// window. Quotes without an expiry are always valid.
func (s *Service) IsQuoteValid(quote *PriceQuote) bool {
	if quote.ExpiresIn <= 0 {
		return true
	}
	return time.Now().Before(quote.Timestamp.Add(time.Duration(quote.ExpiresIn) * time.Second))
}

// CalculateProfitMargin returns the pool's margin on a quote. Markup
// and discount both represent margin, so the sign is irrelevant.
func (s *Service) CalculateProfitMargin(quote *PriceQuote) decimal.Decimal {
	return quote.FiatAmount.Mul(quote.MarkupOrDiscount).Div(hundred).Abs()
}

// UpdateMarkup adjusts the runtime pricing policy. Values are percent.
func (s *Service) UpdateMarkup(onRampMarkup, offRampDiscount decimal.Decimal) error {
	if onRampMarkup.Sign() < 0 || onRampMarkup.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: on-ramp markup must be in [0, 100), got %s", types.ErrValidation, onRampMarkup)
	}
	if offRampDiscount.Sign() < 0 || offRampDiscount.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: off-ramp discount must be in [0, 100), got %s", types.ErrValidation, offRampDiscount)
	}

	s.mu.Lock()
	s.onRampMarkup = onRampMarkup
	s.offRampDiscount = offRampDiscount
	s.mu.Unlock()

	log.Info().
		Str("service", "pricing").
		Str("on_ramp_markup", onRampMarkup.String()).
		Str("off_ramp_discount", offRampDiscount.String()).
		Msg("pricing policy updated")
	return nil
}

func (s *Service) OnRampMarkup() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onRampMarkup
}

func (s *Service) OffRampDiscount() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offRampDiscount
}

// GinHandlers contains HTTP handlers for pricing endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type quoteRequest struct {
	ChainID  int64  `json:"chain_id" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Symbol   string `json:"symbol" binding:"required"`
	Decimals int    `json:"decimals"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

// QuoteHandler handles POST requests for on-ramp and off-ramp quotes.
// URL parameter: direction (onramp or offramp).
func (h *GinHandlers) QuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req quoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			response.BadRequest(c, "amount must be a decimal string")
			return
		}

		token := types.TokenInfo{
			ChainID:  req.ChainID,
			Address:  req.Address,
			Symbol:   req.Symbol,
			Decimals: req.Decimals,
		}

		var quote *PriceQuote
		switch c.Param("direction") {
		case "onramp":
			quote, err = h.service.GetOnRampPrice(c.Request.Context(), token, amount, req.Currency)
		case "offramp":
			quote, err = h.service.GetOffRampPrice(c.Request.Context(), token, amount, req.Currency)
		default:
			response.BadRequest(c, "direction must be onramp or offramp")
			return
		}

		response.Handle(c, quote, err)
	}
}

// UpdateMarkupHandler handles POST requests to adjust the runtime
// markup/discount policy.
func (h *GinHandlers) UpdateMarkupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OnRampMarkup    string `json:"on_ramp_markup" binding:"required"`
			OffRampDiscount string `json:"off_ramp_discount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		markup, err := decimal.NewFromString(req.OnRampMarkup)
		if err != nil {
			response.BadRequest(c, "on_ramp_markup must be a decimal string")
			return
		}
		discount, err := decimal.NewFromString(req.OffRampDiscount)
		if err != nil {
			response.BadRequest(c, "off_ramp_discount must be a decimal string")
			return
		}

		if err := h.service.UpdateMarkup(markup, discount); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"message": "pricing policy updated"})
	}
}
