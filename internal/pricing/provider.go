package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/ramppool/ramp-api/internal/types"
)

// RateProvider supplies an external reference rate for one token symbol
// in one fiat currency. Implementations are fallible; the pricing
// service absorbs failures into its static fallback table.
type RateProvider interface {
	GetRate(ctx context.Context, tokenSymbol, currency string) (decimal.Decimal, error)
}

// symbolIDs maps token symbols to the public price API's asset ids.
var symbolIDs = map[string]string{
	"ETH":   "ethereum",
	"WETH":  "weth",
	"MATIC": "matic-network",
	"POL":   "matic-network",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
	"WBTC":  "wrapped-bitcoin",
}

const (
	providerTimeout     = 10 * time.Second
	providerMaxRetries  = 3
	defaultProviderBase = "https://api.coingecko.com/api/v3"
)

// HTTPRateProvider fetches reference rates from a CoinGecko-style
// simple-price endpoint.
type HTTPRateProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRateProvider(baseURL string) *HTTPRateProvider {
	if baseURL == "" {
		baseURL = defaultProviderBase
	}
	return &HTTPRateProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: providerTimeout},
	}
}

func (p *HTTPRateProvider) GetRate(ctx context.Context, tokenSymbol, currency string) (decimal.Decimal, error) {
	id, ok := symbolIDs[strings.ToUpper(tokenSymbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price id mapping for symbol %s", types.ErrUpstream, tokenSymbol)
	}
	vs := strings.ToLower(currency)

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		p.baseURL, url.QueryEscape(id), url.QueryEscape(vs))

	var rate decimal.Decimal
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("price api returned status %d", resp.StatusCode)
		}

		var body map[string]map[string]float64
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}

		value, ok := body[id][vs]
		if !ok {
			return backoff.Permanent(fmt.Errorf("price api response missing %s/%s", id, vs))
		}

		rate = decimal.NewFromFloat(value)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), providerMaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return decimal.Zero, fmt.Errorf("%w: rate lookup for %s/%s: %v", types.ErrUpstream, tokenSymbol, currency, err)
	}

	return rate, nil
}
