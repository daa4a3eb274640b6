// Package pricing resolves historic USD prices for tokens by symbol and day.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/retry"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	dayLayout      = "02-01-2006"
)

var (
	// ErrUnknownSymbol is returned for symbols with no configured feed.
	ErrUnknownSymbol = errors.New("no price feed for symbol")
	// ErrNoPrice is returned when the feed has no USD quote for the day.
	ErrNoPrice = errors.New("no usd price for day")
)

// Cache stores prices as decimal strings keyed by feed and day.
type Cache interface {
	GetPrice(ctx context.Context, feedID, day string) (string, bool)
	SetPrice(ctx context.Context, feedID, day, usd string)
}

// Provider returns the USD price of a token on the UTC day containing at.
type Provider interface {
	USDPrice(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)
}

type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS bounds outgoing requests; the public API allows roughly 10-30 per minute.
	RPS float64
}

// CoinGecko queries /coins/{id}/history. Feeds maps token symbols to CoinGecko ids.
type CoinGecko struct {
	opts    Options
	feeds   map[string]string
	cache   Cache
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// OptionsFromEnv reads COINGECKO_URL, COINGECKO_API_KEY and COINGECKO_RPS.
func OptionsFromEnv() Options {
	return Options{
		BaseURL: utils.Env("COINGECKO_URL", DefaultBaseURL),
		APIKey:  utils.Env("COINGECKO_API_KEY", ""),
		Timeout: utils.EnvDuration("COINGECKO_TIMEOUT", 15*time.Second),
		RPS:     0.4,
	}
}

// NewCoinGecko builds a provider. cache may be nil.
func NewCoinGecko(opts Options, feeds map[string]string, cache Cache, logger *zap.Logger) *CoinGecko {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 0.4
	}
	normalized := make(map[string]string, len(feeds))
	for sym, id := range feeds {
		normalized[strings.ToUpper(sym)] = id
	}
	return &CoinGecko{
		opts:    opts,
		feeds:   normalized,
		cache:   cache,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), 1),
		logger:  logger,
	}
}

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]json.Number `json:"current_price"`
	} `json:"market_data"`
}

// USDPrice implements Provider.
func (c *CoinGecko) USDPrice(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	id, ok := c.feeds[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	day := at.UTC().Format(dayLayout)

	if c.cache != nil {
		if v, hit := c.cache.GetPrice(ctx, id, day); hit {
			if d, err := decimal.NewFromString(v); err == nil {
				return d, nil
			}
		}
	}

	var price decimal.Decimal
	err := retry.WithBackoff(ctx, retry.QuickConfig(), c.logger, "coingecko history", func() error {
		p, err := c.fetch(ctx, id, day)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	if c.cache != nil {
		c.cache.SetPrice(ctx, id, day, price.String())
	}
	return price, nil
}

func (c *CoinGecko) fetch(ctx context.Context, id, day string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, retry.Permanent(err)
	}

	url := fmt.Sprintf("%s/coins/%s/history?date=%s&localization=false", c.opts.BaseURL, id, day)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko %s %s: %w", id, day, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return decimal.Zero, fmt.Errorf("coingecko %s %s: status %d", id, day, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, retry.Permanent(fmt.Errorf("coingecko %s %s: status %d", id, day, resp.StatusCode))
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, retry.Permanent(fmt.Errorf("decode coingecko %s: %w", id, err))
	}
	if body.MarketData == nil {
		return decimal.Zero, retry.Permanent(fmt.Errorf("%w: %s %s", ErrNoPrice, id, day))
	}
	usd, ok := body.MarketData.CurrentPrice["usd"]
	if !ok {
		return decimal.Zero, retry.Permanent(fmt.Errorf("%w: %s %s", ErrNoPrice, id, day))
	}
	return decimal.NewFromString(usd.String())
}
