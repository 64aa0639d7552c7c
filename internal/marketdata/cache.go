// Package marketdata is the price/liquidity/trending TTL cache spec §6
// names as the chain.MarketData surface. Grounded on the teacher's
// internal/blockchain.BalanceTracker (mutex-guarded last-known-value with an
// explicit Refresh call) generalized from a single lamport balance into a
// per-mint cache where a stale entry is returned flagged rather than
// refused, per spec §4.E "prices may be stale, never block a tick".
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cstahmer1/spotagent/internal/chain"
)

const (
	defaultPriceURL    = "https://api.jup.ag/price/v2"
	defaultTrendingURL = "https://lite-api.jup.ag/tokens/v1/new"
)

type priceEntry struct {
	point     chain.PricePoint
	fetchedAt time.Time
}

// Cache is a TTL-bounded price/liquidity/trending surface. The zero value
// is not ready to use; construct with NewCache.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration

	prices     map[chain.Mint]priceEntry
	liquidity  map[chain.Mint]float64
	trending   []chain.Candidate
	trendingAt time.Time

	httpClient   *http.Client
	priceURL     string
	trendingURL  string
}

// NewCache builds an empty cache with the given refresh TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:         ttl,
		prices:      make(map[chain.Mint]priceEntry),
		liquidity:   make(map[chain.Mint]float64),
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		priceURL:    defaultPriceURL,
		trendingURL: defaultTrendingURL,
	}
}

// SetEndpoints overrides the price/trending source URLs (tests, self-hosted
// aggregator mirrors).
func (c *Cache) SetEndpoints(priceURL, trendingURL string) {
	c.priceURL = priceURL
	c.trendingURL = trendingURL
}

// Price returns the cached price, refreshing synchronously if the entry is
// missing or older than the TTL. A refresh failure against an existing
// entry degrades to Stale=true rather than an error (spec §4.E).
func (c *Cache) Price(ctx context.Context, mint chain.Mint) (chain.PricePoint, error) {
	c.mu.RLock()
	entry, ok := c.prices[mint]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.point, nil
	}

	fresh, err := c.fetchPrice(ctx, mint)
	if err != nil {
		if ok {
			stale := entry.point
			stale.Stale = true
			log.Warn().Err(err).Str("mint", string(mint)).Msg("price refresh failed, serving stale value")
			return stale, nil
		}
		return chain.PricePoint{}, err
	}

	c.mu.Lock()
	c.prices[mint] = priceEntry{point: fresh, fetchedAt: time.Now()}
	c.mu.Unlock()
	return fresh, nil
}

// Liquidity returns the last observed liquidity for mint from the trending
// surface, 0 if the mint has never appeared there.
func (c *Cache) Liquidity(ctx context.Context, mint chain.Mint) (float64, error) {
	if _, err := c.Trending(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liquidity[mint], nil
}

// Trending returns the cached candidate list, refreshing if stale.
func (c *Cache) Trending(ctx context.Context) ([]chain.Candidate, error) {
	c.mu.RLock()
	fresh := time.Since(c.trendingAt) < c.ttl
	cached := c.trending
	c.mu.RUnlock()
	if fresh {
		return cached, nil
	}

	candidates, err := c.fetchTrending(ctx)
	if err != nil {
		if cached != nil {
			log.Warn().Err(err).Msg("trending refresh failed, serving stale list")
			return cached, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.trending = candidates
	c.trendingAt = time.Now()
	for _, cand := range candidates {
		c.liquidity[cand.Mint] = cand.Liquidity
	}
	c.mu.Unlock()
	return candidates, nil
}

type jupPriceResponse struct {
	Data map[string]struct {
		Price string `json:"price"`
	} `json:"data"`
}

func (c *Cache) fetchPrice(ctx context.Context, mint chain.Mint) (chain.PricePoint, error) {
	u := c.priceURL + "?ids=" + url.QueryEscape(string(mint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return chain.PricePoint{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chain.PricePoint{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chain.PricePoint{}, fmt.Errorf("marketdata: price request status %d", resp.StatusCode)
	}

	var body jupPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return chain.PricePoint{}, err
	}

	entry, ok := body.Data[string(mint)]
	if !ok {
		return chain.PricePoint{}, fmt.Errorf("marketdata: no price for %s", mint)
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil {
		return chain.PricePoint{}, err
	}

	return chain.PricePoint{Mint: mint, Price: price}, nil
}

type jupTrendingResponse []struct {
	Mint      string  `json:"mint"`
	Liquidity float64 `json:"liquidity"`
	Volume24h float64 `json:"volume24h"`
	Holders   int     `json:"holderCount"`
	CreatedAt string  `json:"createdAt"`
}

func (c *Cache) fetchTrending(ctx context.Context) ([]chain.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.trendingURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketdata: trending request status %d", resp.StatusCode)
	}

	var body jupTrendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]chain.Candidate, 0, len(body))
	for _, e := range body {
		out = append(out, chain.Candidate{
			Mint:      chain.Mint(e.Mint),
			Liquidity: e.Liquidity,
			Volume24h: e.Volume24h,
			HolderCnt: e.Holders,
			IsNew:     strings.TrimSpace(e.CreatedAt) != "",
		})
	}
	return out, nil
}
