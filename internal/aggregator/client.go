// Package aggregator is the swap-aggregator adapter (spec §6 "aggregator"),
// grounded on the teacher's internal/jupiter.Client (internal/jupiter/client.go):
// same HTTP/2 pooled transport and API-key rotation, generalized behind the
// chain.QuoteSwapper interface so the execution pipeline never depends on a
// specific aggregator's wire format.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"github.com/cstahmer1/spotagent/internal/chain"
)

// MetisSwapURL is the default Jupiter Metis swap API base.
const MetisSwapURL = "https://api.jup.ag/swap/v1"

// HTTPClientPool round-robins a small set of HTTP/2-forced clients so the
// aggregator doesn't serialize every quote/swap call through one connection.
type HTTPClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

// NewHTTPClientPool builds a pool of size HTTP/2-optimized clients.
func NewHTTPClientPool(size int, timeout time.Duration) *HTTPClientPool {
	pool := &HTTPClientPool{clients: make([]*http.Client, size)}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		http2.ConfigureTransport(transport)
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	log.Info().Int("poolSize", size).Msg("aggregator http/2 client pool initialized")
	return pool
}

// Get returns the next pooled client, round-robin.
func (p *HTTPClientPool) Get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return c
}

func defaultAPIKeys() []string {
	return []string{"public-key"}
}

// Client implements chain.QuoteSwapper against the Jupiter Metis swap API.
type Client struct {
	baseURL     string
	slippageBps int
	clientPool  *HTTPClientPool
	apiKeys     []string
	keyIdx      atomic.Uint32

	simMode       bool
	simMultiplier float64
	simMu         sync.RWMutex
}

// NewClient builds an aggregator client reading JUPITER_API_KEYS from the
// environment when keys aren't supplied directly.
func NewClient(baseURL string, slippageBps int, timeout time.Duration, apiKeys []string) *Client {
	if len(apiKeys) == 0 {
		if envKeys := os.Getenv("JUPITER_API_KEYS"); envKeys != "" {
			apiKeys = strings.Split(envKeys, ",")
		} else {
			apiKeys = defaultAPIKeys()
		}
	}
	if baseURL == "" {
		baseURL = MetisSwapURL
	}
	return &Client{
		baseURL:       baseURL,
		slippageBps:   slippageBps,
		clientPool:    NewHTTPClientPool(4, timeout),
		apiKeys:       apiKeys,
		simMultiplier: 1.0,
	}
}

// SetSimulation toggles paper-mode quote mocking; cmd/bot enables it when
// execution_mode is "paper" so no real network call happens outside of "live".
func (c *Client) SetSimulation(enabled bool, multiplier float64) {
	c.simMu.Lock()
	defer c.simMu.Unlock()
	c.simMode = enabled
	c.simMultiplier = multiplier
}

func (c *Client) getAPIKey() string {
	idx := c.keyIdx.Add(1) % uint32(len(c.apiKeys))
	return c.apiKeys[idx]
}

type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []routePlanStep `json:"routePlan"`
}

type routePlanStep struct {
	SwapInfo swapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

type swapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}

type swapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

type priorityLevelWithMaxLamports struct {
	PriorityLevelWithMaxLamports struct {
		PriorityLevel string `json:"priorityLevel"`
		MaxLamports   uint64 `json:"maxLamports"`
		Global        bool   `json:"global,omitempty"`
	} `json:"priorityLevelWithMaxLamports"`
}

// Quote fetches a swap quote, implementing chain.QuoteSwapper.
func (c *Client) Quote(ctx context.Context, req chain.QuoteRequest) (*chain.Quote, error) {
	c.simMu.RLock()
	isSim, mult := c.simMode, c.simMultiplier
	c.simMu.RUnlock()

	if isSim {
		out := uint64(float64(req.AmountBaseUnits) * mult)
		return &chain.Quote{InAmount: req.AmountBaseUnits, OutAmount: out, SlippageBps: req.SlippageBps}, nil
	}

	start := time.Now()
	slip := req.SlippageBps
	if slip == 0 {
		slip = c.slippageBps
	}
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, req.InputMint, req.OutputMint, req.AmountBaseUnits, slip)
	if req.RestrictIntermediate {
		url += "&restrictIntermediateTokens=true"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.getAPIKey())

	resp, err := c.clientPool.Get().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote failed (%d): %s", resp.StatusCode, string(body))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	inAmt, _ := strconv.ParseUint(qr.InAmount, 10, 64)
	outAmt, _ := strconv.ParseUint(qr.OutAmount, 10, 64)
	impact, _ := strconv.ParseFloat(qr.PriceImpactPct, 64)

	log.Debug().Dur("latency", time.Since(start)).Uint64("outAmount", outAmt).Msg("aggregator quote")

	return &chain.Quote{
		InAmount:       inAmt,
		OutAmount:      outAmt,
		PriceImpactPct: impact,
		SlippageBps:    qr.SlippageBps,
		Raw: map[string]any{
			"inputMint": qr.InputMint, "outputMint": qr.OutputMint, "routePlan": qr.RoutePlan,
		},
	}, nil
}

// SwapTransaction builds an unsigned swap transaction for the given quote,
// implementing chain.QuoteSwapper. feeLamports/priorityLevel come from the
// fee governor's decision (spec §4.C), not hardcoded on the client.
func (c *Client) SwapTransaction(ctx context.Context, q *chain.Quote, userPubkey string, feeLamports uint64, priorityLevel string) (string, error) {
	c.simMu.RLock()
	isSim := c.simMode
	c.simMu.RUnlock()

	if isSim {
		return "AQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABAA==", nil
	}

	if priorityLevel == "" {
		priorityLevel = "medium"
	}

	quoteRaw, _ := q.Raw["inputMint"].(string)
	outRaw, _ := q.Raw["outputMint"].(string)
	reqBody := struct {
		QuoteResponse             map[string]any                `json:"quoteResponse"`
		UserPublicKey             string                        `json:"userPublicKey"`
		WrapAndUnwrapSol          bool                          `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool                          `json:"dynamicComputeUnitLimit"`
		SkipUserAccountsRpcCalls  bool                          `json:"skipUserAccountsRpcCalls"`
		PrioritizationFeeLamports *priorityLevelWithMaxLamports `json:"prioritizationFeeLamports"`
	}{
		QuoteResponse: map[string]any{
			"inputMint": quoteRaw, "outputMint": outRaw,
			"inAmount": fmt.Sprintf("%d", q.InAmount), "outAmount": fmt.Sprintf("%d", q.OutAmount),
			"slippageBps": q.SlippageBps, "routePlan": q.Raw["routePlan"],
		},
		UserPublicKey:            userPubkey,
		WrapAndUnwrapSol:         true,
		DynamicComputeUnitLimit:  true,
		SkipUserAccountsRpcCalls: true,
	}
	reqBody.PrioritizationFeeLamports = &priorityLevelWithMaxLamports{}
	reqBody.PrioritizationFeeLamports.PriorityLevelWithMaxLamports.PriorityLevel = priorityLevel
	reqBody.PrioritizationFeeLamports.PriorityLevelWithMaxLamports.MaxLamports = feeLamports

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	start := time.Now()
	url := fmt.Sprintf("%s/swap", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.getAPIKey())

	resp, err := c.clientPool.Get().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("swap http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("swap failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var sr swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode swap response: %w", err)
	}

	log.Info().
		Dur("latency", time.Since(start)).
		Uint64("priorityFee", sr.PrioritizationFeeLamports).
		Msg("aggregator swap tx built")

	return sr.SwapTransaction, nil
}
