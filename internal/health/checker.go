// Package health is a periodic dependency checker, grounded on the
// teacher's internal/health.Checker, repointed from RPC+Telegram-listener
// probes onto RPC+operator-API probes (spec §6 external surfaces).
package health

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status struct {
	Name    string
	Healthy bool
	Latency time.Duration
	Error   string
}

// Checker periodically checks the availability of the chain RPC endpoint
// and the operator HTTP surface (internal/signalsrv).
type Checker struct {
	mu          sync.RWMutex
	statuses    []Status
	rpcURL      string
	operatorURL string
}

// NewChecker creates a new health checker.
func NewChecker(rpcURL, operatorURL string) *Checker {
	return &Checker{
		rpcURL:      rpcURL,
		operatorURL: operatorURL,
	}
}

// Start begins periodic health checks in a background goroutine that runs
// until ctx is cancelled; Start itself returns without waiting for it.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check()
			}
		}
	}()

	c.check()
}

func (c *Checker) check() {
	statuses := []Status{c.checkRPC(), c.checkOperatorAPI()}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

func (c *Checker) checkRPC() Status {
	start := time.Now()

	client := &http.Client{Timeout: 5 * time.Second}
	req, _ := http.NewRequest("POST", c.rpcURL, nil)
	req.Header.Set("Content-Type", "application/json")

	_, err := client.Do(req)
	latency := time.Since(start)

	status := Status{
		Name:    "RPC",
		Latency: latency,
		Healthy: err == nil,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

func (c *Checker) checkOperatorAPI() Status {
	start := time.Now()

	client := &http.Client{Timeout: 5 * time.Second}
	_, err := client.Get(c.operatorURL + "/health")
	latency := time.Since(start)

	status := Status{
		Name:    "OperatorAPI",
		Latency: latency,
		Healthy: err == nil,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// GetStatuses returns the most recent health statuses.
func (c *Checker) GetStatuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses
}
