// Package signalfeed is the external signal-producer surface spec §6 names
// as chain.SignalProducer. Grounded on the teacher's internal/signal.Handler
// (an HTTP-fed channel ingesting parsed Telegram messages), generalized from
// a parsed-text/channel pipeline into a directly-posted {mint, score,
// regime} payload cached per mint until it ages out.
package signalfeed

import (
	"context"
	"sync"
	"time"

	"github.com/cstahmer1/spotagent/internal/chain"
)

type entry struct {
	signal   chain.Signal
	postedAt time.Time
}

// Feed is an in-memory cache of the most recently posted signal per mint,
// implementing chain.SignalProducer. The zero value is not ready to use;
// construct with NewFeed.
type Feed struct {
	mu      sync.RWMutex
	signals map[chain.Mint]entry
	maxAge  time.Duration
}

// NewFeed builds an empty Feed. Signals older than maxAge are treated as
// absent rather than returned stale, since a signal score (unlike a price)
// has no meaningful degraded reading.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{signals: make(map[chain.Mint]entry), maxAge: maxAge}
}

// Post records the latest signal for mint, overwriting any prior value.
func (f *Feed) Post(mint chain.Mint, sig chain.Signal, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[mint] = entry{signal: sig, postedAt: at}
}

// Signals implements chain.SignalProducer: mints with no signal, or one
// older than maxAge, are simply absent from the returned map.
func (f *Feed) Signals(ctx context.Context, mints []chain.Mint) (map[chain.Mint]chain.Signal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[chain.Mint]chain.Signal, len(mints))
	now := time.Now()
	for _, m := range mints {
		e, ok := f.signals[m]
		if !ok {
			continue
		}
		if f.maxAge > 0 && now.Sub(e.postedAt) > f.maxAge {
			continue
		}
		out[m] = e.signal
	}
	return out, nil
}
