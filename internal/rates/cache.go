package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"payrecon/internal/metrics"
)

// Direction selects which way Convert goes.
type Direction int

const (
	VNDToToken Direction = iota
	TokenToVND
)

// Seed rates used until the first successful fetch, so checkout works even if
// the quote API is down at startup.
var seedRates = map[string]float64{
	"ETH":  75_000_000,
	"USDT": 25_500,
	"USDC": 25_500,
	"BNB":  15_000_000,
}

// NewSeedSource returns a static source backed by the seed rates, for
// deployments without an external quote endpoint.
func NewSeedSource() *StaticSource {
	return NewStaticSource(seedRates)
}

// Snapshot is an immutable view of VND-per-unit rates. It is replaced
// wholesale on each refresh; readers never observe a partial update.
type Snapshot struct {
	Rates     map[string]float64
	FetchedAt time.Time
}

// Cache holds the current rate snapshot and refreshes it on a timer. Refresh
// failures keep the previous snapshot in effect.
type Cache struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// NewCache creates a cache seeded with default rates.
func NewCache(source Source, interval time.Duration, logger *zap.Logger) *Cache {
	seed := make(map[string]float64, len(seedRates))
	for symbol, rate := range seedRates {
		seed[symbol] = rate
	}

	return &Cache{
		source:   source,
		interval: interval,
		logger:   logger,
		snap: Snapshot{
			Rates:     seed,
			FetchedAt: time.Now(),
		},
	}
}

// Start refreshes rates on a fixed interval until ctx is cancelled. Failures
// are logged and counted, never propagated to readers.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Replace the seed snapshot as soon as possible.
	if err := c.ForceRefresh(ctx); err != nil {
		c.logger.Warn("Initial rate refresh failed, keeping seed rates", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ForceRefresh(ctx); err != nil {
				metrics.RateRefreshFailures.Inc()
				c.logger.Error("Scheduled rate refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

// ForceRefresh fetches fresh rates and atomically replaces the snapshot. Also
// the manual entry point for administrative use.
func (c *Cache) ForceRefresh(ctx context.Context) error {
	fetched, err := c.source.FetchRates(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch rates: %w", err)
	}

	snap := Snapshot{
		Rates:     fetched,
		FetchedAt: time.Now(),
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Info("Refreshed exchange rates",
		zap.Int("tokens", len(fetched)),
		zap.Time("fetched_at", snap.FetchedAt))
	return nil
}

// Rates returns a copy of the current snapshot. Never blocks, never fails.
func (c *Cache) Rates() Snapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	copied := make(map[string]float64, len(snap.Rates))
	for symbol, rate := range snap.Rates {
		copied[symbol] = rate
	}
	return Snapshot{Rates: copied, FetchedAt: snap.FetchedAt}
}

// Rate returns the VND-per-unit rate for a token symbol. Unknown symbols are
// an error: defaulting silently would mask registry misconfiguration.
func (c *Cache) Rate(symbol string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rate, exists := c.snap.Rates[symbol]
	if !exists {
		return 0, fmt.Errorf("no exchange rate for token %s", symbol)
	}
	return rate, nil
}

// Convert converts between VND and whole token units using the current
// snapshot. The rate used for the conversion is returned alongside the result
// so callers report a consistent pair even across a concurrent refresh.
func (c *Cache) Convert(amount float64, symbol string, direction Direction) (float64, float64, error) {
	rate, err := c.Rate(symbol)
	if err != nil {
		return 0, 0, err
	}

	switch direction {
	case VNDToToken:
		return amount / rate, rate, nil
	case TokenToVND:
		return amount * rate, rate, nil
	default:
		return 0, 0, fmt.Errorf("unknown conversion direction %d", direction)
	}
}
