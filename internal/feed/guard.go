package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voltmesh/auction-engine/internal/model"
)

// Guard wraps a PriceFeed with a last-known-price fallback. When the
// underlying feed fails, the most recent good quote is reused as long as it
// is younger than the staleness bound; beyond that the error surfaces as
// model.ErrPriceUnavailable. No price is ever fabricated here.
type Guard struct {
	inner     PriceFeed
	staleness time.Duration

	mu   sync.RWMutex
	last map[string]*Quote // region → last good quote
}

// NewGuard wraps a feed with staleness-bounded fallback.
func NewGuard(inner PriceFeed, staleness time.Duration) *Guard {
	return &Guard{
		inner:     inner,
		staleness: staleness,
		last:      make(map[string]*Quote),
	}
}

func (g *Guard) ReferencePrice(ctx context.Context, region string) (*Quote, error) {
	q, err := g.inner.ReferencePrice(ctx, region)
	if err == nil {
		g.mu.Lock()
		cp := *q
		g.last[region] = &cp
		g.mu.Unlock()
		return q, nil
	}

	g.mu.RLock()
	cached := g.last[region]
	g.mu.RUnlock()

	if cached != nil && time.Since(cached.AsOf) <= g.staleness {
		slog.Warn("price feed failed, reusing last known price",
			"region", region,
			"price", cached.Price.String(),
			"as_of", cached.AsOf,
			"err", err,
		)
		cp := *cached
		return &cp, nil
	}

	return nil, fmt.Errorf("%w: no quote within staleness bound for %s", model.ErrPriceUnavailable, region)
}

func (g *Guard) DayAheadCurve(ctx context.Context, region, tradingDate string) ([]HourlyPrice, error) {
	return g.inner.DayAheadCurve(ctx, region, tradingDate)
}

func (g *Guard) MarketSummary(ctx context.Context, region string) (*Summary, error) {
	return g.inner.MarketSummary(ctx, region)
}
