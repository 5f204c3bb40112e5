// Package repricer marks open positions to the current reference price on
// a fixed interval, keeping unrealized P&L fresh between clearing runs.
package repricer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/feed"
	"github.com/voltmesh/auction-engine/internal/metrics"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/store"
)

// Repricer periodically marks every open position to the reference price.
type Repricer struct {
	store    store.Store
	feed     feed.PriceFeed
	events   events.Publisher
	region   string
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// New creates a repricer for one region.
func New(st store.Store, pf feed.PriceFeed, pub events.Publisher, region string, interval time.Duration) *Repricer {
	return &Repricer{
		store:    st,
		feed:     pf,
		events:   pub,
		region:   region,
		interval: interval,
		log:      slog.With("component", "repricer"),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, repricing on every tick. A failed
// tick (feed down past its staleness window) is logged and skipped; marks
// simply stay one interval staler.
func (r *Repricer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("repricer started", "region", r.region, "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("repricer stopped")
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				r.log.Warn("repricing tick failed", "err", err)
			}
		}
	}
}

// Tick fetches the reference price and reprices all open positions once.
func (r *Repricer) Tick(ctx context.Context) (int, error) {
	quote, err := r.feed.ReferencePrice(ctx, r.region)
	if err != nil {
		metrics.PriceFeedErrors.Inc()
		return 0, fmt.Errorf("reference price: %w", err)
	}
	return r.RepriceAllOpen(ctx, quote.Price)
}

// RepriceAllOpen marks every open position against referencePrice and
// returns how many were updated. Entry prices are never touched; only the
// mark and unrealized P&L move. A position closed mid-sweep is skipped.
func (r *Repricer) RepriceAllOpen(ctx context.Context, referencePrice decimal.Decimal) (int, error) {
	positions, err := r.store.ListOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open positions: %w", err)
	}

	at := r.now()
	updated := 0
	for i := range positions {
		p := &positions[i]
		pnl := model.UnrealizedPnL(p.Quantity, p.EntryPrice, referencePrice).Round(2)

		if err := r.store.MarkPosition(ctx, p.ID, referencePrice, pnl, at); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			r.log.Error("mark position failed", "position_id", p.ID, "err", err)
			continue
		}
		updated++

		if r.events != nil {
			_ = r.events.Publish(ctx, events.Event{
				Type:  events.TypePositionRepriced,
				Key:   p.ID,
				Owner: p.Owner,
				At:    at,
				Payload: map[string]any{
					"position_id":     p.ID,
					"current_price":   referencePrice,
					"unrealized_pnl":  pnl,
					"entry_price":     p.EntryPrice,
					"quantity":        p.Quantity,
				},
			})
		}
	}

	metrics.RepricedPositions.Add(float64(updated))
	metrics.OpenPositions.Set(float64(len(positions)))

	if updated > 0 {
		r.log.Info("positions repriced",
			"count", updated, "reference_price", referencePrice)
	}
	return updated, nil
}
