// Package clearing implements uniform-price auction clearing: the crossing
// algorithm, the engine that applies it to a pending set exactly once per
// (trading_date, hour_slot) key, the settlement executor, and the scheduler
// that triggers runs after the bidding window closes.
package clearing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/feed"
	"github.com/voltmesh/auction-engine/internal/metrics"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/store"
)

// Engine clears one delivery hour at a time. A run is at-most-once per
// key: the engine serializes runs behind a mutex and records a ClearingRun
// row whose presence blocks any later attempt on the same key.
type Engine struct {
	store    store.Store
	feed     feed.PriceFeed
	executor *Executor
	events   events.Publisher
	region   string
	log      *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewEngine creates a clearing engine reading reference prices for region.
func NewEngine(st store.Store, pf feed.PriceFeed, ex *Executor, pub events.Publisher, region string) *Engine {
	return &Engine{
		store:    st,
		feed:     pf,
		executor: ex,
		events:   pub,
		region:   region,
		log:      slog.With("component", "clearing"),
		now:      time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Clear runs the auction for one key. Returns model.ErrAlreadyCleared if
// the key has a run record, and model.ErrPriceUnavailable (with no state
// mutated) when a reference-price fallback is needed but the feed fails.
// An empty pending set is a no-op: no run record is written, so bids
// submitted later can still clear.
func (e *Engine) Clear(ctx context.Context, key model.SlotKey) (*model.ClearingResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.store.GetClearingRun(ctx, key); err == nil {
		return nil, fmt.Errorf("%s hour %d: %w", key.TradingDate, key.HourSlot, model.ErrAlreadyCleared)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("check clearing run: %w", err)
	}

	pending, err := e.store.ListPendingBids(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list pending bids: %w", err)
	}
	if len(pending) == 0 {
		return &model.ClearingResult{
			TradingDate: key.TradingDate,
			HourSlot:    key.HourSlot,
			Empty:       true,
		}, nil
	}

	started := e.now()
	buys, sells := partition(pending)

	price, crossed := findCross(buys, sells)
	source := model.PriceSourceCross
	if !crossed {
		quote, err := e.feed.ReferencePrice(ctx, e.region)
		if err != nil {
			metrics.PriceFeedErrors.Inc()
			return nil, fmt.Errorf("reference price for %s hour %d: %w",
				key.TradingDate, key.HourSlot, err)
		}
		price = quote.Price.Round(2)
		source = model.PriceSourceReference
	}

	result := &model.ClearingResult{
		TradingDate:   key.TradingDate,
		HourSlot:      key.HourSlot,
		ClearingPrice: price,
		PriceSource:   source,
	}

	at := e.now()
	for i := range pending {
		bid := &pending[i]
		if clears(bid, price) {
			if err := e.executor.Execute(ctx, bid, price, at); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					// Cancelled between listing and settlement; skip.
					continue
				}
				e.log.Error("settlement failed, rejecting bid",
					"bid_id", bid.ID, "err", err)
				e.reject(ctx, bid, at)
				result.Rejected++
				continue
			}
			result.Executed++
			if bid.Side == model.SideBuy {
				result.BuyVolume = result.BuyVolume.Add(bid.Quantity)
			} else {
				result.SellVolume = result.SellVolume.Add(bid.Quantity)
			}
			continue
		}

		e.reject(ctx, bid, at)
		result.Rejected++
	}

	run := &model.ClearingRun{
		TradingDate:   key.TradingDate,
		HourSlot:      key.HourSlot,
		ClearingPrice: price,
		PriceSource:   source,
		ExecutedBids:  result.Executed,
		RejectedBids:  result.Rejected,
		BuyVolume:     result.BuyVolume,
		SellVolume:    result.SellVolume,
		RanAt:         at,
	}
	if err := e.store.RecordClearingRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record clearing run: %w", err)
	}

	e.log.Info("clearing completed",
		"trading_date", key.TradingDate, "hour_slot", key.HourSlot,
		"price", price, "source", source,
		"executed", result.Executed, "rejected", result.Rejected)

	metrics.ClearingRunsTotal.WithLabelValues(string(source)).Inc()
	metrics.ClearingDuration.Observe(e.now().Sub(started).Seconds())
	metrics.ClearedVolume.WithLabelValues(string(model.SideBuy)).Add(toFloat(result.BuyVolume))
	metrics.ClearedVolume.WithLabelValues(string(model.SideSell)).Add(toFloat(result.SellVolume))

	if e.events != nil {
		_ = e.events.Publish(ctx, events.Event{
			Type:    events.TypeClearingCompleted,
			Key:     fmt.Sprintf("%s:%d", key.TradingDate, key.HourSlot),
			At:      at,
			Payload: result,
		})
	}

	return result, nil
}

// reject moves a bid to rejected. A lost race with cancellation is fine:
// the bid already reached a terminal state.
func (e *Engine) reject(ctx context.Context, bid *model.Bid, at time.Time) {
	err := e.store.TransitionBid(ctx, bid.ID, model.BidPending, model.BidRejected, at)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			e.log.Error("reject transition failed", "bid_id", bid.ID, "err", err)
		}
		return
	}
	metrics.BidsTotal.WithLabelValues(string(model.BidRejected)).Inc()
	if e.events != nil {
		_ = e.events.Publish(ctx, events.Event{
			Type:  events.TypeBidRejected,
			Key:   bid.ID,
			Owner: bid.Owner,
			At:    at,
			Payload: map[string]any{
				"bid_id": bid.ID,
				"reason": "limit price off market at clearing",
			},
		})
	}
}

func validateKey(key model.SlotKey) error {
	if _, err := time.Parse(model.DateLayout, key.TradingDate); err != nil {
		return fmt.Errorf("%w: trading_date must be YYYY-MM-DD", model.ErrValidation)
	}
	if key.HourSlot < 0 || key.HourSlot > 23 {
		return fmt.Errorf("%w: hour_slot must be 0-23", model.ErrValidation)
	}
	return nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
