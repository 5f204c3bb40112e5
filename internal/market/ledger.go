// Package market implements the bid ledger: admission control and the
// user-facing bid lifecycle (submit, amend, cancel) for the day-ahead
// auction. Execution and rejection are the clearing engine's job; the
// ledger only ever moves bids between pending and cancelled.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/metrics"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/store"
)

// Ledger owns bid admission and lifecycle. Operations on a single bid are
// serialized per bid ID; operations on different bids run in parallel.
type Ledger struct {
	store          store.Store
	events         events.Publisher
	cutoffHour     int
	maxBidsPerHour int
	locks          *keyedMutex
	now            func() time.Time
}

// NewLedger creates a bid ledger. cutoffHour is the local hour of day after
// which day-ahead bids are no longer accepted; maxBidsPerHour is the
// pending-bid quota per (owner, trading date, hour slot).
func NewLedger(st store.Store, pub events.Publisher, cutoffHour, maxBidsPerHour int) *Ledger {
	return &Ledger{
		store:          st,
		events:         pub,
		cutoffHour:     cutoffHour,
		maxBidsPerHour: maxBidsPerHour,
		locks:          newKeyedMutex(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the ledger's time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// SubmitRequest is the input for a new bid.
type SubmitRequest struct {
	Side        model.Side      `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	HourSlot    int             `json:"hour_slot"`
	TradingDate string          `json:"trading_date"`
}

// AmendRequest patches a pending bid. Nil fields are left unchanged.
type AmendRequest struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// Validation is the result of a dry-run admission check.
type Validation struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// Submit admits a new bid. Rejects after the day-ahead cutoff, on invalid
// quantity/price/slot/date, and when the owner's pending-bid quota for the
// (trading_date, hour_slot) key is exhausted. Submission is not
// deduplicated: the same content twice yields two distinct bids.
func (l *Ledger) Submit(ctx context.Context, owner string, req SubmitRequest) (*model.Bid, error) {
	if err := l.validate(req); err != nil {
		return nil, err
	}

	now := l.now()
	if now.Hour() >= l.cutoffHour {
		return nil, fmt.Errorf("%w: day-ahead bids close at %02d:00", model.ErrWindowClosed, l.cutoffHour)
	}

	key := model.SlotKey{TradingDate: req.TradingDate, HourSlot: req.HourSlot}
	pending, err := l.store.CountPendingBids(ctx, owner, key)
	if err != nil {
		return nil, fmt.Errorf("count pending bids: %w", err)
	}
	if pending >= l.maxBidsPerHour {
		return nil, fmt.Errorf("%w: at most %d pending bids per hour slot", model.ErrQuotaExceeded, l.maxBidsPerHour)
	}

	bid := &model.Bid{
		ID:          uuid.New().String(),
		Owner:       owner,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       req.Price,
		HourSlot:    req.HourSlot,
		TradingDate: req.TradingDate,
		Status:      model.BidPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := l.store.CreateBid(ctx, bid); err != nil {
		return nil, fmt.Errorf("create bid: %w", err)
	}

	slog.Info("bid submitted",
		"bid_id", bid.ID,
		"owner", owner,
		"side", bid.Side,
		"qty", bid.Quantity.String(),
		"price", bid.Price.String(),
		"date", bid.TradingDate,
		"hour", bid.HourSlot,
	)
	metrics.BidsTotal.WithLabelValues(string(model.BidPending)).Inc()
	l.events.Publish(ctx, events.Event{
		Type: events.TypeBidSubmitted, Key: bid.ID, Owner: owner, At: now, Payload: bid,
	})

	return bid, nil
}

// Amend changes quantity and/or price of a pending bid before the cutoff.
func (l *Ledger) Amend(ctx context.Context, bidID, owner string, patch AmendRequest) (*model.Bid, error) {
	l.locks.Lock(bidID)
	defer l.locks.Unlock(bidID)

	bid, err := l.ownedPending(ctx, bidID, owner)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if now.Hour() >= l.cutoffHour {
		return nil, fmt.Errorf("%w: cannot amend after %02d:00 cutoff", model.ErrWindowClosed, l.cutoffHour)
	}

	if patch.Quantity != nil {
		if !patch.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
		}
		bid.Quantity = *patch.Quantity
	}
	if patch.Price != nil {
		if !patch.Price.IsPositive() {
			return nil, fmt.Errorf("%w: price must be positive", model.ErrValidation)
		}
		bid.Price = *patch.Price
	}
	bid.UpdatedAt = now

	if err := l.store.UpdateBidPending(ctx, bid); err != nil {
		return nil, err
	}

	slog.Info("bid amended", "bid_id", bid.ID, "owner", owner,
		"qty", bid.Quantity.String(), "price", bid.Price.String())
	return bid, nil
}

// Cancel moves a pending bid to cancelled. Deliberately not
// cutoff-restricted: owners may withdraw liquidity at any time before
// clearing. Cancelling an already-cancelled bid returns ErrNotFound with
// no second side effect.
func (l *Ledger) Cancel(ctx context.Context, bidID, owner string) (*model.Bid, error) {
	l.locks.Lock(bidID)
	defer l.locks.Unlock(bidID)

	bid, err := l.ownedPending(ctx, bidID, owner)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if err := l.store.TransitionBid(ctx, bidID, model.BidPending, model.BidCancelled, now); err != nil {
		return nil, err
	}
	bid.Status = model.BidCancelled
	bid.UpdatedAt = now

	slog.Info("bid cancelled", "bid_id", bid.ID, "owner", owner)
	metrics.BidsTotal.WithLabelValues(string(model.BidCancelled)).Inc()
	l.events.Publish(ctx, events.Event{
		Type: events.TypeBidCancelled, Key: bid.ID, Owner: owner, At: now, Payload: bid,
	})

	return bid, nil
}

// Validate runs the admission checks without creating anything.
func (l *Ledger) Validate(ctx context.Context, owner string, req SubmitRequest) (*Validation, error) {
	v := &Validation{Valid: true}
	add := func(reason string) {
		v.Valid = false
		v.Reasons = append(v.Reasons, reason)
	}

	if err := l.validate(req); err != nil {
		add(err.Error())
	}
	if l.now().Hour() >= l.cutoffHour {
		add(fmt.Sprintf("day-ahead bids close at %02d:00", l.cutoffHour))
	}

	if req.TradingDate != "" && req.HourSlot >= 0 && req.HourSlot <= 23 {
		key := model.SlotKey{TradingDate: req.TradingDate, HourSlot: req.HourSlot}
		pending, err := l.store.CountPendingBids(ctx, owner, key)
		if err != nil {
			return nil, fmt.Errorf("count pending bids: %w", err)
		}
		if pending >= l.maxBidsPerHour {
			add(fmt.Sprintf("at most %d pending bids per hour slot", l.maxBidsPerHour))
		}
	}

	return v, nil
}

func (l *Ledger) validate(req SubmitRequest) error {
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", model.ErrValidation)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", model.ErrValidation)
	}
	if req.HourSlot < 0 || req.HourSlot > 23 {
		return fmt.Errorf("%w: hour_slot must be in [0,23]", model.ErrValidation)
	}
	if _, err := time.Parse(model.DateLayout, req.TradingDate); err != nil {
		return fmt.Errorf("%w: trading_date must be YYYY-MM-DD", model.ErrValidation)
	}
	return nil
}

// ownedPending loads a bid and checks ownership and pending status.
// Both failure modes collapse to ErrNotFound so callers cannot probe for
// other owners' bids.
func (l *Ledger) ownedPending(ctx context.Context, bidID, owner string) (*model.Bid, error) {
	bid, err := l.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Owner != owner || bid.Status != model.BidPending {
		return nil, fmt.Errorf("bid %s not pending for caller: %w", bidID, model.ErrNotFound)
	}
	return bid, nil
}
