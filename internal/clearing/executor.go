package clearing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/analytics"
	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/metrics"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/store"
)

// Executor settles individual executions: it turns a pending bid plus a
// clearing price into the atomic bid/position/trade/portfolio mutation,
// and later fixes realized P&L when a position closes.
type Executor struct {
	store        store.Store
	events       events.Publisher
	analytics    *analytics.Service
	startingCash decimal.Decimal
	log          *slog.Logger
}

// NewExecutor creates a settlement executor. analytics may be nil, in
// which case post-settlement risk checks are skipped.
func NewExecutor(st store.Store, pub events.Publisher, an *analytics.Service, startingCash decimal.Decimal) *Executor {
	return &Executor{
		store:        st,
		events:       pub,
		analytics:    an,
		startingCash: startingCash,
		log:          slog.With("component", "executor"),
	}
}

// Execute settles one bid at the clearing price. The bid moves to
// executed, a signed position and a trade are created, and the owner's
// cash moves by quantity × price (out for buys, in for sells) — all in
// one store transaction. Returns model.ErrNotFound if the bid left
// pending before the settlement committed (e.g. a concurrent cancel won).
func (e *Executor) Execute(ctx context.Context, bid *model.Bid, clearingPrice decimal.Decimal, at time.Time) error {
	if _, err := e.store.EnsurePortfolio(ctx, bid.Owner, e.startingCash); err != nil {
		return fmt.Errorf("ensure portfolio: %w", err)
	}

	totalValue := bid.Quantity.Mul(clearingPrice)

	signedQty := bid.Quantity
	cashDelta := totalValue.Neg()
	if bid.Side == model.SideSell {
		signedQty = signedQty.Neg()
		cashDelta = totalValue
	}

	executed := *bid
	executed.Status = model.BidExecuted
	price := clearingPrice
	executed.ClearingPrice = &price
	executed.ExecutedQuantity = bid.Quantity
	executed.UpdatedAt = at

	position := &model.Position{
		ID:          uuid.NewString(),
		Owner:       bid.Owner,
		BidID:       bid.ID,
		Quantity:    signedQty,
		EntryPrice:  clearingPrice,
		TradingDate: bid.TradingDate,
		HourSlot:    bid.HourSlot,
		CreatedAt:   at,
		UpdatedAt:   at,
	}

	trade := &model.Trade{
		ID:          uuid.NewString(),
		Owner:       bid.Owner,
		BidID:       bid.ID,
		Quantity:    bid.Quantity,
		Price:       clearingPrice,
		TotalValue:  totalValue,
		Side:        bid.Side,
		TradingDate: bid.TradingDate,
		HourSlot:    bid.HourSlot,
		ExecutedAt:  at,
	}

	if err := e.store.Settle(ctx, &model.Settlement{
		Bid:       &executed,
		Position:  position,
		Trade:     trade,
		CashDelta: cashDelta,
	}); err != nil {
		return err
	}

	e.log.Info("bid settled",
		"bid_id", bid.ID, "owner", bid.Owner, "side", bid.Side,
		"quantity", bid.Quantity, "price", clearingPrice)

	metrics.BidsTotal.WithLabelValues(string(model.BidExecuted)).Inc()
	metrics.TradesTotal.WithLabelValues(string(bid.Side)).Inc()

	e.publish(ctx, events.TypeBidExecuted, bid.ID, bid.Owner, at, executed)
	e.publish(ctx, events.TypePositionOpened, position.ID, bid.Owner, at, position)
	e.publishPortfolio(ctx, bid.Owner, at)

	e.checkRiskLimits(ctx, bid.Owner, at)
	return nil
}

// Close realizes a position's P&L against the reference price: the
// position closes, its originating trade's pnl is fixed, and cash moves
// by the realized amount — one atomic store mutation.
func (e *Executor) Close(ctx context.Context, positionID, owner string, referencePrice decimal.Decimal, at time.Time) (*model.Position, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Owner != owner || pos.IsClosed {
		return nil, model.ErrNotFound
	}

	pnl := model.UnrealizedPnL(pos.Quantity, pos.EntryPrice, referencePrice).Round(2)

	closed := *pos
	closed.IsClosed = true
	price := referencePrice
	closed.CurrentPrice = &price
	closed.UnrealizedPnL = decimal.Zero
	closed.RealizedPnL = pnl
	closed.UpdatedAt = at

	if err := e.store.ClosePosition(ctx, &model.Closure{
		Position: &closed,
		TradePnL: pnl,
		Winning:  pnl.IsPositive(),
	}); err != nil {
		return nil, err
	}

	e.log.Info("position closed",
		"position_id", positionID, "owner", owner, "realized_pnl", pnl)

	e.publishPortfolio(ctx, owner, at)

	e.checkRiskLimits(ctx, owner, at)
	return &closed, nil
}

// checkRiskLimits runs post-mutation limit checks. Breaches are reported,
// never enforced: settled state stays settled.
func (e *Executor) checkRiskLimits(ctx context.Context, owner string, at time.Time) {
	if e.analytics == nil {
		return
	}
	breaches, err := e.analytics.Breaches(ctx, owner)
	if err != nil {
		e.log.Warn("risk check failed", "owner", owner, "err", err)
		return
	}
	for _, b := range breaches {
		e.log.Warn("risk limit breached",
			"owner", owner, "limit", b.Limit, "current", b.Current, "allowed", b.Allowed)
		metrics.RiskBreaches.WithLabelValues(b.Limit).Inc()
		e.publish(ctx, events.TypeRiskLimitBreached, owner, owner, at, b)
	}
}

// publishPortfolio re-reads the portfolio after the store applied its
// deltas so the event carries the committed balances.
func (e *Executor) publishPortfolio(ctx context.Context, owner string, at time.Time) {
	pf, err := e.store.GetPortfolio(ctx, owner)
	if err != nil {
		e.log.Warn("portfolio read for event failed", "owner", owner, "err", err)
		return
	}
	e.publish(ctx, events.TypePortfolioUpdated, owner, owner, at, pf)
}

func (e *Executor) publish(ctx context.Context, typ, key, owner string, at time.Time, payload any) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(ctx, events.Event{Type: typ, Key: key, Owner: owner, At: at, Payload: payload})
}
