package clearing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/feed"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/store"
)

// stubFeed returns a fixed reference price, or an error if err is set.
type stubFeed struct {
	price decimal.Decimal
	err   error
}

func (f stubFeed) ReferencePrice(_ context.Context, region string) (*feed.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &feed.Quote{Price: f.price, AsOf: time.Now().UTC(), Region: region}, nil
}

func (f stubFeed) DayAheadCurve(context.Context, string, string) ([]feed.HourlyPrice, error) {
	return nil, nil
}

func (f stubFeed) MarketSummary(context.Context, string) (*feed.Summary, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, pf feed.PriceFeed) (*Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	ex := NewExecutor(ms, events.Nop{}, nil, d(100000))
	return NewEngine(ms, pf, ex, events.Nop{}, "CAISO"), ms
}

func seedBid(t *testing.T, ms *store.MemoryStore, b model.Bid) {
	t.Helper()
	require.NoError(t, ms.CreateBid(context.Background(), &b))
}

var testKey = model.SlotKey{TradingDate: "2026-09-01", HourSlot: 14}

func TestClearSettlesCrossedBooksAtUniformPrice(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()
	t0 := time.Now().UTC()

	seedBid(t, ms, bid("b1", model.SideBuy, 10, 50, t0))
	seedBid(t, ms, bid("b2", model.SideBuy, 5, 48, t0))
	seedBid(t, ms, bid("s1", model.SideSell, 8, 44, t0))
	seedBid(t, ms, bid("s2", model.SideSell, 6, 46, t0))

	res, err := eng.Clear(ctx, testKey)
	require.NoError(t, err)

	assert.True(t, res.ClearingPrice.Equal(d(48)), "expected price 48, got %s", res.ClearingPrice)
	assert.Equal(t, model.PriceSourceCross, res.PriceSource)
	assert.Equal(t, 4, res.Executed)
	assert.Equal(t, 0, res.Rejected)
	assert.True(t, res.BuyVolume.Equal(d(15)))
	assert.True(t, res.SellVolume.Equal(d(14)))

	// Every bid carries the same clearing price.
	for _, id := range []string{"b1", "b2", "s1", "s2"} {
		b, err := ms.GetBid(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.BidExecuted, b.Status, "bid %s", id)
		require.NotNil(t, b.ClearingPrice)
		assert.True(t, b.ClearingPrice.Equal(d(48)))
		assert.True(t, b.ExecutedQuantity.Equal(b.Quantity))
	}

	// Buyer cash decreases by qty x price, seller cash increases.
	buyer, err := ms.GetPortfolio(ctx, "owner-b1")
	require.NoError(t, err)
	assert.True(t, buyer.CashBalance.Equal(d(100000-480)), "buyer cash %s", buyer.CashBalance)

	seller, err := ms.GetPortfolio(ctx, "owner-s1")
	require.NoError(t, err)
	assert.True(t, seller.CashBalance.Equal(d(100000+384)), "seller cash %s", seller.CashBalance)

	// Long position for the buyer, short for the seller.
	longPos, err := ms.ListPositionsByOwner(ctx, "owner-b1", false)
	require.NoError(t, err)
	require.Len(t, longPos, 1)
	assert.True(t, longPos[0].Quantity.Equal(d(10)))
	assert.True(t, longPos[0].EntryPrice.Equal(d(48)))

	shortPos, err := ms.ListPositionsByOwner(ctx, "owner-s1", false)
	require.NoError(t, err)
	require.Len(t, shortPos, 1)
	assert.True(t, shortPos[0].Quantity.Equal(d(-8)))
}

func TestClearRunsAtMostOncePerKey(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()

	seedBid(t, ms, bid("b1", model.SideBuy, 5, 50, time.Now().UTC()))

	_, err := eng.Clear(ctx, testKey)
	require.NoError(t, err)

	_, err = eng.Clear(ctx, testKey)
	assert.ErrorIs(t, err, model.ErrAlreadyCleared)
}

func TestClearEmptyPendingSetLeavesNoRecord(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()

	res, err := eng.Clear(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, res.Empty)

	// No run record means a later submission can still clear.
	seedBid(t, ms, bid("b1", model.SideBuy, 5, 50, time.Now().UTC()))
	res, err = eng.Clear(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.Equal(t, 1, res.Executed)
}

func TestClearFallsBackToReferencePrice(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()

	// Buy-only book: no cross possible.
	seedBid(t, ms, bid("b1", model.SideBuy, 5, 50, time.Now().UTC()))

	res, err := eng.Clear(ctx, testKey)
	require.NoError(t, err)

	assert.Equal(t, model.PriceSourceReference, res.PriceSource)
	assert.True(t, res.ClearingPrice.Equal(d(45)))
	assert.Equal(t, 1, res.Executed)

	pf, err := ms.GetPortfolio(ctx, "owner-b1")
	require.NoError(t, err)
	assert.True(t, pf.CashBalance.Equal(d(100000-225)), "cash %s", pf.CashBalance)
}

func TestClearRejectsBidsOffMarketAtClearingPrice(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()
	t0 := time.Now().UTC()

	seedBid(t, ms, bid("b1", model.SideBuy, 5, 50, t0)) // 50 >= 45: executes
	seedBid(t, ms, bid("b2", model.SideBuy, 5, 42, t0)) // 42 < 45: rejected

	res, err := eng.Clear(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 1, res.Rejected)

	rejected, err := ms.GetBid(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, model.BidRejected, rejected.Status)
	assert.Nil(t, rejected.ClearingPrice)
}

func TestClearFeedFailureAbortsWithoutMutation(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{err: model.ErrPriceUnavailable})
	ctx := context.Background()

	seedBid(t, ms, bid("b1", model.SideBuy, 5, 50, time.Now().UTC()))

	_, err := eng.Clear(ctx, testKey)
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)

	// Nothing mutated: bid still pending, no run record, retry succeeds.
	b, err := ms.GetBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BidPending, b.Status)

	_, err = ms.GetClearingRun(ctx, testKey)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClearValidatesKey(t *testing.T) {
	eng, _ := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()

	_, err := eng.Clear(ctx, model.SlotKey{TradingDate: "not-a-date", HourSlot: 14})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = eng.Clear(ctx, model.SlotKey{TradingDate: "2026-09-01", HourSlot: 24})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestClearRecordsRunForAudit(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()
	t0 := time.Now().UTC()

	seedBid(t, ms, bid("b1", model.SideBuy, 10, 50, t0))
	seedBid(t, ms, bid("s1", model.SideSell, 10, 44, t0))

	_, err := eng.Clear(ctx, testKey)
	require.NoError(t, err)

	run, err := ms.GetClearingRun(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, run.ClearingPrice.Equal(d(47))) // midpoint of 50 and 44
	assert.Equal(t, model.PriceSourceCross, run.PriceSource)
	assert.Equal(t, 2, run.ExecutedBids)
	assert.False(t, run.RanAt.IsZero())
}

func TestSchedulerSkipsBeforeCutoffAndClearsAfter(t *testing.T) {
	eng, ms := newTestEngine(t, stubFeed{price: d(45)})
	ctx := context.Background()

	// The scheduler clock is fixed below, so the next trading date is known.
	b := bid("b1", model.SideBuy, 5, 50, time.Now().UTC())
	b.TradingDate = "2026-08-29"
	seedBid(t, ms, b)

	sched := NewScheduler(eng, 11, time.Minute)

	// Before the cutoff nothing runs.
	sched.now = func() time.Time {
		return time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	}
	sched.Tick(ctx)
	got, err := ms.GetBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BidPending, got.Status)

	// After the cutoff all 24 hours of the next trading date clear.
	sched.now = func() time.Time {
		return time.Date(2026, 8, 28, 11, 30, 0, 0, time.UTC)
	}
	sched.Tick(ctx)
	got, err = ms.GetBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BidExecuted, got.Status)

	// A second tick is harmless: cleared hours are skipped.
	sched.Tick(ctx)
}
