package analytics_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/auction-engine/internal/analytics"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testLimits() analytics.Limits {
	return analytics.Limits{
		MaxPositionSizeMWh:  d(1000),
		MaxDailyLoss:        d(50000),
		MaxConcentrationPct: d(25),
	}
}

func newService(ms *store.MemoryStore) *analytics.Service {
	return analytics.New(ms, testLimits(), d(100000))
}

var seq int

// seedTrade settles one synthetic executed bid so a trade with the given
// pnl and an open position of the given quantity/entry exist.
func seedTrade(t *testing.T, ms *store.MemoryStore, owner string, qty, entry, pnl float64) string {
	t.Helper()
	seq++
	id := fmt.Sprintf("t%d", seq)
	now := time.Now().UTC()
	ctx := context.Background()

	require.NoError(t, ms.CreateBid(ctx, &model.Bid{
		ID: "bid-" + id, Owner: owner, Side: model.SideBuy,
		Quantity: d(qty).Abs(), Price: d(entry), Status: model.BidPending,
		TradingDate: "2026-08-29", HourSlot: 14, CreatedAt: now, UpdatedAt: now,
	}))

	_, err := ms.EnsurePortfolio(ctx, owner, d(100000))
	require.NoError(t, err)

	require.NoError(t, ms.Settle(ctx, &model.Settlement{
		Bid: &model.Bid{
			ID: "bid-" + id, Owner: owner, Status: model.BidExecuted,
			TradingDate: "2026-08-29", HourSlot: 14, CreatedAt: now, UpdatedAt: now,
		},
		Position: &model.Position{
			ID: "pos-" + id, Owner: owner, BidID: "bid-" + id,
			Quantity: d(qty), EntryPrice: d(entry),
			TradingDate: "2026-08-29", HourSlot: 14, CreatedAt: now, UpdatedAt: now,
		},
		Trade: &model.Trade{
			ID: "trade-" + id, Owner: owner, BidID: "bid-" + id,
			Quantity: d(qty).Abs(), Price: d(entry), PnL: d(pnl), ExecutedAt: now,
		},
	}))
	return "pos-" + id
}

func TestPerformanceEmptyAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := ms.EnsurePortfolio(context.Background(), "trader1", d(100000))
	require.NoError(t, err)

	perf, err := newService(ms).Performance(context.Background(), "trader1")
	require.NoError(t, err)

	assert.Equal(t, 0, perf.TotalTrades)
	assert.True(t, perf.WinRatePct.IsZero())
	assert.True(t, perf.ProfitFactor.IsZero())
}

func TestPerformanceProfitFactorZeroWithoutLosers(t *testing.T) {
	ms := store.NewMemoryStore()
	seedTrade(t, ms, "trader1", 10, 40, 100)
	seedTrade(t, ms, "trader1", 10, 40, 50)

	perf, err := newService(ms).Performance(context.Background(), "trader1")
	require.NoError(t, err)

	// No losing trades: 0 by convention, not infinity.
	assert.True(t, perf.ProfitFactor.IsZero())
	assert.True(t, perf.WinRatePct.Equal(d(100)))
	assert.True(t, perf.GrossProfit.Equal(d(150)))
}

func TestPerformanceGrossLossFloor(t *testing.T) {
	ms := store.NewMemoryStore()
	seedTrade(t, ms, "trader1", 10, 40, 100)
	seedTrade(t, ms, "trader1", 10, 40, -0.5)

	perf, err := newService(ms).Performance(context.Background(), "trader1")
	require.NoError(t, err)

	// Gross loss 0.5 is floored at 1: profit factor 100, not 200.
	assert.True(t, perf.ProfitFactor.Equal(d(100)), "got %s", perf.ProfitFactor)
}

func TestPerformanceAggregates(t *testing.T) {
	ms := store.NewMemoryStore()
	seedTrade(t, ms, "trader1", 10, 40, 100)
	seedTrade(t, ms, "trader1", 10, 40, 60)
	seedTrade(t, ms, "trader1", 10, 40, -40)
	seedTrade(t, ms, "trader1", 10, 40, 0)

	perf, err := newService(ms).Performance(context.Background(), "trader1")
	require.NoError(t, err)

	assert.Equal(t, 4, perf.TotalTrades)
	assert.True(t, perf.WinRatePct.Equal(d(50)), "2 of 4 winners, got %s", perf.WinRatePct)
	assert.True(t, perf.GrossProfit.Equal(d(160)))
	assert.True(t, perf.GrossLoss.Equal(d(40)))
	assert.True(t, perf.ProfitFactor.Equal(d(4)), "160/40, got %s", perf.ProfitFactor)
	assert.True(t, perf.LargestWin.Equal(d(100)))
	assert.True(t, perf.LargestLoss.Equal(d(-40)))
	assert.True(t, perf.AverageWin.Equal(d(80)))
	assert.True(t, perf.AverageLoss.Equal(d(40)))
}

func TestRiskExposureAndConcentration(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(t, ms, "trader1", 10, 40, 0)  // exposure 400
	seedTrade(t, ms, "trader1", -15, 40, 0) // exposure 600

	risk, err := newService(ms).Risk(ctx, "trader1")
	require.NoError(t, err)

	assert.Equal(t, 2, risk.OpenPositions)
	assert.True(t, risk.TotalExposure.Equal(d(1000)), "got %s", risk.TotalExposure)
	assert.True(t, risk.MaxPositionValue.Equal(d(600)))
	assert.True(t, risk.MaxPositionSizeMWh.Equal(d(15)))
	assert.True(t, risk.ConcentrationPct.Equal(d(60)), "600/1000, got %s", risk.ConcentrationPct)

	// 15 MWh is inside the 1000 MWh limit; 60% concentration breaches 25%.
	assert.True(t, risk.Limits.PositionSizeOK)
	assert.True(t, risk.Limits.DailyLossOK)
	assert.False(t, risk.Limits.ConcentrationOK)
}

func TestRiskUsesMarkPriceWhenSet(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	id := seedTrade(t, ms, "trader1", 10, 40, 0)
	require.NoError(t, ms.MarkPosition(ctx, id, d(50), d(100), time.Now().UTC()))

	risk, err := newService(ms).Risk(ctx, "trader1")
	require.NoError(t, err)
	assert.True(t, risk.TotalExposure.Equal(d(500)), "10 x mark 50, got %s", risk.TotalExposure)
}

func TestBreachesNamesViolatedLimits(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// 1200 MWh long breaches the 1000 MWh position-size limit.
	seedTrade(t, ms, "trader1", 1200, 40, 0)

	breaches, err := newService(ms).Breaches(ctx, "trader1")
	require.NoError(t, err)
	require.NotEmpty(t, breaches)

	found := false
	for _, b := range breaches {
		if b.Limit == "max_position_size" {
			found = true
			assert.True(t, b.Current.Equal(d(1200)))
			assert.True(t, b.Allowed.Equal(d(1000)))
		}
	}
	assert.True(t, found, "expected max_position_size breach, got %+v", breaches)
}
