// Package analytics derives performance and risk metrics from trades,
// positions and portfolios on read. Nothing here is persisted: the stores
// stay the single source of truth and these numbers can never drift from
// them.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/store"
)

// Limits are the configured risk limits the breach flags check against.
type Limits struct {
	MaxPositionSizeMWh  decimal.Decimal
	MaxDailyLoss        decimal.Decimal
	MaxConcentrationPct decimal.Decimal
}

// Service computes derived metrics for one owner at a time.
type Service struct {
	store          store.Store
	limits         Limits
	initialBalance decimal.Decimal
}

// New creates an analytics service. initialBalance is the fixed starting
// cash all return figures are measured against.
func New(st store.Store, limits Limits, initialBalance decimal.Decimal) *Service {
	return &Service{store: st, limits: limits, initialBalance: initialBalance}
}

// Performance is the trade-level performance report.
type Performance struct {
	TotalReturnPct  decimal.Decimal `json:"total_return_pct"`
	AnnualReturnPct decimal.Decimal `json:"annual_return_pct"`
	WinRatePct      decimal.Decimal `json:"win_rate_pct"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
	TotalTrades     int             `json:"total_trades"`
	GrossProfit     decimal.Decimal `json:"gross_profit"`
	GrossLoss       decimal.Decimal `json:"gross_loss"`
	LargestWin      decimal.Decimal `json:"largest_win"`
	LargestLoss     decimal.Decimal `json:"largest_loss"`
	AverageWin      decimal.Decimal `json:"average_win"`
	AverageLoss     decimal.Decimal `json:"average_loss"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
}

// Risk is the open-exposure risk report.
type Risk struct {
	TotalExposure      decimal.Decimal `json:"total_exposure"`
	MaxPositionSizeMWh decimal.Decimal `json:"max_position_size_mwh"`
	MaxPositionValue   decimal.Decimal `json:"max_position_value"`
	ConcentrationPct   decimal.Decimal `json:"concentration_pct"`
	VaR1Pct            decimal.Decimal `json:"var_1_pct"`
	LeverageRatio      decimal.Decimal `json:"leverage_ratio"`
	MarginUtilization  decimal.Decimal `json:"margin_utilization_pct"`
	OpenPositions      int             `json:"open_positions"`
	Limits             LimitStatus     `json:"risk_limit_status"`
}

// LimitStatus flags each configured limit.
type LimitStatus struct {
	PositionSizeOK  bool `json:"position_size_ok"`
	DailyLossOK     bool `json:"daily_loss_ok"`
	ConcentrationOK bool `json:"concentration_ok"`
}

// Breach names one violated limit for event emission.
type Breach struct {
	Limit   string          `json:"limit"`
	Current decimal.Decimal `json:"current"`
	Allowed decimal.Decimal `json:"allowed"`
}

var hundred = decimal.NewFromInt(100)

// Performance aggregates all of an owner's trades.
//
// Profit factor convention: if there are no losing trades the profit
// factor is reported as 0, not infinity; otherwise gross loss is floored
// at 1 before dividing.
func (s *Service) Performance(ctx context.Context, owner string) (*Performance, error) {
	trades, err := s.store.ListTradesByOwner(ctx, owner, 0)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	pf, err := s.store.GetPortfolio(ctx, owner)
	if err != nil {
		return nil, err
	}

	perf := &Performance{
		TotalTrades: len(trades),
		MaxDrawdown: pf.MaxDrawdown,
	}
	if len(trades) == 0 {
		return perf, nil
	}

	var winners, losers int
	var totalPnL decimal.Decimal
	firstTrade := trades[0].ExecutedAt

	for _, t := range trades {
		totalPnL = totalPnL.Add(t.PnL)
		if t.ExecutedAt.Before(firstTrade) {
			firstTrade = t.ExecutedAt
		}
		switch {
		case t.PnL.IsPositive():
			winners++
			perf.GrossProfit = perf.GrossProfit.Add(t.PnL)
			if t.PnL.GreaterThan(perf.LargestWin) {
				perf.LargestWin = t.PnL
			}
		case t.PnL.IsNegative():
			losers++
			perf.GrossLoss = perf.GrossLoss.Add(t.PnL.Abs())
			if t.PnL.LessThan(perf.LargestLoss) {
				perf.LargestLoss = t.PnL
			}
		}
	}

	perf.WinRatePct = decimal.NewFromInt(int64(winners)).
		Div(decimal.NewFromInt(int64(len(trades)))).Mul(hundred).Round(2)

	if losers > 0 {
		divisor := perf.GrossLoss
		if divisor.LessThan(decimal.NewFromInt(1)) {
			divisor = decimal.NewFromInt(1)
		}
		perf.ProfitFactor = perf.GrossProfit.Div(divisor).Round(2)
	}

	if winners > 0 {
		perf.AverageWin = perf.GrossProfit.Div(decimal.NewFromInt(int64(winners))).Round(2)
	}
	if losers > 0 {
		perf.AverageLoss = perf.GrossLoss.Div(decimal.NewFromInt(int64(losers))).Round(2)
	}

	if s.initialBalance.IsPositive() {
		perf.TotalReturnPct = pf.CashBalance.Add(totalPnL).Sub(s.initialBalance).
			Div(s.initialBalance).Mul(hundred).Round(2)

		daysTrading := int64(time.Since(firstTrade).Hours() / 24)
		if daysTrading < 1 {
			daysTrading = 1
		}
		perf.AnnualReturnPct = perf.TotalReturnPct.
			Mul(decimal.NewFromInt(365)).
			Div(decimal.NewFromInt(daysTrading)).Round(2)
	}

	return perf, nil
}

// Risk aggregates an owner's open positions against the configured limits.
func (s *Service) Risk(ctx context.Context, owner string) (*Risk, error) {
	positions, err := s.store.ListPositionsByOwner(ctx, owner, false)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	pf, err := s.store.GetPortfolio(ctx, owner)
	if err != nil {
		return nil, err
	}

	r := &Risk{OpenPositions: len(positions)}

	for _, p := range positions {
		exposure := p.Exposure()
		r.TotalExposure = r.TotalExposure.Add(exposure)
		if exposure.GreaterThan(r.MaxPositionValue) {
			r.MaxPositionValue = exposure
		}
		if qty := p.Quantity.Abs(); qty.GreaterThan(r.MaxPositionSizeMWh) {
			r.MaxPositionSizeMWh = qty
		}
	}

	if r.TotalExposure.IsPositive() {
		r.ConcentrationPct = r.MaxPositionValue.Div(r.TotalExposure).Mul(hundred).Round(2)
	}

	// Simplified VaR: 1% of portfolio cash.
	r.VaR1Pct = pf.CashBalance.Mul(decimal.NewFromFloat(0.01)).Round(2)

	if pf.CashBalance.IsPositive() {
		r.LeverageRatio = r.TotalExposure.Div(pf.CashBalance).Round(2)
		r.MarginUtilization = r.LeverageRatio.Mul(hundred).Round(2)
	}

	r.Limits = LimitStatus{
		PositionSizeOK:  r.MaxPositionSizeMWh.LessThanOrEqual(s.limits.MaxPositionSizeMWh),
		DailyLossOK:     pf.DailyPnL.Abs().LessThanOrEqual(s.limits.MaxDailyLoss),
		ConcentrationOK: r.ConcentrationPct.LessThanOrEqual(s.limits.MaxConcentrationPct),
	}

	return r, nil
}

// Breaches returns the currently violated limits for an owner.
func (s *Service) Breaches(ctx context.Context, owner string) ([]Breach, error) {
	r, err := s.Risk(ctx, owner)
	if err != nil {
		return nil, err
	}

	var breaches []Breach
	if !r.Limits.PositionSizeOK {
		breaches = append(breaches, Breach{
			Limit: "max_position_size", Current: r.MaxPositionSizeMWh, Allowed: s.limits.MaxPositionSizeMWh,
		})
	}
	if !r.Limits.DailyLossOK {
		pf, err := s.store.GetPortfolio(ctx, owner)
		if err != nil {
			return nil, err
		}
		breaches = append(breaches, Breach{
			Limit: "max_daily_loss", Current: pf.DailyPnL.Abs(), Allowed: s.limits.MaxDailyLoss,
		})
	}
	if !r.Limits.ConcentrationOK {
		breaches = append(breaches, Breach{
			Limit: "max_concentration", Current: r.ConcentrationPct, Allowed: s.limits.MaxConcentrationPct,
		})
	}
	return breaches, nil
}
