// Package feed defines the market-data contract the engine consumes: a
// reference price for clearing fallback and repricing, a day-ahead hourly
// curve, and a rolling market summary. Implementations are an HTTP client
// for a gridstatus-style API and a simulated feed for development.
package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one reference price observation.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
	Region string          `json:"region"`
}

// HourlyPrice is one hour of a day-ahead price curve.
type HourlyPrice struct {
	Hour  int             `json:"hour"`
	Price decimal.Decimal `json:"price"`
}

// Summary is a 24h market overview for dashboards.
type Summary struct {
	CurrentPrice decimal.Decimal `json:"current_price"`
	Change24h    decimal.Decimal `json:"change_24h"`
	High24h      decimal.Decimal `json:"high_24h"`
	Low24h       decimal.Decimal `json:"low_24h"`
	Average24h   decimal.Decimal `json:"average_24h"`
	LastUpdated  time.Time       `json:"last_updated"`
	Region       string          `json:"region"`
}

// PriceFeed supplies external market data. Calls are bounded-latency:
// implementations time out rather than block indefinitely.
type PriceFeed interface {
	// ReferencePrice returns the latest real-time price for a region.
	ReferencePrice(ctx context.Context, region string) (*Quote, error)

	// DayAheadCurve returns the 24-hour day-ahead price curve for a date.
	DayAheadCurve(ctx context.Context, region, tradingDate string) ([]HourlyPrice, error)

	// MarketSummary returns a 24h overview for a region.
	MarketSummary(ctx context.Context, region string) (*Summary, error)
}
