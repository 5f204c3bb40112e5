package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Simulated produces plausible electricity prices without an external
// provider: a base price shaped by peak/off-peak multipliers plus bounded
// noise. Prices follow the familiar duck-curve pattern — cheap overnight,
// expensive in the evening peak.
type Simulated struct {
	basePrice float64
	region    string

	mu      sync.Mutex
	rng     *rand.Rand
	history []Quote // rolling 24h window for summaries
}

// NewSimulated creates a simulated feed. seed fixes the noise sequence so
// tests can be deterministic.
func NewSimulated(region string, seed int64) *Simulated {
	return &Simulated{
		basePrice: 40.0,
		region:    region,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// hourMultiplier shapes the daily price curve: off-peak nights, elevated
// day hours, and a 17:00–21:00 evening peak.
func hourMultiplier(hour int) float64 {
	switch {
	case hour >= 17 && hour <= 21:
		return 1.4 + float64(hour-17)*0.1
	case hour >= 6 && hour <= 22:
		return 1.1
	default:
		return 0.8
	}
}

func (s *Simulated) ReferencePrice(_ context.Context, region string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	price := s.basePrice*hourMultiplier(now.Hour()) + s.rng.Float64()*4 - 2

	q := Quote{
		Price:  decimal.NewFromFloat(price).Round(2),
		AsOf:   now,
		Region: region,
	}

	s.history = append(s.history, q)
	cutoff := now.Add(-24 * time.Hour)
	for len(s.history) > 0 && s.history[0].AsOf.Before(cutoff) {
		s.history = s.history[1:]
	}

	return &q, nil
}

func (s *Simulated) DayAheadCurve(_ context.Context, _ string, _ string) ([]HourlyPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	curve := make([]HourlyPrice, 24)
	for hour := 0; hour < 24; hour++ {
		price := s.basePrice*hourMultiplier(hour) + s.rng.Float64()*6 - 3
		curve[hour] = HourlyPrice{
			Hour:  hour,
			Price: decimal.NewFromFloat(price).Round(2),
		}
	}
	return curve, nil
}

func (s *Simulated) MarketSummary(ctx context.Context, region string) (*Summary, error) {
	current, err := s.ReferencePrice(ctx, region)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &Summary{
		CurrentPrice: current.Price,
		High24h:      current.Price,
		Low24h:       current.Price,
		Average24h:   current.Price,
		LastUpdated:  current.AsOf,
		Region:       region,
	}
	if len(s.history) == 0 {
		return summary, nil
	}

	total := decimal.Zero
	for _, q := range s.history {
		total = total.Add(q.Price)
		if q.Price.GreaterThan(summary.High24h) {
			summary.High24h = q.Price
		}
		if q.Price.LessThan(summary.Low24h) {
			summary.Low24h = q.Price
		}
	}
	summary.Average24h = total.Div(decimal.NewFromInt(int64(len(s.history)))).Round(2)
	summary.Change24h = current.Price.Sub(s.history[0].Price).Round(2)
	return summary, nil
}
