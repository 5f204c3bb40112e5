package clearing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voltmesh/auction-engine/internal/model"
)

// Scheduler drives clearing automatically: once the bidding window for
// the next trading date has closed (local time past the cutoff hour), it
// clears all 24 delivery hours of that date. Already-cleared hours are
// skipped via the run record, so the loop is safe to tick repeatedly and
// across restarts.
type Scheduler struct {
	engine     *Engine
	cutoffHour int
	interval   time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewScheduler creates a scheduler that ticks at interval.
func NewScheduler(engine *Engine, cutoffHour int, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:     engine,
		cutoffHour: cutoffHour,
		interval:   interval,
		log:        slog.With("component", "scheduler"),
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("clearing scheduler started",
		"cutoff_hour", s.cutoffHour, "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("clearing scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick clears every uncleared hour of the next trading date if its
// bidding window has closed, and is a no-op otherwise.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	if now.Hour() < s.cutoffHour {
		return
	}

	tradingDate := now.AddDate(0, 0, 1).Format(model.DateLayout)
	for hour := 0; hour < 24; hour++ {
		key := model.SlotKey{TradingDate: tradingDate, HourSlot: hour}
		res, err := s.engine.Clear(ctx, key)
		if err != nil {
			if errors.Is(err, model.ErrAlreadyCleared) {
				continue
			}
			s.log.Error("scheduled clearing failed",
				"trading_date", tradingDate, "hour_slot", hour, "err", err)
			continue
		}
		if res.Empty {
			continue
		}
		s.log.Info("scheduled clearing ran",
			"trading_date", tradingDate, "hour_slot", hour,
			"executed", res.Executed, "rejected", res.Rejected)
	}
}
