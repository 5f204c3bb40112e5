// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/model"
)

// Store is the persistence interface. Status-guarded updates return
// model.ErrNotFound when the guard fails, which is how races between
// cancellation and clearing are resolved: whichever status transition
// commits first wins and the loser observes ErrNotFound.
type Store interface {
	// --- Bids ---

	// CreateBid persists a new bid.
	CreateBid(ctx context.Context, b *model.Bid) error

	// GetBid retrieves a bid by ID.
	GetBid(ctx context.Context, id string) (*model.Bid, error)

	// UpdateBidPending persists new quantity/price for a bid that is still
	// pending. Fails with model.ErrNotFound once the bid left pending.
	UpdateBidPending(ctx context.Context, b *model.Bid) error

	// TransitionBid moves a bid from one status to another, guarded on the
	// current status.
	TransitionBid(ctx context.Context, id string, from, to model.BidStatus, at time.Time) error

	// ListBidsByOwner returns an owner's bids, newest first. Empty status
	// means all statuses.
	ListBidsByOwner(ctx context.Context, owner string, status model.BidStatus) ([]model.Bid, error)

	// ListPendingBids returns the pending set for one clearing key.
	ListPendingBids(ctx context.Context, key model.SlotKey) ([]model.Bid, error)

	// CountPendingBids counts an owner's pending bids for one clearing key.
	CountPendingBids(ctx context.Context, owner string, key model.SlotKey) (int, error)

	// --- Clearing runs ---

	// GetClearingRun returns the run record for a key, or model.ErrNotFound.
	GetClearingRun(ctx context.Context, key model.SlotKey) (*model.ClearingRun, error)

	// RecordClearingRun persists the run record for a cleared key.
	RecordClearingRun(ctx context.Context, run *model.ClearingRun) error

	// Settle applies the four-way settlement mutation (bid, position,
	// trade, portfolio) as one atomic unit. The bid update is guarded on
	// status=pending; if the guard fails nothing is applied and
	// model.ErrNotFound is returned. The portfolio mutation is a delta
	// (cash += CashDelta, total_trades += 1) applied inside the operation,
	// so concurrent settlements for one owner serialize on the row rather
	// than overwriting each other. The owner's portfolio must already
	// exist (EnsurePortfolio).
	Settle(ctx context.Context, s *model.Settlement) error

	// --- Positions ---

	// GetPosition retrieves a position by ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListOpenPositions returns every open position across all owners.
	ListOpenPositions(ctx context.Context) ([]model.Position, error)

	// ListPositionsByOwner returns an owner's positions, newest first.
	ListPositionsByOwner(ctx context.Context, owner string, includeClosed bool) ([]model.Position, error)

	// MarkPosition sets current price and unrealized P&L on an open
	// position. Guarded on is_closed=false.
	MarkPosition(ctx context.Context, id string, price, pnl decimal.Decimal, at time.Time) error

	// ClosePosition applies the terminal close mutation (position, trade
	// pnl, portfolio) as one atomic unit. Guarded on is_closed=false.
	// The portfolio mutation is a delta: TradePnL is added to cash,
	// realized and daily P&L, and winning_trades increments when Winning
	// is set.
	ClosePosition(ctx context.Context, c *model.Closure) error

	// --- Trades ---

	// ListTradesByOwner returns an owner's trades, newest first.
	// limit <= 0 means no limit.
	ListTradesByOwner(ctx context.Context, owner string, limit int) ([]model.Trade, error)

	// --- Portfolios ---

	// GetPortfolio retrieves an owner's portfolio, or model.ErrNotFound.
	GetPortfolio(ctx context.Context, owner string) (*model.Portfolio, error)

	// EnsurePortfolio returns the owner's portfolio, creating it with the
	// given starting cash balance on first access.
	EnsurePortfolio(ctx context.Context, owner string, startingCash decimal.Decimal) (*model.Portfolio, error)
}
