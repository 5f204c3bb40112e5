// Package model defines the core domain types shared across the auction engine.
// All monetary values and quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a bid: buy (demand) or sell (supply).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// BidStatus is the lifecycle state of a bid. Transitions are monotonic:
// pending → executed | rejected (by clearing) or pending → cancelled
// (user-initiated). Terminal states are never left.
type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidExecuted  BidStatus = "executed"
	BidRejected  BidStatus = "rejected"
	BidCancelled BidStatus = "cancelled"
)

// DateLayout is the wire format for trading dates.
const DateLayout = "2006-01-02"

// SlotKey identifies one clearing run: one delivery hour of one trading date.
type SlotKey struct {
	TradingDate string `json:"trading_date"`
	HourSlot    int    `json:"hour_slot"`
}

// Bid is a buy or sell order for a fixed quantity at a limit price for one
// hour of one trading date.
type Bid struct {
	ID               string           `json:"id" db:"id"`
	Owner            string           `json:"owner" db:"owner"`
	Side             Side             `json:"side" db:"side"`
	Quantity         decimal.Decimal  `json:"quantity" db:"quantity"` // MWh, > 0
	Price            decimal.Decimal  `json:"price" db:"price"`       // $/MWh, > 0
	HourSlot         int              `json:"hour_slot" db:"hour_slot"`
	TradingDate      string           `json:"trading_date" db:"trading_date"`
	Status           BidStatus        `json:"status" db:"status"`
	ClearingPrice    *decimal.Decimal `json:"clearing_price,omitempty" db:"clearing_price"` // set iff executed
	ExecutedQuantity decimal.Decimal  `json:"executed_quantity" db:"executed_quantity"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Key returns the clearing key the bid belongs to.
func (b *Bid) Key() SlotKey {
	return SlotKey{TradingDate: b.TradingDate, HourSlot: b.HourSlot}
}

// Position is the economic exposure resulting from one executed bid.
// Quantity is signed: positive = long (buy), negative = short (sell).
// EntryPrice is immutable once set.
type Position struct {
	ID            string           `json:"id" db:"id"`
	Owner         string           `json:"owner" db:"owner"`
	BidID         string           `json:"bid_id" db:"bid_id"`
	Quantity      decimal.Decimal  `json:"quantity" db:"quantity"`
	EntryPrice    decimal.Decimal  `json:"entry_price" db:"entry_price"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty" db:"current_price"` // nil until first repricing
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl" db:"realized_pnl"`
	IsClosed      bool             `json:"is_closed" db:"is_closed"`
	TradingDate   string           `json:"trading_date" db:"trading_date"`
	HourSlot      int              `json:"hour_slot" db:"hour_slot"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// MarkPrice is the price a position is currently valued at: the last
// repricing mark, or the entry price before the first mark.
func (p *Position) MarkPrice() decimal.Decimal {
	if p.CurrentPrice != nil {
		return *p.CurrentPrice
	}
	return p.EntryPrice
}

// Exposure is |quantity × mark price|.
func (p *Position) Exposure() decimal.Decimal {
	return p.Quantity.Mul(p.MarkPrice()).Abs()
}

// UnrealizedPnL is the mark-to-market P&L of a signed quantity opened at
// entryPrice and valued at referencePrice: (ref − entry) × |q| for longs,
// (entry − ref) × |q| for shorts.
func UnrealizedPnL(quantity, entryPrice, referencePrice decimal.Decimal) decimal.Decimal {
	if quantity.IsNegative() {
		return entryPrice.Sub(referencePrice).Mul(quantity.Abs())
	}
	return referencePrice.Sub(entryPrice).Mul(quantity.Abs())
}

// Trade is an immutable record of one execution. Exactly one Trade exists
// per executed Bid; PnL is fixed when the resulting position closes, 0
// before that.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	Owner       string          `json:"owner" db:"owner"`
	BidID       string          `json:"bid_id" db:"bid_id"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	TotalValue  decimal.Decimal `json:"total_value" db:"total_value"` // quantity × price
	PnL         decimal.Decimal `json:"pnl" db:"pnl"`
	Side        Side            `json:"side" db:"side"`
	TradingDate string          `json:"trading_date" db:"trading_date"`
	HourSlot    int             `json:"hour_slot" db:"hour_slot"`
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
}

// Portfolio is the per-owner aggregate trading account. Exactly one exists
// per owner, created lazily with a fixed starting cash balance. Cash,
// trade counters and realized figures are mutated eagerly inside
// settlement/close transactions; P&L aggregates are derived on read.
type Portfolio struct {
	Owner         string          `json:"owner" db:"owner"`
	CashBalance   decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	TotalPnL      decimal.Decimal `json:"total_pnl" db:"total_pnl"`
	DailyPnL      decimal.Decimal `json:"daily_pnl" db:"daily_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown" db:"max_drawdown"`
	TotalTrades   int             `json:"total_trades" db:"total_trades"`
	WinningTrades int             `json:"winning_trades" db:"winning_trades"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ClearingRun records one completed clearing of a (trading_date, hour_slot)
// key. Its presence is the idempotency guard: a key with a run record is
// never cleared again.
type ClearingRun struct {
	TradingDate   string          `json:"trading_date" db:"trading_date"`
	HourSlot      int             `json:"hour_slot" db:"hour_slot"`
	ClearingPrice decimal.Decimal `json:"clearing_price" db:"clearing_price"`
	PriceSource   PriceSource     `json:"price_source" db:"price_source"`
	ExecutedBids  int             `json:"executed_bids" db:"executed_bids"`
	RejectedBids  int             `json:"rejected_bids" db:"rejected_bids"`
	BuyVolume     decimal.Decimal `json:"buy_volume" db:"buy_volume"`
	SellVolume    decimal.Decimal `json:"sell_volume" db:"sell_volume"`
	RanAt         time.Time       `json:"ran_at" db:"ran_at"`
}

// PriceSource says how a clearing price was determined.
type PriceSource string

const (
	// PriceSourceCross: midpoint of the marginal buy/sell pair at the
	// supply/demand crossing point.
	PriceSourceCross PriceSource = "cross"
	// PriceSourceReference: no liquidity overlap, so the reference price
	// from the market-data feed was used as the documented fallback.
	PriceSourceReference PriceSource = "reference"
)

// ClearingResult summarizes one clearing run for callers.
type ClearingResult struct {
	TradingDate   string          `json:"trading_date"`
	HourSlot      int             `json:"hour_slot"`
	ClearingPrice decimal.Decimal `json:"clearing_price"`
	PriceSource   PriceSource     `json:"price_source"`
	Executed      int             `json:"executed"`
	Rejected      int             `json:"rejected"`
	BuyVolume     decimal.Decimal `json:"buy_volume"`  // executed buy MWh
	SellVolume    decimal.Decimal `json:"sell_volume"` // executed sell MWh
	Empty         bool            `json:"empty"`       // no pending bids, nothing done
}

// Settlement is the four-way mutation produced by executing one bid at the
// clearing price. Stores apply it as a single atomic unit: either all four
// records are visible or none are. The portfolio is adjusted by delta
// inside the store operation so concurrent settlements for one owner
// never lose each other's updates.
type Settlement struct {
	Bid      *Bid      // status=executed, clearing price and executed quantity set
	Position *Position // new position
	Trade    *Trade    // new trade

	// CashDelta is added to the owner's cash balance (negative for buys);
	// total_trades increments by one in the same operation.
	CashDelta decimal.Decimal
}

// Closure is the terminal mutation fixing a position's realized P&L.
// Applied atomically: position closed, originating trade's pnl set, and
// TradePnL added to the portfolio's cash, realized and daily P&L inside
// the store operation.
type Closure struct {
	Position *Position // is_closed=true, realized pnl fixed
	TradePnL decimal.Decimal
	Winning  bool // increments winning_trades
}
