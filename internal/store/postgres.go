package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Settle and ClosePosition run inside a single transaction so partial
// application is never observable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const bidColumns = `id, owner, side, quantity::TEXT, price::TEXT, hour_slot,
	to_char(trading_date, 'YYYY-MM-DD'), status, clearing_price::TEXT,
	executed_quantity::TEXT, created_at, updated_at`

func (s *PostgresStore) CreateBid(ctx context.Context, b *model.Bid) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bids (id, owner, side, quantity, price, hour_slot, trading_date,
		                   status, executed_quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::DATE, $8, $9::NUMERIC, $10, $11)`,
		b.ID, b.Owner, string(b.Side), b.Quantity.String(), b.Price.String(),
		b.HourSlot, b.TradingDate, string(b.Status), b.ExecutedQuantity.String(),
		b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)

	b, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bid %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bid %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) UpdateBidPending(ctx context.Context, b *model.Bid) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bids SET quantity = $2::NUMERIC, price = $3::NUMERIC, updated_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		b.ID, b.Quantity.String(), b.Price.String(), b.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s not pending: %w", b.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) TransitionBid(ctx context.Context, id string, from, to model.BidStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bids SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s not in %s: %w", id, from, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListBidsByOwner(ctx context.Context, owner string, status model.BidStatus) ([]model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE owner = $1`
	args := []any{owner}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func (s *PostgresStore) ListPendingBids(ctx context.Context, key model.SlotKey) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids
		 WHERE trading_date = $1::DATE AND hour_slot = $2 AND status = 'pending'
		 ORDER BY created_at`,
		key.TradingDate, key.HourSlot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func (s *PostgresStore) CountPendingBids(ctx context.Context, owner string, key model.SlotKey) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids
		 WHERE owner = $1 AND trading_date = $2::DATE AND hour_slot = $3 AND status = 'pending'`,
		owner, key.TradingDate, key.HourSlot).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetClearingRun(ctx context.Context, key model.SlotKey) (*model.ClearingRun, error) {
	var run model.ClearingRun
	var price, buyVol, sellVol, source string

	err := s.pool.QueryRow(ctx,
		`SELECT to_char(trading_date, 'YYYY-MM-DD'), hour_slot, clearing_price::TEXT,
		        price_source, executed_bids, rejected_bids,
		        buy_volume::TEXT, sell_volume::TEXT, ran_at
		 FROM clearing_runs WHERE trading_date = $1::DATE AND hour_slot = $2`,
		key.TradingDate, key.HourSlot).
		Scan(&run.TradingDate, &run.HourSlot, &price, &source,
			&run.ExecutedBids, &run.RejectedBids, &buyVol, &sellVol, &run.RanAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clearing run %s/%d: %w", key.TradingDate, key.HourSlot, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get clearing run %s/%d: %w", key.TradingDate, key.HourSlot, err)
	}

	run.ClearingPrice, _ = decimal.NewFromString(price)
	run.BuyVolume, _ = decimal.NewFromString(buyVol)
	run.SellVolume, _ = decimal.NewFromString(sellVol)
	run.PriceSource = model.PriceSource(source)
	return &run, nil
}

func (s *PostgresStore) RecordClearingRun(ctx context.Context, run *model.ClearingRun) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO clearing_runs (trading_date, hour_slot, clearing_price, price_source,
		                            executed_bids, rejected_bids, buy_volume, sell_volume, ran_at)
		 VALUES ($1::DATE, $2, $3::NUMERIC, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)
		 ON CONFLICT (trading_date, hour_slot) DO NOTHING`,
		run.TradingDate, run.HourSlot, run.ClearingPrice.String(), string(run.PriceSource),
		run.ExecutedBids, run.RejectedBids, run.BuyVolume.String(), run.SellVolume.String(), run.RanAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("clearing run %s/%d: %w", run.TradingDate, run.HourSlot, model.ErrAlreadyCleared)
	}
	return nil
}

func (s *PostgresStore) Settle(ctx context.Context, st *model.Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	clearingPrice := ""
	if st.Bid.ClearingPrice != nil {
		clearingPrice = st.Bid.ClearingPrice.String()
	}

	tag, err := tx.Exec(ctx,
		`UPDATE bids SET status = 'executed', clearing_price = $2::NUMERIC,
		        executed_quantity = $3::NUMERIC, updated_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		st.Bid.ID, clearingPrice, st.Bid.ExecutedQuantity.String(), st.Bid.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s not pending: %w", st.Bid.ID, model.ErrNotFound)
	}

	p := st.Position
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (id, owner, bid_id, quantity, entry_price, unrealized_pnl,
		                        realized_pnl, is_closed, trading_date, hour_slot, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::DATE, $10, $11, $12)`,
		p.ID, p.Owner, p.BidID, p.Quantity.String(), p.EntryPrice.String(),
		p.UnrealizedPnL.String(), p.RealizedPnL.String(), p.IsClosed,
		p.TradingDate, p.HourSlot, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return err
	}

	t := st.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, owner, bid_id, quantity, price, total_value, pnl,
		                     side, trading_date, hour_slot, executed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::DATE, $10, $11)`,
		t.ID, t.Owner, t.BidID, t.Quantity.String(), t.Price.String(),
		t.TotalValue.String(), t.PnL.String(), string(t.Side),
		t.TradingDate, t.HourSlot, t.ExecutedAt,
	); err != nil {
		return err
	}

	// Delta update: the row lock serializes concurrent settlements for the
	// same owner, so no cash movement can be overwritten.
	tag, err = tx.Exec(ctx,
		`UPDATE portfolios SET cash_balance = cash_balance + $2::NUMERIC,
		        total_trades = total_trades + 1, updated_at = $3
		 WHERE owner = $1`,
		st.Bid.Owner, st.CashDelta.String(), st.Bid.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("portfolio %s: %w", st.Bid.Owner, model.ErrNotFound)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

const positionColumns = `id, owner, bid_id, quantity::TEXT, entry_price::TEXT,
	current_price::TEXT, unrealized_pnl::TEXT, realized_pnl::TEXT, is_closed,
	to_char(trading_date, 'YYYY-MM-DD'), hour_slot, created_at, updated_at`

func (s *PostgresStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE NOT is_closed ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string, includeClosed bool) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE owner = $1`
	if !includeClosed {
		query += ` AND NOT is_closed`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) MarkPosition(ctx context.Context, id string, price, pnl decimal.Decimal, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET current_price = $2::NUMERIC, unrealized_pnl = $3::NUMERIC, updated_at = $4
		 WHERE id = $1 AND NOT is_closed`,
		id, price.String(), pnl.String(), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open position %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ClosePosition(ctx context.Context, c *model.Closure) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p := c.Position
	currentPrice := ""
	if p.CurrentPrice != nil {
		currentPrice = p.CurrentPrice.String()
	}

	tag, err := tx.Exec(ctx,
		`UPDATE positions SET is_closed = TRUE, current_price = $2::NUMERIC,
		        unrealized_pnl = $3::NUMERIC, realized_pnl = $4::NUMERIC, updated_at = $5
		 WHERE id = $1 AND NOT is_closed`,
		p.ID, currentPrice, p.UnrealizedPnL.String(), p.RealizedPnL.String(), p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open position %s: %w", p.ID, model.ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE trades SET pnl = $2::NUMERIC WHERE bid_id = $1`,
		p.BidID, c.TradePnL.String(),
	); err != nil {
		return err
	}

	winInc := 0
	if c.Winning {
		winInc = 1
	}
	tag, err = tx.Exec(ctx,
		`UPDATE portfolios SET cash_balance = cash_balance + $2::NUMERIC,
		        realized_pnl = realized_pnl + $2::NUMERIC,
		        daily_pnl = daily_pnl + $2::NUMERIC,
		        winning_trades = winning_trades + $3, updated_at = $4
		 WHERE owner = $1`,
		p.Owner, c.TradePnL.String(), winInc, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("portfolio %s: %w", p.Owner, model.ErrNotFound)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTradesByOwner(ctx context.Context, owner string, limit int) ([]model.Trade, error) {
	query := `SELECT id, owner, bid_id, quantity::TEXT, price::TEXT, total_value::TEXT,
	                 pnl::TEXT, side, to_char(trading_date, 'YYYY-MM-DD'), hour_slot, executed_at
	          FROM trades WHERE owner = $1 ORDER BY executed_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, total, pnl, side string
		if err := rows.Scan(&t.ID, &t.Owner, &t.BidID, &qty, &price, &total, &pnl,
			&side, &t.TradingDate, &t.HourSlot, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.TotalValue, _ = decimal.NewFromString(total)
		t.PnL, _ = decimal.NewFromString(pnl)
		t.Side = model.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, owner string) (*model.Portfolio, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE owner = $1`, owner)

	pf, err := scanPortfolio(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", owner, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", owner, err)
	}
	return pf, nil
}

const portfolioColumns = `owner, cash_balance::TEXT, total_pnl::TEXT, daily_pnl::TEXT,
	unrealized_pnl::TEXT, realized_pnl::TEXT, max_drawdown::TEXT,
	total_trades, winning_trades, created_at, updated_at`

func (s *PostgresStore) EnsurePortfolio(ctx context.Context, owner string, startingCash decimal.Decimal) (*model.Portfolio, error) {
	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (owner, cash_balance, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $3)
		 ON CONFLICT (owner) DO NOTHING`,
		owner, startingCash.String(), now,
	); err != nil {
		return nil, err
	}
	return s.GetPortfolio(ctx, owner)
}

// --- row scanning helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanBid(row pgxRow) (*model.Bid, error) {
	var b model.Bid
	var side, status, qty, price, execQty string
	var clearingPrice *string

	if err := row.Scan(&b.ID, &b.Owner, &side, &qty, &price, &b.HourSlot,
		&b.TradingDate, &status, &clearingPrice, &execQty,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}

	b.Side = model.Side(side)
	b.Status = model.BidStatus(status)
	b.Quantity, _ = decimal.NewFromString(qty)
	b.Price, _ = decimal.NewFromString(price)
	b.ExecutedQuantity, _ = decimal.NewFromString(execQty)
	if clearingPrice != nil {
		cp, _ := decimal.NewFromString(*clearingPrice)
		b.ClearingPrice = &cp
	}
	return &b, nil
}

func scanBids(rows pgx.Rows) ([]model.Bid, error) {
	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var qty, entry, unrealized, realized string
	var current *string

	if err := row.Scan(&p.ID, &p.Owner, &p.BidID, &qty, &entry, &current,
		&unrealized, &realized, &p.IsClosed, &p.TradingDate, &p.HourSlot,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.UnrealizedPnL, _ = decimal.NewFromString(unrealized)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	if current != nil {
		cp, _ := decimal.NewFromString(*current)
		p.CurrentPrice = &cp
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPortfolio(row pgxRow) (*model.Portfolio, error) {
	var pf model.Portfolio
	var cash, total, daily, unrealized, realized, drawdown string

	if err := row.Scan(&pf.Owner, &cash, &total, &daily, &unrealized, &realized,
		&drawdown, &pf.TotalTrades, &pf.WinningTrades,
		&pf.CreatedAt, &pf.UpdatedAt); err != nil {
		return nil, err
	}

	pf.CashBalance, _ = decimal.NewFromString(cash)
	pf.TotalPnL, _ = decimal.NewFromString(total)
	pf.DailyPnL, _ = decimal.NewFromString(daily)
	pf.UnrealizedPnL, _ = decimal.NewFromString(unrealized)
	pf.RealizedPnL, _ = decimal.NewFromString(realized)
	pf.MaxDrawdown, _ = decimal.NewFromString(drawdown)
	return &pf, nil
}
