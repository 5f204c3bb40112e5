package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. A single mutex serializes all mutations, which makes Settle
// and ClosePosition trivially atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	bids       map[string]*model.Bid
	positions  map[string]*model.Position
	trades     []model.Trade
	portfolios map[string]*model.Portfolio
	runs       map[model.SlotKey]*model.ClearingRun
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bids:       make(map[string]*model.Bid),
		positions:  make(map[string]*model.Position),
		portfolios: make(map[string]*model.Portfolio),
		runs:       make(map[model.SlotKey]*model.ClearingRun),
	}
}

func (s *MemoryStore) CreateBid(_ context.Context, b *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bids[b.ID]; ok {
		return fmt.Errorf("bid %s already exists", b.ID)
	}
	cp := *b
	s.bids[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBid(_ context.Context, id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bids[id]
	if !ok {
		return nil, fmt.Errorf("bid %s: %w", id, model.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) UpdateBidPending(_ context.Context, b *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bids[b.ID]
	if !ok || cur.Status != model.BidPending {
		return fmt.Errorf("bid %s not pending: %w", b.ID, model.ErrNotFound)
	}
	cur.Quantity = b.Quantity
	cur.Price = b.Price
	cur.UpdatedAt = b.UpdatedAt
	return nil
}

func (s *MemoryStore) TransitionBid(_ context.Context, id string, from, to model.BidStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bids[id]
	if !ok || cur.Status != from {
		return fmt.Errorf("bid %s not in %s: %w", id, from, model.ErrNotFound)
	}
	cur.Status = to
	cur.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListBidsByOwner(_ context.Context, owner string, status model.BidStatus) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bids []model.Bid
	for _, b := range s.bids {
		if b.Owner != owner {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		bids = append(bids, *b)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}

func (s *MemoryStore) ListPendingBids(_ context.Context, key model.SlotKey) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bids []model.Bid
	for _, b := range s.bids {
		if b.Status == model.BidPending && b.Key() == key {
			bids = append(bids, *b)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.Before(bids[j].CreatedAt) })
	return bids, nil
}

func (s *MemoryStore) CountPendingBids(_ context.Context, owner string, key model.SlotKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.bids {
		if b.Owner == owner && b.Status == model.BidPending && b.Key() == key {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetClearingRun(_ context.Context, key model.SlotKey) (*model.ClearingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[key]
	if !ok {
		return nil, fmt.Errorf("clearing run %s/%d: %w", key.TradingDate, key.HourSlot, model.ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) RecordClearingRun(_ context.Context, run *model.ClearingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.SlotKey{TradingDate: run.TradingDate, HourSlot: run.HourSlot}
	if _, ok := s.runs[key]; ok {
		return fmt.Errorf("clearing run %s/%d: %w", run.TradingDate, run.HourSlot, model.ErrAlreadyCleared)
	}
	cp := *run
	s.runs[key] = &cp
	return nil
}

// Settle applies all four mutations under one lock; the status guard on the
// bid makes a cancel that won the race visible as ErrNotFound with no
// partial application. The portfolio is mutated in place so concurrent
// settlements never lose each other's cash movements.
func (s *MemoryStore) Settle(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bids[st.Bid.ID]
	if !ok || cur.Status != model.BidPending {
		return fmt.Errorf("bid %s not pending: %w", st.Bid.ID, model.ErrNotFound)
	}
	pf, ok := s.portfolios[st.Bid.Owner]
	if !ok {
		return fmt.Errorf("portfolio %s: %w", st.Bid.Owner, model.ErrNotFound)
	}

	*cur = *st.Bid

	pos := *st.Position
	s.positions[pos.ID] = &pos

	s.trades = append(s.trades, *st.Trade)

	pf.CashBalance = pf.CashBalance.Add(st.CashDelta)
	pf.TotalTrades++
	pf.UpdatedAt = st.Bid.UpdatedAt
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListOpenPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if !p.IsClosed {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].CreatedAt.Before(positions[j].CreatedAt) })
	return positions, nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string, includeClosed bool) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.Owner != owner {
			continue
		}
		if p.IsClosed && !includeClosed {
			continue
		}
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].CreatedAt.After(positions[j].CreatedAt) })
	return positions, nil
}

func (s *MemoryStore) MarkPosition(_ context.Context, id string, price, pnl decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok || p.IsClosed {
		return fmt.Errorf("open position %s: %w", id, model.ErrNotFound)
	}
	mark := price
	p.CurrentPrice = &mark
	p.UnrealizedPnL = pnl
	p.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ClosePosition(_ context.Context, c *model.Closure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.positions[c.Position.ID]
	if !ok || cur.IsClosed {
		return fmt.Errorf("open position %s: %w", c.Position.ID, model.ErrNotFound)
	}

	pf, ok := s.portfolios[cur.Owner]
	if !ok {
		return fmt.Errorf("portfolio %s: %w", cur.Owner, model.ErrNotFound)
	}

	*cur = *c.Position

	for i := range s.trades {
		if s.trades[i].BidID == cur.BidID {
			s.trades[i].PnL = c.TradePnL
			break
		}
	}

	pf.CashBalance = pf.CashBalance.Add(c.TradePnL)
	pf.RealizedPnL = pf.RealizedPnL.Add(c.TradePnL)
	pf.DailyPnL = pf.DailyPnL.Add(c.TradePnL)
	if c.Winning {
		pf.WinningTrades++
	}
	pf.UpdatedAt = c.Position.UpdatedAt
	return nil
}

func (s *MemoryStore) ListTradesByOwner(_ context.Context, owner string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.Owner == owner {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.After(trades[j].ExecutedAt) })
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, owner string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pf, ok := s.portfolios[owner]
	if !ok {
		return nil, fmt.Errorf("portfolio %s: %w", owner, model.ErrNotFound)
	}
	cp := *pf
	return &cp, nil
}

func (s *MemoryStore) EnsurePortfolio(_ context.Context, owner string, startingCash decimal.Decimal) (*model.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pf, ok := s.portfolios[owner]; ok {
		cp := *pf
		return &cp, nil
	}

	now := time.Now().UTC()
	pf := &model.Portfolio{
		Owner:       owner,
		CashBalance: startingCash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.portfolios[owner] = pf
	cp := *pf
	return &cp, nil
}
