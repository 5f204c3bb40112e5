package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: single bids, portfolios, and per-owner
// position lists. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateBid(ctx context.Context, b *model.Bid) error {
	if err := s.primary.CreateBid(ctx, b); err != nil {
		return err
	}
	s.cacheBid(ctx, b)
	return nil
}

func (s *CachedStore) UpdateBidPending(ctx context.Context, b *model.Bid) error {
	if err := s.primary.UpdateBidPending(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, bidKey(b.ID))
	return nil
}

func (s *CachedStore) TransitionBid(ctx context.Context, id string, from, to model.BidStatus, at time.Time) error {
	if err := s.primary.TransitionBid(ctx, id, from, to, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, bidKey(id))
	return nil
}

func (s *CachedStore) Settle(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.Settle(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, bidKey(st.Bid.ID), portfolioKey(st.Bid.Owner), positionsKey(st.Bid.Owner))
	return nil
}

func (s *CachedStore) MarkPosition(ctx context.Context, id string, price, pnl decimal.Decimal, at time.Time) error {
	if err := s.primary.MarkPosition(ctx, id, price, pnl, at); err != nil {
		return err
	}
	// Owner unknown here; the per-owner position list keeps its TTL and
	// may lag one cache window, which repricing tolerates.
	return nil
}

func (s *CachedStore) ClosePosition(ctx context.Context, c *model.Closure) error {
	if err := s.primary.ClosePosition(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(c.Position.Owner), positionsKey(c.Position.Owner))
	return nil
}

func (s *CachedStore) RecordClearingRun(ctx context.Context, run *model.ClearingRun) error {
	return s.primary.RecordClearingRun(ctx, run)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	data, err := s.rdb.Get(ctx, bidKey(id)).Bytes()
	if err == nil {
		var b model.Bid
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBid(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheBid(ctx, b)
	return b, nil
}

func (s *CachedStore) GetPortfolio(ctx context.Context, owner string) (*model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(owner)).Bytes()
	if err == nil {
		var pf model.Portfolio
		if json.Unmarshal(data, &pf) == nil {
			return &pf, nil
		}
	}

	pf, err := s.primary.GetPortfolio(ctx, owner)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pf); err == nil {
		s.rdb.Set(ctx, portfolioKey(owner), data, s.ttl)
	}
	return pf, nil
}

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, owner string, includeClosed bool) ([]model.Position, error) {
	if includeClosed {
		return s.primary.ListPositionsByOwner(ctx, owner, true)
	}

	data, err := s.rdb.Get(ctx, positionsKey(owner)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByOwner(ctx, owner, false)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(owner), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListBidsByOwner(ctx context.Context, owner string, status model.BidStatus) ([]model.Bid, error) {
	return s.primary.ListBidsByOwner(ctx, owner, status)
}

func (s *CachedStore) ListPendingBids(ctx context.Context, key model.SlotKey) ([]model.Bid, error) {
	return s.primary.ListPendingBids(ctx, key)
}

func (s *CachedStore) CountPendingBids(ctx context.Context, owner string, key model.SlotKey) (int, error) {
	return s.primary.CountPendingBids(ctx, owner, key)
}

func (s *CachedStore) GetClearingRun(ctx context.Context, key model.SlotKey) (*model.ClearingRun, error) {
	return s.primary.GetClearingRun(ctx, key)
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListOpenPositions(ctx)
}

func (s *CachedStore) ListTradesByOwner(ctx context.Context, owner string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByOwner(ctx, owner, limit)
}

func (s *CachedStore) EnsurePortfolio(ctx context.Context, owner string, startingCash decimal.Decimal) (*model.Portfolio, error) {
	pf, err := s.primary.EnsurePortfolio(ctx, owner, startingCash)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, portfolioKey(owner))
	return pf, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheBid(ctx context.Context, b *model.Bid) {
	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, bidKey(b.ID), data, s.ttl)
	}
}

func bidKey(id string) string           { return fmt.Sprintf("bid:%s", id) }
func portfolioKey(owner string) string  { return fmt.Sprintf("portfolio:%s", owner) }
func positionsKey(owner string) string  { return fmt.Sprintf("positions:%s", owner) }
