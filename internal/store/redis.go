package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the hot read paths: accounts and position lists. Writes go to
// the primary store and invalidate the cache. The trade log and snapshots
// pass through uncached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedStore) AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	a, err := s.primary.AddFunds(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, app TradeApplication) error {
	if err := s.primary.ApplyTrade(ctx, app); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, accountKey(app.UserID), userPositionsKey(app.UserID))
	return nil
}

func (s *CachedStore) SetAccountCash(ctx context.Context, userID string, cash decimal.Decimal) error {
	if err := s.primary.SetAccountCash(ctx, userID, cash); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return nil
}

func (s *CachedStore) DeleteAllPositions(ctx context.Context, userID string) (int, error) {
	n, err := s.primary.DeleteAllPositions(ctx, userID)
	if err != nil {
		return n, err
	}
	s.rdb.Del(ctx, userPositionsKey(userID))
	return n, nil
}

func (s *CachedStore) CreatePositions(ctx context.Context, positions []model.Position) error {
	if err := s.primary.CreatePositions(ctx, positions); err != nil {
		return err
	}
	for _, p := range positions {
		s.rdb.Del(ctx, userPositionsKey(p.UserID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, userPositionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, userPositionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	// Single-position reads ride on the cached list.
	positions, err := s.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListAccountIDs(ctx)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID)
}

func (s *CachedStore) ListRecentTrades(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	return s.primary.ListRecentTrades(ctx, userID, limit)
}

func (s *CachedStore) ListSnapshots(ctx context.Context, userID string) ([]model.Snapshot, error) {
	return s.primary.ListSnapshots(ctx, userID)
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return s.primary.InsertSnapshot(ctx, snap)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}

func accountKey(uid string) string       { return fmt.Sprintf("account:%s", uid) }
func userPositionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
