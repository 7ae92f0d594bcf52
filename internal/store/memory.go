package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. It backs ephemeral
// demo sessions (the same engine over a non-persisted copy of the state)
// and the tests. The per-store mutex makes ApplyTrade and the
// reconciliation phase writes atomic, matching the transactional
// guarantees of the PostgreSQL store.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]*model.Position // key: userID + "/" + symbol
	trades    []model.Trade
	snapshots []model.Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]*model.Position),
	}
}

func posKey(userID, symbol string) string { return userID + "/" + symbol }

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.UserID]; ok {
		return ErrAccountExists
	}
	cp := *a
	s.accounts[a.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) AddFunds(_ context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	a.Cash = a.Cash.Add(amount)
	a.TotalDeposits = a.TotalDeposits.Add(amount)
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAccountIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(userID, symbol)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// --- Trades ---

func (s *MemoryStore) ListTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })
	return trades, nil
}

func (s *MemoryStore) ListRecentTrades(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	trades, err := s.ListTrades(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Reverse to newest-first, then cap.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, app TradeApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[app.UserID]
	if !ok {
		return ErrNotFound
	}
	a.Cash = app.NewCash

	key := posKey(app.Position.UserID, app.Position.Symbol)
	switch app.PositionChange {
	case PositionCreate, PositionUpdate:
		cp := app.Position
		s.positions[key] = &cp
	case PositionDelete:
		delete(s.positions, key)
	}

	s.trades = append(s.trades, app.Trade)
	return nil
}

// --- Snapshots ---

func (s *MemoryStore) ListSnapshots(_ context.Context, userID string) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []model.Snapshot
	for _, snap := range s.snapshots {
		if snap.UserID == userID {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

// --- Reconciliation phase writes ---

func (s *MemoryStore) SetAccountCash(_ context.Context, userID string, cash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	a.Cash = cash
	return nil
}

func (s *MemoryStore) DeleteAllPositions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, p := range s.positions {
		if p.UserID == userID {
			delete(s.positions, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreatePositions(_ context.Context, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		cp := p
		s.positions[posKey(p.UserID, p.Symbol)] = &cp
	}
	return nil
}
