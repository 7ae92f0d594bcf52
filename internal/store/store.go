// Package store defines the persistence interface for the portfolio
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (demo sessions and testing).
//
// Trades are append-only and are the authoritative record; accounts and
// positions are materialized views over them. ApplyTrade is the one
// multi-record write the trade executor relies on being atomic.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAccountExists is returned when creating an account for a user
	// that already has one.
	ErrAccountExists = errors.New("store: account already exists")
)

// Position change kinds carried by a TradeApplication.
const (
	PositionCreate = "create"
	PositionUpdate = "update"
	PositionDelete = "delete"
)

// TradeApplication is the atomic mutation produced by one executed trade:
// the account's new cash value, the position change, and the immutable
// trade record to append. Implementations apply all three or none.
type TradeApplication struct {
	UserID         string
	NewCash        decimal.Decimal
	PositionChange string         // PositionCreate, PositionUpdate or PositionDelete
	Position       model.Position // target state; only ID matters for delete
	Trade          model.Trade
}

// Store is the persistence interface.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. ErrAccountExists if the user
	// already has one.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves a user's account. ErrNotFound if absent.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// AddFunds atomically increases cash and totalDeposits by amount and
	// returns the updated account.
	AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error)

	// ListAccountIDs returns the ids of every user with an account. Used
	// by the daily snapshot sampler.
	ListAccountIDs(ctx context.Context) ([]string, error)

	// --- Positions ---

	// GetPosition retrieves the position for (userID, symbol).
	// ErrNotFound if no live position exists.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// ListPositions returns all live positions for a user.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Trades (append-only) ---

	// ListTrades returns all trades for a user, ascending by executedAt.
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// ListRecentTrades returns up to limit trades, newest first.
	ListRecentTrades(ctx context.Context, userID string, limit int) ([]model.Trade, error)

	// ApplyTrade applies one trade as a single atomic multi-record write:
	// account cash update, position create/update/delete, trade insert.
	ApplyTrade(ctx context.Context, app TradeApplication) error

	// --- Snapshots ---

	// ListSnapshots returns persisted snapshots ascending by timestamp.
	ListSnapshots(ctx context.Context, userID string) ([]model.Snapshot, error)

	// InsertSnapshot persists one valuation snapshot.
	InsertSnapshot(ctx context.Context, s *model.Snapshot) error

	// --- Reconciliation phase writes ---
	//
	// Each call is atomic on its own; the three-phase rewrite is
	// deliberately not one transaction (see the reconcile package).

	// SetAccountCash overwrites a user's cash balance.
	SetAccountCash(ctx context.Context, userID string, cash decimal.Decimal) error

	// DeleteAllPositions removes every position for a user and returns
	// how many were deleted.
	DeleteAllPositions(ctx context.Context, userID string) (int, error)

	// CreatePositions inserts the given positions in one write.
	CreatePositions(ctx context.Context, positions []model.Position) error
}
