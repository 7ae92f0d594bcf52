// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade side values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

var (
	// DefaultInitialBalance is the virtual cash granted at profile creation.
	DefaultInitialBalance = decimal.NewFromInt(10000)

	// PositionEpsilon is the quantity below which a position is considered
	// closed. A sell that leaves quantity <= epsilon deletes the position.
	PositionEpsilon = decimal.NewFromFloat(0.0001)

	// MaxDepositAmount is the ceiling for a single funding operation.
	MaxDepositAmount = decimal.NewFromInt(1_000_000)
)

// Account holds a user's virtual cash. One per user, created at profile
// initialization with cash = initialBalance. TotalDeposits is the
// cumulative sum of all funding events, initial balance included, and is
// monotonically non-decreasing.
type Account struct {
	UserID         string          `json:"user_id" db:"user_id"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	TotalDeposits  decimal.Decimal `json:"total_deposits" db:"total_deposits"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's holding in one symbol, keyed by (userID, symbol).
// Quantity stays > epsilon while the position exists; AvgCostBasis is the
// blended per-unit acquisition cost across all open lots.
//
// Account and Position are materialized views over the trade log; the
// reconcile package rebuilds them from trades when they drift.
type Position struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCostBasis decimal.Decimal `json:"avg_cost_basis" db:"avg_cost_basis"`
}

// Trade is an immutable record of an executed buy or sell. Once written,
// trades are never modified or deleted; they are the sole source of truth
// for reconciliation.
type Trade struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	ExecutedAt    time.Time       `json:"executed_at" db:"executed_at"`
	ValuationDate string          `json:"valuation_date" db:"valuation_date"` // YYYY-MM-DD; empty = live
	IsHistorical  bool            `json:"is_historical" db:"is_historical"`
}

// Snapshot is a point sample of a user's portfolio valuation. At most one
// persisted snapshot per calendar day; snapshots are never recomputed
// retroactively once written.
type Snapshot struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	TotalValue     decimal.Decimal `json:"total_value" db:"total_value"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value" db:"positions_value"`
}

// Holding is a position enriched with current market data for portfolio
// views.
type Holding struct {
	Position
	CurrentPrice       decimal.Decimal `json:"current_price"`
	MarketValue        decimal.Decimal `json:"market_value"`
	UnrealizedPL       decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPct    decimal.Decimal `json:"unrealized_pl_percent"`
	PricedFromCost     bool            `json:"priced_from_cost,omitempty"` // quote unavailable, valued at cost basis
	MarketValueDisplay string          `json:"market_value_display"`
}

// Portfolio aggregates a user's account and holdings with total valuation.
type Portfolio struct {
	UserID            string          `json:"user_id"`
	Cash              decimal.Decimal `json:"cash"`
	Holdings          []Holding       `json:"holdings"`
	PositionsValue    decimal.Decimal `json:"positions_value"`
	TotalValue        decimal.Decimal `json:"total_value"`
	TotalDeposits     decimal.Decimal `json:"total_deposits"`
	TotalPL           decimal.Decimal `json:"total_pl"` // totalValue - totalDeposits
	TotalValueDisplay string          `json:"total_value_display"`
}

// IsClosed reports whether qty is at or below the live-position threshold.
func IsClosed(qty decimal.Decimal) bool {
	return qty.LessThanOrEqual(PositionEpsilon)
}
