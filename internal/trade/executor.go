// Package trade provides the HTTP handlers and business logic for
// account management, trade execution, and portfolio queries.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/costbasis"
	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/quote"
	"github.com/papertrade/portfolio-engine/internal/store"
)

var (
	// ErrInvalidOrder is returned for orders that fail validation before
	// any pricing or state change (bad side, missing quantity and amount,
	// non-positive values).
	ErrInvalidOrder = errors.New("trade: invalid order")

	// ErrInsufficientFunds is returned when a buy's total exceeds cash.
	ErrInsufficientFunds = errors.New("trade: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held
	// quantity, or no live position exists for the symbol.
	ErrInsufficientShares = errors.New("trade: insufficient shares")

	// ErrQuoteUnavailable is returned when the symbol cannot be priced.
	// The caller may retry; the executor never does.
	ErrQuoteUnavailable = errors.New("trade: quote unavailable")
)

// Order is a buy/sell intent. Exactly one of Quantity and Amount must be
// positive: Quantity orders trade that many shares, Amount orders spend
// (or raise) that much cash at the resolved price. ValuationDate selects a
// historical price under simulated time travel; empty means live.
type Order struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"` // "BUY" or "SELL"
	Quantity      decimal.Decimal `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	ValuationDate string          `json:"valuation_date,omitempty"` // YYYY-MM-DD
}

// Executor validates and applies a single buy/sell intent as one atomic
// mutation across account, position, and trade log.
//
// Executions are serialized per user: the store's write is atomic per
// call, but the read-compute-write span is not, so concurrent orders for
// the same user would race on cash and position state.
type Executor struct {
	store  store.Store
	quotes quote.Source

	mu    sync.Mutex
	locks map[string]*sync.Mutex // userID → execution lock
}

// NewExecutor creates a trade executor over the given store and quote
// source.
func NewExecutor(st store.Store, quotes quote.Source) *Executor {
	return &Executor{
		store:  st,
		quotes: quotes,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (e *Executor) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// Execute prices, validates, and applies one order, returning the
// appended trade record. No partial effects: validation failures leave no
// state change, and the store write is a single atomic transaction.
func (e *Executor) Execute(ctx context.Context, ord Order) (*model.Trade, error) {
	if err := validateOrder(ord); err != nil {
		return nil, err
	}

	lock := e.userLock(ord.UserID)
	lock.Lock()
	defer lock.Unlock()

	// Resolve the price as of the valuation date (empty = live).
	q, err := e.quotes.Price(ctx, ord.Symbol, ord.ValuationDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, ord.Symbol, err)
	}
	price := q.Price
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s priced at %s", ErrQuoteUnavailable, ord.Symbol, price)
	}

	// Resolve quantity and total from whichever the caller supplied.
	qty := ord.Quantity
	if qty.IsZero() {
		qty = costbasis.SharesFromAmount(ord.Amount, price)
	}
	total := costbasis.TotalCost(qty, price)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: resolved quantity %s", ErrInvalidOrder, qty)
	}

	account, err := e.store.GetAccount(ctx, ord.UserID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	app := store.TradeApplication{UserID: ord.UserID}

	switch ord.Side {
	case model.SideBuy:
		if total.GreaterThan(account.Cash) {
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total, account.Cash)
		}
		app.NewCash = account.Cash.Sub(total)

		pos, err := e.store.GetPosition(ctx, ord.UserID, ord.Symbol)
		switch {
		case errors.Is(err, store.ErrNotFound):
			app.PositionChange = store.PositionCreate
			app.Position = model.Position{
				ID:           uuid.New().String(),
				UserID:       ord.UserID,
				Symbol:       ord.Symbol,
				Quantity:     qty,
				AvgCostBasis: price,
			}
		case err != nil:
			return nil, fmt.Errorf("load position: %w", err)
		default:
			app.PositionChange = store.PositionUpdate
			app.Position = *pos
			app.Position.Quantity = pos.Quantity.Add(qty)
			app.Position.AvgCostBasis = costbasis.NextAvgCostOnBuy(
				pos.Quantity, pos.AvgCostBasis, qty, price)
		}

	case model.SideSell:
		pos, err := e.store.GetPosition(ctx, ord.UserID, ord.Symbol)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no position in %s", ErrInsufficientShares, ord.Symbol)
		}
		if err != nil {
			return nil, fmt.Errorf("load position: %w", err)
		}
		if pos.Quantity.LessThan(qty) {
			return nil, fmt.Errorf("%w: hold %s, selling %s", ErrInsufficientShares, pos.Quantity, qty)
		}

		app.NewCash = account.Cash.Add(total)

		remaining := pos.Quantity.Sub(qty)
		if model.IsClosed(remaining) {
			app.PositionChange = store.PositionDelete
			app.Position = *pos
		} else {
			// Average cost is not reduced by a sell on this path; the
			// reconciliation fold removes cost proportionally instead.
			// Both behaviors are kept as the recorded history expects.
			app.PositionChange = store.PositionUpdate
			app.Position = *pos
			app.Position.Quantity = remaining
		}
	}

	app.Trade = model.Trade{
		ID:            uuid.New().String(),
		UserID:        ord.UserID,
		Symbol:        ord.Symbol,
		Side:          ord.Side,
		Quantity:      qty,
		PricePerShare: price,
		TotalAmount:   total,
		ExecutedAt:    time.Now().UTC(),
		ValuationDate: ord.ValuationDate,
		IsHistorical:  ord.ValuationDate != "",
	}

	if err := e.store.ApplyTrade(ctx, app); err != nil {
		return nil, fmt.Errorf("apply trade: %w", err)
	}

	slog.Info("trade executed",
		"trade_id", app.Trade.ID,
		"user", ord.UserID,
		"symbol", ord.Symbol,
		"side", ord.Side,
		"qty", qty.String(),
		"price", price.String(),
		"total", total.String(),
		"historical", app.Trade.IsHistorical,
	)

	t := app.Trade
	return &t, nil
}

func validateOrder(ord Order) error {
	if ord.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidOrder)
	}
	if ord.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if ord.Side != model.SideBuy && ord.Side != model.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidOrder)
	}
	if ord.Quantity.IsNegative() || ord.Amount.IsNegative() {
		return fmt.Errorf("%w: quantity and amount must be positive", ErrInvalidOrder)
	}
	if ord.Quantity.IsZero() && ord.Amount.IsZero() {
		return fmt.Errorf("%w: one of quantity or amount is required", ErrInvalidOrder)
	}
	if !ord.Quantity.IsZero() && !ord.Amount.IsZero() {
		return fmt.Errorf("%w: quantity and amount are mutually exclusive", ErrInvalidOrder)
	}
	if ord.ValuationDate != "" {
		if _, err := time.Parse(quote.DateLayout, ord.ValuationDate); err != nil {
			return fmt.Errorf("%w: valuation_date must be YYYY-MM-DD", ErrInvalidOrder)
		}
	}
	return nil
}
