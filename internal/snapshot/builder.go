// Package snapshot derives chronological portfolio valuation series.
//
// Persisted daily snapshots, when present, are the preferred source; the
// fallback is a deterministic replay of the trade log against the quote
// source. The replay path also serves ephemeral demo sessions that never
// persist snapshots.
package snapshot

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/quote"
	"github.com/papertrade/portfolio-engine/internal/store"
)

// Builder derives portfolio valuation series for a user.
type Builder struct {
	store  store.Store
	quotes quote.Source
}

// NewBuilder creates a snapshot builder over the given store and quote
// source.
func NewBuilder(st store.Store, quotes quote.Source) *Builder {
	return &Builder{store: st, quotes: quotes}
}

// holding tracks a symbol's running state during replay. Sells reduce the
// total cost proportionally, so the per-unit cost survives partial exits.
type holding struct {
	qty       decimal.Decimal
	totalCost decimal.Decimal
}

// BuildSeries replays trades in chronological order and emits one
// snapshot per trade, preceded by a seed point one second before the
// first trade at the initial balance. Deterministic and read-only: same
// inputs produce the same output.
//
// Positions are valued at the current market price per symbol; a symbol
// that cannot be priced degrades to its running unit cost instead of
// failing the build.
func BuildSeries(ctx context.Context, trades []model.Trade, initialBalance decimal.Decimal, source quote.Source) []model.Snapshot {
	if len(trades) == 0 {
		return []model.Snapshot{}
	}

	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	prices := fetchPrices(ctx, ordered, source)

	series := make([]model.Snapshot, 0, len(ordered)+1)
	series = append(series, model.Snapshot{
		UserID:         ordered[0].UserID,
		Timestamp:      ordered[0].ExecutedAt.Add(-time.Second),
		TotalValue:     initialBalance,
		Cash:           initialBalance,
		PositionsValue: decimal.Zero,
	})

	cash := initialBalance
	holdings := make(map[string]*holding)

	for _, t := range ordered {
		h, ok := holdings[t.Symbol]
		if !ok {
			h = &holding{}
			holdings[t.Symbol] = h
		}

		switch t.Side {
		case model.SideBuy:
			cash = cash.Sub(t.TotalAmount)
			h.qty = h.qty.Add(t.Quantity)
			h.totalCost = h.totalCost.Add(t.TotalAmount)
		case model.SideSell:
			cash = cash.Add(t.TotalAmount)
			if h.qty.IsPositive() {
				perUnit := h.totalCost.Div(h.qty)
				h.totalCost = h.totalCost.Sub(perUnit.Mul(t.Quantity))
			}
			h.qty = h.qty.Sub(t.Quantity)
		}

		positionsValue := decimal.Zero
		for symbol, hs := range holdings {
			if !hs.qty.IsPositive() {
				continue
			}
			price, ok := prices[symbol]
			if !ok {
				// Quote unavailable: value at the running unit cost.
				price = hs.totalCost.Div(hs.qty)
			}
			positionsValue = positionsValue.Add(hs.qty.Mul(price))
		}

		series = append(series, model.Snapshot{
			UserID:         t.UserID,
			Timestamp:      t.ExecutedAt,
			TotalValue:     cash.Add(positionsValue),
			Cash:           cash,
			PositionsValue: positionsValue,
		})
	}

	return series
}

// fetchPrices resolves current prices for every distinct symbol in the
// trade log. Lookups run concurrently; failures leave the symbol out of
// the map and are handled per symbol by the caller.
func fetchPrices(ctx context.Context, trades []model.Trade, source quote.Source) map[string]decimal.Decimal {
	symbols := make(map[string]struct{})
	for _, t := range trades {
		symbols[t.Symbol] = struct{}{}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		prices = make(map[string]decimal.Decimal, len(symbols))
	)
	for symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			q, err := source.Price(ctx, symbol, "")
			if err != nil {
				slog.Warn("series pricing degraded to cost basis", "symbol", symbol, "err", err)
				return
			}
			mu.Lock()
			prices[symbol] = q.Price
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return prices
}

// Series returns a user's valuation history, preferring persisted daily
// snapshots and falling back to a full replay of the trade log.
func (b *Builder) Series(ctx context.Context, userID string) ([]model.Snapshot, error) {
	snaps, err := b.store.ListSnapshots(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(snaps) > 0 {
		return snaps, nil
	}

	trades, err := b.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, err
	}

	initial := model.DefaultInitialBalance
	if account, err := b.store.GetAccount(ctx, userID); err == nil {
		initial = account.InitialBalance
	}

	return BuildSeries(ctx, trades, initial, b.quotes), nil
}
