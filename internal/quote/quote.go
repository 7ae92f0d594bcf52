// Package quote provides market price lookup for the portfolio engine.
//
// The Source interface abstracts the external quote provider; the concrete
// client talks to the Twelve Data HTTP API for live quotes and daily
// historical closes. A Redis wrapper adds a read-through price cache so
// hot symbols don't burn through the provider's rate limit.
package quote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSymbolNotFound is returned when the provider does not know the
	// requested symbol.
	ErrSymbolNotFound = errors.New("quote: symbol not found")

	// ErrRateLimited is returned when the provider rejects the request for
	// quota reasons. The engine never retries internally; callers decide.
	ErrRateLimited = errors.New("quote: provider rate limit exceeded")
)

// DateLayout is the calendar-date format used for historical lookups and
// trade valuation dates.
const DateLayout = "2006-01-02"

// Quote is a priced symbol. Change fields are zero for historical quotes.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	AsOf          time.Time       `json:"as_of"`
}

// Source resolves a symbol to a price. asOf selects a historical daily
// close in DateLayout format; empty asOf means the live price. Blocking,
// synchronous, no internal retry.
type Source interface {
	Price(ctx context.Context, symbol, asOf string) (Quote, error)
}

// SourceFunc adapts a function to the Source interface. Used by tests and
// by the snapshot replay path.
type SourceFunc func(ctx context.Context, symbol, asOf string) (Quote, error)

// Price implements Source.
func (f SourceFunc) Price(ctx context.Context, symbol, asOf string) (Quote, error) {
	return f(ctx, symbol, asOf)
}

// FixedSource returns a Source that prices every symbol from the given
// table, failing with ErrSymbolNotFound for unknown symbols. Useful for
// tests and ephemeral demo sessions.
func FixedSource(prices map[string]decimal.Decimal) Source {
	return SourceFunc(func(_ context.Context, symbol, _ string) (Quote, error) {
		p, ok := prices[symbol]
		if !ok {
			return Quote{}, ErrSymbolNotFound
		}
		return Quote{Symbol: symbol, Price: p, AsOf: time.Now().UTC()}, nil
	})
}
