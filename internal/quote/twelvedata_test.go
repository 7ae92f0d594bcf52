package quote_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/portfolio-engine/internal/quote"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *quote.TwelveDataClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return quote.NewTwelveDataClient(srv.URL, "test-key")
}

func TestLiveQuote(t *testing.T) {
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		fmt.Fprint(w, `{"symbol":"AAPL","close":"189.95","change":"1.25","percent_change":"0.66"}`)
	})

	q, err := c.Price(context.Background(), "aapl", "")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("189.95")))
	assert.True(t, q.Change.Equal(decimal.RequireFromString("1.25")))
}

func TestLiveQuote_PriceFieldFallback(t *testing.T) {
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","price":"190.10"}`)
	})

	q, err := c.Price(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("190.10")))
}

func TestLiveQuote_SymbolNotFound(t *testing.T) {
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":404,"message":"symbol not found"}`)
	})

	_, err := c.Price(context.Background(), "NOPE", "")
	assert.True(t, errors.Is(err, quote.ErrSymbolNotFound))
}

func TestLiveQuote_RateLimited(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := c.Price(context.Background(), "AAPL", "")
		assert.True(t, errors.Is(err, quote.ErrRateLimited))
	})

	t.Run("body envelope", func(t *testing.T) {
		c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":429,"message":"over quota"}`)
		})
		_, err := c.Price(context.Background(), "AAPL", "")
		assert.True(t, errors.Is(err, quote.ErrRateLimited))
	})
}

func TestHistoricalQuote(t *testing.T) {
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "1day", r.URL.Query().Get("interval"))
		assert.Equal(t, "2025-03-14", r.URL.Query().Get("start_date"))
		fmt.Fprint(w, `{"values":[{"datetime":"2025-03-14","close":"172.50"}]}`)
	})

	q, err := c.Price(context.Background(), "AAPL", "2025-03-14")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("172.50")))
	assert.Equal(t, "2025-03-14", q.AsOf.Format(quote.DateLayout))
}

func TestHistoricalQuote_WeekendFallsBack(t *testing.T) {
	// 2025-03-16 is a Sunday; only Friday the 14th has a bar.
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_date") == "2025-03-14" {
			fmt.Fprint(w, `{"values":[{"datetime":"2025-03-14","close":"172.50"}]}`)
			return
		}
		fmt.Fprint(w, `{"values":[]}`)
	})

	q, err := c.Price(context.Background(), "AAPL", "2025-03-16")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("172.50")))
	assert.Equal(t, "2025-03-14", q.AsOf.Format(quote.DateLayout))
}

func TestHistoricalQuote_NoDataWithinFallbackWindow(t *testing.T) {
	requests := 0
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"values":[]}`)
	})

	_, err := c.Price(context.Background(), "AAPL", "2025-03-16")
	assert.True(t, errors.Is(err, quote.ErrSymbolNotFound))
	assert.Equal(t, 6, requests, "walks the requested day plus five fallback days")
}

func TestHistoricalQuote_BadDate(t *testing.T) {
	c := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider should not be called for a malformed date")
	})

	_, err := c.Price(context.Background(), "AAPL", "14-03-2025")
	assert.Error(t, err)
}
