package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/quote"
	"github.com/papertrade/portfolio-engine/internal/store"
	"github.com/papertrade/portfolio-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var tolerance = d(0.000001)

// newTestEnv creates a test Service with in-memory store, a mutable price
// table, and a chi router. Mutating the returned map changes quoted
// prices between trades.
func newTestEnv(t *testing.T) (*store.MemoryStore, map[string]decimal.Decimal, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	prices := map[string]decimal.Decimal{}
	svc := trade.NewService(ms, quote.FixedSource(prices), nil)

	r := chi.NewRouter()
	r.Post("/api/v1/accounts", svc.CreateAccount)
	r.Get("/api/v1/accounts/{userID}", svc.GetAccount)
	r.Post("/api/v1/accounts/{userID}/funds", svc.AddFunds)
	r.Post("/api/v1/trade", svc.ExecuteTrade)
	r.Get("/api/v1/trades/{userID}", svc.GetTrades)
	r.Get("/api/v1/portfolio/{userID}", svc.GetPortfolio)

	return ms, prices, r
}

// seedAccount creates a funded account directly in the store.
func seedAccount(t *testing.T, ms *store.MemoryStore, userID string) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		UserID:         userID,
		Cash:           model.DefaultInitialBalance,
		InitialBalance: model.DefaultInitialBalance,
		TotalDeposits:  model.DefaultInitialBalance,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doTrade(t *testing.T, router chi.Router, ord trade.Order) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, "POST", "/api/v1/trade", ord)
}

func assertClose(t *testing.T, expected, actual decimal.Decimal, what string) {
	t.Helper()
	if expected.Sub(actual).Abs().GreaterThan(tolerance) {
		t.Errorf("%s: expected %s, got %s", what, expected, actual)
	}
}

// --- Trade execution tests ---

func TestExecuteTrade_BuySellScenario(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	ctx := context.Background()

	// BUY 10 AAPL @ 100 → cash 9000, position {qty 10, avg 100}.
	prices["AAPL"] = d(100)
	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	account, _ := ms.GetAccount(ctx, "user1")
	assertClose(t, d(9000), account.Cash, "cash after first buy")

	pos, err := ms.GetPosition(ctx, "user1", "AAPL")
	if err != nil {
		t.Fatalf("expected position: %v", err)
	}
	assertClose(t, d(10), pos.Quantity, "quantity after first buy")
	assertClose(t, d(100), pos.AvgCostBasis, "avg cost after first buy")

	// BUY 5 AAPL @ 120 → cash 8400, avg (10*100+5*120)/15.
	prices["AAPL"] = d(120)
	w = doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(5),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	account, _ = ms.GetAccount(ctx, "user1")
	assertClose(t, d(8400), account.Cash, "cash after second buy")

	pos, _ = ms.GetPosition(ctx, "user1", "AAPL")
	assertClose(t, d(15), pos.Quantity, "quantity after second buy")
	assertClose(t, d(1600).Div(d(15)), pos.AvgCostBasis, "avg cost after second buy")

	// SELL 8 AAPL @ 150 → cash 9600, qty 7, avg cost unchanged.
	prices["AAPL"] = d(150)
	w = doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideSell, Quantity: d(8),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	account, _ = ms.GetAccount(ctx, "user1")
	assertClose(t, d(9600), account.Cash, "cash after sell")

	pos, _ = ms.GetPosition(ctx, "user1", "AAPL")
	assertClose(t, d(7), pos.Quantity, "quantity after sell")
	assertClose(t, d(1600).Div(d(15)), pos.AvgCostBasis, "avg cost unchanged by sell")
}

func TestExecuteTrade_AmountResolvesQuantity(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["MSFT"] = d(200)

	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "MSFT", Side: model.SideBuy, Amount: d(1000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	pos, err := ms.GetPosition(context.Background(), "user1", "MSFT")
	if err != nil {
		t.Fatalf("expected position: %v", err)
	}
	assertClose(t, d(5), pos.Quantity, "quantity from amount")
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(200),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// No state change: cash untouched, no position, no trade.
	ctx := context.Background()
	account, _ := ms.GetAccount(ctx, "user1")
	assertClose(t, d(10000), account.Cash, "cash after rejected buy")
	if _, err := ms.GetPosition(ctx, "user1", "AAPL"); err == nil {
		t.Error("expected no position after rejected buy")
	}
	trades, _ := ms.ListTrades(ctx, "user1")
	if len(trades) != 0 {
		t.Errorf("expected no trades, got %d", len(trades))
	}
}

func TestExecuteTrade_SellWithoutPosition(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideSell, Quantity: d(1),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_SellExceedsHeldQuantity(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})

	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideSell, Quantity: d(11),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Position untouched by the rejected sell.
	pos, _ := ms.GetPosition(context.Background(), "user1", "AAPL")
	assertClose(t, d(10), pos.Quantity, "quantity after rejected sell")
}

func TestExecuteTrade_FullSellDeletesPosition(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})
	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideSell, Quantity: d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if _, err := ms.GetPosition(context.Background(), "user1", "AAPL"); err == nil {
		t.Error("expected position to be deleted after full sell")
	}
}

func TestExecuteTrade_ResidualBelowEpsilonDeletesPosition(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})
	// Leaves 0.00005 shares, below the live-position threshold.
	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideSell, Quantity: d(9.99995),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if _, err := ms.GetPosition(context.Background(), "user1", "AAPL"); err == nil {
		t.Error("expected near-zero position to be deleted")
	}
}

func TestExecuteTrade_Validation(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	cases := []struct {
		name string
		ord  trade.Order
	}{
		{"missing user", trade.Order{Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1)}},
		{"missing symbol", trade.Order{UserID: "user1", Side: model.SideBuy, Quantity: d(1)}},
		{"bad side", trade.Order{UserID: "user1", Symbol: "AAPL", Side: "HOLD", Quantity: d(1)}},
		{"no quantity or amount", trade.Order{UserID: "user1", Symbol: "AAPL", Side: model.SideBuy}},
		{"both quantity and amount", trade.Order{UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1), Amount: d(100)}},
		{"negative quantity", trade.Order{UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(-1)}},
		{"bad valuation date", trade.Order{UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1), ValuationDate: "15-08-2025"}},
	}

	for _, tc := range cases {
		w := doTrade(t, router, tc.ord)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestExecuteTrade_UnknownSymbol(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedAccount(t, ms, "user1")

	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "NOPE", Side: model.SideBuy, Quantity: d(1),
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for unpriceable symbol, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_HistoricalValuationDateRecorded(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	w := doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy,
		Quantity: d(1), ValuationDate: "2025-03-14",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	trades, _ := ms.ListTrades(context.Background(), "user1")
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].IsHistorical {
		t.Error("expected historical flag on dated trade")
	}
	if trades[0].ValuationDate != "2025-03-14" {
		t.Errorf("expected valuation date 2025-03-14, got %s", trades[0].ValuationDate)
	}
}

func TestExecuteTrade_TradeRecordFields(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)

	doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})

	trades, err := ms.ListTrades(context.Background(), "user1")
	if err != nil {
		t.Fatalf("failed to list trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	tr := trades[0]
	if tr.ID == "" {
		t.Error("expected non-empty trade id")
	}
	if tr.Side != model.SideBuy {
		t.Errorf("expected side=BUY, got %s", tr.Side)
	}
	assertClose(t, d(10), tr.Quantity, "trade quantity")
	assertClose(t, d(100), tr.PricePerShare, "trade price")
	assertClose(t, d(1000), tr.TotalAmount, "trade total")
	if tr.ExecutedAt.IsZero() {
		t.Error("expected non-zero executedAt")
	}
}

// --- Account tests ---

func TestCreateAccount_InitializesDefaultBalance(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/accounts", trade.CreateAccountRequest{UserID: "user1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var account model.Account
	json.Unmarshal(w.Body.Bytes(), &account)
	assertClose(t, d(10000), account.Cash, "initial cash")
	assertClose(t, d(10000), account.InitialBalance, "initial balance")
	assertClose(t, d(10000), account.TotalDeposits, "initial deposits")
}

func TestCreateAccount_Duplicate(t *testing.T) {
	_, _, router := newTestEnv(t)

	doJSON(t, router, "POST", "/api/v1/accounts", trade.CreateAccountRequest{UserID: "user1"})
	w := doJSON(t, router, "POST", "/api/v1/accounts", trade.CreateAccountRequest{UserID: "user1"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate account, got %d", w.Code)
	}
}

func TestAddFunds(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedAccount(t, ms, "user1")

	w := doJSON(t, router, "POST", "/api/v1/accounts/user1/funds", trade.AddFundsRequest{Amount: d(5000)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var account model.Account
	json.Unmarshal(w.Body.Bytes(), &account)
	assertClose(t, d(15000), account.Cash, "cash after funding")
	assertClose(t, d(15000), account.TotalDeposits, "deposits after funding")
}

func TestAddFunds_RejectsBadAmounts(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedAccount(t, ms, "user1")

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-100), d(1_000_001)} {
		w := doJSON(t, router, "POST", "/api/v1/accounts/user1/funds", trade.AddFundsRequest{Amount: amount})
		if w.Code != http.StatusBadRequest {
			t.Errorf("amount %s: expected 400, got %d", amount, w.Code)
		}
	}

	// Ceiling itself is allowed.
	w := doJSON(t, router, "POST", "/api/v1/accounts/user1/funds", trade.AddFundsRequest{Amount: d(1_000_000)})
	if w.Code != http.StatusOK {
		t.Errorf("amount at ceiling should succeed, got %d: %s", w.Code, w.Body.String())
	}
}

// --- History and portfolio tests ---

func TestGetTrades_NewestFirstWithLimit(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(10)

	for i := 0; i < 3; i++ {
		doTrade(t, router, trade.Order{
			UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1),
		})
		time.Sleep(2 * time.Millisecond) // distinct executedAt ordering
	}

	req := httptest.NewRequest("GET", "/api/v1/trades/user1?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ExecutedAt.Before(trades[1].ExecutedAt) {
		t.Error("expected newest-first ordering")
	}
}

func TestGetPortfolio_ValuesAndDegradedPricing(t *testing.T) {
	ms, prices, router := newTestEnv(t)
	seedAccount(t, ms, "user1")
	prices["AAPL"] = d(100)
	prices["MSFT"] = d(50)

	doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(10),
	})
	doTrade(t, router, trade.Order{
		UserID: "user1", Symbol: "MSFT", Side: model.SideBuy, Quantity: d(20),
	})

	// AAPL rallies; MSFT becomes unpriceable and falls back to cost basis.
	prices["AAPL"] = d(130)
	delete(prices, "MSFT")

	req := httptest.NewRequest("GET", "/api/v1/portfolio/user1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var portfolio model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &portfolio)

	if len(portfolio.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(portfolio.Holdings))
	}

	// Holdings sorted by symbol: AAPL then MSFT.
	aapl, msft := portfolio.Holdings[0], portfolio.Holdings[1]
	assertClose(t, d(1300), aapl.MarketValue, "AAPL market value")
	assertClose(t, d(300), aapl.UnrealizedPL, "AAPL unrealized P/L")
	if !msft.PricedFromCost {
		t.Error("expected MSFT to be priced from cost basis")
	}
	assertClose(t, d(1000), msft.MarketValue, "MSFT value at cost")

	// cash 8000 + 1300 + 1000
	assertClose(t, d(10300), portfolio.TotalValue, "total value")
	assertClose(t, d(300), portfolio.TotalPL, "total P/L vs deposits")
}

func TestGetPortfolio_UnknownUser(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/portfolio/nobody", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
