package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/costbasis"
	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/quote"
	"github.com/papertrade/portfolio-engine/internal/store"
)

// defaultRecentTrades caps the recent-trades listing when no limit is
// given.
const defaultRecentTrades = 10

// Service exposes the trade executor and account operations over HTTP.
type Service struct {
	store    store.Store
	quotes   quote.Source
	executor *Executor
	wsHub    *WSHub // optional hub for real-time broadcasts
}

// NewService creates a new trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, quotes quote.Source, hub *WSHub) *Service {
	return &Service{
		store:    st,
		quotes:   quotes,
		executor: NewExecutor(st, quotes),
		wsHub:    hub,
	}
}

// Executor returns the underlying trade executor.
func (s *Service) Executor() *Executor { return s.executor }

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for profile initialization.
type CreateAccountRequest struct {
	UserID string `json:"user_id"`
}

// AddFundsRequest is the JSON body for the funding operation.
type AddFundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Trade   model.Trade     `json:"trade"`
	Cash    decimal.Decimal `json:"cash"`
	Display string          `json:"total_display"`
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts.
// Initializes a profile with the default virtual balance.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	account := &model.Account{
		UserID:         req.UserID,
		Cash:           model.DefaultInitialBalance,
		InitialBalance: model.DefaultInitialBalance,
		TotalDeposits:  model.DefaultInitialBalance,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			writeError(w, "account already exists", http.StatusConflict)
			return
		}
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	slog.Info("account created", "user", req.UserID, "balance", account.Cash.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// GetAccount handles GET /api/v1/accounts/{userID}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	account, err := s.store.GetAccount(r.Context(), userID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// AddFunds handles POST /api/v1/accounts/{userID}/funds.
// Increases cash and totalDeposits; amounts beyond the ceiling are
// rejected.
func (s *Service) AddFunds(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AddFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if req.Amount.GreaterThan(model.MaxDepositAmount) {
		writeError(w, "amount exceeds the deposit ceiling", http.StatusBadRequest)
		return
	}

	account, err := s.store.AddFunds(r.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to add funds", http.StatusInternalServerError)
		return
	}

	slog.Info("funds added", "user", userID,
		"amount", req.Amount.String(), "cash", account.Cash.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var ord Order
	if err := json.NewDecoder(r.Body).Decode(&ord); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	t, err := s.executor.Execute(r.Context(), ord)
	if err != nil {
		status, reason := classifyExecError(err)
		metrics.TradeRejections.WithLabelValues(reason).Inc()
		writeError(w, err.Error(), status)
		return
	}
	metrics.TradesTotal.WithLabelValues(t.Side).Inc()
	metrics.TradeLatency.WithLabelValues(t.Side).Observe(time.Since(start).Seconds())

	account, err := s.store.GetAccount(r.Context(), t.UserID)
	if err != nil {
		writeError(w, "trade recorded but account read failed", http.StatusInternalServerError)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			UserID:   t.UserID,
			Symbol:   t.Symbol,
			Side:     t.Side,
			Quantity: t.Quantity.String(),
			Price:    t.PricePerShare.String(),
			Total:    t.TotalAmount.String(),
			Cash:     account.Cash.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{
		Trade:   *t,
		Cash:    account.Cash,
		Display: model.FormatEUR(t.TotalAmount),
	})
}

// GetTrades handles GET /api/v1/trades/{userID}.
// Returns trades newest first; ?limit= caps the count (default 10,
// limit=0 returns the full log).
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultRecentTrades
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.store.ListRecentTrades(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
// Prices each position with the quote source; a symbol that cannot be
// priced is valued at its cost basis rather than failing the view.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	holdings := make([]model.Holding, 0, len(positions))
	positionsValue := decimal.Zero

	for _, p := range positions {
		h := model.Holding{Position: p}

		q, err := s.quotes.Price(ctx, p.Symbol, "")
		if err != nil {
			slog.Warn("portfolio pricing degraded to cost basis",
				"user", userID, "symbol", p.Symbol, "err", err)
			h.CurrentPrice = p.AvgCostBasis
			h.PricedFromCost = true
		} else {
			h.CurrentPrice = q.Price
		}

		h.MarketValue = costbasis.MarketValue(p.Quantity, h.CurrentPrice)
		h.UnrealizedPL = costbasis.UnrealizedPL(p.Quantity, p.AvgCostBasis, h.CurrentPrice)
		h.UnrealizedPLPct = costbasis.UnrealizedPLPercent(p.AvgCostBasis, h.CurrentPrice)
		h.MarketValueDisplay = model.FormatEUR(h.MarketValue)

		positionsValue = positionsValue.Add(h.MarketValue)
		holdings = append(holdings, h)
	}

	total := account.Cash.Add(positionsValue)
	portfolio := model.Portfolio{
		UserID:            userID,
		Cash:              account.Cash,
		Holdings:          holdings,
		PositionsValue:    positionsValue,
		TotalValue:        total,
		TotalDeposits:     account.TotalDeposits,
		TotalPL:           total.Sub(account.TotalDeposits),
		TotalValueDisplay: model.FormatEUR(total),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// classifyExecError maps executor errors to an HTTP status and a metric
// label.
func classifyExecError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return http.StatusConflict, "insufficient_shares"
	case errors.Is(err, ErrQuoteUnavailable):
		return http.StatusBadGateway, "quote_unavailable"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "store_write"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
