// Package reconcile detects and repairs drift between the materialized
// account/position state and the authoritative trade log.
//
// This is projection rebuild in an event-sourced design: trades are the
// append-only event stream, account and positions are folds over it. When
// a partially-failed write leaves them inconsistent, the engine recomputes
// the correct state from the log and rewrites it. The trade log itself is
// never modified.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/store"
)

// ErrPartialReconciliation is returned when the multi-phase rewrite fails
// between phases. The store cannot combine the three phases into one
// transaction, so a failure leaves a window of inconsistency; it is
// surfaced for a manual re-run, never retried silently.
var ErrPartialReconciliation = errors.New("reconcile: rewrite incomplete, re-run required")

// Rewrite phase names, reported in order of completion.
const (
	PhaseCash     = "cash"
	PhaseClear    = "clear_positions"
	PhaseRecreate = "recreate_positions"
)

// Report is the pure analysis of a user's trade log against the
// materialized state. Produced by Analyze; applied, after explicit
// confirmation, by Apply.
type Report struct {
	UserID           string           `json:"user_id"`
	TradeCount       int              `json:"trade_count"`
	TotalBuyAmount   decimal.Decimal  `json:"total_buy_amount"`
	TotalSellAmount  decimal.Decimal  `json:"total_sell_amount"`
	TotalDeposits    decimal.Decimal  `json:"total_deposits"`
	CurrentCash      decimal.Decimal  `json:"current_cash"`
	CorrectCash      decimal.Decimal  `json:"correct_cash"`
	CurrentPositions []model.Position `json:"current_positions"`
	CorrectPositions []model.Position `json:"correct_positions"`
	Drifted          bool             `json:"drifted"`
}

// Result reports which rewrite phases completed.
type Result struct {
	UserID           string   `json:"user_id"`
	PhasesCompleted  []string `json:"phases_completed"`
	PositionsDeleted int      `json:"positions_deleted"`
	PositionsCreated int      `json:"positions_created"`
}

// Engine recomputes correct state from the trade log and rewrites the
// materialized views to match.
type Engine struct {
	store store.Store
}

// NewEngine creates a reconciliation engine over the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Suspect reports whether the materialized state looks inconsistent with
// the trade log: trades exist but no position does.
func Suspect(trades []model.Trade, positions []model.Position) bool {
	return len(trades) > 0 && len(positions) == 0
}

// Analyze folds the full trade log in chronological order and computes
// the correct cash and positions. Pure: no writes.
//
// Per symbol the fold tracks (shares, totalCost); buys add at trade
// amount, sells remove cost at the pre-sell per-unit rate. A position is
// recovered only while shares remain positive. Correct cash is
// totalDeposits - Σbuys + Σsells; the initial balance is already folded
// into totalDeposits as the base deposit.
func Analyze(userID string, trades []model.Trade, account *model.Account, positions []model.Position) *Report {
	type fold struct {
		shares    decimal.Decimal
		totalCost decimal.Decimal
	}

	totalBuy := decimal.Zero
	totalSell := decimal.Zero
	bySymbol := make(map[string]*fold)
	var order []string

	for _, t := range trades {
		f, ok := bySymbol[t.Symbol]
		if !ok {
			f = &fold{}
			bySymbol[t.Symbol] = f
			order = append(order, t.Symbol)
		}
		switch t.Side {
		case model.SideBuy:
			totalBuy = totalBuy.Add(t.TotalAmount)
			f.shares = f.shares.Add(t.Quantity)
			f.totalCost = f.totalCost.Add(t.TotalAmount)
		case model.SideSell:
			totalSell = totalSell.Add(t.TotalAmount)
			if f.shares.IsPositive() {
				perUnit := f.totalCost.Div(f.shares)
				f.totalCost = f.totalCost.Sub(perUnit.Mul(t.Quantity))
			}
			f.shares = f.shares.Sub(t.Quantity)
		}
	}

	correctCash := account.TotalDeposits.Sub(totalBuy).Add(totalSell)

	var correct []model.Position
	for _, symbol := range order {
		f := bySymbol[symbol]
		if !f.shares.IsPositive() {
			continue
		}
		correct = append(correct, model.Position{
			ID:           uuid.New().String(),
			UserID:       userID,
			Symbol:       symbol,
			Quantity:     f.shares,
			AvgCostBasis: f.totalCost.Div(f.shares),
		})
	}

	return &Report{
		UserID:           userID,
		TradeCount:       len(trades),
		TotalBuyAmount:   totalBuy,
		TotalSellAmount:  totalSell,
		TotalDeposits:    account.TotalDeposits,
		CurrentCash:      account.Cash,
		CorrectCash:      correctCash,
		CurrentPositions: positions,
		CorrectPositions: correct,
		Drifted:          drifted(account.Cash, positions, correctCash, correct),
	}
}

// drifted compares current and recovered state.
func drifted(cash decimal.Decimal, positions []model.Position, correctCash decimal.Decimal, correct []model.Position) bool {
	if !cash.Equal(correctCash) {
		return true
	}
	if len(positions) != len(correct) {
		return true
	}
	bySymbol := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		bySymbol[p.Symbol] = p
	}
	for _, c := range correct {
		p, ok := bySymbol[c.Symbol]
		if !ok || !p.Quantity.Equal(c.Quantity) || !p.AvgCostBasis.Equal(c.AvgCostBasis) {
			return true
		}
	}
	return false
}

// AnalyzeUser loads a user's state and runs Analyze.
func (e *Engine) AnalyzeUser(ctx context.Context, userID string) (*Report, error) {
	account, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	trades, err := e.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	return Analyze(userID, trades, account, positions), nil
}

// Apply rewrites the materialized state to match the report. Three atomic
// phases run in order (set cash, delete positions, recreate positions)
// and each is reported as it completes. A failure between phases returns
// ErrPartialReconciliation naming what already ran; the caller must
// re-run after fixing the cause. Trades are never touched.
func (e *Engine) Apply(ctx context.Context, report *Report) (*Result, error) {
	res := &Result{UserID: report.UserID}

	if err := e.store.SetAccountCash(ctx, report.UserID, report.CorrectCash); err != nil {
		metrics.ReconciliationRuns.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("phase %s: %w", PhaseCash, err)
	}
	res.PhasesCompleted = append(res.PhasesCompleted, PhaseCash)
	slog.Info("reconcile: cash rewritten",
		"user", report.UserID, "cash", report.CorrectCash.String())

	deleted, err := e.store.DeleteAllPositions(ctx, report.UserID)
	if err != nil {
		metrics.ReconciliationRuns.WithLabelValues("partial").Inc()
		return res, fmt.Errorf("%w: phase %s failed after [%s]: %v",
			ErrPartialReconciliation, PhaseClear, PhaseCash, err)
	}
	res.PositionsDeleted = deleted
	res.PhasesCompleted = append(res.PhasesCompleted, PhaseClear)
	slog.Info("reconcile: positions cleared", "user", report.UserID, "deleted", deleted)

	if err := e.store.CreatePositions(ctx, report.CorrectPositions); err != nil {
		metrics.ReconciliationRuns.WithLabelValues("partial").Inc()
		return res, fmt.Errorf("%w: phase %s failed after [%s %s]: %v",
			ErrPartialReconciliation, PhaseRecreate, PhaseCash, PhaseClear, err)
	}
	res.PositionsCreated = len(report.CorrectPositions)
	res.PhasesCompleted = append(res.PhasesCompleted, PhaseRecreate)
	slog.Info("reconcile: positions recreated",
		"user", report.UserID, "created", res.PositionsCreated)

	metrics.ReconciliationRuns.WithLabelValues("complete").Inc()
	return res, nil
}
