package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, cash, initial_balance, total_deposits, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)`,
		a.UserID, a.Cash.String(), a.InitialBalance.String(), a.TotalDeposits.String(), a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrAccountExists
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	var cash, initial, deposits string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, cash::TEXT, initial_balance::TEXT, total_deposits::TEXT, created_at
		 FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &cash, &initial, &deposits, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.Cash, _ = decimal.NewFromString(cash)
	a.InitialBalance, _ = decimal.NewFromString(initial)
	a.TotalDeposits, _ = decimal.NewFromString(deposits)
	return &a, nil
}

func (s *PostgresStore) AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts
		 SET cash = cash + $2::NUMERIC, total_deposits = total_deposits + $2::NUMERIC
		 WHERE user_id = $1`,
		userID, amount.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("add funds for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var p model.Position
	var qty, avg string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, symbol, quantity::TEXT, avg_cost_basis::TEXT
		 FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol).
		Scan(&p.ID, &p.UserID, &p.Symbol, &qty, &avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgCostBasis, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, quantity::TEXT, avg_cost_basis::TEXT
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, avg string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &qty, &avg); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.AvgCostBasis, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- Trades ---

const tradeColumns = `id, user_id, symbol, side, quantity::TEXT, price_per_share::TEXT,
	total_amount::TEXT, executed_at, valuation_date, is_historical`

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 ORDER BY executed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListRecentTrades(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	// limit <= 0 means the full log; a NULL LIMIT is no limit.
	var n *int
	if limit > 0 {
		n = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 ORDER BY executed_at DESC LIMIT $2`,
		userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ApplyTrade runs the account update, position change, and trade insert
// in one transaction. Partial application is the defect class the
// reconcile package exists to repair; it must not happen here.
func (s *PostgresStore) ApplyTrade(ctx context.Context, app TradeApplication) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE user_id = $1`,
		app.UserID, app.NewCash.String(),
	); err != nil {
		return fmt.Errorf("update cash: %w", err)
	}

	switch app.PositionChange {
	case PositionCreate:
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (id, user_id, symbol, quantity, avg_cost_basis)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			app.Position.ID, app.Position.UserID, app.Position.Symbol,
			app.Position.Quantity.String(), app.Position.AvgCostBasis.String(),
		); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
	case PositionUpdate:
		if _, err := tx.Exec(ctx,
			`UPDATE positions SET quantity = $2::NUMERIC, avg_cost_basis = $3::NUMERIC WHERE id = $1`,
			app.Position.ID, app.Position.Quantity.String(), app.Position.AvgCostBasis.String(),
		); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
	case PositionDelete:
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE id = $1`, app.Position.ID,
		); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
	default:
		return fmt.Errorf("unknown position change %q", app.PositionChange)
	}

	t := app.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, quantity, price_per_share,
		                     total_amount, executed_at, valuation_date, is_historical)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		t.ID, t.UserID, t.Symbol, t.Side,
		t.Quantity.String(), t.PricePerShare.String(), t.TotalAmount.String(),
		t.ExecutedAt, t.ValuationDate, t.IsHistorical,
	); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return tx.Commit(ctx)
}

// --- Snapshots ---

func (s *PostgresStore) ListSnapshots(ctx context.Context, userID string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, timestamp, total_value::TEXT, cash::TEXT, positions_value::TEXT
		 FROM portfolio_snapshots WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		var total, cash, positions string
		if err := rows.Scan(&snap.ID, &snap.UserID, &snap.Timestamp, &total, &cash, &positions); err != nil {
			return nil, err
		}
		snap.TotalValue, _ = decimal.NewFromString(total)
		snap.Cash, _ = decimal.NewFromString(cash)
		snap.PositionsValue, _ = decimal.NewFromString(positions)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (id, user_id, timestamp, total_value, cash, positions_value)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
		snap.ID, snap.UserID, snap.Timestamp,
		snap.TotalValue.String(), snap.Cash.String(), snap.PositionsValue.String(),
	)
	return err
}

// --- Reconciliation phase writes ---

func (s *PostgresStore) SetAccountCash(ctx context.Context, userID string, cash decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE user_id = $1`,
		userID, cash.String())
	if err != nil {
		return fmt.Errorf("set cash for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAllPositions(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete positions for %s: %w", userID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreatePositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (id, user_id, symbol, quantity, avg_cost_basis)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			p.ID, p.UserID, p.Symbol, p.Quantity.String(), p.AvgCostBasis.String(),
		); err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}
	return tx.Commit(ctx)
}

// scanTrades reads pgx rows into Trade slices.
func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, total string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side,
			&qty, &price, &total,
			&t.ExecutedAt, &t.ValuationDate, &t.IsHistorical); err != nil {
			return nil, err
		}

		t.Quantity, _ = decimal.NewFromString(qty)
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.TotalAmount, _ = decimal.NewFromString(total)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
