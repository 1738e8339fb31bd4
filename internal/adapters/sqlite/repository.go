package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

// Repository implements the ports.StrategyRepository and
// ports.TradeRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradebridge.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency: the reconciliation loop and close
	// workflow write from separate goroutines.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS strategies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_dry_run INTEGER NOT NULL DEFAULT 0,
		is_testnet INTEGER NOT NULL DEFAULT 1,
		default_quantity REAL NOT NULL DEFAULT 0,
		api_key TEXT NOT NULL DEFAULT '',
		api_secret TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL DEFAULT NULL,
		status TEXT NOT NULL,
		exchange_order_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		exit_price REAL DEFAULT NULL,
		close_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades (strategy_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StrategyRepository Implementation ---

// CreateStrategy saves a new strategy, assigning an ID if missing.
func (r *Repository) CreateStrategy(ctx context.Context, s *domain.Strategy) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	const query = `
	INSERT INTO strategies (id, name, symbol, exchange, is_active, is_dry_run, is_testnet,
	                        default_quantity, api_key, api_secret, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Name, s.Symbol, s.Exchange, s.IsActive, s.IsDryRun, s.IsTestnet,
		s.DefaultQuantity, s.APIKey, s.APISecret, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert strategy %s: %w", s.Name, err)
	}
	r.logger.Debug(ctx, "Strategy created", map[string]interface{}{"strategyID": s.ID, "name": s.Name})
	return nil
}

// FindStrategyByID retrieves a strategy by its ID. Returns nil, nil if not found.
func (r *Repository) FindStrategyByID(ctx context.Context, id string) (*domain.Strategy, error) {
	const query = `
	SELECT id, name, symbol, exchange, is_active, is_dry_run, is_testnet,
	       default_quantity, api_key, api_secret, created_at, updated_at
	FROM strategies WHERE id = ?`

	s, err := scanStrategy(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query strategy %s: %w", id, err)
	}
	return s, nil
}

// FindAllStrategies retrieves all strategies, newest first.
func (r *Repository) FindAllStrategies(ctx context.Context) ([]*domain.Strategy, error) {
	const query = `
	SELECT id, name, symbol, exchange, is_active, is_dry_run, is_testnet,
	       default_quantity, api_key, api_secret, created_at, updated_at
	FROM strategies ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	strategies := make([]*domain.Strategy, 0)
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		strategies = append(strategies, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy rows: %w", err)
	}
	return strategies, nil
}

// UpdateStrategy modifies an existing strategy.
func (r *Repository) UpdateStrategy(ctx context.Context, s *domain.Strategy) error {
	s.UpdatedAt = time.Now().UTC()

	const query = `
	UPDATE strategies
	SET name = ?, symbol = ?, exchange = ?, is_active = ?, is_dry_run = ?, is_testnet = ?,
	    default_quantity = ?, api_key = ?, api_secret = ?, updated_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		s.Name, s.Symbol, s.Exchange, s.IsActive, s.IsDryRun, s.IsTestnet,
		s.DefaultQuantity, s.APIKey, s.APISecret, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update strategy %s: %w", s.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for strategy %s: %w", s.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("strategy %s not found for update: %w", s.ID, ports.ErrNotFound)
	}
	return nil
}

// DeleteStrategy removes a strategy. Trades referencing it are kept.
func (r *Repository) DeleteStrategy(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete strategy %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete strategy %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("strategy %s not found for delete: %w", id, ports.ErrNotFound)
	}
	r.logger.Info(ctx, "Strategy deleted", map[string]interface{}{"strategyID": id})
	return nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record, assigning an ID if missing.
func (r *Repository) CreateTrade(ctx context.Context, t *domain.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	const query = `
	INSERT INTO trades (id, strategy_id, symbol, side, type, entry_price, quantity, pnl,
	                    status, exchange_order_id, error, exit_price, close_reason, version,
	                    created_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.StrategyID, t.Symbol, t.Side, t.Type, t.EntryPrice, t.Quantity,
		nullFloat(t.PNL), t.Status, t.ExchangeOrderID, t.Error, nullFloat(t.ExitPrice),
		t.CloseReason, t.Version, t.CreatedAt, nullTime(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("failed to insert trade for symbol %s: %w", t.Symbol, err)
	}
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "status": t.Status})
	return nil
}

const tradeColumns = `id, strategy_id, symbol, side, type, entry_price, quantity, pnl,
	       status, exchange_order_id, error, exit_price, close_reason, version,
	       created_at, closed_at`

// FindTradeByID retrieves a trade by its ID. Returns nil, nil if not found.
func (r *Repository) FindTradeByID(ctx context.Context, id string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	t, err := scanTrade(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", id, err)
	}
	return t, nil
}

// FindTradesByStatus retrieves all trades with the given status, newest first.
func (r *Repository) FindTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades with status %s: %w", status, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindRecentTrades retrieves the most recent trades, up to a limit.
func (r *Repository) FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// UpdateTradePNL persists a recomputed unrealized P&L for an open trade.
// The version guard prevents a stale reconciliation write from clobbering
// a concurrent close.
func (r *Repository) UpdateTradePNL(ctx context.Context, id string, pnl float64, version int64) error {
	const query = `
	UPDATE trades SET pnl = ?, version = version + 1
	WHERE id = ? AND status = ? AND version = ?`

	result, err := r.db.ExecContext(ctx, query, pnl, id, domain.StatusOpen, version)
	if err != nil {
		return fmt.Errorf("failed to update pnl for trade %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

// CloseTrade marks a trade terminal with its closing details. The trade's
// Version field guards against concurrent writers.
func (r *Repository) CloseTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET status = ?, pnl = ?, exit_price = ?, close_reason = ?, error = ?,
	    closed_at = ?, version = version + 1
	WHERE id = ? AND version = ?`

	result, err := r.db.ExecContext(ctx, query,
		t.Status, nullFloat(t.PNL), nullFloat(t.ExitPrice), t.CloseReason, t.Error,
		nullTime(t.ClosedAt), t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("failed to close trade %s: %w", t.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return r.conflictOrNotFound(ctx, t.ID)
	}
	t.Version++
	r.logger.Debug(ctx, "Trade closed", map[string]interface{}{"tradeID": t.ID, "status": t.Status})
	return nil
}

// conflictOrNotFound disambiguates a zero-row update: the record either
// does not exist or was modified by a concurrent writer.
func (r *Repository) conflictOrNotFound(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check trade %s existence: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
	}
	return fmt.Errorf("trade %s: %w", id, ports.ErrConflict)
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStrategy(s scanner) (*domain.Strategy, error) {
	st := &domain.Strategy{}
	var exchange string
	err := s.Scan(
		&st.ID, &st.Name, &st.Symbol, &exchange, &st.IsActive, &st.IsDryRun, &st.IsTestnet,
		&st.DefaultQuantity, &st.APIKey, &st.APISecret, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Exchange = domain.Exchange(exchange)
	return st, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, orderType, status, closeReason string
	var pnl, exitPrice sql.NullFloat64
	var closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.StrategyID, &t.Symbol, &side, &orderType, &t.EntryPrice, &t.Quantity, &pnl,
		&status, &t.ExchangeOrderID, &t.Error, &exitPrice, &closeReason, &t.Version,
		&t.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.Type = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	t.CloseReason = domain.CloseReason(closeReason)
	if pnl.Valid {
		t.PNL = &pnl.Float64
	}
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
