package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNALS
// ============================================================================

// CreateSignal queues a new pending signal
func (r *Repository) CreateSignal(ctx context.Context, s *Signal) error {
	query := `
		INSERT INTO signals (ticker, asset_name, signal_class, confidence, status, queued_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING id
	`
	if s.QueuedAt.IsZero() {
		s.QueuedAt = time.Now().UTC()
	}
	s.Status = SignalPending
	return r.db.Pool.QueryRow(ctx, query,
		s.Ticker, s.AssetName, s.SignalClass, s.Confidence, s.QueuedAt,
	).Scan(&s.ID)
}

// GetPendingSignals retrieves pending signals in queue order, oldest first
func (r *Repository) GetPendingSignals(ctx context.Context, limit int) ([]*Signal, error) {
	query := `
		SELECT id, ticker, asset_name, signal_class, confidence, status, reason, queued_at, processed_at
		FROM signals
		WHERE status = 'pending'
		ORDER BY queued_at, id
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		s := &Signal{}
		if err := rows.Scan(&s.ID, &s.Ticker, &s.AssetName, &s.SignalClass, &s.Confidence,
			&s.Status, &s.Reason, &s.QueuedAt, &s.ProcessedAt); err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// MarkSignal records a signal's terminal status with a reason
func (r *Repository) MarkSignal(ctx context.Context, id int64, status, reason string) error {
	query := `
		UPDATE signals
		SET status = $2, reason = $3, processed_at = $4
		WHERE id = $1 AND status = 'pending'
	`
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	_, err := r.db.Pool.Exec(ctx, query, id, status, reasonPtr, time.Now().UTC())
	return err
}

// GetTopBuyTickers returns distinct tickers from buy-class signals at or
// above the confidence floor, strongest first. Used to build preset/custom
// replication targets.
func (r *Repository) GetTopBuyTickers(ctx context.Context, minConfidence float64, limit int) ([]string, error) {
	query := `
		SELECT ticker, MAX(confidence) AS best
		FROM signals
		WHERE signal_class IN ('buy', 'strong_buy') AND confidence >= $1
		GROUP BY ticker
		ORDER BY best DESC, ticker
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, minConfidence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		var best float64
		if err := rows.Scan(&ticker, &best); err != nil {
			return nil, err
		}
		tickers = append(tickers, ticker)
	}
	return tickers, rows.Err()
}

// ============================================================================
// POSITIONS
// ============================================================================

// CreatePosition inserts a new open position
func (r *Repository) CreatePosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (account_id, trading_mode, ticker, quantity, entry_price, entry_date,
			stop_loss_price, take_profit_price, current_price, market_value, unrealized_pl, is_open)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		RETURNING id, created_at, updated_at
	`
	p.IsOpen = true
	return r.db.Pool.QueryRow(ctx, query,
		p.AccountID, p.TradingMode, p.Ticker, p.Quantity, p.EntryPrice, p.EntryDate,
		p.StopLossPrice, p.TakeProfitPrice, p.CurrentPrice, p.MarketValue, p.UnrealizedPL,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetOpenPositions retrieves open positions for one account/mode pair,
// oldest entry first so exit scans run in a deterministic order
func (r *Repository) GetOpenPositions(ctx context.Context, accountID, mode string) ([]*Position, error) {
	query := `
		SELECT id, account_id, trading_mode, ticker, quantity, entry_price, entry_date,
		       stop_loss_price, take_profit_price, current_price, market_value, unrealized_pl,
		       is_open, exit_price, exit_date, exit_reason, realized_pl, created_at, updated_at
		FROM positions
		WHERE account_id = $1 AND trading_mode = $2 AND is_open
		ORDER BY entry_date, id
	`
	rows, err := r.db.Pool.Query(ctx, query, accountID, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p := &Position{}
		if err := scanPosition(rows, p); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetOpenPosition retrieves the open position for a ticker, nil when the
// account does not hold it
func (r *Repository) GetOpenPosition(ctx context.Context, accountID, mode, ticker string) (*Position, error) {
	query := `
		SELECT id, account_id, trading_mode, ticker, quantity, entry_price, entry_date,
		       stop_loss_price, take_profit_price, current_price, market_value, unrealized_pl,
		       is_open, exit_price, exit_date, exit_reason, realized_pl, created_at, updated_at
		FROM positions
		WHERE account_id = $1 AND trading_mode = $2 AND ticker = $3 AND is_open
	`
	p := &Position{}
	row := r.db.Pool.QueryRow(ctx, query, accountID, mode, ticker)
	if err := scanPosition(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// UpdatePositionMark refreshes a position's current price and derived values
func (r *Repository) UpdatePositionMark(ctx context.Context, id int64, currentPrice, marketValue, unrealizedPL float64) error {
	query := `
		UPDATE positions
		SET current_price = $2, market_value = $3, unrealized_pl = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, currentPrice, marketValue, unrealizedPL)
	return err
}

// OverwritePosition replaces a position's broker-owned fields during
// reconciliation. The broker is the source of truth for quantity and price.
func (r *Repository) OverwritePosition(ctx context.Context, id int64, quantity, entryPrice, currentPrice, marketValue, unrealizedPL float64) error {
	query := `
		UPDATE positions
		SET quantity = $2, entry_price = $3, current_price = $4, market_value = $5,
		    unrealized_pl = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, quantity, entryPrice, currentPrice, marketValue, unrealizedPL)
	return err
}

// ClosePosition marks a position closed, recording the exit
func (r *Repository) ClosePosition(ctx context.Context, id int64, exitPrice, realizedPL float64, exitReason string, exitDate time.Time) error {
	query := `
		UPDATE positions
		SET is_open = FALSE, exit_price = $2, exit_date = $3, exit_reason = $4,
		    realized_pl = $5, market_value = 0, unrealized_pl = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND is_open
	`
	_, err := r.db.Pool.Exec(ctx, query, id, exitPrice, exitDate, exitReason, realizedPL)
	return err
}

// CountOpenPositions counts open positions for one account/mode pair
func (r *Repository) CountOpenPositions(ctx context.Context, accountID, mode string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE account_id = $1 AND trading_mode = $2 AND is_open`,
		accountID, mode,
	).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner, p *Position) error {
	return row.Scan(
		&p.ID, &p.AccountID, &p.TradingMode, &p.Ticker, &p.Quantity, &p.EntryPrice, &p.EntryDate,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.CurrentPrice, &p.MarketValue, &p.UnrealizedPL,
		&p.IsOpen, &p.ExitPrice, &p.ExitDate, &p.ExitReason, &p.RealizedPL, &p.CreatedAt, &p.UpdatedAt,
	)
}

// ============================================================================
// PORTFOLIO STATE
// ============================================================================

// GetPortfolioState loads the aggregate row for an account/mode pair, nil
// when the account has never traded
func (r *Repository) GetPortfolioState(ctx context.Context, accountID, mode string) (*PortfolioState, error) {
	query := `
		SELECT account_id, trading_mode, cash, buying_power, positions_value, portfolio_value,
		       open_positions, trades_today, last_trade_date, total_trades, winning_trades,
		       losing_trades, peak_value, max_drawdown, updated_at
		FROM portfolio_states
		WHERE account_id = $1 AND trading_mode = $2
	`
	s := &PortfolioState{}
	err := r.db.Pool.QueryRow(ctx, query, accountID, mode).Scan(
		&s.AccountID, &s.TradingMode, &s.Cash, &s.BuyingPower, &s.PositionsValue, &s.PortfolioValue,
		&s.OpenPositions, &s.TradesToday, &s.LastTradeDate, &s.TotalTrades, &s.WinningTrades,
		&s.LosingTrades, &s.PeakValue, &s.MaxDrawdown, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// SavePortfolioState upserts the aggregate row. Called once per pass after
// all of the pass's mutations are applied in memory.
func (r *Repository) SavePortfolioState(ctx context.Context, s *PortfolioState) error {
	query := `
		INSERT INTO portfolio_states (account_id, trading_mode, cash, buying_power, positions_value,
			portfolio_value, open_positions, trades_today, last_trade_date, total_trades,
			winning_trades, losing_trades, peak_value, max_drawdown, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, CURRENT_TIMESTAMP)
		ON CONFLICT (account_id, trading_mode) DO UPDATE SET
			cash = EXCLUDED.cash,
			buying_power = EXCLUDED.buying_power,
			positions_value = EXCLUDED.positions_value,
			portfolio_value = EXCLUDED.portfolio_value,
			open_positions = EXCLUDED.open_positions,
			trades_today = EXCLUDED.trades_today,
			last_trade_date = EXCLUDED.last_trade_date,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			peak_value = EXCLUDED.peak_value,
			max_drawdown = EXCLUDED.max_drawdown,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.AccountID, s.TradingMode, s.Cash, s.BuyingPower, s.PositionsValue, s.PortfolioValue,
		s.OpenPositions, s.TradesToday, s.LastTradeDate, s.TotalTrades, s.WinningTrades,
		s.LosingTrades, s.PeakValue, s.MaxDrawdown,
	)
	return err
}

// ============================================================================
// RISK CONFIG
// ============================================================================

// GetRiskConfig loads an account's risk configuration, falling back to the
// conservative defaults when the account has none
func (r *Repository) GetRiskConfig(ctx context.Context, accountID string) (*RiskConfig, error) {
	query := `
		SELECT account_id, base_position_size_pct, confidence_multiplier, max_position_size_pct,
		       max_single_trade_pct, max_portfolio_positions, max_daily_trades,
		       min_confidence_threshold, default_stop_loss_pct, default_take_profit_pct, is_active
		FROM risk_configs
		WHERE account_id = $1
	`
	c := &RiskConfig{}
	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(
		&c.AccountID, &c.BasePositionSizePct, &c.ConfidenceMultiplier, &c.MaxPositionSizePct,
		&c.MaxSingleTradePct, &c.MaxPortfolioPositions, &c.MaxDailyTrades,
		&c.MinConfidenceThreshold, &c.DefaultStopLossPct, &c.DefaultTakeProfitPct, &c.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultRiskConfig(accountID), nil
		}
		return nil, err
	}
	return c, nil
}

// SaveRiskConfig upserts an account's risk configuration
func (r *Repository) SaveRiskConfig(ctx context.Context, c *RiskConfig) error {
	query := `
		INSERT INTO risk_configs (account_id, base_position_size_pct, confidence_multiplier,
			max_position_size_pct, max_single_trade_pct, max_portfolio_positions, max_daily_trades,
			min_confidence_threshold, default_stop_loss_pct, default_take_profit_pct, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id) DO UPDATE SET
			base_position_size_pct = EXCLUDED.base_position_size_pct,
			confidence_multiplier = EXCLUDED.confidence_multiplier,
			max_position_size_pct = EXCLUDED.max_position_size_pct,
			max_single_trade_pct = EXCLUDED.max_single_trade_pct,
			max_portfolio_positions = EXCLUDED.max_portfolio_positions,
			max_daily_trades = EXCLUDED.max_daily_trades,
			min_confidence_threshold = EXCLUDED.min_confidence_threshold,
			default_stop_loss_pct = EXCLUDED.default_stop_loss_pct,
			default_take_profit_pct = EXCLUDED.default_take_profit_pct,
			is_active = EXCLUDED.is_active
	`
	_, err := r.db.Pool.Exec(ctx, query,
		c.AccountID, c.BasePositionSizePct, c.ConfidenceMultiplier, c.MaxPositionSizePct,
		c.MaxSingleTradePct, c.MaxPortfolioPositions, c.MaxDailyTrades,
		c.MinConfidenceThreshold, c.DefaultStopLossPct, c.DefaultTakeProfitPct, c.IsActive,
	)
	return err
}

// ============================================================================
// SUBSCRIPTIONS
// ============================================================================

// UpsertSubscription replaces an account's subscription
func (r *Repository) UpsertSubscription(ctx context.Context, s *Subscription) error {
	params, err := json.Marshal(s.WeightParameters)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO subscriptions (account_id, strategy_type, weight_parameters, reference_account,
			trading_mode, is_active, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			strategy_type = EXCLUDED.strategy_type,
			weight_parameters = EXCLUDED.weight_parameters,
			reference_account = EXCLUDED.reference_account,
			trading_mode = EXCLUDED.trading_mode,
			is_active = EXCLUDED.is_active,
			updated_at = CURRENT_TIMESTAMP
	`
	var ref *string
	if s.ReferenceAccount != "" {
		ref = &s.ReferenceAccount
	}
	_, err = r.db.Pool.Exec(ctx, query,
		s.AccountID, s.StrategyType, params, ref, s.TradingMode, s.IsActive, s.LastSyncedAt,
	)
	return err
}

// GetActiveSubscriptions retrieves active subscriptions in a stable order
func (r *Repository) GetActiveSubscriptions(ctx context.Context) ([]*Subscription, error) {
	query := `
		SELECT account_id, strategy_type, weight_parameters, reference_account, trading_mode,
		       is_active, last_synced_at, created_at, updated_at
		FROM subscriptions
		WHERE is_active
		ORDER BY account_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		s := &Subscription{}
		var params []byte
		var ref *string
		if err := rows.Scan(&s.AccountID, &s.StrategyType, &params, &ref, &s.TradingMode,
			&s.IsActive, &s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if ref != nil {
			s.ReferenceAccount = *ref
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &s.WeightParameters); err != nil {
				return nil, err
			}
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// MarkSubscriptionSynced stamps last_synced_at. Called only after all of an
// account's rebalance trades have been attempted.
func (r *Repository) MarkSubscriptionSynced(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE subscriptions SET last_synced_at = $2, updated_at = CURRENT_TIMESTAMP WHERE account_id = $1`,
		accountID, at,
	)
	return err
}

// ============================================================================
// TRADE RECORDS
// ============================================================================

// CreateTradeRecord appends an audit row for an order attempt
func (r *Repository) CreateTradeRecord(ctx context.Context, t *TradeRecord) error {
	query := `
		INSERT INTO trade_records (account_id, trading_mode, ticker, side, quantity, price,
			signal_id, order_id, client_order_id, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		t.AccountID, t.TradingMode, t.Ticker, t.Side, t.Quantity, t.Price,
		t.SignalID, t.OrderID, t.ClientOrderID, t.Status, t.Error,
	).Scan(&t.ID, &t.CreatedAt)
}

// GetRecentTradeRecords retrieves the most recent audit rows for an account
func (r *Repository) GetRecentTradeRecords(ctx context.Context, accountID, mode string, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT id, account_id, trading_mode, ticker, side, quantity, price, signal_id,
		       order_id, client_order_id, status, error, created_at
		FROM trade_records
		WHERE account_id = $1 AND trading_mode = $2
		ORDER BY id DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, accountID, mode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TradeRecord
	for rows.Next() {
		t := &TradeRecord{}
		if err := rows.Scan(&t.ID, &t.AccountID, &t.TradingMode, &t.Ticker, &t.Side, &t.Quantity,
			&t.Price, &t.SignalID, &t.OrderID, &t.ClientOrderID, &t.Status, &t.Error, &t.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, rows.Err()
}
