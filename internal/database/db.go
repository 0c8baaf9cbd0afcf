package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logging.WithComponent("database")
	log.Info("connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("running database migrations")

	migrations := []string{
		// Signal queue written by the scoring pipeline, consumed here
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			ticker VARCHAR(10) NOT NULL,
			asset_name VARCHAR(200),
			signal_class VARCHAR(20) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			reason TEXT,
			queued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_queued_at ON signals(queued_at)`,

		// Positions per account and trading mode
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			account_id VARCHAR(50) NOT NULL,
			trading_mode VARCHAR(10) NOT NULL,
			ticker VARCHAR(10) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			entry_date TIMESTAMP NOT NULL,
			stop_loss_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			take_profit_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			current_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			market_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_pl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			is_open BOOLEAN NOT NULL DEFAULT TRUE,
			exit_price DECIMAL(20, 8),
			exit_date TIMESTAMP,
			exit_reason VARCHAR(20),
			realized_pl DECIMAL(20, 8),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id, trading_mode)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(is_open)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_ticker
			ON positions(account_id, trading_mode, ticker) WHERE is_open`,

		// Per-account aggregate, one row per account/mode pair
		`CREATE TABLE IF NOT EXISTS portfolio_states (
			account_id VARCHAR(50) NOT NULL,
			trading_mode VARCHAR(10) NOT NULL,
			cash DECIMAL(20, 8) NOT NULL DEFAULT 0,
			buying_power DECIMAL(20, 8) NOT NULL DEFAULT 0,
			positions_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			portfolio_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			open_positions INT NOT NULL DEFAULT 0,
			trades_today INT NOT NULL DEFAULT 0,
			last_trade_date DATE,
			total_trades INT NOT NULL DEFAULT 0,
			winning_trades INT NOT NULL DEFAULT 0,
			losing_trades INT NOT NULL DEFAULT 0,
			peak_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			max_drawdown DECIMAL(10, 6) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account_id, trading_mode)
		)`,

		// Per-account sizing and eligibility limits
		`CREATE TABLE IF NOT EXISTS risk_configs (
			account_id VARCHAR(50) PRIMARY KEY,
			base_position_size_pct DECIMAL(6, 4) NOT NULL,
			confidence_multiplier DECIMAL(6, 4) NOT NULL,
			max_position_size_pct DECIMAL(6, 4) NOT NULL,
			max_single_trade_pct DECIMAL(6, 4) NOT NULL,
			max_portfolio_positions INT NOT NULL,
			max_daily_trades INT NOT NULL,
			min_confidence_threshold DECIMAL(5, 4) NOT NULL,
			default_stop_loss_pct DECIMAL(6, 4) NOT NULL,
			default_take_profit_pct DECIMAL(6, 4) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		// Strategy replication enrollment, one active row per account
		`CREATE TABLE IF NOT EXISTS subscriptions (
			account_id VARCHAR(50) PRIMARY KEY,
			strategy_type VARCHAR(20) NOT NULL,
			weight_parameters JSONB,
			reference_account VARCHAR(50),
			trading_mode VARCHAR(10) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_synced_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(is_active)`,

		// Append-only audit trail, one row per order attempt
		`CREATE TABLE IF NOT EXISTS trade_records (
			id BIGSERIAL PRIMARY KEY,
			account_id VARCHAR(50) NOT NULL,
			trading_mode VARCHAR(10) NOT NULL,
			ticker VARCHAR(10) NOT NULL,
			side VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			signal_id BIGINT REFERENCES signals(id) ON DELETE SET NULL,
			order_id VARCHAR(64),
			client_order_id VARCHAR(64) UNIQUE,
			status VARCHAR(20) NOT NULL,
			error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_account ON trade_records(account_id, trading_mode)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_created_at ON trade_records(created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
