package database

import "time"

// Signal statuses. A signal is consumed exactly once; the status transition
// out of pending is terminal.
const (
	SignalPending  = "pending"
	SignalExecuted = "executed"
	SignalSkipped  = "skipped"
	SignalFailed   = "failed"
)

// Signal classes produced by the scoring pipeline
const (
	ClassStrongBuy  = "strong_buy"
	ClassBuy        = "buy"
	ClassHold       = "hold"
	ClassSell       = "sell"
	ClassStrongSell = "strong_sell"
)

// Exit reasons recorded when a position closes
const (
	ExitStopLoss       = "stop_loss"
	ExitTakeProfit     = "take_profit"
	ExitReconciliation = "reconciliation"
)

// Trading modes
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Signal is a scored trading recommendation queued by the scoring
// pipeline. Immutable once queued, apart from its terminal status.
type Signal struct {
	ID          int64      `json:"id"`
	Ticker      string     `json:"ticker"`
	AssetName   string     `json:"asset_name"`
	SignalClass string     `json:"signal_class"`
	Confidence  float64    `json:"confidence"`
	Status      string     `json:"status"`
	Reason      *string    `json:"reason,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Position is an account's current or closed holding in one ticker
type Position struct {
	ID              int64      `json:"id"`
	AccountID       string     `json:"account_id"`
	TradingMode     string     `json:"trading_mode"`
	Ticker          string     `json:"ticker"`
	Quantity        float64    `json:"quantity"`
	EntryPrice      float64    `json:"entry_price"`
	EntryDate       time.Time  `json:"entry_date"`
	StopLossPrice   float64    `json:"stop_loss_price"`
	TakeProfitPrice float64    `json:"take_profit_price"`
	CurrentPrice    float64    `json:"current_price"`
	MarketValue     float64    `json:"market_value"`
	UnrealizedPL    float64    `json:"unrealized_pl"`
	IsOpen          bool       `json:"is_open"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ExitDate        *time.Time `json:"exit_date,omitempty"`
	ExitReason      *string    `json:"exit_reason,omitempty"`
	RealizedPL      *float64   `json:"realized_pl,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PortfolioState is the per-account aggregate, one row per account/mode.
// Invariants: portfolio_value == cash + positions_value, and open_positions
// equals the count of open Position rows.
type PortfolioState struct {
	AccountID      string     `json:"account_id"`
	TradingMode    string     `json:"trading_mode"`
	Cash           float64    `json:"cash"`
	BuyingPower    float64    `json:"buying_power"`
	PositionsValue float64    `json:"positions_value"`
	PortfolioValue float64    `json:"portfolio_value"`
	OpenPositions  int        `json:"open_positions"`
	TradesToday    int        `json:"trades_today"`
	LastTradeDate  *time.Time `json:"last_trade_date,omitempty"`
	TotalTrades    int        `json:"total_trades"`
	WinningTrades  int        `json:"winning_trades"`
	LosingTrades   int        `json:"losing_trades"`
	PeakValue      float64    `json:"peak_value"`
	MaxDrawdown    float64    `json:"max_drawdown"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RiskConfig holds per-account sizing and eligibility limits. Read once per
// pass; edits take effect on the next pass.
type RiskConfig struct {
	AccountID              string  `json:"account_id"`
	BasePositionSizePct    float64 `json:"base_position_size_pct"`
	ConfidenceMultiplier   float64 `json:"confidence_multiplier"`
	MaxPositionSizePct     float64 `json:"max_position_size_pct"`
	MaxSingleTradePct      float64 `json:"max_single_trade_pct"`
	MaxPortfolioPositions  int     `json:"max_portfolio_positions"`
	MaxDailyTrades         int     `json:"max_daily_trades"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	DefaultStopLossPct     float64 `json:"default_stop_loss_pct"`
	DefaultTakeProfitPct   float64 `json:"default_take_profit_pct"`
	IsActive               bool    `json:"is_active"`
}

// DefaultRiskConfig returns conservative limits used when an account has no
// stored risk configuration.
func DefaultRiskConfig(accountID string) *RiskConfig {
	return &RiskConfig{
		AccountID:              accountID,
		BasePositionSizePct:    0.05,
		ConfidenceMultiplier:   2.0,
		MaxPositionSizePct:     0.10,
		MaxSingleTradePct:      0.10,
		MaxPortfolioPositions:  20,
		MaxDailyTrades:         10,
		MinConfidenceThreshold: 0.6,
		DefaultStopLossPct:     0.10,
		DefaultTakeProfitPct:   0.20,
		IsActive:               true,
	}
}

// Subscription strategy types
const (
	StrategyReference = "reference"
	StrategyPreset    = "preset"
	StrategyCustom    = "custom"
)

// Subscription enrolls an account in strategy replication. One active
// subscription per account; a new one replaces the old (upsert).
type Subscription struct {
	AccountID        string             `json:"account_id"`
	StrategyType     string             `json:"strategy_type"`
	WeightParameters map[string]float64 `json:"weight_parameters"`
	ReferenceAccount string             `json:"reference_account,omitempty"`
	TradingMode      string             `json:"trading_mode"`
	IsActive         bool               `json:"is_active"`
	LastSyncedAt     *time.Time         `json:"last_synced_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// TradeRecord is the append-only audit row for every order attempt. It is
// the only source of truth for "did we already act on this."
type TradeRecord struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"account_id"`
	TradingMode   string    `json:"trading_mode"`
	Ticker        string    `json:"ticker"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	SignalID      *int64    `json:"signal_id,omitempty"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
