// Package engine runs the per-account processing passes: signal execution
// and exit monitoring.
package engine

import (
	"context"
	"time"

	"disclosure-trading-bot/internal/database"
)

// Store defines the persistence the engine needs. *database.Repository
// satisfies it.
type Store interface {
	GetPendingSignals(ctx context.Context, limit int) ([]*database.Signal, error)
	MarkSignal(ctx context.Context, id int64, status, reason string) error

	CreatePosition(ctx context.Context, p *database.Position) error
	GetOpenPositions(ctx context.Context, accountID, mode string) ([]*database.Position, error)
	UpdatePositionMark(ctx context.Context, id int64, currentPrice, marketValue, unrealizedPL float64) error
	ClosePosition(ctx context.Context, id int64, exitPrice, realizedPL float64, exitReason string, exitDate time.Time) error

	GetPortfolioState(ctx context.Context, accountID, mode string) (*database.PortfolioState, error)
	SavePortfolioState(ctx context.Context, s *database.PortfolioState) error
	GetRiskConfig(ctx context.Context, accountID string) (*database.RiskConfig, error)

	CreateTradeRecord(ctx context.Context, t *database.TradeRecord) error
}

var _ Store = (*database.Repository)(nil)
