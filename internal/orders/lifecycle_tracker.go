package orders

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"disclosure-trading-bot/internal/database"
)

// Trade record status constants
const (
	StatusFilled   = "filled"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// TradeRecordRepository defines the persistence needed by the tracker
type TradeRecordRepository interface {
	CreateTradeRecord(ctx context.Context, t *database.TradeRecord) error
}

// LifecycleTracker appends an audit row for every order attempt, filled or
// not. The audit trail is append-only.
type LifecycleTracker struct {
	repo   TradeRecordRepository
	logger zerolog.Logger
}

// NewLifecycleTracker creates a LifecycleTracker
func NewLifecycleTracker(repo TradeRecordRepository, logger zerolog.Logger) *LifecycleTracker {
	return &LifecycleTracker{
		repo:   repo,
		logger: logger.With().Str("component", "LifecycleTracker").Logger(),
	}
}

// RecordFill records a completed order
func (lt *LifecycleTracker) RecordFill(ctx context.Context, accountID, mode, ticker, side string, qty, price float64, signalID *int64, orderID, clientOrderID string) error {
	rec := &database.TradeRecord{
		AccountID:     accountID,
		TradingMode:   mode,
		Ticker:        ticker,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		SignalID:      signalID,
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		Status:        StatusFilled,
		CreatedAt:     time.Now().UTC(),
	}
	if err := lt.repo.CreateTradeRecord(ctx, rec); err != nil {
		lt.logger.Error().
			Err(err).
			Str("ticker", ticker).
			Str("client_order_id", clientOrderID).
			Msg("Failed to persist trade record")
		return err
	}

	lt.logger.Info().
		Str("account_id", accountID).
		Str("ticker", ticker).
		Str("side", side).
		Float64("qty", qty).
		Float64("price", price).
		Str("client_order_id", clientOrderID).
		Msg("Trade recorded")
	return nil
}

// RecordFailure records a rejected or failed order attempt
func (lt *LifecycleTracker) RecordFailure(ctx context.Context, accountID, mode, ticker, side string, qty float64, signalID *int64, clientOrderID, status string, attemptErr error) error {
	errMsg := attemptErr.Error()
	rec := &database.TradeRecord{
		AccountID:     accountID,
		TradingMode:   mode,
		Ticker:        ticker,
		Side:          side,
		Quantity:      qty,
		SignalID:      signalID,
		ClientOrderID: clientOrderID,
		Status:        status,
		Error:         &errMsg,
		CreatedAt:     time.Now().UTC(),
	}
	if err := lt.repo.CreateTradeRecord(ctx, rec); err != nil {
		lt.logger.Error().
			Err(err).
			Str("ticker", ticker).
			Str("client_order_id", clientOrderID).
			Msg("Failed to persist trade record")
		return err
	}

	lt.logger.Warn().
		Str("account_id", accountID).
		Str("ticker", ticker).
		Str("side", side).
		Str("status", status).
		Err(attemptErr).
		Msg("Order attempt failed")
	return nil
}
