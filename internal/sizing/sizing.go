// Package sizing computes confidence-scaled position sizes.
package sizing

import (
	"errors"
	"fmt"
	"math"

	"disclosure-trading-bot/internal/database"
)

// Errors for sizing calculations
var (
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrInvalidPortfolio = errors.New("portfolio value must be positive")
)

// Result holds a computed position size
type Result struct {
	Shares     int
	TradeValue float64 // shares * price, what the order will actually cost
	TargetValue float64 // capped dollar target before share rounding
	Multiplier float64
}

// Calculate sizes a buy order. The base allocation scales linearly with how
// far confidence sits above the account's floor, then gets capped by the
// per-position and per-trade limits. Shares are whole; fractional remainders
// stay in cash.
func Calculate(portfolioValue, price, confidence float64, cfg *database.RiskConfig) (*Result, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: %.4f", ErrInvalidPrice, price)
	}
	if portfolioValue <= 0 {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidPortfolio, portfolioValue)
	}

	base := portfolioValue * cfg.BasePositionSizePct

	norm := 1.0
	if cfg.MinConfidenceThreshold < 1 {
		norm = (confidence - cfg.MinConfidenceThreshold) / (1 - cfg.MinConfidenceThreshold)
	}
	norm = math.Max(0, math.Min(1, norm))

	multiplier := 1 + norm*(cfg.ConfidenceMultiplier-1)

	target := base * multiplier
	target = math.Min(target, portfolioValue*cfg.MaxPositionSizePct)
	target = math.Min(target, portfolioValue*cfg.MaxSingleTradePct)

	shares := int(math.Floor(target / price))

	return &Result{
		Shares:      shares,
		TradeValue:  float64(shares) * price,
		TargetValue: target,
		Multiplier:  multiplier,
	}, nil
}

// StopLoss returns the stop price for an entry fill
func StopLoss(entryPrice float64, cfg *database.RiskConfig) float64 {
	return entryPrice * (1 - cfg.DefaultStopLossPct)
}

// TakeProfit returns the target price for an entry fill
func TakeProfit(entryPrice float64, cfg *database.RiskConfig) float64 {
	return entryPrice * (1 + cfg.DefaultTakeProfitPct)
}
