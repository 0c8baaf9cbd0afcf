package engine

import (
	"context"
	"fmt"
	"time"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/broker"
	"disclosure-trading-bot/internal/circuit"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/logging"
	"disclosure-trading-bot/internal/orders"
)

// ExitResult summarizes one exit monitoring pass
type ExitResult struct {
	Scanned int `json:"scanned"`
	Closed  int `json:"closed"`
	Errors  int `json:"errors"`
}

// ExitMonitor scans open positions for stop-loss and take-profit triggers.
// A failure on one position never blocks the rest of the scan; the position
// is retried on the next pass.
type ExitMonitor struct {
	store     Store
	client    broker.Client
	tracker   *orders.LifecycleTracker
	idGen     *orders.Generator
	breaker   *circuit.Breaker
	bus       *events.EventBus
	pacer     *broker.Pacer
	log       *logging.Logger
	accountID string
	mode      string
}

// NewExitMonitor creates an exit monitoring pass runner
func NewExitMonitor(store Store, client broker.Client, tracker *orders.LifecycleTracker, idGen *orders.Generator,
	breaker *circuit.Breaker, bus *events.EventBus, cfg config.EngineConfig, accountID, mode string) *ExitMonitor {
	return &ExitMonitor{
		store:     store,
		client:    client,
		tracker:   tracker,
		idGen:     idGen,
		breaker:   breaker,
		bus:       bus,
		pacer:     broker.NewPacer(cfg.OrderDelay()),
		log:       logging.WithComponent("exit_monitor").WithField("account_id", accountID),
		accountID: accountID,
		mode:      mode,
	}
}

// Run scans all open positions once
func (m *ExitMonitor) Run(ctx context.Context) (*ExitResult, error) {
	positions, err := m.store.GetOpenPositions(ctx, m.accountID, m.mode)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}

	result := &ExitResult{}
	if len(positions) == 0 {
		return result, nil
	}

	state, err := m.store.GetPortfolioState(ctx, m.accountID, m.mode)
	if err != nil {
		return nil, fmt.Errorf("load portfolio state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("no portfolio state for account %s/%s", m.accountID, m.mode)
	}

	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			break
		}

		if ok, reason := m.breaker.Allow(); !ok {
			m.log.Warn("Circuit breaker open, aborting pass", "reason", reason)
			break
		}

		result.Scanned++
		if err := m.evaluate(ctx, pos, state, result); err != nil {
			result.Errors++
			m.log.Warn("Position evaluation failed, will retry next pass",
				"ticker", pos.Ticker, "error", err)
		}
	}

	if err := m.store.SavePortfolioState(ctx, state); err != nil {
		return result, fmt.Errorf("save portfolio state: %w", err)
	}
	return result, nil
}

// evaluate refreshes one position's mark and closes it on a trigger
func (m *ExitMonitor) evaluate(ctx context.Context, pos *database.Position, state *database.PortfolioState, result *ExitResult) error {
	quote, err := m.client.GetLatestQuote(ctx, pos.Ticker)
	if err != nil {
		m.breaker.RecordFailure(err)
		return fmt.Errorf("quote fetch: %w", err)
	}
	m.breaker.RecordSuccess()

	price, err := quote.TradePrice()
	if err != nil {
		return err
	}

	prevValue := pos.MarketValue
	marketValue := pos.Quantity * price
	unrealizedPL := pos.Quantity * (price - pos.EntryPrice)
	if err := m.store.UpdatePositionMark(ctx, pos.ID, price, marketValue, unrealizedPL); err != nil {
		return fmt.Errorf("update mark: %w", err)
	}
	state.PositionsValue += marketValue - prevValue
	state.PortfolioValue = state.Cash + state.PositionsValue
	pos.CurrentPrice = price
	pos.MarketValue = marketValue

	var exitReason string
	switch {
	case price <= pos.StopLossPrice:
		exitReason = database.ExitStopLoss
	case price >= pos.TakeProfitPrice:
		exitReason = database.ExitTakeProfit
	default:
		return nil
	}

	return m.closePosition(ctx, pos, state, exitReason, result)
}

// closePosition sells the full quantity and records the exit
func (m *ExitMonitor) closePosition(ctx context.Context, pos *database.Position, state *database.PortfolioState,
	exitReason string, result *ExitResult) error {

	clientOrderID, err := m.idGen.Generate()
	if err != nil {
		return err
	}

	if err := m.pacer.Wait(ctx); err != nil {
		return err
	}

	order, err := m.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        pos.Ticker,
		Qty:           pos.Quantity,
		Side:          broker.SideSell,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		m.breaker.RecordFailure(err)
		m.tracker.RecordFailure(ctx, m.accountID, m.mode, pos.Ticker, broker.SideSell,
			pos.Quantity, nil, clientOrderID, orders.StatusRejected, err)
		return fmt.Errorf("sell order: %w", err)
	}
	m.breaker.RecordSuccess()

	exitPrice := order.FilledAvgPrice
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	realizedPL := pos.Quantity * (exitPrice - pos.EntryPrice)
	proceeds := pos.Quantity * exitPrice
	now := time.Now().UTC()

	if err := m.store.ClosePosition(ctx, pos.ID, exitPrice, realizedPL, exitReason, now); err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	m.tracker.RecordFill(ctx, m.accountID, m.mode, pos.Ticker, broker.SideSell,
		pos.Quantity, exitPrice, nil, order.ID, clientOrderID)

	state.Cash += proceeds
	state.BuyingPower += proceeds
	state.PositionsValue -= pos.MarketValue
	state.PortfolioValue = state.Cash + state.PositionsValue
	state.OpenPositions--
	if realizedPL > 0 {
		state.WinningTrades++
	} else {
		state.LosingTrades++
	}
	if state.PortfolioValue > state.PeakValue {
		state.PeakValue = state.PortfolioValue
	} else if state.PeakValue > 0 {
		drawdown := (state.PeakValue - state.PortfolioValue) / state.PeakValue
		if drawdown > state.MaxDrawdown {
			state.MaxDrawdown = drawdown
		}
	}

	result.Closed++
	m.bus.PublishPositionClosed(m.accountID, pos.Ticker, exitReason, realizedPL)
	m.log.Info("Position closed",
		"ticker", pos.Ticker, "exit_reason", exitReason,
		"exit_price", exitPrice, "realized_pl", realizedPL)
	return nil
}
