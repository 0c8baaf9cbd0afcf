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
	"disclosure-trading-bot/internal/sizing"
)

// Skip reasons recorded on signals that fail a filter
const (
	SkipAlreadyHeld      = "already held"
	SkipLowConfidence    = "confidence below threshold"
	SkipNotBuyClass      = "signal class not actionable"
	SkipZeroShares       = "position too small"
	SkipInsufficientFunds = "insufficient buying power"
)

// pendingFetchLimit bounds how many queued signals one pass will look at
const pendingFetchLimit = 500

// PassResult summarizes one execution pass
type PassResult struct {
	Executed int    `json:"executed"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Message  string `json:"message,omitempty"`
}

// Executor runs the signal execution pass for one account/mode pair.
// Signals are consumed oldest first; each reaches a terminal status.
type Executor struct {
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

// NewExecutor creates an execution pass runner
func NewExecutor(store Store, client broker.Client, tracker *orders.LifecycleTracker, idGen *orders.Generator,
	breaker *circuit.Breaker, bus *events.EventBus, cfg config.EngineConfig, accountID, mode string) *Executor {
	return &Executor{
		store:     store,
		client:    client,
		tracker:   tracker,
		idGen:     idGen,
		breaker:   breaker,
		bus:       bus,
		pacer:     broker.NewPacer(cfg.OrderDelay()),
		log:       logging.WithComponent("executor").WithField("account_id", accountID),
		accountID: accountID,
		mode:      mode,
	}
}

// Run processes the pending signal queue. Portfolio state is loaded once,
// mutated in memory per fill, and written once at the end.
func (e *Executor) Run(ctx context.Context) (*PassResult, error) {
	riskCfg, err := e.store.GetRiskConfig(ctx, e.accountID)
	if err != nil {
		return nil, fmt.Errorf("load risk config: %w", err)
	}
	if !riskCfg.IsActive {
		e.log.Info("Trading disabled, skipping execution pass")
		return &PassResult{Message: "trading disabled for account"}, nil
	}

	state, err := e.loadOrInitState(ctx)
	if err != nil {
		return nil, err
	}

	if state.LastTradeDate != nil && !sameDay(*state.LastTradeDate, time.Now().UTC()) {
		e.log.Debug("New trading day, resetting daily trade counter",
			"last_trade_date", state.LastTradeDate.Format("2006-01-02"))
		state.TradesToday = 0
	}

	budget := riskCfg.MaxDailyTrades - state.TradesToday
	if budget <= 0 {
		e.log.Info("Daily trade limit reached", "trades_today", state.TradesToday)
		return &PassResult{Message: fmt.Sprintf("daily trade limit reached (%d/%d)",
			state.TradesToday, riskCfg.MaxDailyTrades)}, nil
	}

	signals, err := e.store.GetPendingSignals(ctx, pendingFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("load pending signals: %w", err)
	}
	if len(signals) == 0 {
		return &PassResult{Message: "no pending signals"}, nil
	}

	held, err := e.heldTickers(ctx)
	if err != nil {
		return nil, err
	}

	result := &PassResult{}
	for _, sig := range signals {
		if result.Executed >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		if ok, reason := e.breaker.Allow(); !ok {
			e.log.Warn("Circuit breaker open, aborting pass", "reason", reason)
			result.Message = reason
			break
		}

		e.processSignal(ctx, sig, riskCfg, state, held, result)
	}

	if err := e.store.SavePortfolioState(ctx, state); err != nil {
		return result, fmt.Errorf("save portfolio state: %w", err)
	}
	return result, nil
}

// processSignal takes one signal to a terminal status, mutating state on fill
func (e *Executor) processSignal(ctx context.Context, sig *database.Signal, riskCfg *database.RiskConfig,
	state *database.PortfolioState, held map[string]bool, result *PassResult) {

	if held[sig.Ticker] {
		e.skip(ctx, sig, SkipAlreadyHeld, result)
		return
	}
	if sig.Confidence < riskCfg.MinConfidenceThreshold {
		e.skip(ctx, sig, SkipLowConfidence, result)
		return
	}
	if sig.SignalClass != database.ClassBuy && sig.SignalClass != database.ClassStrongBuy {
		e.skip(ctx, sig, SkipNotBuyClass, result)
		return
	}
	if state.OpenPositions >= riskCfg.MaxPortfolioPositions {
		e.skip(ctx, sig, fmt.Sprintf("max positions reached (%d/%d)",
			state.OpenPositions, riskCfg.MaxPortfolioPositions), result)
		return
	}

	quote, err := e.client.GetLatestQuote(ctx, sig.Ticker)
	if err != nil {
		e.breaker.RecordFailure(err)
		e.fail(ctx, sig, fmt.Sprintf("quote fetch failed: %v", err), result)
		return
	}
	e.breaker.RecordSuccess()

	price, err := quote.TradePrice()
	if err != nil {
		e.fail(ctx, sig, fmt.Sprintf("no usable price: %v", err), result)
		return
	}

	size, err := sizing.Calculate(state.PortfolioValue, price, sig.Confidence, riskCfg)
	if err != nil {
		e.fail(ctx, sig, err.Error(), result)
		return
	}
	if size.Shares == 0 {
		e.skip(ctx, sig, SkipZeroShares, result)
		return
	}
	if size.TradeValue > state.BuyingPower {
		e.skip(ctx, sig, SkipInsufficientFunds, result)
		return
	}

	clientOrderID, err := e.idGen.Generate()
	if err != nil {
		e.fail(ctx, sig, err.Error(), result)
		return
	}

	if err := e.pacer.Wait(ctx); err != nil {
		return
	}

	order, err := e.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        sig.Ticker,
		Qty:           float64(size.Shares),
		Side:          broker.SideBuy,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		e.breaker.RecordFailure(err)
		e.tracker.RecordFailure(ctx, e.accountID, e.mode, sig.Ticker, broker.SideBuy,
			float64(size.Shares), &sig.ID, clientOrderID, orders.StatusRejected, err)
		e.fail(ctx, sig, fmt.Sprintf("order rejected: %v", err), result)
		return
	}
	e.breaker.RecordSuccess()

	fillPrice := order.FilledAvgPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	fillValue := float64(size.Shares) * fillPrice
	now := time.Now().UTC()

	pos := &database.Position{
		AccountID:       e.accountID,
		TradingMode:     e.mode,
		Ticker:          sig.Ticker,
		Quantity:        float64(size.Shares),
		EntryPrice:      fillPrice,
		EntryDate:       now,
		StopLossPrice:   sizing.StopLoss(fillPrice, riskCfg),
		TakeProfitPrice: sizing.TakeProfit(fillPrice, riskCfg),
		CurrentPrice:    fillPrice,
		MarketValue:     fillValue,
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		// the order filled; reconciliation will recover the position
		e.log.Error("Order filled but position insert failed", "ticker", sig.Ticker, "error", err)
		e.fail(ctx, sig, fmt.Sprintf("position insert failed: %v", err), result)
		return
	}

	e.tracker.RecordFill(ctx, e.accountID, e.mode, sig.Ticker, broker.SideBuy,
		float64(size.Shares), fillPrice, &sig.ID, order.ID, clientOrderID)

	state.Cash -= fillValue
	state.BuyingPower -= fillValue
	state.PositionsValue += fillValue
	state.PortfolioValue = state.Cash + state.PositionsValue
	state.OpenPositions++
	state.TradesToday++
	state.LastTradeDate = &now
	state.TotalTrades++

	held[sig.Ticker] = true

	if err := e.store.MarkSignal(ctx, sig.ID, database.SignalExecuted, ""); err != nil {
		e.log.Error("Failed to mark signal executed", "signal_id", sig.ID, "error", err)
	}
	result.Executed++

	e.bus.PublishSignalExecuted(e.accountID, sig.Ticker, size.Shares, fillPrice)
	e.log.Info("Signal executed",
		"ticker", sig.Ticker, "shares", size.Shares, "price", fillPrice,
		"confidence", sig.Confidence, "multiplier", size.Multiplier)
}

// loadOrInitState loads the portfolio row, seeding it from the broker
// account on an account's first pass
func (e *Executor) loadOrInitState(ctx context.Context) (*database.PortfolioState, error) {
	state, err := e.store.GetPortfolioState(ctx, e.accountID, e.mode)
	if err != nil {
		return nil, fmt.Errorf("load portfolio state: %w", err)
	}
	if state != nil {
		return state, nil
	}

	account, err := e.client.GetAccount(ctx)
	if err != nil {
		e.breaker.RecordFailure(err)
		return nil, fmt.Errorf("bootstrap portfolio state from broker: %w", err)
	}
	e.breaker.RecordSuccess()

	state = &database.PortfolioState{
		AccountID:      e.accountID,
		TradingMode:    e.mode,
		Cash:           account.Cash,
		BuyingPower:    account.BuyingPower,
		PortfolioValue: account.Equity,
		PositionsValue: account.Equity - account.Cash,
		PeakValue:      account.Equity,
	}
	return state, nil
}

// sameDay reports whether two instants fall on the same UTC calendar day
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// heldTickers builds the per-pass already-held set
func (e *Executor) heldTickers(ctx context.Context) (map[string]bool, error) {
	positions, err := e.store.GetOpenPositions(ctx, e.accountID, e.mode)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Ticker] = true
	}
	return held, nil
}

func (e *Executor) skip(ctx context.Context, sig *database.Signal, reason string, result *PassResult) {
	if err := e.store.MarkSignal(ctx, sig.ID, database.SignalSkipped, reason); err != nil {
		e.log.Error("Failed to mark signal skipped", "signal_id", sig.ID, "error", err)
	}
	result.Skipped++
	e.bus.PublishSignalSkipped(e.accountID, sig.Ticker, reason)
	e.log.Debug("Signal skipped", "ticker", sig.Ticker, "reason", reason)
}

func (e *Executor) fail(ctx context.Context, sig *database.Signal, reason string, result *PassResult) {
	if err := e.store.MarkSignal(ctx, sig.ID, database.SignalFailed, reason); err != nil {
		e.log.Error("Failed to mark signal failed", "signal_id", sig.ID, "error", err)
	}
	result.Failed++
	e.log.Warn("Signal failed", "ticker", sig.Ticker, "reason", reason)
}
