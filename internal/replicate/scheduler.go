// Package replicate rebalances subscriber accounts toward their strategy's
// target allocation.
package replicate

import (
	"context"
	"fmt"
	"math"
	"time"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/broker"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/logging"
	"disclosure-trading-bot/internal/market"
	"disclosure-trading-bot/internal/orders"
)

// Store defines the persistence replication needs
type Store interface {
	GetActiveSubscriptions(ctx context.Context) ([]*database.Subscription, error)
	MarkSubscriptionSynced(ctx context.Context, accountID string, at time.Time) error
	GetTopBuyTickers(ctx context.Context, minConfidence float64, limit int) ([]string, error)
	CreateTradeRecord(ctx context.Context, t *database.TradeRecord) error
}

var _ Store = (*database.Repository)(nil)

// ClientFactory resolves the broker client for an account/mode pair
type ClientFactory func(ctx context.Context, accountID, mode string) (broker.Client, error)

// Result summarizes one replication sweep
type Result struct {
	Accounts     int    `json:"accounts"`
	Synced       int    `json:"synced"`
	SkippedAccts int    `json:"skipped_accounts"`
	Buys         int    `json:"buys"`
	Sells        int    `json:"sells"`
	Failures     int    `json:"failures"`
	Message      string `json:"message,omitempty"`
}

// trade is one planned rebalance order
type trade struct {
	ticker string
	side   string
	qty    float64
	price  float64
}

// Scheduler runs the replication sweep. Each account is fully processed,
// sells before buys, before the sweep advances to the next account.
type Scheduler struct {
	store   Store
	clients ClientFactory
	hours   *market.Hours
	tracker *orders.LifecycleTracker
	idGen   *orders.Generator
	bus     *events.EventBus
	cfg     config.EngineConfig
	log     *logging.Logger
}

// NewScheduler creates a replication sweep runner
func NewScheduler(store Store, clients ClientFactory, hours *market.Hours, tracker *orders.LifecycleTracker,
	idGen *orders.Generator, bus *events.EventBus, cfg config.EngineConfig) *Scheduler {
	return &Scheduler{
		store:   store,
		clients: clients,
		hours:   hours,
		tracker: tracker,
		idGen:   idGen,
		bus:     bus,
		cfg:     cfg,
		log:     logging.WithComponent("replicate"),
	}
}

// Run sweeps all active subscriptions. Outside market hours it no-ops
// unless force is set.
func (s *Scheduler) Run(ctx context.Context, force bool) (*Result, error) {
	if !force && !s.hours.IsOpen() {
		s.log.Info("Market closed, skipping replication sweep")
		return &Result{Message: "market closed"}, nil
	}

	subs, err := s.store.GetActiveSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	result := &Result{Accounts: len(subs)}
	accountPacer := broker.NewPacer(s.cfg.AccountDelay())

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := accountPacer.Wait(ctx); err != nil {
			break
		}
		s.processAccount(ctx, sub, result)
	}
	return result, nil
}

// processAccount rebalances one subscriber. last_synced_at is stamped only
// after every planned trade for the account has been attempted.
func (s *Scheduler) processAccount(ctx context.Context, sub *database.Subscription, result *Result) {
	log := s.log.WithField("account_id", sub.AccountID)

	client, err := s.clients(ctx, sub.AccountID, sub.TradingMode)
	if err != nil {
		log.Error("No broker client for account", "error", err)
		result.SkippedAccts++
		return
	}

	account, err := client.GetAccount(ctx)
	if err != nil {
		log.Error("Account fetch failed", "error", err)
		result.SkippedAccts++
		return
	}
	if account.TradingBlocked || account.AccountBlocked || account.TransfersBlocked {
		log.Warn("Account blocked from trading, skipping")
		result.SkippedAccts++
		return
	}
	if account.BuyingPower < s.cfg.MinBuyingPower {
		log.Warn("Buying power below replication floor",
			"buying_power", account.BuyingPower, "floor", s.cfg.MinBuyingPower)
		result.SkippedAccts++
		return
	}

	weights, err := s.targetWeights(ctx, sub)
	if err != nil {
		log.Error("Target weight computation failed", "error", err)
		result.SkippedAccts++
		return
	}
	if len(weights) == 0 {
		log.Info("No target allocation, nothing to replicate")
		s.finishAccount(ctx, sub, result, 0, 0)
		return
	}

	holdings, err := client.GetPositions(ctx)
	if err != nil {
		log.Error("Holdings fetch failed", "error", err)
		result.SkippedAccts++
		return
	}

	trades := s.diff(ctx, client, weights, holdings, account, log)

	buys, sells, complete := s.execute(ctx, client, sub, trades, result, log)
	if !complete {
		log.Warn("Replication interrupted before all trades were attempted, leaving account due for re-sync")
		return
	}
	s.finishAccount(ctx, sub, result, buys, sells)
}

// targetWeights computes the strategy's target allocation, summing to at
// most 1.0
func (s *Scheduler) targetWeights(ctx context.Context, sub *database.Subscription) (map[string]float64, error) {
	switch sub.StrategyType {
	case database.StrategyReference:
		return s.referenceWeights(ctx, sub)
	case database.StrategyPreset, database.StrategyCustom:
		return s.signalWeights(ctx, sub)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", sub.StrategyType)
	}
}

// referenceWeights mirrors the reference account's allocation proportions
func (s *Scheduler) referenceWeights(ctx context.Context, sub *database.Subscription) (map[string]float64, error) {
	if sub.ReferenceAccount == "" {
		return nil, fmt.Errorf("reference strategy without a reference account")
	}
	refClient, err := s.clients(ctx, sub.ReferenceAccount, sub.TradingMode)
	if err != nil {
		return nil, fmt.Errorf("reference account client: %w", err)
	}
	refPositions, err := refClient.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference positions: %w", err)
	}

	var total float64
	for _, p := range refPositions {
		if p.MarketValue > 0 {
			total += p.MarketValue
		}
	}
	if total <= 0 {
		return nil, nil
	}

	weights := make(map[string]float64, len(refPositions))
	for _, p := range refPositions {
		if p.MarketValue > 0 {
			weights[p.Symbol] = p.MarketValue / total
		}
	}
	return weights, nil
}

// signalWeights equal-weights the strongest buy-class tickers
func (s *Scheduler) signalWeights(ctx context.Context, sub *database.Subscription) (map[string]float64, error) {
	floor := 0.7
	if v, ok := sub.WeightParameters["confidence_floor"]; ok && v > 0 && v <= 1 {
		floor = v
	}
	limit := s.cfg.MaxReplicationTickers

	tickers, err := s.store.GetTopBuyTickers(ctx, floor, limit)
	if err != nil {
		return nil, fmt.Errorf("select buy tickers: %w", err)
	}
	if len(tickers) == 0 {
		return nil, nil
	}

	weights := make(map[string]float64, len(tickers))
	w := 1.0 / float64(len(tickers))
	for _, t := range tickers {
		weights[t] = w
	}
	return weights, nil
}

// diff plans the rebalance trades: full sells for dropped tickers, partial
// trades for allocations outside the band
func (s *Scheduler) diff(ctx context.Context, client broker.Client, weights map[string]float64,
	holdings []broker.Position, account *broker.Account, log *logging.Logger) []trade {

	band := s.cfg.RebalanceBandPct / 100
	var sells, buys []trade

	heldValue := make(map[string]float64, len(holdings))
	heldQty := make(map[string]float64, len(holdings))
	heldPrice := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		heldValue[h.Symbol] = h.MarketValue
		heldQty[h.Symbol] = h.Qty
		heldPrice[h.Symbol] = h.CurrentPrice
	}

	for _, h := range holdings {
		target := weights[h.Symbol] * account.Equity
		if target <= 0 {
			sells = append(sells, trade{ticker: h.Symbol, side: broker.SideSell, qty: h.Qty, price: h.CurrentPrice})
			continue
		}
		excess := h.MarketValue - target
		if excess > target*band && h.CurrentPrice > 0 {
			qty := math.Floor(excess / h.CurrentPrice)
			if qty >= 1 && qty*h.CurrentPrice >= s.cfg.MinTradeValue {
				sells = append(sells, trade{ticker: h.Symbol, side: broker.SideSell, qty: qty, price: h.CurrentPrice})
			}
		}
	}

	available := account.BuyingPower
	for ticker, weight := range weights {
		target := weight * account.Equity
		current := heldValue[ticker]
		shortfall := target - current
		if shortfall <= target*band {
			continue
		}

		price := heldPrice[ticker]
		if price <= 0 {
			quote, err := client.GetLatestQuote(ctx, ticker)
			if err != nil {
				log.Warn("Quote fetch failed for rebalance buy", "ticker", ticker, "error", err)
				continue
			}
			price, err = quote.TradePrice()
			if err != nil {
				log.Warn("No usable price for rebalance buy", "ticker", ticker, "error", err)
				continue
			}
		}

		value := math.Min(shortfall, available)
		if value < s.cfg.MinTradeValue {
			continue
		}
		qty := math.Floor(value / price)
		if qty < 1 {
			continue
		}
		buys = append(buys, trade{ticker: ticker, side: broker.SideBuy, qty: qty, price: price})
		available -= qty * price
	}

	return append(sells, buys...)
}

// execute places the planned trades in order, recording every attempt.
// complete is false when cancellation cut the trade list short.
func (s *Scheduler) execute(ctx context.Context, client broker.Client, sub *database.Subscription,
	trades []trade, result *Result, log *logging.Logger) (buys, sells int, complete bool) {

	orderPacer := broker.NewPacer(s.cfg.OrderDelay())

	for _, t := range trades {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := orderPacer.Wait(ctx); err != nil {
			return
		}

		clientOrderID, err := s.idGen.Generate()
		if err != nil {
			result.Failures++
			continue
		}

		order, err := client.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:        t.ticker,
			Qty:           t.qty,
			Side:          t.side,
			ClientOrderID: clientOrderID,
		})
		if err != nil {
			result.Failures++
			s.tracker.RecordFailure(ctx, sub.AccountID, sub.TradingMode, t.ticker, t.side,
				t.qty, nil, clientOrderID, orders.StatusRejected, err)
			log.Warn("Rebalance order rejected", "ticker", t.ticker, "side", t.side, "error", err)
			continue
		}

		fillPrice := order.FilledAvgPrice
		if fillPrice <= 0 {
			fillPrice = t.price
		}
		s.tracker.RecordFill(ctx, sub.AccountID, sub.TradingMode, t.ticker, t.side,
			t.qty, fillPrice, nil, order.ID, clientOrderID)

		if t.side == broker.SideBuy {
			buys++
			result.Buys++
		} else {
			sells++
			result.Sells++
		}
	}
	return buys, sells, true
}

// finishAccount stamps the sync time after all attempts, success or failure
func (s *Scheduler) finishAccount(ctx context.Context, sub *database.Subscription, result *Result, buys, sells int) {
	if err := s.store.MarkSubscriptionSynced(ctx, sub.AccountID, time.Now().UTC()); err != nil {
		s.log.Error("Failed to stamp subscription sync", "account_id", sub.AccountID, "error", err)
		return
	}
	result.Synced++
	s.bus.PublishAccountSynced(sub.AccountID, buys, sells)
	s.log.Info("Account replication complete", "account_id", sub.AccountID, "buys", buys, "sells", sells)
}
