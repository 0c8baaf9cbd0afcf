package replicate

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/broker"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/market"
	"disclosure-trading-bot/internal/orders"

	"github.com/rs/zerolog"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

type fakeStore struct {
	subs    []*database.Subscription
	tickers []string
	trades  []*database.TradeRecord
}

func (f *fakeStore) GetActiveSubscriptions(ctx context.Context) ([]*database.Subscription, error) {
	return f.subs, nil
}

func (f *fakeStore) MarkSubscriptionSynced(ctx context.Context, accountID string, at time.Time) error {
	for _, s := range f.subs {
		if s.AccountID == accountID {
			t := at
			s.LastSyncedAt = &t
		}
	}
	return nil
}

func (f *fakeStore) GetTopBuyTickers(ctx context.Context, minConfidence float64, limit int) ([]string, error) {
	if len(f.tickers) > limit {
		return f.tickers[:limit], nil
	}
	return f.tickers, nil
}

func (f *fakeStore) CreateTradeRecord(ctx context.Context, t *database.TradeRecord) error {
	f.trades = append(f.trades, t)
	return nil
}

func openHours(t *testing.T) *market.Hours {
	t.Helper()
	loc, _ := time.LoadLocation("America/New_York")
	h, err := market.NewHours(config.MarketConfig{
		Timezone: "America/New_York", OpenHour: 9, OpenMinute: 30, CloseHour: 16,
	})
	if err != nil {
		t.Fatalf("NewHours() error: %v", err)
	}
	return h.WithClock(func() time.Time {
		return time.Date(2026, 9, 1, 12, 0, 0, 0, loc) // Tuesday midday
	})
}

func closedHours(t *testing.T) *market.Hours {
	t.Helper()
	loc, _ := time.LoadLocation("America/New_York")
	h, err := market.NewHours(config.MarketConfig{
		Timezone: "America/New_York", OpenHour: 9, OpenMinute: 30, CloseHour: 16,
	})
	if err != nil {
		t.Fatalf("NewHours() error: %v", err)
	}
	return h.WithClock(func() time.Time {
		return time.Date(2026, 9, 5, 12, 0, 0, 0, loc) // Saturday
	})
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		OrderDelayMs:          0,
		AccountDelayMs:        0,
		RebalanceBandPct:      10.0,
		MinTradeValue:         10.0,
		MinBuyingPower:        100.0,
		MaxReplicationTickers: 10,
	}
}

func newScheduler(store *fakeStore, clients ClientFactory, hours *market.Hours) *Scheduler {
	tracker := orders.NewLifecycleTracker(store, zerolog.Nop())
	idGen := orders.NewGenerator(time.UTC)
	return NewScheduler(store, clients, hours, tracker, idGen, events.NewEventBus(), testEngineConfig())
}

func singleClientFactory(client broker.Client) ClientFactory {
	return func(ctx context.Context, accountID, mode string) (broker.Client, error) {
		return client, nil
	}
}

func subscription(account, strategy string) *database.Subscription {
	return &database.Subscription{
		AccountID:    account,
		StrategyType: strategy,
		TradingMode:  database.ModePaper,
		IsActive:     true,
	}
}

func TestMarketClosedSkipsSweep(t *testing.T) {
	store := &fakeStore{subs: []*database.Subscription{subscription("sub-1", database.StrategyPreset)}}

	s := newScheduler(store, singleClientFactory(broker.NewPaperClient(10000)), closedHours(t))
	res, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Message != "market closed" {
		t.Errorf("message = %q, want market closed", res.Message)
	}
	if res.Accounts != 0 || res.Synced != 0 {
		t.Errorf("expected no account processing, got %+v", res)
	}
	if store.subs[0].LastSyncedAt != nil {
		t.Error("last_synced_at stamped on a skipped sweep")
	}
}

func TestForceOverridesMarketGate(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}
	client := broker.NewPaperClient(50000)
	client.SetQuote("AAPL", 100, 99.9)

	res, err := newScheduler(store, singleClientFactory(client), closedHours(t)).Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Synced != 1 {
		t.Errorf("synced = %d, want 1 with force set", res.Synced)
	}
}

func TestPresetBuysUnderAllocatedTicker(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}
	// equity 50000, single ticker at weight 1.0... but a single ticker makes
	// the whole equity the target; use two tickers for a 50/50 split
	store.tickers = []string{"AAPL", "MSFT"}

	client := broker.NewPaperClient(50000)
	client.SetQuote("AAPL", 100, 99.9)
	client.SetQuote("MSFT", 250, 249.9)

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Buys != 2 {
		t.Fatalf("buys = %d, want 2 (trades: %+v)", res.Buys, store.trades)
	}

	// 50% of $50,000 = $25,000 per ticker, floored to whole shares
	byTicker := map[string]*database.TradeRecord{}
	for _, tr := range store.trades {
		byTicker[tr.Ticker] = tr
	}
	if tr := byTicker["AAPL"]; tr == nil || !floatEquals(tr.Quantity, 250) {
		t.Errorf("AAPL buy = %+v, want qty 250", tr)
	}
	if tr := byTicker["MSFT"]; tr == nil || !floatEquals(tr.Quantity, 100) {
		t.Errorf("MSFT buy = %+v, want qty 100", tr)
	}
	if store.subs[0].LastSyncedAt == nil {
		t.Error("last_synced_at not stamped after the account's trades")
	}
}

func TestZeroTargetHoldingIsFullySold(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}

	client := broker.NewPaperClient(1000)
	client.SetQuote("AAPL", 100, 99.9)
	client.SetQuote("TSLA", 200, 199.9)
	client.SeedPosition("TSLA", 20, 180) // not in the target set

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Sells != 1 {
		t.Fatalf("sells = %d, want 1 (trades: %+v)", res.Sells, store.trades)
	}

	var sell *database.TradeRecord
	for _, tr := range store.trades {
		if tr.Side == broker.SideSell {
			sell = tr
		}
	}
	if sell == nil || sell.Ticker != "TSLA" || !floatEquals(sell.Quantity, 20) {
		t.Errorf("sell = %+v, want full 20 TSLA", sell)
	}
}

func TestAllocationInsideBandUntouched(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL", "MSFT"},
	}

	// equity = $100 cash + $4900 holdings = $5000, target $2500 per ticker
	client := broker.NewPaperClient(100)
	client.SetQuote("AAPL", 100, 99.9)
	client.SetQuote("MSFT", 100, 99.9)
	client.SeedPosition("AAPL", 24, 100) // $2400, 4% under target, inside the band
	client.SeedPosition("MSFT", 25, 100) // exactly on target

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, tr := range store.trades {
		if tr.Ticker == "AAPL" || tr.Ticker == "MSFT" {
			t.Errorf("unexpected rebalance trade inside the band: %+v", tr)
		}
	}
	if res.Synced != 1 {
		t.Errorf("synced = %d, want 1", res.Synced)
	}
}

func TestBlockedAccountSkipped(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}
	client := broker.NewPaperClient(50000)
	client.TradingBlocked = true
	client.SetQuote("AAPL", 100, 99.9)

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.SkippedAccts != 1 || res.Synced != 0 {
		t.Errorf("skipped=%d synced=%d, want 1/0", res.SkippedAccts, res.Synced)
	}
	if store.subs[0].LastSyncedAt != nil {
		t.Error("last_synced_at stamped for a skipped account")
	}
}

func TestLowBuyingPowerSkipped(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}
	client := broker.NewPaperClient(50) // below the $100 floor

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.SkippedAccts != 1 {
		t.Errorf("skipped = %d, want 1", res.SkippedAccts)
	}
}

func TestReferenceStrategyMirrorsProportions(t *testing.T) {
	refClient := broker.NewPaperClient(0)
	refClient.SetQuote("AAPL", 100, 99.9)
	refClient.SetQuote("MSFT", 100, 99.9)
	refClient.SeedPosition("AAPL", 75, 100) // 75%
	refClient.SeedPosition("MSFT", 25, 100) // 25%

	subClient := broker.NewPaperClient(10000)
	subClient.SetQuote("AAPL", 100, 99.9)
	subClient.SetQuote("MSFT", 100, 99.9)

	sub := subscription("sub-1", database.StrategyReference)
	sub.ReferenceAccount = "ref-1"
	store := &fakeStore{subs: []*database.Subscription{sub}}

	clients := func(ctx context.Context, accountID, mode string) (broker.Client, error) {
		switch accountID {
		case "ref-1":
			return refClient, nil
		case "sub-1":
			return subClient, nil
		}
		return nil, fmt.Errorf("unknown account %s", accountID)
	}

	res, err := newScheduler(store, clients, openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Buys != 2 {
		t.Fatalf("buys = %d, want 2 (trades: %+v)", res.Buys, store.trades)
	}

	byTicker := map[string]*database.TradeRecord{}
	for _, tr := range store.trades {
		byTicker[tr.Ticker] = tr
	}
	// 75% and 25% of $10,000 equity at $100/share
	if tr := byTicker["AAPL"]; tr == nil || !floatEquals(tr.Quantity, 75) {
		t.Errorf("AAPL buy = %+v, want qty 75", tr)
	}
	if tr := byTicker["MSFT"]; tr == nil || !floatEquals(tr.Quantity, 25) {
		t.Errorf("MSFT buy = %+v, want qty 25", tr)
	}
}

func TestTransfersBlockedAccountSkipped(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}
	client := broker.NewPaperClient(50000)
	client.TransfersBlocked = true
	client.SetQuote("AAPL", 100, 99.9)

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.SkippedAccts != 1 || res.Synced != 0 {
		t.Errorf("skipped=%d synced=%d, want 1/0", res.SkippedAccts, res.Synced)
	}
	if store.subs[0].LastSyncedAt != nil {
		t.Error("last_synced_at stamped for a skipped account")
	}
}

// cancelingClient cancels the sweep's context on its first order, leaving
// the rest of the account's planned trades unattempted
type cancelingClient struct {
	*broker.PaperClient
	cancel context.CancelFunc
}

func (c *cancelingClient) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	c.cancel()
	return c.PaperClient.PlaceOrder(ctx, req)
}

func TestCancellationMidAccountLeavesSyncUnstamped(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL", "MSFT"},
	}
	paper := broker.NewPaperClient(50000)
	paper.SetQuote("AAPL", 100, 99.9)
	paper.SetQuote("MSFT", 100, 99.9)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancelingClient{PaperClient: paper, cancel: cancel}

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(ctx, false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := len(paper.Orders()); got != 1 {
		t.Fatalf("orders placed = %d, want the sweep cut short after 1 of 2", got)
	}
	if res.Synced != 0 {
		t.Errorf("synced = %d, want 0 for an interrupted account", res.Synced)
	}
	if store.subs[0].LastSyncedAt != nil {
		t.Error("last_synced_at stamped before every planned trade was attempted")
	}
}

func TestOrderFailureStillStampsSync(t *testing.T) {
	store := &fakeStore{
		subs:    []*database.Subscription{subscription("sub-1", database.StrategyPreset)},
		tickers: []string{"AAPL"},
	}
	client := broker.NewPaperClient(50000)
	client.SetQuote("AAPL", 100, 99.9)
	client.FailOrders = true

	res, err := newScheduler(store, singleClientFactory(client), openHours(t)).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Failures == 0 {
		t.Error("expected recorded order failures")
	}
	if store.subs[0].LastSyncedAt == nil {
		t.Error("last_synced_at must be stamped after all attempts, even failures")
	}

	var rejected bool
	for _, tr := range store.trades {
		if tr.Status == orders.StatusRejected && tr.Error != nil {
			rejected = true
		}
	}
	if !rejected {
		t.Error("expected a rejected trade record with an error")
	}
}
