package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/broker"
	"disclosure-trading-bot/internal/circuit"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/orders"

	"github.com/rs/zerolog"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

// fakeStore is an in-memory Store for pass tests
type fakeStore struct {
	signals    []*database.Signal
	positions  []*database.Position
	state      *database.PortfolioState
	riskConfig *database.RiskConfig
	trades     []*database.TradeRecord
	nextID     int64
	stateSaves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		riskConfig: database.DefaultRiskConfig("acct-1"),
		nextID:     1,
	}
}

func (f *fakeStore) addSignal(ticker, class string, confidence float64) *database.Signal {
	s := &database.Signal{
		ID:          f.nextID,
		Ticker:      ticker,
		SignalClass: class,
		Confidence:  confidence,
		Status:      database.SignalPending,
		QueuedAt:    time.Now().Add(-time.Minute),
	}
	f.nextID++
	f.signals = append(f.signals, s)
	return s
}

func (f *fakeStore) GetPendingSignals(ctx context.Context, limit int) ([]*database.Signal, error) {
	var out []*database.Signal
	for _, s := range f.signals {
		if s.Status == database.SignalPending && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSignal(ctx context.Context, id int64, status, reason string) error {
	for _, s := range f.signals {
		if s.ID == id {
			s.Status = status
			if reason != "" {
				s.Reason = &reason
			}
			now := time.Now()
			s.ProcessedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) CreatePosition(ctx context.Context, p *database.Position) error {
	p.ID = f.nextID
	f.nextID++
	p.IsOpen = true
	f.positions = append(f.positions, p)
	return nil
}

func (f *fakeStore) GetOpenPositions(ctx context.Context, accountID, mode string) ([]*database.Position, error) {
	var out []*database.Position
	for _, p := range f.positions {
		if p.IsOpen && p.AccountID == accountID && p.TradingMode == mode {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdatePositionMark(ctx context.Context, id int64, currentPrice, marketValue, unrealizedPL float64) error {
	for _, p := range f.positions {
		if p.ID == id {
			p.CurrentPrice = currentPrice
			p.MarketValue = marketValue
			p.UnrealizedPL = unrealizedPL
		}
	}
	return nil
}

func (f *fakeStore) ClosePosition(ctx context.Context, id int64, exitPrice, realizedPL float64, exitReason string, exitDate time.Time) error {
	for _, p := range f.positions {
		if p.ID == id {
			p.IsOpen = false
			p.ExitPrice = &exitPrice
			p.ExitDate = &exitDate
			p.ExitReason = &exitReason
			p.RealizedPL = &realizedPL
		}
	}
	return nil
}

func (f *fakeStore) GetPortfolioState(ctx context.Context, accountID, mode string) (*database.PortfolioState, error) {
	return f.state, nil
}

func (f *fakeStore) SavePortfolioState(ctx context.Context, s *database.PortfolioState) error {
	f.state = s
	f.stateSaves++
	return nil
}

func (f *fakeStore) GetRiskConfig(ctx context.Context, accountID string) (*database.RiskConfig, error) {
	return f.riskConfig, nil
}

func (f *fakeStore) CreateTradeRecord(ctx context.Context, t *database.TradeRecord) error {
	t.ID = f.nextID
	f.nextID++
	f.trades = append(f.trades, t)
	return nil
}

func testDeps(store *fakeStore, client broker.Client) (*orders.LifecycleTracker, *orders.Generator, *circuit.Breaker, *events.EventBus, config.EngineConfig) {
	tracker := orders.NewLifecycleTracker(store, zerolog.Nop())
	idGen := orders.NewGenerator(time.UTC)
	breaker := circuit.NewBreaker("broker", &circuit.Config{Enabled: true, MaxFailures: 5, CooldownMinutes: 15}, nil)
	bus := events.NewEventBus()
	cfg := config.EngineConfig{OrderDelayMs: 0, AccountDelayMs: 0}
	return tracker, idGen, breaker, bus, cfg
}

func newTestExecutor(store *fakeStore, client broker.Client) *Executor {
	tracker, idGen, breaker, bus, cfg := testDeps(store, client)
	return NewExecutor(store, client, tracker, idGen, breaker, bus, cfg, "acct-1", database.ModePaper)
}

func newTestExitMonitor(store *fakeStore, client broker.Client) *ExitMonitor {
	tracker, idGen, breaker, bus, cfg := testDeps(store, client)
	return NewExitMonitor(store, client, tracker, idGen, breaker, bus, cfg, "acct-1", database.ModePaper)
}

func baseState() *database.PortfolioState {
	return &database.PortfolioState{
		AccountID:      "acct-1",
		TradingMode:    database.ModePaper,
		Cash:           100000,
		BuyingPower:    100000,
		PortfolioValue: 100000,
		PeakValue:      100000,
	}
}

func TestExecutorExecutesBuySignal(t *testing.T) {
	store := newFakeStore()
	store.state = baseState()
	sig := store.addSignal("AAPL", database.ClassBuy, 0.8)

	client := broker.NewPaperClient(100000)
	client.SetQuote("AAPL", 50, 49.9)

	res, err := newTestExecutor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Executed != 1 {
		t.Fatalf("executed = %d, want 1", res.Executed)
	}
	if sig.Status != database.SignalExecuted {
		t.Errorf("signal status = %s, want executed", sig.Status)
	}

	open, _ := store.GetOpenPositions(context.Background(), "acct-1", database.ModePaper)
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	pos := open[0]
	// conf 0.8, threshold 0.6 -> n=0.5, multiplier 1.5, target 7500 -> 150 shares
	if !floatEquals(pos.Quantity, 150) {
		t.Errorf("quantity = %.2f, want 150", pos.Quantity)
	}
	if !floatEquals(pos.StopLossPrice, 45) {
		t.Errorf("stop loss = %.2f, want 45", pos.StopLossPrice)
	}
	if !floatEquals(pos.TakeProfitPrice, 60) {
		t.Errorf("take profit = %.2f, want 60", pos.TakeProfitPrice)
	}

	state := store.state
	if !floatEquals(state.Cash, 100000-7500) {
		t.Errorf("cash = %.2f, want %.2f", state.Cash, 100000-7500.0)
	}
	if !floatEquals(state.PortfolioValue, state.Cash+state.PositionsValue) {
		t.Errorf("portfolio value invariant broken: %.2f != %.2f + %.2f",
			state.PortfolioValue, state.Cash, state.PositionsValue)
	}
	if state.OpenPositions != 1 || state.TradesToday != 1 {
		t.Errorf("open=%d trades_today=%d, want 1/1", state.OpenPositions, state.TradesToday)
	}
	if len(store.trades) != 1 || store.trades[0].Status != orders.StatusFilled {
		t.Errorf("expected one filled trade record, got %+v", store.trades)
	}
	if store.stateSaves != 1 {
		t.Errorf("state saves = %d, want exactly 1 per pass", store.stateSaves)
	}
}

func TestExecutorFiltersInOrder(t *testing.T) {
	store := newFakeStore()
	store.state = baseState()
	store.positions = append(store.positions, &database.Position{
		ID: 90, AccountID: "acct-1", TradingMode: database.ModePaper,
		Ticker: "MSFT", Quantity: 10, EntryPrice: 100, IsOpen: true,
	})

	held := store.addSignal("MSFT", database.ClassStrongBuy, 0.9)
	lowConf := store.addSignal("NVDA", database.ClassBuy, 0.3)
	sellClass := store.addSignal("TSLA", database.ClassSell, 0.9)
	hold := store.addSignal("AMZN", database.ClassHold, 0.9)

	client := broker.NewPaperClient(100000)

	res, err := newTestExecutor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Skipped != 4 || res.Executed != 0 {
		t.Fatalf("skipped=%d executed=%d, want 4/0", res.Skipped, res.Executed)
	}

	wantReasons := map[*database.Signal]string{
		held:      SkipAlreadyHeld,
		lowConf:   SkipLowConfidence,
		sellClass: SkipNotBuyClass,
		hold:      SkipNotBuyClass,
	}
	for sig, want := range wantReasons {
		if sig.Status != database.SignalSkipped {
			t.Errorf("%s: status = %s, want skipped", sig.Ticker, sig.Status)
		}
		if sig.Reason == nil || *sig.Reason != want {
			t.Errorf("%s: reason = %v, want %q", sig.Ticker, sig.Reason, want)
		}
	}
}

func TestExecutorDailyLimitMakesNoBrokerCalls(t *testing.T) {
	store := newFakeStore()
	state := baseState()
	state.TradesToday = store.riskConfig.MaxDailyTrades
	today := time.Now().UTC()
	state.LastTradeDate = &today
	store.state = state
	store.addSignal("AAPL", database.ClassBuy, 0.9)

	client := broker.NewPaperClient(100000)
	client.FailQuotes = true // any broker call would error the signal

	res, err := newTestExecutor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Executed != 0 || res.Failed != 0 {
		t.Errorf("executed=%d failed=%d, want 0/0", res.Executed, res.Failed)
	}
	if res.Message == "" {
		t.Error("expected a limit-reached message")
	}
	if store.signals[0].Status != database.SignalPending {
		t.Errorf("signal status = %s, want still pending", store.signals[0].Status)
	}
}

func TestExecutorDailyCounterResetsOnNewDay(t *testing.T) {
	store := newFakeStore()
	state := baseState()
	state.TradesToday = store.riskConfig.MaxDailyTrades
	state.TotalTrades = store.riskConfig.MaxDailyTrades
	stale := time.Now().UTC().Add(-48 * time.Hour)
	state.LastTradeDate = &stale
	store.state = state
	sig := store.addSignal("AAPL", database.ClassBuy, 0.9)

	client := broker.NewPaperClient(100000)
	client.SetQuote("AAPL", 50, 49.9)

	res, err := newTestExecutor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Executed != 1 {
		t.Fatalf("executed = %d, want 1 after day rollover", res.Executed)
	}
	if sig.Status != database.SignalExecuted {
		t.Errorf("signal status = %s, want executed", sig.Status)
	}
	if store.state.TradesToday != 1 {
		t.Errorf("trades_today = %d, want counter reset then incremented to 1", store.state.TradesToday)
	}
	if store.state.TotalTrades != store.riskConfig.MaxDailyTrades+1 {
		t.Errorf("total_trades = %d, want lifetime counter untouched by reset", store.state.TotalTrades)
	}
	if store.state.LastTradeDate == nil || !sameDay(*store.state.LastTradeDate, time.Now().UTC()) {
		t.Errorf("last trade date = %v, want stamped today", store.state.LastTradeDate)
	}
}

func TestExecutorInactiveConfigAbortsCycle(t *testing.T) {
	store := newFakeStore()
	store.state = baseState()
	store.riskConfig.IsActive = false
	store.addSignal("AAPL", database.ClassBuy, 0.9)

	res, err := newTestExecutor(store, broker.NewPaperClient(100000)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Executed != 0 || res.Skipped != 0 {
		t.Errorf("expected no signal processing, got %+v", res)
	}
	if store.signals[0].Status != database.SignalPending {
		t.Errorf("signal status = %s, want still pending", store.signals[0].Status)
	}
}

func TestExecutorQuoteFailureFailsSignalNotCycle(t *testing.T) {
	store := newFakeStore()
	store.state = baseState()
	bad := store.addSignal("AAPL", database.ClassBuy, 0.9)
	good := store.addSignal("MSFT", database.ClassBuy, 0.9)

	client := broker.NewPaperClient(100000)
	client.SetQuote("MSFT", 100, 99.9)
	// no quote for AAPL

	res, err := newTestExecutor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Failed != 1 || res.Executed != 1 {
		t.Fatalf("failed=%d executed=%d, want 1/1", res.Failed, res.Executed)
	}
	if bad.Status != database.SignalFailed {
		t.Errorf("bad signal status = %s, want failed", bad.Status)
	}
	if good.Status != database.SignalExecuted {
		t.Errorf("good signal status = %s, want executed", good.Status)
	}
}

func TestExecutorInPassHeldSetPreventsDoubleBuy(t *testing.T) {
	store := newFakeStore()
	store.state = baseState()
	store.addSignal("AAPL", database.ClassBuy, 0.9)
	second := store.addSignal("AAPL", database.ClassStrongBuy, 0.95)

	client := broker.NewPaperClient(100000)
	client.SetQuote("AAPL", 50, 49.9)

	res, err := newTestExecutor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Executed != 1 || res.Skipped != 1 {
		t.Fatalf("executed=%d skipped=%d, want 1/1", res.Executed, res.Skipped)
	}
	if second.Status != database.SignalSkipped || second.Reason == nil || *second.Reason != SkipAlreadyHeld {
		t.Errorf("second signal not skipped as already held: %+v", second)
	}
}

func TestExitMonitorStopLossTrigger(t *testing.T) {
	store := newFakeStore()
	state := baseState()
	state.Cash = 90000
	state.PositionsValue = 10000
	state.PortfolioValue = 100000
	state.OpenPositions = 1
	store.state = state

	store.positions = append(store.positions, &database.Position{
		ID: 1, AccountID: "acct-1", TradingMode: database.ModePaper,
		Ticker: "AAPL", Quantity: 100, EntryPrice: 100, MarketValue: 10000,
		StopLossPrice: 90, TakeProfitPrice: 120, CurrentPrice: 100, IsOpen: true,
	})

	client := broker.NewPaperClient(0)
	client.SeedPosition("AAPL", 100, 100)
	client.SetQuote("AAPL", 85, 84.9)

	res, err := newTestExitMonitor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Closed != 1 {
		t.Fatalf("closed = %d, want 1", res.Closed)
	}

	pos := store.positions[0]
	if pos.IsOpen {
		t.Fatal("position still open")
	}
	if pos.ExitReason == nil || *pos.ExitReason != database.ExitStopLoss {
		t.Errorf("exit reason = %v, want stop_loss", pos.ExitReason)
	}
	if pos.RealizedPL == nil || !floatEquals(*pos.RealizedPL, 100*(85-100)) {
		t.Errorf("realized PL = %v, want -1500", pos.RealizedPL)
	}

	if state.OpenPositions != 0 {
		t.Errorf("open positions = %d, want 0", state.OpenPositions)
	}
	if state.LosingTrades != 1 || state.WinningTrades != 0 {
		t.Errorf("win/loss = %d/%d, want 0/1", state.WinningTrades, state.LosingTrades)
	}
	if !floatEquals(state.Cash, 90000+8500) {
		t.Errorf("cash = %.2f, want 98500", state.Cash)
	}
	if !floatEquals(state.PortfolioValue, state.Cash+state.PositionsValue) {
		t.Errorf("portfolio value invariant broken")
	}
}

func TestExitMonitorNoTriggerInsideBand(t *testing.T) {
	store := newFakeStore()
	store.state = baseState()
	store.positions = append(store.positions, &database.Position{
		ID: 1, AccountID: "acct-1", TradingMode: database.ModePaper,
		Ticker: "AAPL", Quantity: 100, EntryPrice: 100, MarketValue: 10000,
		StopLossPrice: 90, TakeProfitPrice: 120, CurrentPrice: 100, IsOpen: true,
	})

	client := broker.NewPaperClient(0)
	client.SetQuote("AAPL", 95, 94.9)

	res, err := newTestExitMonitor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Closed != 0 {
		t.Errorf("closed = %d, want 0", res.Closed)
	}
	if !store.positions[0].IsOpen {
		t.Error("position closed without a trigger")
	}
	if !floatEquals(store.positions[0].CurrentPrice, 95) {
		t.Errorf("mark not refreshed: %.2f", store.positions[0].CurrentPrice)
	}
}

func TestExitMonitorTakeProfitWin(t *testing.T) {
	store := newFakeStore()
	state := baseState()
	state.Cash = 90000
	state.PositionsValue = 10000
	state.OpenPositions = 1
	store.state = state
	store.positions = append(store.positions, &database.Position{
		ID: 1, AccountID: "acct-1", TradingMode: database.ModePaper,
		Ticker: "AAPL", Quantity: 100, EntryPrice: 100, MarketValue: 10000,
		StopLossPrice: 90, TakeProfitPrice: 120, CurrentPrice: 100, IsOpen: true,
	})

	client := broker.NewPaperClient(0)
	client.SeedPosition("AAPL", 100, 100)
	client.SetQuote("AAPL", 125, 124.9)

	res, err := newTestExitMonitor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Closed != 1 {
		t.Fatalf("closed = %d, want 1", res.Closed)
	}
	pos := store.positions[0]
	if pos.ExitReason == nil || *pos.ExitReason != database.ExitTakeProfit {
		t.Errorf("exit reason = %v, want take_profit", pos.ExitReason)
	}
	if state.WinningTrades != 1 {
		t.Errorf("winning trades = %d, want 1", state.WinningTrades)
	}
}

func TestExitMonitorQuoteFailureDoesNotBlockScan(t *testing.T) {
	store := newFakeStore()
	state := baseState()
	state.OpenPositions = 2
	store.state = state
	store.positions = append(store.positions,
		&database.Position{
			ID: 1, AccountID: "acct-1", TradingMode: database.ModePaper,
			Ticker: "NOQUOTE", Quantity: 10, EntryPrice: 100, MarketValue: 1000,
			StopLossPrice: 90, TakeProfitPrice: 120, CurrentPrice: 100, IsOpen: true,
		},
		&database.Position{
			ID: 2, AccountID: "acct-1", TradingMode: database.ModePaper,
			Ticker: "AAPL", Quantity: 100, EntryPrice: 100, MarketValue: 10000,
			StopLossPrice: 90, TakeProfitPrice: 120, CurrentPrice: 100, IsOpen: true,
		},
	)

	client := broker.NewPaperClient(0)
	client.SeedPosition("AAPL", 100, 100)
	client.SetQuote("AAPL", 85, 84.9)
	// no quote for NOQUOTE

	res, err := newTestExitMonitor(store, client).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Errors != 1 {
		t.Errorf("errors = %d, want 1", res.Errors)
	}
	if res.Closed != 1 {
		t.Errorf("closed = %d, want 1", res.Closed)
	}
	if !store.positions[0].IsOpen {
		t.Error("failed position should stay open for the next pass")
	}
	if store.positions[1].IsOpen {
		t.Error("triggered position should have closed")
	}
}
