// Package reconcile compares the local position store against the broker's
// authoritative holdings and optionally repairs drift.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"disclosure-trading-bot/internal/broker"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/logging"
)

// Comparison tolerances per field. Values inside the tolerance are treated
// as equal; broker decimal handling makes exact comparison meaningless.
const (
	QuantityTolerance    = 0.001
	EntryPriceTolerance  = 0.01
	MarketValueTolerance = 1.0
)

// Health states
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// Drifted field names
const (
	FieldQuantity    = "quantity"
	FieldEntryPrice  = "entry_price"
	FieldMarketValue = "market_value"
)

// Drift records one field discrepancy between local and broker state
type Drift struct {
	Ticker     string  `json:"ticker"`
	Field      string  `json:"field"`
	Local      float64 `json:"local"`
	Remote     float64 `json:"remote"`
	Difference float64 `json:"difference"`
}

// Report is the outcome of one reconciliation pass
type Report struct {
	AccountID     string    `json:"account_id"`
	TradingMode   string    `json:"trading_mode"`
	Health        string    `json:"health"`
	Drifts        []Drift   `json:"drifts"`
	MissingLocal  []string  `json:"missing_local"`  // broker holds, store does not
	MissingRemote []string  `json:"missing_remote"` // store holds open, broker does not
	Corrected     int       `json:"corrected"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Store defines the persistence reconciliation needs
type Store interface {
	GetOpenPositions(ctx context.Context, accountID, mode string) ([]*database.Position, error)
	OverwritePosition(ctx context.Context, id int64, quantity, entryPrice, currentPrice, marketValue, unrealizedPL float64) error
	ClosePosition(ctx context.Context, id int64, exitPrice, realizedPL float64, exitReason string, exitDate time.Time) error
	GetPortfolioState(ctx context.Context, accountID, mode string) (*database.PortfolioState, error)
	SavePortfolioState(ctx context.Context, s *database.PortfolioState) error
}

var _ Store = (*database.Repository)(nil)

// Service runs reconciliation for one account/mode pair
type Service struct {
	store       Store
	client      broker.Client
	bus         *events.EventBus
	log         *logging.Logger
	accountID   string
	mode        string
	autoCorrect bool
}

// NewService creates a reconciliation service. With autoCorrect the broker's
// values overwrite the store; otherwise the pass only reports.
func NewService(store Store, client broker.Client, bus *events.EventBus, accountID, mode string, autoCorrect bool) *Service {
	return &Service{
		store:       store,
		client:      client,
		bus:         bus,
		log:         logging.WithComponent("reconcile").WithField("account_id", accountID),
		accountID:   accountID,
		mode:        mode,
		autoCorrect: autoCorrect,
	}
}

// Run compares local and broker holdings. Running it twice with no broker
// change produces zero corrections the second time.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	remote, err := s.client.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker positions: %w", err)
	}
	local, err := s.store.GetOpenPositions(ctx, s.accountID, s.mode)
	if err != nil {
		return nil, fmt.Errorf("load local positions: %w", err)
	}

	report := &Report{
		AccountID:   s.accountID,
		TradingMode: s.mode,
		CheckedAt:   time.Now().UTC(),
	}

	remoteByTicker := make(map[string]broker.Position, len(remote))
	for _, rp := range remote {
		remoteByTicker[rp.Symbol] = rp
	}
	localByTicker := make(map[string]*database.Position, len(local))
	for _, lp := range local {
		localByTicker[lp.Ticker] = lp
	}

	for _, lp := range local {
		rp, exists := remoteByTicker[lp.Ticker]
		if !exists {
			report.MissingRemote = append(report.MissingRemote, lp.Ticker)
			continue
		}
		s.compare(lp, rp, report)
	}
	for _, rp := range remote {
		if _, exists := localByTicker[rp.Symbol]; !exists {
			report.MissingLocal = append(report.MissingLocal, rp.Symbol)
		}
	}

	if len(report.Drifts) == 0 && len(report.MissingLocal) == 0 && len(report.MissingRemote) == 0 {
		report.Health = HealthHealthy
	} else {
		report.Health = HealthDegraded
	}

	if s.autoCorrect && report.Health == HealthDegraded {
		if err := s.correct(ctx, report, localByTicker, remoteByTicker); err != nil {
			return report, err
		}
	}

	s.log.Info("Reconciliation pass complete",
		"health", report.Health,
		"drifts", len(report.Drifts),
		"missing_local", len(report.MissingLocal),
		"missing_remote", len(report.MissingRemote),
		"corrected", report.Corrected)
	return report, nil
}

// compare records per-field drift for one ticker held on both sides
func (s *Service) compare(lp *database.Position, rp broker.Position, report *Report) {
	checks := []struct {
		field     string
		local     float64
		remote    float64
		tolerance float64
	}{
		{FieldQuantity, lp.Quantity, rp.Qty, QuantityTolerance},
		{FieldEntryPrice, lp.EntryPrice, rp.AvgEntryPrice, EntryPriceTolerance},
		{FieldMarketValue, lp.MarketValue, rp.MarketValue, MarketValueTolerance},
	}

	for _, c := range checks {
		if math.Abs(c.local-c.remote) > c.tolerance {
			report.Drifts = append(report.Drifts, Drift{
				Ticker:     lp.Ticker,
				Field:      c.field,
				Local:      c.local,
				Remote:     c.remote,
				Difference: c.remote - c.local,
			})
			s.bus.PublishDriftDetected(s.accountID, lp.Ticker, c.field, c.local, c.remote)
		}
	}
}

// correct applies the broker's values to the store. The broker is always
// the source of truth for quantity and price; local stop/target survive.
func (s *Service) correct(ctx context.Context, report *Report,
	local map[string]*database.Position, remote map[string]broker.Position) error {

	drifted := make(map[string]bool)
	for _, d := range report.Drifts {
		drifted[d.Ticker] = true
	}

	for ticker := range drifted {
		lp := local[ticker]
		rp := remote[ticker]
		if err := s.store.OverwritePosition(ctx, lp.ID,
			rp.Qty, rp.AvgEntryPrice, rp.CurrentPrice, rp.MarketValue, rp.UnrealizedPL); err != nil {
			return fmt.Errorf("overwrite %s: %w", ticker, err)
		}
		report.Corrected++
		s.log.Warn("Position overwritten from broker", "ticker", ticker)
	}

	for _, ticker := range report.MissingRemote {
		lp := local[ticker]
		// closed at the last known mark; the broker no longer holds it
		realizedPL := lp.Quantity * (lp.CurrentPrice - lp.EntryPrice)
		if err := s.store.ClosePosition(ctx, lp.ID, lp.CurrentPrice, realizedPL,
			database.ExitReconciliation, time.Now().UTC()); err != nil {
			return fmt.Errorf("close missing-remote %s: %w", ticker, err)
		}
		report.Corrected++
		s.bus.PublishPositionClosed(s.accountID, ticker, database.ExitReconciliation, realizedPL)
		s.log.Warn("Closed position missing at broker", "ticker", ticker)
	}

	if report.Corrected > 0 {
		if err := s.repairState(ctx); err != nil {
			return err
		}
	}
	return nil
}

// repairState recounts the aggregate row from the corrected positions
func (s *Service) repairState(ctx context.Context) error {
	state, err := s.store.GetPortfolioState(ctx, s.accountID, s.mode)
	if err != nil || state == nil {
		return err
	}

	open, err := s.store.GetOpenPositions(ctx, s.accountID, s.mode)
	if err != nil {
		return fmt.Errorf("recount open positions: %w", err)
	}

	var positionsValue float64
	for _, p := range open {
		positionsValue += p.MarketValue
	}
	state.OpenPositions = len(open)
	state.PositionsValue = positionsValue
	state.PortfolioValue = state.Cash + positionsValue

	return s.store.SavePortfolioState(ctx, state)
}
