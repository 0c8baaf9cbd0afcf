package sizing

import (
	"math"
	"testing"

	"disclosure-trading-bot/internal/database"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

func testConfig() *database.RiskConfig {
	return &database.RiskConfig{
		AccountID:              "test",
		BasePositionSizePct:    0.05,
		ConfidenceMultiplier:   2.0,
		MaxPositionSizePct:     0.10,
		MaxSingleTradePct:      0.10,
		MinConfidenceThreshold: 0.6,
		DefaultStopLossPct:     0.10,
		DefaultTakeProfitPct:   0.20,
		IsActive:               true,
	}
}

func TestCalculateScalesWithConfidence(t *testing.T) {
	cfg := testConfig()
	cfg.MinConfidenceThreshold = 0

	res, err := Calculate(100000, 50, 0.8, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}

	// base 5000, n=0.8, multiplier 1.8 -> 9000, under both 10% caps
	if !floatEquals(res.Multiplier, 1.8) {
		t.Errorf("multiplier = %.4f, want 1.8", res.Multiplier)
	}
	if !floatEquals(res.TargetValue, 9000) {
		t.Errorf("target value = %.2f, want 9000", res.TargetValue)
	}
	if res.Shares != 180 {
		t.Errorf("shares = %d, want 180", res.Shares)
	}
	if !floatEquals(res.TradeValue, 9000) {
		t.Errorf("trade value = %.2f, want 9000", res.TradeValue)
	}
}

func TestCalculateAtThresholdGetsBaseSize(t *testing.T) {
	cfg := testConfig()

	res, err := Calculate(100000, 100, 0.6, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}

	if !floatEquals(res.Multiplier, 1.0) {
		t.Errorf("multiplier = %.4f, want 1.0", res.Multiplier)
	}
	if res.Shares != 50 {
		t.Errorf("shares = %d, want 50", res.Shares)
	}
}

func TestCalculateMaxConfidenceCapped(t *testing.T) {
	cfg := testConfig()

	// confidence 1.0 -> multiplier 2.0 -> 10000, exactly the 10% cap
	res, err := Calculate(100000, 100, 1.0, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}
	if !floatEquals(res.TargetValue, 10000) {
		t.Errorf("target value = %.2f, want 10000", res.TargetValue)
	}

	// tighten the trade cap, it should win
	cfg.MaxSingleTradePct = 0.03
	res, err = Calculate(100000, 100, 1.0, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}
	if !floatEquals(res.TargetValue, 3000) {
		t.Errorf("target value = %.2f, want 3000", res.TargetValue)
	}
	if res.Shares != 30 {
		t.Errorf("shares = %d, want 30", res.Shares)
	}
}

func TestCalculateConfidenceBelowThresholdClampsToZero(t *testing.T) {
	cfg := testConfig()

	res, err := Calculate(100000, 100, 0.3, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}
	if !floatEquals(res.Multiplier, 1.0) {
		t.Errorf("multiplier = %.4f, want 1.0 for clamped confidence", res.Multiplier)
	}
}

func TestCalculateZeroSharesIsValid(t *testing.T) {
	cfg := testConfig()

	// target ~5000 but the stock costs more
	res, err := Calculate(100000, 6000, 0.6, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}
	if res.Shares != 0 {
		t.Errorf("shares = %d, want 0", res.Shares)
	}
	if !floatEquals(res.TradeValue, 0) {
		t.Errorf("trade value = %.2f, want 0", res.TradeValue)
	}
}

func TestCalculateRejectsBadInputs(t *testing.T) {
	cfg := testConfig()

	if _, err := Calculate(100000, 0, 0.8, cfg); err == nil {
		t.Error("expected error for zero price")
	}
	if _, err := Calculate(100000, -10, 0.8, cfg); err == nil {
		t.Error("expected error for negative price")
	}
	if _, err := Calculate(0, 100, 0.8, cfg); err == nil {
		t.Error("expected error for zero portfolio value")
	}
}

func TestCalculateDegenerateThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinConfidenceThreshold = 1.0

	res, err := Calculate(100000, 100, 1.0, cfg)
	if err != nil {
		t.Fatalf("Calculate() error: %v", err)
	}
	if !floatEquals(res.Multiplier, 2.0) {
		t.Errorf("multiplier = %.4f, want full multiplier at threshold 1.0", res.Multiplier)
	}
}

func TestStopAndTargetPrices(t *testing.T) {
	cfg := testConfig()

	if sl := StopLoss(100, cfg); !floatEquals(sl, 90) {
		t.Errorf("StopLoss(100) = %.2f, want 90", sl)
	}
	if tp := TakeProfit(100, cfg); !floatEquals(tp, 120) {
		t.Errorf("TakeProfit(100) = %.2f, want 120", tp)
	}
}
