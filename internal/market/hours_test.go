package market

import (
	"testing"
	"time"

	"disclosure-trading-bot/config"
)

func nyseHours(t *testing.T) *Hours {
	t.Helper()
	h, err := NewHours(config.MarketConfig{
		Timezone:   "America/New_York",
		OpenHour:   9,
		OpenMinute: 30,
		CloseHour:  16,
	})
	if err != nil {
		t.Fatalf("NewHours() error: %v", err)
	}
	return h
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestIsOpen(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"midday Tuesday", time.Date(2026, 9, 1, 12, 0, 0, 0, loc), true},
		{"exactly at open", time.Date(2026, 9, 1, 9, 30, 0, 0, loc), true},
		{"just before open", time.Date(2026, 9, 1, 9, 29, 59, 0, loc), false},
		{"exactly at close", time.Date(2026, 9, 1, 16, 0, 0, 0, loc), false},
		{"evening", time.Date(2026, 9, 1, 20, 0, 0, 0, loc), false},
		{"Saturday midday", time.Date(2026, 9, 5, 12, 0, 0, 0, loc), false},
		{"Sunday midday", time.Date(2026, 9, 6, 12, 0, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := nyseHours(t).WithClock(fixedClock(tt.at))
			if got := h.IsOpen(); got != tt.want {
				t.Errorf("IsOpen() at %v = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")

	// Friday after close
	h := nyseHours(t).WithClock(fixedClock(time.Date(2026, 9, 4, 17, 0, 0, 0, loc)))
	next := h.NextOpen()

	want := time.Date(2026, 9, 7, 9, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextOpen() = %v, want %v", next, want)
	}
}

func TestNewHoursRejectsBadWindow(t *testing.T) {
	_, err := NewHours(config.MarketConfig{
		Timezone:  "UTC",
		OpenHour:  16,
		CloseHour: 9,
	})
	if err == nil {
		t.Error("expected error for an inverted session window")
	}
}
