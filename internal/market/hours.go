// Package market provides the exchange trading-hours gate.
package market

import (
	"fmt"
	"time"

	"disclosure-trading-bot/config"
)

// Clock supplies the current time, overridable in tests
type Clock func() time.Time

// Hours gates replication passes on the exchange session. Weekends are
// always closed; exchange holidays are not tracked, the broker rejects
// orders on those days anyway.
type Hours struct {
	location  *time.Location
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
	now       Clock
}

// NewHours builds the gate from market configuration. An unknown timezone
// falls back to UTC rather than failing startup.
func NewHours(cfg config.MarketConfig) (*Hours, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	open := cfg.OpenHour*60 + cfg.OpenMinute
	close := cfg.CloseHour*60 + cfg.CloseMinute
	if open < 0 || open >= 24*60 || close < 0 || close > 24*60 || open >= close {
		return nil, fmt.Errorf("invalid market hours window %02d:%02d-%02d:%02d",
			cfg.OpenHour, cfg.OpenMinute, cfg.CloseHour, cfg.CloseMinute)
	}

	return &Hours{
		location:  loc,
		openHour:  cfg.OpenHour,
		openMin:   cfg.OpenMinute,
		closeHour: cfg.CloseHour,
		closeMin:  cfg.CloseMinute,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source, for tests
func (h *Hours) WithClock(c Clock) *Hours {
	h.now = c
	return h
}

// IsOpen reports whether the exchange session is currently open
func (h *Hours) IsOpen() bool {
	now := h.now().In(h.location)

	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	open := time.Date(now.Year(), now.Month(), now.Day(), h.openHour, h.openMin, 0, 0, h.location)
	close := time.Date(now.Year(), now.Month(), now.Day(), h.closeHour, h.closeMin, 0, 0, h.location)

	return !now.Before(open) && now.Before(close)
}

// NextOpen returns the next session open after the current instant
func (h *Hours) NextOpen() time.Time {
	now := h.now().In(h.location)
	open := time.Date(now.Year(), now.Month(), now.Day(), h.openHour, h.openMin, 0, 0, h.location)

	for !open.After(now) || open.Weekday() == time.Saturday || open.Weekday() == time.Sunday {
		open = open.AddDate(0, 0, 1)
	}
	return open
}
