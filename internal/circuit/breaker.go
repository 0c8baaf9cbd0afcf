package circuit

import (
	"fmt"
	"sync"
	"time"

	"disclosure-trading-bot/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Broker calls halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled         bool `json:"enabled"`
	MaxFailures     int  `json:"max_failures"`     // Consecutive broker failures before tripping
	CooldownMinutes int  `json:"cooldown_minutes"` // Cooldown after trip
}

// DefaultConfig returns safe defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxFailures:     5,
		CooldownMinutes: 15,
	}
}

// Breaker trips after consecutive broker call failures. While open, the
// current pass aborts rather than hammering a broker that is down; the next
// pass after the cooldown probes in half-open state.
type Breaker struct {
	config       *Config
	name         string
	state        BreakerState
	failures     int
	lastTripTime time.Time
	tripReason   string
	bus          *events.EventBus
	mu           sync.RWMutex
}

// NewBreaker creates a circuit breaker. The bus may be nil.
func NewBreaker(name string, config *Config, bus *events.EventBus) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Breaker{
		config: config,
		name:   name,
		state:  StateClosed,
		bus:    bus,
	}
}

// Allow reports whether a broker call may proceed
func (b *Breaker) Allow() (bool, string) {
	if !b.config.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.config.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
	}

	return true, ""
}

// RecordSuccess resets the failure count and closes a half-open breaker
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.tripReason = ""
	}
}

// RecordFailure counts a broker failure, tripping the breaker at the limit.
// A failure in half-open state re-trips immediately.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	if b.state == StateHalfOpen || b.failures >= b.config.MaxFailures {
		b.trip(fmt.Sprintf("%d consecutive failures, last: %v", b.failures, err))
	}
}

// trip opens the breaker. Caller must hold the lock.
func (b *Breaker) trip(reason string) {
	if b.state == StateOpen {
		return
	}
	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason

	if b.bus != nil {
		b.bus.PublishBreakerTripped(b.name, b.failures)
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset force-closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.tripReason = ""
}
