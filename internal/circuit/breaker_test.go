package circuit

import (
	"errors"
	"testing"
)

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	b := NewBreaker("broker", &Config{Enabled: true, MaxFailures: 3, CooldownMinutes: 15}, nil)

	err := errors.New("connection refused")
	b.RecordFailure(err)
	b.RecordFailure(err)

	if ok, _ := b.Allow(); !ok {
		t.Fatal("breaker tripped before reaching the failure limit")
	}

	b.RecordFailure(err)

	ok, reason := b.Allow()
	if ok {
		t.Fatal("breaker did not trip at the failure limit")
	}
	if reason == "" {
		t.Error("expected a trip reason")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker("broker", &Config{Enabled: true, MaxFailures: 3, CooldownMinutes: 15}, nil)

	err := errors.New("timeout")
	b.RecordFailure(err)
	b.RecordFailure(err)
	b.RecordSuccess()
	b.RecordFailure(err)
	b.RecordFailure(err)

	if ok, _ := b.Allow(); !ok {
		t.Error("breaker tripped despite an intervening success")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	// zero cooldown moves straight to half-open on the next Allow
	b := NewBreaker("broker", &Config{Enabled: true, MaxFailures: 1, CooldownMinutes: 0}, nil)

	b.RecordFailure(errors.New("503"))
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	if ok, _ := b.Allow(); !ok {
		t.Fatal("expected half-open probe after cooldown")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after a successful probe", b.State())
	}
}

func TestBreakerDisabledAlwaysAllows(t *testing.T) {
	b := NewBreaker("broker", &Config{Enabled: false, MaxFailures: 1, CooldownMinutes: 15}, nil)

	b.RecordFailure(errors.New("boom"))
	b.RecordFailure(errors.New("boom"))

	if ok, _ := b.Allow(); !ok {
		t.Error("disabled breaker blocked a call")
	}
}
