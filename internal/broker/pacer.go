package broker

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a fixed minimum interval between consecutive broker calls
// within a pass. The sleep between orders is the only intentional suspension
// point in a pass.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

// NewPacer creates a pacer with the given minimum call interval
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the minimum interval since the previous call has
// elapsed, then stamps the call. Returns early if the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	wait := p.interval - time.Since(p.lastCall)
	if p.lastCall.IsZero() || wait <= 0 {
		p.lastCall = time.Now()
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	p.mu.Lock()
	p.lastCall = time.Now()
	p.mu.Unlock()
	return nil
}
