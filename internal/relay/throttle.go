package relay

import (
	"context"
	"sync"
	"time"
)

// Throttle is a token bucket that paces outbound calls to the destination
// chat. Telegram caps bots at about 20 messages per minute in one group;
// staying under it avoids most flood waits.
type Throttle struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewThrottle returns nil when perMinute <= 0, which disables pacing.
func NewThrottle(burst int, perMinute float64) *Throttle {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     perMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a call may proceed. A nil Throttle never blocks.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	for {
		t.mu.Lock()
		now := time.Now()
		t.tokens += now.Sub(t.lastTime).Seconds() * t.rate
		if t.tokens > t.max {
			t.tokens = t.max
		}
		t.lastTime = now

		if t.tokens >= 1.0 {
			t.tokens -= 1.0
			t.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - t.tokens) / t.rate * float64(time.Second))
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
