package transport

import "time"

// Backoff computes reconnect delays: min(Base * 2^attempt, Cap). The attempt
// counter is owned by the connection and resets to zero on a successful open.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the chat channel's settings: 1s doubling up to 30s.
var DefaultBackoff = Backoff{Base: time.Second, Cap: 30 * time.Second}

// Delay returns the delay before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	cap := b.Cap
	if cap <= 0 {
		cap = DefaultBackoff.Cap
	}
	if attempt < 0 {
		attempt = 0
	}
	// past 32 doublings the shift would overflow long before any sane cap
	if attempt > 32 {
		return cap
	}
	d := base << uint(attempt)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
