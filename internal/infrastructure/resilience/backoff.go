package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultInitial = 100 * time.Millisecond

// Backoff describes a reconnect policy: Initial doubled per consecutive
// failure, capped at Max, with up to Jitter fraction of random spread.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
	// Stable is how long a link must stay up before the failure streak is
	// forgotten; zero uses Max
	Stable time.Duration
}

// DefaultBackoff returns the live channel reconnect policy
func DefaultBackoff() *Backoff {
	return &Backoff{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Jitter:  0.2,
	}
}

// Schedule builds a fresh delay sequence for one reconnect loop
func (b *Backoff) Schedule() *backoff.ExponentialBackOff {
	s := backoff.NewExponentialBackOff()
	s.InitialInterval = b.Initial
	if s.InitialInterval <= 0 {
		s.InitialInterval = defaultInitial
	}
	s.MaxInterval = b.Max
	if s.MaxInterval < s.InitialInterval {
		s.MaxInterval = s.InitialInterval
	}
	s.Multiplier = 2
	s.RandomizationFactor = b.Jitter
	s.Reset()
	return s
}

// StableAfter returns the uptime after which a link counts as healthy
func (b *Backoff) StableAfter() time.Duration {
	switch {
	case b.Stable > 0:
		return b.Stable
	case b.Max > 0:
		return b.Max
	case b.Initial > 0:
		return b.Initial
	default:
		return defaultInitial
	}
}
