package registry

import (
	"math"
	"time"
)

const (
	defaultBackoffInitialSec = 1
	defaultBackoffMaxSec     = 30
	defaultBackoffMultiplier = 2.0
)

// Backoff is the ACTIVE reconnect policy. Delays are whole seconds.
type Backoff struct {
	InitialSec int64
	MaxSec     int64
	Multiplier float64
}

// DefaultBackoff returns 1s initial, 30s max, x2.
func DefaultBackoff() Backoff {
	return Backoff{InitialSec: defaultBackoffInitialSec, MaxSec: defaultBackoffMaxSec, Multiplier: defaultBackoffMultiplier}
}

func (b Backoff) normalized() Backoff {
	if b.InitialSec <= 0 {
		b.InitialSec = defaultBackoffInitialSec
	}
	if b.MaxSec <= 0 {
		b.MaxSec = defaultBackoffMaxSec
	}
	if b.Multiplier < 1 {
		b.Multiplier = defaultBackoffMultiplier
	}
	return b
}

// Delay returns the wait before reconnect number attempt (1-based):
// min(max, max(1, ceil(initial * multiplier^(attempt-1)))) seconds.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(b.InitialSec) * math.Pow(b.Multiplier, float64(attempt-1))
	sec := b.MaxSec
	if raw < float64(b.MaxSec) {
		sec = int64(math.Ceil(raw))
	}
	if sec < 1 {
		sec = 1
	}
	if sec > b.MaxSec {
		sec = b.MaxSec
	}
	return time.Duration(sec) * time.Second
}
