// Package backoff computes reconnect retry delays with exponential growth,
// a hard cap, and uniform jitter.
package backoff

import (
	"math/rand"
	"time"
)

const (
	// DefaultBase is the starting delay before exponential growth and jitter.
	DefaultBase = 250 * time.Millisecond
	// DefaultCap bounds the exponential component of the delay.
	DefaultCap = 5000 * time.Millisecond
	// DefaultJitter is the maximum uniform jitter added on top of the capped delay.
	DefaultJitter = 200 * time.Millisecond
)

// Policy computes delay(attempt) = min(cap, base * 2^attempt) + U(0, jitter).
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	// randFloat returns a value in [0, 1); overridable for deterministic tests.
	randFloat func() float64
}

// New constructs a Policy using the documented defaults.
func New() *Policy {
	return &Policy{Base: DefaultBase, Cap: DefaultCap, Jitter: DefaultJitter}
}

// Delay returns the retry delay for the given zero-based attempt number.
func (p *Policy) Delay(attempt int) time.Duration {
	base, cap_, jitter := DefaultBase, DefaultCap, DefaultJitter
	randFloat := rand.Float64
	if p != nil {
		if p.Base > 0 {
			base = p.Base
		}
		if p.Cap > 0 {
			cap_ = p.Cap
		}
		if p.Jitter > 0 {
			jitter = p.Jitter
		}
		if p.randFloat != nil {
			randFloat = p.randFloat
		}
	}
	if attempt < 0 {
		attempt = 0
	}

	//1.- Compute the exponential component with overflow protection; attempts
	// beyond ~32 would overflow a duration multiplication otherwise.
	exponential := base
	if attempt > 0 {
		shift := attempt
		if shift > 32 {
			shift = 32
		}
		multiplier := int64(1) << uint(shift)
		scaled := int64(base) * multiplier
		if scaled/multiplier != int64(base) || time.Duration(scaled) > cap_ {
			exponential = cap_
		} else {
			exponential = time.Duration(scaled)
		}
	}
	if exponential > cap_ {
		exponential = cap_
	}

	//2.- Add uniform jitter in [0, jitter).
	jitterAmount := time.Duration(randFloat() * float64(jitter))
	return exponential + jitterAmount
}
