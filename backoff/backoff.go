// Package backoff provides pluggable retry delay policies for job
// execution. All policies are pure functions of the attempt number
// (they are stateless), so recomputing a delay is deterministic and
// testable without a live broker.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy computes the delay before a retry attempt.
type Policy interface {
	// Delay returns how long to wait after attempt n failed (1-indexed).
	// Attempt 1 is the first execution attempt.
	Delay(attempt int) time.Duration
}

// Kind names for ForKind. They mirror the backoff kind recorded on a
// job so the policy can be rebuilt from the persisted record.
const (
	KindFixed       = "fixed"
	KindExponential = "exponential"
)

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff policy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = Base * 2^(attempt-1), capped at Max when Max is non-zero.
// The policy itself imposes no cap; callers opt in by setting Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an uncapped exponential backoff policy.
func NewExponential(base time.Duration) *Exponential {
	return &Exponential{Base: base}
}

// Delay returns Base * 2^(attempt-1), capped at Max when set.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Construction from persisted job fields
// ──────────────────────────────────────────────────

// ForKind builds the policy recorded on a job from its kind and base
// delay. Unknown kinds fall back to exponential, matching the engine's
// default.
func ForKind(kind string, base time.Duration) Policy {
	switch kind {
	case KindFixed:
		return NewFixed(base)
	case KindExponential:
		return NewExponential(base)
	default:
		return NewExponential(base)
	}
}
