package backoff_test

import (
	"testing"
	"time"

	"github.com/hirewire/workq/backoff"
)

func TestFixed_ReturnsConstantDelay(t *testing.T) {
	f := backoff.NewFixed(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := f.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_MillisecondBase(t *testing.T) {
	e := backoff.NewExponential(1000 * time.Millisecond)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 4000 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_UncappedByDefault(t *testing.T) {
	e := backoff.NewExponential(time.Second)
	if got := e.Delay(12); got != 2048*time.Second {
		t.Errorf("Delay(12) = %v, want %v", got, 2048*time.Second)
	}
}

func TestExponential_OptionalCap(t *testing.T) {
	e := &backoff.Exponential{Base: time.Second, Max: 10 * time.Second}
	if got := e.Delay(10); got != 10*time.Second {
		t.Errorf("Delay(10) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_StaysWithinBound(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	for attempt := 1; attempt <= 8; attempt++ {
		bound := time.Duration(1<<uint(attempt-1)) * time.Second
		if bound > time.Minute {
			bound = time.Minute
		}
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > bound {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, got, bound)
			}
		}
	}
}

func TestForKind(t *testing.T) {
	tests := []struct {
		kind    string
		attempt int
		want    time.Duration
	}{
		{"fixed", 1, 500 * time.Millisecond},
		{"fixed", 3, 500 * time.Millisecond},
		{"exponential", 1, 500 * time.Millisecond},
		{"exponential", 2, 1000 * time.Millisecond},
		{"exponential", 3, 2000 * time.Millisecond},
		// Unknown kinds fall back to exponential.
		{"bogus", 2, 1000 * time.Millisecond},
	}
	for _, tt := range tests {
		p := backoff.ForKind(tt.kind, 500*time.Millisecond)
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("ForKind(%q).Delay(%d) = %v, want %v", tt.kind, tt.attempt, got, tt.want)
		}
	}
}
