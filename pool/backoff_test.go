package pool

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeBackoffGrowsExponentially(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := computeBackoff(attempt, rng)
		if d <= prev {
			t.Fatalf("attempt %d: expected backoff to grow past previous %v, got %v", attempt, prev, d)
		}
		prev = d
	}
}

func TestComputeBackoffCapsAtMax(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	d := computeBackoff(100, rng)
	upperBound := backoffMax + time.Duration(float64(backoffMax)*backoffJitter) + time.Millisecond
	if d > upperBound {
		t.Fatalf("expected backoff capped near %v, got %v", backoffMax, d)
	}
}

func TestComputeBackoffStaysWithinJitterBand(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const attempts = 3
	base := float64(backoffBase) * 1.25 * 1.25 // attempts-1 = 2
	low := time.Duration(base * (1 - backoffJitter))
	high := time.Duration(base * (1 + backoffJitter))

	for i := 0; i < 50; i++ {
		d := computeBackoff(attempts, rng)
		if d < low || d > high {
			t.Fatalf("backoff %v outside jitter band [%v, %v]", d, low, high)
		}
	}
}

func TestComputeBackoffTreatsNonPositiveAttemptsAsOne(t *testing.T) {
	rng1 := rand.New(rand.NewSource(4))
	rng2 := rand.New(rand.NewSource(4))
	if computeBackoff(0, rng1) != computeBackoff(1, rng2) {
		t.Fatalf("expected attempts<=0 to behave like attempts=1")
	}
}
