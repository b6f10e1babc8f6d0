package usecase

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	typingWordsPerMinute = 40

	// MinTypingDuration and MaxTypingDuration clamp the simulated typing time
	MinTypingDuration = 1000 * time.Millisecond
	MaxTypingDuration = 8000 * time.Millisecond
)

// TypingDuration estimates how long a human would take to type the reply
func TypingDuration(reply string) time.Duration {
	words := len(strings.Fields(reply))
	ms := float64(words) / typingWordsPerMinute * 60 * 1000
	d := time.Duration(ms) * time.Millisecond
	if d < MinTypingDuration {
		return MinTypingDuration
	}
	if d > MaxTypingDuration {
		return MaxTypingDuration
	}
	return d
}

// Humanizer computes and performs the waits that make replies look human
type Humanizer struct {
	int64N func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewHumanizer creates a humanizer using real time and randomness
func NewHumanizer() *Humanizer {
	return &Humanizer{
		int64N: rand.Int64N,
		sleep:  SleepContext,
	}
}

// ResponseDelay draws the pre-typing delay uniformly from [minSec, maxSec] seconds
func (h *Humanizer) ResponseDelay(minSec, maxSec int) time.Duration {
	if minSec < 0 {
		minSec = 0
	}
	if maxSec < minSec {
		minSec, maxSec = maxSec, minSec
		if minSec < 0 {
			minSec = 0
		}
	}
	lo := time.Duration(minSec) * time.Second
	span := time.Duration(maxSec-minSec) * time.Second
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(h.int64N(int64(span)+1))
}

// Wait blocks for d or until ctx is done
func (h *Humanizer) Wait(ctx context.Context, d time.Duration) error {
	return h.sleep(ctx, d)
}

// SleepContext sleeps for d, returning early with ctx.Err() on cancellation
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
