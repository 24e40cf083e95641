package agent

import (
	"context"
	"math/rand"
	"time"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

// Delayer pauses before a reply is sent so answers do not arrive instantly.
type Delayer interface {
	// Wait blocks for the chosen duration. It returns early with ctx.Err()
	// when ctx is canceled.
	Wait(ctx context.Context) (time.Duration, error)
}

// RandomDelay waits a uniformly random duration in [Min, Max].
type RandomDelay struct {
	Min time.Duration
	Max time.Duration
}

func (d RandomDelay) pick() time.Duration {
	lo, hi := d.Min, d.Max
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}

func (d RandomDelay) Wait(ctx context.Context) (time.Duration, error) {
	wait := d.pick()
	if wait <= 0 {
		return 0, ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return wait, nil
	}
}

// NoDelay replies immediately.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) (time.Duration, error) {
	return 0, ctx.Err()
}

// DelayFromConfig returns the delay configured under reply.*.
func DelayFromConfig(rc config.ReplyConfig) Delayer {
	if !rc.DelayEnabled {
		return NoDelay{}
	}
	return RandomDelay{
		Min: time.Duration(rc.DelayMinSeconds) * time.Second,
		Max: time.Duration(rc.DelayMaxSeconds) * time.Second,
	}
}
