// Package latency simulates the network delay of a remote task store.
package latency

import (
	"context"
	"time"

	"github.com/crabzie/task-console/internal/core/port"
)

type fixedDelayer struct {
	delays map[string]time.Duration
}

// New returns a Delayer sleeping delays[op] per operation. Unknown operations do not wait.
func New(delays map[string]time.Duration) port.Delayer {
	d := make(map[string]time.Duration, len(delays))
	for op, dur := range delays {
		d[op] = dur
	}
	return &fixedDelayer{delays: d}
}

// None returns a Delayer that never waits
func None() port.Delayer {
	return &fixedDelayer{}
}

func (d *fixedDelayer) Delay(ctx context.Context, op string) error {
	dur := d.delays[op]
	if dur <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
