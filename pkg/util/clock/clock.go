// Package clock provides the two time bases the benchmark uses: wall-clock
// nanoseconds for reporting, and monotonic "perf" nanoseconds for latency
// math and scheduling. Perf instants are comparable across goroutines within
// one process, never across processes.
package clock

import (
	"context"
	"time"
)

var base = time.Now()

// PerfNow returns monotonic nanoseconds since process start.
func PerfNow() int64 {
	return time.Since(base).Nanoseconds()
}

// WallNow returns wall-clock nanoseconds since the Unix epoch.
func WallNow() int64 {
	return time.Now().UnixNano()
}

// spinWindow is how close to the target SleepUntil switches from the timer
// to a spin loop. Timer wakeups are only ms-accurate under load; the final
// spin keeps scheduled sends tight.
const spinWindow = 500 * time.Microsecond

// SleepUntil blocks until the perf instant target, or until the context is
// cancelled. Returns immediately if target has passed.
func SleepUntil(ctx context.Context, target int64) error {
	return sleepUntil(ctx, target, PerfNow)
}

// SleepUntilWall blocks until the wall-clock instant target. Scheduled send
// instants travel between processes, so they are wall-clock by convention.
func SleepUntilWall(ctx context.Context, target int64) error {
	return sleepUntil(ctx, target, WallNow)
}

func sleepUntil(ctx context.Context, target int64, now func() int64) error {
	for {
		remaining := time.Duration(target - now())
		if remaining <= 0 {
			return nil
		}
		if remaining > spinWindow {
			timer := time.NewTimer(remaining - spinWindow)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			continue
		}
		// Final approach: spin on the clock for sub-ms accuracy.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
