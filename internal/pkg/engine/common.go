package engine

import (
	"context"
	"time"
)

// A context aware sleep func returning true if proper timeout after sleep and false if ctx canceled
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := 2 * current
	if next > max {
		return max
	}
	return next
}
