package trader

import (
	"context"
	"time"
)

// PollPolicy bounds a polling loop: how long to keep trying and how long to
// sleep between probes.
type PollPolicy struct {
	Timeout  time.Duration
	Interval time.Duration
}

// pollUntil invokes probe every Interval until it reports done or the
// Timeout budget is spent. The first probe runs after one full interval.
// Probe errors do not stop the loop; the last one is returned alongside a
// false result so the caller can tell a noisy timeout from a clean one.
// Cancelling the context aborts immediately with ctx.Err().
func pollUntil(ctx context.Context, policy PollPolicy, probe func(ctx context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(policy.Timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(policy.Interval):
		}

		done, err := probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			lastErr = err
			continue
		}
		if done {
			return true, nil
		}
	}

	return false, lastErr
}
