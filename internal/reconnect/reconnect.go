package reconnect

import (
	"context"
	"time"
)

// Schedule defines the backoff durations for successive reconnect attempts.
var Schedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

// Delay returns the backoff duration for the given attempt.
// Attempts beyond the length of the schedule wait 30 seconds.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(Schedule) {
		return Schedule[attempt]
	}
	return 30 * time.Second
}

// Wait sleeps for Delay(attempt) or until ctx is done, whichever comes first.
func Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
