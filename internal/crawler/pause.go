package crawler

import (
	"context"
	"time"
)

// TimerPauser sleeps on a timer and wakes early when the context ends.
type TimerPauser struct{}

var _ Pauser = TimerPauser{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
