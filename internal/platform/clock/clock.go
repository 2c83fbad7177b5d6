// Package clock abstracts time so that rate-limit waits and backoff can be
// tested without sleeping.
package clock

import (
	"context"
	"time"
)

// Clock provides the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d on c or until ctx is done, whichever comes first.
// Returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
