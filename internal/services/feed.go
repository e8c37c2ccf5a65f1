package services

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

func defaultFeedBackoff() gax.Backoff {
	return gax.Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
}

// superviseFeed runs watch until ctx ends, pausing with backoff between failed attempts. A watch that
// stayed up longer than the maximum pause resets the backoff.
func superviseFeed(ctx context.Context, policy gax.Backoff, watch func(context.Context) error, onFailure func(err error, pause time.Duration)) {
	bo := policy
	for {
		started := time.Now()
		err := watch(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > policy.Max {
			bo = policy
		}
		pause := bo.Pause()
		if onFailure != nil {
			onFailure(err, pause)
		}
		if gax.Sleep(ctx, pause) != nil {
			return
		}
	}
}

// offerLatest delivers value on a buffered channel, replacing an undelivered older value. Only one
// goroutine may send on ch.
func offerLatest[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
