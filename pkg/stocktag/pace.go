package stocktag

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// Pacer blocks until the next call to the description service may proceed.
// *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Cooldown pauses for a fixed duration once calls have been active for longer than Active.
type Cooldown struct {
	Active time.Duration
	Pause  time.Duration

	// Now and Sleep may be replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	start time.Time
}

// NewCooldown returns a Cooldown using the wall clock.
func NewCooldown(active, pause time.Duration) *Cooldown {
	return &Cooldown{Active: active, Pause: pause, Now: time.Now, Sleep: sleep}
}

// Wait implements Pacer.
func (c *Cooldown) Wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	if c.start.IsZero() {
		c.start = now
		return ctx.Err()
	}

	if now.Sub(c.start) <= c.Active {
		return ctx.Err()
	}

	klog.V(1).Infof("cooling down for %s after %s of activity", c.Pause, now.Sub(c.start))
	if err := c.Sleep(ctx, c.Pause); err != nil {
		return err
	}
	c.start = c.Now()
	return nil
}

// NewTokenBucket returns a pacer allowing one call per interval with the given burst.
func NewTokenBucket(interval time.Duration, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), burst)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type noPace struct{}

func (noPace) Wait(ctx context.Context) error { return ctx.Err() }
