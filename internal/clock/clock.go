// Package clock provides the monotonic millisecond counter used by the control loop.
//
// The counter is a uint32 and wraps after roughly 49 days. Durations must always be
// computed with Elapsed, never by comparing two readings directly.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source shared by bring-up and the control loop.
type Clock interface {
	// Millis returns the monotonic millisecond counter.
	Millis() uint32
	// Now returns wall time, used where a library needs a time.Time.
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Elapsed returns the milliseconds between since and now, tolerating one wraparound.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// System is the real clock. Its counter starts at zero when created.
type System struct {
	start time.Time
}

// NewSystem creates a system clock anchored at the current instant.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) Millis() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

func (s *System) Now() time.Time {
	return time.Now()
}

func (s *System) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake is a manually driven clock for tests. Sleep advances the counter instead of blocking.
type Fake struct {
	mu     sync.Mutex
	millis uint32
	base   time.Time
	slept  time.Duration
}

// NewFake creates a fake clock whose counter starts at start.
func NewFake(start uint32) *Fake {
	return &Fake{millis: start, base: time.Unix(1700000000, 0)}
}

func (f *Fake) Millis() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.millis
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base
}

// Advance moves the counter and wall time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.millis += uint32(d.Milliseconds())
	f.base = f.base.Add(d)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	f.mu.Lock()
	f.slept += d
	f.mu.Unlock()
	return nil
}

// Slept reports the total duration passed to Sleep.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
