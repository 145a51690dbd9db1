package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElapsedAcrossWraparound(t *testing.T) {
	since := uint32(0xFFFFF000)
	now := since + 5000 // wraps past zero

	assert.Less(t, now, since)
	assert.Equal(t, uint32(5000), Elapsed(now, since))
}

func TestFakeSleepAdvances(t *testing.T) {
	f := NewFake(100)
	before := f.Now()

	require.NoError(t, f.Sleep(context.Background(), 500*time.Millisecond))

	assert.Equal(t, uint32(600), f.Millis())
	assert.Equal(t, 500*time.Millisecond, f.Now().Sub(before))
	assert.Equal(t, 500*time.Millisecond, f.Slept())
}

func TestFakeSleepCancelled(t *testing.T) {
	f := NewFake(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), f.Millis())
}

func TestSystemSleepCancelled(t *testing.T) {
	s := NewSystem()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Sleep(ctx, time.Hour), context.Canceled)
}
