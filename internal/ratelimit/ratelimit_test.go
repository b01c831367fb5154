package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiter_FirstWaitIsImmediate(t *testing.T) {
	r := NewSimpleRateLimiter(time.Second, time.Second)

	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiter_SpacesCalls(t *testing.T) {
	r := NewSimpleRateLimiter(40*time.Millisecond, 40*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Wait(ctx))
		}()
	}
	wg.Wait()

	// slots at 0, 40ms and 80ms
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestSimpleRateLimiter_ContextCancelled(t *testing.T) {
	r := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimpleRateLimiter_SetDelay(t *testing.T) {
	r := NewSimpleRateLimiter(time.Second, 2*time.Second)
	r.SetDelay(5*time.Second, time.Second)

	min, max := r.Delays()
	assert.Equal(t, 5*time.Second, min)
	assert.Equal(t, 5*time.Second, max)
}

func TestAdaptiveRateLimiter_BacksOffAfterErrors(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	a.RecordError()
	a.RecordError()
	min, _ := a.Delays()
	assert.Equal(t, 2*time.Second, min, "below threshold")

	a.RecordError()
	min, max := a.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 6*time.Second, max)
}

func TestAdaptiveRateLimiter_RecoversToBaseline(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)
	for i := 0; i < 3; i++ {
		a.Record(errors.New("503"))
	}

	for i := 0; i < 100; i++ {
		a.Record(nil)
	}

	min, max := a.Delays()
	assert.Equal(t, 2*time.Second, min)
	assert.Equal(t, 4*time.Second, max)
}

func TestAdaptiveRateLimiter_Caps(t *testing.T) {
	a := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)
	for i := 0; i < 30; i++ {
		a.RecordError()
	}

	min, max := a.Delays()
	assert.Equal(t, 60*time.Second, min)
	assert.Equal(t, 120*time.Second, max)
}
