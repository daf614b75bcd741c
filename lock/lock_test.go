package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacharya/FleetDeploymentReporting/graph/memory"
	"github.com/sacharya/FleetDeploymentReporting/lock"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

func TestAcquire_FailsFastWhenHeld(t *testing.T) {
	store := memory.New()
	locker := lock.New(store)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "123", "prod")
	require.NoError(t, err)
	assert.NotEmpty(t, lk.Holder)

	_, err = locker.Acquire(ctx, "123", "prod")
	assert.True(t, errors.Is(err, snitcherr.ErrEnvironmentLocked))

	other, err := locker.Acquire(ctx, "123", "staging")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lk.Release(ctx))
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))

	lk, err = locker.Acquire(ctx, "123", "prod")
	require.NoError(t, err)
	require.NoError(t, lk.Release(ctx))
}

func TestWith_ReleasesOnEveryExit(t *testing.T) {
	store := memory.New()
	locker := lock.New(store)
	ctx := context.Background()
	boom := errors.New("boom")

	err := locker.With(ctx, "1", "a", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))

	err = locker.With(ctx, "1", "a", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))

	assert.Panics(t, func() {
		_ = locker.With(ctx, "1", "a", func(context.Context) error { panic("bad") })
	})
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))

	cctx, cancel := context.WithCancel(ctx)
	err = locker.With(cctx, "1", "a", func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))
}

func TestWith_NestedAcquireIsLocked(t *testing.T) {
	locker := lock.New(memory.New())
	ctx := context.Background()

	err := locker.With(ctx, "1", "a", func(ctx context.Context) error {
		return locker.With(ctx, "1", "a", func(context.Context) error { return nil })
	})
	assert.True(t, errors.Is(err, snitcherr.ErrEnvironmentLocked))
}

func TestWith_MutualExclusion(t *testing.T) {
	locker := lock.New(memory.New())
	ctx := context.Background()

	var inside, maxInside, locked int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.With(ctx, "1", "a", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if errors.Is(err, snitcherr.ErrEnvironmentLocked) {
				atomic.AddInt32(&locked, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestLease_ExpiredClaimIsTakenOver(t *testing.T) {
	store := memory.New()
	now := time.UnixMilli(1_000)
	clock := func() time.Time { return now }
	locker := lock.New(store, lock.WithLease(time.Minute), lock.WithClock(clock))
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "1", "a")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "1", "a")
	assert.True(t, errors.Is(err, snitcherr.ErrEnvironmentLocked))

	now = now.Add(time.Minute)
	lk, err := locker.Acquire(ctx, "1", "a")
	require.NoError(t, err)
	require.NoError(t, lk.Release(ctx))
}

func TestNoLease_ClaimNeverExpires(t *testing.T) {
	now := time.UnixMilli(1_000)
	locker := lock.New(memory.New(), lock.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "1", "a")
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	_, err = locker.Acquire(ctx, "1", "a")
	assert.True(t, errors.Is(err, snitcherr.ErrEnvironmentLocked))
}
