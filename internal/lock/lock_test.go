package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
)

func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "slot:1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	l := NewLocalLocker(5 * time.Second)
	assertMutualExclusion(t, l)
	assert.Zero(t, l.held())
}

func TestLocalLockerTimeout(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "slot:a")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "slot:a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLockTimeout))
}

func TestLocalLockerKeysAreIndependent(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)

	r1, err := l.Acquire(context.Background(), "slot:a")
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(context.Background(), "slot:b")
	require.NoError(t, err)
	r2()
}

func TestLocalLockerReleaseIsIdempotent(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
	assert.Zero(t, l.held())
}

func TestLocalLockerHonoursCancellation(t *testing.T) {
	l := NewLocalLocker(time.Second)

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCancelled))
	assert.Equal(t, 1, l.held())
}

func TestRedisLockerHonoursCancellation(t *testing.T) {
	l, _ := newRedisLocker(t, time.Second)

	release, err := l.Acquire(context.Background(), "slot:y")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "slot:y")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCancelled))
}

func newRedisLocker(t *testing.T, timeout time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLocker(client, RedisConfig{
		Timeout:       timeout,
		TTL:           time.Minute,
		RetryInterval: 5 * time.Millisecond,
	}, nil), mr
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t, 5*time.Second)
	assertMutualExclusion(t, l)
}

func TestRedisLockerTimeoutAndRelease(t *testing.T) {
	l, mr := newRedisLocker(t, 30*time.Millisecond)

	release, err := l.Acquire(context.Background(), "slot:x")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:slot:x"))

	_, err = l.Acquire(context.Background(), "slot:x")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLockTimeout))

	release()
	assert.False(t, mr.Exists("lock:slot:x"))

	again, err := l.Acquire(context.Background(), "slot:x")
	require.NoError(t, err)
	again()
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	l, mr := newRedisLocker(t, 30*time.Millisecond)

	release, err := l.Acquire(context.Background(), "slot:y")
	require.NoError(t, err)

	// lease expired and another instance took it over
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("lock:slot:y", "other-token"))

	release()
	value, err := mr.Get("lock:slot:y")
	require.NoError(t, err)
	assert.Equal(t, "other-token", value)
}

func TestInstrumentedCountsTimeouts(t *testing.T) {
	m := metrics.NewNop()
	l := Instrumented(NewLocalLocker(20*time.Millisecond), m)

	release, err := l.Acquire(context.Background(), SlotKey("a"))
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), SlotKey("a"))
	require.ErrorIs(t, err, ErrTimeout)
	var counter dto.Metric
	require.NoError(t, m.LockTimeouts.WithLabelValues("slot").Write(&counter))
	assert.Equal(t, 1.0, counter.GetCounter().GetValue())
}
