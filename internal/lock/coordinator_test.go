package lock

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
)

func fastOptions() Options {
	return Options{
		TTL:        time.Minute,
		Timeout:    150 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	}
}

type failingBackend struct{ MemoryBackend }

func (*failingBackend) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, stderrors.New("connection refused")
}

func TestCoordinator_HolderID(t *testing.T) {
	a := New(NewMemoryBackend(), WithHolderPrefix("worker-host"))
	b := New(NewMemoryBackend(), WithHolderPrefix("worker-host"))

	assert.True(t, strings.HasPrefix(a.HolderID(), "worker-host-"))
	assert.NotEqual(t, a.HolderID(), b.HolderID(), "holder IDs are unique per instance")
	assert.True(t, strings.HasPrefix(New(NewMemoryBackend()).HolderID(), "foreman-"))
}

func TestCoordinator_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend())

	h, err := c.Acquire(ctx, "coordinator", fastOptions())
	require.NoError(t, err)
	assert.Equal(t, "lock:coordinator", h.Key)
	assert.True(t, strings.HasPrefix(h.Value, c.HolderID()+":"))
	assert.Equal(t, time.Minute, h.TTL)
	assert.False(t, h.AcquiredAt.IsZero())

	ok, err := c.Release(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Release(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok, "second release reports the lock was not held")

	h2, err := c.Acquire(ctx, "coordinator", fastOptions())
	require.NoError(t, err)
	assert.NotEqual(t, h.Value, h2.Value, "tokens are unique per acquisition")
}

func TestCoordinator_AcquireTimesOut(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	first := New(backend)
	second := New(backend)

	_, err := first.Acquire(ctx, "coordinator", fastOptions())
	require.NoError(t, err)

	start := time.Now()
	h, err := second.Acquire(ctx, "coordinator", fastOptions())
	assert.Nil(t, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))
	assert.True(t, errors.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	var lte *errors.LockTimeoutError
	require.True(t, errors.As(err, &lte))
	assert.Equal(t, "coordinator", lte.LockName)
	assert.Greater(t, lte.Attempts, 1)
}

func TestCoordinator_MaxAttempts(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	_, err := New(backend).Acquire(ctx, "x", fastOptions())
	require.NoError(t, err)

	opts := fastOptions()
	opts.Timeout = time.Minute
	opts.MaxAttempts = 3

	_, err = New(backend).Acquire(ctx, "x", opts)
	var lte *errors.LockTimeoutError
	require.True(t, errors.As(err, &lte))
	assert.Equal(t, 3, lte.Attempts)
}

func TestCoordinator_SecondAcquireBlocksUntilRelease(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	first := New(backend)
	second := New(backend)

	h1, err := first.Acquire(ctx, "coordinator", fastOptions())
	require.NoError(t, err)

	var released atomic.Bool
	done := make(chan *Handle, 1)
	go func() {
		opts := fastOptions()
		opts.Timeout = 2 * time.Second
		h, err := second.Acquire(ctx, "coordinator", opts)
		if err != nil {
			done <- nil
			return
		}
		if !released.Load() {
			t.Error("second coordinator acquired while first still held the lock")
		}
		done <- h
	}()

	time.Sleep(50 * time.Millisecond)
	released.Store(true)
	ok, err := first.Release(ctx, h1)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case h2 := <-done:
		require.NotNil(t, h2, "second acquire should succeed after release")
	case <-time.After(3 * time.Second):
		t.Fatal("second acquire never returned")
	}
}

func TestCoordinator_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	coords := []*Coordinator{New(backend), New(backend)}

	var holders, violations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			opts := fastOptions()
			opts.Timeout = 5 * time.Second
			opts.RetryDelay = time.Millisecond
			err := c.WithLock(ctx, "shared", opts, func(context.Context) error {
				if holders.Add(1) > 1 {
					violations.Add(1)
				}
				time.Sleep(time.Millisecond)
				holders.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}(coords[i%2])
	}
	wg.Wait()
	assert.Zero(t, violations.Load(), "two holders were inside the critical section at once")
}

func TestCoordinator_StaleHolderCannotRelease(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewMemoryBackend()
	backend.now = clock.Now
	first := New(backend)
	second := New(backend)

	opts := fastOptions()
	opts.TTL = time.Second
	h1, err := first.Acquire(ctx, "coordinator", opts)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	h2, err := second.Acquire(ctx, "coordinator", opts)
	require.NoError(t, err)

	ok, err := first.Release(ctx, h1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = first.Extend(ctx, h1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = second.Release(ctx, h2)
	require.NoError(t, err)
	assert.True(t, ok, "current owner can still release")
}

func TestCoordinator_Extend(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend())
	h, err := c.Acquire(ctx, "x", fastOptions())
	require.NoError(t, err)

	ok, err := c.Extend(ctx, h, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, h.TTL, "zero ttl reuses the handle TTL")

	ok, err = c.Extend(ctx, h, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, h.TTL)
}

func TestCoordinator_BackendError(t *testing.T) {
	c := New(&failingBackend{})
	_, err := c.Acquire(context.Background(), "x", fastOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockBackend))
	assert.True(t, errors.IsCoordination(err))
}

func TestCoordinator_ContextCancelled(t *testing.T) {
	backend := NewMemoryBackend()
	_, err := New(backend).Acquire(context.Background(), "x", fastOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	opts := fastOptions()
	opts.Timeout = 5 * time.Second
	_, err = New(backend).Acquire(ctx, "x", opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLock_ReleasesOnErrorAndPanic(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := New(backend)

	boom := stderrors.New("boom")
	err := c.WithLock(ctx, "x", fastOptions(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	func() {
		defer func() { _ = recover() }()
		_ = c.WithLock(ctx, "x", fastOptions(), func(context.Context) error { panic("kaboom") })
	}()

	h, err := New(backend).Acquire(ctx, "x", fastOptions())
	require.NoError(t, err, "lock should have been released after error and panic")
	assert.NotNil(t, h)
}

func TestDo_ReturnsValue(t *testing.T) {
	c := New(NewMemoryBackend())
	n, err := Do(context.Background(), c, "x", fastOptions(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestCoordinator_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	var types []string
	bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	backend := NewMemoryBackend()
	c := New(backend, WithBus(bus))
	h, err := c.Acquire(ctx, "x", fastOptions())
	require.NoError(t, err)
	_, err = New(backend, WithBus(bus)).Acquire(ctx, "x", fastOptions())
	require.Error(t, err)
	_, err = c.Release(ctx, h)
	require.NoError(t, err)

	assert.Equal(t, []string{event.TypeLockAcquired, event.TypeLockTimeout, event.TypeLockReleased}, types)
}
