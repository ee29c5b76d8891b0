package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for backends that compute expiry
// locally.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backendUnderTest struct {
	backend Backend
	advance func(time.Duration)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func newMemoryUnderTest(t *testing.T) backendUnderTest {
	clock := newFakeClock()
	m := NewMemoryBackend()
	m.now = clock.Now
	return backendUnderTest{backend: m, advance: clock.Advance}
}

func newRedisUnderTest(t *testing.T) backendUnderTest {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return backendUnderTest{backend: NewRedisBackend(client), advance: mr.FastForward}
}

func newNATSUnderTest(t *testing.T) backendUnderTest {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	b, err := NewNATSBackend(context.Background(), nc, "test_locks")
	require.NoError(t, err)
	clock := newFakeClock()
	b.now = clock.Now
	return backendUnderTest{backend: b, advance: clock.Advance}
}

func newFileUnderTest(t *testing.T) backendUnderTest {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	clock := newFakeClock()
	b.now = clock.Now
	return backendUnderTest{backend: b, advance: clock.Advance}
}

func allBackends() map[string]func(*testing.T) backendUnderTest {
	return map[string]func(*testing.T) backendUnderTest{
		"memory": newMemoryUnderTest,
		"redis":  newRedisUnderTest,
		"nats":   newNATSUnderTest,
		"file":   newFileUnderTest,
	}
}

func TestBackend_SetNX(t *testing.T) {
	ctx := context.Background()
	for name, mk := range allBackends() {
		t.Run(name, func(t *testing.T) {
			b := mk(t).backend

			ok, err := b.SetNX(ctx, "lock:coordinator", "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "first SetNX should win")

			ok, err = b.SetNX(ctx, "lock:coordinator", "b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second SetNX must not overwrite a live lock")

			ok, err = b.SetNX(ctx, "lock:other", "b", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "different keys are independent")
		})
	}
}

func TestBackend_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, mk := range allBackends() {
		t.Run(name, func(t *testing.T) {
			b := mk(t).backend

			ok, err := b.CompareAndDelete(ctx, "lock:x", "a")
			require.NoError(t, err)
			assert.False(t, ok, "deleting an absent key reports false")

			_, err = b.SetNX(ctx, "lock:x", "a", time.Minute)
			require.NoError(t, err)

			ok, err = b.CompareAndDelete(ctx, "lock:x", "wrong")
			require.NoError(t, err)
			assert.False(t, ok, "wrong token must not release")

			ok, err = b.CompareAndDelete(ctx, "lock:x", "a")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = b.SetNX(ctx, "lock:x", "b", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "key should be free after release")
		})
	}
}

func TestBackend_CompareAndRefresh(t *testing.T) {
	ctx := context.Background()
	for name, mk := range allBackends() {
		t.Run(name, func(t *testing.T) {
			bt := mk(t)
			b := bt.backend

			_, err := b.SetNX(ctx, "lock:x", "a", 2*time.Second)
			require.NoError(t, err)

			ok, err := b.CompareAndRefresh(ctx, "lock:x", "wrong", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = b.CompareAndRefresh(ctx, "lock:x", "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			// The original 2s expiry has passed but the refresh holds it.
			bt.advance(10 * time.Second)
			ok, err = b.SetNX(ctx, "lock:x", "b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "refreshed lock must still be held")
		})
	}
}

func TestBackend_Expiry(t *testing.T) {
	ctx := context.Background()
	for name, mk := range allBackends() {
		t.Run(name, func(t *testing.T) {
			bt := mk(t)
			b := bt.backend

			_, err := b.SetNX(ctx, "lock:x", "a", time.Second)
			require.NoError(t, err)
			bt.advance(2 * time.Second)

			ok, err := b.SetNX(ctx, "lock:x", "b", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "expired lock should be taken over")

			ok, err = b.CompareAndDelete(ctx, "lock:x", "a")
			require.NoError(t, err)
			assert.False(t, ok, "stale holder must not release the new owner's lock")

			ok, err = b.CompareAndRefresh(ctx, "lock:x", "a", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "stale holder must not extend the new owner's lock")
		})
	}
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, BackendConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	mr := miniredis.RunT(t)
	b, err = NewBackend(ctx, BackendConfig{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisBackend{}, b)
	require.NoError(t, b.Close())

	server := startTestNATSServer(t)
	b, err = NewBackend(ctx, BackendConfig{Backend: BackendNATS, NATSURL: server.ClientURL()})
	require.NoError(t, err)
	assert.IsType(t, &NATSBackend{}, b)
	require.NoError(t, b.Close())

	b, err = NewBackend(ctx, BackendConfig{Backend: BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	_, err = NewBackend(ctx, BackendConfig{Backend: BackendRedis})
	assert.Error(t, err)
	_, err = NewBackend(ctx, BackendConfig{Backend: BackendFile})
	assert.Error(t, err)
	_, err = NewBackend(ctx, BackendConfig{Backend: "zookeeper"})
	assert.Error(t, err)
}

func TestFileBackend_SharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewFileBackend(dir)
	require.NoError(t, err)
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	ok, err := a.SetNX(ctx, "lock:x", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.SetNX(ctx, "lock:x", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second backend on the same directory must see the lease")

	ok, err = b.CompareAndDelete(ctx, "lock:x", "a")
	require.NoError(t, err)
	assert.True(t, ok, "any backend may release with the right token")

	var wg sync.WaitGroup
	wins := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			be, err := NewFileBackend(dir)
			if err != nil {
				return
			}
			if ok, err := be.SetNX(ctx, "lock:race", fmt.Sprint(n), time.Minute); err == nil && ok {
				wins <- fmt.Sprint(n)
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1, "exactly one concurrent SetNX should win")
}

func TestKVKey(t *testing.T) {
	assert.Equal(t, "lock.foreman.coordinator.default", kvKey("lock:foreman:coordinator:default"))
	assert.Equal(t, "lock.a_b", kvKey("lock:a b"))
}
