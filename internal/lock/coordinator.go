package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
)

// KeyPrefix is prepended to lock names to form backend keys.
const KeyPrefix = "lock:"

// releaseTimeout bounds the release call made after the protected function
// returns, which runs even when the caller's context is already cancelled.
const releaseTimeout = 5 * time.Second

// Options controls a single acquisition.
type Options struct {
	TTL         time.Duration // lock expiry
	Timeout     time.Duration // total time to keep retrying
	RetryDelay  time.Duration // fixed wait between attempts
	MaxAttempts int           // 0 means bounded by Timeout only
}

// DefaultOptions returns the default acquisition settings.
func DefaultOptions() Options {
	return Options{
		TTL:         30 * time.Second,
		Timeout:     5 * time.Second,
		RetryDelay:  100 * time.Millisecond,
		MaxAttempts: 50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	return o
}

// Handle identifies one successful acquisition. Value is the fencing token.
type Handle struct {
	Name       string
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

// Coordinator acquires and releases named locks on a Backend.
// It is safe for concurrent use.
type Coordinator struct {
	backend  Backend
	holderID string
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHolderPrefix sets the prefix of the holder ID (default "foreman").
func WithHolderPrefix(prefix string) Option {
	return func(c *Coordinator) {
		if prefix != "" {
			c.holderID = prefix + "-" + uuid.NewString()
		}
	}
}

// WithBus publishes lock events to bus.
func WithBus(bus *event.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator with a fresh holder identity.
func New(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  backend,
		holderID: "foreman-" + uuid.NewString(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("lock").With("holder", c.holderID)
	return c
}

// HolderID returns the identity of this coordinator instance.
func (c *Coordinator) HolderID() string {
	return c.holderID
}

// Acquire retries SetNX at a fixed interval until it succeeds, opts.Timeout
// elapses, or opts.MaxAttempts is reached. Exhaustion yields a
// *errors.LockTimeoutError; a backend failure yields a *errors.LockError.
func (c *Coordinator) Acquire(ctx context.Context, name string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	key := KeyPrefix + name
	token := c.holderID + ":" + uuid.NewString()

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	attempts := 0

	for {
		attempts++
		ok, err := c.backend.SetNX(ctx, key, token, opts.TTL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("acquire lock %q: %w", name, ctxErr)
			}
			return nil, errors.NewLockError(name, "acquire", err)
		}
		if ok {
			h := &Handle{Name: name, Key: key, Value: token, TTL: opts.TTL, AcquiredAt: time.Now()}
			wait := h.AcquiredAt.Sub(start)
			c.logger.Debug("lock acquired", "lock", name, "attempts", attempts, "wait_ms", wait.Milliseconds())
			c.publish(event.NewLockAcquiredEvent(name, c.holderID, wait, attempts))
			return h, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || (opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts) {
			wait := time.Since(start)
			c.logger.Warn("lock acquisition timed out", "lock", name, "attempts", attempts, "wait_ms", wait.Milliseconds())
			c.publish(event.NewLockTimeoutEvent(name, c.holderID, wait, attempts))
			return nil, errors.NewLockTimeoutError(name, opts.Timeout, attempts)
		}

		delay := opts.RetryDelay
		if delay > remaining {
			delay = remaining
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %q: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
}

// Release deletes the lock if h still owns it. It returns false when the
// lock had expired or now belongs to another holder.
func (c *Coordinator) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}
	ok, err := c.backend.CompareAndDelete(ctx, h.Key, h.Value)
	if err != nil {
		return false, errors.NewLockError(h.Name, "release", err)
	}
	if !ok {
		c.logger.Warn("lock was not held at release", "lock", h.Name, "held_ms", time.Since(h.AcquiredAt).Milliseconds())
	}
	c.publish(event.NewLockReleasedEvent(h.Name, c.holderID, ok))
	return ok, nil
}

// Extend refreshes the expiry of a lock h still owns. A zero ttl reuses h.TTL.
func (c *Coordinator) Extend(ctx context.Context, h *Handle, ttl time.Duration) (bool, error) {
	if h == nil {
		return false, nil
	}
	if ttl <= 0 {
		ttl = h.TTL
	}
	ok, err := c.backend.CompareAndRefresh(ctx, h.Key, h.Value, ttl)
	if err != nil {
		return false, errors.NewLockError(h.Name, "extend", err)
	}
	if ok {
		h.TTL = ttl
	}
	return ok, nil
}

// WithLock runs fn while holding the named lock.
func (c *Coordinator) WithLock(ctx context.Context, name string, opts Options, fn func(context.Context) error) error {
	_, err := Do(ctx, c, name, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do acquires the named lock, runs fn, and releases the lock whether fn
// returns or panics. An error from fn takes precedence over a release error.
func Do[T any](ctx context.Context, c *Coordinator, name string, opts Options, fn func(context.Context) (T, error)) (result T, err error) {
	h, err := c.Acquire(ctx, name, opts)
	if err != nil {
		return result, err
	}

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if _, relErr := c.Release(rctx, h); relErr != nil {
			if err == nil {
				err = relErr
			} else {
				c.logger.Warn("lock release failed", "lock", name, "error", relErr)
			}
		}
	}()

	return fn(ctx)
}

// Close closes the backend.
func (c *Coordinator) Close() error {
	return c.backend.Close()
}

func (c *Coordinator) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
