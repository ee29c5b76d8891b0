package lock

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend is the set of atomic primitives a lock store must provide.
// Implementations must make each method a single atomic check-then-act.
type Backend interface {
	// SetNX stores value under key with the given expiry if the key is
	// absent or expired. It reports whether the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// CompareAndRefresh resets the expiry of key only if it currently
	// holds value.
	CompareAndRefresh(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Close() error
}

// Backend names accepted by NewBackend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendFile   = "file"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Backend    string
	RedisAddr  string
	NATSURL    string
	NATSBucket string
	// Dir holds the lease files of the file backend.
	Dir string
}

// NewBackend constructs the backend named in cfg.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis lock backend requires an address")
		}
		return DialRedis(ctx, cfg.RedisAddr)
	case BackendNATS:
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("nats lock backend requires a server URL")
		}
		return DialNATS(ctx, cfg.NATSURL, cfg.NATSBucket)
	case BackendFile:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file lock backend requires a directory")
		}
		return NewFileBackend(cfg.Dir)
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Backend)
	}
}
