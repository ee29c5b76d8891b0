// Package lock provides distributed mutual exclusion with fencing tokens.
//
// A Coordinator is built on a Backend that exposes three atomic primitives:
// set-if-absent with expiry, compare-and-delete, and compare-and-refresh.
// Every call to Acquire stores a value unique to that call, so a holder whose
// lock expired and was taken over by another instance can neither release
// nor extend the new owner's lock.
//
// Backends:
//
//   - MemoryBackend keeps locks in process memory. Useful for a single
//     process and for tests.
//   - FileBackend keeps leases in a file guarded by flock(2), for processes
//     on one host sharing a state directory.
//   - RedisBackend uses SET NX PX plus Lua scripts for the compare steps.
//   - NATSBackend uses a JetStream key-value bucket and revision checks.
//
// Typical use:
//
//	coord := lock.New(backend, lock.WithHolderPrefix("foreman"))
//	err := coord.WithLock(ctx, "coordinator", lock.DefaultOptions(), func(ctx context.Context) error {
//	    return doCriticalWork(ctx)
//	})
package lock
