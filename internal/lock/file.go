package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/foreman/internal/store"
)

// Lease and guard files live next to the controller state. The leading dot
// keeps them out of state-directory watchers.
const (
	fileGuardName  = ".foreman.lock"
	fileLeasesName = ".foreman-leases.json"
)

type fileLease struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FileBackend keeps leases in a JSON file guarded by a store.FileLock. It gives
// mutual exclusion to processes on one host that share the directory.
type FileBackend struct {
	dir string
	now func() time.Time
}

// NewFileBackend creates a FileBackend storing its files in dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileBackend{dir: dir, now: time.Now}, nil
}

// update runs fn on the live leases while holding the guard file, and
// writes the leases back if fn reports a change.
func (f *FileBackend) update(fn func(leases map[string]fileLease) bool) error {
	guard := store.NewFileLock(filepath.Join(f.dir, fileGuardName))
	if err := guard.Lock(); err != nil {
		return err
	}
	defer func() { _ = guard.Unlock() }()

	leases, err := f.read()
	if err != nil {
		return err
	}
	now := f.now()
	for k, l := range leases {
		if !now.Before(l.ExpiresAt) {
			delete(leases, k)
		}
	}
	if !fn(leases) {
		return nil
	}
	return f.write(leases)
}

func (f *FileBackend) read() (map[string]fileLease, error) {
	leases := make(map[string]fileLease)
	data, err := os.ReadFile(filepath.Join(f.dir, fileLeasesName))
	if errors.Is(err, os.ErrNotExist) {
		return leases, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read leases: %w", err)
	}
	if len(data) == 0 {
		return leases, nil
	}
	if err := json.Unmarshal(data, &leases); err != nil {
		return nil, fmt.Errorf("decode leases: %w", err)
	}
	return leases, nil
}

func (f *FileBackend) write(leases map[string]fileLease) error {
	data, err := json.Marshal(leases)
	if err != nil {
		return err
	}
	path := filepath.Join(f.dir, fileLeasesName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write leases: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write leases: %w", err)
	}
	return nil
}

// SetNX implements Backend.
func (f *FileBackend) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	var stored bool
	err := f.update(func(leases map[string]fileLease) bool {
		if _, held := leases[key]; held {
			return false
		}
		leases[key] = fileLease{Value: value, ExpiresAt: f.now().Add(ttl)}
		stored = true
		return true
	})
	return stored, err
}

// CompareAndDelete implements Backend.
func (f *FileBackend) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	var deleted bool
	err := f.update(func(leases map[string]fileLease) bool {
		if l, held := leases[key]; !held || l.Value != value {
			return false
		}
		delete(leases, key)
		deleted = true
		return true
	})
	return deleted, err
}

// CompareAndRefresh implements Backend.
func (f *FileBackend) CompareAndRefresh(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	var refreshed bool
	err := f.update(func(leases map[string]fileLease) bool {
		l, held := leases[key]
		if !held || l.Value != value {
			return false
		}
		l.ExpiresAt = f.now().Add(ttl)
		leases[key] = l
		refreshed = true
		return true
	})
	return refreshed, err
}

// Close implements Backend.
func (f *FileBackend) Close() error {
	return nil
}
