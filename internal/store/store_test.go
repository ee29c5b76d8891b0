package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sq, err := NewSQLiteStore(filepath.Join(dir, "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{"file": fs, "sqlite": sq}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "work_orders/WO-001.json")
			assert.True(t, errors.Is(err, ErrNotFound), "missing key should be ErrNotFound, got %v", err)

			require.NoError(t, s.Put(ctx, "work_orders/WO-001.json", []byte(`{"orderId":"WO-001"}`)))
			got, err := s.Get(ctx, "work_orders/WO-001.json")
			require.NoError(t, err)
			assert.JSONEq(t, `{"orderId":"WO-001"}`, string(got))

			require.NoError(t, s.Put(ctx, "work_orders/WO-001.json", []byte(`{"orderId":"WO-001","v":2}`)))
			got, err = s.Get(ctx, "work_orders/WO-001.json")
			require.NoError(t, err)
			assert.Contains(t, string(got), `"v":2`)

			require.NoError(t, s.Delete(ctx, "work_orders/WO-001.json"))
			require.NoError(t, s.Delete(ctx, "work_orders/WO-001.json"), "deleting a missing key is not an error")
			_, err = s.Get(ctx, "work_orders/WO-001.json")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"work_orders/WO-002.json", "controller_state.json", "work_orders/WO-001.json"} {
				require.NoError(t, s.Put(ctx, k, []byte("{}")))
			}

			keys, err := s.List(ctx, "work_orders/")
			require.NoError(t, err)
			assert.Equal(t, []string{"work_orders/WO-001.json", "work_orders/WO-002.json"}, keys)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestStore_JSONHelpers(t *testing.T) {
	ctx := context.Background()
	type record struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, PutJSON(ctx, s, "rec.json", record{ID: "a", Count: 3}))
			var out record
			require.NoError(t, GetJSON(ctx, s, "rec.json", &out))
			assert.Equal(t, record{ID: "a", Count: 3}, out)
		})
	}
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape.json", "a/../../b", "a//b"} {
				err := s.Put(ctx, key, []byte("x"))
				assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
			}
		})
	}
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "controller_state.json", []byte(`{"projectId":"p"}`)))

	path, err := s.Path("controller_state.json")
	require.NoError(t, err)
	_, err = os.Stat(path + tmpSuffix)
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"controller_state.json"}, keys, "lock file must not be listed")
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{Root: dir})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = New(Config{Backend: "sqlite", Root: dir})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, "foreman.db"))

	_, err = New(Config{Backend: "etcd", Root: dir})
	assert.Error(t, err)
}
