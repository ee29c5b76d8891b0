package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend    string // "file" (default) or "sqlite"
	Root       string // root directory for the file backend
	SQLitePath string // database path; defaults to {Root}/foreman.db
}

// New creates a Store for the configured backend.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileStore(cfg.Root)
	case "sqlite", "sqlite3":
		path := cfg.SQLitePath
		if path == "" {
			if cfg.Root == "" {
				return nil, fmt.Errorf("sqlite store requires a path or root directory")
			}
			if _, err := NewFileStore(cfg.Root); err != nil {
				return nil, err
			}
			path = filepath.Join(cfg.Root, "foreman.db")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
