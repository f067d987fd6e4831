package directory

import (
	"context"
	"errors"
	"strings"
)

// Store persists registered users.
type Store interface {
	Load(ctx context.Context) ([]User, error)
	Save(ctx context.Context, u User) error
	Close() error
}

// StoreConfig selects a storage backend.
type StoreConfig struct {
	Driver string
	Path   string
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg StoreConfig) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "memory":
		return nil, nil
	case "file", "json":
		s, err := OpenFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "sqlite3":
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
