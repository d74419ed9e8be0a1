package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marcus/toggle/internal/models"
	"github.com/syndtr/goleveldb/leveldb"
)

// Backend names accepted by Open.
const (
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Backend is a durable namespace of toggle records.
type Backend interface {
	LoadAll(ctx context.Context) ([]models.ToggleRecord, error)
	SaveAll(ctx context.Context, records []models.ToggleRecord) error
	Close() error
}

// Set is one backend per namespace sharing a physical location.
type Set struct {
	Remote    Backend
	Overrides Backend
	closers   []func() error
}

// Close releases every backend and shared handle.
func (s *Set) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Namespaces used by the engine.
const (
	NamespaceRemote    = "remote"
	NamespaceOverrides = "overrides"
)

// Open builds the remote and override backends for kind rooted at dir.
func Open(kind, dir string) (*Set, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case BackendFile, "":
		return &Set{
			Remote:    NewFile(filepath.Join(dir, NamespaceRemote+".json")),
			Overrides: NewFile(filepath.Join(dir, NamespaceOverrides+".json")),
		}, nil

	case BackendSQLite:
		conn, err := OpenSQLiteDB(filepath.Join(dir, "toggles.db"))
		if err != nil {
			return nil, err
		}
		return &Set{
			Remote:    NewSQLite(conn, NamespaceRemote),
			Overrides: NewSQLite(conn, NamespaceOverrides),
			closers:   []func() error{conn.Close},
		}, nil

	case BackendLevelDB:
		db, err := leveldb.OpenFile(filepath.Join(dir, "toggles.ldb"), nil)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return &Set{
			Remote:    NewLevelDB(db, NamespaceRemote),
			Overrides: NewLevelDB(db, NamespaceOverrides),
			closers:   []func() error{db.Close},
		}, nil

	case BackendMemory:
		return &Set{Remote: NewMemory(), Overrides: NewMemory()}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
