package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/toggle/internal/models"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB stores each record under "<namespace>/<key>".
type LevelDB struct {
	db        *leveldb.DB
	namespace string
	owned     bool
}

// OpenLevelDB opens (or creates) a LevelDB directory for namespace.
func OpenLevelDB(path, namespace string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db, namespace: namespace, owned: true}, nil
}

// NewLevelDB wraps an already open database. The caller keeps ownership of db.
func NewLevelDB(db *leveldb.DB, namespace string) *LevelDB {
	return &LevelDB{db: db, namespace: namespace}
}

func (l *LevelDB) prefix() []byte {
	return []byte(l.namespace + "/")
}

// LoadAll iterates the namespace prefix.
func (l *LevelDB) LoadAll(ctx context.Context) ([]models.ToggleRecord, error) {
	iter := l.db.NewIterator(util.BytesPrefix(l.prefix()), nil)
	defer iter.Release()

	var raws [][]byte
	for iter.Next() {
		// iterator buffers are reused between calls
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		raws = append(raws, v)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate leveldb: %w", err)
	}
	return decodeRecords("leveldb", raws), nil
}

// SaveAll rewrites the namespace in a single atomic batch.
func (l *LevelDB) SaveAll(ctx context.Context, records []models.ToggleRecord) error {
	batch := new(leveldb.Batch)

	iter := l.db.NewIterator(util.BytesPrefix(l.prefix()), nil)
	for iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		batch.Delete(k)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate leveldb: %w", err)
	}

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.Key, err)
		}
		batch.Put(append(l.prefix(), rec.Key...), data)
	}

	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Close closes the database when this backend opened it.
func (l *LevelDB) Close() error {
	if !l.owned {
		return nil
	}
	return l.db.Close()
}
