package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/toggle/internal/models"
)

// File stores a namespace as a single JSON snapshot file.
// Writes go to a temp file in the same directory and are renamed into place.
type File struct {
	path        string
	lockTimeout time.Duration
}

type fileSnapshot struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Records []json.RawMessage `json:"records"`
}

// NewFile returns a File backend writing to path.
func NewFile(path string) *File {
	return &File{path: path, lockTimeout: defaultLockTimeout}
}

// Path returns the snapshot location.
func (f *File) Path() string { return f.path }

// LoadAll reads the snapshot. A missing file is an empty namespace.
func (f *File) LoadAll(ctx context.Context) ([]models.ToggleRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", f.path, err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", f.path, snap.Version)
	}

	raws := make([][]byte, len(snap.Records))
	for i, r := range snap.Records {
		raws[i] = r
	}
	return decodeRecords("file", raws), nil
}

// SaveAll replaces the snapshot with records.
func (f *File) SaveAll(ctx context.Context, records []models.ToggleRecord) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	snap := fileSnapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Records: make([]json.RawMessage, 0, len(records)),
	}
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.Key, err)
		}
		snap.Records = append(snap.Records, raw)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	locker := newFileLocker(f.path)
	if err := locker.acquire(f.lockTimeout); err != nil {
		return err
	}
	defer locker.release()

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; File holds no open handles between calls.
func (f *File) Close() error { return nil }
