package sync

import (
	"errors"
	"time"

	"github.com/marcus/toggle/internal/models"
)

// ErrOffline is returned by SyncOnce while connectivity is down.
var ErrOffline = errors.New("sync: offline")

// Pull is one remote snapshot delta.
type Pull struct {
	Toggles []models.ToggleRecord
	Deleted []models.Tombstone
	Cursor  string
}

// ApplyResult summarises the outcome of merging one pull.
type ApplyResult struct {
	Applied   []models.ToggleRecord // records written to the remote store
	Deleted   []string              // keys removed by tombstones
	Skipped   int                   // older than the local copy, or pinned
	Conflicts []ConflictRecord
}

// ConflictRecord captures a local override shadowed by a newer remote value.
// Only overrides modified since the last successful sync are reported.
type ConflictRecord struct {
	Key           string
	Local         models.ToggleRecord
	Remote        models.ToggleRecord
	OverwrittenAt time.Time
}

// Result is the outcome of one sync round.
type Result struct {
	ApplyResult
	Pushed   int
	Accepted int
	Cursor   string
}
