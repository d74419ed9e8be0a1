package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/toggle/internal/models"
)

// RemoteStore is the store that holds remote-synced records.
type RemoteStore interface {
	Get(key string) (models.ToggleRecord, bool)
	PutIf(rec models.ToggleRecord, accept func(existing models.ToggleRecord, found bool) bool) bool
	DeleteIf(key string, accept func(existing models.ToggleRecord) bool) bool
}

// OverrideReader is the read side of the local override store.
type OverrideReader interface {
	Get(key string) (models.ToggleRecord, bool)
	All() []models.ToggleRecord
}

// ValidatePull checks every record and tombstone before anything is merged.
// A single bad entry rejects the whole pull.
func ValidatePull(p Pull) error {
	seen := make(map[string]bool, len(p.Toggles))
	for i, rec := range p.Toggles {
		if err := rec.Validate(); err != nil {
			return &models.SerializationError{Op: "validate pull", Err: fmt.Errorf("toggles[%d]: %w", i, err)}
		}
		if seen[rec.Key] {
			return &models.SerializationError{Op: "validate pull", Err: fmt.Errorf("toggles[%d]: duplicate key %q", i, rec.Key)}
		}
		seen[rec.Key] = true
	}
	for i, ts := range p.Deleted {
		if ts.Key == "" {
			return &models.SerializationError{Op: "validate pull", Err: fmt.Errorf("deleted[%d]: empty key", i)}
		}
		if ts.DeletedAt.IsZero() {
			return &models.SerializationError{Op: "validate pull", Err: fmt.Errorf("deleted[%d]: missing deleted_at", i)}
		}
	}
	return nil
}

// ApplyRemote merges p into st with last-write-wins on UpdatedAt.
// A remote record replaces the local one iff remote.UpdatedAt >= local.UpdatedAt;
// pinned records are never replaced. A tombstone deletes iff
// DeletedAt >= local.UpdatedAt and the record is not pinned.
//
// lastSyncAt gates conflict detection against ov: an unpinned override that
// was modified after lastSyncAt and is now shadowed by the remote value is
// reported. Pass nil to skip conflict recording.
func ApplyRemote(st RemoteStore, ov OverrideReader, p Pull, lastSyncAt *time.Time, now time.Time) (ApplyResult, error) {
	var result ApplyResult
	if err := ValidatePull(p); err != nil {
		return result, err
	}

	for _, rec := range p.Toggles {
		rec = rec.Clone()
		rec.Pinned = false

		applied := st.PutIf(rec, func(existing models.ToggleRecord, found bool) bool {
			if !found {
				return true
			}
			return !existing.Pinned && !rec.UpdatedAt.Before(existing.UpdatedAt)
		})
		if !applied {
			result.Skipped++
			slog.Debug("sync: skipped stale remote record", "key", rec.Key, "remote_updated_at", rec.UpdatedAt)
			continue
		}
		result.Applied = append(result.Applied, rec)

		if ov == nil {
			continue
		}
		if local, ok := ov.Get(rec.Key); ok && shadowed(local, rec, lastSyncAt) {
			result.Conflicts = append(result.Conflicts, ConflictRecord{
				Key:           rec.Key,
				Local:         local,
				Remote:        rec,
				OverwrittenAt: now.UTC(),
			})
		}
	}

	for _, ts := range p.Deleted {
		deletedAt := ts.DeletedAt
		removed := st.DeleteIf(ts.Key, func(existing models.ToggleRecord) bool {
			return !existing.Pinned && !deletedAt.Before(existing.UpdatedAt)
		})
		if removed {
			result.Deleted = append(result.Deleted, ts.Key)
		}
	}

	return result, nil
}

// shadowed reports whether a local override modified since the last sync
// now loses to remote at evaluation time.
func shadowed(local, remote models.ToggleRecord, lastSyncAt *time.Time) bool {
	if lastSyncAt == nil || local.Pinned {
		return false
	}
	if !local.UpdatedAt.After(*lastSyncAt) {
		return false
	}
	return local.Enabled != remote.Enabled || local.Variant != remote.Variant
}

// PendingOverrides returns pinned overrides changed at or after since.
// A nil since returns every pinned override.
func PendingOverrides(ov OverrideReader, since *time.Time) []models.ToggleRecord {
	if ov == nil {
		return nil
	}
	var out []models.ToggleRecord
	for _, rec := range ov.All() {
		if !rec.Pinned {
			continue
		}
		if since != nil && rec.UpdatedAt.Before(*since) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
