// Package persist provides durable backends for toggle snapshots: a JSON file,
// SQLite, LevelDB and an in-memory implementation for tests.
//
// Every backend exposes LoadAll/SaveAll over a whole namespace. Encryption at
// rest is the responsibility of whatever sits underneath the backend.
package persist

import (
	"encoding/json"
	"log/slog"

	"github.com/marcus/toggle/internal/models"
)

const snapshotVersion = 1

// decodeRecord parses and validates one stored record.
func decodeRecord(raw []byte) (models.ToggleRecord, error) {
	var rec models.ToggleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, &models.ConfigurationError{Reason: err.Error()}
	}
	if rec.Scope == "" {
		rec.Scope = models.ScopeGlobal
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

// decodeRecords skips malformed records instead of failing the whole load.
func decodeRecords(backend string, raws [][]byte) []models.ToggleRecord {
	out := make([]models.ToggleRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := decodeRecord(raw)
		if err != nil {
			slog.Warn("persist: skipping malformed record", "backend", backend, "index", i, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}
