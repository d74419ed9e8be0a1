package serverdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/toggle/internal/models"
)

// ErrNotFound is returned when a toggle key does not exist.
var ErrNotFound = errors.New("toggle not found")

// PullResult is everything a device needs to catch up from a cursor.
type PullResult struct {
	Toggles []models.ToggleRecord
	Deleted []models.Tombstone
	Cursor  int64
}

// PutToggle upserts rec and returns the stored record. A zero UpdatedAt is
// stamped with the current time; CreatedAt is kept from an existing record.
// Any tombstone for the key is cleared.
func (db *ServerDB) PutToggle(rec models.ToggleRecord) (models.ToggleRecord, error) {
	rec = rec.Clone()
	rec.Key = strings.TrimSpace(rec.Key)
	rec.Pinned = false
	if rec.Scope == "" {
		rec.Scope = models.ScopeGlobal
	}
	if err := rec.Validate(); err != nil {
		return models.ToggleRecord{}, err
	}

	now := db.now().UTC()
	err := db.withTx(func(tx *sql.Tx) error {
		existing, err := getToggle(tx, rec.Key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
			if existing != nil && !existing.CreatedAt.IsZero() {
				rec.CreatedAt = existing.CreatedAt
			}
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = now
		}

		seq, err := appendChange(tx, rec.Key, "put", now)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal toggle: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO toggles (key, data, seq, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET data = excluded.data, seq = excluded.seq, updated_at = excluded.updated_at
		`, rec.Key, string(data), seq, rec.UpdatedAt); err != nil {
			return fmt.Errorf("upsert toggle: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM tombstones WHERE key = ?`, rec.Key); err != nil {
			return fmt.Errorf("clear tombstone: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.ToggleRecord{}, err
	}
	return rec, nil
}

// GetToggle returns the live toggle for key, or ErrNotFound.
func (db *ServerDB) GetToggle(key string) (models.ToggleRecord, error) {
	rec, err := getToggle(db.conn, key)
	if err != nil {
		return models.ToggleRecord{}, err
	}
	return *rec, nil
}

// DeleteToggle removes key and records a tombstone so devices drop it on
// their next pull. Returns ErrNotFound when the key is not live.
func (db *ServerDB) DeleteToggle(key string) (models.Tombstone, error) {
	now := db.now().UTC()
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM toggles WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("delete toggle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		seq, err := appendChange(tx, key, "delete", now)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO tombstones (key, deleted_at, seq) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET deleted_at = excluded.deleted_at, seq = excluded.seq
		`, key, now, seq); err != nil {
			return fmt.Errorf("insert tombstone: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Tombstone{}, err
	}
	return models.Tombstone{Key: key, DeletedAt: now}, nil
}

// ListToggles returns every live toggle ordered by key.
func (db *ServerDB) ListToggles() ([]models.ToggleRecord, error) {
	rows, err := db.conn.Query(`SELECT data FROM toggles ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list toggles: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Pull returns toggles and tombstones changed after since. since == 0 is a
// full pull: every live toggle and no tombstones. Cursor is the position to
// pass next time.
func (db *ServerDB) Pull(since int64) (*PullResult, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := &PullResult{Cursor: since}
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&out.Cursor); err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	if out.Cursor < since {
		out.Cursor = since
	}

	rows, err := tx.Query(`SELECT data FROM toggles WHERE seq > ? ORDER BY seq`, since)
	if err != nil {
		return nil, fmt.Errorf("pull toggles: %w", err)
	}
	out.Toggles, err = scanRecords(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if since > 0 {
		trows, err := tx.Query(`SELECT key, deleted_at FROM tombstones WHERE seq > ? ORDER BY seq`, since)
		if err != nil {
			return nil, fmt.Errorf("pull tombstones: %w", err)
		}
		defer trows.Close()
		for trows.Next() {
			var ts models.Tombstone
			if err := trows.Scan(&ts.Key, &ts.DeletedAt); err != nil {
				return nil, fmt.Errorf("scan tombstone: %w", err)
			}
			ts.DeletedAt = ts.DeletedAt.UTC()
			out.Deleted = append(out.Deleted, ts)
		}
		if err := trows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RecordOverrides stores the pinned overrides a device acknowledged and
// returns how many were accepted. Records that fail validation are skipped.
func (db *ServerDB) RecordOverrides(deviceID string, recs []models.ToggleRecord) (int, error) {
	now := db.now().UTC()
	accepted := 0
	err := db.withTx(func(tx *sql.Tx) error {
		for _, rec := range recs {
			if rec.Validate() != nil {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal override: %w", err)
			}
			if _, err := tx.Exec(`
				INSERT INTO device_overrides (device_id, key, data, received_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(device_id, key) DO UPDATE SET data = excluded.data, received_at = excluded.received_at
			`, deviceID, rec.Key, string(data), now); err != nil {
				return fmt.Errorf("upsert override: %w", err)
			}
			accepted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return accepted, nil
}

// ListOverrides returns the overrides last acknowledged by deviceID.
func (db *ServerDB) ListOverrides(deviceID string) ([]models.ToggleRecord, error) {
	rows, err := db.conn.Query(`SELECT data FROM device_overrides WHERE device_id = ? ORDER BY key`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Stats counts rows for the metrics endpoint.
type Stats struct {
	Toggles    int64 `json:"toggles"`
	Tombstones int64 `json:"tombstones"`
	Devices    int64 `json:"devices"`
	Cursor     int64 `json:"cursor"`
}

// Stats returns row counts and the latest cursor.
func (db *ServerDB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`SELECT
		(SELECT COUNT(*) FROM toggles),
		(SELECT COUNT(*) FROM tombstones),
		(SELECT COUNT(*) FROM sync_cursors),
		(SELECT COALESCE(MAX(seq), 0) FROM changes)`).Scan(&s.Toggles, &s.Tombstones, &s.Devices, &s.Cursor)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getToggle(q querier, key string) (*models.ToggleRecord, error) {
	var data string
	err := q.QueryRow(`SELECT data FROM toggles WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get toggle: %w", err)
	}
	var rec models.ToggleRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode toggle %s: %w", key, err)
	}
	return &rec, nil
}

func appendChange(tx *sql.Tx, key, kind string, at time.Time) (int64, error) {
	res, err := tx.Exec(`INSERT INTO changes (key, kind, at) VALUES (?, ?, ?)`, key, kind, at)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("change seq: %w", err)
	}
	return seq, nil
}

func scanRecords(rows *sql.Rows) ([]models.ToggleRecord, error) {
	var out []models.ToggleRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan toggle: %w", err)
		}
		var rec models.ToggleRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode toggle: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
