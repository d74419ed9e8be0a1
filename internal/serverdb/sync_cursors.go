package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncCursor tracks a device's last pull position.
type SyncCursor struct {
	DeviceID   string     `json:"device_id"`
	Cursor     int64      `json:"cursor"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// UpsertSyncCursor records that deviceID pulled up to cursor.
func (db *ServerDB) UpsertSyncCursor(deviceID string, cursor int64) error {
	now := db.now().UTC()
	_, err := db.conn.Exec(`
		INSERT INTO sync_cursors (device_id, cursor, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id)
		DO UPDATE SET cursor = excluded.cursor, last_sync_at = excluded.last_sync_at
	`, deviceID, cursor, now)
	if err != nil {
		return fmt.Errorf("upsert sync cursor: %w", err)
	}
	return nil
}

// GetSyncCursor returns the sync cursor for a device, or nil if not found.
func (db *ServerDB) GetSyncCursor(deviceID string) (*SyncCursor, error) {
	c := &SyncCursor{}
	var last sql.NullTime
	err := db.conn.QueryRow(
		`SELECT device_id, cursor, last_sync_at FROM sync_cursors WHERE device_id = ?`,
		deviceID,
	).Scan(&c.DeviceID, &c.Cursor, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	if last.Valid {
		t := last.Time
		c.LastSyncAt = &t
	}
	return c, nil
}
