package serverdb

// ServerSchemaVersion is the current server database schema version
const ServerSchemaVersion = 2

const serverSchema = `
-- Change log; seq is the pull cursor
CREATE TABLE IF NOT EXISTS changes (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('put', 'delete')),
    at DATETIME NOT NULL
);

-- Live toggles
CREATE TABLE IF NOT EXISTS toggles (
    key TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    seq INTEGER NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_toggles_seq ON toggles(seq);

-- Deleted toggles, kept so incremental pulls can propagate deletes
CREATE TABLE IF NOT EXISTS tombstones (
    key TEXT PRIMARY KEY,
    deleted_at DATETIME NOT NULL,
    seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tombstones_seq ON tombstones(seq);

-- Pinned overrides acknowledged from devices
CREATE TABLE IF NOT EXISTS device_overrides (
    device_id TEXT NOT NULL,
    key TEXT NOT NULL,
    data TEXT NOT NULL,
    received_at DATETIME NOT NULL,
    PRIMARY KEY (device_id, key)
);

-- Sync cursors table
CREATE TABLE IF NOT EXISTS sync_cursors (
    device_id TEXT PRIMARY KEY,
    cursor BIGINT NOT NULL DEFAULT 0,
    last_sync_at DATETIME
);
`

// Migration defines a schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all server schema migrations
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Track device sync cursors",
		SQL: `CREATE TABLE IF NOT EXISTS sync_cursors (
    device_id TEXT PRIMARY KEY,
    cursor BIGINT NOT NULL DEFAULT 0,
    last_sync_at DATETIME
);`,
	},
}
