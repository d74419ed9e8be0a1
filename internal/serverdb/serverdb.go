// Package serverdb is the reference remote's toggle database: live toggles,
// tombstones, a change log that backs pull cursors, and the pinned overrides
// devices acknowledge.
package serverdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// pragmas applied to every connection. WAL is skipped for in-memory databases.
var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// ServerDB is the toggle table set behind the reference remote.
type ServerDB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens the database at dbPath, creating it and its directory when
// missing, and brings the schema up to ServerSchemaVersion.
func Open(dbPath string) (*ServerDB, error) {
	memory := dbPath == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; the change log sequence must not interleave. For
	// :memory: this also keeps every query on the same database.
	conn.SetMaxOpenConns(1)

	db := &ServerDB{conn: conn, path: dbPath, now: time.Now}
	if err := db.init(!memory); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *ServerDB) init(wal bool) error {
	if wal {
		if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.conn.Exec(serverSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping checks the database connection is alive.
func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the database connection.
func (db *ServerDB) Close() error {
	if db.path != MemoryPath {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return db.conn.Close()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (db *ServerDB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunMigrations applies migrations newer than the stored schema version and
// returns how many ran. A fresh database is stamped current without running
// any, since serverSchema already has every table.
func (db *ServerDB) RunMigrations() (int, error) {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	current := db.getSchemaVersion()
	if current == 0 {
		return 0, db.setSchemaVersion(ServerSchemaVersion)
	}

	ran := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.conn.Exec(m.SQL); err != nil {
			return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := db.setSchemaVersion(m.Version); err != nil {
			return ran, fmt.Errorf("set version %d: %w", m.Version, err)
		}
		ran++
	}
	return ran, nil
}

func (db *ServerDB) getSchemaVersion() int {
	var raw string
	if err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&raw); err != nil {
		return 0
	}
	v, _ := strconv.Atoi(raw)
	return v
}

func (db *ServerDB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version))
	return err
}
