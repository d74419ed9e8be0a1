package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/toggle/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS toggles (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    data       TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_toggles_updated ON toggles(namespace, updated_at);
`

// SQLite stores namespaces as rows in a single toggles table.
type SQLite struct {
	conn      *sql.DB
	namespace string
	owned     bool
}

// OpenSQLiteDB opens (or creates) a database file with WAL enabled and the schema applied.
func OpenSQLiteDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads while the flusher writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	if err := InitSQLiteSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// InitSQLiteSchema creates the toggles table if it does not exist.
func InitSQLiteSchema(conn *sql.DB) error {
	if _, err := conn.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// OpenSQLite opens path and returns a backend for namespace that owns the connection.
func OpenSQLite(path, namespace string) (*SQLite, error) {
	conn, err := OpenSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{conn: conn, namespace: namespace, owned: true}, nil
}

// NewSQLite wraps an existing connection. The caller keeps ownership of conn.
func NewSQLite(conn *sql.DB, namespace string) *SQLite {
	return &SQLite{conn: conn, namespace: namespace}
}

// LoadAll returns every record in the namespace.
func (s *SQLite) LoadAll(ctx context.Context) ([]models.ToggleRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT data FROM toggles WHERE namespace = ? ORDER BY key`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("query toggles: %w", err)
	}
	defer rows.Close()

	var raws [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan toggle: %w", err)
		}
		raws = append(raws, []byte(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return decodeRecords("sqlite", raws), nil
}

// SaveAll replaces the namespace contents in one transaction.
func (s *SQLite) SaveAll(ctx context.Context, records []models.ToggleRecord) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM toggles WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("clear namespace: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO toggles (namespace, key, data, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, s.namespace, rec.Key, string(data), rec.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the connection when this backend opened it.
func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Close()
}
