package serverdb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/toggle/internal/models"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSetsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if v := db.getSchemaVersion(); v != ServerSchemaVersion {
		t.Errorf("schema version = %d, want %d", v, ServerSchemaVersion)
	}
	db.Close()

	// reopening runs nothing
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if n, err := db.RunMigrations(); err != nil || n != 0 {
		t.Fatalf("RunMigrations = %d, %v", n, err)
	}
}

func TestMigrateFromV1(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.conn.Exec(`DROP TABLE sync_cursors`); err != nil {
		t.Fatal(err)
	}
	if err := db.setSchemaVersion(1); err != nil {
		t.Fatal(err)
	}
	n, err := db.RunMigrations()
	if err != nil || n != 1 {
		t.Fatalf("RunMigrations = %d, %v", n, err)
	}
	if err := db.UpsertSyncCursor("dev", 1); err != nil {
		t.Fatalf("sync_cursors missing after migration: %v", err)
	}
}

func TestPutAndGetToggle(t *testing.T) {
	db := newTestDB(t)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed }

	rec, err := db.PutToggle(models.ToggleRecord{Key: " notif ", Enabled: true, Pinned: true})
	if err != nil {
		t.Fatalf("PutToggle: %v", err)
	}
	if rec.Key != "notif" || rec.Scope != models.ScopeGlobal || rec.Pinned {
		t.Errorf("stored = %+v", rec)
	}
	if !rec.UpdatedAt.Equal(fixed) || !rec.CreatedAt.Equal(fixed) {
		t.Errorf("timestamps = %v / %v", rec.CreatedAt, rec.UpdatedAt)
	}

	db.now = func() time.Time { return fixed.Add(time.Hour) }
	again, err := db.PutToggle(models.ToggleRecord{Key: "notif", Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if !again.CreatedAt.Equal(fixed) || !again.UpdatedAt.Equal(fixed.Add(time.Hour)) {
		t.Errorf("update timestamps = %v / %v", again.CreatedAt, again.UpdatedAt)
	}

	got, err := db.GetToggle("notif")
	if err != nil || got.Enabled {
		t.Fatalf("GetToggle = %+v, %v", got, err)
	}
	if _, err := db.GetToggle("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutToggleRejectsInvalid(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.PutToggle(models.ToggleRecord{Key: ""}); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := db.PutToggle(models.ToggleRecord{Key: "x", Scope: "planet"}); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestPullCursor(t *testing.T) {
	db := newTestDB(t)
	for _, key := range []string{"a", "b", "c"} {
		if _, err := db.PutToggle(models.ToggleRecord{Key: key, Enabled: true}); err != nil {
			t.Fatal(err)
		}
	}

	full, err := db.Pull(0)
	if err != nil {
		t.Fatalf("Pull(0): %v", err)
	}
	if len(full.Toggles) != 3 || full.Cursor != 3 {
		t.Fatalf("full pull = %d toggles, cursor %d", len(full.Toggles), full.Cursor)
	}

	if _, err := db.PutToggle(models.ToggleRecord{Key: "b", Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.DeleteToggle("c"); err != nil {
		t.Fatal(err)
	}

	inc, err := db.Pull(full.Cursor)
	if err != nil {
		t.Fatalf("Pull(%d): %v", full.Cursor, err)
	}
	if len(inc.Toggles) != 1 || inc.Toggles[0].Key != "b" {
		t.Errorf("incremental toggles = %+v", inc.Toggles)
	}
	if len(inc.Deleted) != 1 || inc.Deleted[0].Key != "c" {
		t.Errorf("incremental tombstones = %+v", inc.Deleted)
	}
	if inc.Cursor != 5 {
		t.Errorf("cursor = %d, want 5", inc.Cursor)
	}

	empty, err := db.Pull(inc.Cursor)
	if err != nil || len(empty.Toggles) != 0 || len(empty.Deleted) != 0 || empty.Cursor != inc.Cursor {
		t.Fatalf("caught-up pull = %+v, %v", empty, err)
	}

	// a full pull never carries tombstones
	again, _ := db.Pull(0)
	if len(again.Deleted) != 0 || len(again.Toggles) != 2 {
		t.Fatalf("full pull after delete = %+v", again)
	}
}

func TestDeleteThenRecreate(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.DeleteToggle("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	db.PutToggle(models.ToggleRecord{Key: "x", Enabled: true})
	db.DeleteToggle("x")
	db.PutToggle(models.ToggleRecord{Key: "x", Enabled: true})

	st, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Toggles != 1 || st.Tombstones != 0 {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestRecordOverrides(t *testing.T) {
	db := newTestDB(t)
	n, err := db.RecordOverrides("dev-1", []models.ToggleRecord{
		{Key: "beta", Enabled: true, Scope: models.ScopeUser, Pinned: true},
		{Key: "", Enabled: true},
	})
	if err != nil || n != 1 {
		t.Fatalf("RecordOverrides = %d, %v", n, err)
	}
	n, err = db.RecordOverrides("dev-1", []models.ToggleRecord{
		{Key: "beta", Enabled: false, Scope: models.ScopeUser, Pinned: true},
	})
	if err != nil || n != 1 {
		t.Fatalf("second RecordOverrides = %d, %v", n, err)
	}

	got, err := db.ListOverrides("dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Enabled {
		t.Fatalf("overrides = %+v", got)
	}
	if other, _ := db.ListOverrides("dev-2"); len(other) != 0 {
		t.Fatalf("dev-2 overrides = %+v", other)
	}
}

func TestSyncCursor(t *testing.T) {
	db := newTestDB(t)
	if c, err := db.GetSyncCursor("dev"); err != nil || c != nil {
		t.Fatalf("GetSyncCursor = %+v, %v", c, err)
	}
	if err := db.UpsertSyncCursor("dev", 4); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertSyncCursor("dev", 9); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetSyncCursor("dev")
	if err != nil || c == nil || c.Cursor != 9 || c.LastSyncAt == nil {
		t.Fatalf("GetSyncCursor = %+v, %v", c, err)
	}
}
