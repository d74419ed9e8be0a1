package toggle

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/toggle/internal/api"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/serverdb"
	"github.com/marcus/toggle/internal/syncclient"
)

// Engine against the reference remote over real HTTP.
func TestEngineAgainstReferenceRemote(t *testing.T) {
	db, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	srv, err := api.NewServer(api.Config{
		Token: "tok", RateLimitPull: 1000, RateLimitPush: 1000, RateLimitAdmin: 1000,
	}, db)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	admin := syncclient.New(ts.URL, syncclient.StaticToken("tok"), "")
	ctx := t.Context()
	for _, rec := range []models.ToggleRecord{
		{Key: "notif", Enabled: true, Scope: models.ScopeGlobal},
		{Key: "beta", Enabled: true, Scope: models.ScopeUser},
		{Key: "checkout", Enabled: true, Scope: models.ScopeGlobal, ExperimentID: "exp1",
			Metadata: map[string]string{"variants": "A,B"}},
	} {
		if _, err := admin.PutToggle(ctx, rec); err != nil {
			t.Fatalf("seed %s: %v", rec.Key, err)
		}
	}

	e := newEngine(t, Options{
		RemoteURL: ts.URL,
		Token:     syncclient.StaticToken("tok"),
		DeviceID:  "dev-e2e",
		Sync:      SyncConfig{RequestTimeout: 5 * time.Second},
	})
	e.SetOnlineStatus(true)
	res, err := e.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync: %v", err)
	}
	if len(res.Applied) != 3 {
		t.Fatalf("applied %d records, want 3", len(res.Applied))
	}

	if !e.IsEnabled("notif", Context{}) {
		t.Error("notif should be on")
	}
	if e.IsEnabled("beta", Context{}) || !e.IsEnabled("beta", Context{UserID: "u1"}) {
		t.Error("beta should follow user scope")
	}
	if v := e.Evaluate("checkout", Context{UserID: "u42"}).Variant; v != "A" && v != "B" {
		t.Errorf("checkout variant = %q", v)
	}

	// remote delete propagates as a tombstone on the next incremental pull
	if err := admin.DeleteToggle(ctx, "notif"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetLocalOverride("beta", false); err != nil {
		t.Fatal(err)
	}
	res, err = e.ForceSync(ctx)
	if err != nil {
		t.Fatalf("second ForceSync: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != "notif" {
		t.Fatalf("deleted = %v", res.Deleted)
	}
	if res.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", res.Accepted)
	}
	if e.IsEnabled("notif", Context{}) {
		t.Error("deleted toggle still on")
	}

	acked, err := db.ListOverrides("dev-e2e")
	if err != nil || len(acked) != 1 || acked[0].Key != "beta" || acked[0].Enabled {
		t.Fatalf("server overrides = %+v, %v", acked, err)
	}
	if st := e.SyncState(); st.Cursor == "" || st.LastSyncAt == nil || st.ConsecutiveFailures != 0 {
		t.Fatalf("sync state = %+v", st)
	}
}
