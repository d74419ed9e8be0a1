package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/toggle/internal/api"
	"github.com/marcus/toggle/internal/bucket"
	"github.com/marcus/toggle/internal/config"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/output"
	"github.com/marcus/toggle/internal/serverdb"
	"github.com/marcus/toggle/pkg/toggle"
)

// resetFlags restores every flag to its default so package-level commands
// can be executed repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes args and returns stdout and the exit code.
func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	t.Cleanup(func() { output.Out = os.Stdout })
	return stdout.String(), code
}

// writeConfig saves a config using file storage in a temp dir.
func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	c := config.Default()
	c.Storage.Backend = "file"
	c.Storage.Path = filepath.Join(dir, "data")
	c.Remote.DeviceID = "dev-cli"
	c.Log.Level = "error"
	if mutate != nil {
		mutate(c)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := config.Save(path, c); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return path
}

func decode(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
}

type jsonError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// startRemote runs the reference remote without auth and seeds recs.
func startRemote(t *testing.T, recs ...models.ToggleRecord) (string, *serverdb.ServerDB) {
	t.Helper()
	db, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	for _, rec := range recs {
		if _, err := db.PutToggle(rec); err != nil {
			t.Fatalf("seed %s: %v", rec.Key, err)
		}
	}
	srv, err := api.NewServer(api.Config{RateLimitPull: 1000, RateLimitPush: 1000, RateLimitAdmin: 1000}, db)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return ts.URL, db
}

func TestEvalUnknownKeyIsOff(t *testing.T) {
	path := writeConfig(t, nil)
	out, code := runCLI(t, "--config", path, "--json", "eval", "nope")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	var results []toggle.Result
	decode(t, out, &results)
	if len(results) != 1 || results[0].Enabled || results[0].Reason != models.ReasonNotFound {
		t.Fatalf("results = %+v", results)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	path := writeConfig(t, nil)

	if out, code := runCLI(t, "--config", path, "override", "set", "beta", "on"); code != 0 || !strings.Contains(out, "beta") {
		t.Fatalf("override set: exit %d: %s", code, out)
	}

	// a fresh engine reads the override back from disk
	out, code := runCLI(t, "--config", path, "--json", "list", "--overrides")
	if code != 0 {
		t.Fatalf("list: exit %d", code)
	}
	var listed struct {
		Overrides []models.ToggleRecord `json:"overrides"`
	}
	decode(t, out, &listed)
	if len(listed.Overrides) != 1 || listed.Overrides[0].Key != "beta" || !listed.Overrides[0].Pinned {
		t.Fatalf("overrides = %+v", listed.Overrides)
	}

	out, _ = runCLI(t, "--config", path, "--json", "eval", "beta")
	var results []toggle.Result
	decode(t, out, &results)
	if !results[0].Enabled || results[0].Reason != models.ReasonOverride {
		t.Fatalf("eval beta = %+v", results[0])
	}

	if _, code := runCLI(t, "--config", path, "override", "clear", "beta"); code != 0 {
		t.Fatalf("clear: exit %d", code)
	}
	out, code = runCLI(t, "--config", path, "--json", "override", "clear", "beta")
	if code != 1 {
		t.Fatalf("second clear: exit %d, want 1", code)
	}
	// the cleared/missing summary precedes the error object
	idx := strings.LastIndex(out, "{\n  \"error\"")
	if idx < 0 {
		t.Fatalf("no JSON error in %q", out)
	}
	var je jsonError
	decode(t, out[idx:], &je)
	if je.Error.Code != output.ErrCodeNotFound {
		t.Fatalf("error code = %q", je.Error.Code)
	}
}

func TestOverrideSetRejectsBadValue(t *testing.T) {
	path := writeConfig(t, nil)
	out, code := runCLI(t, "--config", path, "override", "set", "beta", "maybe")
	if code != 1 || !strings.Contains(out, "invalid value") {
		t.Fatalf("exit %d: %s", code, out)
	}
}

func TestSyncWithoutRemoteIsConfigError(t *testing.T) {
	path := writeConfig(t, nil)
	out, code := runCLI(t, "--config", path, "--json", "sync")
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	var je jsonError
	decode(t, out, &je)
	if je.Error.Code != output.ErrCodeConfig {
		t.Fatalf("error = %+v", je.Error)
	}
}

func TestSyncPullsAndPushes(t *testing.T) {
	url, db := startRemote(t,
		models.ToggleRecord{Key: "notif", Enabled: true, Scope: models.ScopeGlobal},
		models.ToggleRecord{Key: "beta", Enabled: true, Scope: models.ScopeUser},
	)
	path := writeConfig(t, func(c *config.Config) { c.Remote.URL = url })

	if _, code := runCLI(t, "--config", path, "override", "set", "beta", "off"); code != 0 {
		t.Fatal("override set failed")
	}

	out, code := runCLI(t, "--config", path, "--json", "sync")
	if code != 0 {
		t.Fatalf("sync: exit %d: %s", code, out)
	}
	var summary syncSummary
	decode(t, out, &summary)
	if len(summary.Applied) != 2 || summary.Pushed != 1 || summary.Accepted != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	got, err := db.ListOverrides("dev-cli")
	if err != nil || len(got) != 1 || got[0].Key != "beta" || got[0].Enabled {
		t.Fatalf("remote overrides = %+v, %v", got, err)
	}

	// pulled values persist for later commands; the pinned override still wins
	out, _ = runCLI(t, "--config", path, "--json", "eval", "notif", "beta", "--user", "u1")
	var results []toggle.Result
	decode(t, out, &results)
	if !results[0].Enabled {
		t.Errorf("notif = %+v", results[0])
	}
	if results[1].Enabled || results[1].Reason != models.ReasonOverride {
		t.Errorf("beta = %+v", results[1])
	}
}

func TestSyncUnreachableRemote(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()
	path := writeConfig(t, func(c *config.Config) { c.Remote.URL = url })

	out, code := runCLI(t, "--config", path, "--json", "sync")
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	var je jsonError
	decode(t, out, &je)
	if je.Error.Code != output.ErrCodeSyncFailed {
		t.Fatalf("error = %+v", je.Error)
	}
}

func TestQuietHours(t *testing.T) {
	url, _ := startRemote(t, models.ToggleRecord{
		Key: "notif", Enabled: true, Scope: models.ScopeGlobal,
		Metadata: map[string]string{
			"quietStartSeconds": "79200", // 22:00
			"quietEndSeconds":   "25200", // 07:00
			"timezone":          "UTC",
			"categories":        "marketing,alerts",
		},
	})
	path := writeConfig(t, func(c *config.Config) { c.Remote.URL = url })
	if _, code := runCLI(t, "--config", path, "sync"); code != 0 {
		t.Fatal("sync failed")
	}

	tests := []struct {
		at       string
		category string
		quiet    bool
		deliver  bool
	}{
		{"2026-06-01T23:30:00Z", "alerts", true, false},
		{"2026-06-01T12:00:00Z", "alerts", false, true},
		{"2026-06-01T12:00:00Z", "billing", false, false},
		{"2026-06-01T07:00:00Z", "marketing", false, true},
	}
	for _, tt := range tests {
		out, code := runCLI(t, "--config", path, "--json", "quiet", "notif", "--at", tt.at, "--category", tt.category)
		if code != 0 {
			t.Fatalf("%s: exit %d: %s", tt.at, code, out)
		}
		var got struct {
			Quiet   bool `json:"quiet"`
			Deliver bool `json:"deliver"`
			Start   int  `json:"quiet_start_seconds"`
		}
		decode(t, out, &got)
		if got.Quiet != tt.quiet || got.Deliver != tt.deliver || got.Start != 79200 {
			t.Errorf("%s %q: got %+v", tt.at, tt.category, got)
		}
	}

	if _, code := runCLI(t, "--config", path, "quiet", "missing"); code != 1 {
		t.Errorf("unknown key should fail, got exit %d", code)
	}
}

func TestBucketExperiment(t *testing.T) {
	path := writeConfig(t, nil)
	out, code := runCLI(t, "--config", path, "--json", "bucket", "--experiment", "exp1", "--variants", "A,B", "u1", "u2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	var got struct {
		Assignments []assignment `json:"assignments"`
	}
	decode(t, out, &got)
	if len(got.Assignments) != 2 {
		t.Fatalf("assignments = %+v", got.Assignments)
	}
	for _, a := range got.Assignments {
		want := bucket.Variant("exp1", a.Identity, []string{"A", "B"})
		if !a.Enrolled || a.Variant != want {
			t.Errorf("%s: got %+v, want variant %s", a.Identity, a, want)
		}
		if a.Hash != fmt.Sprintf("%016x", bucket.Hash("exp1", a.Identity)) {
			t.Errorf("%s: hash %s", a.Identity, a.Hash)
		}
	}

	// no identities: derived from --user
	out, _ = runCLI(t, "--config", path, "--json", "bucket", "--experiment", "exp1", "--rate", "0", "--user", "u9")
	decode(t, out, &got)
	if len(got.Assignments) != 1 || got.Assignments[0].Identity != "u9" || got.Assignments[0].Enrolled {
		t.Fatalf("rate 0 = %+v", got.Assignments)
	}
}

func TestBucketFlagValidation(t *testing.T) {
	path := writeConfig(t, nil)
	tests := [][]string{
		{"bucket", "u1"},
		{"bucket", "--key", "k", "--experiment", "e", "u1"},
		{"bucket", "--experiment", "e", "--rate", "1.5", "u1"},
		{"bucket", "--key", "absent", "u1"},
	}
	for _, args := range tests {
		if _, code := runCLI(t, append([]string{"--config", path}, args...)...); code != 1 {
			t.Errorf("%v: exit %d, want 1", args, code)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	out, code := runCLI(t, "--config", path, "--json", "config", "init",
		"--remote-url", "https://toggles.example.com", "--token", "s3cret", "--backend", "sqlite", "--user", "u42")
	if code != 0 {
		t.Fatalf("init: exit %d: %s", code, out)
	}
	var initOut struct {
		DeviceID string `json:"device_id"`
	}
	decode(t, out, &initOut)
	if initOut.DeviceID == "" {
		t.Fatal("init should assign a device id")
	}

	saved, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Remote.Token != "s3cret" || saved.Storage.Backend != "sqlite" || saved.Context.UserID != "u42" {
		t.Fatalf("saved = %+v", saved)
	}

	// re-running init keeps the device id
	runCLI(t, "--config", path, "config", "init")
	again, _ := config.Load(path)
	if again.Remote.DeviceID != initOut.DeviceID {
		t.Fatalf("device id changed: %s -> %s", initOut.DeviceID, again.Remote.DeviceID)
	}

	out, code = runCLI(t, "--config", path, "config", "show")
	if code != 0 {
		t.Fatalf("show: exit %d", code)
	}
	if strings.Contains(out, "s3cret") || !strings.Contains(out, redacted) {
		t.Fatalf("token not redacted:\n%s", out)
	}
	if !strings.Contains(out, "https://toggles.example.com") {
		t.Fatalf("show missing url:\n%s", out)
	}
}

func TestConfigInitRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, code := runCLI(t, "--config", path, "config", "init", "--backend", "redis"); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("config written despite validation error: %v", err)
	}
}

func TestVersionIgnoresBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("") })

	out, code := runCLI(t, "--config", path, "version")
	if code != 0 || !strings.Contains(out, "toggle version 1.2.3") {
		t.Fatalf("exit %d: %q", code, out)
	}
	if _, code := runCLI(t, "--config", path, "list"); code != 1 {
		t.Fatalf("list with broken config: exit %d, want 1", code)
	}
}

func TestStatus(t *testing.T) {
	url, _ := startRemote(t)
	path := writeConfig(t, func(c *config.Config) { c.Remote.URL = url })
	runCLI(t, "--config", path, "override", "set", "beta", "on")

	out, code := runCLI(t, "--config", path, "--json", "status", "--ping")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	var got struct {
		Remote    string        `json:"remote"`
		Reachable bool          `json:"reachable"`
		Status    toggle.Status `json:"status"`
	}
	decode(t, out, &got)
	if got.Remote != url || !got.Reachable || got.Status.Overrides != 1 {
		t.Fatalf("status = %+v", got)
	}

	out, _ = runCLI(t, "--config", path, "status")
	for _, want := range []string{"Remote: " + url, "Remote reachable", "Overrides: 1", "[idle]"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestParseOnOff(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"ON", true, false},
		{"true", true, false},
		{"1", true, false},
		{"off", false, false},
		{"disable", false, false},
		{" no ", false, false},
		{"maybe", false, true},
		{"", false, true},
	}
	for _, tt := range tests {
		got, err := parseOnOff(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseOnOff(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("toggle %q: %w", "x", errNotFound), output.ErrCodeNotFound},
		{fmt.Errorf("sync: %w", toggle.ErrOffline), output.ErrCodeOffline},
		{&models.ConfigurationError{Reason: "bad"}, output.ErrCodeConfig},
		{fmt.Errorf("sync: %w", &models.NetworkError{Op: "GET /toggles", Err: errors.New("refused")}), output.ErrCodeSyncFailed},
		{fmt.Errorf("%w: disk full", toggle.ErrStorage), output.ErrCodeStorage},
		{errors.New("whatever"), output.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestEvalKeysFromStdinAndFile(t *testing.T) {
	path := writeConfig(t, nil)
	keyFile := filepath.Join(t.TempDir(), "keys.txt")
	if err := os.WriteFile(keyFile, []byte("# rollout\nc\n"), 0600); err != nil {
		t.Fatal(err)
	}
	rootCmd.SetIn(strings.NewReader("a\nb\n"))
	t.Cleanup(func() { rootCmd.SetIn(nil) })

	out, code := runCLI(t, "--config", path, "--json", "eval", "-", "@"+keyFile)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	var results []toggle.Result
	decode(t, out, &results)
	var keys []string
	for _, r := range results {
		keys = append(keys, r.Key)
	}
	if strings.Join(keys, ",") != "a,b,c" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestOverrideUntil(t *testing.T) {
	path := writeConfig(t, nil)
	out, code := runCLI(t, "--config", path, "--json", "override", "set", "beta", "off", "--until", "+2h")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, out)
	}
	var rec models.ToggleRecord
	decode(t, out, &rec)
	if rec.ExpiresAt == nil || !rec.Pinned || rec.Enabled {
		t.Fatalf("rec = %+v", rec)
	}

	for _, bad := range []string{"someday", "today"} {
		out, code := runCLI(t, "--config", path, "override", "set", "beta", "on", "--until", bad)
		if code != 1 {
			t.Errorf("--until %s: exit %d: %s", bad, code, out)
		}
	}
}

func TestUnknownFlagSuggestion(t *testing.T) {
	path := writeConfig(t, nil)
	tests := []struct {
		flag string
		want string
	}{
		{"--usr", "did you mean --user"},
		{"--user-id", "try --user"},
		{"--ttl", "try --until"},
	}
	for _, tt := range tests {
		args := []string{"--config", path, "eval", "x", tt.flag, "v"}
		if tt.flag == "--ttl" {
			args = []string{"--config", path, "override", "set", "x", "on", tt.flag, "1h"}
		}
		out, code := runCLI(t, args...)
		if code != 1 || !strings.Contains(out, tt.want) {
			t.Errorf("%s: exit %d, output %q, want %q", tt.flag, code, out, tt.want)
		}
	}
}

func TestUnopenableStorage(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, func(c *config.Config) {
		c.Storage.Backend = "sqlite"
		c.Storage.Path = filepath.Join(blocker, "data")
	})

	out, code := runCLI(t, "--config", path, "--json", "eval", "beta")
	if code != 1 {
		t.Fatalf("exit %d, want 1: %s", code, out)
	}
	var je jsonError
	decode(t, out, &je)
	if je.Error.Code != output.ErrCodeStorage {
		t.Fatalf("code = %q, want %q", je.Error.Code, output.ErrCodeStorage)
	}
}
