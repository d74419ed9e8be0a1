package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/marcus/toggle/internal/models"
)

var ref = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func captureOut(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Out
	Out = &buf
	t.Cleanup(func() { Out = prev })
	return &buf
}

func TestFormatTimeAgoFrom(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{59 * time.Minute, "59m ago"},
		{time.Hour, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{6 * 24 * time.Hour, "6d ago"},
		{8 * 24 * time.Hour, "2026-05-24"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgoFrom(ref.Add(-tc.ago), ref); got != tc.want {
			t.Errorf("FormatTimeAgoFrom(-%v) = %q, want %q", tc.ago, got, tc.want)
		}
	}
}

func TestFormatTimeUntil(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Minute, "now"},
		{0, "now"},
		{30 * time.Second, "in 30s"},
		{5 * time.Minute, "in 5m"},
		{3 * time.Hour, "in 3h"},
		{48 * time.Hour, "on 2026-06-03"},
	}
	for _, tc := range tests {
		if got := FormatTimeUntil(ref.Add(tc.in), ref); got != tc.want {
			t.Errorf("FormatTimeUntil(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatResult(t *testing.T) {
	got := FormatResult(models.EvaluationResult{
		Key: "checkout", Enabled: true, Variant: "B", Reason: models.ReasonEnabled,
	})
	for _, want := range []string{"checkout", "[on]", "variant=B", "(enabled)"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatResult = %q, missing %q", got, want)
		}
	}

	off := FormatResult(models.EvaluationResult{Key: "x", Reason: models.ReasonNotFound})
	if !strings.Contains(off, "[off]") || strings.Contains(off, "variant=") {
		t.Errorf("FormatResult(off) = %q", off)
	}
}

func TestFormatRecordShort(t *testing.T) {
	past := ref.Add(-time.Hour)
	future := ref.Add(2 * time.Hour)

	expired := FormatRecordShort(models.ToggleRecord{
		Key: "old", Enabled: true, Scope: models.ScopeGlobal, ExpiresAt: &past,
	}, ref)
	if !strings.Contains(expired, "[expired]") {
		t.Errorf("expired record = %q", expired)
	}

	pinned := FormatRecordShort(models.ToggleRecord{
		Key: "beta", Scope: models.ScopeUser, Pinned: true, ExperimentID: "e1", ExpiresAt: &future,
	}, ref)
	for _, want := range []string{"beta", "[off]", "user", "exp=e1", "expires in 2h", "[pinned]"} {
		if !strings.Contains(pinned, want) {
			t.Errorf("FormatRecordShort = %q, missing %q", pinned, want)
		}
	}
}

func TestFormatRecordLongListsMetadataSorted(t *testing.T) {
	got := FormatRecordLong(models.ToggleRecord{
		Key: "k", Scope: models.ScopeGlobal, UpdatedAt: ref.Add(-5 * time.Minute),
		Metadata: map[string]string{"variants": "A,B", "category": "marketing"},
	}, ref)
	if !strings.Contains(got, "updated 5m ago") {
		t.Errorf("missing updated line: %q", got)
	}
	ci, vi := strings.Index(got, "category"), strings.Index(got, "variants")
	if ci < 0 || vi < 0 || ci > vi {
		t.Errorf("metadata not sorted: %q", got)
	}
}

func TestFormatSyncState(t *testing.T) {
	last := ref.Add(-2 * time.Minute)
	next := ref.Add(30 * time.Second)
	got := FormatSyncState(models.SyncState{
		Phase:               models.PhaseBackoff,
		Online:              true,
		LastSyncAt:          &last,
		NextAttemptAt:       &next,
		ConsecutiveFailures: 3,
		LastError:           "pull: HTTP 503",
		Cursor:              "42",
	}, ref)
	for _, want := range []string{"[backoff]", "online", "2m ago", "in 30s", "Failures: 3", "HTTP 503", "Cursor: 42"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatSyncState missing %q:\n%s", want, got)
		}
	}

	idle := FormatSyncState(models.SyncState{Phase: models.PhaseIdle}, ref)
	if !strings.Contains(idle, "offline") || !strings.Contains(idle, "never") || strings.Contains(idle, "Failures") {
		t.Errorf("idle state:\n%s", idle)
	}
}

func TestJSONErrorIsValidJSON(t *testing.T) {
	buf := captureOut(t)
	JSONErrorWithDetails(ErrCodeNotFound, `toggle "x" not found`, map[string]any{"key": "x"})

	var got struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if got.Error.Code != ErrCodeNotFound || got.Error.Details["key"] != "x" {
		t.Fatalf("got %+v", got)
	}
}

func TestBulletListAndIndent(t *testing.T) {
	if got := BulletList([]string{"a", "b"}, 2); got[0] != "  - a" || got[1] != "  - b" {
		t.Errorf("BulletList = %q", got)
	}
	if got := IndentLines([]string{"x"}, 4); got[0] != "    x" {
		t.Errorf("IndentLines = %q", got)
	}
	if got := SectionHeader("overrides"); got != "\nOVERRIDES:\n" {
		t.Errorf("SectionHeader = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer line", 6, "a lon…"},
		{"anything", 0, "anything"},
	}
	for _, tc := range tests {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	t.Setenv("COLUMNS", "")
	// go test's stdout is not a tty
	if IsTerminal() {
		t.Skip("stdout is a terminal")
	}
	if got := TerminalWidth(100); got != 100 {
		t.Errorf("TerminalWidth(100) = %d", got)
	}
	t.Setenv("COLUMNS", "132")
	if got := TerminalWidth(100); got != 132 {
		t.Errorf("TerminalWidth with COLUMNS = %d", got)
	}
}
