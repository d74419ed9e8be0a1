// Package output provides styled terminal output helpers (success, error,
// warning, toggle and sync formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/toggle/internal/models"
)

// Out is where the print helpers write. Tests swap it for a buffer.
var Out io.Writer = os.Stdout

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pinnedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	phaseStyles  = map[models.SyncPhase]lipgloss.Style{
		models.PhaseIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.PhaseSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.PhaseBackoff: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Fprintln(Out, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Fprintln(Out, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Fprintln(Out, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Fprintf(Out, format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(Out, string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeConfig       = "config_error"
	ErrCodeStorage      = "storage_error"
	ErrCodeSyncFailed   = "sync_failed"
	ErrCodeOffline      = "offline"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]any) {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
	fmt.Fprintln(Out, string(data))
}

// FormatEnabled renders a boolean toggle state as a colored badge.
func FormatEnabled(on bool) string {
	if on {
		return successStyle.Render("[on]")
	}
	return errorStyle.Render("[off]")
}

// FormatResult formats an evaluation on one line:
// "checkout  [on]  variant=B  (enabled)"
func FormatResult(res models.EvaluationResult) string {
	parts := []string{titleStyle.Render(res.Key), FormatEnabled(res.Enabled)}
	if res.Variant != "" {
		parts = append(parts, "variant="+res.Variant)
	}
	parts = append(parts, subtleStyle.Render("("+string(res.Reason)+")"))
	return strings.Join(parts, "  ")
}

// FormatRecordShort formats a stored record in short format
func FormatRecordShort(rec models.ToggleRecord, now time.Time) string {
	var parts []string
	parts = append(parts, titleStyle.Render(rec.Key))
	parts = append(parts, FormatEnabled(rec.Enabled))
	parts = append(parts, subtleStyle.Render(string(rec.Scope)))

	if rec.ExperimentID != "" {
		parts = append(parts, "exp="+rec.ExperimentID)
	}
	if rec.Variant != "" {
		parts = append(parts, "variant="+rec.Variant)
	}
	if rec.ExpiresAt != nil {
		if rec.Expired(now) {
			parts = append(parts, errorStyle.Render("[expired]"))
		} else {
			parts = append(parts, subtleStyle.Render("expires "+FormatTimeUntil(*rec.ExpiresAt, now)))
		}
	}
	if rec.Pinned {
		parts = append(parts, pinnedStyle.Render("[pinned]"))
	}
	return strings.Join(parts, "  ")
}

// FormatRecordLong formats a record with its metadata
func FormatRecordLong(rec models.ToggleRecord, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(FormatRecordShort(rec, now))
	sb.WriteString("\n")
	if !rec.UpdatedAt.IsZero() {
		sb.WriteString(subtleStyle.Render(fmt.Sprintf("updated %s", FormatTimeAgoFrom(rec.UpdatedAt, now))))
		sb.WriteString("\n")
	}
	if len(rec.Metadata) > 0 {
		keys := make([]string, 0, len(rec.Metadata))
		for k := range rec.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, len(keys))
		for i, k := range keys {
			items[i] = fmt.Sprintf("%s: %s", k, rec.Metadata[k])
		}
		sb.WriteString(strings.Join(BulletList(items, 2), "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatPhase formats a sync phase with color
func FormatPhase(p models.SyncPhase) string {
	style, ok := phaseStyles[p]
	if !ok {
		return string(p)
	}
	return style.Render(fmt.Sprintf("[%s]", p))
}

// FormatSyncState renders the coordinator status block used by `toggle status`.
func FormatSyncState(s models.SyncState, now time.Time) string {
	var sb strings.Builder
	online := errorStyle.Render("offline")
	if s.Online {
		online = successStyle.Render("online")
	}
	fmt.Fprintf(&sb, "Sync: %s %s\n", FormatPhase(s.Phase), online)

	last := "never"
	if s.LastSyncAt != nil {
		last = FormatTimeAgoFrom(*s.LastSyncAt, now)
	}
	fmt.Fprintf(&sb, "Last sync: %s\n", last)
	if s.NextAttemptAt != nil {
		fmt.Fprintf(&sb, "Next attempt: %s\n", FormatTimeUntil(*s.NextAttemptAt, now))
	}
	if s.ConsecutiveFailures > 0 {
		sb.WriteString(warningStyle.Render(fmt.Sprintf("Failures: %d", s.ConsecutiveFailures)))
		sb.WriteString("\n")
	}
	if s.LastError != "" {
		sb.WriteString(errorStyle.Render("Last error: " + s.LastError))
		sb.WriteString("\n")
	}
	if s.Cursor != "" {
		sb.WriteString(subtleStyle.Render("Cursor: " + s.Cursor))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	return FormatTimeAgoFrom(t, time.Now())
}

// FormatTimeAgoFrom is FormatTimeAgo relative to now.
func FormatTimeAgoFrom(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// FormatTimeUntil formats a future time as "in 5m". Past times are "now".
func FormatTimeUntil(t, now time.Time) string {
	diff := t.Sub(now)
	switch {
	case diff <= 0:
		return "now"
	case diff < time.Minute:
		return fmt.Sprintf("in %ds", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("in %dm", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("in %dh", int(diff.Hours()))
	default:
		return "on " + t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nOVERRIDES:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// BulletList formats items as a bulleted list with optional indentation
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
