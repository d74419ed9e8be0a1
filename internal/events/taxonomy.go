package events

import "strings"

// Type is the canonical event type emitted by the engine.
type Type string

// Canonical event types
const (
	TypeToggleChecked Type = "toggle_checked"
	TypeToggleChanged Type = "toggle_changed"
	TypeToggleDeleted Type = "toggle_deleted"
	TypeOverrideSet   Type = "override_set"
	TypeOverrideClear Type = "override_cleared"
	TypeSyncStarted   Type = "sync_started"
	TypeSyncSucceeded Type = "sync_succeeded"
	TypeSyncFailed    Type = "sync_failed"
	TypeSyncConflict  Type = "sync_conflict"
)

// AllTypes returns all valid event types.
func AllTypes() map[Type]bool {
	return map[Type]bool{
		TypeToggleChecked: true,
		TypeToggleChanged: true,
		TypeToggleDeleted: true,
		TypeOverrideSet:   true,
		TypeOverrideClear: true,
		TypeSyncStarted:   true,
		TypeSyncSucceeded: true,
		TypeSyncFailed:    true,
		TypeSyncConflict:  true,
	}
}

// IsValidType checks if the given event type string is valid.
func IsValidType(t string) bool {
	return AllTypes()[Type(t)]
}

// NormalizeType maps loose spellings to the canonical type.
// Returns "" and false for unknown values.
func NormalizeType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "toggle_checked", "checked", "check", "evaluate", "evaluation":
		return TypeToggleChecked, true
	case "toggle_changed", "changed", "change", "update":
		return TypeToggleChanged, true
	case "toggle_deleted", "deleted", "delete":
		return TypeToggleDeleted, true
	case "override_set", "override":
		return TypeOverrideSet, true
	case "override_cleared", "override_clear":
		return TypeOverrideClear, true
	case "sync_started", "sync_start":
		return TypeSyncStarted, true
	case "sync_succeeded", "sync_success", "sync_ok":
		return TypeSyncSucceeded, true
	case "sync_failed", "sync_failure", "sync_error":
		return TypeSyncFailed, true
	case "sync_conflict", "conflict":
		return TypeSyncConflict, true
	default:
		return "", false
	}
}

// IsSyncType reports whether t describes the sync lifecycle.
func IsSyncType(t Type) bool {
	return strings.HasPrefix(string(t), "sync_")
}

// ParseTypes parses a comma-separated filter like "checked,sync_failed".
// Unknown names are returned separately so callers can report them.
func ParseTypes(s string) (valid []Type, unknown []string) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, ok := NormalizeType(part); ok {
			valid = append(valid, t)
		} else {
			unknown = append(unknown, part)
		}
	}
	return valid, unknown
}
