package models

import (
	"strings"
	"time"
)

// Scope represents the audience dimension a toggle applies to
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeGroup  Scope = "group"
	ScopeDevice Scope = "device"
)

// ParseScope converts a string into a Scope. Returns false for unknown values.
func ParseScope(s string) (Scope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global", "":
		return ScopeGlobal, true
	case "user":
		return ScopeUser, true
	case "group":
		return ScopeGroup, true
	case "device":
		return ScopeDevice, true
	default:
		return "", false
	}
}

// Valid reports whether the scope is one of the known values
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeUser, ScopeGroup, ScopeDevice:
		return true
	}
	return false
}

// Well-known metadata keys
const (
	MetaGroupID       = "groupId"
	MetaDeviceID      = "deviceId"
	MetaVariants      = "variants"
	MetaInclusionRate = "inclusionRate"
)

// ToggleRecord is the unit of toggle configuration
type ToggleRecord struct {
	Key          string            `json:"key"`
	Enabled      bool              `json:"enabled"`
	Scope        Scope             `json:"scope"`
	ExperimentID string            `json:"experiment_id,omitempty"`
	Variant      string            `json:"variant,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Pinned       bool              `json:"pinned,omitempty"` // local override that sync never replaces
}

// Validate checks the fields every stored record must carry
func (r ToggleRecord) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return &ConfigurationError{Reason: "empty key"}
	}
	if !r.Scope.Valid() {
		return &ConfigurationError{Key: r.Key, Reason: "unknown scope " + string(r.Scope)}
	}
	return nil
}

// Expired reports whether ExpiresAt has elapsed at now
func (r ToggleRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Meta returns a metadata value, or "" when absent
func (r ToggleRecord) Meta(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}

// Clone returns a deep copy so callers never share metadata maps with a store
func (r ToggleRecord) Clone() ToggleRecord {
	out := r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Tombstone marks a key deleted on the remote at DeletedAt
type Tombstone struct {
	Key       string    `json:"key"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Reason explains an evaluation outcome
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonDisabled        Reason = "disabled"
	ReasonExpired         Reason = "expired"
	ReasonScopeMismatch   Reason = "scope_mismatch"
	ReasonNotInExperiment Reason = "not_in_experiment"
	ReasonEnabled         Reason = "enabled"
	ReasonOverride        Reason = "override"
	ReasonEnvOverride     Reason = "env_override"
	ReasonKillSwitch      Reason = "kill_switch"
	ReasonError           Reason = "error"
)

// EvaluationResult is the outcome of evaluating one toggle
type EvaluationResult struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant,omitempty"`
	Reason  Reason `json:"reason"`
}

// SyncPhase is the coordinator's state machine position
type SyncPhase string

const (
	PhaseIdle    SyncPhase = "idle"
	PhaseSyncing SyncPhase = "syncing"
	PhaseBackoff SyncPhase = "backoff"
)

// SyncState is the process-wide sync status, mutated only by the coordinator
type SyncState struct {
	Online              bool       `json:"online"`
	Phase               SyncPhase  `json:"phase"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextAttemptAt       *time.Time `json:"next_attempt_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Cursor              string     `json:"cursor,omitempty"`
	LastPushAt          *time.Time `json:"last_push_at,omitempty"`
}
