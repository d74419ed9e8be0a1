// Package events is the engine's observability hook: typed events delivered
// to pluggable sinks through a bounded queue that never blocks the caller.
package events

import (
	"time"

	"github.com/marcus/toggle/internal/models"
)

// Event is one observation. Fields that do not apply to a type are left empty.
type Event struct {
	ID           string        `json:"id"`
	Type         Type          `json:"type"`
	ToggleKey    string        `json:"toggle_key,omitempty"`
	Scope        models.Scope  `json:"scope,omitempty"`
	ExperimentID string        `json:"experiment_id,omitempty"`
	Variant      string        `json:"variant,omitempty"`
	Success      bool          `json:"success"`
	Reason       models.Reason `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// New returns an event of type t stamped with the current time. The Emitter
// assigns the ID on its delivery goroutine, off the evaluation path.
func New(t Type) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// Checked builds a toggle_checked event from an evaluation.
func Checked(rec *models.ToggleRecord, res models.EvaluationResult) Event {
	ev := New(TypeToggleChecked)
	ev.ToggleKey = res.Key
	ev.Variant = res.Variant
	ev.Success = res.Enabled
	ev.Reason = res.Reason
	if rec != nil {
		ev.Scope = rec.Scope
		ev.ExperimentID = rec.ExperimentID
	}
	return ev
}

// Changed builds a toggle_changed event for a record applied by sync.
func Changed(rec models.ToggleRecord) Event {
	ev := New(TypeToggleChanged)
	ev.ToggleKey = rec.Key
	ev.Scope = rec.Scope
	ev.ExperimentID = rec.ExperimentID
	ev.Variant = rec.Variant
	ev.Success = rec.Enabled
	return ev
}
