// Package scope decides whether a toggle record targets an evaluation context.
package scope

import (
	"strings"
	"time"

	"github.com/marcus/toggle/internal/models"
)

// Resolver applies scope and expiry rules. It holds no state beyond the clock.
type Resolver struct {
	now func() time.Time
}

// New returns a Resolver using now as its clock. A nil now uses time.Now.
func New(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Now reads the resolver's clock.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// Applies reports whether rec targets ectx.
func (r *Resolver) Applies(rec models.ToggleRecord, ectx models.EvaluationContext) bool {
	ok, _ := r.Check(rec, ectx)
	return ok
}

// Check is Applies with the reason for a rejection.
func (r *Resolver) Check(rec models.ToggleRecord, ectx models.EvaluationContext) (bool, models.Reason) {
	if rec.Expired(r.now()) {
		return false, models.ReasonExpired
	}

	switch rec.Scope {
	case models.ScopeGlobal:
		return true, models.ReasonEnabled
	case models.ScopeUser:
		return match(ectx.UserID != "")
	case models.ScopeGroup:
		return match(groupMatches(rec, ectx))
	case models.ScopeDevice:
		return match(rec.Meta(models.MetaDeviceID) == ectx.DeviceID)
	default:
		return false, models.ReasonScopeMismatch
	}
}

func match(ok bool) (bool, models.Reason) {
	if ok {
		return true, models.ReasonEnabled
	}
	return false, models.ReasonScopeMismatch
}

// groupMatches checks the groupId metadata against the context's groups.
// A group-scoped record without groupId applies to everyone.
func groupMatches(rec models.ToggleRecord, ectx models.EvaluationContext) bool {
	targets := SplitList(rec.Meta(models.MetaGroupID))
	if len(targets) == 0 {
		return true
	}
	for _, g := range targets {
		if ectx.InGroup(g) {
			return true
		}
	}
	return false
}

// SplitList parses a comma-separated metadata value, dropping blanks.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
