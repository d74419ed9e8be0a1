package models

import "strings"

// EvaluationContext is the caller-supplied identity used for targeting and bucketing.
// It is read-only to the engine and never persisted.
type EvaluationContext struct {
	UserID   string   `json:"user_id,omitempty"`
	GroupIDs []string `json:"group_ids,omitempty"`
	DeviceID string   `json:"device_id,omitempty"`
}

// NewContext builds a context, dropping blank and duplicate group IDs
func NewContext(userID string, groupIDs []string, deviceID string) EvaluationContext {
	ctx := EvaluationContext{
		UserID:   strings.TrimSpace(userID),
		DeviceID: strings.TrimSpace(deviceID),
	}
	seen := make(map[string]bool, len(groupIDs))
	for _, g := range groupIDs {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		ctx.GroupIDs = append(ctx.GroupIDs, g)
	}
	return ctx
}

// InGroup reports whether id is one of the context's groups
func (c EvaluationContext) InGroup(id string) bool {
	for _, g := range c.GroupIDs {
		if g == id {
			return true
		}
	}
	return false
}
