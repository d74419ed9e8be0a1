// Package notify interprets notification toggles: category filters and
// quiet hours carried in toggle metadata.
package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/scope"
)

// Metadata keys read by NotificationToggle.
const (
	MetaCategories        = "categories"
	MetaQuietStartSeconds = "quietStartSeconds"
	MetaQuietEndSeconds   = "quietEndSeconds"
	MetaTimezone          = "timezone"
)

const secondsPerDay = 24 * 60 * 60

// NotificationToggle wraps a record whose metadata configures delivery.
type NotificationToggle struct {
	Record models.ToggleRecord
}

// New wraps rec.
func New(rec models.ToggleRecord) NotificationToggle {
	return NotificationToggle{Record: rec}
}

// QuietWindow returns the configured quiet window in seconds from local
// midnight. ok is false when either bound is missing or out of range.
func (n NotificationToggle) QuietWindow() (start, end int, ok bool) {
	start, okStart := parseSeconds(n.Record.Meta(MetaQuietStartSeconds))
	end, okEnd := parseSeconds(n.Record.Meta(MetaQuietEndSeconds))
	if !okStart || !okEnd {
		return 0, 0, false
	}
	return start, end, true
}

func parseSeconds(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v >= secondsPerDay {
		return 0, false
	}
	return v, true
}

// Location returns the toggle's timezone. Empty or unknown names give UTC.
func (n NotificationToggle) Location() *time.Location {
	name := strings.TrimSpace(n.Record.Meta(MetaTimezone))
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsQuietNow reports whether now falls inside the quiet window, evaluated in
// the toggle's timezone. A window with start > end wraps past midnight. A
// toggle without a window is never quiet.
func (n NotificationToggle) IsQuietNow(now time.Time) bool {
	start, end, ok := n.QuietWindow()
	if !ok {
		return false
	}
	local := now.In(n.Location())
	s := local.Hour()*3600 + local.Minute()*60 + local.Second()
	if start < end {
		return start <= s && s < end
	}
	return s >= start || s < end
}

// IsQuietNow is the package-level form of NotificationToggle.IsQuietNow.
func IsQuietNow(rec models.ToggleRecord, now time.Time) bool {
	return New(rec).IsQuietNow(now)
}

// Categories lists the categories the toggle allows. Empty means all.
func (n NotificationToggle) Categories() []string {
	return scope.SplitList(n.Record.Meta(MetaCategories))
}

// AllowsCategory reports whether category may be delivered. Matching is
// case-insensitive.
func (n NotificationToggle) AllowsCategory(category string) bool {
	cats := n.Categories()
	if len(cats) == 0 {
		return true
	}
	for _, c := range cats {
		if strings.EqualFold(c, strings.TrimSpace(category)) {
			return true
		}
	}
	return false
}

// ShouldDeliver combines the evaluated toggle state with the category filter
// and quiet hours.
func (n NotificationToggle) ShouldDeliver(enabled bool, category string, now time.Time) bool {
	return enabled && n.AllowsCategory(category) && !n.IsQuietNow(now)
}
