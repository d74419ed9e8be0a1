// Package dateparse parses the absolute and relative times accepted by CLI
// flags such as override expiries.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTime parses input relative to the current time.
//
// Supported formats:
//   - RFC 3339: "2026-03-01T09:00:00Z"
//   - Exact dates: "2026-03-01" (midnight, local time)
//   - Relative offsets: "+6h", "+7d", "+2w", "+1m"
//   - Go durations: "90m", "2h30m"
//   - Day names: "monday", "tuesday", etc. (midnight of the next occurrence)
//   - Keywords: "today", "tomorrow", "next-week", "next-month" (midnight)
func ParseTime(input string) (time.Time, error) {
	return ParseTimeFrom(input, time.Now())
}

// ParseTimeFrom parses input relative to now. Dates and keywords resolve to
// midnight in now's location.
func ParseTimeFrom(input string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time input")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	input = strings.ToLower(raw)
	if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
		return t, nil
	}

	today := midnight(now)
	switch input {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "next-week":
		// Next Monday
		daysUntilMonday := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		return today.AddDate(0, 0, daysUntilMonday), nil
	case "next-month":
		// 1st of next month
		year, month, _ := now.Date()
		return time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location()), nil
	}

	// Relative offsets: +Nh, +Nd, +Nw, +Nm
	if strings.HasPrefix(input, "+") && len(input) >= 3 {
		suffix := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch suffix {
			case 'h':
				return now.Add(time.Duration(n) * time.Hour), nil
			case 'd':
				return now.AddDate(0, 0, n), nil
			case 'w':
				return now.AddDate(0, 0, n*7), nil
			case 'm':
				return now.AddDate(0, n, 0), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use h, d, w, or m)", string(suffix), input)
			}
		}
	}

	if d, err := time.ParseDuration(input); err == nil && d > 0 {
		return now.Add(d), nil
	}

	// Day names: next occurrence of that weekday
	dayMap := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	if target, ok := dayMap[input]; ok {
		daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
		if daysAhead == 0 {
			daysAhead = 7 // always advance to next occurrence
		}
		return today.AddDate(0, 0, daysAhead), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", raw)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
