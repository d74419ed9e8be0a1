package notify

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/marcus/toggle/internal/models"
)

func quietToggle(start, end, tz string) NotificationToggle {
	return New(models.ToggleRecord{
		Key:     "notif",
		Enabled: true,
		Scope:   models.ScopeGlobal,
		Metadata: map[string]string{
			MetaQuietStartSeconds: start,
			MetaQuietEndSeconds:   end,
			MetaTimezone:          tz,
		},
	})
}

func utc(h, m int) time.Time {
	return time.Date(2026, 7, 14, h, m, 0, 0, time.UTC)
}

func TestQuietHoursWrapMidnight(t *testing.T) {
	// 22:00 to 08:00
	n := quietToggle("79200", "28800", "UTC")
	tests := []struct {
		at   time.Time
		want bool
	}{
		{utc(23, 30), true},
		{utc(9, 0), false},
		{utc(7, 59), true},
		{utc(23, 0), true},
		{utc(3, 0), true},
		{utc(22, 0), true},
		{utc(8, 0), false},
		{utc(12, 0), false},
		{utc(21, 59), false},
	}
	for _, tt := range tests {
		if got := n.IsQuietNow(tt.at); got != tt.want {
			t.Errorf("IsQuietNow(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
		}
	}
}

func TestQuietHoursSameDay(t *testing.T) {
	// 13:00 to 14:00
	n := quietToggle("46800", "50400", "")
	if !n.IsQuietNow(utc(13, 30)) {
		t.Error("13:30 should be quiet")
	}
	if n.IsQuietNow(utc(14, 0)) {
		t.Error("end bound is exclusive")
	}
	if n.IsQuietNow(utc(9, 0)) {
		t.Error("09:00 should not be quiet")
	}
}

func TestQuietHoursUseTimezone(t *testing.T) {
	// 22:00 to 08:00 in New York; 03:00 UTC is 23:00 EDT the previous day
	n := quietToggle("79200", "28800", "America/New_York")
	if !n.IsQuietNow(utc(3, 0)) {
		t.Error("23:00 local should be quiet")
	}
	// 16:00 UTC is 12:00 EDT
	if n.IsQuietNow(utc(16, 0)) {
		t.Error("noon local should not be quiet")
	}
}

func TestInvalidTimezoneFallsBackToUTC(t *testing.T) {
	n := quietToggle("79200", "28800", "Mars/Olympus_Mons")
	if n.Location() != time.UTC {
		t.Fatal("invalid timezone should fall back to UTC")
	}
	if !n.IsQuietNow(utc(23, 0)) {
		t.Error("23:00 UTC should be quiet")
	}
}

func TestNoWindowNeverQuiet(t *testing.T) {
	cases := []NotificationToggle{
		New(models.ToggleRecord{Key: "notif"}),
		quietToggle("79200", "", ""),
		quietToggle("soon", "28800", ""),
		quietToggle("-5", "28800", ""),
		quietToggle("86400", "28800", ""),
	}
	for i, n := range cases {
		if n.IsQuietNow(utc(23, 0)) {
			t.Errorf("case %d: quiet without a valid window", i)
		}
	}
}

func TestPackageLevelIsQuietNow(t *testing.T) {
	rec := quietToggle("79200", "28800", "UTC").Record
	if !IsQuietNow(rec, utc(23, 30)) {
		t.Fatal("expected quiet")
	}
}

func TestCategories(t *testing.T) {
	all := New(models.ToggleRecord{Key: "notif"})
	if !all.AllowsCategory("marketing") {
		t.Error("no category list should allow everything")
	}

	some := New(models.ToggleRecord{Key: "notif", Metadata: map[string]string{MetaCategories: "Orders, security"}})
	if got := some.Categories(); len(got) != 2 {
		t.Fatalf("Categories = %v", got)
	}
	if !some.AllowsCategory("orders") || !some.AllowsCategory("SECURITY") {
		t.Error("listed categories should be allowed case-insensitively")
	}
	if some.AllowsCategory("marketing") {
		t.Error("unlisted category allowed")
	}
}

func TestShouldDeliver(t *testing.T) {
	n := quietToggle("79200", "28800", "UTC")
	n.Record.Metadata[MetaCategories] = "orders"

	if !n.ShouldDeliver(true, "orders", utc(12, 0)) {
		t.Error("enabled, allowed category, daytime: should deliver")
	}
	if n.ShouldDeliver(false, "orders", utc(12, 0)) {
		t.Error("disabled toggle delivered")
	}
	if n.ShouldDeliver(true, "marketing", utc(12, 0)) {
		t.Error("filtered category delivered")
	}
	if n.ShouldDeliver(true, "orders", utc(23, 0)) {
		t.Error("delivered during quiet hours")
	}
}
