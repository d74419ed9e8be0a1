package suggest

import "testing"

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"user", "user", 0},
		{"usr", "user", 1},
		{"gruop", "group", 2},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFlag(t *testing.T) {
	valid := []string{"--user", "--group", "--device", "--json", "--sync", "--config"}
	tests := []struct {
		unknown string
		want    []string
	}{
		{"--usr", []string{"--user"}},
		{"--grop", []string{"--group"}},
		{"--dev", []string{"--device"}},
		{"--JSON", []string{"--json"}},
		{"--zzzzzzzz", nil},
		{"--", nil},
	}
	for _, tt := range tests {
		got := Flag(tt.unknown, valid)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if len(got) == 0 || got[0] != tt.want[0] {
			t.Errorf("Flag(%q) = %q, want first %q", tt.unknown, got, tt.want)
		}
	}

	if got := Flag("s", valid); len(got) > 3 {
		t.Errorf("Flag returned %d suggestions, want at most 3", len(got))
	}
}

func TestGetFlagHint(t *testing.T) {
	if got := GetFlagHint("--User-ID"); got != "--user" {
		t.Errorf("GetFlagHint(--User-ID) = %q", got)
	}
	if got := GetFlagHint("--nothing"); got != "" {
		t.Errorf("GetFlagHint(--nothing) = %q", got)
	}
	for alias, hint := range CommonFlagAliases {
		if hint == "" {
			t.Errorf("alias %q has empty hint", alias)
		}
	}
}
