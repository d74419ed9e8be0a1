// Package suggest provides fuzzy matching for CLI flag suggestions using
// Levenshtein distance.
package suggest

import (
	"sort"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Create matrix
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	// Fill matrix
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// Flag finds similar flags from a list of valid flags.
// Returns at most three suggestions sorted by similarity (best first).
func Flag(unknown string, validFlags []string) []string {
	unknown = strings.ToLower(strings.TrimLeft(unknown, "-"))
	if unknown == "" {
		return nil
	}

	type scored struct {
		flag  string
		score int
	}
	var candidates []scored

	// Only suggest if reasonably close (within 2 edits or half the length)
	maxDist := max(2, len(unknown)/2)
	for _, valid := range validFlags {
		normalized := strings.TrimLeft(valid, "-")
		dist := levenshtein(unknown, normalized)
		if strings.HasPrefix(normalized, unknown) {
			dist = min(dist, 1)
		}
		if dist <= maxDist {
			candidates = append(candidates, scored{valid, dist})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	var result []string
	for i := 0; i < len(candidates) && i < 3; i++ {
		result = append(result, candidates[i].flag)
	}
	return result
}

// CommonFlagAliases maps commonly attempted flags to their correct names
var CommonFlagAliases = map[string]string{
	// Context aliases
	"user-id":   "--user",
	"uid":       "--user",
	"groups":    "--group",
	"group-id":  "--group",
	"device-id": "--device",

	// Remote aliases
	"url":    "--remote-url (toggle config init)",
	"remote": "--remote-url (toggle config init)",

	// Output aliases
	"format": "--json",
	"output": "--json",
	"o":      "--json",

	// Override aliases
	"enable":  "use: toggle override set KEY on",
	"disable": "use: toggle override set KEY off",
	"expires": "--until",
	"ttl":     "--until",

	// Logging
	"verbose": "--log-level debug",
	"debug":   "--log-level debug",

	// Version
	"version": "use: toggle version",
	"v":       "use: toggle version",
}

// GetFlagHint returns a hint for a commonly misused flag
func GetFlagHint(flag string) string {
	// Normalize
	flag = strings.TrimLeft(flag, "-")
	flag = strings.ToLower(flag)

	if hint, ok := CommonFlagAliases[flag]; ok {
		return hint
	}
	return ""
}
