// Package overrides resolves process-level toggle overrides from the environment.
//
// Resolution order: TOGGLE_DISABLE_ALL kill switch, then TOGGLE_FORCE_<KEY>,
// then the TOGGLE_DISABLE and TOGGLE_ENABLE lists.
package overrides

import (
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/marcus/toggle/internal/models"
)

// Environment variable names
const (
	EnvDisableAll  = "TOGGLE_DISABLE_ALL"
	EnvForcePrefix = "TOGGLE_FORCE_"
	EnvEnable      = "TOGGLE_ENABLE"
	EnvDisable     = "TOGGLE_DISABLE"
)

// Set is an immutable snapshot of env overrides.
type Set struct {
	killSwitch bool
	forced     map[string]bool // keyed by env-normalized toggle key
	enable     map[string]bool // keyed by normalized name
	disable    map[string]bool
}

// FromEnv snapshots the current process environment.
func FromEnv() *Set {
	return Parse(os.Environ())
}

// Parse builds a Set from KEY=VALUE pairs. Unparsable values are ignored.
func Parse(environ []string) *Set {
	s := &Set{
		forced:  map[string]bool{},
		enable:  map[string]bool{},
		disable: map[string]bool{},
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch {
		case k == EnvDisableAll:
			if on, ok := parseBool(v); ok && on {
				s.killSwitch = true
			}
		case k == EnvEnable:
			addNames(s.enable, v)
		case k == EnvDisable:
			addNames(s.disable, v)
		case strings.HasPrefix(k, EnvForcePrefix):
			name := strings.TrimPrefix(k, EnvForcePrefix)
			if on, ok := parseBool(v); ok && name != "" {
				s.forced[name] = on
			}
		}
	}
	return s
}

// KillSwitch reports whether every toggle is forced off.
func (s *Set) KillSwitch() bool {
	return s != nil && s.killSwitch
}

// Resolve returns the forced state of key and the reason, or ok=false when
// the environment says nothing about key.
func (s *Set) Resolve(key string) (enabled bool, reason models.Reason, ok bool) {
	if s == nil {
		return false, "", false
	}
	if s.killSwitch {
		return false, models.ReasonKillSwitch, true
	}
	if on, found := s.forced[EnvKey(key)]; found {
		return on, models.ReasonEnvOverride, true
	}
	name := normalizeName(key)
	if s.disable[name] {
		return false, models.ReasonEnvOverride, true
	}
	if s.enable[name] {
		return true, models.ReasonEnvOverride, true
	}
	return false, "", false
}

// Empty reports whether no override is set.
func (s *Set) Empty() bool {
	return s == nil || (!s.killSwitch && len(s.forced) == 0 && len(s.enable) == 0 && len(s.disable) == 0)
}

// Describe lists the active overrides for status output, sorted.
func (s *Set) Describe() []string {
	if s == nil {
		return nil
	}
	var out []string
	if s.killSwitch {
		out = append(out, EnvDisableAll)
	}
	for name, on := range s.forced {
		out = append(out, EnvForcePrefix+name+"="+onOff(on))
	}
	for name := range s.disable {
		out = append(out, "disable:"+name)
	}
	for name := range s.enable {
		out = append(out, "enable:"+name)
	}
	sort.Strings(out)
	return out
}

// EnvKey converts a toggle key to its TOGGLE_FORCE_ suffix:
// upper case, with every non-alphanumeric rune replaced by '_'.
func EnvKey(key string) string {
	upper := strings.ToUpper(strings.TrimSpace(key))
	var b strings.Builder
	for _, r := range upper {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func addNames(dst map[string]bool, raw string) {
	for _, item := range strings.Split(raw, ",") {
		if n := normalizeName(item); n != "" {
			dst[n] = true
		}
	}
}

func parseBool(value string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	default:
		return false, false
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
