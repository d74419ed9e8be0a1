// Package bucket assigns identities to experiment variants deterministically.
//
// Assignments depend only on the experiment ID and the identity string, so
// every process and every platform agrees on them.
package bucket

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/scope"
)

// AnonymousIdentity is used when a context has neither a user nor a device.
const AnonymousIdentity = "anonymous"

// Hash is FNV-1a 64 over experimentID + ":" + identity.
func Hash(experimentID, identity string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(experimentID))
	h.Write([]byte{':'})
	h.Write([]byte(identity))
	return h.Sum64()
}

// Variant picks one of variants for identity. Empty variants gives "".
func Variant(experimentID, identity string, variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	return variants[Hash(experimentID, identity)%uint64(len(variants))]
}

// ShouldIncludeInExperiment reports whether identity falls inside the first
// rate fraction of the experiment's hash space.
func ShouldIncludeInExperiment(experimentID, identity string, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return unitInterval(Hash(experimentID, identity)) < rate
}

// unitInterval maps the top 53 bits of h onto [0,1) exactly.
func unitInterval(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

// Identity is the bucketing key for ectx: user, then device, then anonymous.
func Identity(ectx models.EvaluationContext) string {
	if ectx.UserID != "" {
		return ectx.UserID
	}
	if ectx.DeviceID != "" {
		return ectx.DeviceID
	}
	return AnonymousIdentity
}

// DefaultInclusionRate applies when a record carries no inclusionRate.
const DefaultInclusionRate = 1.0

// Experiment is the bucketing configuration carried in a record's metadata.
type Experiment struct {
	ID            string
	Variants      []string
	InclusionRate float64
	Fixed         string // record-level Variant, used when Variants is empty
}

// FromRecord reads experiment settings off rec. ok is false when rec is not
// part of an experiment. An unparsable inclusionRate falls back to the default.
func FromRecord(rec models.ToggleRecord) (exp Experiment, ok bool) {
	if rec.ExperimentID == "" {
		return Experiment{}, false
	}
	exp = Experiment{
		ID:            rec.ExperimentID,
		Variants:      scope.SplitList(rec.Meta(models.MetaVariants)),
		InclusionRate: DefaultInclusionRate,
		Fixed:         rec.Variant,
	}
	if raw := strings.TrimSpace(rec.Meta(models.MetaInclusionRate)); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			exp.InclusionRate = v
		}
	}
	return exp, true
}

// Assign returns the variant for identity and whether it is enrolled.
func (e Experiment) Assign(identity string) (string, bool) {
	if !ShouldIncludeInExperiment(e.ID, identity, e.InclusionRate) {
		return "", false
	}
	if len(e.Variants) == 0 {
		return e.Fixed, true
	}
	return Variant(e.ID, identity, e.Variants), true
}
