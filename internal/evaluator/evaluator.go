// Package evaluator answers "is this toggle on for this context".
//
// Evaluation reads the in-memory stores only. It never performs I/O and never
// returns an error: anything unexpected evaluates to disabled.
package evaluator

import (
	"log/slog"

	"github.com/marcus/toggle/internal/bucket"
	"github.com/marcus/toggle/internal/events"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/overrides"
	"github.com/marcus/toggle/internal/scope"
)

// Reader is the read side of a toggle store.
type Reader interface {
	Get(key string) (models.ToggleRecord, bool)
}

// Emitter accepts observability events without blocking.
type Emitter interface {
	Emit(ev events.Event)
}

// Options wires an Evaluator. Remote is required; the rest are optional.
type Options struct {
	Remote    Reader
	Overrides Reader
	Scope     *scope.Resolver
	Env       *overrides.Set
	Events    Emitter
	Logger    *slog.Logger
}

// Evaluator resolves toggles against the remote and override stores.
type Evaluator struct {
	remote    Reader
	overrides Reader
	scope     *scope.Resolver
	env       *overrides.Set
	emit      Emitter
	log       *slog.Logger
}

// New builds an Evaluator from opts.
func New(opts Options) *Evaluator {
	e := &Evaluator{
		remote:    opts.Remote,
		overrides: opts.Overrides,
		scope:     opts.Scope,
		env:       opts.Env,
		emit:      opts.Events,
		log:       opts.Logger,
	}
	if e.scope == nil {
		e.scope = scope.New(nil)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// IsEnabled is Evaluate(key, ectx).Enabled.
func (e *Evaluator) IsEnabled(key string, ectx models.EvaluationContext) bool {
	return e.Evaluate(key, ectx).Enabled
}

// Evaluate decides key for ectx and emits a toggle_checked event.
func (e *Evaluator) Evaluate(key string, ectx models.EvaluationContext) (res models.EvaluationResult) {
	var rec *models.ToggleRecord
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("evaluator: panic during evaluation", "key", key, "panic", r)
			res = models.EvaluationResult{Key: key, Reason: models.ReasonError}
		}
		e.publish(rec, res)
	}()

	if on, reason, ok := e.env.Resolve(key); ok {
		return models.EvaluationResult{Key: key, Enabled: on, Reason: reason}
	}

	found, fromOverride, ok := e.Lookup(key)
	if !ok {
		return models.EvaluationResult{Key: key, Reason: models.ReasonNotFound}
	}
	rec = &found

	if fromOverride {
		return e.evaluateOverride(found)
	}
	return e.evaluateRecord(found, ectx)
}

// Lookup resolves key by precedence: pinned override, remote record,
// unpinned override. An expired pinned override yields to the remote record.
// fromOverride reports which store answered.
func (e *Evaluator) Lookup(key string) (rec models.ToggleRecord, fromOverride bool, ok bool) {
	var (
		ov    models.ToggleRecord
		hasOv bool
	)
	if e.overrides != nil {
		ov, hasOv = e.overrides.Get(key)
		if hasOv && ov.Pinned && !ov.Expired(e.scope.Now()) {
			return ov, true, true
		}
	}
	if e.remote != nil {
		if r, found := e.remote.Get(key); found {
			return r, false, true
		}
	}
	if hasOv {
		return ov, true, true
	}
	return models.ToggleRecord{}, false, false
}

// evaluateOverride honors a local override as-is apart from expiry.
func (e *Evaluator) evaluateOverride(rec models.ToggleRecord) models.EvaluationResult {
	res := models.EvaluationResult{Key: rec.Key, Variant: rec.Variant, Reason: models.ReasonOverride}
	if ok, reason := e.scope.Check(rec, models.EvaluationContext{}); !ok && reason == models.ReasonExpired {
		res.Variant = ""
		res.Reason = models.ReasonExpired
		return res
	}
	res.Enabled = rec.Enabled
	if !res.Enabled {
		res.Variant = ""
	}
	return res
}

func (e *Evaluator) evaluateRecord(rec models.ToggleRecord, ectx models.EvaluationContext) models.EvaluationResult {
	res := models.EvaluationResult{Key: rec.Key}

	if !rec.Enabled {
		res.Reason = models.ReasonDisabled
		return res
	}
	if ok, reason := e.scope.Check(rec, ectx); !ok {
		res.Reason = reason
		return res
	}

	if exp, isExperiment := bucket.FromRecord(rec); isExperiment {
		variant, in := exp.Assign(bucket.Identity(ectx))
		if !in {
			res.Reason = models.ReasonNotInExperiment
			return res
		}
		res.Variant = variant
	} else {
		res.Variant = rec.Variant
	}

	res.Enabled = true
	res.Reason = models.ReasonEnabled
	return res
}

func (e *Evaluator) publish(rec *models.ToggleRecord, res models.EvaluationResult) {
	if e.emit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("evaluator: event emission failed", "key", res.Key, "panic", r)
		}
	}()
	e.emit.Emit(events.Checked(rec, res))
}
