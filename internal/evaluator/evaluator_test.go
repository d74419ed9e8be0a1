package evaluator

import (
	"sync"
	"testing"
	"time"

	"github.com/marcus/toggle/internal/events"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/overrides"
	"github.com/marcus/toggle/internal/scope"
)

type mapReader map[string]models.ToggleRecord

func (m mapReader) Get(key string) (models.ToggleRecord, bool) {
	r, ok := m[key]
	return r, ok
}

type panicReader struct{}

func (panicReader) Get(string) (models.ToggleRecord, bool) { panic("corrupted index") }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newEvaluator(remote, ov mapReader, env *overrides.Set, emit Emitter) *Evaluator {
	return New(Options{
		Remote:    remote,
		Overrides: ov,
		Scope:     scope.New(func() time.Time { return now }),
		Env:       env,
		Events:    emit,
	})
}

func TestUnknownKeyFailsClosed(t *testing.T) {
	e := newEvaluator(mapReader{}, nil, nil, nil)
	res := e.Evaluate("nope", models.EvaluationContext{UserID: "u1"})
	if res.Enabled || res.Reason != models.ReasonNotFound {
		t.Fatalf("Evaluate = %+v", res)
	}
}

func TestGlobalToggle(t *testing.T) {
	e := newEvaluator(mapReader{
		"notif": {Key: "notif", Enabled: true, Scope: models.ScopeGlobal},
	}, nil, nil, nil)

	for _, ctx := range []models.EvaluationContext{
		{},
		{UserID: "u1"},
		{DeviceID: "d1", GroupIDs: []string{"g"}},
	} {
		if !e.IsEnabled("notif", ctx) {
			t.Errorf("notif disabled for %+v", ctx)
		}
	}
}

func TestUserScopedToggle(t *testing.T) {
	e := newEvaluator(mapReader{
		"beta": {Key: "beta", Enabled: true, Scope: models.ScopeUser},
	}, nil, nil, nil)

	anon := e.Evaluate("beta", models.EvaluationContext{})
	if anon.Enabled || anon.Reason != models.ReasonScopeMismatch {
		t.Fatalf("anonymous: %+v", anon)
	}
	if !e.IsEnabled("beta", models.EvaluationContext{UserID: "u1"}) {
		t.Fatal("beta should be on for a signed-in user")
	}
}

func TestDisabledAndExpired(t *testing.T) {
	past := now.Add(-time.Second)
	e := newEvaluator(mapReader{
		"off":     {Key: "off", Enabled: false, Scope: models.ScopeGlobal},
		"expired": {Key: "expired", Enabled: true, Scope: models.ScopeGlobal, ExpiresAt: &past},
	}, nil, nil, nil)

	if res := e.Evaluate("off", models.EvaluationContext{}); res.Enabled || res.Reason != models.ReasonDisabled {
		t.Errorf("off: %+v", res)
	}
	if res := e.Evaluate("expired", models.EvaluationContext{}); res.Enabled || res.Reason != models.ReasonExpired {
		t.Errorf("expired: %+v", res)
	}
}

func TestExperimentVariantIsStable(t *testing.T) {
	e := newEvaluator(mapReader{
		"checkout": {
			Key: "checkout", Enabled: true, Scope: models.ScopeGlobal, ExperimentID: "exp1",
			Metadata: map[string]string{"variants": "A,B"},
		},
	}, nil, nil, nil)

	ctx := models.EvaluationContext{UserID: "u42"}
	first := e.Evaluate("checkout", ctx)
	if !first.Enabled || (first.Variant != "A" && first.Variant != "B") {
		t.Fatalf("first = %+v", first)
	}
	for i := 0; i < 1000; i++ {
		if got := e.Evaluate("checkout", ctx); got.Variant != first.Variant {
			t.Fatalf("iteration %d: variant %q, want %q", i, got.Variant, first.Variant)
		}
	}
}

func TestExperimentExclusion(t *testing.T) {
	e := newEvaluator(mapReader{
		"dark": {
			Key: "dark", Enabled: true, Scope: models.ScopeGlobal, ExperimentID: "dark-exp",
			Metadata: map[string]string{"inclusionRate": "0"},
		},
	}, nil, nil, nil)
	res := e.Evaluate("dark", models.EvaluationContext{UserID: "u1"})
	if res.Enabled || res.Reason != models.ReasonNotInExperiment {
		t.Fatalf("Evaluate = %+v", res)
	}
}

func TestFixedVariantWithoutExperiment(t *testing.T) {
	e := newEvaluator(mapReader{
		"theme": {Key: "theme", Enabled: true, Scope: models.ScopeGlobal, Variant: "blue"},
	}, nil, nil, nil)
	if res := e.Evaluate("theme", models.EvaluationContext{}); res.Variant != "blue" {
		t.Fatalf("variant = %q", res.Variant)
	}
}

func TestOverridePrecedence(t *testing.T) {
	remote := mapReader{
		"pinned":   {Key: "pinned", Enabled: true, Scope: models.ScopeGlobal},
		"unpinned": {Key: "unpinned", Enabled: true, Scope: models.ScopeGlobal},
	}
	ov := mapReader{
		"pinned":   {Key: "pinned", Enabled: false, Scope: models.ScopeGlobal, Pinned: true},
		"unpinned": {Key: "unpinned", Enabled: false, Scope: models.ScopeGlobal},
		"local":    {Key: "local", Enabled: true, Scope: models.ScopeUser},
	}
	e := newEvaluator(remote, ov, nil, nil)

	if res := e.Evaluate("pinned", models.EvaluationContext{}); res.Enabled || res.Reason != models.ReasonOverride {
		t.Errorf("pinned override should win: %+v", res)
	}
	if res := e.Evaluate("unpinned", models.EvaluationContext{}); !res.Enabled || res.Reason != models.ReasonEnabled {
		t.Errorf("remote should beat unpinned override: %+v", res)
	}
	// override-only key skips scope targeting
	if res := e.Evaluate("local", models.EvaluationContext{}); !res.Enabled || res.Reason != models.ReasonOverride {
		t.Errorf("override-only key: %+v", res)
	}
}

func TestExpiredOverride(t *testing.T) {
	past := now.Add(-time.Minute)
	e := newEvaluator(mapReader{}, mapReader{
		"x": {Key: "x", Enabled: true, Scope: models.ScopeGlobal, Pinned: true, ExpiresAt: &past},
	}, nil, nil)
	if res := e.Evaluate("x", models.EvaluationContext{}); res.Enabled || res.Reason != models.ReasonExpired {
		t.Fatalf("Evaluate = %+v", res)
	}
}

func TestExpiredPinnedOverrideYieldsToRemote(t *testing.T) {
	past := now.Add(-time.Minute)
	e := newEvaluator(mapReader{
		"x": {Key: "x", Enabled: true, Scope: models.ScopeGlobal},
	}, mapReader{
		"x": {Key: "x", Enabled: false, Scope: models.ScopeGlobal, Pinned: true, ExpiresAt: &past},
	}, nil, nil)
	if res := e.Evaluate("x", models.EvaluationContext{}); !res.Enabled || res.Reason != models.ReasonEnabled {
		t.Fatalf("Evaluate = %+v", res)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	remote := mapReader{"notif": {Key: "notif", Enabled: true, Scope: models.ScopeGlobal}}
	ov := mapReader{"notif": {Key: "notif", Enabled: true, Scope: models.ScopeGlobal, Pinned: true}}

	forced := newEvaluator(remote, ov, overrides.Parse([]string{"TOGGLE_FORCE_NOTIF=off"}), nil)
	if res := forced.Evaluate("notif", models.EvaluationContext{}); res.Enabled || res.Reason != models.ReasonEnvOverride {
		t.Errorf("forced: %+v", res)
	}

	killed := newEvaluator(remote, ov, overrides.Parse([]string{"TOGGLE_DISABLE_ALL=1"}), nil)
	if res := killed.Evaluate("notif", models.EvaluationContext{}); res.Enabled || res.Reason != models.ReasonKillSwitch {
		t.Errorf("kill switch: %+v", res)
	}

	// env can turn on a key the stores have never seen
	enabled := newEvaluator(mapReader{}, nil, overrides.Parse([]string{"TOGGLE_ENABLE=preview"}), nil)
	if !enabled.IsEnabled("preview", models.EvaluationContext{}) {
		t.Error("TOGGLE_ENABLE should turn on unknown key")
	}
}

func TestPanicEvaluatesToError(t *testing.T) {
	rec := &recorder{}
	e := New(Options{Remote: panicReader{}, Events: rec})
	res := e.Evaluate("anything", models.EvaluationContext{})
	if res.Enabled || res.Reason != models.ReasonError {
		t.Fatalf("Evaluate = %+v", res)
	}
	if len(rec.events) != 1 || rec.events[0].Reason != models.ReasonError {
		t.Fatalf("events = %+v", rec.events)
	}
}

type panicEmitter struct{}

func (panicEmitter) Emit(events.Event) { panic("sink exploded") }

func TestEmissionFailureDoesNotChangeDecision(t *testing.T) {
	e := newEvaluator(mapReader{
		"notif": {Key: "notif", Enabled: true, Scope: models.ScopeGlobal},
	}, nil, nil, panicEmitter{})
	if !e.IsEnabled("notif", models.EvaluationContext{}) {
		t.Fatal("emission failure changed the decision")
	}
}

func TestEmitsCheckedEvent(t *testing.T) {
	rec := &recorder{}
	e := newEvaluator(mapReader{
		"beta": {Key: "beta", Enabled: true, Scope: models.ScopeUser, ExperimentID: "exp1"},
	}, nil, nil, rec)
	e.Evaluate("beta", models.EvaluationContext{UserID: "u1"})
	e.Evaluate("missing", models.EvaluationContext{})

	if len(rec.events) != 2 {
		t.Fatalf("got %d events, want 2", len(rec.events))
	}
	first := rec.events[0]
	if first.Type != events.TypeToggleChecked || first.ToggleKey != "beta" || first.Scope != models.ScopeUser || first.ExperimentID != "exp1" {
		t.Errorf("first event = %+v", first)
	}
	if rec.events[1].Reason != models.ReasonNotFound {
		t.Errorf("second event reason = %s", rec.events[1].Reason)
	}
}

func TestConcurrentEvaluation(t *testing.T) {
	e := newEvaluator(mapReader{
		"notif": {Key: "notif", Enabled: true, Scope: models.ScopeGlobal},
	}, nil, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if !e.IsEnabled("notif", models.EvaluationContext{}) {
					t.Error("inconsistent result")
					return
				}
			}
		}()
	}
	wg.Wait()
}
