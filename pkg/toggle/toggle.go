// Package toggle is the public entry point: an Engine that evaluates feature
// toggles against a locally cached set and keeps that set in sync with a
// remote source of truth.
//
// Evaluation never blocks on the network. Sync runs in a background
// goroutine started by Start and stopped by Close.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/marcus/toggle/internal/evaluator"
	"github.com/marcus/toggle/internal/events"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/notify"
	"github.com/marcus/toggle/internal/overrides"
	"github.com/marcus/toggle/internal/scope"
	"github.com/marcus/toggle/internal/store"
	togglesync "github.com/marcus/toggle/internal/sync"
	"github.com/marcus/toggle/internal/syncclient"
)

// Re-exported types so callers outside this module can name them.
type (
	Record             = models.ToggleRecord
	Context            = models.EvaluationContext
	Result             = models.EvaluationResult
	Reason             = models.Reason
	SyncState          = models.SyncState
	SyncResult         = togglesync.Result
	SyncConfig         = togglesync.Config
	Event              = events.Event
	Sink               = events.Sink
	SinkFunc           = events.SinkFunc
	TokenSource        = syncclient.TokenSource
	Persister          = store.Persister
	Remote             = togglesync.Remote
	NotificationToggle = notify.NotificationToggle
)

// ErrOffline is returned by ForceSync while the engine is offline.
var ErrOffline = togglesync.ErrOffline

// ErrStorage wraps failures to open the configured storage backend.
var ErrStorage = errors.New("open storage")

// Options wires an Engine. Everything is optional: with no persisters the
// stores live in memory, and with no remote every sync round fails.
type Options struct {
	// RemoteURL is the base URL of the toggle remote. Ignored when Transport is set.
	RemoteURL string
	Token     TokenSource
	DeviceID  string
	// HTTPClient replaces the sync client's http.Client.
	HTTPClient *http.Client
	// Transport replaces the HTTP client entirely.
	Transport Remote

	RemoteStore   Persister
	OverrideStore Persister
	FlushDelay    time.Duration

	Sync  SyncConfig
	Sinks []Sink
	// EventQueueSize bounds the event queue; events past it are dropped.
	EventQueueSize int

	// Environ is consulted for TOGGLE_* process overrides. nil reads os.Environ.
	Environ []string

	Logger *slog.Logger
	Now    func() time.Time
}

// Status is a snapshot of the engine for diagnostics.
type Status struct {
	Sync      SyncState    `json:"sync"`
	Toggles   int          `json:"toggles"`
	Overrides int          `json:"overrides"`
	Events    events.Stats `json:"events"`
	EnvRules  []string     `json:"env_overrides,omitempty"`
}

// Engine is safe for concurrent use.
type Engine struct {
	remote    *store.Store
	overrides *store.Store
	eval      *evaluator.Evaluator
	coord     *togglesync.Coordinator
	emitter   *events.Emitter
	env       *overrides.Set
	log       *slog.Logger
	now       func() time.Time

	mu   sync.RWMutex
	ectx Context

	closeOnce sync.Once
	closeErr  error
	onClose   []func() error
}

// New builds an Engine and hydrates its stores. It does not start syncing.
func New(ctx context.Context, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	transport := opts.Transport
	if transport == nil && opts.RemoteURL != "" {
		if !strings.HasPrefix(opts.RemoteURL, "http://") && !strings.HasPrefix(opts.RemoteURL, "https://") {
			return nil, &models.ConfigurationError{Reason: fmt.Sprintf("remote url %q must be http or https", opts.RemoteURL)}
		}
		client := syncclient.New(opts.RemoteURL, opts.Token, opts.DeviceID)
		if opts.HTTPClient != nil {
			client.HTTP = opts.HTTPClient
		}
		transport = client
	}

	env := overrides.FromEnv()
	if opts.Environ != nil {
		env = overrides.Parse(opts.Environ)
	}
	if !env.Empty() {
		log.Info("toggle: process overrides active", "rules", env.Describe())
	}

	emitter := events.NewEmitter(events.EmitterOptions{
		QueueSize: opts.EventQueueSize,
		Logger:    log,
	}, opts.Sinks...)

	e := &Engine{
		remote: store.New(ctx, opts.RemoteStore, store.Options{
			Name: "remote", FlushDelay: opts.FlushDelay, Logger: log, Now: now,
		}),
		overrides: store.New(ctx, opts.OverrideStore, store.Options{
			Name: "overrides", FlushDelay: opts.FlushDelay, Logger: log, Now: now,
		}),
		emitter: emitter,
		env:     env,
		log:     log,
		now:     now,
	}
	e.eval = evaluator.New(evaluator.Options{
		Remote:    e.remote,
		Overrides: e.overrides,
		Scope:     scope.New(now),
		Env:       env,
		Events:    emitter,
		Logger:    log,
	})
	e.coord = togglesync.New(togglesync.Options{
		Remote:    transport,
		Store:     e.remote,
		Overrides: e.overrides,
		Events:    emitter,
		Config:    opts.Sync,
		Logger:    log,
		Now:       now,
	})
	return e, nil
}

// Start launches background sync. Call SetOnlineStatus(true) to let it reach
// the network.
func (e *Engine) Start(ctx context.Context) {
	e.coord.Start(ctx)
}

// Close stops sync, flushes both stores and drains queued events.
// It is safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.coord.Stop()
		var errs []error
		if err := e.remote.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush remote store: %w", err))
		}
		if err := e.overrides.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush override store: %w", err))
		}
		if err := e.emitter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain events: %w", err))
		}
		for _, fn := range e.onClose {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

// IsEnabled reports whether key is on for ectx. Unknown keys are off.
func (e *Engine) IsEnabled(key string, ectx Context) bool {
	return e.eval.IsEnabled(key, ectx)
}

// Evaluate returns the full decision for key in ectx.
func (e *Engine) Evaluate(key string, ectx Context) Result {
	return e.eval.Evaluate(key, ectx)
}

// SetContext sets the context used by Enabled and EvaluateCurrent.
func (e *Engine) SetContext(userID string, groupIDs []string, deviceID string) {
	ectx := models.NewContext(userID, groupIDs, deviceID)
	e.mu.Lock()
	e.ectx = ectx
	e.mu.Unlock()
}

// CurrentContext returns the context set by SetContext.
func (e *Engine) CurrentContext() Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.ectx
	out.GroupIDs = append([]string(nil), e.ectx.GroupIDs...)
	return out
}

// Enabled evaluates key against the current context.
func (e *Engine) Enabled(key string) bool {
	return e.EvaluateCurrent(key).Enabled
}

// EvaluateCurrent is Evaluate against the current context.
func (e *Engine) EvaluateCurrent(key string) Result {
	return e.eval.Evaluate(key, e.CurrentContext())
}

// SetLocalOverride pins key to enabled on this device. The override wins over
// remote values and is pushed to the remote on the next sync. Scope and
// metadata are inherited from the record the override replaces.
func (e *Engine) SetLocalOverride(key string, enabled bool) (Record, error) {
	return e.SetLocalOverrideUntil(key, enabled, time.Time{})
}

// SetLocalOverrideUntil is SetLocalOverride with an expiry. Once until has
// passed the remote value applies again. A zero until never expires.
func (e *Engine) SetLocalOverrideUntil(key string, enabled bool, until time.Time) (Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, &models.ConfigurationError{Reason: "empty key"}
	}
	if !until.IsZero() && !until.After(e.now()) {
		return Record{}, &models.ConfigurationError{Key: key, Reason: "override expiry is in the past"}
	}

	base, _, found := e.eval.Lookup(key)
	if !found {
		base = Record{Key: key, Scope: models.ScopeGlobal}
	}
	base.Enabled = enabled
	base.Pinned = true
	base.ExpiresAt = nil
	if !until.IsZero() {
		u := until.UTC()
		base.ExpiresAt = &u
	}
	if !base.Scope.Valid() {
		base.Scope = models.ScopeGlobal
	}

	rec := e.overrides.Touch(base)
	e.log.Info("toggle: local override set", "key", key, "enabled", enabled, "until", rec.ExpiresAt)

	ev := events.New(events.TypeOverrideSet)
	ev.ToggleKey = key
	ev.Scope = rec.Scope
	ev.Success = enabled
	e.emitter.Emit(ev)
	return rec, nil
}

// ClearLocalOverride removes the override for key. Returns false when there
// was none.
func (e *Engine) ClearLocalOverride(key string) bool {
	if !e.overrides.Delete(key) {
		return false
	}
	e.log.Info("toggle: local override cleared", "key", key)
	ev := events.New(events.TypeOverrideCleared)
	ev.ToggleKey = key
	e.emitter.Emit(ev)
	return true
}

// ForceSync runs one sync round now and waits for it. It returns an error
// wrapping ErrOffline when the engine is offline.
func (e *Engine) ForceSync(ctx context.Context) (SyncResult, error) {
	return e.coord.SyncOnceResult(ctx)
}

// TriggerSync asks the background loop for a round without waiting.
func (e *Engine) TriggerSync() {
	e.coord.TriggerSync()
}

// SetOnlineStatus reports connectivity. Going online triggers an immediate
// round; going offline cancels any round in flight.
func (e *Engine) SetOnlineStatus(online bool) {
	e.coord.SetOnline(online)
}

// SyncState returns a copy of the sync status.
func (e *Engine) SyncState() SyncState {
	return e.coord.State()
}

// Status returns a diagnostic snapshot.
func (e *Engine) Status() Status {
	return Status{
		Sync:      e.coord.State(),
		Toggles:   e.remote.Len(),
		Overrides: e.overrides.Len(),
		Events:    e.emitter.Stats(),
		EnvRules:  e.env.Describe(),
	}
}

// Toggles returns the remote records sorted by key.
func (e *Engine) Toggles() []Record {
	return e.remote.All()
}

// Overrides returns the local overrides sorted by key.
func (e *Engine) Overrides() []Record {
	return e.overrides.All()
}

// Lookup returns the record that evaluation would use for key.
func (e *Engine) Lookup(key string) (Record, bool) {
	rec, _, ok := e.eval.Lookup(key)
	return rec, ok
}

// NotificationToggle returns the quiet-hours view of key.
func (e *Engine) NotificationToggle(key string) (NotificationToggle, bool) {
	rec, ok := e.Lookup(key)
	if !ok {
		return NotificationToggle{}, false
	}
	return notify.New(rec), true
}

// ShouldNotify combines evaluation and quiet hours for a notification in
// category: the toggle must be on for the current context, the category
// allowed, and now outside the quiet window.
func (e *Engine) ShouldNotify(key, category string) bool {
	nt, ok := e.NotificationToggle(key)
	if !ok {
		return false
	}
	return nt.ShouldDeliver(e.Enabled(key), category, e.now())
}
