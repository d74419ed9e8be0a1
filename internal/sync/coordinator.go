package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/marcus/toggle/internal/events"
	"github.com/marcus/toggle/internal/models"
	"github.com/marcus/toggle/internal/syncclient"
)

// Defaults for Config zero values.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 5 * time.Minute
	DefaultRequestTimeout = 15 * time.Second
)

// Remote is the transport the coordinator pulls from and pushes to.
// *syncclient.Client satisfies it.
type Remote interface {
	FetchToggles(ctx context.Context, cursor string) (*syncclient.PullResponse, error)
	AckOverrides(ctx context.Context, overrides []models.ToggleRecord) (*syncclient.AckResponse, error)
}

// Emitter accepts observability events without blocking.
type Emitter interface {
	Emit(ev events.Event)
}

// Config tunes the coordinator. Zero values pick the defaults above.
type Config struct {
	Interval       time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Options wires a Coordinator.
type Options struct {
	Remote    Remote
	Store     RemoteStore
	Overrides OverrideReader
	Events    Emitter
	Config    Config
	Logger    *slog.Logger
	Now       func() time.Time
}

// Coordinator reconciles the remote store with the remote source of truth.
//
// State machine: idle -> syncing -> idle | backoff, backoff -> syncing.
// Attempts happen on the interval timer, on an offline->online transition,
// and on TriggerSync. Nothing touches the network while offline.
type Coordinator struct {
	remote    Remote
	store     RemoteStore
	overrides OverrideReader
	emit      Emitter
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	mu       stdsync.Mutex
	state    models.SyncState
	inflight context.CancelCauseFunc
	started  bool

	attemptMu stdsync.Mutex // one sync round at a time
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	stopOnce  stdsync.Once
}

// New builds a Coordinator. It starts offline and idle.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		remote:    opts.Remote,
		store:     opts.Store,
		overrides: opts.Overrides,
		emit:      opts.Events,
		cfg:       opts.Config.withDefaults(),
		log:       opts.Logger,
		now:       opts.Now,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     models.SyncState{Phase: models.PhaseIdle},
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Start launches the background loop. It returns immediately; the loop runs
// until ctx ends or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run(ctx)
}

// Stop cancels any in-flight round and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		started := c.started
		if c.inflight != nil {
			c.inflight(errStopped)
		}
		c.mu.Unlock()
		if started {
			<-c.done
		}
	})
}

// State returns a copy of the current sync state.
func (c *Coordinator) State() models.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.state)
}

// SetOnline records a connectivity change. Going online wakes the loop
// immediately, cutting any backoff short. Going offline cancels the
// in-flight round.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	was := c.state.Online
	c.state.Online = online
	if !online && c.inflight != nil {
		c.inflight(errWentOffline)
	}
	c.mu.Unlock()

	if online && !was {
		c.log.Debug("sync: online")
		c.signal()
	} else if !online && was {
		c.log.Debug("sync: offline")
	}
}

// TriggerSync asks the loop for an immediate round. It never blocks.
func (c *Coordinator) TriggerSync() {
	c.signal()
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if d, armed := c.nextWait(); armed {
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-c.stop:
			stopTimer(timer)
			return
		case <-c.wake:
		case <-timerC:
		}
		stopTimer(timer)

		if err := c.SyncOnce(ctx); err != nil && !errors.Is(err, ErrOffline) {
			c.log.Debug("sync: round failed", "err", err)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// nextWait returns how long to sleep before the next scheduled round.
// armed is false while offline: only a wake signal can start a round.
func (c *Coordinator) nextWait() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Online {
		return 0, false
	}
	if c.state.NextAttemptAt == nil {
		return 0, true
	}
	d := c.state.NextAttemptAt.Sub(c.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// SyncOnce runs one round synchronously: pull, merge, push pinned overrides.
// It updates SyncState and returns the round's error.
func (c *Coordinator) SyncOnce(ctx context.Context) error {
	_, err := c.syncOnce(ctx)
	return err
}

// SyncOnceResult is SyncOnce returning the merge summary.
func (c *Coordinator) SyncOnceResult(ctx context.Context) (Result, error) {
	return c.syncOnce(ctx)
}

func (c *Coordinator) syncOnce(ctx context.Context) (Result, error) {
	c.attemptMu.Lock()
	defer c.attemptMu.Unlock()

	roundCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.mu.Lock()
	if !c.state.Online {
		c.mu.Unlock()
		return Result{}, ErrOffline
	}
	c.state.Phase = models.PhaseSyncing
	c.inflight = cancel
	cursor := c.state.Cursor
	lastSync := copyTime(c.state.LastSyncAt)
	lastPush := copyTime(c.state.LastPushAt)
	c.mu.Unlock()

	c.publish(events.New(events.TypeSyncStarted))
	started := c.now()

	res, pushedAt, err := c.round(roundCtx, cursor, lastSync, lastPush)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = nil
	now := c.now().UTC()

	if err != nil && roundCtx.Err() != nil && cancelledLocally(ctx, roundCtx) {
		// cut short locally (offline or shutdown); not a remote failure.
		// The cause is what counts: connectivity may already be back.
		cause := context.Cause(roundCtx)
		c.state.Phase = models.PhaseIdle
		c.state.NextAttemptAt = nil
		c.log.Info("sync: round cancelled", "cause", cause, "online", c.state.Online, "err", err)
		if errors.Is(cause, errWentOffline) {
			return res, fmt.Errorf("%w: %v", ErrOffline, err)
		}
		return res, err
	}

	if err != nil {
		delay := Backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, c.state.ConsecutiveFailures)
		c.state.ConsecutiveFailures++
		c.state.Phase = models.PhaseBackoff
		c.state.LastError = err.Error()
		next := now.Add(delay)
		c.state.NextAttemptAt = &next
		c.log.Warn("sync: round failed", "err", err, "failures", c.state.ConsecutiveFailures, "retry_in", delay)

		ev := events.New(events.TypeSyncFailed)
		ev.Error = err.Error()
		c.publish(ev)
		return res, err
	}

	c.state.Phase = models.PhaseIdle
	c.state.ConsecutiveFailures = 0
	c.state.LastError = ""
	c.state.LastSyncAt = &now
	c.state.Cursor = res.Cursor
	if pushedAt != nil {
		c.state.LastPushAt = pushedAt
	}
	next := now.Add(c.cfg.Interval)
	c.state.NextAttemptAt = &next

	c.log.Info("sync: round complete",
		"applied", len(res.Applied), "deleted", len(res.Deleted), "skipped", res.Skipped,
		"conflicts", len(res.Conflicts), "pushed", res.Pushed, "took", c.now().Sub(started))

	ev := events.New(events.TypeSyncSucceeded)
	ev.Success = true
	c.publish(ev)
	return res, nil
}

// round does the network work. pushedAt is non-nil when overrides were
// pushed (or there were none to push) so LastPushAt can advance.
func (c *Coordinator) round(ctx context.Context, cursor string, lastSync, lastPush *time.Time) (Result, *time.Time, error) {
	var res Result
	if c.remote == nil {
		return res, nil, errors.New("sync: no remote configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	resp, err := c.remote.FetchToggles(fetchCtx, cursor)
	cancel()
	if err != nil {
		return res, nil, fmt.Errorf("pull: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, nil, err
	}

	applied, err := ApplyRemote(c.store, c.overrides, Pull{
		Toggles: resp.Toggles,
		Deleted: resp.Deleted,
		Cursor:  resp.Cursor,
	}, lastSync, c.now())
	if err != nil {
		return res, nil, err
	}
	res.ApplyResult = applied
	res.Cursor = resp.Cursor

	for _, rec := range applied.Applied {
		c.publish(events.Changed(rec))
	}
	for _, key := range applied.Deleted {
		ev := events.New(events.TypeToggleDeleted)
		ev.ToggleKey = key
		c.publish(ev)
	}
	for _, cf := range applied.Conflicts {
		ev := events.New(events.TypeSyncConflict)
		ev.ToggleKey = cf.Key
		ev.Success = cf.Remote.Enabled
		c.publish(ev)
		c.log.Info("sync: remote value shadows local override", "key", cf.Key,
			"local", cf.Local.Enabled, "remote", cf.Remote.Enabled)
	}

	pushStart := c.now().UTC()
	pending := PendingOverrides(c.overrides, lastPush)
	res.Pushed = len(pending)
	if len(pending) == 0 {
		return res, &pushStart, nil
	}

	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	ack, err := c.remote.AckOverrides(ackCtx, pending)
	cancel()
	if err != nil {
		return res, nil, fmt.Errorf("push overrides: %w", err)
	}
	res.Accepted = ack.Accepted
	return res, &pushStart, nil
}

// Causes recorded when the coordinator itself cancels a round.
var (
	errWentOffline = errors.New("went offline")
	errStopped     = errors.New("coordinator stopped")
)

// cancelledLocally reports whether roundCtx ended because of this process
// (going offline, Stop, or the caller's ctx) rather than a request timeout.
func cancelledLocally(parent, roundCtx context.Context) bool {
	if parent.Err() != nil {
		return true
	}
	cause := context.Cause(roundCtx)
	return errors.Is(cause, errWentOffline) || errors.Is(cause, errStopped)
}

func (c *Coordinator) publish(ev events.Event) {
	if c.emit != nil {
		c.emit.Emit(ev)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyState(s models.SyncState) models.SyncState {
	s.LastSyncAt = copyTime(s.LastSyncAt)
	s.NextAttemptAt = copyTime(s.NextAttemptAt)
	s.LastPushAt = copyTime(s.LastPushAt)
	return s
}
