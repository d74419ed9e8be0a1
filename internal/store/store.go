// Package store is the in-memory toggle cache backed by a durable snapshot.
//
// Reads and writes go to a map guarded by a single RWMutex. Mutations mark
// the store dirty and a background flusher writes one coalesced snapshot per
// burst. The store knows nothing about scopes or experiments.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/marcus/toggle/internal/models"
)

// DefaultFlushDelay is how long the flusher waits for more writes before saving.
const DefaultFlushDelay = 250 * time.Millisecond

// MaxFlushRetryDelay caps the wait between retries of a failed save.
const MaxFlushRetryDelay = 30 * time.Second

// Persister is the durable boundary: whole-namespace load and save.
type Persister interface {
	LoadAll(ctx context.Context) ([]models.ToggleRecord, error)
	SaveAll(ctx context.Context, records []models.ToggleRecord) error
}

// Options tunes a Store. Zero values pick defaults.
type Options struct {
	Name       string // used in log lines
	FlushDelay time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store holds toggle records keyed by Key.
type Store struct {
	mu      sync.RWMutex
	records map[string]models.ToggleRecord

	persister  Persister
	flushDelay time.Duration
	name       string
	log        *slog.Logger
	now        func() time.Time

	dirty    chan struct{}
	stop     chan struct{}
	done     chan struct{}
	saveMu   sync.Mutex // serializes SaveAll between the flusher and Flush
	closeOne sync.Once
}

// New hydrates a store from p and starts the background flusher.
// A nil persister gives a purely in-memory store. A hydration failure is
// logged and the store starts empty.
func New(ctx context.Context, p Persister, opts Options) *Store {
	s := &Store{
		records:    make(map[string]models.ToggleRecord),
		persister:  p,
		flushDelay: opts.FlushDelay,
		name:       opts.Name,
		log:        opts.Logger,
		now:        opts.Now,
		dirty:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if s.flushDelay <= 0 {
		s.flushDelay = DefaultFlushDelay
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.name == "" {
		s.name = "toggles"
	}

	s.hydrate(ctx)

	if p == nil {
		close(s.done)
		return s
	}
	go s.flushLoop()
	return s
}

func (s *Store) hydrate(ctx context.Context) {
	if s.persister == nil {
		return
	}
	recs, err := s.persister.LoadAll(ctx)
	if err != nil {
		s.log.Warn("store: hydration failed, starting empty", "store", s.name, "err", err)
		return
	}

	skipped := 0
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			s.log.Warn("store: skipping invalid record", "store", s.name, "err", err)
			skipped++
			continue
		}
		s.records[r.Key] = r.Clone()
	}
	s.log.Debug("store: hydrated", "store", s.name, "records", len(s.records), "skipped", skipped)
}

// Get returns a copy of the record for key.
func (s *Store) Get(key string) (models.ToggleRecord, bool) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return models.ToggleRecord{}, false
	}
	return rec.Clone(), true
}

// Put overwrites the record for rec.Key unconditionally.
func (s *Store) Put(rec models.ToggleRecord) {
	rec = rec.Clone()
	s.mu.Lock()
	s.records[rec.Key] = rec
	s.mu.Unlock()
	s.markDirty()
}

// PutIf stores rec only when accept returns true for the current value.
// The check and the write happen under one lock acquisition.
func (s *Store) PutIf(rec models.ToggleRecord, accept func(existing models.ToggleRecord, found bool) bool) bool {
	rec = rec.Clone()
	s.mu.Lock()
	existing, found := s.records[rec.Key]
	if !accept(existing, found) {
		s.mu.Unlock()
		return false
	}
	s.records[rec.Key] = rec
	s.mu.Unlock()
	s.markDirty()
	return true
}

// Touch stores rec as a local write: CreatedAt is kept from any existing
// record and UpdatedAt never moves backwards for a key.
func (s *Store) Touch(rec models.ToggleRecord) models.ToggleRecord {
	rec = rec.Clone()
	now := s.now().UTC()
	s.mu.Lock()
	if existing, ok := s.records[rec.Key]; ok {
		if !existing.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
		if now.Before(existing.UpdatedAt) {
			now = existing.UpdatedAt
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.Key] = rec
	s.mu.Unlock()
	s.markDirty()
	return rec.Clone()
}

// Delete removes key. Returns false when the key was absent.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()
	if ok {
		s.markDirty()
	}
	return ok
}

// DeleteIf removes key only when accept returns true for the current value.
func (s *Store) DeleteIf(key string, accept func(existing models.ToggleRecord) bool) bool {
	s.mu.Lock()
	existing, ok := s.records[key]
	if !ok || !accept(existing) {
		s.mu.Unlock()
		return false
	}
	delete(s.records, key)
	s.mu.Unlock()
	s.markDirty()
	return true
}

// All returns a snapshot of every record, sorted by key.
func (s *Store) All() []models.ToggleRecord {
	s.mu.RLock()
	out := make([]models.ToggleRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes every record.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]models.ToggleRecord)
	s.mu.Unlock()
	s.markDirty()
}

func (s *Store) markDirty() {
	if s.persister == nil {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
		// a flush is already pending and will pick this write up
	}
}

// flushLoop waits for a dirty signal, lets the burst settle, then saves once.
// A failed save is retried on its own, doubling the wait up to
// MaxFlushRetryDelay, until one succeeds.
func (s *Store) flushLoop() {
	defer close(s.done)
	delay := s.flushDelay
	retrying := false
	for {
		if !retrying {
			select {
			case <-s.stop:
				return
			case <-s.dirty:
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		// this save covers any write signalled while waiting
		select {
		case <-s.dirty:
		default:
		}
		if err := s.save(context.Background()); err != nil {
			delay = min(delay*2, MaxFlushRetryDelay)
			retrying = true
			s.log.Warn("store: flush failed", "store", s.name, "err", err, "retry_in", delay)
			continue
		}
		delay = s.flushDelay
		retrying = false
	}
}

func (s *Store) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.persister.SaveAll(ctx, s.All())
}

// Flush writes the current contents synchronously.
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	// drain a pending signal; this save covers it
	select {
	case <-s.dirty:
	default:
	}
	return s.save(ctx)
}

// Close stops the flusher and writes a final snapshot.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOne.Do(func() {
		if s.persister == nil {
			return
		}
		close(s.stop)
		select {
		case <-s.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = s.save(ctx)
	})
	return err
}
