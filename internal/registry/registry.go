// Package registry owns the id → {engine, ledger} map: one authoritative
// in-memory state per tournament, each guarded by its own lock. Commands and
// the tick driver both mutate through an entry's lock, so every observer sees
// a complete, non-partial state.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pokerclock/internal/clock"
	"pokerclock/internal/ledger"
	"pokerclock/internal/persist"
)

// ErrUnknownTournament is returned when no persisted state exists for the id.
var ErrUnknownTournament = errors.New("unknown tournament")

// Entry holds the live state for one tournament. All access to Engine and
// Ledger goes through With; the registry never hands them out unlocked.
type Entry struct {
	ID int64

	mu     sync.Mutex
	engine *clock.Engine
	ledger *ledger.Ledger
}

// With runs fn with exclusive access to the entry's engine and ledger. This
// is the single serialization boundary for the tournament: commands, ticks,
// and snapshot reads all pass through here.
func (e *Entry) With(fn func(*clock.Engine, *ledger.Ledger)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.engine, e.ledger)
}

// Registry maps tournament ids to their live entries, loading from the
// persistence store on first reference.
type Registry struct {
	store persist.Store
	saver *persist.Saver
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[int64]*Entry
}

func New(store persist.Store, saver *persist.Saver, clk clockwork.Clock) *Registry {
	return &Registry{
		store:   store,
		saver:   saver,
		clock:   clk,
		entries: make(map[int64]*Entry),
	}
}

// Get returns the entry for the tournament, loading it from the store on
// first reference. An id with no persisted row is unknown; a row with a
// corrupt or empty blob loads as a fresh default state.
func (r *Registry) Get(ctx context.Context, id int64) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	blob, err := r.store.LoadState(ctx, id)
	if errors.Is(err, persist.ErrNotFound) {
		return nil, ErrUnknownTournament
	}
	if err != nil {
		// Serve a default state rather than failing; persistence problems
		// must not stop the clock.
		log.Error().Err(err).Int64("tournament_id", id).Msg("failed to load state, using defaults")
		blob = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	engine, led := persist.Decode(blob, r.clock.Now())
	e = &Entry{ID: id, engine: engine, ledger: led}
	r.entries[id] = e
	log.Info().Int64("tournament_id", id).Bool("running", engine.Running()).Msg("tournament loaded")
	return e, nil
}

// Install creates an entry directly from a state blob, used when a tournament
// is created through the API so it is live before its first connection.
func (r *Registry) Install(id int64, blob []byte) *Entry {
	engine, led := persist.Decode(blob, r.clock.Now())
	e := &Entry{ID: id, engine: engine, ledger: led}
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return e
}

// LoadAll eagerly loads the given tournament ids, typically at process start.
func (r *Registry) LoadAll(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if _, err := r.Get(ctx, id); err != nil {
			log.Warn().Err(err).Int64("tournament_id", id).Msg("failed to preload tournament")
		}
	}
}

// IDs returns the ids of all loaded tournaments.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Peek returns the entry if it is already loaded, without touching the store.
func (r *Registry) Peek(id int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// ScheduleSave queues a debounced write of a captured state. The caller
// captures inside the entry lock and schedules outside it.
func (r *Registry) ScheduleSave(id int64, state persist.State) {
	r.saver.Schedule(id, state)
}

// Remove flushes any pending save for the tournament and evicts it from
// memory. Used after a tournament is finished.
func (r *Registry) Remove(ctx context.Context, id int64) {
	r.saver.FlushTournament(ctx, id)
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Shutdown flushes all pending saves. Must run before process exit so the
// last mutation is never lost to the debounce window.
func (r *Registry) Shutdown(ctx context.Context) {
	r.saver.Flush(ctx)
}

// Snapshot is the immutable public projection sent to observers. It is
// constructed on demand and never persisted.
type Snapshot struct {
	Tournament   *clock.Tournament `json:"tournament"`
	Running      bool              `json:"running"`
	CurrentIndex int               `json:"currentIndex"`
	Timing       clock.Timing      `json:"timing"`
	ServerNowMs  int64             `json:"serverNowMs"`
	Players      ledger.Summary    `json:"players"`
}

// Snapshot builds the public view of the entry at the given instant.
func (e *Entry) Snapshot(now time.Time) Snapshot {
	var snap Snapshot
	e.With(func(eng *clock.Engine, led *ledger.Ledger) {
		snap = snapshotLocked(eng, led, now)
	})
	return snap
}

// snapshotLocked builds a snapshot; the caller must hold the entry lock. The
// tournament is cloned so the snapshot stays point-in-time: it is encoded and
// broadcast after the lock is released, while commands keep mutating the
// live object.
func snapshotLocked(eng *clock.Engine, led *ledger.Ledger, now time.Time) Snapshot {
	t := eng.Tournament()
	return Snapshot{
		Tournament:   t.Clone(),
		Running:      eng.Running(),
		CurrentIndex: eng.CurrentIndex(),
		Timing:       eng.Timing(now),
		ServerNowMs:  now.UnixMilli(),
		Players:      led.Summary(t.BuyIn, t.RebuyAmount, t.AddOnAmount),
	}
}

// SnapshotLocked is the snapshot builder for callers already inside With.
func SnapshotLocked(eng *clock.Engine, led *ledger.Ledger, now time.Time) Snapshot {
	return snapshotLocked(eng, led, now)
}
