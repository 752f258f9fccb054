package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pokerclock/internal/clock"
	"pokerclock/internal/events"
	"pokerclock/internal/ledger"
	"pokerclock/internal/persist"
	"pokerclock/internal/registry"
)

// Broadcaster drives the periodic tick: every interval it advances each
// running tournament's clock, persists and broadcasts state changes, and
// otherwise sends a lightweight tick snapshot for client-side smoothing.
// Sound cues and system events are advisory; their delivery never blocks or
// rolls back clock state.
type Broadcaster struct {
	registry  *registry.Registry
	manager   *ConnectionManager
	publisher events.Publisher
	clock     clockwork.Clock
	interval  time.Duration
}

func NewBroadcaster(reg *registry.Registry, manager *ConnectionManager, publisher events.Publisher, clk clockwork.Clock, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Broadcaster{
		registry:  reg,
		manager:   manager,
		publisher: publisher,
		clock:     clk,
		interval:  interval,
	}
}

// Run loops until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	log.Info().Dur("interval", b.interval).Msg("snapshot broadcaster started")
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("snapshot broadcaster shutting down")
			return
		case <-ticker.Chan():
			b.Cycle(ctx)
		}
	}
}

// Cycle runs one tick pass over all loaded tournaments.
func (b *Broadcaster) Cycle(ctx context.Context) {
	now := b.clock.Now()
	for _, id := range b.registry.IDs() {
		entry, ok := b.registry.Peek(id)
		if !ok {
			continue
		}
		b.tickTournament(ctx, entry, now)
	}
}

func (b *Broadcaster) tickTournament(ctx context.Context, entry *registry.Entry, now time.Time) {
	var (
		res     clock.TickResult
		snap    registry.Snapshot
		state   persist.State
		wasIdle bool
		warn    bool
	)

	entry.With(func(eng *clock.Engine, led *ledger.Ledger) {
		if !eng.Running() {
			wasIdle = true
			return
		}
		res = eng.Tick(now)
		snap = registry.SnapshotLocked(eng, led, now)
		if res.Changed {
			state = persist.Capture(eng, led)
		} else {
			warn = eng.OneMinuteWarning(now)
		}
	})
	if wasIdle {
		return
	}

	if res.Changed {
		b.registry.ScheduleSave(entry.ID, state)
		b.manager.Broadcast(entry.ID, encodeSnapshot(snap))
		b.manager.Broadcast(entry.ID, encodeSystemEvent(res.Event))
		b.manager.Broadcast(entry.ID, encodePlaySound(SoundLevelAdvance))
		b.publisher.Publish(ctx, events.Event{TournamentID: entry.ID, Type: string(res.Event), At: now})
		log.Info().
			Int64("tournament_id", entry.ID).
			Str("event", string(res.Event)).
			Int("current_index", snap.CurrentIndex).
			Msg("clock state changed")
		return
	}

	b.manager.Broadcast(entry.ID, encodeTick(snap))
	if warn {
		b.manager.Broadcast(entry.ID, encodePlaySound(SoundOneMinuteLeft))
		b.publisher.Publish(ctx, events.Event{TournamentID: entry.ID, Type: SoundOneMinuteLeft, At: now})
	}
}
