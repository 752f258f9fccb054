package persist

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the write-behind coalescing window.
const DefaultDebounce = 250 * time.Millisecond

// Saver debounces state writes per tournament: rapid mutations within the
// window collapse into one write, last state wins. A pending write is never
// silently lost — Flush on shutdown writes everything still queued.
//
// Write failures are logged and dropped; the next mutation supersedes them.
type Saver struct {
	store Store
	clock clockwork.Clock
	delay time.Duration

	mu      sync.Mutex
	pending map[int64]*pendingSave
}

type pendingSave struct {
	state   State
	running bool
	timer   clockwork.Timer
}

func NewSaver(store Store, clock clockwork.Clock, delay time.Duration) *Saver {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Saver{
		store:   store,
		clock:   clock,
		delay:   delay,
		pending: make(map[int64]*pendingSave),
	}
}

// Schedule queues a write for the tournament, replacing any pending state and
// restarting the coalescing window.
func (s *Saver) Schedule(tournamentID int64, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[tournamentID]; ok {
		p.state = state
		p.running = state.Running
		p.timer.Reset(s.delay)
		return
	}

	p := &pendingSave{state: state, running: state.Running}
	p.timer = s.clock.AfterFunc(s.delay, func() {
		s.writePending(tournamentID)
	})
	s.pending[tournamentID] = p
}

// Flush writes all pending states immediately. Called on controlled shutdown
// and when a tournament is evicted.
func (s *Saver) Flush(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.write(ctx, id)
	}
}

// FlushTournament writes the pending state for one tournament, if any.
func (s *Saver) FlushTournament(ctx context.Context, tournamentID int64) {
	s.mu.Lock()
	p, ok := s.pending[tournamentID]
	if ok {
		p.timer.Stop()
	}
	s.mu.Unlock()
	if ok {
		s.write(ctx, tournamentID)
	}
}

func (s *Saver) writePending(tournamentID int64) {
	s.write(context.Background(), tournamentID)
}

func (s *Saver) write(ctx context.Context, tournamentID int64) {
	s.mu.Lock()
	p, ok := s.pending[tournamentID]
	if ok {
		delete(s.pending, tournamentID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	blob, err := p.state.Encode()
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", tournamentID).Msg("failed to encode state")
		return
	}
	if err := s.store.SaveState(ctx, tournamentID, blob, p.running); err != nil {
		log.Error().Err(err).Int64("tournament_id", tournamentID).Msg("failed to save state")
	}
}
