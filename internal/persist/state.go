// Package persist owns the durable representation of a tournament's clock and
// ledger state: the JSON blob shape, defensive load-time normalization, and
// the debounced write-behind saver.
package persist

import (
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"pokerclock/internal/clock"
	"pokerclock/internal/ledger"
)

// State is the persisted JSON shape. Field names match the blobs the service
// has always written, so existing rows load unchanged.
type State struct {
	Tournament              *clock.Tournament `json:"tournament"`
	Players                 *ledger.Ledger    `json:"players"`
	Running                 bool              `json:"running"`
	CurrentIndex            int               `json:"currentIndex"`
	StartedAtMs             *float64          `json:"startedAtMs"`
	ElapsedInCurrentSeconds float64           `json:"elapsedInCurrentSeconds"`
}

// Capture builds the persistable state from live engine and ledger.
// Callers must hold the entry lock. The returned state holds copies, never
// the live objects: encoding happens later on the saver's timer goroutine,
// after the lock is long gone.
func Capture(e *clock.Engine, l *ledger.Ledger) State {
	s := State{
		Tournament:              e.Tournament().Clone(),
		Players:                 l.Clone(),
		Running:                 e.Running(),
		CurrentIndex:            e.CurrentIndex(),
		ElapsedInCurrentSeconds: float64(e.Elapsed()),
	}
	if at := e.StartedAt(); at != nil {
		ms := float64(at.UnixMilli())
		s.StartedAtMs = &ms
	}
	return s
}

// Encode marshals the state blob.
func (s State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a stored blob into a normalized engine and ledger pair. Any
// parse or shape failure falls back to a fresh default state rather than
// failing: a corrupt row must never take the process down.
//
// If the stored state was running, the clock is rebased to now so a restart
// resumes counting instead of charging the downtime to the level.
func Decode(blob []byte, now time.Time) (*clock.Engine, *ledger.Ledger) {
	var s State
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &s); err != nil {
			log.Warn().Err(err).Msg("unparseable state blob, using defaults")
			s = State{}
		}
	}
	return s.normalize(now)
}

func (s State) normalize(now time.Time) (*clock.Engine, *ledger.Ledger) {
	t := s.Tournament
	if t == nil || len(t.Levels) == 0 {
		t = clock.DefaultTournament()
	}
	if t.DefaultLevelSeconds <= 0 {
		t.DefaultLevelSeconds = clock.DefaultTournament().DefaultLevelSeconds
	}
	switch t.Status {
	case clock.StatusPending, clock.StatusRunning, clock.StatusFinished:
	default:
		t.Status = clock.StatusPending
	}

	elapsed := s.ElapsedInCurrentSeconds
	if math.IsNaN(elapsed) || math.IsInf(elapsed, 0) || elapsed < 0 {
		elapsed = 0
	}

	running := s.Running && t.Status != clock.StatusFinished

	e := clock.NewEngine(t)
	var startedAt *time.Time
	if running {
		startedAt = &now
	}
	e.Restore(running, s.CurrentIndex, int(elapsed), startedAt)

	l := s.Players
	if l == nil {
		l = ledger.New()
	}
	clampLedger(l)
	return e, l
}

func clampLedger(l *ledger.Ledger) {
	if l.Registered < 0 {
		l.Registered = 0
	}
	if l.Busted < 0 {
		l.Busted = 0
	}
	if l.RebuyCount < 0 {
		l.RebuyCount = 0
	}
	if l.AddOnCount < 0 {
		l.AddOnCount = 0
	}
}
