package clock

import (
	"errors"
	"time"
)

var (
	// ErrEmptySchedule is returned when a schedule replacement carries no segments.
	ErrEmptySchedule = errors.New("schedule must contain at least one segment")
	// ErrIndexOutOfRange is returned by JumpTo for an index outside the schedule.
	ErrIndexOutOfRange = errors.New("segment index out of range")
)

// Event is a state-change notification produced by Tick.
type Event string

const (
	EventLevelAdvanced   Event = "LEVEL_ADVANCED"
	EventTournamentEnded Event = "TOURNAMENT_ENDED"
)

// Timing is the recomputed countdown for the current segment.
type Timing struct {
	Total     int `json:"total"`
	Elapsed   int `json:"elapsed"`
	Remaining int `json:"remaining"`
}

// TickResult reports whether a tick changed the clock and which event fired.
type TickResult struct {
	Changed bool
	Event   Event
}

// Engine is the timing state machine for one tournament. It holds the only
// authoritative clock state for its tournament and is not safe for concurrent
// use; the registry entry's lock serializes all access.
//
// Elapsed time is always recomputed from the absolute startedAt timestamp, so
// correctness survives process stalls and irregular tick cadence.
type Engine struct {
	tournament *Tournament

	isRunning    bool
	currentIndex int
	startedAt    *time.Time
	elapsed      int // seconds accumulated in the current segment before startedAt

	warned60 bool
}

// NewEngine creates an engine over the given tournament. A nil tournament or
// an empty schedule gets the stock default so the engine always has at least
// one segment.
func NewEngine(t *Tournament) *Engine {
	if t == nil || len(t.Levels) == 0 {
		t = DefaultTournament()
	}
	return &Engine{tournament: t}
}

// Tournament exposes the engine's tournament for snapshot building and
// persistence. Callers must hold the entry lock.
func (e *Engine) Tournament() *Tournament { return e.tournament }

// Running reports whether the clock is counting down.
func (e *Engine) Running() bool { return e.isRunning }

// CurrentIndex returns the index of the active segment.
func (e *Engine) CurrentIndex() int { return e.currentIndex }

// StartedAt returns the absolute start timestamp, nil when paused.
func (e *Engine) StartedAt() *time.Time { return e.startedAt }

// Elapsed returns the stored elapsed seconds (excluding any running delta).
func (e *Engine) Elapsed() int { return e.elapsed }

// Start begins the countdown. No-op if already running.
func (e *Engine) Start(now time.Time) bool {
	if e.isRunning {
		return false
	}
	e.isRunning = true
	e.startedAt = &now
	return true
}

// Pause freezes the countdown, folding the wall-clock delta into the stored
// elapsed seconds. No-op if already paused.
func (e *Engine) Pause(now time.Time) bool {
	if !e.isRunning {
		return false
	}
	e.elapsed = e.Timing(now).Elapsed
	e.isRunning = false
	e.startedAt = nil
	return true
}

// ResetLevel restarts the current segment from its full duration.
func (e *Engine) ResetLevel(now time.Time) {
	e.resetSegment(now)
}

// Advance moves one segment forward (+1) or back (-1). No-op at either
// boundary.
func (e *Engine) Advance(now time.Time, direction int) bool {
	next := e.currentIndex + direction
	if next < 0 || next >= len(e.tournament.Levels) {
		return false
	}
	e.currentIndex = next
	e.resetSegment(now)
	return true
}

// JumpTo moves directly to the given segment index.
func (e *Engine) JumpTo(now time.Time, index int) error {
	if index < 0 || index >= len(e.tournament.Levels) {
		return ErrIndexOutOfRange
	}
	e.currentIndex = index
	e.resetSegment(now)
	return nil
}

// ReplaceTournament swaps in a new tournament definition atomically. The
// schedule must validate; on success the current index is clamped to the new
// bounds, elapsed resets, and the running flag is preserved.
func (e *Engine) ReplaceTournament(now time.Time, t *Tournament) error {
	if err := ValidateSchedule(t.Levels); err != nil {
		return err
	}
	if t.DefaultLevelSeconds <= 0 {
		t.DefaultLevelSeconds = defaultLevelSeconds
	}
	// Status and ownership are not part of the update payload.
	t.Status = e.tournament.Status
	if t.Owner == "" {
		t.Owner = e.tournament.Owner
	}
	e.tournament = t
	if e.currentIndex > len(t.Levels)-1 {
		e.currentIndex = len(t.Levels) - 1
	}
	e.resetSegment(now)
	return nil
}

// AddTime extends (positive delta) or shrinks (negative delta) the remaining
// time by adjusting elapsed, clamped so elapsed stays within [0, total].
func (e *Engine) AddTime(now time.Time, deltaSeconds int) {
	t := e.Timing(now)
	elapsed := t.Elapsed - deltaSeconds
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > t.Total {
		elapsed = t.Total
	}
	e.elapsed = elapsed
	if e.isRunning {
		e.startedAt = &now
	}
}

// Timing recomputes total/elapsed/remaining for the current segment from the
// stored absolute timestamps.
func (e *Engine) Timing(now time.Time) Timing {
	total := e.tournament.SegmentSeconds(e.currentIndex)
	elapsed := e.elapsed
	if elapsed < 0 {
		elapsed = 0
	}
	if e.isRunning && e.startedAt != nil {
		delta := now.Sub(*e.startedAt)
		if delta > 0 {
			elapsed += int(delta / time.Second)
		}
	}
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Timing{Total: total, Elapsed: elapsed, Remaining: remaining}
}

// Tick advances the clock across a segment boundary when the countdown has
// reached zero. On the last segment it stops the clock instead; once stopped,
// further ticks are no-ops and no events repeat.
func (e *Engine) Tick(now time.Time) TickResult {
	if !e.isRunning {
		return TickResult{}
	}
	if e.Timing(now).Remaining > 0 {
		return TickResult{}
	}
	if e.currentIndex < len(e.tournament.Levels)-1 {
		e.currentIndex++
		e.resetSegment(now)
		return TickResult{Changed: true, Event: EventLevelAdvanced}
	}
	e.isRunning = false
	e.startedAt = nil
	e.elapsed = e.tournament.SegmentSeconds(e.currentIndex)
	return TickResult{Changed: true, Event: EventTournamentEnded}
}

// OneMinuteWarning reports whether the countdown just crossed into the final
// minute of the current segment. Edge-triggered: fires at most once per
// segment, and only while running. Pausing and resuming does not re-arm it;
// any segment change or schedule replacement does.
func (e *Engine) OneMinuteWarning(now time.Time) bool {
	if !e.isRunning || e.warned60 {
		return false
	}
	r := e.Timing(now).Remaining
	if r > 0 && r <= 60 {
		e.warned60 = true
		return true
	}
	return false
}

// Restore overwrites the clock fields from persisted state. Values are
// assumed normalized by the loader; the index is clamped here regardless.
func (e *Engine) Restore(running bool, currentIndex, elapsed int, startedAt *time.Time) {
	if currentIndex < 0 {
		currentIndex = 0
	}
	if max := len(e.tournament.Levels) - 1; currentIndex > max {
		currentIndex = max
	}
	if elapsed < 0 {
		elapsed = 0
	}
	e.isRunning = running
	e.currentIndex = currentIndex
	e.elapsed = elapsed
	e.startedAt = nil
	if running {
		e.startedAt = startedAt
	}
}

// Stop forces the clock into a paused state, folding in elapsed time first.
// Used when a tournament is finished.
func (e *Engine) Stop(now time.Time) {
	if e.isRunning {
		e.elapsed = e.Timing(now).Elapsed
	}
	e.isRunning = false
	e.startedAt = nil
}

func (e *Engine) resetSegment(now time.Time) {
	e.elapsed = 0
	e.warned60 = false
	e.startedAt = nil
	if e.isRunning {
		e.startedAt = &now
	}
}
