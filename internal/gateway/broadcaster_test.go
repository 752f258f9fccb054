package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"pokerclock/internal/clock"
	"pokerclock/internal/events"
	"pokerclock/internal/ledger"
	"pokerclock/internal/persist"
	"pokerclock/internal/registry"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type tickFixture struct {
	broadcaster *Broadcaster
	manager     *ConnectionManager
	entry       *registry.Entry
	publisher   *capturePublisher
	fc          *clockwork.FakeClock
	store       *persist.MemoryStore
}

func secp(n int) *int { return &n }

func newTickFixture(t *testing.T, levelSeconds int) *tickFixture {
	t.Helper()
	store := persist.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	saver := persist.NewSaver(store, fc, 250*time.Millisecond)
	reg := registry.New(store, saver, fc)

	tr := &clock.Tournament{
		Name:                "Tick",
		DefaultLevelSeconds: 900,
		BuyIn:               100,
		Levels: []clock.Segment{
			{Type: clock.SegmentLevel, Title: "Level 1", SmallBlind: 25, BigBlind: 50, Seconds: secp(levelSeconds)},
			{Type: clock.SegmentLevel, Title: "Level 2", SmallBlind: 50, BigBlind: 100, Seconds: secp(levelSeconds)},
		},
	}
	blob, err := (persist.State{Tournament: tr}).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	entry := reg.Install(1, blob)

	manager := NewConnectionManager(DefaultConnectionConfig())
	publisher := &capturePublisher{}
	return &tickFixture{
		broadcaster: NewBroadcaster(reg, manager, publisher, fc, time.Second),
		manager:     manager,
		entry:       entry,
		publisher:   publisher,
		fc:          fc,
		store:       store,
	}
}

// drain empties the queued broadcasts without running the manager loop.
func (f *tickFixture) drain() [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-f.manager.broadcastCh:
			out = append(out, msg.payload)
		default:
			return out
		}
	}
}

func messageTypes(t *testing.T, payloads [][]byte) []string {
	t.Helper()
	var kinds []string
	for _, p := range payloads {
		var m struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(p, &m); err != nil {
			t.Fatalf("unmarshal %q: %v", p, err)
		}
		kinds = append(kinds, m.Type)
	}
	return kinds
}

func (f *tickFixture) start(t *testing.T) {
	t.Helper()
	f.entry.With(func(eng *clock.Engine, _ *ledger.Ledger) {
		eng.Start(f.fc.Now())
	})
}

func TestCycle_idleTournamentIsSilent(t *testing.T) {
	f := newTickFixture(t, 300)
	f.broadcaster.Cycle(context.Background())

	if msgs := f.drain(); len(msgs) != 0 {
		t.Errorf("broadcasts = %s, want none for a paused clock", messageTypes(t, msgs))
	}
	if evs := f.publisher.all(); len(evs) != 0 {
		t.Errorf("events = %v, want none", evs)
	}
}

func TestCycle_runningEmitsTick(t *testing.T) {
	f := newTickFixture(t, 300)
	f.start(t)
	f.fc.Advance(time.Second)
	f.broadcaster.Cycle(context.Background())

	msgs := f.drain()
	kinds := messageTypes(t, msgs)
	if len(kinds) != 1 || kinds[0] != "tick" {
		t.Fatalf("broadcasts = %v, want [tick]", kinds)
	}

	var m struct {
		Timing clock.Timing `json:"timing"`
	}
	if err := json.Unmarshal(msgs[0], &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Timing.Remaining != 299 {
		t.Errorf("remaining = %d, want 299", m.Timing.Remaining)
	}
}

func TestCycle_levelBoundary(t *testing.T) {
	f := newTickFixture(t, 5)
	f.start(t)
	f.fc.Advance(5 * time.Second)
	f.broadcaster.Cycle(context.Background())

	kinds := messageTypes(t, f.drain())
	want := []string{"snapshot", "system_event", "play_sound"}
	if len(kinds) != len(want) {
		t.Fatalf("broadcasts = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("broadcast[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}

	evs := f.publisher.all()
	if len(evs) != 1 || evs[0].Type != string(clock.EventLevelAdvanced) {
		t.Errorf("events = %v, want one LEVEL_ADVANCED", evs)
	}

	// The next cycle inside the new level goes back to plain ticks.
	f.fc.Advance(time.Second)
	f.broadcaster.Cycle(context.Background())
	kinds = messageTypes(t, f.drain())
	if len(kinds) != 1 || kinds[0] != "tick" {
		t.Errorf("broadcasts = %v, want [tick]", kinds)
	}
}

func TestCycle_levelBoundaryPersists(t *testing.T) {
	f := newTickFixture(t, 5)
	f.start(t)
	f.fc.Advance(5 * time.Second)
	f.broadcaster.Cycle(context.Background())

	f.fc.Advance(250 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for {
		blob, err := f.store.LoadState(context.Background(), 1)
		if err == nil {
			var s persist.State
			if err := json.Unmarshal(blob, &s); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if s.CurrentIndex != 1 {
				t.Errorf("persisted index = %d, want 1", s.CurrentIndex)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced save never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCycle_tournamentEnd(t *testing.T) {
	f := newTickFixture(t, 5)
	f.entry.With(func(eng *clock.Engine, _ *ledger.Ledger) {
		eng.Start(f.fc.Now())
		if err := eng.JumpTo(f.fc.Now(), 1); err != nil {
			t.Fatal(err)
		}
	})
	f.fc.Advance(5 * time.Second)
	f.broadcaster.Cycle(context.Background())

	evs := f.publisher.all()
	if len(evs) != 1 || evs[0].Type != string(clock.EventTournamentEnded) {
		t.Fatalf("events = %v, want one TOURNAMENT_ENDED", evs)
	}
	f.drain()

	// The clock is stopped now; further cycles must stay silent.
	f.fc.Advance(time.Second)
	f.broadcaster.Cycle(context.Background())
	if msgs := f.drain(); len(msgs) != 0 {
		t.Errorf("broadcasts after end = %v, want none", messageTypes(t, msgs))
	}
	if evs := f.publisher.all(); len(evs) != 1 {
		t.Errorf("events after end = %v, want no repeats", evs)
	}
}

func TestCycle_oneMinuteWarningFiresOnce(t *testing.T) {
	f := newTickFixture(t, 300)
	f.start(t)
	f.fc.Advance(245 * time.Second)
	f.broadcaster.Cycle(context.Background())

	kinds := messageTypes(t, f.drain())
	if len(kinds) != 2 || kinds[0] != "tick" || kinds[1] != "play_sound" {
		t.Fatalf("broadcasts = %v, want [tick play_sound]", kinds)
	}
	evs := f.publisher.all()
	if len(evs) != 1 || evs[0].Type != SoundOneMinuteLeft {
		t.Errorf("events = %v, want one one_minute_left", evs)
	}

	f.fc.Advance(time.Second)
	f.broadcaster.Cycle(context.Background())
	kinds = messageTypes(t, f.drain())
	if len(kinds) != 1 || kinds[0] != "tick" {
		t.Errorf("broadcasts = %v, want [tick] with no repeated warning", kinds)
	}
}

func TestMessages_snapshotShape(t *testing.T) {
	snap := registry.Snapshot{
		Running:      true,
		CurrentIndex: 2,
		Timing:       clock.Timing{Total: 300, Elapsed: 40, Remaining: 260},
		ServerNowMs:  1750000000000,
	}
	payload := encodeSnapshot(snap)

	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "snapshot" {
		t.Errorf("type = %v, want snapshot", m["type"])
	}
	// Snapshot fields must sit flat next to the tag, not nested.
	if m["currentIndex"] != float64(2) {
		t.Errorf("currentIndex = %v, want 2 at the top level", m["currentIndex"])
	}
	if m["running"] != true {
		t.Errorf("running = %v, want true", m["running"])
	}
}
