package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"pokerclock/internal/clock"
	"pokerclock/internal/ledger"
	"pokerclock/internal/persist"
)

func newTestRegistry(store persist.Store) (*Registry, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClock()
	saver := persist.NewSaver(store, fc, 250*time.Millisecond)
	return New(store, saver, fc), fc
}

func seedState(t *testing.T, store persist.Store, id int64, s persist.State) {
	t.Helper()
	blob, err := s.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.SaveState(context.Background(), id, blob, s.Running); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestGet_unknownTournament(t *testing.T) {
	r, _ := newTestRegistry(persist.NewMemoryStore())
	if _, err := r.Get(context.Background(), 404); !errors.Is(err, ErrUnknownTournament) {
		t.Errorf("Get = %v, want ErrUnknownTournament", err)
	}
}

func TestGet_loadsPersistedState(t *testing.T) {
	store := persist.NewMemoryStore()
	seedState(t, store, 1, persist.State{
		Tournament: &clock.Tournament{
			Name:                "Loaded",
			DefaultLevelSeconds: 900,
			Levels:              []clock.Segment{{Type: clock.SegmentLevel, BigBlind: 50}},
		},
		Players:      &ledger.Ledger{Registered: 9},
		CurrentIndex: 0,
	})

	r, _ := newTestRegistry(store)
	e, err := r.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	e.With(func(eng *clock.Engine, led *ledger.Ledger) {
		if eng.Tournament().Name != "Loaded" {
			t.Errorf("tournament name = %q, want Loaded", eng.Tournament().Name)
		}
		if led.Registered != 9 {
			t.Errorf("registered = %d, want 9", led.Registered)
		}
	})
}

func TestGet_sameEntryOnRepeat(t *testing.T) {
	store := persist.NewMemoryStore()
	seedState(t, store, 1, persist.State{})

	r, _ := newTestRegistry(store)
	a, err := r.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := r.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Error("repeated Get returned different entries")
	}
}

type failingStore struct{}

func (failingStore) LoadState(context.Context, int64) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) SaveState(context.Context, int64, []byte, bool) error {
	return errors.New("connection refused")
}

func TestGet_storeErrorServesDefaults(t *testing.T) {
	r, _ := newTestRegistry(failingStore{})
	e, err := r.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get with a broken store = %v, want a default entry", err)
	}
	e.With(func(eng *clock.Engine, _ *ledger.Ledger) {
		if len(eng.Tournament().Levels) == 0 {
			t.Error("default entry should carry a schedule")
		}
	})
}

func TestInstallAndPeek(t *testing.T) {
	r, _ := newTestRegistry(persist.NewMemoryStore())
	if _, ok := r.Peek(5); ok {
		t.Fatal("Peek should miss before Install")
	}
	r.Install(5, nil)
	if _, ok := r.Peek(5); !ok {
		t.Error("Peek should hit after Install")
	}
	if got := r.IDs(); len(got) != 1 || got[0] != 5 {
		t.Errorf("IDs = %v, want [5]", got)
	}
}

func TestRemove_flushesPendingSave(t *testing.T) {
	store := persist.NewMemoryStore()
	r, _ := newTestRegistry(store)
	r.Install(3, nil)

	r.ScheduleSave(3, persist.State{CurrentIndex: 2})
	r.Remove(context.Background(), 3)

	if _, ok := r.Peek(3); ok {
		t.Error("entry still loaded after Remove")
	}
	// The pending save must have been written despite the debounce window.
	blob, err := store.LoadState(context.Background(), 3)
	if err != nil {
		t.Fatalf("load after Remove: %v", err)
	}
	e, _ := persist.Decode(blob, time.Now())
	if e.CurrentIndex() != 2 {
		t.Errorf("flushed index = %d, want 2", e.CurrentIndex())
	}
}

func TestShutdown_flushesAll(t *testing.T) {
	store := persist.NewMemoryStore()
	r, _ := newTestRegistry(store)
	r.ScheduleSave(1, persist.State{CurrentIndex: 1})
	r.ScheduleSave(2, persist.State{CurrentIndex: 2})

	r.Shutdown(context.Background())

	for _, id := range []int64{1, 2} {
		if _, err := store.LoadState(context.Background(), id); err != nil {
			t.Errorf("tournament %d not flushed: %v", id, err)
		}
	}
}

func TestSnapshot_isolatedFromLaterMutations(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(persist.NewMemoryStore())
	e := r.Install(9, nil)

	snap := e.Snapshot(now)
	name := snap.Tournament.Name

	// A rename after the snapshot is taken must not show up in it: the
	// snapshot is encoded and broadcast after the entry lock is released.
	e.With(func(eng *clock.Engine, _ *ledger.Ledger) {
		eng.Tournament().Name = "Renamed"
	})
	if snap.Tournament.Name != name {
		t.Errorf("snapshot name = %q, want the value at snapshot time %q", snap.Tournament.Name, name)
	}
}

func TestSnapshot_projection(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(persist.NewMemoryStore())
	e := r.Install(9, nil)

	e.With(func(eng *clock.Engine, led *ledger.Ledger) {
		eng.Start(now)
		reg := 10
		led.SetCounts(ledger.CountsPatch{Registered: &reg})
	})

	snap := e.Snapshot(now.Add(30 * time.Second))
	if !snap.Running {
		t.Error("snapshot should report running")
	}
	if snap.Timing.Elapsed != 30 {
		t.Errorf("elapsed = %d, want 30", snap.Timing.Elapsed)
	}
	if snap.ServerNowMs != now.Add(30*time.Second).UnixMilli() {
		t.Errorf("serverNowMs = %d, want the observation instant", snap.ServerNowMs)
	}
	if snap.Players.Active != 10 {
		t.Errorf("active = %d, want 10", snap.Players.Active)
	}
	if snap.Players.PrizePool != 10*snap.Tournament.BuyIn {
		t.Errorf("prizePool = %d, want %d", snap.Players.PrizePool, 10*snap.Tournament.BuyIn)
	}
}
