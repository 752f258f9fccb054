package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"pokerclock/internal/auth"
	"pokerclock/internal/clock"
	"pokerclock/internal/player"
)

// fakePlayerRepo is an in-memory PlayerRepository double.
type fakePlayerRepo struct {
	mu      sync.Mutex
	nextID  int64
	byName  map[string]*player.Player
	entries map[[2]int64]*player.Entry
}

func newFakePlayerRepo() *fakePlayerRepo {
	return &fakePlayerRepo{
		nextID:  1,
		byName:  make(map[string]*player.Player),
		entries: make(map[[2]int64]*player.Entry),
	}
}

func (f *fakePlayerRepo) GetOrCreate(_ context.Context, username string) (*player.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byName[username]; ok {
		copied := *p
		return &copied, nil
	}
	p := &player.Player{ID: f.nextID, Username: username, CreatedAt: time.Now()}
	f.nextID++
	f.byName[username] = p
	copied := *p
	return &copied, nil
}

func (f *fakePlayerRepo) SetNickname(_ context.Context, playerID int64, nickname string) (*player.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byName {
		if p.ID == playerID {
			p.Nickname = nickname
			copied := *p
			return &copied, nil
		}
	}
	return nil, player.ErrNotFound
}

func (f *fakePlayerRepo) ActiveEntry(_ context.Context, playerID int64) (*player.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.PlayerID == playerID && e.IsActive {
			copied := *e
			return &copied, nil
		}
	}
	return nil, player.ErrNotFound
}

func (f *fakePlayerRepo) Register(_ context.Context, playerID, tournamentID int64) (*player.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{playerID, tournamentID}
	if e, ok := f.entries[key]; ok {
		created := !e.IsActive
		e.IsActive = true
		copied := *e
		return &copied, created, nil
	}
	e := &player.Entry{PlayerID: playerID, TournamentID: tournamentID, IsActive: true, JoinedAt: time.Now()}
	f.entries[key] = e
	copied := *e
	return &copied, true, nil
}

func (f *fakePlayerRepo) ListEntries(_ context.Context, tournamentID int64) ([]player.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []player.Entry
	for _, e := range f.entries {
		if e.TournamentID == tournamentID {
			entry := *e
			if p := f.playerByID(e.PlayerID); p != nil {
				entry.Username = p.Username
				entry.Nickname = p.Nickname
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakePlayerRepo) playerByID(id int64) *player.Player {
	for _, p := range f.byName {
		if p.ID == id {
			return p
		}
	}
	return nil
}

type playerFixture struct {
	*apiFixture
	players *fakePlayerRepo
}

func newPlayerFixture(t *testing.T) *playerFixture {
	t.Helper()
	repo := newFakeRepo()
	players := newFakePlayerRepo()

	handlers := NewPlayerHandlers(players, repo, auth.NewJWTVerifier(testSecret))
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &playerFixture{
		apiFixture: &apiFixture{srv: srv, repo: repo},
		players:    players,
	}
}

func (f *playerFixture) seedTournament(t *testing.T, name string, status clock.Status) int64 {
	t.Helper()
	row, err := f.repo.Create(context.Background(), name, "alice", nil)
	if err != nil {
		t.Fatalf("seed tournament: %v", err)
	}
	if status != clock.StatusPending {
		f.repo.mu.Lock()
		f.repo.rows[row.ID].Status = status
		f.repo.mu.Unlock()
	}
	return row.ID
}

func TestMe_requiresToken(t *testing.T) {
	f := newPlayerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMe_createsProfileWithUsernameFallback(t *testing.T) {
	f := newPlayerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/me", viewerToken(t), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[profileResponse](t, resp)
	if got.Username != "bob" {
		t.Errorf("username = %q, want %q", got.Username, "bob")
	}
	if got.Nickname != "bob" {
		t.Errorf("nickname = %q, want fallback to username", got.Nickname)
	}
	if got.Registered {
		t.Errorf("fresh profile reports registered")
	}
	if got.ActiveTournamentID != nil {
		t.Errorf("activeTournamentId = %d, want null", *got.ActiveTournamentID)
	}
}

func TestUpdateMe_setsNickname(t *testing.T) {
	f := newPlayerFixture(t)

	resp := f.request(t, http.MethodPatch, "/api/me", viewerToken(t), map[string]string{"nickname": "  The Shark  "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[profileResponse](t, resp)
	if got.Nickname != "The Shark" {
		t.Errorf("nickname = %q, want trimmed %q", got.Nickname, "The Shark")
	}
}

func TestUpdateMe_rejectsBadNickname(t *testing.T) {
	f := newPlayerFixture(t)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	for _, nickname := range []string{"", "   ", string(long)} {
		resp := f.request(t, http.MethodPatch, "/api/me", viewerToken(t), map[string]string{"nickname": nickname})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("nickname %q: status = %d, want 400", nickname, resp.StatusCode)
		}
	}
}

func TestRegister_firstTimeReturns201(t *testing.T) {
	f := newPlayerFixture(t)
	id := f.seedTournament(t, "Friday Game", clock.StatusPending)

	resp := f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": id})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	got := decodeBody[registerResponse](t, resp)
	if !got.Registered {
		t.Errorf("registered = false, want true")
	}
	if got.Player.ActiveTournamentID == nil || *got.Player.ActiveTournamentID != id {
		t.Errorf("activeTournamentId = %v, want %d", got.Player.ActiveTournamentID, id)
	}
}

func TestRegister_repeatReturns200(t *testing.T) {
	f := newPlayerFixture(t)
	id := f.seedTournament(t, "Friday Game", clock.StatusPending)

	f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": id})
	resp := f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": id})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat register: status = %d, want 200", resp.StatusCode)
	}
}

func TestRegister_conflictNamesOtherTournament(t *testing.T) {
	f := newPlayerFixture(t)
	first := f.seedTournament(t, "Friday Game", clock.StatusPending)
	second := f.seedTournament(t, "Saturday Game", clock.StatusPending)

	f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": first})
	resp := f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": second})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	got := decodeBody[map[string]any](t, resp)
	if conflict, ok := got["conflictTournamentId"].(float64); !ok || int64(conflict) != first {
		t.Errorf("conflictTournamentId = %v, want %d", got["conflictTournamentId"], first)
	}
}

func TestRegister_rejectsUnknownAndFinished(t *testing.T) {
	f := newPlayerFixture(t)
	finished := f.seedTournament(t, "Done", clock.StatusFinished)

	resp := f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": 999})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown tournament: status = %d, want 404", resp.StatusCode)
	}

	resp = f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": finished})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("finished tournament: status = %d, want 409", resp.StatusCode)
	}

	resp = f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": 0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero tournament id: status = %d, want 400", resp.StatusCode)
	}
}

func TestRegister_reactivatingBustedEntryReturns201(t *testing.T) {
	f := newPlayerFixture(t)
	id := f.seedTournament(t, "Friday Game", clock.StatusPending)

	f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": id})

	// Bust the player out, then register again.
	p, _ := f.players.GetOrCreate(context.Background(), "bob")
	f.players.mu.Lock()
	f.players.entries[[2]int64{p.ID, id}].IsActive = false
	f.players.mu.Unlock()

	resp := f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": id})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("reactivation: status = %d, want 201", resp.StatusCode)
	}
}

func TestListPlayers_publicWithSnakeCaseFields(t *testing.T) {
	f := newPlayerFixture(t)
	id := f.seedTournament(t, "Friday Game", clock.StatusPending)

	f.request(t, http.MethodPatch, "/api/me", viewerToken(t), map[string]string{"nickname": "The Shark"})
	f.request(t, http.MethodPost, "/api/me/register", viewerToken(t), map[string]int64{"tournamentId": id})

	resp := f.request(t, http.MethodGet, "/api/players?tournament_id="+itoa(id), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[[]map[string]any](t, resp)
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0]["username"] != "bob" || got[0]["nickname"] != "The Shark" {
		t.Errorf("entry = %v, want username bob, nickname The Shark", got[0])
	}
	if active, ok := got[0]["is_active"].(bool); !ok || !active {
		t.Errorf("is_active = %v, want true", got[0]["is_active"])
	}
	if _, ok := got[0]["joined_at"]; !ok {
		t.Errorf("entry missing joined_at")
	}
}

func TestListPlayers_rejectsBadTournamentID(t *testing.T) {
	f := newPlayerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/players?tournament_id=bogus", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
