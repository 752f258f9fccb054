package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pokerclock/internal/auth"
	"pokerclock/internal/clock"
	"pokerclock/internal/player"
	"pokerclock/internal/tournament"
)

// PlayerRepository is the slice of the player store these handlers need.
// *player.Repository satisfies it.
type PlayerRepository interface {
	GetOrCreate(ctx context.Context, username string) (*player.Player, error)
	SetNickname(ctx context.Context, playerID int64, nickname string) (*player.Player, error)
	ActiveEntry(ctx context.Context, playerID int64) (*player.Entry, error)
	Register(ctx context.Context, playerID, tournamentID int64) (*player.Entry, bool, error)
	ListEntries(ctx context.Context, tournamentID int64) ([]player.Entry, error)
}

// PlayerHandlers serves the self-service player endpoints: profile,
// registration, and the public entry list. Any verified token works here;
// admin is not required.
type PlayerHandlers struct {
	players     PlayerRepository
	tournaments Repository
	verifier    auth.Verifier
}

func NewPlayerHandlers(players PlayerRepository, tournaments Repository, verifier auth.Verifier) *PlayerHandlers {
	return &PlayerHandlers{players: players, tournaments: tournaments, verifier: verifier}
}

// RegisterRoutes mounts the player endpoints.
func (h *PlayerHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/me", h.me)
	mux.HandleFunc("PATCH /api/me", h.updateMe)
	mux.HandleFunc("POST /api/me/register", h.register)
	mux.HandleFunc("GET /api/players", h.listPlayers)
}

// profileResponse is the wire shape of a player profile. Nickname falls back
// to the username so clients always have something to display.
type profileResponse struct {
	Username           string `json:"username"`
	Nickname           string `json:"nickname"`
	Registered         bool   `json:"registered"`
	ActiveTournamentID *int64 `json:"activeTournamentId"`
}

func (h *PlayerHandlers) profile(ctx context.Context, p *player.Player) profileResponse {
	resp := profileResponse{Username: p.Username, Nickname: p.Nickname}
	if resp.Nickname == "" {
		resp.Nickname = p.Username
	}
	entry, err := h.players.ActiveEntry(ctx, p.ID)
	if err == nil {
		resp.Registered = true
		id := entry.TournamentID
		resp.ActiveTournamentID = &id
	}
	return resp
}

func (h *PlayerHandlers) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.players.GetOrCreate(r.Context(), identity.Username)
	if err != nil {
		log.Error().Err(err).Str("username", identity.Username).Msg("failed to load player")
		writeError(w, http.StatusInternalServerError, "failed to load player")
		return
	}
	writeJSON(w, http.StatusOK, h.profile(r.Context(), p))
}

type updateMeRequest struct {
	Nickname string `json:"nickname"`
}

func (h *PlayerHandlers) updateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" || len(nickname) > 64 {
		writeError(w, http.StatusBadRequest, "nickname must be 1-64 characters")
		return
	}

	p, err := h.players.GetOrCreate(r.Context(), identity.Username)
	if err == nil {
		p, err = h.players.SetNickname(r.Context(), p.ID, nickname)
	}
	if err != nil {
		log.Error().Err(err).Str("username", identity.Username).Msg("failed to update nickname")
		writeError(w, http.StatusInternalServerError, "failed to update nickname")
		return
	}
	writeJSON(w, http.StatusOK, h.profile(r.Context(), p))
}

type registerRequest struct {
	TournamentID int64 `json:"tournamentId"`
}

type registerResponse struct {
	Registered bool            `json:"registered"`
	Player     profileResponse `json:"player"`
}

// register seats the caller in a tournament. One active seat at a time: a
// player already seated in a different non-finished tournament gets a 409
// naming the conflicting tournament.
func (h *PlayerHandlers) register(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TournamentID <= 0 {
		writeError(w, http.StatusBadRequest, "tournamentId must be a positive integer")
		return
	}

	row, err := h.tournaments.Get(r.Context(), req.TournamentID)
	if errors.Is(err, tournament.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", req.TournamentID).Msg("failed to get tournament")
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	if row.Status == clock.StatusFinished {
		writeError(w, http.StatusConflict, "tournament is finished")
		return
	}

	p, err := h.players.GetOrCreate(r.Context(), identity.Username)
	if err != nil {
		log.Error().Err(err).Str("username", identity.Username).Msg("failed to load player")
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	if existing, err := h.players.ActiveEntry(r.Context(), p.ID); err == nil && existing.TournamentID != req.TournamentID {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                "already registered in another tournament",
			"conflictTournamentId": existing.TournamentID,
		})
		return
	}

	_, created, err := h.players.Register(r.Context(), p.ID, req.TournamentID)
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", req.TournamentID).Msg("failed to register player")
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, registerResponse{Registered: true, Player: h.profile(r.Context(), p)})
}

// entryResponse is the public wire shape of a registration entry.
type entryResponse struct {
	Username string    `json:"username"`
	Nickname string    `json:"nickname"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

// listPlayers returns the entry list for a tournament. Public, no token.
func (h *PlayerHandlers) listPlayers(w http.ResponseWriter, r *http.Request) {
	tournamentID := int64(1)
	if raw := r.URL.Query().Get("tournament_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid tournament_id")
			return
		}
		tournamentID = id
	}

	entries, err := h.players.ListEntries(r.Context(), tournamentID)
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", tournamentID).Msg("failed to list entries")
		writeError(w, http.StatusInternalServerError, "failed to list players")
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		nickname := e.Nickname
		if nickname == "" {
			nickname = e.Username
		}
		out = append(out, entryResponse{
			Username: e.Username,
			Nickname: nickname,
			IsActive: e.IsActive,
			JoinedAt: e.JoinedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// requireUser accepts any verified identity, viewer or admin.
func (h *PlayerHandlers) requireUser(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, prefix) {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	identity, err := h.verifier.Verify(strings.TrimSpace(authz[len(prefix):]))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	return identity, true
}
