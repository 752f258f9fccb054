// Package api exposes the tournament management REST endpoints: listing and
// creation, detail with live snapshot, rename, and finish. All mutations
// require an admin bearer token; the live clock itself is driven over the
// WebSocket channel, not these endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pokerclock/internal/auth"
	"pokerclock/internal/clock"
	"pokerclock/internal/ledger"
	"pokerclock/internal/persist"
	"pokerclock/internal/registry"
	"pokerclock/internal/tournament"
)

// Repository is the slice of the tournament store these handlers need.
// *tournament.Repository satisfies it.
type Repository interface {
	List(ctx context.Context, status clock.Status) ([]tournament.Tournament, error)
	Create(ctx context.Context, name, owner string, stateJSON []byte) (*tournament.Tournament, error)
	Get(ctx context.Context, id int64) (*tournament.Tournament, error)
	Rename(ctx context.Context, id int64, name string) (*tournament.Tournament, error)
	Finish(ctx context.Context, id int64, stateJSON []byte) (*tournament.Tournament, error)
	LoadState(ctx context.Context, tournamentID int64) ([]byte, error)
}

type Handlers struct {
	repo     Repository
	registry *registry.Registry
	verifier auth.Verifier
	clock    clockwork.Clock
}

func NewHandlers(repo Repository, reg *registry.Registry, verifier auth.Verifier, clk clockwork.Clock) *Handlers {
	return &Handlers{repo: repo, registry: reg, verifier: verifier, clock: clk}
}

// RegisterRoutes mounts the REST endpoints.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tournaments", h.list)
	mux.HandleFunc("POST /api/tournaments", h.create)
	mux.HandleFunc("GET /api/tournaments/{id}", h.get)
	mux.HandleFunc("PATCH /api/tournaments/{id}", h.rename)
	mux.HandleFunc("POST /api/tournaments/{id}/finish", h.finish)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	status := clock.Status(r.URL.Query().Get("status"))
	switch status {
	case "", clock.StatusPending, clock.StatusRunning, clock.StatusFinished:
	default:
		status = ""
	}
	rows, err := h.repo.List(r.Context(), status)
	if err != nil {
		log.Error().Err(err).Msg("failed to list tournaments")
		writeError(w, http.StatusInternalServerError, "failed to list tournaments")
		return
	}
	if rows == nil {
		rows = []tournament.Tournament{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type createRequest struct {
	Name      string          `json:"name"`
	StateJSON json.RawMessage `json:"state_json"`
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = createRequest{}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name must be a non-empty string")
		return
	}

	row, err := h.repo.Create(r.Context(), name, identity.Username, req.StateJSON)
	if err != nil {
		log.Error().Err(err).Msg("failed to create tournament")
		writeError(w, http.StatusInternalServerError, "failed to create tournament")
		return
	}

	// Bring it live immediately so the first subscriber gets a snapshot
	// without a lazy load, and stamp name and ownership into the state.
	entry := h.registry.Install(row.ID, req.StateJSON)
	var state persist.State
	entry.With(func(eng *clock.Engine, led *ledger.Ledger) {
		t := eng.Tournament()
		t.Name = name
		t.Owner = identity.Username
		state = persist.Capture(eng, led)
	})
	h.registry.ScheduleSave(row.ID, state)

	writeJSON(w, http.StatusCreated, row)
}

type detailResponse struct {
	tournament.Tournament
	Snapshot *registry.Snapshot `json:"snapshot"`
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	row, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, tournament.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", id).Msg("failed to get tournament")
		writeError(w, http.StatusInternalServerError, "failed to get tournament")
		return
	}

	resp := detailResponse{Tournament: *row}
	if entry, ok := h.registry.Peek(id); ok {
		snap := entry.Snapshot(h.clock.Now())
		resp.Snapshot = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) rename(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name must be a non-empty string")
		return
	}

	row, err := h.repo.Rename(r.Context(), id, name)
	if errors.Is(err, tournament.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", id).Msg("failed to rename tournament")
		writeError(w, http.StatusInternalServerError, "failed to rename tournament")
		return
	}

	if entry, found := h.registry.Peek(id); found {
		var state persist.State
		entry.With(func(eng *clock.Engine, led *ledger.Ledger) {
			eng.Tournament().Name = name
			state = persist.Capture(eng, led)
		})
		h.registry.ScheduleSave(id, state)
	}
	writeJSON(w, http.StatusOK, row)
}

// finish stops the clock, marks the tournament finished, and evicts it from
// memory after a final flush. Further mutating commands are rejected.
func (h *Handlers) finish(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	row, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, tournament.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", id).Msg("failed to get tournament")
		writeError(w, http.StatusInternalServerError, "failed to get tournament")
		return
	}
	if row.Status == clock.StatusFinished {
		writeError(w, http.StatusConflict, "tournament is already finished")
		return
	}

	var blob []byte
	if entry, found := h.registry.Peek(id); found {
		var state persist.State
		entry.With(func(eng *clock.Engine, led *ledger.Ledger) {
			eng.Stop(h.clock.Now())
			eng.Tournament().Status = clock.StatusFinished
			state = persist.Capture(eng, led)
		})
		blob, err = state.Encode()
		if err != nil {
			log.Error().Err(err).Int64("tournament_id", id).Msg("failed to encode final state")
			writeError(w, http.StatusInternalServerError, "failed to finish tournament")
			return
		}
		// Drop any stale pending save before writing the final blob.
		h.registry.Remove(r.Context(), id)
	} else {
		blob, err = h.repo.LoadState(r.Context(), id)
		if err != nil {
			blob = []byte(`{}`)
		}
	}

	finished, err := h.repo.Finish(r.Context(), id, blob)
	if err != nil {
		log.Error().Err(err).Int64("tournament_id", id).Msg("failed to finish tournament")
		writeError(w, http.StatusInternalServerError, "failed to finish tournament")
		return
	}
	writeJSON(w, http.StatusOK, finished)
}

func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
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
	if !identity.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required")
		return auth.Identity{}, false
	}
	return identity, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tournament id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
