package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pokerclock/internal/auth"
	"pokerclock/internal/command"
	"pokerclock/internal/registry"
)

// Handler terminates WebSocket subscriptions: it verifies the bearer
// credential once at connect time, pins the connection to its tournament, and
// routes inbound commands through the command router.
type Handler struct {
	verifier auth.Verifier
	registry *registry.Registry
	router   *command.Router
	manager  *ConnectionManager
	clock    clockwork.Clock
}

func NewHandler(verifier auth.Verifier, reg *registry.Registry, router *command.Router, manager *ConnectionManager, clk clockwork.Clock) *Handler {
	h := &Handler{
		verifier: verifier,
		registry: reg,
		router:   router,
		manager:  manager,
		clock:    clk,
	}
	manager.SetMessageHandler(h.handleMessage)
	return h
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/clock/{id}", h.handleConnect)
}

// handleConnect upgrades the connection, verifies the credential, and sends
// the initial full snapshot. An invalid credential or unknown tournament
// closes the socket with a distinguishing status before any command is read.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid tournament id", http.StatusBadRequest)
		return
	}

	ws, err := h.manager.Upgrade(w, r)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		closeWith(ws, CloseInvalidToken, "invalid token")
		return
	}

	entry, err := h.registry.Get(r.Context(), tournamentID)
	if err != nil {
		closeWith(ws, CloseUnknownTournament, "unknown tournament")
		return
	}

	initial := encodeSnapshot(entry.Snapshot(h.clock.Now()))
	h.manager.Adopt(ws, identity, tournamentID, initial)
}

// handleMessage processes one inbound frame from a subscriber. Unparseable
// frames are dropped; command errors go back to the issuer only.
func (h *Handler) handleMessage(conn *Connection, payload []byte) {
	var cmd command.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Debug().
			Str("connection_id", conn.ID).
			Msg("dropping unparseable client frame")
		return
	}
	if cmd.Type == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := h.router.Apply(ctx, conn.TournamentID, conn.Identity, cmd)
	if err != nil {
		if command.IsValidation(err) || command.IsAuthorization(err) {
			h.manager.SendTo(conn, encodeError(err.Error()))
			return
		}
		log.Error().
			Err(err).
			Str("connection_id", conn.ID).
			Str("command", cmd.Type).
			Int64("tournament_id", conn.TournamentID).
			Msg("command failed")
		h.manager.SendTo(conn, encodeError("internal error"))
		return
	}

	if res.Snapshot == nil {
		return
	}
	if !res.Broadcast {
		h.manager.SendTo(conn, encodeSnapshot(*res.Snapshot))
		return
	}
	h.manager.Broadcast(conn.TournamentID, encodeSnapshot(*res.Snapshot))
	if res.Sound != "" {
		h.manager.Broadcast(conn.TournamentID, encodePlaySound(res.Sound))
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	const prefix = "Bearer "
	if authz := r.Header.Get("Authorization"); len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
		return authz[len(prefix):]
	}
	return ""
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	ws.Close()
}
