package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pokerclock/internal/auth"
)

// Non-standard close codes sent before the command layer is reached.
const (
	CloseInvalidToken      = 4001
	CloseUnknownTournament = 4004
)

// ConnectionManager owns the WebSocket subscriber pools, one per tournament.
// A connection subscribes to exactly one tournament for its lifetime;
// broadcasts for tournament A never reach tournament B's subscribers.
type ConnectionManager struct {
	pools map[int64]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// onMessage handles inbound client frames; set once before Start.
	onMessage func(conn *Connection, payload []byte)
}

// Connection is one subscriber, pinned to a tournament and carrying the
// identity verified at connect time.
type Connection struct {
	ID           string
	Identity     auth.Identity
	TournamentID int64
	Conn         *websocket.Conn
	Send         chan []byte
	Manager      *ConnectionManager

	ConnectedAt time.Time

	// closeMu guards closed and the close of Send; senders must go through
	// offer so nothing writes to a closed channel.
	closeMu sync.Mutex
	closed  bool
}

type offerResult int

const (
	offerQueued offerResult = iota
	offerFull
	offerClosed
)

// offer queues a payload unless the connection has been torn down.
func (c *Connection) offer(payload []byte) offerResult {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return offerClosed
	}
	select {
	case c.Send <- payload:
		return offerQueued
	default:
		return offerFull
	}
}

// shutdown marks the connection closed and closes Send exactly once.
func (c *Connection) shutdown() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	tournamentID int64
	payload      []byte
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		pools: make(map[int64]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetMessageHandler installs the inbound frame handler. Must be called before
// any connection is accepted.
func (cm *ConnectionManager) SetMessageHandler(fn func(conn *Connection, payload []byte)) {
	cm.onMessage = fn
}

// Start processes queued broadcasts until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case msg := <-cm.broadcastCh:
			cm.handleBroadcast(msg)
		}
	}
}

// Upgrade turns an HTTP request into a managed subscriber connection.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return cm.upgrader.Upgrade(w, r, nil)
}

// Adopt registers an upgraded connection and starts its pumps. The initial
// payload, if any, is queued before anything else.
func (cm *ConnectionManager) Adopt(ws *websocket.Conn, identity auth.Identity, tournamentID int64, initial []byte) *Connection {
	conn := &Connection{
		ID:           uuid.New().String(),
		Identity:     identity,
		TournamentID: tournamentID,
		Conn:         ws,
		Send:         make(chan []byte, 256),
		Manager:      cm,
		ConnectedAt:  time.Now(),
	}
	if initial != nil {
		conn.Send <- initial
	}
	cm.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("username", identity.Username).
		Str("role", string(identity.Role)).
		Int64("tournament_id", tournamentID).
		Msg("WebSocket connection established")
	return conn
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.pools[conn.TournamentID] == nil {
		cm.pools[conn.TournamentID] = make(map[*Connection]bool)
	}
	cm.pools[conn.TournamentID][conn] = true
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	pool, ok := cm.pools[conn.TournamentID]
	if !ok {
		return
	}
	if _, ok := pool[conn]; !ok {
		return
	}
	delete(pool, conn)
	conn.shutdown()
	if len(pool) == 0 {
		delete(cm.pools, conn.TournamentID)
	}
	log.Info().
		Str("connection_id", conn.ID).
		Int64("tournament_id", conn.TournamentID).
		Msg("connection unregistered")
}

// Broadcast queues a payload for every subscriber of the tournament. Drops
// the message if the queue is full; broadcasts are advisory or superseded by
// the next one.
func (cm *ConnectionManager) Broadcast(tournamentID int64, payload []byte) {
	if payload == nil {
		return
	}
	select {
	case cm.broadcastCh <- broadcastMessage{tournamentID: tournamentID, payload: payload}:
	default:
		log.Warn().Int64("tournament_id", tournamentID).Msg("broadcast channel full, dropping message")
	}
}

// SendTo queues a payload for a single connection only.
func (cm *ConnectionManager) SendTo(conn *Connection, payload []byte) {
	if payload == nil {
		return
	}
	if conn.offer(payload) == offerFull {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) handleBroadcast(msg broadcastMessage) {
	cm.mu.RLock()
	pool, ok := cm.pools[msg.tournamentID]
	if !ok {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(pool))
	for conn := range pool {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if conn.offer(msg.payload) == offerFull {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// SubscriberCount returns the number of live subscribers for a tournament.
func (cm *ConnectionManager) SubscriberCount(tournamentID int64) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.pools[tournamentID])
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for id, pool := range cm.pools {
		for conn := range pool {
			conn.shutdown()
			conn.Conn.Close()
		}
		delete(cm.pools, id)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close")
			}
			break
		}
		if c.Manager.onMessage != nil {
			c.Manager.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
