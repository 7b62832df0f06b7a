// Gameroom room engine
//
// Each room is one authoritative game session. All state mutation for a room
// happens on a single goroutine (the room loop), which drains registration,
// unregistration, inbound message, and simulation tick events in arrival
// order. Games never touch room state from any other goroutine, so no locks
// are needed on the replicated state itself.
//
// Sync contract: a client receives one full "snapshot" frame on join, then a
// discrete "patch" frame (set/add/remove with a slash-separated path) for
// every subsequent mutation of the replicated state.

package main

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// JoinOptions carries the join payload supplied by the external auth/profile
// collaborator. All fields are optional.
type JoinOptions struct {
	UserID string
	Name   string
	Mode   string
}

type Client struct {
	conn      *websocket.Conn
	send      chan any
	sessionID string
	opts      JoinOptions
}

type clientEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type inboundMessage struct {
	client  *Client
	kind    string
	payload json.RawMessage
}

type unregistration struct {
	client    *Client
	consented bool
}

type snapshotMessage struct {
	Type      string `json:"type"` // "snapshot"
	Room      string `json:"room"`
	Game      string `json:"game"`
	SessionID string `json:"sessionId"`
	State     any    `json:"state"`
}

type statePatch struct {
	Type  string `json:"type"` // "patch"
	Op    string `json:"op"`   // "set", "add" or "remove"
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Game is one authoritative game type plugged into a room. All methods run
// on the room loop.
type Game interface {
	// MaxClients is the room capacity; joins beyond it are rejected before
	// OnJoin runs.
	MaxClients() int

	OnJoin(r *Room, c *Client)
	OnLeave(r *Room, c *Client, consented bool)
	OnMessage(r *Room, c *Client, kind string, payload json.RawMessage)

	// Snapshot returns the full replicated state sent to a joining client.
	Snapshot() any
}

// Simulated is implemented by games that advance on a fixed-interval tick.
// The tick shares the room loop with message handling, so a tick is never
// concurrent with a message handler.
type Simulated interface {
	Game
	TickInterval(cfg *Config) time.Duration
	OnTick(r *Room)
}

type Room struct {
	id       string
	gameType string
	game     Game
	cfg      *Config

	clients map[string]*Client // sessionID -> client

	register chan *Client
	unreg    chan unregistration
	inbound  chan inboundMessage
	done     chan struct{}

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newRoom(cfg *Config, gameType, roomID string, game Game) *Room {
	now := time.Now()
	return &Room{
		id:         roomID,
		gameType:   gameType,
		game:       game,
		cfg:        cfg,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unreg:      make(chan unregistration),
		inbound:    make(chan inboundMessage),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (r *Room) run() {
	var tick <-chan time.Time

	if sim, ok := r.game.(Simulated); ok {
		ticker := time.NewTicker(sim.TickInterval(r.cfg))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case c := <-r.register:
			r.handleRegister(c)
		case u := <-r.unreg:
			r.handleUnregister(u.client, u.consented)
		case m := <-r.inbound:
			r.handleInbound(m)
		case <-tick:
			r.game.(Simulated).OnTick(r)
		case <-r.done:
			r.shutdown()
			return
		}
	}
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) handleRegister(c *Client) {
	r.touch()

	if len(r.clients) >= r.game.MaxClients() {
		c.send <- errorMessage{
			Type:    "error",
			Code:    "room_full",
			Message: "This room is at capacity.",
		}
		// Closing only the send channel lets writePump flush the error
		// frame before its deferred conn close runs.
		close(c.send)
		return
	}

	r.clients[c.sessionID] = c

	c.send <- snapshotMessage{
		Type:      "snapshot",
		Room:      r.id,
		Game:      r.gameType,
		SessionID: c.sessionID,
		State:     r.game.Snapshot(),
	}

	r.game.OnJoin(r, c)

	logf(r.cfg, "ROOMS: Session %s joined %s/%s", c.sessionID, r.gameType, r.id)
}

func (r *Room) handleUnregister(c *Client, consented bool) {
	r.touch()

	if _, ok := r.clients[c.sessionID]; !ok {
		return
	}
	delete(r.clients, c.sessionID)
	close(c.send)

	r.game.OnLeave(r, c, consented)

	logf(r.cfg, "ROOMS: Session %s left %s/%s (consented: %t)", c.sessionID, r.gameType, r.id, consented)
}

func (r *Room) handleInbound(m inboundMessage) {
	r.touch()

	// Messages from sessions that are not (or no longer) participants are
	// dropped without error; this covers the message-after-leave race.
	if _, ok := r.clients[m.client.sessionID]; !ok {
		return
	}

	r.game.OnMessage(r, m.client, m.kind, m.payload)
}

// sendTo queues a frame for one client. A full send buffer drops the client
// through the normal leave path, so the game's player mapping stays in step
// with the client mapping.
func (r *Room) sendTo(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		if _, ok := r.clients[c.sessionID]; !ok {
			return
		}
		logf(r.cfg, "ROOMS: Dropping slow session %s from %s/%s", c.sessionID, r.gameType, r.id)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		r.handleUnregister(c, false)
	}
}

func (r *Room) broadcast(msg any) {
	for _, c := range r.clients {
		r.sendTo(c, msg)
	}
}

func (r *Room) patchSet(path string, value any) {
	r.broadcast(statePatch{Type: "patch", Op: "set", Path: path, Value: value})
}

func (r *Room) patchAdd(path string, value any) {
	r.broadcast(statePatch{Type: "patch", Op: "add", Path: path, Value: value})
}

func (r *Room) patchRemove(path string) {
	r.broadcast(statePatch{Type: "patch", Op: "remove", Path: path})
}

func (r *Room) clientBySession(sessionID string) *Client {
	return r.clients[sessionID]
}

// clientsByUser resolves every connected session carrying the given external
// user id, in no particular order. Linear scan; rooms are small.
func (r *Room) clientsByUser(userID string) []*Client {
	var out []*Client
	for _, c := range r.clients {
		if c.opts.UserID != "" && c.opts.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// closeAll signals the room loop to stop; the loop performs the client
// teardown itself so the clients map stays single-owner.
func (r *Room) closeAll() {
	close(r.done)
}

// shutdown disconnects every client. Closing the send channels unblocks
// their write pumps. Runs on the room loop only.
func (r *Room) shutdown() {
	for _, c := range r.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
	r.clients = make(map[string]*Client)
}

// RoomManager holds the rooms of one game type, keyed by room ID.
type RoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	gameType    string
	newGame     func(cfg *Config) Game
	cfg         *Config
	idleTimeout time.Duration
}

func newRoomManager(cfg *Config, gameType string, newGame func(cfg *Config) Game) *RoomManager {
	rm := &RoomManager{
		rooms:       make(map[string]*Room),
		gameType:    gameType,
		newGame:     newGame,
		cfg:         cfg,
		idleTimeout: cfg.sessionTimeout,
	}
	if rm.idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

// getRoom returns the room for roomID, creating it when create is set.
// The second return value reports whether a room was found or created.
func (rm *RoomManager) getRoom(roomID string, create bool) (*Room, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[roomID]; ok {
		return room, true
	}
	if !create {
		return nil, false
	}

	room := newRoom(rm.cfg, rm.gameType, roomID, rm.newGame(rm.cfg))
	rm.rooms[roomID] = room
	go room.run()

	logf(rm.cfg, "ROOMS: Created room %s/%s", rm.gameType, roomID)

	return room, true
}

// newRoomID generates a crypto-random room ID and ensures it doesn't collide
// with a live room.
func (rm *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rm.mu.Lock()
		_, exists := rm.rooms[id]
		rm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, room := range rm.rooms {
			room.mu.RLock()
			last := room.lastActive
			room.mu.RUnlock()

			if last.Before(cutoff) {
				delete(rm.rooms, id)
				room.closeAll()
			}
		}
		rm.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWSForManager upgrades a connection and attaches it to the room named
// by :roomid. Rooms are created on demand unless the client asks to join an
// existing room only (?create=false), in which case an unknown ID is a 404.
func serveWSForManager(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		query := req.URL.Query()
		create := query.Get("create") != "false"

		room, ok := rm.getRoom(roomID, create)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		opts := JoinOptions{
			UserID: query.Get("uid"),
			Name:   query.Get("name"),
			Mode:   query.Get("mode"),
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:      conn,
			send:      make(chan any, 16),
			sessionID: uuid.NewString(),
			opts:      opts,
		}

		select {
		case room.register <- client:
		case <-room.done:
			// Room was reaped between lookup and registration.
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(room)
	}
}

func (c *Client) readPump(r *Room) {
	consented := false

	defer func() {
		select {
		case r.unreg <- unregistration{client: c, consented: consented}:
		case <-r.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var env clientEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				consented = true
			}
			return
		}

		if env.Type == "" {
			continue
		}

		select {
		case r.inbound <- inboundMessage{client: c, kind: env.Type, payload: env.Data}:
		case <-r.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewRoom handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "ROOMS: Redirecting to new room %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerGame sets up routes so that:
//   - $path          → redirects to a new random room (8-char ID)
//   - $path/:roomid/ws → WebSocket for that room
//   - $path/:roomid/qr → PNG QR code for that room URL
func registerGame(cfg *Config, path string, mux *httprouter.Router, rm *RoomManager) {
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rm))

	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForManager(cfg, rm))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
