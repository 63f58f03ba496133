package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is an outbound connection. Send must not block.
type Conn interface {
	Send([]byte) error
	Close() error
}

type entry struct {
	id   string
	conn Conn
}

// Hub maps identities to their current connection and rooms to the
// identities subscribed to them. It never owns room state.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]entry
	rooms map[int64]map[int64]struct{}
	subs  map[int64]int64 // user -> room
	log   *zap.Logger
}

func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns: make(map[int64]entry),
		rooms: make(map[int64]map[int64]struct{}),
		subs:  make(map[int64]int64),
		log:   log,
	}
}

// Register makes c the user's connection and returns its id. Any previous
// connection for the user is closed.
func (h *Hub) Register(user int64, c Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	old, had := h.conns[user]
	h.conns[user] = entry{id: id, conn: c}
	h.mu.Unlock()

	if had {
		h.log.Info("replacing connection", zap.Int64("user", user), zap.String("old", old.id), zap.String("new", id))
		_ = old.conn.Close()
	}
	return id
}

// Unregister removes the user's connection if connID is still current. It
// reports whether it did; a replaced connection must not take the new one
// down with it.
func (h *Hub) Unregister(user int64, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[user]
	if !ok || e.id != connID {
		return false
	}
	delete(h.conns, user)
	return true
}

func (h *Hub) Lookup(user int64) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.conns[user]
	return e.conn, ok
}

// Current reports whether connID is the user's live connection. Frames read
// from a replaced connection are ignored by callers.
func (h *Hub) Current(user int64, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.conns[user]
	return ok && e.id == connID
}

func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Subscribe routes the room's broadcasts to user. A user follows one room
// at a time; subscribing moves them.
func (h *Hub) Subscribe(roomID, user int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.subs[user]; ok && prev != roomID {
		h.unsubscribeLocked(prev, user)
	}
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[int64]struct{})
		h.rooms[roomID] = set
	}
	set[user] = struct{}{}
	h.subs[user] = roomID
}

func (h *Hub) Unsubscribe(roomID, user int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(roomID, user)
}

func (h *Hub) unsubscribeLocked(roomID, user int64) {
	if set, ok := h.rooms[roomID]; ok {
		delete(set, user)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if h.subs[user] == roomID {
		delete(h.subs, user)
	}
}

// SubscribedTo returns the room the user follows, or 0.
func (h *Hub) SubscribedTo(user int64) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subs[user]
}

// DropRoom forgets every subscription to the room.
func (h *Hub) DropRoom(roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for user := range h.rooms[roomID] {
		if h.subs[user] == roomID {
			delete(h.subs, user)
		}
	}
	delete(h.rooms, roomID)
}

// Broadcast sends msg to every subscriber of the room that is connected to
// this process.
func (h *Hub) Broadcast(roomID int64, msg []byte) {
	h.mu.RLock()
	targets := make([]entry, 0, len(h.rooms[roomID]))
	users := make([]int64, 0, len(h.rooms[roomID]))
	for user := range h.rooms[roomID] {
		if e, ok := h.conns[user]; ok {
			targets = append(targets, e)
			users = append(users, user)
		}
	}
	h.mu.RUnlock()

	// A failing connection is closed here but stays registered: its reader
	// unregisters it on the way out and detaches the user from the room.
	for i, e := range targets {
		if err := e.conn.Send(msg); err != nil {
			h.log.Warn("dropping slow connection", zap.Int64("user", users[i]), zap.Int64("room", roomID), zap.Error(err))
			_ = e.conn.Close()
		}
	}
}

// SendTo delivers msg to a single user if they are connected here.
func (h *Hub) SendTo(user int64, msg []byte) bool {
	c, ok := h.Lookup(user)
	if !ok {
		return false
	}
	return c.Send(msg) == nil
}
