package room

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRoomExists     = errors.New("room already exists")
	ErrAlreadyPlaying = errors.New("player is already in a room")
)

const notifyTimeout = 5 * time.Second

// Hooks are optional collaborators the manager reports to.
type Hooks struct {
	Recorder Recorder
	Notifier Notifier
	// OnClose runs after a room is removed from the registry.
	OnClose func(roomID int64)
}

// Manager holds live rooms by id and the room each seated player is in.
// Rooms remove themselves when they end.
type Manager struct {
	mu      sync.RWMutex
	rooms   map[int64]*Room
	players map[int64]int64

	cfg   Config
	out   Broadcaster
	hooks Hooks
	log   *zap.Logger
	now   func() time.Time

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewManager(cfg Config, out Broadcaster, hooks Hooks, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		rooms:   make(map[int64]*Room),
		players: make(map[int64]int64),
		cfg:     cfg,
		out:     out,
		hooks:   hooks,
		log:     log,
		now:     time.Now,
		quit:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 && cfg.StaleRoomTTL > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m
}

// CreateRoom registers and starts a room. A zero player leaves that seat
// open for whoever joins first.
func (m *Manager) CreateRoom(id int64, players [2]int64, public bool) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; ok {
		return nil, ErrRoomExists
	}
	for _, p := range players {
		if p == 0 {
			continue
		}
		if _, busy := m.players[p]; busy {
			return nil, ErrAlreadyPlaying
		}
	}

	r := New(id, players, m.cfg, m.out, m.log)
	r.Public = public
	r.OnSeat = m.seat
	r.OnStart = m.onStart
	r.OnEnd = m.onEnd
	m.rooms[id] = r
	for _, p := range players {
		if p != 0 {
			m.players[p] = id
		}
	}
	go r.Run()
	m.log.Info("room created", zap.Int64("room", id), zap.Int64s("players", players[:]), zap.Bool("public", public))
	return r, nil
}

func (m *Manager) Room(id int64) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// RoomOf returns the room the user is seated in.
func (m *Manager) RoomOf(user int64) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.players[user]
	if !ok {
		return nil, false
	}
	r, ok := m.rooms[id]
	return r, ok
}

// Playing reports whether the user holds a seat in a live room.
func (m *Manager) Playing(user int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.players[user]
	return ok
}

// List returns every live room ordered by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		if info, ok := r.Info(); ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Sweep cancels rooms that have waited longer than the stale TTL without
// starting. It returns how many it cancelled.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	var stale []*Room
	for _, r := range m.rooms {
		if r.Phase() == PhaseWaiting && now.Sub(r.CreatedAt()) > m.cfg.StaleRoomTTL {
			stale = append(stale, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range stale {
		r.Cancel("stale")
	}
	if len(stale) > 0 {
		m.log.Info("swept stale rooms", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

// Close stops the sweeper and every room. Rooms end as cancelled.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	m.wg.Wait()

	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	for _, r := range rooms {
		r.Stop()
	}
}

func (m *Manager) seat(roomID, user int64) {
	m.mu.Lock()
	m.players[user] = roomID
	m.mu.Unlock()
}

func (m *Manager) onStart(info Info) {
	if m.hooks.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		m.hooks.Notifier.RoomOpened(ctx, info)
	}()
}

func (m *Manager) onEnd(res Result) {
	m.mu.Lock()
	delete(m.rooms, res.RoomID)
	for _, p := range res.Players {
		if p != 0 && m.players[p] == res.RoomID {
			delete(m.players, p)
		}
	}
	m.mu.Unlock()

	if res.Started && m.hooks.Recorder != nil {
		m.hooks.Recorder.Record(res)
	}
	if m.hooks.Notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			m.hooks.Notifier.RoomClosed(ctx, res)
		}()
	}
	if m.hooks.OnClose != nil {
		m.hooks.OnClose(res.RoomID)
	}
}
