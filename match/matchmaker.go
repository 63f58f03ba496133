package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pong/room"
)

type Pairing struct {
	RoomID  int64
	Players [2]int64
}

// Matchmaker admits users into rooms: direct joins, the public queue and
// private invites.
type Matchmaker struct {
	rooms *room.Manager
	dir   Directory
	ids   IDAllocator
	log   *zap.Logger

	mu      sync.Mutex
	queue   []int64
	invites map[int64]map[int64]time.Time // invitee -> inviter -> sent at

	// OnPaired runs after a queue or invite pairing created a room.
	OnPaired func(p Pairing)
}

func New(rooms *room.Manager, dir Directory, ids IDAllocator, log *zap.Logger) *Matchmaker {
	if dir == nil {
		dir = OpenDirectory{}
	}
	if ids == nil {
		ids = &Counter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Matchmaker{
		rooms:   rooms,
		dir:     dir,
		ids:     ids,
		log:     log,
		invites: make(map[int64]map[int64]time.Time),
	}
}

// JoinRoom seats user in the room, or re-attaches them if the seat is
// already theirs.
func (m *Matchmaker) JoinRoom(ctx context.Context, user, roomID int64) (room.JoinResult, error) {
	if err := m.checkUser(ctx, user); err != nil {
		return room.JoinResult{}, err
	}
	r, ok := m.rooms.Room(roomID)
	if !ok {
		return room.JoinResult{}, ErrRoomNotFound
	}
	if cur, ok := m.rooms.RoomOf(user); ok && cur.ID != roomID {
		return room.JoinResult{}, ErrAlreadyPlaying
	}
	res, err := r.Join(user, false)
	return res, admission(err)
}

// Spectate subscribes user to the room without taking a seat.
func (m *Matchmaker) Spectate(ctx context.Context, user, roomID int64) (room.JoinResult, error) {
	if err := m.checkUser(ctx, user); err != nil {
		return room.JoinResult{}, err
	}
	r, ok := m.rooms.Room(roomID)
	if !ok {
		return room.JoinResult{}, ErrRoomNotFound
	}
	res, err := r.Join(user, true)
	return res, admission(err)
}

// Enqueue puts user in the public queue. If someone is already waiting, the
// two are paired at once with the earlier arrival on the left.
func (m *Matchmaker) Enqueue(ctx context.Context, user int64) (Pairing, bool, error) {
	if err := m.checkUser(ctx, user); err != nil {
		return Pairing{}, false, err
	}
	if m.rooms.Playing(user) {
		return Pairing{}, false, ErrAlreadyPlaying
	}

	m.mu.Lock()
	for _, u := range m.queue {
		if u == user {
			m.mu.Unlock()
			return Pairing{}, false, nil
		}
	}
	var opponent int64
	for len(m.queue) > 0 && opponent == 0 {
		head := m.queue[0]
		m.queue = m.queue[1:]
		if !m.rooms.Playing(head) {
			opponent = head
		}
	}
	if opponent == 0 {
		m.queue = append(m.queue, user)
		m.mu.Unlock()
		m.log.Debug("queued", zap.Int64("user", user))
		return Pairing{}, false, nil
	}
	m.mu.Unlock()

	p, err := m.open(ctx, [2]int64{opponent, user}, true)
	if err != nil {
		// put the opponent back at the front so they keep their place
		m.mu.Lock()
		m.queue = append([]int64{opponent}, m.queue...)
		m.mu.Unlock()
		return Pairing{}, false, err
	}
	return p, true, nil
}

// Dequeue removes user from the public queue.
func (m *Matchmaker) Dequeue(user int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, u := range m.queue {
		if u == user {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Matchmaker) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Invite records a private game request from one user to another.
func (m *Matchmaker) Invite(ctx context.Context, from, to int64) error {
	if from == to {
		return ErrInviteNotPermitted
	}
	if err := m.checkUser(ctx, from); err != nil {
		return err
	}
	if err := m.checkUser(ctx, to); err != nil {
		return err
	}
	ok, err := m.dir.CanInvite(ctx, from, to)
	if err != nil {
		return fmt.Errorf("check invite %d -> %d: %w", from, to, err)
	}
	if !ok {
		return ErrInviteNotPermitted
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.invites[to]
	if !ok {
		set = make(map[int64]time.Time)
		m.invites[to] = set
	}
	set[from] = time.Now()
	m.log.Debug("invite sent", zap.Int64("from", from), zap.Int64("to", to))
	return nil
}

// Invites lists who has invited user.
func (m *Matchmaker) Invites(user int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.invites[user]))
	for from := range m.invites[user] {
		out = append(out, from)
	}
	return out
}

// Decline drops a pending invite.
func (m *Matchmaker) Decline(to, from int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeInviteLocked(to, from)
}

// Accept turns a pending invite into a private room with the inviter on
// the left.
func (m *Matchmaker) Accept(ctx context.Context, to, from int64) (Pairing, error) {
	if m.rooms.Playing(to) || m.rooms.Playing(from) {
		return Pairing{}, ErrAlreadyPlaying
	}
	m.mu.Lock()
	ok := m.takeInviteLocked(to, from)
	m.mu.Unlock()
	if !ok {
		return Pairing{}, ErrNoInvite
	}
	return m.open(ctx, [2]int64{from, to}, false)
}

func (m *Matchmaker) takeInviteLocked(to, from int64) bool {
	set, ok := m.invites[to]
	if !ok {
		return false
	}
	if _, ok := set[from]; !ok {
		return false
	}
	delete(set, from)
	if len(set) == 0 {
		delete(m.invites, to)
	}
	return true
}

func (m *Matchmaker) open(ctx context.Context, players [2]int64, public bool) (Pairing, error) {
	id, err := m.ids.NextRoomID(ctx, players, public)
	if err != nil {
		return Pairing{}, fmt.Errorf("allocate room id: %w", err)
	}
	if _, err := m.rooms.CreateRoom(id, players, public); err != nil {
		return Pairing{}, admission(err)
	}
	p := Pairing{RoomID: id, Players: players}
	m.log.Info("paired",
		zap.Int64("room", id),
		zap.Int64("left", players[0]),
		zap.Int64("right", players[1]),
		zap.Bool("public", public),
	)
	if m.OnPaired != nil {
		m.OnPaired(p)
	}
	return p, nil
}

func (m *Matchmaker) checkUser(ctx context.Context, user int64) error {
	ok, err := m.dir.UserExists(ctx, user)
	if err != nil {
		return fmt.Errorf("look up user %d: %w", user, err)
	}
	if !ok {
		return ErrUnknownUser
	}
	return nil
}

// admission maps room errors onto the codes clients understand.
func admission(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, room.ErrFull):
		return ErrRoomFull
	case errors.Is(err, room.ErrClosed):
		return ErrRoomNotFound
	case errors.Is(err, room.ErrAlreadyPlaying):
		return ErrAlreadyPlaying
	}
	return err
}
