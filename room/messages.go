package room

import (
	"context"

	"pong/game"
)

// Broadcaster delivers an encoded frame to everyone subscribed to a room.
// Rooms never hold connections themselves.
type Broadcaster interface {
	Broadcast(roomID int64, msg []byte)
}

// Recorder takes finished matches. Record must not block the caller.
type Recorder interface {
	Record(res Result)
}

// Notifier is told when rooms open and close.
type Notifier interface {
	RoomOpened(ctx context.Context, info Info)
	RoomClosed(ctx context.Context, res Result)
}

// Join: player or spectator attaching to the room. Reply must be buffered.
type Join struct {
	User     int64
	Spectate bool
	Reply    chan<- JoinResult
}

type JoinResult struct {
	Side        game.Side // SideNone for spectators
	Spectator   bool
	Reconnected bool
	Err         error
}

// Intent: latest paddle direction for a player
type Intent struct {
	User int64
	Dir  game.Direction
}

// Heartbeat: liveness ping from a player
type Heartbeat struct {
	User int64
}

// Detach: the user's connection went away
type Detach struct {
	User int64
}

// Leave: the user asked to leave the game
type Leave struct {
	User int64
}

// Cancel ends the room without a winner.
type Cancel struct {
	Reason string
}

// Snapshot asks for the room listing. Reply must be buffered.
type Snapshot struct {
	Reply chan Info
}
