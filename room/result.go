package room

import (
	"time"

	"pong/protocol"
)

type Phase int32

const (
	PhaseWaiting Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

type EndReason string

const (
	EndNormal    EndReason = "normal"
	EndForfeit   EndReason = "forfeit"
	EndCancelled EndReason = "cancelled"
	EndError     EndReason = "error"
)

// Result is what a room reports exactly once when it ends. Winner is 0
// when nobody won.
type Result struct {
	RoomID  int64
	Public  bool
	Players [2]int64
	Scores  [2]int
	Winner  int64
	Reason  EndReason
	Started bool // false if the room never left PhaseWaiting
	EndedAt time.Time
}

// Message is the gameEnd payload for this result.
func (r Result) Message() protocol.GameEnd {
	msg := protocol.GameEnd{
		RoomID:     r.RoomID,
		LeftID:     r.Players[0],
		RightID:    r.Players[1],
		LeftScore:  r.Scores[0],
		RightScore: r.Scores[1],
		Reason:     string(r.Reason),
	}
	if r.Winner != 0 {
		w := r.Winner
		msg.WinnerID = &w
	}
	return msg
}

// Info is the listing view of a room.
type Info struct {
	ID         int64     `json:"id"`
	Public     bool      `json:"isPublic"`
	Phase      string    `json:"phase"`
	Players    [2]int64  `json:"players"`
	Scores     [2]int    `json:"scores"`
	Spectators int       `json:"spectators"`
	CreatedAt  time.Time `json:"createdAt"`
}
