package protocol

import (
	"encoding/json"
)

// Client -> server.
const (
	MsgJoinRoom     = "joinRoom"
	MsgSpectateRoom = "spectateRoom"
	MsgPaddleIntent = "paddleIntent"
	MsgPing         = "ping"
	MsgLeaveGame    = "leaveGame"
)

// Server -> client.
const (
	MsgAck                 = "ack"
	MsgPong                = "pong"
	MsgUpdateGameState     = "updateGameState"
	MsgPlayerDisconnection = "playerDisconnection"
	MsgGameEnd             = "gameEnd"
	MsgMatchFound          = "matchFound"
	MsgError               = "error"
)

// Envelope wraps every frame. A is set by clients that expect an
// acknowledgement and echoed back on the reply.
type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"` // raw payload bytes
	A uint64          `json:"a,omitempty"`
}
