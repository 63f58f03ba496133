package network

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pong/game"
	"pong/hub"
	"pong/match"
	"pong/protocol"
	"pong/room"
)

// Gateway turns WebSocket frames into room and matchmaking calls.
type Gateway struct {
	hub        *hub.Hub
	rooms      *room.Manager
	mm         *match.Matchmaker
	auth       *Auth
	upgrader   websocket.Upgrader
	sendBuffer int
	results    ResultReader
	log        *zap.Logger
}

// ResultReader loads finished matches.
type ResultReader interface {
	Result(ctx context.Context, id int64) (room.Result, bool, error)
}

type GatewayConfig struct {
	AllowedOrigins []string
	SendBuffer     int
	Results        ResultReader // nil when results are not stored
}

func NewGateway(h *hub.Hub, rooms *room.Manager, mm *match.Matchmaker, auth *Auth, cfg GatewayConfig, log *zap.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		hub:        h,
		rooms:      rooms,
		mm:         mm,
		auth:       auth,
		upgrader:   newUpgrader(cfg.AllowedOrigins),
		sendBuffer: cfg.SendBuffer,
		results:    cfg.Results,
		log:        log,
	}
}

// session is the per-connection state. Only the read loop touches it.
type session struct {
	user   int64
	connID string
	conn   *wsConn
	roomID int64 // room joined or watched, 0 for none
	log    *zap.Logger
}

func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := g.auth.Identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Your token is invalid or expired. Please log in again.")
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Int64("user", user), zap.Error(err))
		return
	}

	c := newConn(ws, g.sendBuffer)
	s := &session{user: user, conn: c}
	s.connID = g.hub.Register(user, c)
	s.log = g.log.With(zap.Int64("user", user), zap.String("conn", s.connID))
	s.log.Debug("connected")

	go c.writePump()
	err = c.readPump(func(b []byte) {
		if !g.hub.Current(user, s.connID) {
			return
		}
		g.handleFrame(r.Context(), s, b)
	})
	c.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug("read ended", zap.Error(err))
	}
	g.disconnect(s)
}

// disconnect detaches the user from their room, unless a newer connection
// for the same user has already taken over.
func (g *Gateway) disconnect(s *session) {
	if !g.hub.Unregister(s.user, s.connID) {
		s.log.Debug("replaced connection closed")
		return
	}
	if s.roomID != 0 {
		if rm, ok := g.rooms.Room(s.roomID); ok {
			rm.Send(room.Detach{User: s.user})
		}
	}
	s.log.Debug("disconnected")
}

func (g *Gateway) handleFrame(ctx context.Context, s *session, b []byte) {
	env, err := protocol.DecodeEnvelope(b)
	if err != nil {
		g.sendError(s, 0, "bad_request", err.Error())
		return
	}

	switch env.T {
	case protocol.MsgJoinRoom:
		p, err := protocol.DecodePayload[protocol.JoinRoom](env)
		if err != nil {
			g.sendError(s, env.A, "bad_request", err.Error())
			return
		}
		g.admit(s, env.A, p.RoomID, func() error {
			_, err := g.mm.JoinRoom(ctx, s.user, p.RoomID)
			return err
		})

	case protocol.MsgSpectateRoom:
		p, err := protocol.DecodePayload[protocol.JoinRoom](env)
		if err != nil {
			g.sendError(s, env.A, "bad_request", err.Error())
			return
		}
		g.admit(s, env.A, p.RoomID, func() error {
			_, err := g.mm.Spectate(ctx, s.user, p.RoomID)
			return err
		})

	case protocol.MsgPaddleIntent:
		p, err := protocol.DecodePayload[protocol.PaddleIntent](env)
		if err != nil {
			g.sendError(s, env.A, "bad_request", err.Error())
			return
		}
		if rm, ok := g.rooms.Room(s.roomID); ok {
			rm.Send(room.Intent{User: s.user, Dir: directionOf(p.Direction)})
		}

	case protocol.MsgPing:
		p, err := protocol.DecodePayload[protocol.Ping](env)
		if err != nil {
			g.sendError(s, env.A, "bad_request", err.Error())
			return
		}
		id := p.GameID
		if id == 0 {
			id = s.roomID
		}
		if rm, ok := g.rooms.Room(id); ok {
			rm.Send(room.Heartbeat{User: s.user})
		}
		g.send(s, protocol.MsgPong, env.A, protocol.Pong{GameID: p.GameID})

	case protocol.MsgLeaveGame:
		g.leave(s)
		g.send(s, protocol.MsgAck, env.A, protocol.Ack{})

	default:
		g.sendError(s, env.A, "unknown_type", "unknown message type "+env.T)
	}
}

// admit subscribes the session to roomID before asking the room, so the
// first state frame is not missed, and rolls back if admission fails.
// Admission errors go to this connection only.
func (g *Gateway) admit(s *session, ack uint64, roomID int64, join func() error) {
	prev := s.roomID
	g.hub.Subscribe(roomID, s.user)
	if err := join(); err != nil {
		g.hub.Unsubscribe(roomID, s.user)
		if prev != 0 {
			g.hub.Subscribe(prev, s.user)
		}
		s.log.Debug("admission refused", zap.Int64("room", roomID), zap.Error(err))
		g.send(s, protocol.MsgAck, ack, protocol.Ack{Error: errorBody(err)})
		return
	}
	if prev != 0 && prev != roomID {
		if rm, ok := g.rooms.Room(prev); ok {
			rm.Send(room.Leave{User: s.user})
		}
	}
	s.roomID = roomID
	g.send(s, protocol.MsgAck, ack, protocol.Ack{})
}

func (g *Gateway) leave(s *session) {
	if s.roomID == 0 {
		return
	}
	if rm, ok := g.rooms.Room(s.roomID); ok {
		rm.Send(room.Leave{User: s.user})
	}
	g.hub.Unsubscribe(s.roomID, s.user)
	s.roomID = 0
}

// NotifyPaired tells both players which room they were paired into.
func (g *Gateway) NotifyPaired(p match.Pairing) {
	for i, user := range p.Players {
		b, err := protocol.Encode(protocol.MsgMatchFound, protocol.MatchFound{
			RoomID:     p.RoomID,
			OpponentID: p.Players[1-i],
		})
		if err != nil {
			g.log.Error("encode match found", zap.Error(err))
			return
		}
		g.hub.SendTo(user, b)
	}
}

func (g *Gateway) send(s *session, t string, ack uint64, payload any) {
	b, err := protocol.EncodeAck(t, ack, payload)
	if err != nil {
		s.log.Error("encode reply", zap.String("type", t), zap.Error(err))
		return
	}
	if err := s.conn.Send(b); err != nil {
		s.log.Debug("reply dropped", zap.String("type", t), zap.Error(err))
	}
}

func (g *Gateway) sendError(s *session, ack uint64, code, msg string) {
	g.send(s, protocol.MsgError, ack, protocol.ErrorBody{Code: code, Message: msg})
}

func errorBody(err error) *protocol.ErrorBody {
	var ae *match.AdmissionError
	if errors.As(err, &ae) {
		return &protocol.ErrorBody{Code: ae.Code, Message: ae.Message}
	}
	return &protocol.ErrorBody{Code: "internal", Message: "internal error"}
}

func directionOf(s string) game.Direction {
	switch s {
	case "up":
		return game.Up
	case "down":
		return game.Down
	}
	return game.Idle
}
