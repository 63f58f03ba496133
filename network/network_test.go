package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong/hub"
	"pong/match"
	"pong/protocol"
	"pong/room"
)

const testSecret = "test-secret"

func token(t *testing.T, user int64) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		ID:               user,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type testServer struct {
	*httptest.Server
	rooms *room.Manager
	mm    *match.Matchmaker
}

type storedResults map[int64]room.Result

func (s storedResults) Result(_ context.Context, id int64) (room.Result, bool, error) {
	res, ok := s[id]
	return res, ok, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	h := hub.New(nil)
	cfg := room.DefaultConfig()
	cfg.SweepInterval = 0
	rooms := room.NewManager(cfg, h, room.Hooks{OnClose: h.DropRoom}, nil)
	mm := match.New(rooms, match.OpenDirectory{}, &match.Counter{}, nil)
	results := storedResults{
		5: {RoomID: 5, Players: [2]int64{1, 2}, Scores: [2]int{5, 2}, Winner: 1, Reason: room.EndNormal, Started: true},
	}
	gw := NewGateway(h, rooms, mm, NewAuth(testSecret), GatewayConfig{Results: results}, nil)
	mm.OnPaired = gw.NotifyPaired

	srv := httptest.NewServer(NewRouter(gw))
	t.Cleanup(func() {
		srv.Close()
		rooms.Close()
	})
	return &testServer{Server: srv, rooms: rooms, mm: mm}
}

func (s *testServer) dial(t *testing.T, user int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + token(t, user)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// a pong means the hub has registered this connection
	write(t, ws, protocol.MsgPing, 0, protocol.Ping{})
	next(t, ws, protocol.MsgPong)
	return ws
}

func (s *testServer) post(t *testing.T, user int64, path string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, user))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func write(t *testing.T, ws *websocket.Conn, typ string, ack uint64, payload any) {
	t.Helper()
	b, err := protocol.EncodeAck(typ, ack, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, ws *websocket.Conn, typ string) protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, b, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		env, err := protocol.DecodeEnvelope(b)
		require.NoError(t, err)
		if env.T == typ {
			return env
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueThenPlayOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, 1)
	bob := s.dial(t, 2)

	resp := s.post(t, 1, "/games/queue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q queueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	assert.False(t, q.Paired)

	resp = s.post(t, 2, "/games/queue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	require.True(t, q.Paired)

	found, err := protocol.DecodePayload[protocol.MatchFound](next(t, alice, protocol.MsgMatchFound))
	require.NoError(t, err)
	assert.Equal(t, q.RoomID, found.RoomID)
	assert.Equal(t, int64(2), found.OpponentID)

	write(t, alice, protocol.MsgJoinRoom, 1, protocol.JoinRoom{RoomID: q.RoomID})
	env := next(t, alice, protocol.MsgAck)
	assert.Equal(t, uint64(1), env.A)
	ack, err := protocol.DecodePayload[protocol.Ack](env)
	require.NoError(t, err)
	assert.Nil(t, ack.Error)

	write(t, bob, protocol.MsgJoinRoom, 7, protocol.JoinRoom{RoomID: q.RoomID})
	ack, err = protocol.DecodePayload[protocol.Ack](next(t, bob, protocol.MsgAck))
	require.NoError(t, err)
	assert.Nil(t, ack.Error)

	st, err := protocol.DecodePayload[protocol.GameState](next(t, bob, protocol.MsgUpdateGameState))
	require.NoError(t, err)
	assert.Equal(t, q.RoomID, st.RoomID)
	assert.Equal(t, int64(1), st.Players.Left)
	assert.Equal(t, int64(2), st.Players.Right)

	write(t, alice, protocol.MsgPing, 9, protocol.Ping{GameID: q.RoomID})
	env = next(t, alice, protocol.MsgPong)
	assert.Equal(t, uint64(9), env.A)

	carol := s.dial(t, 3)
	write(t, carol, protocol.MsgJoinRoom, 1, protocol.JoinRoom{RoomID: q.RoomID})
	ack, err = protocol.DecodePayload[protocol.Ack](next(t, carol, protocol.MsgAck))
	require.NoError(t, err)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "room_full", ack.Error.Code)
}

func TestBadFramesGetErrors(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, 1)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	body, err := protocol.DecodePayload[protocol.ErrorBody](next(t, ws, protocol.MsgError))
	require.NoError(t, err)
	assert.Equal(t, "bad_request", body.Code)

	write(t, ws, protocol.MsgPaddleIntent, 2, protocol.PaddleIntent{Direction: "sideways"})
	env := next(t, ws, protocol.MsgError)
	assert.Equal(t, uint64(2), env.A)

	write(t, ws, protocol.MsgJoinRoom, 3, protocol.JoinRoom{RoomID: 404})
	ack, err := protocol.DecodePayload[protocol.Ack](next(t, ws, protocol.MsgAck))
	require.NoError(t, err)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "room_not_found", ack.Error.Code)
}

func TestInviteRoutes(t *testing.T) {
	s := newTestServer(t)

	resp := s.post(t, 1, "/games/invites", `{"targetId":2}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.post(t, 1, "/games/invites", `{"targetId":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.post(t, 2, "/games/invites/3/accept", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.post(t, 2, "/games/invites/1/accept", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rr roomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	_, ok := s.rooms.Room(rr.RoomID)
	assert.True(t, ok)
}

func TestGamesRequireToken(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Post(s.URL+"/games/queue", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(s.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClosedSocketDetachesPlayer(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, 1)
	bob := s.dial(t, 2)

	require.NoError(t, s.mm.Invite(context.Background(), 1, 2))
	p, err := s.mm.Accept(context.Background(), 2, 1)
	require.NoError(t, err)

	write(t, alice, protocol.MsgJoinRoom, 1, protocol.JoinRoom{RoomID: p.RoomID})
	next(t, alice, protocol.MsgAck)
	write(t, bob, protocol.MsgJoinRoom, 1, protocol.JoinRoom{RoomID: p.RoomID})
	next(t, bob, protocol.MsgAck)
	next(t, alice, protocol.MsgUpdateGameState)

	require.NoError(t, bob.Close())

	// well inside the heartbeat timeout, so the close itself detached bob
	dc, err := protocol.DecodePayload[protocol.PlayerDisconnection](next(t, alice, protocol.MsgPlayerDisconnection))
	require.NoError(t, err)
	assert.Equal(t, int64(2), dc.UserID)
}

func TestGameResultRoute(t *testing.T) {
	s := newTestServer(t)
	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token(t, 1))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("/games/5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var end protocol.GameEnd
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&end))
	assert.Equal(t, 5, end.LeftScore)
	assert.Equal(t, 2, end.RightScore)
	require.NotNil(t, end.WinnerID)
	assert.Equal(t, int64(1), *end.WinnerID)

	assert.Equal(t, http.StatusNotFound, get("/games/6").StatusCode)
}
