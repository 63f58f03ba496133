package room

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pong/game"
	"pong/protocol"
)

type fakeOut struct {
	sendCh chan []byte
}

func newFakeOut() *fakeOut {
	return &fakeOut{sendCh: make(chan []byte, 4096)}
}

func (f *fakeOut) Broadcast(_ int64, b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case f.sendCh <- cp:
	default:
	}
}

// waitFor returns the next frame of type t, skipping everything else.
func waitFor(t *testing.T, out *fakeOut, typ string, d time.Duration) protocol.Envelope {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case b := <-out.sendCh:
			env, err := protocol.DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.T == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickHz = 120
	cfg.LivenessInterval = 5 * time.Millisecond
	return cfg
}

// stillBall parks the ball so nobody scores during the test.
func stillBall(r *Room) {
	r.state.Ball = game.Ball{X: game.CourtWidth / 2, Y: game.CourtHeight / 2}
}

func mustJoin(t *testing.T, r *Room, user int64) JoinResult {
	t.Helper()
	res, err := r.Join(user, false)
	if err != nil {
		t.Fatalf("join %d: %v", user, err)
	}
	return res
}

func TestRoomStartsWhenBothPlayersAttach(t *testing.T) {
	out := newFakeOut()
	r := New(1, [2]int64{10, 20}, testConfig(), out, nil)
	go r.Run()
	defer r.Stop()

	if res := mustJoin(t, r, 10); res.Side != game.Left {
		t.Fatalf("first player side = %v, want left", res.Side)
	}
	if r.Phase() != PhaseWaiting {
		t.Fatalf("phase after one join = %v", r.Phase())
	}
	if res := mustJoin(t, r, 20); res.Side != game.Right {
		t.Fatalf("second player side = %v, want right", res.Side)
	}

	timeout := time.After(time.Second)
	for {
		select {
		case b := <-out.sendCh:
			env, err := protocol.DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.T != protocol.MsgUpdateGameState {
				continue
			}
			st, err := protocol.DecodePayload[protocol.GameState](env)
			if err != nil {
				t.Fatalf("decode state: %v", err)
			}
			if st.Tick == 0 {
				continue
			}
			if st.Phase != "active" || st.Players.Left != 10 || st.Players.Right != 20 {
				t.Fatalf("unexpected state %+v", st)
			}
			return
		case <-timeout:
			t.Fatalf("timed out waiting for a ticking state")
		}
	}
}

func TestThirdPlayerIsRejected(t *testing.T) {
	r := New(1, [2]int64{10, 20}, testConfig(), newFakeOut(), nil)
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	if _, err := r.Join(30, false); err != ErrFull {
		t.Fatalf("join stranger = %v, want ErrFull", err)
	}
}

func TestOpenSeatGoesToFirstArrival(t *testing.T) {
	r := New(1, [2]int64{10, 0}, testConfig(), newFakeOut(), nil)
	var seated atomic.Int64
	r.OnSeat = func(_, user int64) { seated.Store(user) }
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	if res := mustJoin(t, r, 30); res.Side != game.Right {
		t.Fatalf("arrival side = %v, want right", res.Side)
	}
	if seated.Load() != 30 {
		t.Fatalf("OnSeat saw %d, want 30", seated.Load())
	}
	if _, err := r.Join(40, false); err != ErrFull {
		t.Fatalf("join after full = %v, want ErrFull", err)
	}
}

func TestSpectatorCanWatch(t *testing.T) {
	out := newFakeOut()
	r := New(1, [2]int64{10, 20}, testConfig(), out, nil)
	go r.Run()
	defer r.Stop()

	res, err := r.Join(99, true)
	if err != nil || !res.Spectator {
		t.Fatalf("spectate = %+v, %v", res, err)
	}
	waitFor(t, out, protocol.MsgUpdateGameState, time.Second)

	info, ok := r.Info()
	if !ok || info.Spectators != 1 {
		t.Fatalf("info = %+v, %v", info, ok)
	}
}

func TestForfeitKeepsScores(t *testing.T) {
	out := newFakeOut()
	cfg := testConfig()
	cfg.GraceWindow = 100 * time.Millisecond
	r := New(1, [2]int64{10, 20}, cfg, out, nil)
	r.state.Scores = [2]int{3, 1}
	stillBall(r)

	results := make(chan Result, 2)
	r.OnEnd = func(res Result) { results <- res }
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	mustJoin(t, r, 20)
	r.Send(Detach{User: 20})

	env := waitFor(t, out, protocol.MsgPlayerDisconnection, time.Second)
	dc, err := protocol.DecodePayload[protocol.PlayerDisconnection](env)
	if err != nil {
		t.Fatalf("decode disconnection: %v", err)
	}
	if dc.UserID != 20 || dc.SecondsUntilEnd != 1 {
		t.Fatalf("disconnection = %+v", dc)
	}

	env = waitFor(t, out, protocol.MsgGameEnd, time.Second)
	end, err := protocol.DecodePayload[protocol.GameEnd](env)
	if err != nil {
		t.Fatalf("decode game end: %v", err)
	}
	if end.WinnerID == nil || *end.WinnerID != 10 {
		t.Fatalf("winner = %v, want 10", end.WinnerID)
	}
	if end.LeftScore != 3 || end.RightScore != 1 || end.Reason != "forfeit" {
		t.Fatalf("game end = %+v", end)
	}

	res := <-results
	if !res.Started || res.Reason != EndForfeit || res.Winner != 10 {
		t.Fatalf("result = %+v", res)
	}
}

// nextState returns the next updateGameState frame matching keep.
func nextState(t *testing.T, out *fakeOut, keep func(protocol.GameState) bool) protocol.GameState {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case b := <-out.sendCh:
			env, err := protocol.DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.T == protocol.MsgGameEnd {
				t.Fatalf("room ended while waiting for state")
			}
			if env.T != protocol.MsgUpdateGameState {
				continue
			}
			st, err := protocol.DecodePayload[protocol.GameState](env)
			if err != nil {
				t.Fatalf("decode state: %v", err)
			}
			if keep(st) {
				return st
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state")
		}
	}
}

func TestReconnectWithinGraceResumes(t *testing.T) {
	out := newFakeOut()
	cfg := testConfig()
	cfg.GraceWindow = 5 * time.Second
	r := New(1, [2]int64{10, 20}, cfg, out, nil)
	r.state.Scores = [2]int{3, 1}
	r.state.Ball = game.Ball{X: game.CourtWidth / 3, Y: game.CourtHeight / 4}
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	mustJoin(t, r, 20)
	before := nextState(t, out, func(st protocol.GameState) bool { return st.Tick > 0 && !st.Paused })

	r.Send(Leave{User: 20})
	waitFor(t, out, protocol.MsgPlayerDisconnection, time.Second)

	res := mustJoin(t, r, 20)
	if !res.Reconnected || res.Side != game.Right {
		t.Fatalf("rejoin = %+v", res)
	}

	after := nextState(t, out, func(st protocol.GameState) bool { return !st.Paused && st.Tick > before.Tick })
	if after.Scores != (protocol.ScoresSnapshot{Left: 3, Right: 1}) {
		t.Fatalf("scores after reconnect = %+v", after.Scores)
	}
	if after.Ball.X != game.CourtWidth/3 || after.Ball.Y != game.CourtHeight/4 {
		t.Fatalf("ball after reconnect = %+v", after.Ball)
	}
	if after.Paddles != before.Paddles {
		t.Fatalf("paddles moved: %+v -> %+v", before.Paddles, after.Paddles)
	}
}

func TestSimulationFaultEndsWithError(t *testing.T) {
	out := newFakeOut()
	r := New(1, [2]int64{10, 20}, testConfig(), out, nil)
	r.state.Scores = [2]int{2, 2}
	r.state.Ball = game.Ball{X: game.CourtWidth / 2, Y: game.CourtHeight / 2, VX: math.NaN()}

	results := make(chan Result, 2)
	r.OnEnd = func(res Result) { results <- res }
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	mustJoin(t, r, 20)

	env := waitFor(t, out, protocol.MsgGameEnd, time.Second)
	end, err := protocol.DecodePayload[protocol.GameEnd](env)
	if err != nil {
		t.Fatalf("decode game end: %v", err)
	}
	if end.WinnerID != nil || end.Reason != string(EndError) {
		t.Fatalf("game end = %+v", end)
	}
	if end.LeftScore != 2 || end.RightScore != 2 {
		t.Fatalf("scores = %d-%d, want 2-2", end.LeftScore, end.RightScore)
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("room still running after fault")
	}
	res := <-results
	if res.Reason != EndError || res.Winner != 0 || !res.Started {
		t.Fatalf("result = %+v", res)
	}
	if len(results) != 0 {
		t.Fatalf("OnEnd ran more than once")
	}
	for len(out.sendCh) > 0 {
		if env, _ := protocol.DecodeEnvelope(<-out.sendCh); env.T == protocol.MsgGameEnd {
			t.Fatalf("second gameEnd broadcast")
		}
	}
}

func TestSilentPlayerForfeits(t *testing.T) {
	out := newFakeOut()
	cfg := testConfig()
	cfg.HeartbeatTimeout = 30 * time.Millisecond
	cfg.GraceWindow = 60 * time.Millisecond
	r := New(1, [2]int64{10, 20}, cfg, out, nil)
	stillBall(r)
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	mustJoin(t, r, 20)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tk := time.NewTicker(5 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				if !r.Send(Heartbeat{User: 10}) {
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	env := waitFor(t, out, protocol.MsgGameEnd, 2*time.Second)
	end, err := protocol.DecodePayload[protocol.GameEnd](env)
	if err != nil {
		t.Fatalf("decode game end: %v", err)
	}
	if end.WinnerID == nil || *end.WinnerID != 10 {
		t.Fatalf("winner = %v, want 10", end.WinnerID)
	}
}

func TestMatchEndsAtMaxScore(t *testing.T) {
	out := newFakeOut()
	cfg := testConfig()
	cfg.MaxScore = 1
	r := New(1, [2]int64{10, 20}, cfg, out, nil)
	// past the right paddle and heading for the goal line
	r.state.Ball = game.Ball{X: game.CourtWidth - 2, Y: game.CourtHeight - 5, VX: 400}

	results := make(chan Result, 2)
	r.OnEnd = func(res Result) { results <- res }
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	mustJoin(t, r, 20)

	select {
	case res := <-results:
		if res.Reason != EndNormal || res.Winner != 10 || res.Scores != [2]int{1, 0} {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("match never ended")
	}
}

func TestRoomEndsOnce(t *testing.T) {
	out := newFakeOut()
	r := New(1, [2]int64{10, 20}, testConfig(), out, nil)
	stillBall(r)
	var ends atomic.Int32
	r.OnEnd = func(Result) { ends.Add(1) }
	go r.Run()

	mustJoin(t, r, 10)
	mustJoin(t, r, 20)
	r.Cancel("test")
	r.Stop()
	r.Stop()

	if n := ends.Load(); n != 1 {
		t.Fatalf("OnEnd ran %d times, want 1", n)
	}
	if r.Send(Heartbeat{User: 10}) {
		t.Fatalf("send to an ended room succeeded")
	}
	if _, err := r.Join(10, false); err != ErrClosed {
		t.Fatalf("join ended room = %v, want ErrClosed", err)
	}
}

func TestWaitingRoomCancelsWhenEveryoneLeaves(t *testing.T) {
	r := New(1, [2]int64{10, 20}, testConfig(), newFakeOut(), nil)
	results := make(chan Result, 1)
	r.OnEnd = func(res Result) { results <- res }
	go r.Run()
	defer r.Stop()

	mustJoin(t, r, 10)
	r.Send(Leave{User: 10})

	select {
	case res := <-results:
		if res.Started || res.Reason != EndCancelled || res.Winner != 0 {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("room did not cancel")
	}
}
