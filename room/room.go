package room

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pong/game"
	"pong/protocol"
)

var (
	ErrFull   = errors.New("room is full")
	ErrClosed = errors.New("room has ended")
)

type seat struct {
	user     int64 // 0 while open
	attached bool
}

type Room struct {
	ID     int64
	Public bool
	Inbox  chan any

	cfg        Config
	dt         float64
	state      game.State
	seats      [2]seat
	spectators map[int64]struct{}
	intents    game.Inputs
	live       *Liveness
	phase      Phase
	paused     bool
	announced  [2]int // last secondsUntilEnd sent per side
	createdAt  time.Time
	tick       *time.Ticker
	out        Broadcaster
	log        *zap.Logger
	now        func() time.Time

	// Hooks run on the room goroutine and must not block or call Stop.
	OnSeat  func(roomID, user int64)
	OnStart func(info Info)
	OnEnd   func(res Result)

	status   atomic.Int32
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a waiting room. A zero entry in players leaves that seat open
// for the next joiner.
func New(id int64, players [2]int64, cfg Config, out Broadcaster, log *zap.Logger) *Room {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	r := &Room{
		ID:         id,
		Inbox:      make(chan any, 256),
		cfg:        cfg,
		dt:         1 / float64(cfg.TickHz),
		state:      game.NewState(rand.Uint64(), cfg.MaxScore),
		spectators: make(map[int64]struct{}),
		live:       NewLiveness(cfg.HeartbeatTimeout, cfg.GraceWindow),
		out:        out,
		log:        log.With(zap.Int64("room", id)),
		now:        time.Now,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.seats[0].user = players[0]
	r.seats[1].user = players[1]
	r.createdAt = r.now()
	return r
}

// Phase is safe to call from any goroutine.
func (r *Room) Phase() Phase {
	return Phase(r.status.Load())
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Stop cancels the room if it is still running and waits for Run to return.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.done
}

// Send queues cmd for the room. It reports false once the room has exited.
func (r *Room) Send(cmd any) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.Inbox <- cmd:
		return true
	case <-r.done:
		return false
	}
}

// Join attaches user as a player, or as a spectator when spectate is set.
func (r *Room) Join(user int64, spectate bool) (JoinResult, error) {
	reply := make(chan JoinResult, 1)
	if !r.Send(Join{User: user, Spectate: spectate, Reply: reply}) {
		return JoinResult{}, ErrClosed
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-r.done:
		select {
		case res := <-reply:
			return res, res.Err
		default:
			return JoinResult{}, ErrClosed
		}
	}
}

func (r *Room) Cancel(reason string) bool {
	return r.Send(Cancel{Reason: reason})
}

// Info asks the room for its listing. It reports false if the room is gone.
func (r *Room) Info() (Info, bool) {
	reply := make(chan Info, 1)
	if !r.Send(Snapshot{Reply: reply}) {
		return Info{}, false
	}
	select {
	case info := <-reply:
		return info, true
	case <-r.done:
		return Info{}, false
	}
}

func (r *Room) Run() {
	defer close(r.done)

	liveness := time.NewTicker(r.cfg.LivenessInterval)
	defer liveness.Stop()
	defer r.stopTicking()

	for r.phase != PhaseEnded {
		select {
		case <-r.quit:
			r.end(EndCancelled, game.SideNone)
		case cmd := <-r.Inbox:
			r.handleCommand(cmd)
		case <-r.ticks():
			r.step()
		case <-liveness.C:
			r.checkLiveness(r.now())
		}
	}
	r.drain()
}

// drain answers anything still queued so callers blocked on a reply are
// released.
func (r *Room) drain() {
	for {
		select {
		case cmd := <-r.Inbox:
			switch c := cmd.(type) {
			case Join:
				c.Reply <- JoinResult{Err: ErrClosed}
			case Snapshot:
				c.Reply <- r.info()
			}
		default:
			return
		}
	}
}

func (r *Room) handleCommand(cmd any) {
	now := r.now()
	switch c := cmd.(type) {
	case Join:
		c.Reply <- r.handleJoin(c, now)
	case Intent:
		if side := r.sideOf(c.User); side != game.SideNone {
			r.intents[side.Index()] = game.Input{Dir: c.Dir}
		}
	case Heartbeat:
		r.handleHeartbeat(c.User, now)
	case Detach:
		r.handleLeave(c.User, now)
	case Leave:
		r.handleLeave(c.User, now)
	case Cancel:
		r.log.Info("room cancelled", zap.String("reason", c.Reason))
		r.end(EndCancelled, game.SideNone)
	case Snapshot:
		c.Reply <- r.info()
	default:
		r.log.Warn("unknown room command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
}

func (r *Room) handleJoin(c Join, now time.Time) JoinResult {
	if side := r.sideOf(c.User); side != game.SideNone {
		return JoinResult{Side: side, Reconnected: r.attach(side, now)}
	}
	if c.Spectate {
		r.spectators[c.User] = struct{}{}
		r.broadcastState()
		return JoinResult{Spectator: true}
	}
	if r.phase != PhaseWaiting {
		return JoinResult{Err: ErrFull}
	}
	for i := range r.seats {
		if r.seats[i].user == 0 {
			r.seats[i].user = c.User
			if r.OnSeat != nil {
				r.OnSeat(r.ID, c.User)
			}
			side := game.SideAt(i)
			r.attach(side, now)
			return JoinResult{Side: side}
		}
	}
	return JoinResult{Err: ErrFull}
}

// attach seats a player's connection. It reports whether this resumed a
// lost player in an active match.
func (r *Room) attach(side game.Side, now time.Time) bool {
	i := side.Index()
	r.seats[i].attached = true
	if r.phase == PhaseWaiting {
		r.live.Attach(side, now)
		if r.seats[0].attached && r.seats[1].attached {
			r.activate(now)
		}
		return false
	}
	lost := !r.live.Connected(side)
	r.live.Attach(side, now)
	if lost {
		r.announced[i] = 0
		r.log.Info("player reconnected", zap.Int64("user", r.seats[i].user))
		r.resume()
	}
	r.broadcastState()
	return lost
}

func (r *Room) activate(now time.Time) {
	r.phase = PhaseActive
	r.status.Store(int32(PhaseActive))
	r.live.Reset(now)
	r.startTicking()
	r.log.Info("match started",
		zap.Int64("left", r.seats[0].user),
		zap.Int64("right", r.seats[1].user),
	)
	r.broadcastState()
	if r.OnStart != nil {
		r.OnStart(r.info())
	}
}

func (r *Room) handleHeartbeat(user int64, now time.Time) {
	side := r.sideOf(user)
	if side == game.SideNone {
		return
	}
	if r.live.Beat(side, now) {
		return
	}
	// Heartbeat over a connection that lapsed but never closed.
	if r.phase == PhaseActive && r.seats[side.Index()].attached {
		r.attach(side, now)
	}
}

func (r *Room) handleLeave(user int64, now time.Time) {
	if _, ok := r.spectators[user]; ok {
		delete(r.spectators, user)
		return
	}
	side := r.sideOf(user)
	if side == game.SideNone {
		return
	}
	switch r.phase {
	case PhaseWaiting:
		r.seats[side.Index()].attached = false
		if !r.seats[0].attached && !r.seats[1].attached {
			r.log.Info("players left before start")
			r.end(EndCancelled, game.SideNone)
		}
	case PhaseActive:
		r.seats[side.Index()].attached = false
		r.lose(side, now)
	}
}

func (r *Room) lose(side game.Side, now time.Time) {
	if !r.live.Connected(side) {
		return
	}
	i := side.Index()
	r.intents[i] = game.Input{}
	r.live.Lose(side, now)
	r.log.Warn("player disconnected", zap.Int64("user", r.seats[i].user))
	if r.cfg.PauseOnDisconnect {
		r.pause()
	}
	r.announce(side, now)
}

func (r *Room) checkLiveness(now time.Time) {
	if r.phase != PhaseActive {
		return
	}
	for _, side := range r.live.Lapsed(now) {
		r.lose(side, now)
	}
	if side := r.live.Expired(now); side != game.SideNone {
		r.log.Info("grace window expired", zap.Int64("user", r.seats[side.Index()].user))
		r.end(EndForfeit, side.Other())
		return
	}
	for i := range r.seats {
		if side := game.SideAt(i); !r.live.Connected(side) {
			r.announce(side, now)
		}
	}
}

// announce sends playerDisconnection when the whole seconds left change.
func (r *Room) announce(side game.Side, now time.Time) {
	i := side.Index()
	secs := int(math.Ceil(r.live.Remaining(side, now).Seconds()))
	if secs == r.announced[i] {
		return
	}
	r.announced[i] = secs
	r.broadcast(protocol.MsgPlayerDisconnection, protocol.PlayerDisconnection{
		UserID:          r.seats[i].user,
		SecondsUntilEnd: secs,
	})
}

func (r *Room) pause() {
	if r.paused {
		return
	}
	r.paused = true
	r.stopTicking()
	r.broadcastState()
}

func (r *Room) resume() {
	if !r.paused || !r.live.Connected(game.Left) || !r.live.Connected(game.Right) {
		return
	}
	r.paused = false
	r.startTicking()
}

func (r *Room) step() {
	prev := r.state
	next, ev := game.Step(prev, r.intents, r.dt)
	if err := checkStep(prev, next); err != nil {
		r.log.Error("simulation fault", zap.Error(err))
		r.end(EndError, game.SideNone)
		return
	}
	r.state = next
	if ev.Scored != game.SideNone {
		r.log.Debug("goal",
			zap.Stringer("side", ev.Scored),
			zap.Int("left", next.Scores[0]),
			zap.Int("right", next.Scores[1]),
		)
	}
	if ev.Winner != game.SideNone {
		r.broadcastState()
		r.end(EndNormal, ev.Winner)
		return
	}
	if r.state.Tick%r.cfg.BroadcastEvery == 0 {
		r.broadcastState()
	}
}

func checkStep(prev, next game.State) error {
	if err := game.Validate(next); err != nil {
		return err
	}
	for i := range next.Scores {
		if next.Scores[i] < prev.Scores[i] {
			return fmt.Errorf("%w: score went from %v to %v", game.ErrSimulationFault, prev.Scores, next.Scores)
		}
	}
	return nil
}

// end finishes the room. Only the first call has any effect.
func (r *Room) end(reason EndReason, winner game.Side) {
	if r.phase == PhaseEnded {
		return
	}
	started := r.phase == PhaseActive
	r.phase = PhaseEnded
	r.status.Store(int32(PhaseEnded))
	r.stopTicking()

	res := Result{
		RoomID:  r.ID,
		Public:  r.Public,
		Players: [2]int64{r.seats[0].user, r.seats[1].user},
		Scores:  r.state.Scores,
		Reason:  reason,
		Started: started,
		EndedAt: r.now(),
	}
	if winner != game.SideNone {
		res.Winner = r.seats[winner.Index()].user
	}
	r.log.Info("room ended",
		zap.String("reason", string(reason)),
		zap.Int64("winner", res.Winner),
		zap.Ints("scores", res.Scores[:]),
	)
	r.broadcast(protocol.MsgGameEnd, res.Message())
	if r.OnEnd != nil {
		r.OnEnd(res)
	}
}

func (r *Room) ticks() <-chan time.Time {
	if r.tick == nil {
		return nil
	}
	return r.tick.C
}

func (r *Room) startTicking() {
	if r.tick == nil {
		r.tick = time.NewTicker(time.Second / time.Duration(r.cfg.TickHz))
	}
}

func (r *Room) stopTicking() {
	if r.tick != nil {
		r.tick.Stop()
		r.tick = nil
	}
}

func (r *Room) sideOf(user int64) game.Side {
	if user == 0 {
		return game.SideNone
	}
	for i, s := range r.seats {
		if s.user == user {
			return game.SideAt(i)
		}
	}
	return game.SideNone
}

func (r *Room) info() Info {
	return Info{
		ID:         r.ID,
		Public:     r.Public,
		Phase:      r.phase.String(),
		Players:    [2]int64{r.seats[0].user, r.seats[1].user},
		Scores:     r.state.Scores,
		Spectators: len(r.spectators),
		CreatedAt:  r.createdAt,
	}
}

func (r *Room) broadcastState() {
	r.broadcast(protocol.MsgUpdateGameState, r.buildSnapshot())
}

func (r *Room) broadcast(t string, payload any) {
	if r.out == nil {
		return
	}
	b, err := protocol.Encode(t, payload)
	if err != nil {
		r.log.Error("encode broadcast", zap.String("type", t), zap.Error(err))
		return
	}
	r.out.Broadcast(r.ID, b)
}

func (r *Room) buildSnapshot() protocol.GameState {
	s := r.state
	return protocol.GameState{
		RoomID: r.ID,
		Tick:   s.Tick,
		Phase:  r.phase.String(),
		Paused: r.paused,
		Ball: protocol.BallSnapshot{
			X:  s.Ball.X,
			Y:  s.Ball.Y,
			VX: s.Ball.VX,
			VY: s.Ball.VY,
		},
		Paddles: protocol.PaddlesSnapshot{Left: s.Paddles[0].Y, Right: s.Paddles[1].Y},
		Players: protocol.PlayersSnapshot{Left: r.seats[0].user, Right: r.seats[1].user},
		Scores:  protocol.ScoresSnapshot{Left: s.Scores[0], Right: s.Scores[1]},
	}
}
