package room

import (
	"time"

	"pong/game"
)

// Liveness tracks heartbeats and grace countdowns for both seats. It holds
// no clock of its own; every call passes now.
type Liveness struct {
	timeout time.Duration
	grace   time.Duration
	seats   [2]presence
}

type presence struct {
	connected bool
	lastBeat  time.Time
	lostAt    time.Time
}

func NewLiveness(timeout, grace time.Duration) *Liveness {
	return &Liveness{timeout: timeout, grace: grace}
}

// Attach marks the side connected and cancels any countdown.
func (l *Liveness) Attach(side game.Side, now time.Time) {
	l.seats[side.Index()] = presence{connected: true, lastBeat: now}
}

// Beat records a heartbeat. It reports false if the side is not connected.
func (l *Liveness) Beat(side game.Side, now time.Time) bool {
	p := &l.seats[side.Index()]
	if !p.connected {
		return false
	}
	p.lastBeat = now
	return true
}

// Lose starts the grace countdown for side. Losing an already lost side
// keeps the first start.
func (l *Liveness) Lose(side game.Side, now time.Time) {
	p := &l.seats[side.Index()]
	if !p.connected {
		return
	}
	p.connected = false
	p.lostAt = now
}

func (l *Liveness) Connected(side game.Side) bool {
	return l.seats[side.Index()].connected
}

// Reset refreshes the heartbeat of every connected side.
func (l *Liveness) Reset(now time.Time) {
	for i := range l.seats {
		if l.seats[i].connected {
			l.seats[i].lastBeat = now
		}
	}
}

// Lapsed returns connected sides whose last heartbeat is older than the
// timeout.
func (l *Liveness) Lapsed(now time.Time) []game.Side {
	var out []game.Side
	for i, p := range l.seats {
		if p.connected && now.Sub(p.lastBeat) > l.timeout {
			out = append(out, game.SideAt(i))
		}
	}
	return out
}

// Remaining is the time left on side's countdown, never negative. It is the
// full grace window for a connected side.
func (l *Liveness) Remaining(side game.Side, now time.Time) time.Duration {
	p := l.seats[side.Index()]
	if p.connected {
		return l.grace
	}
	left := l.grace - now.Sub(p.lostAt)
	if left < 0 {
		return 0
	}
	return left
}

// Expired returns the side whose countdown has run out, or SideNone. If both
// have, the one that dropped first is returned.
func (l *Liveness) Expired(now time.Time) game.Side {
	out := game.SideNone
	var first time.Time
	for i, p := range l.seats {
		if p.connected || now.Sub(p.lostAt) < l.grace {
			continue
		}
		if out == game.SideNone || p.lostAt.Before(first) {
			out, first = game.SideAt(i), p.lostAt
		}
	}
	return out
}
