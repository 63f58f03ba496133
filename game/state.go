package game

import "math"

// Internal truth authoritative game state

type Side int8

const (
	SideNone Side = iota
	Left
	Right
)

// Index maps Left and Right onto per-side arrays. It panics for SideNone.
func (s Side) Index() int {
	if s != Left && s != Right {
		panic("game: index of SideNone")
	}
	return int(s) - 1
}

// SideAt is the inverse of Index.
func SideAt(i int) Side {
	return Side(i + 1)
}

func (s Side) Other() Side {
	switch s {
	case Left:
		return Right
	case Right:
		return Left
	}
	return SideNone
}

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "none"
}

type Ball struct {
	X, Y   float64
	VX, VY float64
}

func (b Ball) Speed() float64 {
	return math.Hypot(b.VX, b.VY)
}

type Paddle struct {
	Y float64 // centre
}

type State struct {
	Tick     int
	Seed     uint64
	MaxScore int
	Ball     Ball
	Paddles  [2]Paddle
	Scores   [2]int
	Rally    int  // paddle hits since the last serve
	Winner   Side // SideNone until a player reaches MaxScore
}

// NewState returns a centred court with the first serve already in flight.
func NewState(seed uint64, maxScore int) State {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}
	s := State{
		Seed:     seed,
		MaxScore: maxScore,
		Paddles:  [2]Paddle{{Y: CourtHeight / 2}, {Y: CourtHeight / 2}},
	}
	s.Ball = serve(s.Seed, s.Tick)
	return s
}

// Over reports whether a player has reached MaxScore.
func (s State) Over() bool {
	return s.Winner != SideNone
}
