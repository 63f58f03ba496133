package game

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrSimulationFault marks a state that breaks a physics invariant.
var ErrSimulationFault = errors.New("simulation fault")

type Direction int8

const (
	Down Direction = -1
	Idle Direction = 0
	Up   Direction = 1
)

// Input is the latest paddle intent known for one side.
type Input struct {
	Dir Direction
}

// Inputs is indexed by Side.Index().
type Inputs [2]Input

// Events describes what happened during one Step.
type Events struct {
	Hit    Side // paddle that returned the ball
	Scored Side
	Winner Side
}

// Step advances s by dt seconds. It never mutates its argument and has no
// side effects, so replaying the same inputs yields the same states.
func Step(s State, in Inputs, dt float64) (State, Events) {
	var ev Events
	if s.Over() || dt <= 0 {
		return s, ev
	}
	s.Tick++

	for i := range s.Paddles {
		dir := clamp(float64(in[i].Dir), -1, 1)
		s.Paddles[i].Y = clamp(s.Paddles[i].Y+dir*PaddleSpeed*dt, PaddleHalfHeight, CourtHeight-PaddleHalfHeight)
	}

	b := s.Ball
	nx := b.X + b.VX*dt
	ny := b.Y + b.VY*dt

	hit := false
	if side, t, ok := paddleCrossing(b, nx); ok {
		cy := b.Y + (ny-b.Y)*t
		py := s.Paddles[side.Index()].Y
		if math.Abs(cy-py) <= PaddleHalfHeight {
			b = bounce(b, side, cy, py, (1-t)*dt)
			s.Rally++
			ev.Hit = side
			hit = true
		}
	}
	if !hit {
		b.X, b.Y = nx, ny
	}

	if b.Y > CourtHeight {
		b.Y = 2*CourtHeight - b.Y
		b.VY = -math.Abs(b.VY)
	} else if b.Y < 0 {
		b.Y = -b.Y
		b.VY = math.Abs(b.VY)
	}
	b.Y = clamp(b.Y, 0, CourtHeight)

	scorer := SideNone
	switch {
	case b.X < 0:
		scorer = Right
	case b.X > CourtWidth:
		scorer = Left
	}
	if scorer != SideNone {
		s.Scores[scorer.Index()]++
		s.Rally = 0
		ev.Scored = scorer
		if s.Scores[scorer.Index()] >= s.MaxScore {
			s.Winner = scorer
			ev.Winner = scorer
			b = Ball{X: CourtWidth / 2, Y: CourtHeight / 2}
		} else {
			b = serve(s.Seed, s.Tick)
		}
	}
	b.X = clamp(b.X, 0, CourtWidth)

	s.Ball = b
	return s, ev
}

// paddleCrossing reports which paddle face the ball crosses from the front
// during this tick and at what fraction t of the tick.
func paddleCrossing(b Ball, nx float64) (Side, float64, bool) {
	switch {
	case b.VX < 0 && b.X >= LeftPaddleX && nx < LeftPaddleX:
		return Left, (b.X - LeftPaddleX) / (b.X - nx), true
	case b.VX > 0 && b.X <= RightPaddleX && nx > RightPaddleX:
		return Right, (RightPaddleX - b.X) / (nx - b.X), true
	}
	return SideNone, 0, false
}

// bounce sends the ball back from side's paddle. The outgoing angle grows
// with the distance between the contact point cy and the paddle centre py.
func bounce(b Ball, side Side, cy, py, rest float64) Ball {
	offset := clamp((cy-py)/PaddleHalfHeight, -1, 1)
	angle := offset * MaxBounceAngle
	speed := math.Min(b.Speed()+BallSpeedPerHit, BallMaxSpeed)

	faceX, dirX := LeftPaddleX, 1.0
	if side == Right {
		faceX, dirX = RightPaddleX, -1.0
	}
	b.VX = dirX * speed * math.Cos(angle)
	b.VY = speed * math.Sin(angle)
	b.X = faceX + b.VX*rest
	b.Y = cy + b.VY*rest
	return b
}

// serve puts the ball at the centre with base speed. Direction comes from a
// PCG stream keyed on (seed, tick).
func serve(seed uint64, tick int) Ball {
	r := rand.New(rand.NewPCG(seed, uint64(tick)))
	angle := (r.Float64()*2 - 1) * MaxServeAngle
	dirX := 1.0
	if r.IntN(2) == 0 {
		dirX = -1
	}
	return Ball{
		X:  CourtWidth / 2,
		Y:  CourtHeight / 2,
		VX: dirX * BallBaseSpeed * math.Cos(angle),
		VY: BallBaseSpeed * math.Sin(angle),
	}
}

// Validate checks the invariants Step is supposed to keep.
func Validate(s State) error {
	b := s.Ball
	for _, v := range []float64{b.X, b.Y, b.VX, b.VY, s.Paddles[0].Y, s.Paddles[1].Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at tick %d", ErrSimulationFault, s.Tick)
		}
	}
	if b.X < 0 || b.X > CourtWidth || b.Y < 0 || b.Y > CourtHeight {
		return fmt.Errorf("%w: ball (%.2f, %.2f) outside court", ErrSimulationFault, b.X, b.Y)
	}
	if b.Speed() > BallMaxSpeed+1e-9 {
		return fmt.Errorf("%w: ball speed %.2f above cap", ErrSimulationFault, b.Speed())
	}
	for i, p := range s.Paddles {
		if p.Y < PaddleHalfHeight || p.Y > CourtHeight-PaddleHalfHeight {
			return fmt.Errorf("%w: %s paddle at %.2f", ErrSimulationFault, SideAt(i), p.Y)
		}
	}
	if s.Scores[0] < 0 || s.Scores[1] < 0 {
		return fmt.Errorf("%w: negative score %v", ErrSimulationFault, s.Scores)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
