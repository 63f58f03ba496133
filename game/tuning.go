package game

import "math"

const (
	CourtWidth       = 400.0
	CourtHeight      = 400.0
	PaddleInset      = 10.0  // distance from each goal line to the paddle face
	PaddleHalfHeight = 30.0
	PaddleSpeed      = 300.0 // units per second
	BallBaseSpeed    = 200.0 // units per second, used for every serve
	BallSpeedPerHit  = 15.0  // added on each paddle hit
	BallMaxSpeed     = 480.0
	MaxBounceAngle   = math.Pi / 3 // at the paddle edge
	MaxServeAngle    = math.Pi / 6
	DefaultMaxScore  = 5
)

// LeftPaddleX and RightPaddleX are the x of each paddle face.
const (
	LeftPaddleX  = PaddleInset
	RightPaddleX = CourtWidth - PaddleInset
)
