package protocol

type Ack struct {
	Error *ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct {
	GameID int64 `json:"gameId"`
}

type GameState struct {
	RoomID  int64           `json:"roomId"`
	Tick    int             `json:"tick"`
	Phase   string          `json:"phase"`
	Paused  bool            `json:"paused"`
	Ball    BallSnapshot    `json:"ball"`
	Paddles PaddlesSnapshot `json:"paddles"`
	Players PlayersSnapshot `json:"players"`
	Scores  ScoresSnapshot  `json:"scores"`
}

type BallSnapshot struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

type PaddlesSnapshot struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

type PlayersSnapshot struct {
	Left  int64 `json:"left"`
	Right int64 `json:"right"`
}

type ScoresSnapshot struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type PlayerDisconnection struct {
	UserID          int64 `json:"userId"`
	SecondsUntilEnd int   `json:"secondsUntilEnd"`
}

// GameEnd is the MatchResult as sent to room subscribers.
type GameEnd struct {
	RoomID     int64  `json:"roomId"`
	LeftID     int64  `json:"player1_id"`
	RightID    int64  `json:"player2_id"`
	LeftScore  int    `json:"player1_score"`
	RightScore int    `json:"player2_score"`
	WinnerID   *int64 `json:"winnerId"`
	Reason     string `json:"reason"`
}

// MatchFound tells a queued or invited player which room to join.
type MatchFound struct {
	RoomID     int64 `json:"roomId"`
	OpponentID int64 `json:"opponentId"`
}
