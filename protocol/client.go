package protocol

//input structs coming in from the client.

type JoinRoom struct {
	RoomID int64 `json:"roomId" validate:"gt=0"`
}

type PaddleIntent struct {
	Direction string `json:"direction" validate:"oneof=idle up down"`
}

type Ping struct {
	GameID int64 `json:"gameId" validate:"gte=0"`
}

type LeaveGame struct{}
