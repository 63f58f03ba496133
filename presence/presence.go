package presence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"pong/room"
)

const (
	EventRoomOpened = "room_opened"
	EventRoomClosed = "room_closed"
)

// Event is what other services see when a room opens or closes.
type Event struct {
	Type     string    `json:"type"`
	RoomID   int64     `json:"roomId"`
	Public   bool      `json:"isPublic"`
	Players  [2]int64  `json:"players"`
	Scores   *[2]int   `json:"scores,omitempty"`
	WinnerID *int64    `json:"winnerId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

func Opened(info room.Info, at time.Time) Event {
	return Event{
		Type:    EventRoomOpened,
		RoomID:  info.ID,
		Public:  info.Public,
		Players: info.Players,
		At:      at,
	}
}

func Closed(res room.Result) Event {
	ev := Event{
		Type:    EventRoomClosed,
		RoomID:  res.RoomID,
		Public:  res.Public,
		Players: res.Players,
		Reason:  string(res.Reason),
		At:      res.EndedAt,
	}
	if res.Started {
		scores := res.Scores
		ev.Scores = &scores
	}
	if res.Winner != 0 {
		w := res.Winner
		ev.WinnerID = &w
	}
	return ev
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes room events keyed by room id, so one room's events stay
// ordered within a partition.
type Kafka struct {
	w   messageWriter
	log *zap.Logger
}

func NewKafka(cfg KafkaConfig, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return &Kafka{w: w, log: log}
}

func (k *Kafka) RoomOpened(ctx context.Context, info room.Info) {
	k.publish(ctx, Opened(info, time.Now()))
}

func (k *Kafka) RoomClosed(ctx context.Context, res room.Result) {
	k.publish(ctx, Closed(res))
}

func (k *Kafka) publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		k.log.Error("encode room event", zap.Int64("room", ev.RoomID), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.RoomID, 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		k.log.Warn("publish room event failed",
			zap.String("type", ev.Type),
			zap.Int64("room", ev.RoomID),
			zap.Error(err),
		)
	}
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Log only writes room events to the log. Used when no brokers are set.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) RoomOpened(_ context.Context, info room.Info) {
	l.log.Info("room opened", zap.Int64("room", info.ID), zap.Int64s("players", info.Players[:]))
}

func (l *Log) RoomClosed(_ context.Context, res room.Result) {
	l.log.Info("room closed",
		zap.Int64("room", res.RoomID),
		zap.String("reason", string(res.Reason)),
		zap.Int64("winner", res.Winner),
	)
}
