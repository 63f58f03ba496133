package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pong/room"
)

const channelPrefix = "pong:room:"

const (
	publishTimeout = time.Second
	publishBuffer  = 1024
)

// Channel is the pub/sub channel for a room.
func Channel(roomID int64) string {
	return channelPrefix + strconv.FormatInt(roomID, 10)
}

type frame struct {
	Origin string          `json:"origin"`
	RoomID int64           `json:"roomId"`
	Msg    json.RawMessage `json:"msg"`
}

// Fanout delivers room broadcasts to local subscribers right away and
// publishes them to Redis so other instances can reach theirs. Publishing
// happens on Run's goroutine; Broadcast never waits on Redis.
type Fanout struct {
	rdb     *redis.Client
	local   room.Broadcaster
	origin  string
	pending chan frame
	dropped atomic.Int64
	log     *zap.Logger
}

func New(rdb *redis.Client, local room.Broadcaster, log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{
		rdb:     rdb,
		local:   local,
		origin:  uuid.NewString(),
		pending: make(chan frame, publishBuffer),
		log:     log,
	}
}

// Broadcast delivers locally and queues msg for publishing. When the
// publish queue is full the frame is only delivered locally.
func (f *Fanout) Broadcast(roomID int64, msg []byte) {
	f.local.Broadcast(roomID, msg)

	select {
	case f.pending <- frame{Origin: f.origin, RoomID: roomID, Msg: msg}:
	default:
		if n := f.dropped.Add(1); n == 1 || n%1000 == 0 {
			f.log.Warn("publish queue full, frame not relayed", zap.Int64("room", roomID), zap.Int64("dropped", n))
		}
	}
}

// Dropped is the number of frames that were never queued for publishing.
func (f *Fanout) Dropped() int64 {
	return f.dropped.Load()
}

func (f *Fanout) publish(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fr := <-f.pending:
			payload, err := json.Marshal(fr)
			if err != nil {
				f.log.Error("encode fanout frame", zap.Int64("room", fr.RoomID), zap.Error(err))
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = f.rdb.Publish(pctx, Channel(fr.RoomID), payload).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				f.log.Warn("publish to redis failed", zap.String("channel", Channel(fr.RoomID)), zap.Error(err))
			}
		}
	}
}

// Run publishes queued frames and relays frames published by other
// instances to local subscribers until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	go f.publish(ctx)

	ps := f.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", channelPrefix, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			f.deliver(m)
		}
	}
}

func (f *Fanout) deliver(m *redis.Message) {
	var fr frame
	if err := json.Unmarshal([]byte(m.Payload), &fr); err != nil {
		f.log.Warn("bad fanout frame", zap.String("channel", m.Channel), zap.Error(err))
		return
	}
	if fr.Origin == f.origin {
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(m.Channel, channelPrefix), 10, 64)
	if err != nil || id != fr.RoomID {
		f.log.Warn("fanout frame on unexpected channel", zap.String("channel", m.Channel))
		return
	}
	f.local.Broadcast(fr.RoomID, fr.Msg)
}
