package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"pong/room"
)

// Queue holds results that could not be written yet.
type Queue interface {
	Push(ctx context.Context, res room.Result) error
	Pop(ctx context.Context) (room.Result, bool, error)
	Len(ctx context.Context) (int64, error)
}

type MemoryQueue struct {
	mu    sync.Mutex
	items []room.Result
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, res room.Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, res)
	return nil
}

func (q *MemoryQueue) Pop(context.Context) (room.Result, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return room.Result{}, false, nil
	}
	res := q.items[0]
	q.items = q.items[1:]
	return res, true, nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

const pendingKey = "pong:pending_results"

// RedisQueue keeps pending results in a Redis list so they survive a
// restart of this process.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: pendingKey}
}

func (q *RedisQueue) Push(ctx context.Context, res room.Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return q.rdb.RPush(ctx, q.key, b).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (room.Result, bool, error) {
	s, err := q.rdb.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return room.Result{}, false, nil
	}
	if err != nil {
		return room.Result{}, false, err
	}
	var res room.Result
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return room.Result{}, false, fmt.Errorf("decode result: %w", err)
	}
	return res, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
