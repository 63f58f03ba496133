package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"pong/room"
)

// ResultWriter persists a finished match.
type ResultWriter interface {
	SaveResult(ctx context.Context, res room.Result) error
}

type RecorderConfig struct {
	Retries         uint64
	InitialInterval time.Duration
	FlushInterval   time.Duration
	WriteTimeout    time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Retries:         3,
		InitialInterval: 200 * time.Millisecond,
		FlushInterval:   30 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// Recorder writes results in the background. A write that keeps failing
// after the retries goes to the pending queue, which Run drains later.
type Recorder struct {
	w   ResultWriter
	q   Queue
	cfg RecorderConfig
	log *zap.Logger

	wg sync.WaitGroup
}

func NewRecorder(w ResultWriter, q Queue, cfg RecorderConfig, log *zap.Logger) *Recorder {
	if q == nil {
		q = NewMemoryQueue()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultRecorderConfig().WriteTimeout
	}
	return &Recorder{w: w, q: q, cfg: cfg, log: log}
}

// Record saves res without blocking the caller.
func (r *Recorder) Record(res room.Result) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout*time.Duration(r.cfg.Retries+1))
		defer cancel()
		if err := r.save(ctx, res); err != nil {
			r.park(res, err)
		}
	}()
}

func (r *Recorder) save(ctx context.Context, res room.Result) error {
	eb := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		eb.InitialInterval = r.cfg.InitialInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.cfg.Retries), ctx)

	op := func() error {
		wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
		defer cancel()
		return r.w.SaveResult(wctx, res)
	}
	notify := func(err error, next time.Duration) {
		r.log.Warn("save result failed, retrying",
			zap.Int64("room", res.RoomID),
			zap.Duration("in", next),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, b, notify)
}

// park queues res with its own deadline; the write's may already be spent.
func (r *Recorder) park(res room.Result, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()
	if err := r.q.Push(ctx, res); err != nil {
		r.log.Error("result lost",
			zap.Int64("room", res.RoomID),
			zap.NamedError("save", cause),
			zap.Error(err),
		)
		return
	}
	r.log.Warn("result queued for later", zap.Int64("room", res.RoomID), zap.Error(cause))
}

// Flush retries queued results once each. It stops at the first failure and
// puts that result back.
func (r *Recorder) Flush(ctx context.Context) (int, error) {
	n := 0
	for {
		res, ok, err := r.q.Pop(ctx)
		if err != nil {
			return n, fmt.Errorf("pop pending result: %w", err)
		}
		if !ok {
			return n, nil
		}
		wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
		err = r.w.SaveResult(wctx, res)
		cancel()
		if err != nil {
			r.park(res, err)
			return n, fmt.Errorf("flush result for room %d: %w", res.RoomID, err)
		}
		n++
	}
}

// Run flushes the queue every FlushInterval until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	if r.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if n > 0 {
				r.log.Info("flushed pending results", zap.Int("count", n))
			}
			if err != nil {
				r.log.Warn("flush stopped", zap.Error(err))
			}
		}
	}
}

// Wait blocks until in-flight Record calls are done.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
