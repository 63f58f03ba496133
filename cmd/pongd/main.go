package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pong/config"
	"pong/fanout"
	"pong/hub"
	"pong/logging"
	"pong/match"
	"pong/network"
	"pong/presence"
	"pong/room"
	"pong/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(log.Named("hub"))
	var out room.Broadcaster = h

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		fo := fanout.New(rdb, h, log.Named("fanout"))
		out = fo
		go func() {
			if err := fo.Run(ctx); err != nil {
				log.Error("fanout stopped", zap.Error(err))
			}
		}()
		log.Info("redis fan-out enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var (
		dir      match.Directory = match.OpenDirectory{}
		ids      match.IDAllocator = &match.Counter{}
		recorder *store.Recorder
		results  network.ResultReader
	)
	if cfg.Postgres.URL != "" {
		if cfg.Postgres.Migrate {
			if err := store.Migrate(cfg.Postgres.URL, log.Named("migrate")); err != nil {
				return err
			}
		}
		pool, err := store.Open(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		games := store.NewGames(pool)
		dir = store.NewUsers(pool)
		ids = games
		results = games

		var queue store.Queue = store.NewMemoryQueue()
		if rdb != nil {
			queue = store.NewRedisQueue(rdb)
		}
		rc := store.DefaultRecorderConfig()
		rc.Retries = cfg.Recorder.Retries
		rc.FlushInterval = cfg.Recorder.FlushInterval
		recorder = store.NewRecorder(games, queue, rc, log.Named("recorder"))
		go recorder.Run(ctx)
	} else {
		log.Warn("no database configured, results are not persisted")
	}

	var notifier room.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		k := presence.NewKafka(presence.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, log.Named("kafka"))
		defer k.Close()
		notifier = k
	} else {
		notifier = presence.NewLog(log.Named("presence"))
	}

	hooks := room.Hooks{Notifier: notifier, OnClose: h.DropRoom}
	if recorder != nil {
		hooks.Recorder = recorder
	}
	rooms := room.NewManager(cfg.Room(), out, hooks, log.Named("room"))

	mm := match.New(rooms, dir, ids, log.Named("match"))
	gw := network.NewGateway(h, rooms, mm, network.NewAuth(cfg.Auth.JWTSecret), network.GatewayConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Server.SendBuffer,
		Results:        results,
	}, log.Named("gateway"))
	mm.OnPaired = gw.NotifyPaired

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           network.NewRouter(gw),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			rooms.Close()
			return fmt.Errorf("listen: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	rooms.Close()
	if recorder != nil {
		recorder.Wait()
		if n, err := recorder.Flush(shutdownCtx); err != nil {
			log.Warn("results left pending", zap.Int("flushed", n), zap.Error(err))
		}
	}
	return nil
}
