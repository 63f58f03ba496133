package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pong/room"
)

// Open connects a pool and checks it answers.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Games reads and writes the game table.
type Games struct {
	pool *pgxpool.Pool
}

func NewGames(pool *pgxpool.Pool) *Games {
	return &Games{pool: pool}
}

// NextRoomID reserves a game row and uses its id for the room.
func (g *Games) NextRoomID(ctx context.Context, players [2]int64, public bool) (int64, error) {
	var id int64
	err := g.pool.QueryRow(ctx,
		`INSERT INTO game ("isPublic", player1_id, player2_id)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		public, nullID(players[0]), nullID(players[1]),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	return id, nil
}

// SaveResult writes a finished match. A result is written at most once per
// game id; later calls for the same id leave the row alone.
func (g *Games) SaveResult(ctx context.Context, res room.Result) error {
	_, err := g.pool.Exec(ctx,
		`INSERT INTO game (id, "isPublic", player1_id, player1_score, player2_id, player2_score, "winnerId", "endReason", "endedAt")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     player1_id    = EXCLUDED.player1_id,
		     player1_score = EXCLUDED.player1_score,
		     player2_id    = EXCLUDED.player2_id,
		     player2_score = EXCLUDED.player2_score,
		     "winnerId"    = EXCLUDED."winnerId",
		     "endReason"   = EXCLUDED."endReason",
		     "endedAt"     = EXCLUDED."endedAt"
		 WHERE game."endedAt" IS NULL`,
		res.RoomID, res.Public,
		nullID(res.Players[0]), res.Scores[0],
		nullID(res.Players[1]), res.Scores[1],
		nullID(res.Winner), string(res.Reason), res.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save result for game %d: %w", res.RoomID, err)
	}
	return nil
}

// Result loads a stored result. Open games have no result.
func (g *Games) Result(ctx context.Context, id int64) (room.Result, bool, error) {
	var (
		res    room.Result
		p1, p2 *int64
		s1, s2 *int32
		winner *int64
		reason *string
		ended  *time.Time
	)
	err := g.pool.QueryRow(ctx,
		`SELECT id, "isPublic", player1_id, player1_score, player2_id, player2_score, "winnerId", "endReason", "endedAt"
		 FROM game WHERE id = $1`, id,
	).Scan(&res.RoomID, &res.Public, &p1, &s1, &p2, &s2, &winner, &reason, &ended)
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Result{}, false, nil
	}
	if err != nil {
		return room.Result{}, false, fmt.Errorf("load game %d: %w", id, err)
	}
	if ended == nil {
		return room.Result{}, false, nil
	}
	res.Players = [2]int64{deref(p1), deref(p2)}
	res.Scores = [2]int{int(deref(s1)), int(deref(s2))}
	res.Winner = deref(winner)
	res.Reason = room.EndReason(deref(reason))
	res.EndedAt = *ended
	res.Started = true
	return res, true, nil
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
