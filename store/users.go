package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Users answers identity questions from the account tables, which belong to
// the wider application and are only read here.
type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

func (u *Users) UserExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := u.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM "user" WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("look up user %d: %w", id, err)
	}
	return ok, nil
}

// CanInvite reports whether from may send to a private game request: they
// must be friends and neither may have blocked the other.
func (u *Users) CanInvite(ctx context.Context, from, to int64) (bool, error) {
	var ok bool
	err := u.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM friend WHERE "userId" = $1 AND "friendId" = $2
		 ) AND NOT EXISTS (
		     SELECT 1 FROM "blockedUser"
		     WHERE ("blockedById" = $1 AND "blockedId" = $2)
		        OR ("blockedById" = $2 AND "blockedId" = $1)
		 )`, from, to,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check invite %d -> %d: %w", from, to, err)
	}
	return ok, nil
}
