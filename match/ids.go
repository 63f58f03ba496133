package match

import (
	"context"
	"sync/atomic"
)

// IDAllocator hands out room ids.
type IDAllocator interface {
	NextRoomID(ctx context.Context, players [2]int64, public bool) (int64, error)
}

// Counter allocates ids from memory. Used when no database is configured.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) NextRoomID(context.Context, [2]int64, bool) (int64, error) {
	return c.n.Add(1), nil
}

// Directory answers identity questions. Implementations may hit a database.
type Directory interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	CanInvite(ctx context.Context, from, to int64) (bool, error)
}

// OpenDirectory accepts every positive id and every invite.
type OpenDirectory struct{}

func (OpenDirectory) UserExists(_ context.Context, id int64) (bool, error) { return id > 0, nil }

func (OpenDirectory) CanInvite(_ context.Context, from, to int64) (bool, error) {
	return from > 0 && to > 0, nil
}
