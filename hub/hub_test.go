package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   bool
}

func (f *fakeConn) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("queue full")
	}
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterReplacesOldConnection(t *testing.T) {
	h := New(nil)
	first := &fakeConn{}
	second := &fakeConn{}

	id1 := h.Register(1, first)
	id2 := h.Register(1, second)
	require.NotEqual(t, id1, id2)
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	// the stale reader exits and must not evict the new connection
	assert.False(t, h.Unregister(1, id1))
	got, ok := h.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, h.Unregister(1, id2))
	assert.Equal(t, 0, h.Online())
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	h := New(nil)
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Register(1, a)
	h.Register(2, b)
	h.Register(3, c)
	h.Subscribe(10, 1)
	h.Subscribe(10, 2)
	h.Subscribe(11, 3)

	h.Broadcast(10, []byte("x"))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, c.count())
}

func TestSubscriptionSurvivesReconnect(t *testing.T) {
	h := New(nil)
	old := &fakeConn{}
	id := h.Register(1, old)
	h.Subscribe(10, 1)
	h.Unregister(1, id)

	h.Broadcast(10, []byte("missed"))

	fresh := &fakeConn{}
	h.Register(1, fresh)
	h.Broadcast(10, []byte("x"))
	assert.Equal(t, 0, old.count())
	assert.Equal(t, 1, fresh.count())
}

func TestSubscribeMovesUser(t *testing.T) {
	h := New(nil)
	a := &fakeConn{}
	h.Register(1, a)
	h.Subscribe(10, 1)
	h.Subscribe(11, 1)

	h.Broadcast(10, []byte("x"))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, int64(11), h.SubscribedTo(1))

	h.DropRoom(11)
	assert.Equal(t, int64(0), h.SubscribedTo(1))
}

func TestBroadcastDropsFailingConnection(t *testing.T) {
	h := New(nil)
	bad := &fakeConn{fail: true}
	id := h.Register(1, bad)
	h.Subscribe(10, 1)

	h.Broadcast(10, []byte("x"))
	assert.True(t, bad.isClosed())

	// the reader still owns the registration, so its exit is seen as current
	assert.True(t, h.Current(1, id))
	assert.True(t, h.Unregister(1, id))
	_, ok := h.Lookup(1)
	assert.False(t, ok)
}

func TestCurrentTracksReplacement(t *testing.T) {
	h := New(nil)
	id1 := h.Register(1, &fakeConn{})
	assert.True(t, h.Current(1, id1))

	id2 := h.Register(1, &fakeConn{})
	assert.False(t, h.Current(1, id1))
	assert.True(t, h.Current(1, id2))
	assert.False(t, h.Current(2, id2))
}
