package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubConn struct {
	closed int
}

func (c *stubConn) Send(frame any) {}
func (c *stubConn) Close()         { c.closed++ }

func newTestSession(roomID, userID string) (*Session, *stubConn) {
	conn := &stubConn{}
	return &Session{
		UserID: userID,
		RoomID: roomID,
		PeerID: userID,
		Conn:   conn,
	}, conn
}

func TestRegisterThenActivate(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	s.State = StateTokenValid

	evicted := r.Register(s)
	assert.Nil(t, evicted)
	assert.NotEmpty(t, s.Key)
	assert.Equal(t, 1, r.Count())

	// Registered but not yet activated: invisible to dispatch.
	_, ok := r.GetActive(s.Key)
	assert.False(t, ok)

	require.True(t, r.Activate(s.Key))
	got, ok := r.GetActive(s.Key)
	require.True(t, ok)
	assert.Equal(t, StateActive, got.State)
}

func TestActivateFailsAfterEviction(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	r.Register(s)

	rival, _ := newTestSession("room-1", "alice")
	r.Register(rival)

	assert.False(t, r.Activate(s.Key), "evicted mid-join session cannot go live")
	assert.True(t, r.Activate(rival.Key))
}

func TestGetActiveRequiresLiveSession(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	r.Register(s)
	r.Activate(s.Key)

	_, ok := r.GetActive(s.Key)
	require.True(t, ok)

	rival, _ := newTestSession("room-1", "alice")
	r.Register(rival)
	_, ok = r.GetActive(s.Key)
	assert.False(t, ok, "evicted session is not dispatchable")

	r.Remove(rival.Key)
	_, ok = r.GetActive(rival.Key)
	assert.False(t, ok, "removed session is not dispatchable")
}

// Lookups on a retained key must stay safe while rival joins evict and
// re-register the same pair from another goroutine.
func TestConcurrentEvictionAndLookups(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	first, _ := newTestSession("room-1", "alice")
	r.Register(first)
	r.Activate(first.Key)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			next, _ := newTestSession("room-1", "alice")
			r.Register(next)
			r.Activate(next.Key)
		}
	}()
	for {
		select {
		case <-done:
			assert.Equal(t, 1, r.Count())
			return
		default:
			r.GetActive(first.Key)
			r.ByTransport("t-none")
		}
	}
}

func TestRegisterEvictsSameRoomUser(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	old, oldConn := newTestSession("room-1", "alice")
	r.Register(old)

	replacement, _ := newTestSession("room-1", "alice")
	evicted := r.Register(replacement)

	require.NotNil(t, evicted)
	assert.Equal(t, old.Key, evicted.Key)
	assert.Equal(t, StateClosed, evicted.State)
	assert.Equal(t, 1, oldConn.closed)

	// Exactly the new session remains for the pair.
	assert.Equal(t, 1, r.Count())
	got, ok := r.Get(replacement.Key)
	require.True(t, ok)
	assert.Equal(t, replacement, got)
	_, ok = r.Get(old.Key)
	assert.False(t, ok)
}

func TestRegisterDoesNotEvictOtherPairs(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a, _ := newTestSession("room-1", "alice")
	b, _ := newTestSession("room-1", "bob")
	c, _ := newTestSession("room-2", "alice")
	r.Register(a)

	assert.Nil(t, r.Register(b))
	assert.Nil(t, r.Register(c))
	assert.Equal(t, 3, r.Count())
}

func TestRemoveReportsFirstCallOnly(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	r.Register(s)

	got, ok := r.Remove(s.Key)
	require.True(t, ok)
	assert.Equal(t, s, got)
	assert.Equal(t, StateClosed, got.State)

	_, ok = r.Remove(s.Key)
	assert.False(t, ok)
}

func TestByTransport(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	r.Register(s)
	r.SetTransports(s.Key, "t-send", "t-recv")

	got, ok := r.ByTransport("t-send")
	require.True(t, ok)
	assert.Equal(t, s.Key, got.Key)

	got, ok = r.ByTransport("t-recv")
	require.True(t, ok)
	assert.Equal(t, s.Key, got.Key)

	_, ok = r.ByTransport("t-unknown")
	assert.False(t, ok)
}

func TestForRoomAndForUser(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a, _ := newTestSession("room-1", "alice")
	b, _ := newTestSession("room-1", "bob")
	c, _ := newTestSession("room-2", "alice")
	r.Register(a)
	r.Register(b)
	r.Register(c)

	assert.Len(t, r.ForRoom("room-1"), 2)
	assert.Len(t, r.ForRoom("room-2"), 1)
	assert.Len(t, r.ForRoom("room-3"), 0)
	assert.Len(t, r.ForUser("alice"), 2)
	assert.Len(t, r.ForUser("carol"), 0)
}

func TestReserveProducerPerKind(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	r.Register(s)

	require.True(t, r.ReserveProducer(s.Key, "video"))
	// Reservation holds the slot even before the backend id is known.
	assert.False(t, r.ReserveProducer(s.Key, "video"))
	assert.True(t, r.ReserveProducer(s.Key, "audio"))

	r.SetProducer(s.Key, "video", "p-1")
	assert.False(t, r.ReserveProducer(s.Key, "video"))
	assert.Equal(t, "p-1", r.Producers(s.Key)["video"])

	r.ClearProducer(s.Key, "video")
	assert.True(t, r.ReserveProducer(s.Key, "video"))
}

func TestClearProducerByID(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s, _ := newTestSession("room-1", "alice")
	r.Register(s)

	r.ReserveProducer(s.Key, "audio")
	r.SetProducer(s.Key, "audio", "p-9")
	r.ClearProducerByID(s.Key, "p-9")

	assert.Empty(t, r.Producers(s.Key))
	assert.True(t, r.ReserveProducer(s.Key, "audio"))
}

func TestReserveProducerUnknownSession(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	assert.False(t, r.ReserveProducer("missing", "audio"))
}
