package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/call-gateway/internal/models"
)

func TestMemoryDeliversToAllSubscribers(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	var got []models.Notice
	require.NoError(t, b.Subscribe(ctx, func(n models.Notice) { got = append(got, n) }))
	require.NoError(t, b.Subscribe(ctx, func(n models.Notice) { got = append(got, n) }))

	require.NoError(t, b.Publish(ctx, models.Notice{
		Type:   models.NoticeJoin,
		RoomID: "room-1",
		PeerID: "alice",
	}))

	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].PeerID)
	assert.Equal(t, got[0], got[1])
}

func TestMemoryDropsUnknownNoticeTypes(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	delivered := 0
	require.NoError(t, b.Subscribe(ctx, func(models.Notice) { delivered++ }))
	require.NoError(t, b.Publish(ctx, models.Notice{Type: "gossip", RoomID: "room-1"}))
	assert.Zero(t, delivered)
}
