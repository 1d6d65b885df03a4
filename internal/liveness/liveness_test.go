package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/hub"
	"github.com/DoyleJ11/byte-battle-backend/internal/room"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

func TestSweepOnce_ClosesStaleRooms(t *testing.T) {
	ctx := context.Background()
	h := hub.NewHub(ctx, hub.Config{Rules: battle.DefaultRules()})
	defer h.Shutdown()

	out := make(chan types.ServerMessage, 16)
	rm, err := h.Create(ctx, room.Client{ID: "p1", Name: "alice", Outbox: out})
	require.NoError(t, err)

	m := NewMonitor(h, time.Second, zap.NewNop())

	// fresh room survives
	assert.Equal(t, 1, m.SweepOnce(ctx))
	require.Never(t, func() bool {
		select {
		case <-rm.Done():
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)

	// pretend the heartbeat timeout has passed
	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, m.SweepOnce(ctx))

	select {
	case <-rm.Done():
	case <-time.After(time.Second):
		t.Fatalf("stale room not closed")
	}
	require.Eventually(t, func() bool { return len(h.List(ctx)) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRun_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, hub.Config{Rules: battle.DefaultRules()})

	done := make(chan error, 1)
	go func() { done <- NewMonitor(h, time.Second, zap.NewNop()).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("monitor did not stop")
	}
}
