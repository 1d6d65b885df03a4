package hub

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/byte-battle-backend/internal/battle"
	"github.com/DoyleJ11/byte-battle-backend/internal/room"
	"github.com/DoyleJ11/byte-battle-backend/internal/session"
	"github.com/DoyleJ11/byte-battle-backend/pkg/types"
)

func client(id string) room.Client {
	return room.Client{ID: id, Name: id, Outbox: make(chan types.ServerMessage, 16)}
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, Config{Rules: battle.DefaultRules()})
	defer h.Shutdown()

	rm1, err := h.Create(ctx, client("p1"))
	require.NoError(t, err)

	rm2, ok := h.Get(ctx, rm1.Code())
	require.True(t, ok)
	assert.Same(t, rm1, rm2)

	rm3, ok := h.Get(ctx, " "+strings.ToLower(rm1.Code())+" ")
	require.True(t, ok, "lookup ignores case and whitespace")
	assert.Same(t, rm1, rm3)

	_, ok = h.Get(ctx, "????")
	assert.False(t, ok)
}

func TestHub_RetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAA", "AAAA", "AAAA", "BBBB"}
	next := 0
	h := NewHub(ctx, Config{
		Rules: battle.DefaultRules(),
		NewCode: func() (string, error) {
			c := codes[next]
			next++
			return c, nil
		},
	})
	defer h.Shutdown()

	first, err := h.Create(ctx, client("p1"))
	require.NoError(t, err)
	second, err := h.Create(ctx, client("p2"))
	require.NoError(t, err)

	assert.Equal(t, "AAAA", first.Code())
	assert.Equal(t, "BBBB", second.Code())
	assert.Len(t, h.List(ctx), 2)
}

func TestHub_GivesUpWhenCodesExhausted(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, Config{
		Rules:   battle.DefaultRules(),
		NewCode: func() (string, error) { return "AAAA", nil },
	})
	defer h.Shutdown()

	_, err := h.Create(ctx, client("p1"))
	require.NoError(t, err)
	_, err = h.Create(ctx, client("p2"))
	assert.ErrorIs(t, err, ErrNoFreeCode)
}

func TestHub_ClosedRoomIsRemoved(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, Config{Rules: battle.DefaultRules()})
	defer h.Shutdown()

	host := client("p1")
	rm, err := h.Create(ctx, host)
	require.NoError(t, err)

	require.NoError(t, rm.Send(ctx, room.Sweep{Now: time.Now().Add(time.Hour)}))
	<-rm.Done()

	require.Eventually(t, func() bool {
		_, ok := h.Get(ctx, rm.Code())
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// slowRegistry holds every Bind until release is closed.
type slowRegistry struct {
	*session.Memory
	release chan struct{}
}

func (r slowRegistry) Bind(ctx context.Context, playerID, code string) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Memory.Bind(ctx, playerID, code)
}

func TestHub_SlowRegistryDoesNotBlockLookups(t *testing.T) {
	ctx := context.Background()
	reg := slowRegistry{Memory: session.NewMemory(), release: make(chan struct{})}
	h := NewHub(ctx, Config{Rules: battle.DefaultRules(), Room: room.Deps{Registry: reg, DepTimeout: 5 * time.Second}})
	defer h.Shutdown()

	host := client("p1")
	lookupCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	rm, err := h.Create(lookupCtx, host)
	require.NoError(t, err)
	_, ok := h.Get(lookupCtx, rm.Code())
	assert.True(t, ok)
	assert.Len(t, h.List(lookupCtx), 1)

	_, bound, err := reg.Resolve(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, bound, "bind still in flight")

	close(reg.release)
	require.Eventually(t, func() bool {
		code, ok, _ := reg.Resolve(ctx, "p1")
		return ok && code == rm.Code()
	}, time.Second, 10*time.Millisecond)
}

func TestGenerateCode(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{4}$`)
	for range 50 {
		c, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, re, c)
	}
}
