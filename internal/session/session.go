// Package session maps a stable player id to the live room it is bound to.
package session

import (
	"context"
	"sync"
)

// Registry is keyed by player id, never by connection, so a reconnect resolves to the
// same room.
type Registry interface {
	Bind(ctx context.Context, playerID, code string) error
	Resolve(ctx context.Context, playerID string) (code string, ok bool, err error)
	// Claim binds playerID to code unless it is bound to another room, and returns the
	// room the player is bound to afterwards. The claim succeeded when that is code.
	Claim(ctx context.Context, playerID, code string) (holder string, err error)
	// Unbind removes the binding only while it still points at code, so a stale room
	// cannot clear a player's newer binding.
	Unbind(ctx context.Context, playerID, code string) error
}

type Memory struct {
	mu       sync.RWMutex
	bindings map[string]string
}

func NewMemory() *Memory {
	return &Memory{bindings: make(map[string]string)}
}

func (m *Memory) Bind(_ context.Context, playerID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[playerID] = code
	return nil
}

func (m *Memory) Resolve(_ context.Context, playerID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.bindings[playerID]
	return code, ok, nil
}

func (m *Memory) Claim(_ context.Context, playerID, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.bindings[playerID]; ok {
		return cur, nil
	}
	m.bindings[playerID] = code
	return code, nil
}

func (m *Memory) Unbind(_ context.Context, playerID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindings[playerID] == code {
		delete(m.bindings, playerID)
	}
	return nil
}
