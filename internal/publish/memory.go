package publish

import (
	"context"
	"sync"
)

// Memory is an in-memory Publisher and StatusSource for tests.
type Memory struct {
	mu         sync.RWMutex
	presences  []string
	renames    []string
	presenceErr error
	renameErr   error
	ready       bool
	reconnects  chan struct{}
}

// NewMemory returns a ready memory publisher.
func NewMemory() *Memory {
	return &Memory{ready: true, reconnects: make(chan struct{}, 1)}
}

// SetPresence records the presence text or fails with the configured error.
func (m *Memory) SetPresence(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presenceErr != nil {
		return m.presenceErr
	}
	m.presences = append(m.presences, text)
	return nil
}

// RenameChannel records the name or fails with the configured error.
func (m *Memory) RenameChannel(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renameErr != nil {
		return m.renameErr
	}
	m.renames = append(m.renames, name)
	return nil
}

// Ready reports the configured readiness.
func (m *Memory) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Reconnects exposes the reconnect signal channel.
func (m *Memory) Reconnects() <-chan struct{} {
	return m.reconnects
}

// SignalReconnect emits one reconnect signal.
func (m *Memory) SignalReconnect() {
	select {
	case m.reconnects <- struct{}{}:
	default:
	}
}

// SetReady flips the readiness flag.
func (m *Memory) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// FailPresence makes subsequent presence calls return err.
func (m *Memory) FailPresence(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presenceErr = err
}

// FailRename makes subsequent rename calls return err.
func (m *Memory) FailRename(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renameErr = err
}

// Presences returns recorded presence texts.
func (m *Memory) Presences() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.presences...)
}

// Renames returns recorded channel names.
func (m *Memory) Renames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.renames...)
}
