package telegram

import (
	"sync"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingBroadcast
)

// StateManager tracks per-user conversation state outside the key wizard.
type StateManager struct {
	mu       sync.RWMutex
	sessions map[int64]SessionState
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]SessionState),
	}
}

func (m *StateManager) Get(userID int64) SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID]
}

func (m *StateManager) Set(userID int64, state SessionState) {
	m.mu.Lock()
	m.sessions[userID] = state
	m.mu.Unlock()
}

func (m *StateManager) Reset(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Take returns the current state and resets it in one step.
func (m *StateManager) Take(userID int64) SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.sessions[userID]
	delete(m.sessions, userID)
	return state
}
