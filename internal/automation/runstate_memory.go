package automation

import (
	"context"
	"sync"
	"time"
)

// MemoryRunState keeps run state in process. It is used when no Redis is
// configured.
type MemoryRunState struct {
	mu     sync.Mutex
	states map[string]RunState
}

func NewMemoryRunState() *MemoryRunState {
	return &MemoryRunState{states: map[string]RunState{}}
}

func (m *MemoryRunState) SetRunning(_ context.Context, user string, running bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[user]
	st.IsRunning = running
	if running {
		st.StartedAt = at
	}
	m.states[user] = st
	return nil
}

func (m *MemoryRunState) RecordCheck(_ context.Context, user string, at time.Time, actions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[user]
	st.LastCheck = at
	st.LastActionCount = actions
	m.states[user] = st
	return nil
}

func (m *MemoryRunState) Status(_ context.Context, user string) (RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[user], nil
}
