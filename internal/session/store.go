// Package session keeps the caption workflow state of each browser session.
package session

import (
	"context"
	"sync"
	"time"

	"image-captioner/internal/models"
)

// Store holds one State per session together with the sequence number of the latest request.
type Store interface {
	// Get returns the current state and latest sequence. Unknown sessions are idle with sequence 0.
	Get(ctx context.Context, id string) (models.State, uint64, error)
	// Begin bumps the session sequence and stores state under the new number.
	Begin(ctx context.Context, id string, state models.State) (uint64, error)
	// Commit stores state only if seq is still the latest sequence of the session.
	Commit(ctx context.Context, id string, seq uint64, state models.State) (bool, error)
}

type entry struct {
	seq     uint64
	state   models.State
	touched time.Time
}

// Memory is an in-process Store. Sessions idle for longer than ttl are dropped.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, id string) (models.State, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(id)
	if !ok {
		return models.IdleState(), 0, nil
	}
	return e.state, e.seq, nil
}

func (m *Memory) Begin(_ context.Context, id string, state models.State) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep()
	e, ok := m.lookup(id)
	if !ok {
		e = &entry{}
		m.sessions[id] = e
	}
	e.seq++
	e.state = state
	e.touched = m.now()
	return e.seq, nil
}

func (m *Memory) Commit(_ context.Context, id string, seq uint64, state models.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(id)
	if !ok || e.seq != seq {
		return false, nil
	}
	e.state = state
	e.touched = m.now()
	return true, nil
}

func (m *Memory) lookup(id string) (*entry, bool) {
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if m.expired(e) {
		delete(m.sessions, id)
		return nil, false
	}
	return e, true
}

func (m *Memory) expired(e *entry) bool {
	return m.ttl > 0 && m.now().Sub(e.touched) > m.ttl
}

func (m *Memory) sweep() {
	for id, e := range m.sessions {
		if m.expired(e) {
			delete(m.sessions, id)
		}
	}
}
