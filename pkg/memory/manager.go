// Package memory keeps per-user conversation histories in process memory and
// assembles model requests from them.
package memory

import (
	"fmt"
	"sync"
)

const DefaultMaxTurns = 10

// Manager owns every user's history. Histories hold only user and assistant
// turns; the system turn is rendered fresh by BuildModelRequest.
//
// The map is guarded by a mutex, but a caller's read-modify-write spanning a
// model call is not serialized per user: two overlapping exchanges for the same
// user may interleave their appends.
type Manager struct {
	mu        sync.Mutex
	maxTurns  int
	histories map[string][]Turn
	persona   PersonaResolver
}

func NewManager(maxTurns int, persona PersonaResolver) *Manager {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Manager{
		maxTurns:  maxTurns,
		histories: make(map[string][]Turn),
		persona:   persona,
	}
}

func (m *Manager) MaxTurns() int {
	return m.maxTurns
}

// GetHistory returns a copy of the stored turns, creating an empty history on
// first access. The result is never nil.
func (m *Manager) GetHistory(userID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[userID]
	if !ok {
		h = make([]Turn, 0, m.maxTurns)
		m.histories[userID] = h
	}
	out := make([]Turn, len(h))
	copy(out, h)
	return out
}

// AppendTurn stores a user or assistant turn and trims the oldest turns so the
// history never exceeds MaxTurns.
func (m *Manager) AppendTurn(userID string, role Role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: got %q", ErrInvalidRole, role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.histories[userID], Turn{Role: role, Content: content})
	if over := len(h) - m.maxTurns; over > 0 {
		trimmed := make([]Turn, m.maxTurns, m.maxTurns+1)
		copy(trimmed, h[over:])
		h = trimmed
	}
	m.histories[userID] = h
	return nil
}

// ResetHistory forgets the user entirely. Unknown users are a no-op.
func (m *Manager) ResetHistory(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, userID)
}

// BuildModelRequest returns the system turn for this user followed by a copy
// of the stored history. Call it after the latest user turn has been appended.
func (m *Manager) BuildModelRequest(userID, displayName string) ([]Turn, error) {
	prompt := ""
	if m.persona != nil {
		p, err := m.persona.SystemPrompt(userID, displayName)
		if err != nil {
			return nil, fmt.Errorf("resolve persona for %s: %w", userID, err)
		}
		prompt = p
	}

	history := m.GetHistory(userID)
	req := make([]Turn, 0, len(history)+1)
	req = append(req, Turn{Role: RoleSystem, Content: prompt})
	req = append(req, history...)
	return req, nil
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Users: len(m.histories)}
	for _, h := range m.histories {
		s.Turns += len(h)
	}
	return s
}
