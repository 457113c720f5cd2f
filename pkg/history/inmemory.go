package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps conversation history in process memory. Suitable for
// single-instance use; data is lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewInMemoryStore creates an empty in-memory history store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]Message)}
}

// Append adds a message to a session, filling in ID and timestamp.
func (s *InMemoryStore) Append(_ context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

// Messages returns all messages for a session in insertion order.
func (s *InMemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.sessions[sessionID]))
	copy(out, s.sessions[sessionID])
	return out, nil
}

// Recent returns the last n messages for a session.
func (s *InMemoryStore) Recent(_ context.Context, sessionID string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sessions[sessionID]
	if len(all) <= n {
		out := make([]Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]Message, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

// Clear removes all messages for a session.
func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
