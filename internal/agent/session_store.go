package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/querydesk/internal/domain"
)

// SessionStore holds one append-only conversation per user id.
type SessionStore interface {
	// GetOrCreate returns a snapshot of the user's session, creating it on
	// first access.
	GetOrCreate(userID string) domain.ChatSession

	// Get returns a snapshot of the user's session if one exists.
	Get(userID string) (domain.ChatSession, bool)

	// Append adds messages to the end of the user's session, creating it
	// when needed.
	Append(userID string, msgs ...domain.ChatMessage)

	// Recent returns up to n of the user's latest messages, oldest first.
	Recent(userID string, n int) []domain.ChatMessage

	// Clear drops the user's session and reports whether one existed.
	Clear(userID string) bool

	// SweepIdle drops sessions with no activity for longer than idle and
	// returns how many were dropped.
	SweepIdle(idle time.Duration) int

	// Len returns the number of sessions held.
	Len() int
}

// MemorySessionStore is an in-memory SessionStore. Callers only ever see
// copies; the underlying sessions are never shared outside the lock.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChatSession // user id → session
	now      func() time.Time
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*domain.ChatSession),
		now:      time.Now,
	}
}

// getOrCreate must be called with mu held.
func (s *MemorySessionStore) getOrCreate(userID string) *domain.ChatSession {
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	now := s.now()
	sess := &domain.ChatSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[userID] = sess
	return sess
}

func (s *MemorySessionStore) GetOrCreate(userID string) domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.getOrCreate(userID))
}

func (s *MemorySessionStore) Get(userID string) (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return domain.ChatSession{}, false
	}
	return snapshot(sess), true
}

func (s *MemorySessionStore) Append(userID string, msgs ...domain.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(userID)
	sess.Messages = append(sess.Messages, msgs...)
	sess.UpdatedAt = s.now()
}

func (s *MemorySessionStore) Recent(userID string, n int) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok || n <= 0 {
		return nil
	}
	msgs := sess.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]domain.ChatMessage(nil), msgs...)
}

func (s *MemorySessionStore) Clear(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

func (s *MemorySessionStore) SweepIdle(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func snapshot(sess *domain.ChatSession) domain.ChatSession {
	out := *sess
	out.Messages = append([]domain.ChatMessage(nil), sess.Messages...)
	return out
}
