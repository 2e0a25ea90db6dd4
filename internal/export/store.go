// Package export turns tabular results into downloadable spreadsheets and
// holds them for a retention window.
package export

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/querydesk/internal/domain"
)

// ArtifactStore holds generated files by id.
type ArtifactStore interface {
	Put(ctx context.Context, a domain.ExportArtifact) error
	// Get reports false when the id is unknown or past retention.
	Get(ctx context.Context, id string) (domain.ExportArtifact, bool, error)
	// Sweep removes artifacts older than the retention at now and returns
	// how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps artifacts in process.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]domain.ExportArtifact
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store that expires artifacts after retention.
// A nil clock uses time.Now.
func NewMemoryStore(retention time.Duration, clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		items:     make(map[string]domain.ExportArtifact),
		retention: retention,
		now:       clock,
	}
}

func (s *MemoryStore) Put(_ context.Context, a domain.ExportArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.ID] = a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.ExportArtifact, bool, error) {
	s.mu.Lock()
	a, ok := s.items[id]
	s.mu.Unlock()

	if !ok || s.expired(a, s.now()) {
		return domain.ExportArtifact{}, false, nil
	}
	return a, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, a := range s.items {
		if s.expired(a, now) {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of artifacts held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) expired(a domain.ExportArtifact, now time.Time) bool {
	return now.Sub(a.CreatedAt) > s.retention
}
