package report

import (
	"sync"

	"github.com/google/uuid"
)

// Store retains sealed run reports in memory until they are discarded. It is
// the read-only inspection surface for completed runs.
type Store struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*RunReport
	ordered []uuid.UUID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byID: make(map[uuid.UUID]*RunReport)}
}

// Add retains a report. Later additions are returned last by List.
func (s *Store) Add(r *RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[r.ID]; exists {
		return
	}
	s.byID[r.ID] = r
	s.ordered = append(s.ordered, r.ID)
}

// Get returns the report with the given ID.
func (s *Store) Get(id uuid.UUID) (*RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// List returns all retained reports, oldest first.
func (s *Store) List() []*RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunReport, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.byID[id])
	}
	return out
}

// LastForJob returns the most recently added report for the named job.
func (s *Store) LastForJob(job string) (*RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.ordered) - 1; i >= 0; i-- {
		if r := s.byID[s.ordered[i]]; r.Job == job {
			return r, true
		}
	}
	return nil, false
}

// Discard removes a report from the store.
func (s *Store) Discard(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, got := range s.ordered {
		if got == id {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
}
