package session

import (
	"sort"
	"sync"
)

// Store tracks the live sessions of a server.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

func (s *Store) Add(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetAll returns the sessions ordered by path, then id.
func (s *Store) GetAll() []*Session {
	s.mu.RLock()
	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Path() != result[j].Path() {
			return result[i].Path() < result[j].Path()
		}
		return result[i].ID() < result[j].ID()
	})
	return result
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ActiveCount counts sessions that have not begun draining.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.State() < Draining {
			count++
		}
	}
	return count
}

// CountByPath groups live sessions by page path.
func (s *Store) CountByPath() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, sess := range s.sessions {
		counts[sess.Path()]++
	}
	return counts
}

// CloseAll closes every session without removing it; each Run removes its
// own entry on exit.
func (s *Store) CloseAll() {
	for _, sess := range s.GetAll() {
		sess.Close()
	}
}
