// Package results keeps a bounded in-memory history of evaluations for the
// API.
package results

import (
	"sync"
	"time"

	"killsense/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.InterestResult
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(res model.InterestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, res)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = res
}

// List returns up to limit of the most recent results, oldest first.
func (s *Store) List(limit int) []model.InterestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.InterestResult, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []model.InterestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.InterestResult, 0)
	for _, r := range s.buf {
		if !r.EvaluatedAt.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

// ByProfile filters like List, keeping only one profile's results.
func (s *Store) ByProfile(profile string, limit int) []model.InterestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rev []model.InterestResult
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].Profile != profile {
			continue
		}
		rev = append(rev, s.buf[i])
		if limit > 0 && len(rev) == limit {
			break
		}
	}
	out := make([]model.InterestResult, len(rev))
	for i, r := range rev {
		out[len(rev)-1-i] = r
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
