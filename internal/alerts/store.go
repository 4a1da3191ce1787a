package alerts

import (
	"sync"
	"time"

	"facesignal/internal/model"
)

// Store is a bounded ring of recent alerts, oldest dropped first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

// List returns up to limit of the most recent alerts, oldest first.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.buf, limit)
}

func (s *Store) ForSession(sessionID string, limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]model.Alert, 0)
	for _, a := range s.buf {
		if a.SessionID == sessionID {
			matched = append(matched, a)
		}
	}
	return tail(matched, limit)
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
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

func tail(buf []model.Alert, limit int) []model.Alert {
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]model.Alert, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}
