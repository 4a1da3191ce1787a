package metrics

import (
	"sort"
	"sync"
	"time"

	"facesignal/internal/model"
)

// Snapshot is the most recent analysis of one session.
type Snapshot struct {
	SessionID string              `json:"session_id"`
	Frame     model.AnalysisFrame `json:"frame"`
	Frames    int64               `json:"frames"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type Store struct {
	mu        sync.RWMutex
	bySession map[string]Snapshot
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySession: make(map[string]Snapshot),
		limit:     limit,
	}
}

func (s *Store) Update(sessionID string, frame model.AnalysisFrame, frames int64) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[sessionID] = Snapshot{
		SessionID: sessionID,
		Frame:     frame,
		Frames:    frames,
		UpdatedAt: time.Now().UTC(),
	}
	if len(s.bySession) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(sessionID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.bySession[sessionID]
	return snap, ok
}

// GetAll returns every snapshot ordered by session ID.
func (s *Store) GetAll() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.bySession))
	for _, snap := range s.bySession {
		out = append(out, snap)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySession)
}

func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySession, sessionID)
}

func (s *Store) evictOldest() {
	var oldestSession string
	var oldest time.Time
	for id, snap := range s.bySession {
		if oldestSession == "" || snap.UpdatedAt.Before(oldest) {
			oldestSession = id
			oldest = snap.UpdatedAt
		}
	}
	if oldestSession != "" {
		delete(s.bySession, oldestSession)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession = make(map[string]Snapshot)
}
