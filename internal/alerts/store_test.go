package alerts

import (
	"testing"
	"time"

	"facesignal/internal/model"
)

func TestStoreDropsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(model.Alert{SessionID: "s", Score: float64(i)})
	}
	got := s.List(0)
	if len(got) != 3 || got[0].Score != 2 || got[2].Score != 4 {
		t.Fatalf("ring: %+v", got)
	}
	if last := s.List(1); len(last) != 1 || last[0].Score != 4 {
		t.Fatalf("limit: %+v", last)
	}
}

func TestStoreFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(10)
	s.Add(model.Alert{SessionID: "a", Timestamp: base})
	s.Add(model.Alert{SessionID: "b", Timestamp: base.Add(time.Second)})
	s.Add(model.Alert{SessionID: "a", Timestamp: base.Add(2 * time.Second)})

	if got := s.ForSession("a", 0); len(got) != 2 {
		t.Fatalf("for session: %+v", got)
	}
	if got := s.ForSession("a", 1); len(got) != 1 || !got[0].Timestamp.Equal(base.Add(2*time.Second)) {
		t.Fatalf("for session limited: %+v", got)
	}
	if got := s.Since(base.Add(time.Second)); len(got) != 2 {
		t.Fatalf("since: %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear")
	}
}
