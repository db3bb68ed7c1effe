package alerts

import (
	"sync"
	"time"

	"edgesentry/internal/model"
)

// Record is one notified alert decision, flattened for listing and storage.
type Record struct {
	Timestamp       time.Time        `json:"timestamp"`
	EventID         string           `json:"event_id"`
	EntityType      string           `json:"entity_type"`
	EntityID        string           `json:"entity_id,omitempty"`
	Location        string           `json:"location"`
	Level           model.AlertLevel `json:"level"`
	ShapedSuspicion float64          `json:"shaped_suspicion"`
	Reasons         []string         `json:"reasons,omitempty"`
	Intent          string           `json:"intent,omitempty"`
	Source          string           `json:"source,omitempty"`
}

// Store keeps the most recent alert records in memory, oldest dropped first.
type Store struct {
	mu    sync.RWMutex
	buf   []Record
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

func (s *Store) List(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Record, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.buf {
		if !r.Timestamp.Before(ts) {
			out = append(out, r)
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
