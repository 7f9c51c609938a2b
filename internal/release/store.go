package release

import (
	"context"
	"sync"
)

// MemoryStore is the default audit log when no database is configured: a
// bounded, append-only record of recent runs held in memory.
type MemoryStore struct {
	mu   sync.Mutex
	runs []Run
	max  int
}

func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 256
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Append(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	if len(s.runs) > s.max {
		s.runs = s.runs[len(s.runs)-s.max:]
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].ID == run.ID {
			if s.runs[i].State.IsTerminal() {
				return nil
			}
			s.runs[i] = *run
			return nil
		}
	}
	s.runs = append(s.runs, *run)
	return nil
}

// List returns runs newest first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]Run, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}
