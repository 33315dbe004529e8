package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"coach_reconcile/internal/common"
)

// MemoryStore checkpoint trong bộ nhớ (test, dry-run không cần file)
type MemoryStore struct {
	mu    sync.Mutex
	seq   int64
	steps map[string][]Entry
	runs  map[string]Run
}

// NewMemoryStore tạo store rỗng
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps: make(map[string][]Entry),
		runs:  make(map[string]Run),
	}
}

func (s *MemoryStore) Save(ctx context.Context, runID, step string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.steps[runID] = append(s.steps[runID], Entry{
		RunID:     runID,
		Seq:       s.seq,
		Step:      step,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, runID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[runID]
	if len(steps) == 0 {
		return nil, common.ErrRunNotFound
	}
	e := steps[len(steps)-1]
	return &e, nil
}

func (s *MemoryStore) History(ctx context.Context, runID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.steps[runID]...), nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.runs[run.RunID]; ok {
		run.StartedAt = old.StartedAt
		run.Collection = old.Collection
		if len(run.Report) == 0 {
			run.Report = old.Report
		}
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, common.ErrRunNotFound
	}
	return &run, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
