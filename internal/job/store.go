package job

import (
	"context"
	"sort"
	"sync"
)

// Store persists job records. Implementations: [MemStore] and the PostgreSQL
// job store in internal/store/postgres.
type Store interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, j Job) error
	List(ctx context.Context, opts ListOptions) ([]Job, error)
}

// ListOptions filters List results. Zero value lists everything.
type ListOptions struct {
	// States restricts the result to jobs in any of the given states.
	States []State
}

func (o ListOptions) matches(j Job) bool {
	if len(o.States) == 0 {
		return true
	}
	for _, s := range o.States {
		if j.State == s {
			return true
		}
	}
	return false
}

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
// The zero value is ready to use.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]Job)}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs == nil {
		s.jobs = make(map[string]Job)
	}
	s.jobs[j.ID] = j
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[j.ID] = j
	return nil
}

// List implements [Store.List]. Jobs are returned ordered by creation time,
// oldest first.
func (s *MemStore) List(ctx context.Context, opts ListOptions) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !opts.matches(j) {
			continue
		}
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID < result[k].ID
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}
