package repo

import (
	"context"
	"sync"

	"lumina/internal/domain"
)

// AttemptRepositoryMemory keeps the most recent attempts in a ring when no
// database is configured.
type AttemptRepositoryMemory struct {
	mu       sync.Mutex
	capacity int
	items    []domain.Attempt
}

// NewAttemptMemoryRepository keeps at most capacity attempts.
func NewAttemptMemoryRepository(capacity int) *AttemptRepositoryMemory {
	if capacity <= 0 {
		capacity = maxAttemptPage
	}
	return &AttemptRepositoryMemory{capacity: capacity}
}

func (r *AttemptRepositoryMemory) Record(ctx context.Context, a *domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, *a)
	if over := len(r.items) - r.capacity; over > 0 {
		r.items = append([]domain.Attempt(nil), r.items[over:]...)
	}
	return nil
}

func (r *AttemptRepositoryMemory) ListRecent(ctx context.Context, limit int) ([]domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.items) {
		limit = len(r.items)
	}
	out := make([]domain.Attempt, 0, limit)
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.items[i])
	}
	return out, nil
}

var _ domain.AttemptRepository = (*AttemptRepositoryMemory)(nil)
