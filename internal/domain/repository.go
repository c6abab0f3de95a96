package domain

import "context"

// AttemptRepository persists the enhancement audit log.
type AttemptRepository interface {
	Record(ctx context.Context, attempt *Attempt) error
	ListRecent(ctx context.Context, limit int) ([]Attempt, error)
}
