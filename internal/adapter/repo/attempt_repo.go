package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lumina/internal/domain"
	"lumina/internal/infra"
	"lumina/internal/sqlinline"
)

const maxAttemptPage = 200

// AttemptRepositoryPG implements domain.AttemptRepository on PostgreSQL.
type AttemptRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAttemptRepository constructs the repository.
func NewAttemptRepository(sql infra.SQLExecutor) *AttemptRepositoryPG {
	return &AttemptRepositoryPG{sql: sql}
}

// Record inserts one attempt row. A missing or non-uuid id is replaced.
func (r *AttemptRepositoryPG) Record(ctx context.Context, a *domain.Attempt) error {
	if a == nil {
		return fmt.Errorf("attempt is required")
	}
	if _, err := uuid.Parse(a.ID); err != nil {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertEnhancementAttempt,
		a.ID,
		a.ImageID,
		a.ImageName,
		string(a.Options.Quality),
		string(a.Options.Mode),
		string(a.Options.Resolution),
		a.Options.Instruction,
		a.Model,
		string(a.Outcome),
		a.Error,
		a.Duration.Milliseconds(),
		a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListRecent returns the newest attempts first.
func (r *AttemptRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Attempt, error) {
	if limit <= 0 || limit > maxAttemptPage {
		limit = maxAttemptPage
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListRecentEnhancementAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var (
			a          domain.Attempt
			quality    string
			mode       string
			resolution string
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(
			&a.ID,
			&a.ImageID,
			&a.ImageName,
			&quality,
			&mode,
			&resolution,
			&a.Options.Instruction,
			&a.Model,
			&outcome,
			&a.Error,
			&durationMS,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Options.Quality = domain.Quality(quality)
		a.Options.Mode = domain.Mode(mode)
		a.Options.Resolution = domain.Resolution(resolution)
		a.Outcome = domain.AttemptOutcome(outcome)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

var _ domain.AttemptRepository = (*AttemptRepositoryPG)(nil)
