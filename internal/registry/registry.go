// Package registry holds the ordered set of uploaded photos and owns the
// blobs behind their keys.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/storage"
)

// PreviousActiveNote annotates a result demoted into history by a revert.
const PreviousActiveNote = "previous active state"

// Releaser frees the blob behind an owned key.
type Releaser interface {
	Release(ctx context.Context, key string) error
}

// Registry is an insertion-ordered collection of image records. All methods
// are safe for concurrent use; every read returns a copy.
type Registry struct {
	mu       sync.Mutex
	records  []*domain.ImageRecord
	byID     map[string]*domain.ImageRecord
	releaser Releaser
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides record and version id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// New creates an empty registry that releases owned blobs through releaser.
func New(releaser Releaser, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		byID:     make(map[string]*domain.ImageRecord),
		releaser: releaser,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add appends one Idle record per upload and returns the new records.
func (r *Registry) Add(uploads []domain.Upload) []domain.ImageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]domain.ImageRecord, 0, len(uploads))
	for _, up := range uploads {
		rec := &domain.ImageRecord{
			ID:          r.uniqueID(),
			Name:        up.Name,
			MIME:        up.MIME,
			OriginalKey: up.OriginalKey,
			Status:      domain.StatusIdle,
			History:     []domain.VersionRecord{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		r.records = append(r.records, rec)
		r.byID[rec.ID] = rec
		out = append(out, rec.Clone())
	}
	return out
}

// Remove deletes the record and releases everything it owns. It reports
// whether a record was removed.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	for i, candidate := range r.records {
		if candidate.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	keys := rec.OwnedKeys()
	r.mu.Unlock()

	r.release(ctx, id, keys)
	return true
}

// Clear removes every record, releasing all owned blobs. It returns the
// number of records removed.
func (r *Registry) Clear(ctx context.Context) int {
	r.mu.Lock()
	removed := r.records
	r.records = nil
	r.byID = make(map[string]*domain.ImageRecord)
	r.mu.Unlock()

	for _, rec := range removed {
		r.release(ctx, rec.ID, rec.OwnedKeys())
	}
	return len(removed)
}

// SetSelected flips the transient selection flag.
func (r *Registry) SetSelected(id string, selected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Selected = selected
	return nil
}

// ClearAllSelected unselects every record.
func (r *Registry) ClearAllSelected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		rec.Selected = false
	}
}

// Get returns a copy of the record.
func (r *Registry) Get(id string) (domain.ImageRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return domain.ImageRecord{}, false
	}
	return rec.Clone(), true
}

// List returns copies of all records in insertion order.
func (r *Registry) List() []domain.ImageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ImageRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// CountStatus counts records in the given status.
func (r *Registry) CountStatus(status domain.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// NextIdle returns the first Idle record in insertion order.
func (r *Registry) NextIdle() (domain.ImageRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Status == domain.StatusIdle {
			return rec.Clone(), true
		}
	}
	return domain.ImageRecord{}, false
}

// BeginProcessing moves an Idle record to Processing. It refuses while any
// other record is Processing so at most one call is ever in flight.
func (r *Registry) BeginProcessing(id string) (domain.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Status == domain.StatusProcessing {
			return domain.ImageRecord{}, domain.ErrAlreadyInFlight
		}
	}
	rec, ok := r.byID[id]
	if !ok {
		return domain.ImageRecord{}, domain.ErrNotFound
	}
	if rec.Status != domain.StatusIdle {
		return domain.ImageRecord{}, domain.ErrInvalidState
	}
	rec.Status = domain.StatusProcessing
	rec.Error = ""
	rec.UpdatedAt = r.now()
	return rec.Clone(), nil
}

// Complete folds a successful result into the record: the previous active
// result, if any, is appended to history. It returns false when the record
// no longer exists or is not Processing; the caller then owns newKey.
func (r *Registry) Complete(id, newKey string, opts domain.Options) (domain.ImageRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.Status != domain.StatusProcessing {
		return domain.ImageRecord{}, false
	}
	now := r.now()
	r.supersede(rec)
	rec.EnhancedKey = newKey
	rec.EnhancedOptions = opts
	rec.EnhancedAt = now
	rec.Status = domain.StatusCompleted
	rec.Error = ""
	rec.Selected = false
	rec.UpdatedAt = now
	return rec.Clone(), true
}

// Fail marks a Processing record Failed with a human-readable message. A
// result left over from an earlier run moves into history.
func (r *Registry) Fail(id, message string) (domain.ImageRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.Status != domain.StatusProcessing {
		return domain.ImageRecord{}, false
	}
	r.supersede(rec)
	rec.Status = domain.StatusFailed
	rec.Error = message
	rec.UpdatedAt = r.now()
	return rec.Clone(), true
}

// supersede moves the active result, if any, into history.
func (r *Registry) supersede(rec *domain.ImageRecord) {
	if rec.EnhancedKey == "" {
		return
	}
	prev := rec.EnhancedOptions
	rec.History = append(rec.History, domain.VersionRecord{
		ID:         r.newID(),
		Key:        rec.EnhancedKey,
		Timestamp:  rec.EnhancedAt,
		Quality:    prev.Quality,
		Mode:       prev.Mode,
		Resolution: prev.Resolution,
		Prompt:     prev.Instruction,
	})
	rec.EnhancedKey = ""
	rec.EnhancedOptions = domain.Options{}
	rec.EnhancedAt = time.Time{}
}

// Retry moves a Failed record back to Idle and clears its error.
func (r *Registry) Retry(id string) (domain.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return domain.ImageRecord{}, domain.ErrNotFound
	}
	if rec.Status != domain.StatusFailed {
		return domain.ImageRecord{}, domain.ErrInvalidState
	}
	rec.Status = domain.StatusIdle
	rec.Error = ""
	rec.UpdatedAt = r.now()
	return rec.Clone(), nil
}

// RequeueSelected moves selected Idle or Completed records to Idle so the
// next run processes them again. Completed records keep their active result
// until the new one supersedes it. It returns the number of queued records.
func (r *Registry) RequeueSelected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := r.now()
	for _, rec := range r.records {
		if !rec.Selected {
			continue
		}
		switch rec.Status {
		case domain.StatusIdle:
			n++
		case domain.StatusCompleted:
			rec.Status = domain.StatusIdle
			rec.UpdatedAt = now
			n++
		}
	}
	return n
}

// Revert makes the chosen history entry the active result. The active result
// it replaces is appended to history, so history length is unchanged.
func (r *Registry) Revert(id, versionID string) (domain.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return domain.ImageRecord{}, domain.ErrNotFound
	}
	if rec.Status != domain.StatusCompleted || rec.EnhancedKey == "" {
		return domain.ImageRecord{}, domain.ErrInvalidState
	}
	idx := -1
	for i, v := range rec.History {
		if v.ID == versionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ImageRecord{}, domain.ErrNoVersion
	}

	chosen := rec.History[idx]
	now := r.now()
	demoted := domain.VersionRecord{
		ID:         r.newID(),
		Key:        rec.EnhancedKey,
		Timestamp:  now,
		Quality:    rec.EnhancedOptions.Quality,
		Mode:       rec.EnhancedOptions.Mode,
		Resolution: rec.EnhancedOptions.Resolution,
		Prompt:     PreviousActiveNote,
	}
	history := make([]domain.VersionRecord, 0, len(rec.History))
	history = append(history, rec.History[:idx]...)
	history = append(history, rec.History[idx+1:]...)
	rec.History = append(history, demoted)

	rec.EnhancedKey = chosen.Key
	rec.EnhancedOptions = domain.Options{
		Quality:     chosen.Quality,
		Mode:        chosen.Mode,
		Resolution:  chosen.Resolution,
		Instruction: chosen.Prompt,
	}
	rec.EnhancedAt = chosen.Timestamp
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

// Completed returns copies of the records eligible for export.
func (r *Registry) Completed() []domain.ImageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ImageRecord
	for _, rec := range r.records {
		if rec.Status == domain.StatusCompleted && rec.EnhancedKey != "" {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// uniqueID must be called with mu held.
func (r *Registry) uniqueID() string {
	for {
		id := r.newID()
		if _, taken := r.byID[id]; !taken && id != "" {
			return id
		}
	}
}

func (r *Registry) release(ctx context.Context, id string, keys []string) {
	if r.releaser == nil {
		return
	}
	for _, key := range keys {
		if err := r.releaser.Release(ctx, key); err != nil {
			level := r.logger.Warn()
			if errors.Is(err, storage.ErrNotFound) {
				level = r.logger.Debug()
			}
			level.Err(err).Str("image_id", id).Str("key", key).Msg("registry: release blob failed")
		}
	}
}
