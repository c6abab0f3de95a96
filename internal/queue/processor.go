// Package queue runs enhancements one record at a time over the registry.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/events"
	imageprovider "lumina/internal/providers/image"
	"lumina/internal/registry"
	"lumina/internal/storage"
)

// State is the processor's own state, separate from record statuses.
type State string

const (
	// StateIdle: no run armed.
	StateIdle State = "idle"
	// StateRunning: armed and picking the next Idle record.
	StateRunning State = "running"
	// StateDraining: a record just finished; waiting out the settle delay.
	StateDraining State = "draining"
)

// Scope chooses which records an armed run covers.
type Scope string

const (
	ScopeIdle      Scope = "idle"
	ScopeSelection Scope = "selection"
)

const DefaultSettleDelay = 500 * time.Millisecond

// CredentialGate answers whether an upstream credential is selected and can
// ask the user to select one.
type CredentialGate interface {
	HasCredential(ctx context.Context) (bool, error)
	PromptSelection(ctx context.Context, reason string)
}

// AttemptRecorder persists one row per enhancement attempt.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *domain.Attempt) error
}

// Config tunes a Processor.
type Config struct {
	// SettleDelay is waited after every attempt before the next pick.
	SettleDelay time.Duration
	// CallTimeout bounds each enhancement call; zero disables it.
	CallTimeout time.Duration
	// RequiresCredential reports whether a resolution tier needs the gate.
	// Defaults to every tier above the lowest.
	RequiresCredential func(domain.Resolution) bool
}

// Snapshot is the externally visible queue state.
type Snapshot struct {
	State      State  `json:"state"`
	Idle       int    `json:"idle"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Current    string `json:"current,omitempty"`
}

// Processor is the single worker. Arm starts a run; Run (or repeated Step
// calls) drains Idle records in registry order, one call in flight at most.
type Processor struct {
	reg      *registry.Registry
	store    storage.BlobStore
	enhancer imageprovider.Enhancer
	options  *OptionSet
	gate     CredentialGate
	notifier events.Publisher
	recorder AttemptRecorder
	logger   zerolog.Logger
	cfg      Config
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	state   State
	armSeq  uint64
	current string
	wake    chan struct{}
	idle    chan struct{}
}

// Option customises a Processor.
type Option func(*Processor)

func WithGate(g CredentialGate) Option { return func(p *Processor) { p.gate = g } }

func WithNotifier(n events.Publisher) Option { return func(p *Processor) { p.notifier = n } }

func WithRecorder(r AttemptRecorder) Option { return func(p *Processor) { p.recorder = r } }

func WithLogger(l zerolog.Logger) Option { return func(p *Processor) { p.logger = l } }

func WithIDGenerator(gen func() string) Option { return func(p *Processor) { p.newID = gen } }

// NewProcessor wires a processor over reg. Enhanced bytes are stored in store
// under keys the registry then owns.
func NewProcessor(reg *registry.Registry, store storage.BlobStore, enhancer imageprovider.Enhancer, options *OptionSet, cfg Config, opts ...Option) *Processor {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.RequiresCredential == nil {
		cfg.RequiresCredential = func(res domain.Resolution) bool { return !res.IsLowest() }
	}
	if options == nil {
		options = NewOptionSet(domain.DefaultOptions())
	}
	idle := make(chan struct{})
	close(idle)
	p := &Processor{
		reg:      reg,
		store:    store,
		enhancer: enhancer,
		options:  options,
		notifier: events.Discard{},
		logger:   zerolog.Nop(),
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
		idle:     idle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Options exposes the global option set.
func (p *Processor) Options() *OptionSet { return p.options }

// State returns the processor state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot reports the processor state and per-status counts.
func (p *Processor) Snapshot() Snapshot {
	p.mu.Lock()
	state, current := p.state, p.current
	p.mu.Unlock()
	return Snapshot{
		State:      state,
		Idle:       p.reg.CountStatus(domain.StatusIdle),
		Processing: p.reg.CountStatus(domain.StatusProcessing),
		Completed:  p.reg.CountStatus(domain.StatusCompleted),
		Failed:     p.reg.CountStatus(domain.StatusFailed),
		Current:    current,
	}
}

// Arm requests a run. ScopeSelection first requeues selected records.
// When the current option set needs the enhanced class and no credential is
// selected, the gate is asked to prompt and the run is not armed.
func (p *Processor) Arm(ctx context.Context, scope Scope) (int, error) {
	if p.gate != nil && p.cfg.RequiresCredential(p.options.Get().Resolution) {
		ok, err := p.gate.HasCredential(ctx)
		if err != nil {
			return 0, fmt.Errorf("queue: check credential: %w", err)
		}
		if !ok {
			p.gate.PromptSelection(ctx, "enhanced resolution tier requires an API key")
			return 0, domain.ErrCredentialNeeded
		}
	}

	if scope == ScopeSelection {
		p.reg.RequeueSelected()
	}
	queued := p.reg.CountStatus(domain.StatusIdle)
	if queued == 0 {
		return 0, domain.ErrNothingToRun
	}

	p.mu.Lock()
	p.armSeq++
	armed := p.state == StateIdle
	if armed {
		p.state = StateRunning
		p.idle = make(chan struct{})
	}
	p.mu.Unlock()

	if armed {
		p.logger.Info().Int("queued", queued).Str("scope", string(scope)).Msg("queue: run armed")
		p.publishState()
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return queued, nil
}

// Step performs one transition of the run: it either processes the first
// Idle record, or finds none and returns the processor to Idle. It reports
// whether a record was processed. Step does not wait out the settle delay.
func (p *Processor) Step(ctx context.Context) bool {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return false
	}
	p.state = StateRunning
	seq := p.armSeq
	p.mu.Unlock()

	next, ok := p.reg.NextIdle()
	if !ok {
		p.finishRun(seq)
		return false
	}
	rec, err := p.reg.BeginProcessing(next.ID)
	if err != nil {
		// Only possible when a user action raced the pick; try again next step.
		p.logger.Debug().Err(err).Str("image_id", next.ID).Msg("queue: begin processing skipped")
		return false
	}

	p.mu.Lock()
	p.current = rec.ID
	p.mu.Unlock()
	p.notifier.Publish(events.KindRecordUpdated, rec)

	p.process(ctx, rec, p.options.Get())

	p.mu.Lock()
	p.current = ""
	if p.state == StateRunning {
		p.state = StateDraining
	}
	p.mu.Unlock()
	return true
}

// Run drives armed runs until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
		for p.State() != StateIdle {
			if !p.Step(ctx) {
				continue
			}
			if p.cfg.SettleDelay > 0 {
				timer := time.NewTimer(p.cfg.SettleDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
	}
}

// WaitIdle blocks until no run is armed.
func (p *Processor) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idle
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishRun returns to Idle unless the run was re-armed after seq was read.
func (p *Processor) finishRun(seq uint64) {
	p.mu.Lock()
	if p.state == StateIdle || p.armSeq != seq {
		p.mu.Unlock()
		return
	}
	p.state = StateIdle
	close(p.idle)
	p.mu.Unlock()
	p.logger.Info().Msg("queue: run finished")
	p.publishState()
}

func (p *Processor) publishState() {
	p.notifier.Publish(events.KindQueueState, p.Snapshot())
}

// process runs one enhancement and folds the outcome into the registry.
func (p *Processor) process(ctx context.Context, rec domain.ImageRecord, opts domain.Options) {
	started := p.now()
	attempt := &domain.Attempt{
		ID:        p.newID(),
		ImageID:   rec.ID,
		ImageName: rec.Name,
		Options:   opts,
		CreatedAt: started,
	}
	if namer, ok := p.enhancer.(imageprovider.ModelNamer); ok {
		attempt.Model = namer.ModelFor(opts.Resolution)
	}
	log := p.logger.With().Str("image_id", rec.ID).Str("resolution", string(opts.Resolution)).Logger()

	result, err := p.enhance(ctx, rec, opts)
	if err == nil {
		attempt.Model = firstNonEmpty(result.Model, attempt.Model)
		err = p.complete(ctx, rec, opts, result, attempt)
	}
	if err != nil {
		p.fail(ctx, rec, err, attempt)
	}
	attempt.Duration = p.now().Sub(started)

	switch attempt.Outcome {
	case domain.AttemptSucceeded:
		log.Info().Dur("elapsed", attempt.Duration).Str("model", attempt.Model).Msg("queue: image enhanced")
	case domain.AttemptDiscarded:
		log.Info().Str("reason", attempt.Error).Msg("queue: result discarded")
	default:
		log.Warn().Str("error", attempt.Error).Msg("queue: image failed")
	}

	if p.recorder != nil {
		if rerr := p.recorder.Record(context.WithoutCancel(ctx), attempt); rerr != nil {
			log.Warn().Err(rerr).Msg("queue: record attempt failed")
		}
	}
}

func (p *Processor) enhance(ctx context.Context, rec domain.ImageRecord, opts domain.Options) (*imageprovider.Result, error) {
	data, err := p.store.Get(ctx, rec.OriginalKey)
	if err != nil {
		return nil, &domain.EnhancementError{Message: "original image is unavailable", Err: err}
	}

	callCtx := ctx
	cancel := func() {}
	if p.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
	}
	defer cancel()

	result, err := p.enhancer.Enhance(callCtx, imageprovider.Request{
		Image:     data,
		MIME:      rec.MIME,
		Options:   opts,
		RequestID: rec.ID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			timeout := &domain.TimeoutError{}
			if p.cfg.CallTimeout > 0 {
				timeout.After = p.cfg.CallTimeout.String()
			}
			return nil, timeout
		}
		return nil, err
	}
	if result == nil || len(result.Data) == 0 {
		return nil, &domain.EmptyResultError{}
	}
	return result, nil
}

func (p *Processor) complete(ctx context.Context, rec domain.ImageRecord, opts domain.Options, result *imageprovider.Result, attempt *domain.Attempt) error {
	key, err := p.store.Put(ctx, storage.EnhancedKey(rec.ID, p.newID(), result.MIME), result.Data)
	if err != nil {
		return &domain.EnhancementError{Message: "failed to store enhanced image", Err: err}
	}
	updated, ok := p.reg.Complete(rec.ID, key, opts)
	if !ok {
		// The record was removed while the call was in flight.
		if rerr := p.store.Release(ctx, key); rerr != nil {
			p.logger.Warn().Err(rerr).Str("key", key).Msg("queue: release discarded result failed")
		}
		attempt.Outcome = domain.AttemptDiscarded
		attempt.Error = "image removed during enhancement"
		return nil
	}
	attempt.Outcome = domain.AttemptSucceeded
	p.notifier.Publish(events.KindRecordUpdated, updated)
	return nil
}

func (p *Processor) fail(ctx context.Context, rec domain.ImageRecord, err error, attempt *domain.Attempt) {
	attempt.Error = err.Error()
	if domain.IsAuthorization(err) && p.gate != nil {
		p.gate.PromptSelection(ctx, err.Error())
	}
	updated, ok := p.reg.Fail(rec.ID, err.Error())
	if !ok {
		attempt.Outcome = domain.AttemptDiscarded
		return
	}
	attempt.Outcome = domain.AttemptFailed
	p.notifier.Publish(events.KindRecordUpdated, updated)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
