package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/providers/genai"
	imageprovider "lumina/internal/providers/image"
	"lumina/internal/registry"
	"lumina/internal/storage"
)

type stubResponse struct {
	data []byte
	err  error
}

type stubEnhancer struct {
	mu        sync.Mutex
	responses []stubResponse
	requests  []imageprovider.Request
	hook      func(ctx context.Context, req imageprovider.Request) error
}

func (s *stubEnhancer) Enhance(ctx context.Context, req imageprovider.Request) (*imageprovider.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var next stubResponse
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	} else {
		next = stubResponse{data: []byte(fmt.Sprintf("enhanced-%d", len(s.requests)))}
	}
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if next.err != nil {
		return nil, next.err
	}
	return &imageprovider.Result{Data: next.data, MIME: "image/png", Model: "stub-model"}, nil
}

func (s *stubEnhancer) calls() []imageprovider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]imageprovider.Request(nil), s.requests...)
}

type stubGate struct {
	mu       sync.Mutex
	has      bool
	prompts  []string
	checkErr error
}

func (g *stubGate) HasCredential(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.has, g.checkErr
}

func (g *stubGate) PromptSelection(ctx context.Context, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, reason)
}

func (g *stubGate) promptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []domain.Attempt
}

func (m *memoryRecorder) Record(ctx context.Context, attempt *domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

type fixture struct {
	store    *storage.MemoryStore
	reg      *registry.Registry
	enhancer *stubEnhancer
	recorder *memoryRecorder
	proc     *Processor
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	reg := registry.New(store, zerolog.Nop())
	enhancer := &stubEnhancer{}
	recorder := &memoryRecorder{}
	opts = append([]Option{WithRecorder(recorder)}, opts...)
	proc := NewProcessor(reg, store, enhancer, NewOptionSet(domain.DefaultOptions()), cfg, opts...)
	return &fixture{store: store, reg: reg, enhancer: enhancer, recorder: recorder, proc: proc}
}

func (f *fixture) add(t *testing.T, names ...string) []domain.ImageRecord {
	t.Helper()
	ups := make([]domain.Upload, 0, len(names))
	for _, name := range names {
		key, err := f.store.Put(context.Background(), "originals/"+name, []byte("raw-"+name))
		if err != nil {
			t.Fatalf("Put original: %v", err)
		}
		ups = append(ups, domain.Upload{Name: name, MIME: "image/png", OriginalKey: key})
	}
	return f.reg.Add(ups)
}

// drain steps the processor until it returns to Idle.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; f.proc.State() != StateIdle; i++ {
		if i > 100 {
			t.Fatal("processor never returned to idle")
		}
		f.proc.Step(context.Background())
	}
}

func (f *fixture) get(t *testing.T, id string) domain.ImageRecord {
	t.Helper()
	rec, ok := f.reg.Get(id)
	if !ok {
		t.Fatalf("record %s missing", id)
	}
	return rec
}

func TestRunCompletesAllIdleRecordsInOrder(t *testing.T) {
	f := newFixture(t, Config{})
	recs := f.add(t, "a.png", "b.png", "c.png")
	_ = f.reg.SetSelected(recs[2].ID, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()

	if _, err := f.proc.Arm(ctx, ScopeIdle); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := f.proc.WaitIdle(waitCtx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	for _, rec := range recs {
		got := f.get(t, rec.ID)
		if got.Status != domain.StatusCompleted {
			t.Fatalf("%s status = %s, want COMPLETED", got.Name, got.Status)
		}
		if len(got.History) != 0 {
			t.Fatalf("%s history = %v, want empty", got.Name, got.History)
		}
		if got.EnhancedKey == "" {
			t.Fatalf("%s has no enhanced key", got.Name)
		}
	}
	calls := f.enhancer.calls()
	if len(calls) != 3 {
		t.Fatalf("enhancer calls = %d, want 3", len(calls))
	}
	for i, want := range []string{recs[0].ID, recs[1].ID, recs[2].ID} {
		if calls[i].RequestID != want {
			t.Fatalf("call %d was for %s, want %s", i, calls[i].RequestID, want)
		}
	}
	if f.proc.State() != StateIdle {
		t.Fatalf("state = %s, want idle", f.proc.State())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestNeverTwoRecordsProcessing(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, "a", "b", "c", "d")
	var maxSeen int
	f.enhancer.hook = func(ctx context.Context, req imageprovider.Request) error {
		if n := f.reg.CountStatus(domain.StatusProcessing); n > maxSeen {
			maxSeen = n
		}
		return nil
	}
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	if maxSeen != 1 {
		t.Fatalf("max concurrent processing = %d, want 1", maxSeen)
	}
}

func TestFailureThenRetrySucceeds(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.add(t, "a")[0]
	f.enhancer.responses = []stubResponse{{err: &domain.EnhancementError{Message: "timeout"}}}

	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	got := f.get(t, rec.ID)
	if got.Status != domain.StatusFailed || got.Error != "timeout" {
		t.Fatalf("after failure: %+v", got)
	}

	retried, err := f.reg.Retry(rec.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != domain.StatusIdle {
		t.Fatalf("after retry status = %s", retried.Status)
	}
	if f.proc.State() != StateIdle {
		t.Fatal("retry must not arm a run")
	}

	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	if got := f.get(t, rec.ID); got.Status != domain.StatusCompleted {
		t.Fatalf("after second run status = %s", got.Status)
	}
}

func TestFailedRecordDoesNotStopRun(t *testing.T) {
	f := newFixture(t, Config{})
	recs := f.add(t, "a", "b")
	f.enhancer.responses = []stubResponse{{err: &domain.EnhancementError{Message: "boom"}}}

	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	if got := f.get(t, recs[0].ID); got.Status != domain.StatusFailed {
		t.Fatalf("first status = %s, want FAILED", got.Status)
	}
	if got := f.get(t, recs[1].ID); got.Status != domain.StatusCompleted {
		t.Fatalf("second status = %s, want COMPLETED", got.Status)
	}
}

func TestRerunSelectedMovesResultToHistory(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.add(t, "a")[0]
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	first := f.get(t, rec.ID).EnhancedKey

	_ = f.reg.SetSelected(rec.ID, true)
	if _, err := f.proc.Arm(context.Background(), ScopeSelection); err != nil {
		t.Fatalf("Arm selection: %v", err)
	}
	f.drain(t)

	got := f.get(t, rec.ID)
	if got.EnhancedKey == first || got.EnhancedKey == "" {
		t.Fatalf("enhanced key not replaced: %q", got.EnhancedKey)
	}
	if len(got.History) != 1 || got.History[0].Key != first {
		t.Fatalf("history = %+v, want [%s]", got.History, first)
	}
	if got.Selected {
		t.Fatal("selection should be cleared")
	}
	data, err := f.store.Get(context.Background(), got.EnhancedKey)
	if err != nil || string(data) != "enhanced-2" {
		t.Fatalf("stored result = %q, %v", data, err)
	}
}

func TestOptionsCapturedAtInvocation(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, "a", "b")
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.proc.Step(context.Background())

	changed := domain.Options{Quality: domain.QualityHigh, Mode: domain.ModeTexture, Resolution: domain.ResolutionFHD, Instruction: "warmer"}
	if err := f.proc.Options().Set(changed); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	calls := f.enhancer.calls()
	if calls[0].Options != domain.DefaultOptions() {
		t.Fatalf("first call options = %+v", calls[0].Options)
	}
	if calls[1].Options != changed {
		t.Fatalf("second call options = %+v", calls[1].Options)
	}
}

func TestResultDiscardedWhenRecordRemovedMidFlight(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.add(t, "a")[0]
	f.enhancer.hook = func(ctx context.Context, req imageprovider.Request) error {
		f.reg.Remove(ctx, req.RequestID)
		return nil
	}
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	if _, ok := f.reg.Get(rec.ID); ok {
		t.Fatal("record should stay removed")
	}
	if f.store.Len() != 0 {
		t.Fatalf("store still holds %d blobs", f.store.Len())
	}
	if len(f.recorder.attempts) != 1 || f.recorder.attempts[0].Outcome != domain.AttemptDiscarded {
		t.Fatalf("attempts = %+v", f.recorder.attempts)
	}
}

func TestCallTimeout(t *testing.T) {
	f := newFixture(t, Config{CallTimeout: 20 * time.Millisecond})
	rec := f.add(t, "a")[0]
	f.enhancer.hook = func(ctx context.Context, req imageprovider.Request) error {
		<-ctx.Done()
		return ctx.Err()
	}
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	got := f.get(t, rec.ID)
	want := (&domain.TimeoutError{After: "20ms"}).Error()
	if got.Status != domain.StatusFailed || got.Error != want {
		t.Fatalf("record = %s %q, want FAILED %q", got.Status, got.Error, want)
	}
}

func TestArmChecksCredentialForEnhancedTiers(t *testing.T) {
	gate := &stubGate{}
	f := newFixture(t, Config{}, WithGate(gate))
	f.add(t, "a")

	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatalf("lowest tier should not need a credential: %v", err)
	}
	f.drain(t)
	if gate.promptCount() != 0 {
		t.Fatal("gate should not prompt for the lowest tier")
	}

	f.add(t, "b")
	_ = f.proc.Options().Set(domain.Options{Quality: domain.QualityMedium, Mode: domain.ModeExpression, Resolution: domain.Resolution4K})
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); !errors.Is(err, domain.ErrCredentialNeeded) {
		t.Fatalf("Arm = %v, want ErrCredentialNeeded", err)
	}
	if gate.promptCount() != 1 {
		t.Fatalf("prompts = %d, want 1", gate.promptCount())
	}
	if f.proc.State() != StateIdle {
		t.Fatal("run must not be armed without a credential")
	}

	gate.mu.Lock()
	gate.has = true
	gate.mu.Unlock()
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatalf("Arm with credential: %v", err)
	}
}

func TestAuthorizationFailurePromptsSelection(t *testing.T) {
	gate := &stubGate{has: true}
	f := newFixture(t, Config{}, WithGate(gate))
	rec := f.add(t, "a")[0]
	f.enhancer.responses = []stubResponse{{err: &domain.AuthorizationError{Message: "Requested entity was not found."}}}

	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	if got := f.get(t, rec.ID); got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if gate.promptCount() != 1 {
		t.Fatalf("prompts = %d, want 1", gate.promptCount())
	}
}

func TestArmWithNothingToRun(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); !errors.Is(err, domain.ErrNothingToRun) {
		t.Fatalf("Arm = %v, want ErrNothingToRun", err)
	}
}

func TestRecordsAttempts(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, "a", "b")
	f.enhancer.responses = []stubResponse{{data: []byte("ok")}, {err: &domain.EmptyResultError{}}}
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	if len(f.recorder.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(f.recorder.attempts))
	}
	if f.recorder.attempts[0].Outcome != domain.AttemptSucceeded || f.recorder.attempts[0].Model != "stub-model" {
		t.Fatalf("first attempt = %+v", f.recorder.attempts[0])
	}
	if f.recorder.attempts[1].Outcome != domain.AttemptFailed || f.recorder.attempts[1].Error == "" {
		t.Fatalf("second attempt = %+v", f.recorder.attempts[1])
	}
}

type recordingEditClient struct {
	mu   sync.Mutex
	reqs []genai.EditRequest
}

func (c *recordingEditClient) EditImage(ctx context.Context, req genai.EditRequest) (*genai.EditResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return &genai.EditResult{Data: []byte("edited"), MIME: "image/png", Model: req.Model}, nil
}

func TestLowercaseOptionsReachEnhancerInCanonicalForm(t *testing.T) {
	store := storage.NewMemoryStore()
	reg := registry.New(store, zerolog.Nop())
	tiers := imageprovider.DefaultTierMap()
	client := &recordingEditClient{}
	gate := &stubGate{}
	proc := NewProcessor(reg, store, imageprovider.NewGeminiEnhancer(client, tiers, "", ""),
		NewOptionSet(domain.DefaultOptions()),
		Config{RequiresCredential: tiers.RequiresEnhanced},
		WithGate(gate))

	if err := proc.Options().Set(domain.Options{Quality: "high", Mode: "geometry", Resolution: "8k"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := domain.Options{Quality: domain.QualityHigh, Mode: domain.ModeGeometry, Resolution: domain.Resolution8K}
	if got := proc.Options().Get(); got != want {
		t.Fatalf("stored options = %+v, want %+v", got, want)
	}

	key, _ := store.Put(context.Background(), "originals/a.png", []byte("raw"))
	reg.Add([]domain.Upload{{Name: "a.png", MIME: "image/png", OriginalKey: key}})

	if _, err := proc.Arm(context.Background(), ScopeIdle); !errors.Is(err, domain.ErrCredentialNeeded) {
		t.Fatalf("Arm = %v, want ErrCredentialNeeded", err)
	}
	gate.mu.Lock()
	gate.has = true
	gate.mu.Unlock()
	if _, err := proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	for i := 0; proc.State() != StateIdle; i++ {
		if i > 10 {
			t.Fatal("processor never returned to idle")
		}
		proc.Step(context.Background())
	}

	if len(client.reqs) != 1 {
		t.Fatalf("edit calls = %d, want 1", len(client.reqs))
	}
	req := client.reqs[0]
	if req.Model != imageprovider.DefaultEnhancedModel || req.ImageSize != "4K" {
		t.Fatalf("model = %q size = %q", req.Model, req.ImageSize)
	}
	expected := imageprovider.BuildInstruction(want, true)
	if req.Instruction != expected {
		t.Fatalf("instruction = %q, want %q", req.Instruction, expected)
	}
	if !strings.Contains(req.Instruction, "preserve geometry") || strings.Contains(req.Instruction, "preserve identity") {
		t.Fatal("instruction should carry the geometry integrity clause only")
	}
}

func TestFailedRerunKeepsPreviousResultRevertable(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.add(t, "a")[0]
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	first := f.get(t, rec.ID).EnhancedKey

	_ = f.reg.SetSelected(rec.ID, true)
	f.enhancer.responses = []stubResponse{{err: &domain.EnhancementError{Message: "boom"}}}
	if _, err := f.proc.Arm(context.Background(), ScopeSelection); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	got := f.get(t, rec.ID)
	if got.Status != domain.StatusFailed || got.EnhancedKey != "" {
		t.Fatalf("after failed rerun: status=%s enhanced=%q", got.Status, got.EnhancedKey)
	}
	if len(got.History) != 1 || got.History[0].Key != first {
		t.Fatalf("history = %+v, want [%s]", got.History, first)
	}
	if _, err := f.store.Get(context.Background(), first); err != nil {
		t.Fatalf("previous result released: %v", err)
	}

	if _, err := f.reg.Retry(rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	done := f.get(t, rec.ID)
	if done.Status != domain.StatusCompleted || len(done.History) != 1 {
		t.Fatalf("after retry: %+v", done)
	}
	reverted, err := f.reg.Revert(rec.ID, done.History[0].ID)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if reverted.EnhancedKey != first {
		t.Fatalf("reverted to %q, want %q", reverted.EnhancedKey, first)
	}
}

func TestTimeoutWithoutCallDeadlineOmitsDuration(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.add(t, "a")[0]
	f.enhancer.hook = func(ctx context.Context, req imageprovider.Request) error {
		return fmt.Errorf("client: %w", context.DeadlineExceeded)
	}
	if _, err := f.proc.Arm(context.Background(), ScopeIdle); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	got := f.get(t, rec.ID)
	if want := (&domain.TimeoutError{}).Error(); got.Error != want {
		t.Fatalf("error = %q, want %q", got.Error, want)
	}
}
