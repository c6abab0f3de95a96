package credentials

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lumina/internal/events"
)

// Source names where the active key came from.
type Source string

const (
	SourceNone      Source = "none"
	SourceSelection Source = "selection"
	SourceEnv       Source = "environment"
)

// Status is what the presentation layer needs to know about the key. The
// key itself is never exposed.
type Status struct {
	Provider string `json:"provider"`
	Selected bool   `json:"selected"`
	Source   Source `json:"source"`
}

// CredentialRequired is published when the user must pick a key.
type CredentialRequired struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// Gate resolves the Gemini key and asks the user to select one when it is
// missing or rejected. A selected key wins over the environment key.
type Gate struct {
	envKey    string
	store     KeyStore
	publisher events.Publisher
	logger    zerolog.Logger

	mu       sync.RWMutex
	selected string
	rejected bool
}

// NewGate builds a gate. store may be nil, in which case selections live in memory.
func NewGate(envKey string, store KeyStore, publisher events.Publisher, logger zerolog.Logger) *Gate {
	if store == nil {
		store = NewMemoryStore()
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Gate{
		envKey:    strings.TrimSpace(envKey),
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// APIKey returns the active key, or "" when none is available.
func (g *Gate) APIKey(ctx context.Context) (string, error) {
	key, _, err := g.resolve(ctx)
	return key, err
}

func (g *Gate) resolve(ctx context.Context) (string, Source, error) {
	g.mu.RLock()
	cached := g.selected
	g.mu.RUnlock()
	if cached != "" {
		return cached, SourceSelection, nil
	}

	stored, err := g.store.GeminiAPIKey(ctx)
	if err != nil {
		return "", SourceNone, err
	}
	if stored != "" {
		g.mu.Lock()
		g.selected = stored
		g.mu.Unlock()
		return stored, SourceSelection, nil
	}
	if g.envKey != "" {
		return g.envKey, SourceEnv, nil
	}
	return "", SourceNone, nil
}

// HasCredential reports whether a key is selected and has not been rejected
// by the upstream since it was selected.
func (g *Gate) HasCredential(ctx context.Context) (bool, error) {
	key, _, err := g.resolve(ctx)
	if err != nil {
		return false, err
	}
	g.mu.RLock()
	rejected := g.rejected
	g.mu.RUnlock()
	return key != "" && !rejected, nil
}

// PromptSelection marks the current key as unusable and publishes a
// credential_required event for the presentation layer.
func (g *Gate) PromptSelection(ctx context.Context, reason string) {
	g.mu.Lock()
	g.rejected = true
	g.mu.Unlock()
	g.logger.Warn().Str("reason", reason).Msg("credentials: key selection required")
	g.publisher.Publish(events.KindCredentialRequired, CredentialRequired{Provider: ProviderGemini, Reason: reason})
}

// Select stores key as the active credential.
func (g *Gate) Select(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	if err := g.store.SetGeminiAPIKey(ctx, key); err != nil {
		return err
	}
	g.mu.Lock()
	g.selected = key
	g.rejected = false
	g.mu.Unlock()
	g.logger.Info().Msg("credentials: key selected")
	return nil
}

// Forget drops the selected key. The environment key, if any, applies again.
func (g *Gate) Forget(ctx context.Context) error {
	if err := g.store.ClearGeminiAPIKey(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.selected = ""
	g.rejected = false
	g.mu.Unlock()
	g.logger.Info().Msg("credentials: key forgotten")
	return nil
}

// Status reports whether a usable key is selected and where it came from.
func (g *Gate) Status(ctx context.Context) (Status, error) {
	key, source, err := g.resolve(ctx)
	if err != nil {
		return Status{}, err
	}
	g.mu.RLock()
	rejected := g.rejected
	g.mu.RUnlock()
	return Status{Provider: ProviderGemini, Selected: key != "" && !rejected, Source: source}, nil
}
