package image

import (
	"fmt"
	"strings"
	"time"

	"lumina/internal/domain"
)

const (
	ProviderGemini = "gemini"
	ProviderLocal  = "local"
)

// Selection is an enhancer together with the tier predicate the queue uses
// to decide whether a credential must be selected first.
type Selection struct {
	Enhancer           Enhancer
	RequiresCredential func(domain.Resolution) bool
}

// NewEnhancer picks the provider by name. The local provider never needs a
// credential; Gemini needs one for the enhanced class.
func NewEnhancer(provider string, client EditClient, tiers TierMap, baseModel, enhancedModel string, localDelay time.Duration) (Selection, error) {
	if tiers == nil {
		tiers = DefaultTierMap()
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderGemini:
		if client == nil {
			return Selection{}, fmt.Errorf("gemini provider requires a client")
		}
		return Selection{
			Enhancer:           NewGeminiEnhancer(client, tiers, baseModel, enhancedModel),
			RequiresCredential: tiers.RequiresEnhanced,
		}, nil
	case ProviderLocal:
		return Selection{
			Enhancer:           NewLocalEnhancer(tiers, localDelay),
			RequiresCredential: func(domain.Resolution) bool { return false },
		}, nil
	default:
		return Selection{}, fmt.Errorf("unknown enhancer provider %q", provider)
	}
}
