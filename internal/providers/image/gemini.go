package image

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"

	"lumina/internal/domain"
	"lumina/internal/providers/genai"
)

const (
	DefaultBaseModel     = genai.DefaultModel
	DefaultEnhancedModel = "gemini-3-pro-image-preview"
)

// supportedAspectRatios are the ratios the enhanced class accepts.
var supportedAspectRatios = []struct {
	label string
	w, h  float64
}{
	{"1:1", 1, 1},
	{"2:3", 2, 3},
	{"3:2", 3, 2},
	{"3:4", 3, 4},
	{"4:3", 4, 3},
	{"4:5", 4, 5},
	{"5:4", 5, 4},
	{"9:16", 9, 16},
	{"16:9", 16, 9},
	{"21:9", 21, 9},
}

// EditClient is the subset of the Gemini client used for enhancement.
type EditClient interface {
	EditImage(ctx context.Context, req genai.EditRequest) (*genai.EditResult, error)
}

// GeminiEnhancer sends the original image and the rendered instruction to
// Gemini, choosing the model class from the tier map.
type GeminiEnhancer struct {
	client        EditClient
	tiers         TierMap
	baseModel     string
	enhancedModel string
}

// NewGeminiEnhancer wires an enhancer. Empty model names use the defaults.
func NewGeminiEnhancer(client EditClient, tiers TierMap, baseModel, enhancedModel string) *GeminiEnhancer {
	if tiers == nil {
		tiers = DefaultTierMap()
	}
	if baseModel == "" {
		baseModel = DefaultBaseModel
	}
	if enhancedModel == "" {
		enhancedModel = DefaultEnhancedModel
	}
	return &GeminiEnhancer{client: client, tiers: tiers, baseModel: baseModel, enhancedModel: enhancedModel}
}

// ModelFor returns the model used for res.
func (g *GeminiEnhancer) ModelFor(res domain.Resolution) string {
	if g.tiers.RequiresEnhanced(res) {
		return g.enhancedModel
	}
	return g.baseModel
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, req Request) (*Result, error) {
	tier := g.tiers.Lookup(req.Options.Resolution)
	instruction := BuildInstruction(req.Options, tier.UltraDetail)

	edit := genai.EditRequest{
		Model:       g.baseModel,
		Image:       req.Image,
		MIME:        req.MIME,
		Instruction: instruction,
		RequestID:   req.RequestID,
	}
	if tier.Class == ClassEnhanced {
		edit.Model = g.enhancedModel
		edit.ImageSize = tier.ImageSize
		edit.AspectRatio = NearestAspectRatio(req.Image)
	}

	res, err := g.client.EditImage(ctx, edit)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:        res.Data,
		MIME:        res.MIME,
		Model:       res.Model,
		Instruction: instruction,
	}, nil
}

// NearestAspectRatio returns the supported ratio closest to the image's
// dimensions, or "" when the image header cannot be read.
func NearestAspectRatio(data []byte) string {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return ""
	}
	return nearestRatio(cfg.Width, cfg.Height)
}

func nearestRatio(width, height int) string {
	target := math.Log(float64(width) / float64(height))
	best := supportedAspectRatios[0].label
	bestDist := math.Inf(1)
	for _, r := range supportedAspectRatios {
		d := math.Abs(target - math.Log(r.w/r.h))
		if d < bestDist {
			best, bestDist = r.label, d
		}
	}
	return best
}

var (
	_ Enhancer   = (*GeminiEnhancer)(nil)
	_ ModelNamer = (*GeminiEnhancer)(nil)
)
