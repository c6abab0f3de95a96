package image

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"

	"lumina/internal/domain"
)

// LocalModel is reported as the model of locally produced results.
const LocalModel = "local-imaging"

type adjustments struct {
	gamma      float64
	contrast   float64
	saturation float64
	sharpen    float64
}

var localAdjustments = map[domain.Quality]adjustments{
	domain.QualityLow:    {gamma: 1.05, contrast: 5, saturation: 5, sharpen: 0.5},
	domain.QualityMedium: {gamma: 1.1, contrast: 10, saturation: 10, sharpen: 1.0},
	domain.QualityHigh:   {gamma: 1.15, contrast: 15, saturation: 15, sharpen: 1.5},
}

// LocalEnhancer applies deterministic tone and sharpening adjustments
// without any network call. It keeps the queue usable in development and CI.
type LocalEnhancer struct {
	tiers TierMap
	delay time.Duration
}

// NewLocalEnhancer builds an offline enhancer. delay simulates upstream
// latency and may be zero.
func NewLocalEnhancer(tiers TierMap, delay time.Duration) *LocalEnhancer {
	if tiers == nil {
		tiers = DefaultTierMap()
	}
	return &LocalEnhancer{tiers: tiers, delay: delay}
}

func (l *LocalEnhancer) ModelFor(domain.Resolution) string { return LocalModel }

func (l *LocalEnhancer) Enhance(ctx context.Context, req Request) (*Result, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	src, err := imaging.Decode(bytes.NewReader(req.Image), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &domain.EnhancementError{Message: fmt.Sprintf("decode image: %v", err), Err: err}
	}

	adj, ok := localAdjustments[req.Options.Quality]
	if !ok {
		adj = localAdjustments[domain.QualityMedium]
	}

	out := imaging.AdjustGamma(src, adj.gamma)
	out = imaging.AdjustContrast(out, adj.contrast)
	out = imaging.AdjustSaturation(out, adj.saturation)
	if req.Options.Mode != domain.ModeColorOnly && req.Options.Mode != domain.ModeTexture {
		out = imaging.Sharpen(out, adj.sharpen)
	}

	tier := l.tiers.Lookup(req.Options.Resolution)
	if edge := tier.LongEdge; edge > 0 {
		b := out.Bounds()
		if b.Dx() > edge || b.Dy() > edge {
			out = imaging.Fit(out, edge, edge, imaging.Lanczos)
		}
	}

	format := imaging.JPEG
	mime := "image/jpeg"
	if req.MIME == "image/png" {
		format = imaging.PNG
		mime = "image/png"
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format, imaging.JPEGQuality(92)); err != nil {
		return nil, &domain.EnhancementError{Message: fmt.Sprintf("encode image: %v", err), Err: err}
	}
	if buf.Len() == 0 {
		return nil, &domain.EmptyResultError{Model: LocalModel}
	}

	return &Result{
		Data:        buf.Bytes(),
		MIME:        mime,
		Model:       LocalModel,
		Instruction: BuildInstruction(req.Options, tier.UltraDetail),
	}, nil
}

var (
	_ Enhancer   = (*LocalEnhancer)(nil)
	_ ModelNamer = (*LocalEnhancer)(nil)
)
