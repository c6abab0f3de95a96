package image

import (
	"context"

	"lumina/internal/domain"
)

// Request is one enhancement call: the original bytes plus the option set
// captured when processing started.
type Request struct {
	Image     []byte
	MIME      string
	Options   domain.Options
	RequestID string
}

// Result carries the enhanced bytes and how they were produced.
type Result struct {
	Data        []byte
	MIME        string
	Model       string
	Instruction string
}

// Enhancer is the contract implemented by all enhancement providers.
// Implementations perform at most one upstream call and never retry.
type Enhancer interface {
	Enhance(ctx context.Context, req Request) (*Result, error)
}

// ModelNamer is implemented by enhancers that can report which model class a
// resolution tier maps to without calling upstream.
type ModelNamer interface {
	ModelFor(res domain.Resolution) string
}
