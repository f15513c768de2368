// Package pipeline provides the shared frame, detection and stage types for detectshow.
package pipeline

import (
	"context"
)

// Stage represents a per-sample processing step.
// Each stage takes an input and produces an output.
type Stage[In, Out any] interface {
	// Execute runs the stage with the given input and returns the output.
	Execute(ctx context.Context, input In) (Out, error)
}

// StageFunc is a function adapter for Stage interface.
type StageFunc[In, Out any] func(ctx context.Context, input In) (Out, error)

// Execute implements Stage interface.
func (f StageFunc[In, Out]) Execute(ctx context.Context, input In) (Out, error) {
	return f(ctx, input)
}

// SampleInfo identifies the sample a detector is called for.
type SampleInfo struct {
	Index          int
	PresentationUs int64
	// SourceWidth and SourceHeight are the decoded frame dimensions before
	// any resize to the detector input size.
	SourceWidth  int
	SourceHeight int
}

type sampleKey struct{}

// WithSample returns a context carrying info.
func WithSample(ctx context.Context, info SampleInfo) context.Context {
	return context.WithValue(ctx, sampleKey{}, info)
}

// SampleFrom returns the sample info stored in ctx, if any.
func SampleFrom(ctx context.Context) (SampleInfo, bool) {
	info, ok := ctx.Value(sampleKey{}).(SampleInfo)
	return info, ok
}
