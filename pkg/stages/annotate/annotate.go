// Package annotate implements the stage that draws detections onto frames.
package annotate

import (
	"context"
	"fmt"

	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Stage draws detection boxes and ordinal labels onto a copy of the frame.
type Stage struct {
	renderer ports.Renderer
	style     *annotate.Style
	overrides annotate.Overrides
	label     string
}

// New creates a new annotate stage. A nil style selects annotate.Defaults
// for each frame's width; label replaces empty detection labels.
func New(renderer ports.Renderer, style *annotate.Style, label string) *Stage {
	return &Stage{renderer: renderer, style: style, label: label}
}

// WithOverrides applies o on top of the style of every frame.
func (s *Stage) WithOverrides(o annotate.Overrides) *Stage {
	s.overrides = o
	return s
}

// Execute annotates input.Image. The input image is not modified.
func (s *Stage) Execute(ctx context.Context, input pipeline.AnnotateInput) (pipeline.AnnotateResult, error) {
	if input.Image == nil {
		return pipeline.AnnotateResult{}, fmt.Errorf("annotate: no image")
	}

	var style annotate.Style
	if s.style != nil {
		style = *s.style
	} else {
		style = annotate.Defaults(input.Image.Bounds().Dx())
	}
	style = s.overrides.Apply(style)
	if s.label != "" {
		style.DefaultLabel = s.label
	}

	return pipeline.AnnotateResult{
		Image: annotate.Annotate(s.renderer, input.Image, input.Detections, style),
	}, nil
}

var _ pipeline.Stage[pipeline.AnnotateInput, pipeline.AnnotateResult] = (*Stage)(nil)
