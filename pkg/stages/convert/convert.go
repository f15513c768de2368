// Package convert implements the color conversion stage.
package convert

import (
	"context"
	"fmt"
	"image"

	"github.com/user/detectshow/pkg/colorconv"
	"github.com/user/detectshow/pkg/pipeline"
)

// Stage converts decoded YUV 4:2:0 frames to RGBA. It keeps the last
// output buffer and reuses it when the caller passes no buffer of its own,
// so consumers must copy the image if they keep it past the next call.
type Stage struct {
	last *image.RGBA
}

// New creates a new convert stage.
func New() *Stage {
	return &Stage{}
}

// Execute converts input.Frame. The frame is not released.
func (s *Stage) Execute(ctx context.Context, input pipeline.ConvertInput) (pipeline.ConvertResult, error) {
	if input.Frame == nil {
		return pipeline.ConvertResult{}, fmt.Errorf("%w: no frame", pipeline.ErrInvalidFormat)
	}

	dst := input.Reuse
	if dst == nil {
		dst = s.last
	}
	img, err := colorconv.ToRGBA(input.Frame, dst)
	if err != nil {
		return pipeline.ConvertResult{}, fmt.Errorf("convert frame at %d us: %w", input.Frame.PresentationUs, err)
	}

	s.last = img
	return pipeline.ConvertResult{Image: img}, nil
}

var _ pipeline.Stage[pipeline.ConvertInput, pipeline.ConvertResult] = (*Stage)(nil)
