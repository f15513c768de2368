// Package nulldetector provides a detector that never finds anything.
package nulldetector

import (
	"context"
	"image"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Detector implements ports.Detector and returns no detections.
type Detector struct{}

// New creates a new Detector.
func New() *Detector {
	return &Detector{}
}

// Detect returns no detections.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]pipeline.Detection, error) {
	return nil, ctx.Err()
}

var _ ports.Detector = (*Detector)(nil)
