package ports

import (
	"context"
	"image"

	"github.com/user/detectshow/pkg/pipeline"
)

// Detector is the external detection collaborator. It is called
// sequentially from the pipeline worker, never concurrently.
type Detector interface {
	// Detect returns detections in img pixel coordinates.
	Detect(ctx context.Context, img image.Image) ([]pipeline.Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) ([]pipeline.Detection, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]pipeline.Detection, error) {
	return f(ctx, img)
}

// FrameOutput persists annotated samples.
type FrameOutput interface {
	// Write persists one sample. Presentation times are non-decreasing.
	Write(ctx context.Context, frame pipeline.AnnotatedFrame) error

	// Finish completes the artifact.
	Finish(ctx context.Context) (pipeline.Artifact, error)

	// Abort tears down without completing and deletes partial artifacts.
	Abort() error
}
