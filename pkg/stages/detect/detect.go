// Package detect implements the detection stage around an external detector.
package detect

import (
	"context"
	"fmt"
	"sort"

	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Options configures the detection stage.
type Options struct {
	// InputWidth and InputHeight resize frames before inference. Zero
	// passes frames at source size.
	InputWidth  int
	InputHeight int

	// MinConfidence drops detections scoring below it.
	MinConfidence float64

	// MaxDetections keeps only the highest scoring detections. Zero keeps all.
	MaxDetections int
}

// DefaultOptions returns the thresholds of the pedestrian model.
func DefaultOptions() Options {
	return Options{
		InputWidth:    640,
		InputHeight:   640,
		MinConfidence: 0.5,
		MaxDetections: 10,
	}
}

// Stage runs the detector on one converted frame and returns detections in
// source-frame pixels.
type Stage struct {
	detector ports.Detector
	renderer ports.Renderer
	opts     Options
	logger   ports.Logger
}

// New creates a new detect stage. renderer is only used when opts asks
// for a model input size.
func New(detector ports.Detector, renderer ports.Renderer, opts Options, logger ports.Logger) *Stage {
	return &Stage{
		detector: detector,
		renderer: renderer,
		opts:     opts,
		logger:   logger.WithComponent("detect"),
	}
}

// Execute runs detection on input.Image.
func (s *Stage) Execute(ctx context.Context, input pipeline.DetectInput) (pipeline.DetectResult, error) {
	b := input.Image.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	img := input.Image
	inW, inH := srcW, srcH
	if s.opts.InputWidth > 0 && s.opts.InputHeight > 0 && (srcW != s.opts.InputWidth || srcH != s.opts.InputHeight) {
		inW, inH = s.opts.InputWidth, s.opts.InputHeight
		img = s.renderer.ResizeImage(input.Image, inW, inH)
	}

	ctx = pipeline.WithSample(ctx, pipeline.SampleInfo{
		Index:          input.Index,
		PresentationUs: input.PresentationUs,
		SourceWidth:    srcW,
		SourceHeight:   srcH,
	})
	dets, err := s.detector.Detect(ctx, img)
	if err != nil {
		return pipeline.DetectResult{}, fmt.Errorf("detect sample %d: %w", input.Index, err)
	}
	dets = annotate.ScaleDetections(dets, inW, inH, srcW, srcH)

	result := pipeline.DetectResult{Detections: s.filter(dets, srcW, srcH)}
	s.logger.Debug("Sample %d: %d detections", input.Index, len(result.Detections))
	return result, nil
}

// filter applies the confidence threshold, keeps the top MaxDetections
// and clamps boxes to the frame. Ties keep detector order.
func (s *Stage) filter(dets []pipeline.Detection, w, h int) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < s.opts.MinConfidence {
			continue
		}
		d.Rect = d.Rect.Clamp(float64(w), float64(h))
		if d.Rect.Empty() {
			continue
		}
		out = append(out, d)
	}
	if s.opts.MaxDetections > 0 && len(out) > s.opts.MaxDetections {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
		out = out[:s.opts.MaxDetections]
	}
	return out
}

var _ pipeline.Stage[pipeline.DetectInput, pipeline.DetectResult] = (*Stage)(nil)
