// Package summarizer provides summary generation for annotation runs.
package summarizer

import (
	"time"

	"github.com/user/detectshow/pkg/orchestrator"
	"github.com/user/detectshow/pkg/pipeline"
)

// Summary contains all data collected during one run.
type Summary struct {
	// Metadata
	GeneratedAt time.Time

	Source   SourceInfo
	Results  ResultInfo
	Settings Settings
	Output   OutputInfo
}

// SourceInfo describes the input video.
type SourceInfo struct {
	Path       string
	Codec      string
	Width      int
	Height     int
	DurationMs int64
	FrameRate  float64
}

// ResultInfo contains the run counters.
type ResultInfo struct {
	Samples           int
	Processed         int
	Skipped           int
	Detections        int
	// AverageConfidence is in [0,1].
	AverageConfidence float64
	ElapsedMs         int64
}

// Settings contains the run configuration.
type Settings struct {
	Quality       string
	Detector      string
	IntervalMs    int
	MinConfidence float64
	MaxDetections int
	ModelWidth    int
	ModelHeight   int
}

// OutputInfo describes the artifact.
type OutputInfo struct {
	Mode       pipeline.OutputMode
	Path       string
	FileSize   int64
	FrameCount int
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithSource sets the input description.
func (b *Builder) WithSource(path string, track pipeline.TrackFormat) *Builder {
	b.summary.Source = SourceInfo{
		Path:       path,
		Codec:      codecName(track.MIME),
		Width:      track.Width,
		Height:     track.Height,
		DurationMs: track.DurationMs(),
		FrameRate:  track.FrameRate,
	}
	return b
}

// WithResult copies counters and the artifact from a finished run.
func (b *Builder) WithResult(r orchestrator.Result) *Builder {
	b.summary.Results = ResultInfo{
		Samples:           r.Samples,
		Processed:         r.Processed,
		Skipped:           r.Skipped,
		Detections:        r.Detections,
		AverageConfidence: r.AverageConfidence,
		ElapsedMs:         r.Elapsed.Milliseconds(),
	}

	out := OutputInfo{Mode: r.Artifact.Mode}
	switch r.Artifact.Mode {
	case pipeline.OutputFrames:
		out.Path = r.Artifact.FrameDir
		out.FrameCount = len(r.Artifact.Frames)
	default:
		out.Path = r.Artifact.VideoPath
		out.FileSize = r.Artifact.FileSize
		out.FrameCount = r.Processed
	}
	b.summary.Output = out
	return b
}

// WithSettings sets the run settings.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}

func codecName(mime string) string {
	switch mime {
	case "video/avc":
		return "H.264"
	case "video/hevc":
		return "H.265"
	case "video/av01":
		return "AV1"
	case "video/x-vnd.on2.vp9":
		return "VP9"
	default:
		return mime
	}
}
