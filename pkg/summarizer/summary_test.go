package summarizer

import (
	"testing"
	"time"

	"github.com/user/detectshow/pkg/orchestrator"
	"github.com/user/detectshow/pkg/pipeline"
)

func TestNewSummary(t *testing.T) {
	before := time.Now()
	summary := NewSummary()
	after := time.Now()

	if summary.GeneratedAt.Before(before) || summary.GeneratedAt.After(after) {
		t.Errorf("GeneratedAt should be between %v and %v, got %v",
			before, after, summary.GeneratedAt)
	}
}

func TestBuilder_WithSource(t *testing.T) {
	summary := NewBuilder().
		WithSource("walk.mp4", pipeline.TrackFormat{MIME: "video/avc", Width: 1280, Height: 720, DurationUs: 12_345_000, FrameRate: 30}).
		Build()

	want := SourceInfo{Path: "walk.mp4", Codec: "H.264", Width: 1280, Height: 720, DurationMs: 12345, FrameRate: 30}
	if summary.Source != want {
		t.Errorf("expected %+v, got %+v", want, summary.Source)
	}
}

func TestBuilder_WithResult(t *testing.T) {
	tests := []struct {
		name   string
		result orchestrator.Result
		want   OutputInfo
	}{
		{
			name: "video",
			result: orchestrator.Result{
				Artifact:  pipeline.Artifact{Mode: pipeline.OutputVideo, VideoPath: "out.mp4", FileSize: 2048},
				Processed: 11,
			},
			want: OutputInfo{Mode: pipeline.OutputVideo, Path: "out.mp4", FileSize: 2048, FrameCount: 11},
		},
		{
			name: "frames",
			result: orchestrator.Result{
				Artifact:  pipeline.Artifact{Mode: pipeline.OutputFrames, FrameDir: "frames", Frames: make([]pipeline.FrameRecord, 3)},
				Processed: 3,
			},
			want: OutputInfo{Mode: pipeline.OutputFrames, Path: "frames", FrameCount: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.result.Samples = 12
			tt.result.Skipped = 1
			tt.result.Detections = 7
			tt.result.AverageConfidence = 0.75
			tt.result.Elapsed = 1500 * time.Millisecond

			summary := NewBuilder().WithResult(tt.result).Build()
			if summary.Output != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, summary.Output)
			}
			r := summary.Results
			if r.Samples != 12 || r.Skipped != 1 || r.Detections != 7 || r.AverageConfidence != 0.75 || r.ElapsedMs != 1500 {
				t.Errorf("unexpected results %+v", r)
			}
		})
	}
}

func TestBuilder_WithSettings(t *testing.T) {
	settings := Settings{Quality: "high", Detector: "fixture", IntervalMs: 100}
	summary := NewBuilder().WithSettings(settings).Build()

	if summary.Settings != settings {
		t.Errorf("expected %+v, got %+v", settings, summary.Settings)
	}
}

func TestCodecName(t *testing.T) {
	tests := map[string]string{
		"video/avc":  "H.264",
		"video/hevc": "H.265",
		"video/av01": "AV1",
		"video/mp4v": "video/mp4v",
	}
	for mime, want := range tests {
		if got := codecName(mime); got != want {
			t.Errorf("codecName(%q) = %q, want %q", mime, got, want)
		}
	}
}
