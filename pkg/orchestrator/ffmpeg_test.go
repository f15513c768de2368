package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/user/detectshow/pkg/adapters/ffmpegcodec"
	"github.com/user/detectshow/pkg/adapters/fixturedetector"
	"github.com/user/detectshow/pkg/adapters/ggrenderer"
	"github.com/user/detectshow/pkg/adapters/logger"
	"github.com/user/detectshow/pkg/adapters/mp4demuxer"
	"github.com/user/detectshow/pkg/adapters/mp4muxer"
	"github.com/user/detectshow/pkg/adapters/nullsink"
	"github.com/user/detectshow/pkg/adapters/osfilesystem"
	"github.com/user/detectshow/pkg/adapters/softgl"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

const fixtureYAML = `
- time_ms: 0
  detections:
    - {left: 10, top: 20, right: 60, bottom: 90, confidence: 0.9, label: Pedestrian}
- time_ms: 500
  detections: []
`

// realPipeline wires the on-disk adapters around an ffmpeg-generated
// one second 10 fps source. It skips when ffmpeg or libx264 is missing.
func realPipeline(t *testing.T) (*Orchestrator, string, string) {
	t.Helper()
	ffmpeg, err := ffmpegcodec.FindFFmpeg("")
	if err != nil {
		t.Skip("ffmpeg not available")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mp4")
	cmd := exec.Command(ffmpeg, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=128x96:rate=10", "-t", "1",
		"-c:v", "libx264", "-bf", "0", "-g", "5", "-pix_fmt", "yuv420p", src)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("cannot create source video: %v\n%s", err, out)
	}

	det, err := fixturedetector.Parse([]byte(fixtureYAML))
	if err != nil {
		t.Fatalf("fixture parse failed: %v", err)
	}
	codecs, err := ffmpegcodec.NewFactory(ffmpeg, 0, logger.NewNoop())
	if err != nil {
		t.Fatalf("codec factory failed: %v", err)
	}
	fs := osfilesystem.NewWithTempDir(dir)
	orch := New(Deps{
		FS:         fs,
		Codecs:     codecs,
		Detector:   det,
		Renderer:   ggrenderer.New(),
		Sink:       nullsink.New(),
		Logger:     logger.NewNoop(),
		NewDemuxer: func() ports.Demuxer { return mp4demuxer.New(fs) },
		NewMuxer:   func(path string) ports.Muxer { return mp4muxer.New(fs, path) },
		NewDisplay: func() ports.Display { return softgl.New() },
	})
	return orch, src, dir
}

func TestRealPipeline_Frames(t *testing.T) {
	orch, src, dir := realPipeline(t)
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames
	cfg.InputPath = src
	cfg.FrameDir = filepath.Join(dir, "frames")

	run := orch.Start(context.Background(), cfg)
	events := collect(t, run)
	result, err := run.Wait()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Samples < 10 {
		t.Fatalf("expected at least 10 samples, got %d", result.Samples)
	}
	checkProgress(t, events, result.Samples)
	if len(result.Artifact.Frames) != result.Samples {
		t.Fatalf("expected %d frame records, got %d", result.Samples, len(result.Artifact.Frames))
	}
	for i, rec := range result.Artifact.Frames {
		if _, err := os.Stat(rec.Path); err != nil {
			t.Errorf("frame %d missing: %v", i, err)
		}
	}
	if n := len(result.Artifact.Frames[0].Detections); n != 1 {
		t.Errorf("expected one detection on the first frame, got %d", n)
	}
	if n := len(result.Artifact.Frames[5].Detections); n != 0 {
		t.Errorf("expected no detections at 500ms, got %d", n)
	}
}

func TestRealPipeline_Video(t *testing.T) {
	orch, src, dir := realPipeline(t)
	cfg := DefaultConfig()
	cfg.InputPath = src
	cfg.OutputPath = filepath.Join(dir, "annotated.mp4")

	result, err := orch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	info, err := os.Stat(cfg.OutputPath)
	if err != nil || info.Size() == 0 || info.Size() != result.Artifact.FileSize {
		t.Fatalf("unexpected output file: %v", err)
	}

	dmx := mp4demuxer.New(osfilesystem.New())
	if err := dmx.Open(cfg.OutputPath); err != nil {
		t.Fatalf("output does not demux: %v", err)
	}
	defer dmx.Close()
	if dmx.TrackCount() != 1 {
		t.Fatalf("expected one track, got %d", dmx.TrackCount())
	}
	format, err := dmx.TrackFormat(0)
	if err != nil {
		t.Fatalf("TrackFormat failed: %v", err)
	}
	if format.Width != 128 || format.Height != 96 {
		t.Errorf("unexpected output size %dx%d", format.Width, format.Height)
	}
	if err := dmx.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack failed: %v", err)
	}
	samples := 0
	for {
		_, err := dmx.ReadSample()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadSample failed: %v", err)
		}
		samples++
	}
	if samples != result.Samples {
		t.Errorf("expected %d encoded samples, got %d", result.Samples, samples)
	}
}
