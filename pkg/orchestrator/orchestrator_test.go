package orchestrator

import (
	"context"
	"errors"
	"image"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/detectshow/pkg/adapters/logger"
	"github.com/user/detectshow/pkg/adapters/mp4muxer"
	"github.com/user/detectshow/pkg/adapters/softgl"
	"github.com/user/detectshow/pkg/mocks"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// source returns a demuxer of n frames spaced intervalUs apart with a key
// frame every keyEvery frames.
func source(n int, intervalUs int64, keyEvery int) *mocks.Demuxer {
	samples := make([]pipeline.AccessUnit, n)
	for i := range samples {
		samples[i] = pipeline.AccessUnit{
			Data:           []byte{0, 0, 0, 1, 0x41},
			PresentationUs: int64(i) * intervalUs,
			KeyFrame:       i%keyEvery == 0,
		}
	}
	return &mocks.Demuxer{
		Tracks: []pipeline.TrackFormat{
			{MIME: "video/avc", Width: 64, Height: 64, DurationUs: int64(n) * intervalUs, FrameRate: 1e6 / float64(intervalUs)},
		},
		Samples: samples,
	}
}

type fixture struct {
	fs       *mocks.FileSystem
	dmx      *mocks.Demuxer
	decoder  *mocks.DecoderCodec
	encoder  *mocks.EncoderCodec
	detector *mocks.Detector
	renderer *mocks.Renderer
	sink     *mocks.DebugSink
}

// newFixture models the synthetic 1000 ms, 10 fps, 64x64 source.
func newFixture() *fixture {
	return &fixture{
		fs:       mocks.NewFileSystem(),
		dmx:      source(10, 100_000, 5),
		decoder:  &mocks.DecoderCodec{Width: 64, Height: 64, MaxOutstanding: 3},
		encoder:  &mocks.EncoderCodec{Latency: 1},
		detector: &mocks.Detector{},
		renderer: &mocks.Renderer{},
		sink:     mocks.NewDebugSink(false),
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(Deps{
		FS:         f.fs,
		Codecs:     &mocks.CodecFactory{Decoder: f.decoder, Encoder: f.encoder},
		Detector:   f.detector,
		Renderer:   f.renderer,
		Sink:       f.sink,
		Logger:     logger.NewNoop(),
		NewDemuxer: func() ports.Demuxer { return f.dmx },
		NewMuxer:   func(path string) ports.Muxer { return mp4muxer.New(f.fs, path) },
		NewDisplay: func() ports.Display { return softgl.New() },
	})
}

// collect reads every event of run until the channel closes.
func collect(t *testing.T, run *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func progressEvents(events []Event) []EventProgress {
	var out []EventProgress
	for _, ev := range events {
		if p, ok := ev.(EventProgress); ok {
			out = append(out, p)
		}
	}
	return out
}

func checkProgress(t *testing.T, events []Event, want int) {
	t.Helper()
	progress := progressEvents(events)
	if len(progress) != want {
		t.Fatalf("expected %d progress events, got %d", want, len(progress))
	}
	for i, p := range progress {
		if p.Sample != i+1 || p.Total != want {
			t.Errorf("progress %d: sample %d of %d", i, p.Sample, p.Total)
		}
	}
	if last := progress[len(progress)-1].Fraction; last != 1.0 {
		t.Errorf("expected final progress 1.0, got %v", last)
	}
	if len(events) != want+1 {
		t.Errorf("expected exactly one terminal event, got %d events after progress", len(events)-want)
	}
}

func TestRun_FrameSequence(t *testing.T) {
	f := newFixture()
	f.sink = mocks.NewDebugSink(true)
	f.detector.DetectFunc = func(ctx context.Context, img image.Image) ([]pipeline.Detection, error) {
		return []pipeline.Detection{{Rect: pipeline.Rect{Left: 100, Top: 100, Right: 400, Bottom: 600}, Confidence: 0.9}}, nil
	}
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames
	cfg.InputPath = "in.mp4"

	run := f.orchestrator().Start(context.Background(), cfg)
	events := collect(t, run)
	result, err := run.Wait()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	checkProgress(t, events, 11)
	complete, ok := events[len(events)-1].(EventComplete)
	if !ok {
		t.Fatalf("expected EventComplete, got %T", events[len(events)-1])
	}
	if complete.Result.Processed != 11 || result.Samples != 11 {
		t.Errorf("expected 11 processed samples, got %d of %d", complete.Result.Processed, result.Samples)
	}
	if result.AspectRatio != 1 {
		t.Errorf("expected aspect ratio 1, got %v", result.AspectRatio)
	}
	if result.Detections != 11 || math.Abs(result.AverageConfidence-0.9) > 1e-9 {
		t.Errorf("expected 11 detections averaging 0.9, got %d averaging %v", result.Detections, result.AverageConfidence)
	}

	frames := result.Artifact.Frames
	if len(frames) != 11 {
		t.Fatalf("expected 11 frame records, got %d", len(frames))
	}
	for i, rec := range frames {
		if rec.PresentationUs != int64(i)*100_000 {
			t.Errorf("frame %d pts = %d", i, rec.PresentationUs)
		}
		if i > 0 && rec.PresentationUs <= frames[i-1].PresentationUs {
			t.Errorf("frame %d pts not increasing", i)
		}
		if _, ok := f.fs.GetFile(rec.Path); !ok {
			t.Errorf("frame %d not written", i)
		}
		if !strings.HasPrefix(rec.Path, result.Artifact.FrameDir) {
			t.Errorf("frame %d outside the frame dir: %s", i, rec.Path)
		}
		// 64 px frames are resized to 640 for detection and scaled back.
		want := pipeline.Rect{Left: 10, Top: 10, Right: 40, Bottom: 60}
		if len(rec.Detections) != 1 || rec.Detections[0].Rect != want {
			t.Errorf("frame %d detections = %+v", i, rec.Detections)
		}
	}

	if f.detector.Calls() != 11 {
		t.Errorf("expected 11 detector calls, got %d", f.detector.Calls())
	}
	if f.decoder.Held() != 0 || f.decoder.Acquired != f.decoder.ReleasedN {
		t.Errorf("decoder buffers leaked: held %d, acquired %d, released %d", f.decoder.Held(), f.decoder.Acquired, f.decoder.ReleasedN)
	}
	if !f.decoder.ReleasedAll || !f.dmx.Closed {
		t.Error("expected decoder and demuxer to be closed")
	}
	if len(f.sink.AnnotatedFrames) != 11 || f.sink.DetectionsJSON == nil || f.sink.TrackJSON == nil {
		t.Error("expected debug output for every sample")
	}

	if err := result.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if n := len(f.fs.GetAllFiles()); n != 0 {
		t.Errorf("expected Discard to remove every frame, %d files left", n)
	}
}

func TestRun_Video(t *testing.T) {
	f := newFixture()
	cfg := DefaultConfig()
	cfg.InputPath = "in.mp4"
	cfg.OutputPath = "/out/annotated.mp4"

	result, err := f.orchestrator().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.Artifact.Mode != pipeline.OutputVideo || result.Artifact.VideoPath != cfg.OutputPath {
		t.Errorf("unexpected artifact: %+v", result.Artifact)
	}
	data, ok := f.fs.GetFile(cfg.OutputPath)
	if !ok || len(data) == 0 || int64(len(data)) != result.Artifact.FileSize {
		t.Fatal("expected a non-empty video file")
	}
	surface := f.encoder.Surface()
	if len(surface.Frames) != 11 {
		t.Errorf("expected 11 frames presented to the encoder, got %d", len(surface.Frames))
	}
	if f.encoder.Held() != 0 {
		t.Errorf("encoder output buffers leaked: %d", f.encoder.Held())
	}
	if f.decoder.Held() != 0 {
		t.Errorf("decoder output buffers leaked: %d", f.decoder.Held())
	}

	if err := result.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, ok := f.fs.GetFile(cfg.OutputPath); ok {
		t.Error("expected Discard to delete the video")
	}
}

func TestRun_VideoDefaultPath(t *testing.T) {
	f := newFixture()
	cfg := DefaultConfig()
	cfg.InputPath = "in.mp4"

	result, err := f.orchestrator().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasPrefix(result.Artifact.VideoPath, "/tmp/annotated_") || !strings.HasSuffix(result.Artifact.VideoPath, ".mp4") {
		t.Errorf("unexpected default path %s", result.Artifact.VideoPath)
	}
}

func TestRun_CancelAfterFiveFrames(t *testing.T) {
	for _, mode := range []pipeline.OutputMode{pipeline.OutputFrames, pipeline.OutputVideo} {
		t.Run(mode.String(), func(t *testing.T) {
			f := newFixture()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var mu sync.Mutex
			calls := 0
			f.detector.DetectFunc = func(context.Context, image.Image) ([]pipeline.Detection, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls == 5 {
					cancel()
				}
				return nil, nil
			}
			cfg := DefaultConfig()
			cfg.Mode = mode
			cfg.InputPath = "in.mp4"
			cfg.OutputPath = "/out/annotated.mp4"
			cfg.FrameDir = "/home/user/frames"

			// Files that were at the output locations before the run.
			existing := cfg.OutputPath
			if mode == pipeline.OutputFrames {
				existing = cfg.FrameDir + "/holiday.jpg"
				f.fs.MkdirAll(cfg.FrameDir)
			}
			f.fs.WriteFile(existing, []byte("earlier output"))

			run := f.orchestrator().Start(ctx, cfg)
			events := collect(t, run)
			_, err := run.Wait()

			if !errors.Is(err, pipeline.ErrCanceled) {
				t.Fatalf("expected ErrCanceled, got %v", err)
			}
			failed, ok := events[len(events)-1].(EventFailed)
			if !ok {
				t.Fatalf("expected EventFailed, got %T", events[len(events)-1])
			}
			if failed.Message != pipeline.ErrCanceled.Error() {
				t.Errorf("unexpected failure message %q", failed.Message)
			}
			if n := len(progressEvents(events)); n > 5 {
				t.Errorf("expected at most 5 progress events, got %d", n)
			}
			files := f.fs.GetAllFiles()
			if _, ok := files[existing]; !ok || len(files) != 1 {
				t.Errorf("expected only the earlier %s after cancel, got %d files", existing, len(files))
			}
			if mode == pipeline.OutputFrames {
				if ok, _ := f.fs.Exists(cfg.FrameDir); !ok {
					t.Error("expected the user's frame directory to remain")
				}
			}
			if f.decoder.Held() != 0 {
				t.Errorf("decoder buffers leaked: %d", f.decoder.Held())
			}
		})
	}
}

func TestRun_CancelBeforeStart(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames

	_, err := f.orchestrator().Run(ctx, cfg)
	if !errors.Is(err, pipeline.ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
	if f.detector.Calls() != 0 {
		t.Errorf("expected no detector calls, got %d", f.detector.Calls())
	}
}

func TestRun_SkipsUnconvertibleSample(t *testing.T) {
	f := newFixture()
	f.decoder.BadFormatAt = map[int64]bool{300_000: true}
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames

	run := f.orchestrator().Start(context.Background(), cfg)
	events := collect(t, run)
	result, err := run.Wait()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	checkProgress(t, events, 11)
	if result.Processed != 10 || result.Skipped != 1 {
		t.Errorf("expected 10 processed and 1 skipped, got %d and %d", result.Processed, result.Skipped)
	}
	for _, rec := range result.Artifact.Frames {
		if rec.PresentationUs == 300_000 {
			t.Error("skipped sample must not be written")
		}
	}
}

func TestRun_NoFramesProcessed(t *testing.T) {
	f := newFixture()
	f.decoder.BadFormatAt = map[int64]bool{}
	for i := int64(0); i < 10; i++ {
		f.decoder.BadFormatAt[i*100_000] = true
	}
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames

	run := f.orchestrator().Start(context.Background(), cfg)
	events := collect(t, run)
	_, err := run.Wait()

	if !errors.Is(err, pipeline.ErrNoFramesProcessed) {
		t.Fatalf("expected ErrNoFramesProcessed, got %v", err)
	}
	if len(progressEvents(events)) != 11 {
		t.Errorf("expected progress for every skipped sample")
	}
	if n := len(f.fs.GetAllFiles()); n != 0 {
		t.Errorf("expected no files, got %d", n)
	}
}

func TestRun_OpenErrors(t *testing.T) {
	tests := []struct {
		name  string
		track pipeline.TrackFormat
		want  error
	}{
		{"zero duration", pipeline.TrackFormat{MIME: "video/avc", Width: 64, Height: 64}, pipeline.ErrInvalidVideoProperties},
		{"zero size", pipeline.TrackFormat{MIME: "video/avc", DurationUs: 1_000_000}, pipeline.ErrInvalidVideoProperties},
		{"no video", pipeline.TrackFormat{MIME: "audio/opus", DurationUs: 1_000_000}, pipeline.ErrNoVideoTrack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.dmx.Tracks = []pipeline.TrackFormat{tt.track}

			run := f.orchestrator().Start(context.Background(), DefaultConfig())
			events := collect(t, run)
			_, err := run.Wait()

			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if len(events) != 1 {
				t.Fatalf("expected a single terminal event, got %d", len(events))
			}
			if _, ok := events[0].(EventFailed); !ok {
				t.Errorf("expected EventFailed, got %T", events[0])
			}
		})
	}
}

func TestStart_OpensOnWorker(t *testing.T) {
	f := newFixture()
	f.dmx.OpenGate = make(chan struct{})
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames
	cfg.InputPath = "in.mp4"

	started := make(chan *Run, 1)
	go func() { started <- f.orchestrator().Start(context.Background(), cfg) }()

	var run *Run
	select {
	case run = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked while the input was being opened")
	}
	select {
	case <-run.Done():
		t.Fatal("run ended before the input was opened")
	default:
	}

	close(f.dmx.OpenGate)
	events := collect(t, run)
	if _, err := run.Wait(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	checkProgress(t, events, 11)
}

func TestRun_EventsReadAfterFinish(t *testing.T) {
	f := newFixture()
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames
	cfg.InputPath = "in.mp4"

	run := f.orchestrator().Start(context.Background(), cfg)
	if _, err := run.Wait(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	checkProgress(t, collect(t, run), 11)
}

func TestRun_DetectorError(t *testing.T) {
	f := newFixture()
	boom := errors.New("model crashed")
	f.detector.DetectFunc = func(context.Context, image.Image) ([]pipeline.Detection, error) {
		return nil, boom
	}
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames

	_, err := f.orchestrator().Run(context.Background(), cfg)
	if !errors.Is(err, boom) {
		t.Errorf("expected detector error, got %v", err)
	}
	if n := len(f.fs.GetAllFiles()); n != 0 {
		t.Errorf("expected partial frames to be deleted, got %d files", n)
	}
}

func TestRun_FinalPartialInterval(t *testing.T) {
	f := newFixture()
	// 1050 ms of video sampled every 100 ms: 0..1000 ms.
	f.dmx.Tracks[0].DurationUs = 1_050_000
	cfg := DefaultConfig()
	cfg.Mode = pipeline.OutputFrames

	result, err := f.orchestrator().Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Samples != 11 {
		t.Errorf("expected 11 samples, got %d", result.Samples)
	}
	last := result.Artifact.Frames[len(result.Artifact.Frames)-1]
	if last.PresentationUs != 1_000_000 {
		t.Errorf("expected the last sample at 1000 ms, got %d", last.PresentationUs)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.IntervalMs != 100 || cfg.JPEGQuality != 85 || cfg.SeekThresholdMs != 2000 || cfg.Label != "Pedestrian" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg := (Config{SeekThresholdMs: -1}).withDefaults(); cfg.SeekThresholdMs != -1 {
		t.Error("negative seek threshold must be kept")
	}
}
