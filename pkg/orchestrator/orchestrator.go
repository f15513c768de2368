// Package orchestrator runs one video through decode, conversion,
// detection, annotation and output on a background worker.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/decoder"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
	annotatestage "github.com/user/detectshow/pkg/stages/annotate"
	"github.com/user/detectshow/pkg/stages/convert"
	"github.com/user/detectshow/pkg/stages/detect"
	"github.com/user/detectshow/pkg/stages/encode"
	"github.com/user/detectshow/pkg/stages/framestore"
)

// Config contains all configuration for one run.
type Config struct {
	// Input
	InputPath string

	// Output
	Mode pipeline.OutputMode
	// OutputPath is the video file for OutputVideo. Empty writes
	// annotated_<uuid>.mp4 into the temp directory.
	OutputPath string
	// FrameDir receives the JPEG sequence for OutputFrames. Empty creates
	// frames_<uuid> in the temp directory.
	FrameDir    string
	JPEGQuality int

	// Sampling
	IntervalMs int
	// SeekThresholdMs repositions the decoder when the next sample is
	// further ahead than this. Negative disables seeking.
	SeekThresholdMs int

	// Detection
	Detect detect.Options
	Label  string

	// Annotation style. Nil scales the default style to the frame width.
	Style          *annotate.Style
	StyleOverrides annotate.Overrides

	// Encoding
	BitRate           int
	IFrameIntervalSec int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Mode:              pipeline.OutputVideo,
		JPEGQuality:       framestore.DefaultQuality,
		IntervalMs:        100,
		SeekThresholdMs:   2000,
		Detect:            detect.DefaultOptions(),
		Label:             "Pedestrian",
		BitRate:           4_000_000,
		IFrameIntervalSec: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.IntervalMs <= 0 {
		c.IntervalMs = d.IntervalMs
	}
	if c.SeekThresholdMs == 0 {
		c.SeekThresholdMs = d.SeekThresholdMs
	}
	if c.Label == "" {
		c.Label = d.Label
	}
	if c.BitRate <= 0 {
		c.BitRate = d.BitRate
	}
	if c.IFrameIntervalSec <= 0 {
		c.IFrameIntervalSec = d.IFrameIntervalSec
	}
	return c
}

// Deps are the adapters a run is built from. Factories are called once
// per run.
type Deps struct {
	FS       ports.FileSystem
	Codecs   ports.CodecFactory
	Detector ports.Detector
	Renderer ports.Renderer
	Sink     ports.DebugSink
	Logger   ports.Logger

	NewDemuxer func() ports.Demuxer
	NewMuxer   func(path string) ports.Muxer
	NewDisplay func() ports.Display

	// DequeueTimeout bounds each codec wait. Zero uses the decoder default.
	DequeueTimeout time.Duration
}

// Orchestrator starts pipeline runs.
type Orchestrator struct {
	deps   Deps
	logger ports.Logger
}

// New creates a new Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		logger: deps.Logger.WithComponent("orchestrator"),
	}
}

// Result describes a completed run.
type Result struct {
	Artifact pipeline.Artifact
	Track    pipeline.TrackFormat

	// AspectRatio is the source width divided by its height.
	AspectRatio float64

	Samples           int
	Processed         int
	Skipped           int
	Detections        int
	// AverageConfidence is the mean confidence over all detections, 0
	// when there were none.
	AverageConfidence float64
	Elapsed           time.Duration

	fs ports.FileSystem
}

// Discard deletes the run's artifact.
func (r Result) Discard() error {
	if r.fs == nil {
		return nil
	}
	switch r.Artifact.Mode {
	case pipeline.OutputFrames:
		return framestore.Discard(r.fs, r.Artifact)
	case pipeline.OutputVideo:
		if r.Artifact.VideoPath != "" {
			return r.fs.Remove(r.Artifact.VideoPath)
		}
	}
	return nil
}

// Start launches the worker and returns immediately. The worker opens the
// input; open failures end the run like any other failure.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) *Run {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	run := newRun(cancel)
	go func() {
		// The rendering context is bound to this thread for the whole run.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		o.logger.Info("Opening %s", cfg.InputPath)
		dec, n, err := o.open(cfg)
		if err != nil {
			o.logger.Error("Failed to open video: %v", err)
			run.finish(Result{}, err)
			return
		}
		result, err := o.process(ctx, cfg, dec, n, run)
		run.finish(result, err)
	}()
	return run
}

// Run starts a run and waits for it. Progress events are discarded.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (Result, error) {
	return o.Start(ctx, cfg).Wait()
}

// open starts the decoder and returns it with the index of the last sample.
func (o *Orchestrator) open(cfg Config) (*decoder.Decoder, int, error) {
	dec, err := decoder.Open(cfg.InputPath, o.deps.NewDemuxer(), o.deps.Codecs, decoder.Options{
		DequeueTimeout: o.deps.DequeueTimeout,
		Logger:         o.deps.Logger,
	})
	if err != nil {
		return nil, 0, err
	}

	track := dec.Track()
	if track.DurationUs <= 0 || track.Width <= 0 || track.Height <= 0 {
		dec.Close()
		return nil, 0, fmt.Errorf("%w: %d us, %dx%d", pipeline.ErrInvalidVideoProperties, track.DurationUs, track.Width, track.Height)
	}
	n := int(track.DurationUs / intervalUs(cfg))
	return dec, n, nil
}

func intervalUs(cfg Config) int64 {
	return int64(cfg.IntervalMs) * 1000
}

// process runs every sample through the stages. It owns dec and the
// output and releases both before returning.
func (o *Orchestrator) process(ctx context.Context, cfg Config, dec *decoder.Decoder, n int, run *Run) (result Result, err error) {
	started := time.Now()
	track := dec.Track()
	result = Result{
		Track:       track,
		AspectRatio: track.AspectRatio(),
		Samples:     n + 1,
		fs:          o.deps.FS,
	}

	s := &sampler{src: dec, logger: o.logger}
	if cfg.SeekThresholdMs > 0 {
		s.seekThreshold = int64(cfg.SeekThresholdMs) * 1000
	}
	defer func() {
		s.Release()
		if cErr := dec.Close(); cErr != nil {
			o.logger.Warn("Failed to close decoder: %v", cErr)
		}
	}()

	o.saveTrack(track)
	o.logger.Info("Processing %d samples every %d ms from %dx%d %s (%d ms)", n+1, cfg.IntervalMs, track.Width, track.Height, track.MIME, track.DurationMs())

	out, err := o.newOutput(cfg, track)
	if err != nil {
		return result, err
	}
	finished := false
	defer func() {
		if !finished {
			if aErr := out.Abort(); aErr != nil {
				o.logger.Warn("Failed to abort output: %v", aErr)
			}
		}
	}()

	convertStage := convert.New()
	detectStage := detect.New(o.deps.Detector, o.deps.Renderer, cfg.Detect, o.deps.Logger)
	annotateStage := annotatestage.New(o.deps.Renderer, cfg.Style, cfg.Label).WithOverrides(cfg.StyleOverrides)

	allDetections := make([][]pipeline.Detection, 0, n+1)
	var confidenceSum float64
	for i := 0; i <= n; i++ {
		if ctx.Err() != nil {
			return result, canceled(ctx.Err())
		}
		t := int64(i) * intervalUs(cfg)

		frame, err := s.At(ctx, t)
		if err != nil {
			return result, wrapCanceled(err, "decode sample %d", i)
		}

		converted, err := convertStage.Execute(ctx, pipeline.ConvertInput{Frame: frame})
		if err != nil {
			o.logger.Warn("Skipping sample %d at %d ms: %v", i, t/1000, err)
			result.Skipped++
			allDetections = append(allDetections, nil)
			run.progress(i, n)
			continue
		}
		if o.deps.Sink.Enabled() {
			o.deps.Sink.SaveConvertedFrame(i, converted.Image)
		}

		detected, err := detectStage.Execute(ctx, pipeline.DetectInput{Image: converted.Image, Index: i, PresentationUs: t})
		if err != nil {
			return result, wrapCanceled(err, "sample %d", i)
		}
		annotated, err := annotateStage.Execute(ctx, pipeline.AnnotateInput{Image: converted.Image, Detections: detected.Detections})
		if err != nil {
			return result, fmt.Errorf("annotate sample %d: %w", i, err)
		}
		if o.deps.Sink.Enabled() {
			o.deps.Sink.SaveAnnotatedFrame(i, annotated.Image)
		}

		err = out.Write(ctx, pipeline.AnnotatedFrame{
			Index:          i,
			PresentationUs: t,
			Image:          annotated.Image,
			Detections:     detected.Detections,
		})
		if err != nil {
			return result, wrapCanceled(err, "write sample %d", i)
		}

		result.Processed++
		result.Detections += len(detected.Detections)
		for _, d := range detected.Detections {
			confidenceSum += d.Confidence
		}
		allDetections = append(allDetections, detected.Detections)
		run.progress(i, n)
	}

	if result.Processed == 0 {
		return result, pipeline.ErrNoFramesProcessed
	}
	if s.seeks > 0 {
		o.logger.Debug("Decoder repositioned %d times", s.seeks)
	}

	// Frames are no longer needed; free the decoder pool before draining.
	s.Release()
	artifact, err := out.Finish(ctx)
	if err != nil {
		return result, fmt.Errorf("finish output: %w", err)
	}
	finished = true

	o.saveDetections(allDetections)
	if result.Detections > 0 {
		result.AverageConfidence = confidenceSum / float64(result.Detections)
	}
	result.Artifact = artifact
	result.Elapsed = time.Since(started)
	o.logger.Info("Run completed: %d of %d samples, %d detections in %s", result.Processed, result.Samples, result.Detections, result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// newOutput creates the output for cfg.Mode. It must run on the worker
// goroutine because the video output binds the rendering context.
func (o *Orchestrator) newOutput(cfg Config, track pipeline.TrackFormat) (ports.FrameOutput, error) {
	switch cfg.Mode {
	case pipeline.OutputFrames:
		return framestore.New(framestore.Options{Dir: cfg.FrameDir, Quality: cfg.JPEGQuality}, o.deps.FS, o.deps.Renderer, o.deps.Logger)

	case pipeline.OutputVideo:
		path := cfg.OutputPath
		if path == "" {
			path = filepath.Join(o.deps.FS.TempDir(), "annotated_"+uuid.NewString()+".mp4")
		}
		opts := encode.Options{
			Path: path,
			// 4:2:0 encoders need even dimensions.
			Width:             track.Width &^ 1,
			Height:            track.Height &^ 1,
			FrameRate:         1000 / float64(cfg.IntervalMs),
			BitRate:           cfg.BitRate,
			IFrameIntervalSec: cfg.IFrameIntervalSec,
		}
		return encode.New(opts, o.deps.Codecs, o.deps.NewMuxer(path), o.deps.NewDisplay(), o.deps.FS, o.deps.Logger)

	default:
		return nil, fmt.Errorf("unknown output mode %d", cfg.Mode)
	}
}

func (o *Orchestrator) saveTrack(track pipeline.TrackFormat) {
	if !o.deps.Sink.Enabled() {
		return
	}
	if data, err := json.MarshalIndent(track, "", "  "); err == nil {
		o.deps.Sink.SaveTrackJSON(data)
	}
}

func (o *Orchestrator) saveDetections(all [][]pipeline.Detection) {
	if !o.deps.Sink.Enabled() {
		return
	}
	if data, err := json.MarshalIndent(all, "", "  "); err == nil {
		o.deps.Sink.SaveDetectionsJSON(data)
	}
}

func canceled(cause error) error {
	return fmt.Errorf("%w: %v", pipeline.ErrCanceled, cause)
}

// wrapCanceled maps context errors to ErrCanceled and wraps the rest.
func wrapCanceled(err error, format string, args ...interface{}) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return canceled(err)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
