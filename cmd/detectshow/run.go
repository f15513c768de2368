package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/detectshow/pkg/adapters/ffmpegcodec"
	"github.com/user/detectshow/pkg/adapters/filesink"
	"github.com/user/detectshow/pkg/adapters/fixturedetector"
	"github.com/user/detectshow/pkg/adapters/ggrenderer"
	"github.com/user/detectshow/pkg/adapters/logger"
	"github.com/user/detectshow/pkg/adapters/mp4demuxer"
	"github.com/user/detectshow/pkg/adapters/mp4muxer"
	"github.com/user/detectshow/pkg/adapters/nulldetector"
	"github.com/user/detectshow/pkg/adapters/nullsink"
	"github.com/user/detectshow/pkg/adapters/osfilesystem"
	"github.com/user/detectshow/pkg/adapters/softgl"
	"github.com/user/detectshow/pkg/config"
	"github.com/user/detectshow/pkg/detectshow"
	"github.com/user/detectshow/pkg/orchestrator"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
	"github.com/user/detectshow/pkg/summarizer"
)

// runCommand executes annotate or frames.
func runCommand(c *cli.Context, mode string) error {
	if c.NArg() != 1 {
		return errors.New(l10n.T("Exactly one input video argument is required"))
	}

	fileCfg, err := loadConfig(c, mode)
	if err != nil {
		return err
	}
	log := newLogger(c, fileCfg)
	cfg := buildConfig(c, fileCfg)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn(l10n.T("Interrupted, shutting down..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	// Create adapters
	var fs *osfilesystem.FileSystem
	if fileCfg.TempDir != "" {
		fs = osfilesystem.NewWithTempDir(fileCfg.TempDir)
	} else {
		fs = osfilesystem.New()
	}
	renderer := ggrenderer.New()

	codecs, err := ffmpegcodec.NewFactory(fileCfg.FFmpegPath, fileCfg.FramePool, log)
	if err != nil {
		return err
	}

	detector, detectorName, err := newDetector(fileCfg.Detector)
	if err != nil {
		return err
	}

	// Create debug sink
	var sink ports.DebugSink
	if fileCfg.Debug {
		if err := fs.MkdirAll(fileCfg.DebugDir); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(fileCfg.DebugDir, fs, renderer)
	} else {
		sink = nullsink.New()
	}

	orch := orchestrator.New(orchestrator.Deps{
		FS:         fs,
		Codecs:     codecs,
		Detector:   detector,
		Renderer:   renderer,
		Sink:       sink,
		Logger:     log,
		NewDemuxer: func() ports.Demuxer { return mp4demuxer.New(fs) },
		NewMuxer:   func(path string) ports.Muxer { return mp4muxer.New(fs, path) },
		NewDisplay: func() ports.Display { return softgl.New() },
	})

	input := c.Args().First()
	output := fileCfg.OutputPath
	if cfg.Mode == pipeline.OutputFrames && output == "" {
		output = fileCfg.FrameDir
	}

	log.Info(l10n.F("Annotating %s (%s output, %s detector)...", input, cfg.Mode, detectorName))

	run := orch.Start(ctx, cfg.ToOrchestratorConfig(input, output))
	progress := newProgressLine(os.Stderr, !c.Bool("quiet"))
	for ev := range run.Events() {
		if p, ok := ev.(orchestrator.EventProgress); ok {
			progress.Update(p)
		}
	}
	progress.Done()

	result, err := run.Wait()
	if err != nil {
		return err
	}

	if result.Artifact.VideoPath != "" {
		log.Info(l10n.F("Output saved to %s", result.Artifact.VideoPath))
	} else {
		log.Info(l10n.F("Frames saved to %s", result.Artifact.FrameDir))
	}

	if path := c.String("summary"); path != "" {
		if err := writeSummary(fs, path, input, fileCfg, cfg, detectorName, result); err != nil {
			log.Warn(l10n.F("Failed to write summary: %s", err))
		} else {
			log.Info(l10n.F("Summary saved to %s", path))
		}
	}
	return nil
}

// loadConfig layers defaults, the config file and flags that map onto
// file settings.
func loadConfig(c *cli.Context, mode string) (config.Config, error) {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.Mode = mode

	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setString("output", &cfg.OutputPath)
	setString("temp-dir", &cfg.TempDir)
	setString("ffmpeg", &cfg.FFmpegPath)
	setString("debug-dir", &cfg.DebugDir)
	setString("log-format", &cfg.LogFormat)
	setString("box-color", &cfg.Style.BoxColor)
	setString("label-background", &cfg.Style.LabelBackground)
	setString("text-color", &cfg.Style.TextColor)
	setString("font", &cfg.Style.FontPath)
	setString("quality", &cfg.Quality)
	if c.IsSet("fixture") {
		cfg.Detector.Kind = config.DetectorFixture
		cfg.Detector.Fixture = c.String("fixture")
	}
	if c.IsSet("stroke-width") {
		cfg.Style.StrokeWidth = c.Float64("stroke-width")
	}
	if c.IsSet("font-size") {
		cfg.Style.FontSize = c.Float64("font-size")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

// buildConfig applies the remaining flags on top of the file settings.
func buildConfig(c *cli.Context, fileCfg config.Config) detectshow.Config {
	b := detectshow.NewConfigBuilderFrom(fileCfg)

	if c.IsSet("interval") {
		b.WithIntervalMs(c.Int("interval"))
	}
	if c.IsSet("seek-threshold") {
		b.WithSeekThresholdMs(c.Int("seek-threshold"))
	}
	if c.IsSet("min-confidence") {
		b.WithMinConfidence(c.Float64("min-confidence"))
	}
	if c.IsSet("max-detections") {
		b.WithMaxDetections(c.Int("max-detections"))
	}
	if c.IsSet("model-width") || c.IsSet("model-height") {
		cur := b.Build()
		w, h := cur.ModelWidth, cur.ModelHeight
		if c.IsSet("model-width") {
			w = c.Int("model-width")
		}
		if c.IsSet("model-height") {
			h = c.Int("model-height")
		}
		b.WithModelSize(w, h)
	}
	if c.IsSet("label") {
		b.WithLabel(c.String("label"))
	}
	if c.IsSet("bitrate") {
		b.WithBitRate(detectshow.MbpsToBps(c.Float64("bitrate")))
	}
	if c.IsSet("iframe-interval") {
		b.WithIFrameIntervalSec(c.Int("iframe-interval"))
	}
	if c.IsSet("jpeg-quality") {
		b.WithJPEGQuality(c.Int("jpeg-quality"))
	}

	return b.Build()
}

func newLogger(c *cli.Context, cfg config.Config) ports.Logger {
	if c.Bool("quiet") {
		return logger.NewNoop()
	}
	level := ports.ParseLogLevel(c.String("log-level"))
	switch cfg.LogFormat {
	case "json":
		return logger.NewStructured(level, os.Stderr, true)
	case "text":
		return logger.NewStructured(level, os.Stderr, false)
	default:
		return logger.NewConsole(level)
	}
}

func newDetector(cfg config.DetectorConfig) (ports.Detector, string, error) {
	if cfg.Kind == config.DetectorFixture {
		d, err := fixturedetector.Load(cfg.Fixture)
		if err != nil {
			return nil, "", err
		}
		return d, config.DetectorFixture, nil
	}
	return nulldetector.New(), config.DetectorNone, nil
}

func writeSummary(fs ports.FileSystem, path, input string, fileCfg config.Config, cfg detectshow.Config, detectorName string, result orchestrator.Result) error {
	summary := summarizer.NewBuilder().
		WithSource(input, result.Track).
		WithResult(result).
		WithSettings(summarizer.Settings{
			Quality:       fileCfg.Quality,
			Detector:      detectorName,
			IntervalMs:    cfg.IntervalMs,
			MinConfidence: cfg.MinConfidence,
			MaxDetections: cfg.MaxDetections,
			ModelWidth:    cfg.ModelWidth,
			ModelHeight:   cfg.ModelHeight,
		}).
		Build()

	formatter := summarizer.NewMarkdownFormatter(
		summarizer.WithTranslator(func(s string) string { return l10n.T(s) }),
		summarizer.WithVersion(version),
	)
	return summarizer.NewWriter(formatter, fs).Write(path, summary)
}
