// Package main provides the CLI entry point for detectshow.
package main

import (
	"fmt"
	"os"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, l10n.F("Error: %v", err))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "detectshow",
		Usage:   l10n.T("Annotate pedestrians in videos"),
		Version: version,
		Description: l10n.T("detectshow samples a video at a fixed interval, runs a detector on each sample " +
			"and writes the annotated samples as an MP4 video or a JPEG sequence."),
		Commands: []*cli.Command{
			{
				Name:      "annotate",
				Usage:     l10n.T("Write an annotated MP4 video"),
				ArgsUsage: "<input.mp4>",
				Flags:     append(commonFlags(), videoFlags()...),
				Action: func(c *cli.Context) error {
					return runCommand(c, "video")
				},
			},
			{
				Name:      "frames",
				Usage:     l10n.T("Write annotated samples as JPEG frames"),
				ArgsUsage: "<input.mp4>",
				Flags:     append(commonFlags(), framesFlags()...),
				Action: func(c *cli.Context) error {
					return runCommand(c, "frames")
				},
			},
			{
				Name:  "version",
				Usage: l10n.T("Show version information"),
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, l10n.F("detectshow version %s", version))
					return nil
				},
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		// Output
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Category: l10n.T("Output"), Usage: l10n.T("Output path (default: a temporary location)")},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Category: l10n.T("Output"), Usage: l10n.T("YAML configuration file")},
		&cli.StringFlag{Name: "temp-dir", Category: l10n.T("Output"), Usage: l10n.T("Directory for temporary artifacts")},
		&cli.StringFlag{Name: "summary", Category: l10n.T("Output"), Usage: l10n.T("Output execution summary to file (Markdown format)")},

		// Sampling
		&cli.IntFlag{Name: "interval", Category: l10n.T("Sampling"), Usage: l10n.T("Milliseconds between samples (default: 100)")},
		&cli.IntFlag{Name: "seek-threshold", Category: l10n.T("Sampling"), Usage: l10n.T("Seek when the next sample is further ahead in ms (negative disables)")},

		// Detection
		&cli.StringFlag{Name: "fixture", Category: l10n.T("Detection"), Usage: l10n.T("Replay detections from a YAML fixture")},
		&cli.Float64Flag{Name: "min-confidence", Category: l10n.T("Detection"), Usage: l10n.T("Minimum detection confidence (0-1)")},
		&cli.IntFlag{Name: "max-detections", Category: l10n.T("Detection"), Usage: l10n.T("Maximum detections per sample (0 = unlimited)")},
		&cli.IntFlag{Name: "model-width", Category: l10n.T("Detection"), Usage: l10n.T("Detector input width")},
		&cli.IntFlag{Name: "model-height", Category: l10n.T("Detection"), Usage: l10n.T("Detector input height")},
		&cli.StringFlag{Name: "label", Category: l10n.T("Detection"), Usage: l10n.T("Label for detections without one (default: Pedestrian)")},

		// Style
		&cli.StringFlag{Name: "box-color", Category: l10n.T("Style"), Usage: l10n.T("Box color (hex, e.g., #007AFF)")},
		&cli.StringFlag{Name: "label-background", Category: l10n.T("Style"), Usage: l10n.T("Label background color (hex with optional alpha)")},
		&cli.StringFlag{Name: "text-color", Category: l10n.T("Style"), Usage: l10n.T("Label text color (hex)")},
		&cli.Float64Flag{Name: "stroke-width", Category: l10n.T("Style"), Usage: l10n.T("Box stroke width in pixels (default: scaled to the frame)")},
		&cli.Float64Flag{Name: "font-size", Category: l10n.T("Style"), Usage: l10n.T("Label font size in pixels (default: scaled to the frame)")},
		&cli.StringFlag{Name: "font", Category: l10n.T("Style"), Usage: l10n.T("TrueType font file for labels")},

		// Quality
		&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Category: l10n.T("Quality"), Usage: l10n.T("Quality preset (low, medium, high)")},
		&cli.StringFlag{Name: "ffmpeg", Category: l10n.T("Quality"), Usage: l10n.T("Path to the ffmpeg executable")},

		// Debug
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Category: l10n.T("Debug"), Usage: l10n.T("Enable debug output")},
		&cli.StringFlag{Name: "debug-dir", Category: l10n.T("Debug"), Usage: l10n.T("Directory for debug output")},

		// Logging
		&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Value: "info", Category: l10n.T("Logging"), Usage: l10n.T("Log level (debug, info, warn, error)")},
		&cli.StringFlag{Name: "log-format", Category: l10n.T("Logging"), Usage: l10n.T("Log format (console, text, json)")},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"Q"}, Category: l10n.T("Logging"), Usage: l10n.T("Suppress all log output")},
	}
}

func videoFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "bitrate", Category: l10n.T("Quality"), Usage: l10n.T("Video bit rate in Mbps (overrides quality preset)")},
		&cli.IntFlag{Name: "iframe-interval", Category: l10n.T("Quality"), Usage: l10n.T("Key frame interval in seconds")},
	}
}

func framesFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "jpeg-quality", Category: l10n.T("Quality"), Usage: l10n.T("JPEG quality (1-100, overrides quality preset)")},
	}
}
