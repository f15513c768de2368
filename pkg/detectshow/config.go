// Package detectshow provides a high-level API for configuring
// pedestrian annotation runs.
package detectshow

import (
	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/config"
	"github.com/user/detectshow/pkg/orchestrator"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/stages/detect"
)

// QualityPreset represents an output quality preset name.
type QualityPreset string

const (
	QualityLow    QualityPreset = "low"
	QualityMedium QualityPreset = "medium"
	QualityHigh   QualityPreset = "high"
)

// QualitySettings contains quality parameters for both output modes.
type QualitySettings struct {
	BitRate     int // H.264 bit rate in bits per second
	JPEGQuality int // JPEG quality for frame sequences (1-100)
}

// GetQualitySettings returns quality settings for the given preset.
func GetQualitySettings(preset QualityPreset) QualitySettings {
	switch preset {
	case QualityLow:
		return QualitySettings{
			BitRate:     1_500_000,
			JPEGQuality: 70,
		}
	case QualityHigh:
		return QualitySettings{
			BitRate:     8_000_000,
			JPEGQuality: 95,
		}
	default: // medium
		return QualitySettings{
			BitRate:     4_000_000,
			JPEGQuality: 85,
		}
	}
}

// Config represents the configuration for one annotation run.
type Config struct {
	Mode pipeline.OutputMode

	// Sampling
	IntervalMs      int // Time between samples (min: 1)
	SeekThresholdMs int // Reposition the decoder beyond this gap (negative disables)

	// Detection
	ModelWidth    int     // Detector input width
	ModelHeight   int     // Detector input height
	MinConfidence float64 // Detections below this are dropped (0-1)
	MaxDetections int     // Keep at most this many per sample, highest first
	Label         string  // Label for detections without one

	// Style
	Style annotate.Overrides

	// Encoding
	BitRate           int
	JPEGQuality       int
	IFrameIntervalSec int
}

// ConfigBuilder provides a fluent interface for building Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder creates a new ConfigBuilder with default values.
func NewConfigBuilder() *ConfigBuilder {
	return NewConfigBuilderFrom(config.Defaults())
}

// NewConfigBuilderFrom seeds a ConfigBuilder from a loaded config file.
// The file's quality preset is applied first; explicit bitrate and JPEG
// quality values override it.
func NewConfigBuilderFrom(c config.Config) *ConfigBuilder {
	b := &ConfigBuilder{
		config: Config{
			Mode:              pipeline.ParseOutputMode(c.Mode),
			IntervalMs:        c.IntervalMs,
			SeekThresholdMs:   c.SeekThresholdMs,
			ModelWidth:        c.Detector.InputWidth,
			ModelHeight:       c.Detector.InputHeight,
			MinConfidence:     c.Detector.MinConfidence,
			MaxDetections:     c.Detector.MaxDetections,
			Label:             c.Label,
			Style:             c.Style.Overrides(),
			IFrameIntervalSec: c.IFrameIntervalSec,
		},
	}
	b.WithQualityPreset(QualityPreset(c.Quality))
	if c.Bitrate > 0 {
		b.WithBitRate(c.Bitrate)
	}
	if c.JPEGQuality > 0 {
		b.WithJPEGQuality(c.JPEGQuality)
	}
	return b
}

// Build returns the final Config, applying validation and constraints.
func (b *ConfigBuilder) Build() Config {
	cfg := b.config

	if cfg.IntervalMs < 1 {
		cfg.IntervalMs = 1
	}
	if cfg.MinConfidence < 0 {
		cfg.MinConfidence = 0
	}
	if cfg.MinConfidence > 1 {
		cfg.MinConfidence = 1
	}
	if cfg.JPEGQuality < 1 {
		cfg.JPEGQuality = 1
	}
	if cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 100
	}
	if cfg.IFrameIntervalSec < 1 {
		cfg.IFrameIntervalSec = 1
	}

	return cfg
}

// WithMode sets the output mode.
func (b *ConfigBuilder) WithMode(mode pipeline.OutputMode) *ConfigBuilder {
	b.config.Mode = mode
	return b
}

// WithIntervalMs sets the time between samples.
// Values below 1 will be forced to 1.
func (b *ConfigBuilder) WithIntervalMs(ms int) *ConfigBuilder {
	b.config.IntervalMs = ms
	return b
}

// WithSeekThresholdMs sets how far ahead a sample may be before the
// decoder is repositioned. Negative disables seeking.
func (b *ConfigBuilder) WithSeekThresholdMs(ms int) *ConfigBuilder {
	b.config.SeekThresholdMs = ms
	return b
}

// WithModelSize sets the detector input size.
func (b *ConfigBuilder) WithModelSize(width, height int) *ConfigBuilder {
	b.config.ModelWidth = width
	b.config.ModelHeight = height
	return b
}

// WithMinConfidence sets the detection threshold (0-1).
func (b *ConfigBuilder) WithMinConfidence(c float64) *ConfigBuilder {
	b.config.MinConfidence = c
	return b
}

// WithMaxDetections limits detections per sample. 0 keeps all.
func (b *ConfigBuilder) WithMaxDetections(n int) *ConfigBuilder {
	b.config.MaxDetections = n
	return b
}

// WithLabel sets the label for detections without one.
func (b *ConfigBuilder) WithLabel(label string) *ConfigBuilder {
	b.config.Label = label
	return b
}

// WithStyle sets annotation style overrides.
func (b *ConfigBuilder) WithStyle(o annotate.Overrides) *ConfigBuilder {
	b.config.Style = o
	return b
}

// WithBitRate sets the H.264 bit rate.
func (b *ConfigBuilder) WithBitRate(bps int) *ConfigBuilder {
	b.config.BitRate = bps
	return b
}

// WithJPEGQuality sets the frame sequence JPEG quality (1-100).
func (b *ConfigBuilder) WithJPEGQuality(q int) *ConfigBuilder {
	b.config.JPEGQuality = q
	return b
}

// WithQualityPreset applies a quality preset (low, medium, high).
func (b *ConfigBuilder) WithQualityPreset(preset QualityPreset) *ConfigBuilder {
	settings := GetQualitySettings(preset)
	b.config.BitRate = settings.BitRate
	b.config.JPEGQuality = settings.JPEGQuality
	return b
}

// WithIFrameIntervalSec sets the key frame interval of encoded video.
func (b *ConfigBuilder) WithIFrameIntervalSec(sec int) *ConfigBuilder {
	b.config.IFrameIntervalSec = sec
	return b
}

// MbpsToBps converts megabits per second to bits per second.
// Accepts float64 for fractional values (e.g., 1.5 Mbps).
func MbpsToBps(mbps float64) int {
	return int(mbps * 1_000_000)
}

// ToOrchestratorConfig converts Config to orchestrator.Config. output is
// the video path or frame directory depending on the mode; empty uses a
// temp location.
func (c Config) ToOrchestratorConfig(input, output string) orchestrator.Config {
	oc := orchestrator.Config{
		InputPath: input,
		Mode:      c.Mode,

		JPEGQuality:     c.JPEGQuality,
		IntervalMs:      c.IntervalMs,
		SeekThresholdMs: c.SeekThresholdMs,

		Detect: detect.Options{
			InputWidth:    c.ModelWidth,
			InputHeight:   c.ModelHeight,
			MinConfidence: c.MinConfidence,
			MaxDetections: c.MaxDetections,
		},
		Label:          c.Label,
		StyleOverrides: c.Style,

		BitRate:           c.BitRate,
		IFrameIntervalSec: c.IFrameIntervalSec,
	}
	if c.Mode == pipeline.OutputFrames {
		oc.FrameDir = output
	} else {
		oc.OutputPath = output
	}
	return oc
}
