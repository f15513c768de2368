// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"image/color"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/stages/detect"
)

// MinFramePool is the smallest decoded frame pool that lets the sampler
// hold the current frame while it decodes the next one.
const MinFramePool = 2

// Detector kinds.
const (
	DetectorNone    = "none"
	DetectorFixture = "fixture"
)

// Config represents the full configuration for detectshow.
type Config struct {
	// Input/Output
	Input      string `yaml:"input"`
	Mode       string `yaml:"mode"`
	OutputPath string `yaml:"output"`
	FrameDir   string `yaml:"frame_dir"`
	TempDir    string `yaml:"temp_dir"`

	// Sampling
	IntervalMs      int `yaml:"interval_ms"`
	SeekThresholdMs int `yaml:"seek_threshold_ms"`

	// Detection
	Detector DetectorConfig `yaml:"detector"`
	Label    string         `yaml:"label"`

	// Annotation
	Style StyleConfig `yaml:"style"`

	// Encoding. Zero JPEGQuality and Bitrate take the quality preset.
	Quality           string `yaml:"quality"`
	JPEGQuality       int    `yaml:"jpeg_quality"`
	Bitrate           int    `yaml:"bitrate"`
	IFrameIntervalSec int    `yaml:"iframe_interval_sec"`
	FFmpegPath        string `yaml:"ffmpeg_path"`
	// FramePool is the decoded frame pool depth. Zero uses the codec
	// default; otherwise at least MinFramePool.
	FramePool         int    `yaml:"frame_pool"`

	// Debug
	Debug     bool   `yaml:"debug"`
	DebugDir  string `yaml:"debug_dir"`
	LogFormat string `yaml:"log_format"`
}

// DetectorConfig selects and tunes the detector.
type DetectorConfig struct {
	Kind          string  `yaml:"kind"`
	Fixture       string  `yaml:"fixture"`
	InputWidth    int     `yaml:"input_width"`
	InputHeight   int     `yaml:"input_height"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxDetections int     `yaml:"max_detections"`
}

// StyleConfig overrides the annotation style. Empty fields keep the
// defaults scaled to the frame width.
type StyleConfig struct {
	BoxColor        string  `yaml:"box_color"`
	LabelBackground string  `yaml:"label_background"`
	TextColor       string  `yaml:"text_color"`
	StrokeWidth     float64 `yaml:"stroke_width"`
	FontSize        float64 `yaml:"font_size"`
	FontPath        string  `yaml:"font_path"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	d := detect.DefaultOptions()
	return Config{
		Mode: pipeline.OutputVideo.String(),

		IntervalMs:      100,
		SeekThresholdMs: 2000,

		Detector: DetectorConfig{
			Kind:          DetectorNone,
			InputWidth:    d.InputWidth,
			InputHeight:   d.InputHeight,
			MinConfidence: d.MinConfidence,
			MaxDetections: d.MaxDetections,
		},
		Label: "Pedestrian",

		Quality:           "medium",
		IFrameIntervalSec: 1,

		DebugDir:  "./debug",
		LogFormat: "text",
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that cannot produce a run.
func (c Config) Validate() error {
	switch c.Mode {
	case "video", "frames":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	switch c.Quality {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("config: unknown quality preset %q", c.Quality)
	}
	switch c.Detector.Kind {
	case "", DetectorNone:
	case DetectorFixture:
		if c.Detector.Fixture == "" {
			return fmt.Errorf("config: fixture detector needs a fixture file")
		}
	default:
		return fmt.Errorf("config: unknown detector %q", c.Detector.Kind)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg_quality %d out of range", c.JPEGQuality)
	}
	if c.IntervalMs < 0 {
		return fmt.Errorf("config: negative interval_ms")
	}
	if c.FramePool != 0 && c.FramePool < MinFramePool {
		return fmt.Errorf("config: frame_pool %d is below %d", c.FramePool, MinFramePool)
	}
	for _, hex := range []string{c.Style.BoxColor, c.Style.LabelBackground, c.Style.TextColor} {
		if hex == "" {
			continue
		}
		if _, err := ParseColor(hex); err != nil {
			return err
		}
	}
	return nil
}

// ParseColor parses "#RRGGBB" or "#RRGGBBAA". Alpha is not premultiplied.
func ParseColor(hex string) (color.Color, error) {
	s := hex
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 && len(s) != 8 {
		return nil, fmt.Errorf("config: invalid color %q", hex)
	}

	var v [4]uint8
	v[3] = 0xFF
	for i := 0; i < len(s)/2; i++ {
		hi, ok1 := hexValue(s[2*i])
		lo, ok2 := hexValue(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("config: invalid color %q", hex)
		}
		v[i] = hi<<4 | lo
	}
	return color.NRGBA{R: v[0], G: v[1], B: v[2], A: v[3]}, nil
}

func hexValue(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// Overrides converts the style section. Colors must have been validated.
func (s StyleConfig) Overrides() annotate.Overrides {
	o := annotate.Overrides{
		StrokeWidth: s.StrokeWidth,
		FontSize:    s.FontSize,
		FontPath:    s.FontPath,
	}
	if c, err := ParseColor(s.BoxColor); err == nil {
		o.BoxColor = c
	}
	if c, err := ParseColor(s.LabelBackground); err == nil {
		o.LabelBackground = c
	}
	if c, err := ParseColor(s.TextColor); err == nil {
		o.TextColor = c
	}
	return o
}
