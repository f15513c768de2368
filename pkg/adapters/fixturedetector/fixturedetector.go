// Package fixturedetector replays detections recorded in a YAML file.
//
// The file is a list of entries ordered by time:
//
//	- time_ms: 0
//	  detections:
//	    - {left: 100, top: 80, right: 220, bottom: 400, confidence: 0.92, label: Pedestrian}
//	- time_ms: 500
//	  detections: []
//
// Each sample gets the detections of the latest entry at or before its
// presentation time. Coordinates are source-frame pixels and are scaled to
// the image handed to Detect.
package fixturedetector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// ErrNoSampleInfo is returned when Detect is called without a sample in
// the context.
var ErrNoSampleInfo = errors.New("fixturedetector: no sample info in context")

type box struct {
	Left       float64 `yaml:"left"`
	Top        float64 `yaml:"top"`
	Right      float64 `yaml:"right"`
	Bottom     float64 `yaml:"bottom"`
	Confidence float64 `yaml:"confidence"`
	Label      string  `yaml:"label"`
}

// Entry is one recorded detector result.
type Entry struct {
	TimeMs     int64 `yaml:"time_ms"`
	Detections []box `yaml:"detections"`
}

// Detector implements ports.Detector from recorded entries.
type Detector struct {
	entries []Entry
}

// Load reads a fixture file.
func Load(path string) (*Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixture YAML.
func Parse(data []byte) (*Detector, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for _, e := range entries {
		if e.TimeMs < 0 {
			return nil, fmt.Errorf("parse fixture: negative time_ms %d", e.TimeMs)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TimeMs < entries[j].TimeMs })
	return &Detector{entries: entries}, nil
}

// Len returns the number of entries.
func (d *Detector) Len() int { return len(d.entries) }

// Detect returns the detections recorded for the sample in ctx.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]pipeline.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, ok := pipeline.SampleFrom(ctx)
	if !ok {
		return nil, ErrNoSampleInfo
	}

	e := d.at(info.PresentationUs / 1000)
	if e == nil {
		return nil, nil
	}
	dets := make([]pipeline.Detection, len(e.Detections))
	for i, b := range e.Detections {
		dets[i] = pipeline.Detection{
			Rect:       pipeline.Rect{Left: b.Left, Top: b.Top, Right: b.Right, Bottom: b.Bottom},
			Confidence: b.Confidence,
			Label:      b.Label,
		}
	}

	size := img.Bounds().Size()
	if info.SourceWidth > 0 && info.SourceHeight > 0 {
		dets = annotate.ScaleDetections(dets, info.SourceWidth, info.SourceHeight, size.X, size.Y)
	}
	return dets, nil
}

// at returns the latest entry at or before ms.
func (d *Detector) at(ms int64) *Entry {
	i := sort.Search(len(d.entries), func(i int) bool { return d.entries[i].TimeMs > ms })
	if i == 0 {
		return nil
	}
	return &d.entries[i-1]
}

var _ ports.Detector = (*Detector)(nil)
