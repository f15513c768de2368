// Package filesink provides a file-based debug sink implementation.
package filesink

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/user/detectshow/pkg/ports"
)

// Sink saves debug output to files.
type Sink struct {
	baseDir  string
	fs       ports.FileSystem
	renderer ports.Renderer
}

// New creates a new FileSink.
func New(baseDir string, fs ports.FileSystem, renderer ports.Renderer) *Sink {
	return &Sink{
		baseDir:  baseDir,
		fs:       fs,
		renderer: renderer,
	}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveTrackJSON saves the selected track format as JSON.
func (s *Sink) SaveTrackJSON(data []byte) error {
	path := filepath.Join(s.baseDir, "track.json")
	return s.fs.WriteFile(path, data)
}

// SaveConvertedFrame saves a sample right after color conversion.
func (s *Sink) SaveConvertedFrame(index int, img image.Image) error {
	return s.saveFrame("converted", index, img)
}

// SaveAnnotatedFrame saves a sample after annotation.
func (s *Sink) SaveAnnotatedFrame(index int, img image.Image) error {
	return s.saveFrame("annotated", index, img)
}

// SaveDetectionsJSON saves all detections of the run as JSON.
func (s *Sink) SaveDetectionsJSON(data []byte) error {
	path := filepath.Join(s.baseDir, "detections.json")
	return s.fs.WriteFile(path, data)
}

func (s *Sink) saveFrame(kind string, index int, img image.Image) error {
	dir := filepath.Join(s.baseDir, "frames", kind)
	if err := s.fs.MkdirAll(dir); err != nil {
		return err
	}
	data, err := s.renderer.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", kind, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("frame-%04d.png", index))
	return s.fs.WriteFile(path, data)
}

// Ensure Sink implements ports.DebugSink
var _ ports.DebugSink = (*Sink)(nil)
