// Package nullsink provides a no-op debug sink implementation.
package nullsink

import (
	"image"

	"github.com/user/detectshow/pkg/ports"
)

// Sink is a no-op implementation of ports.DebugSink.
// It discards all debug output.
type Sink struct{}

// New creates a new NullSink.
func New() *Sink {
	return &Sink{}
}

// Enabled returns false as this sink discards all output.
func (s *Sink) Enabled() bool {
	return false
}

// SaveTrackJSON does nothing.
func (s *Sink) SaveTrackJSON(data []byte) error {
	return nil
}

// SaveConvertedFrame does nothing.
func (s *Sink) SaveConvertedFrame(index int, img image.Image) error {
	return nil
}

// SaveAnnotatedFrame does nothing.
func (s *Sink) SaveAnnotatedFrame(index int, img image.Image) error {
	return nil
}

// SaveDetectionsJSON does nothing.
func (s *Sink) SaveDetectionsJSON(data []byte) error {
	return nil
}

// Ensure Sink implements ports.DebugSink
var _ ports.DebugSink = (*Sink)(nil)
