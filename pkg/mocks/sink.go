package mocks

import (
	"image"
	"sync"

	"github.com/user/detectshow/pkg/ports"
)

// DebugSink is a mock implementation of ports.DebugSink.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	TrackJSON       []byte
	DetectionsJSON  []byte
	ConvertedFrames map[int]image.Image
	AnnotatedFrames map[int]image.Image
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{
		enabled:         enabled,
		ConvertedFrames: make(map[int]image.Image),
		AnnotatedFrames: make(map[int]image.Image),
	}
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveTrackJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrackJSON = data
	return nil
}

func (m *DebugSink) SaveConvertedFrame(index int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConvertedFrames[index] = img
	return nil
}

func (m *DebugSink) SaveAnnotatedFrame(index int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnnotatedFrames[index] = img
	return nil
}

func (m *DebugSink) SaveDetectionsJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetectionsJSON = data
	return nil
}

var _ ports.DebugSink = (*DebugSink)(nil)

// NullSink is a DebugSink that does nothing.
type NullSink struct{}

func (NullSink) Enabled() bool                                       { return false }
func (NullSink) SaveTrackJSON(data []byte) error                     { return nil }
func (NullSink) SaveConvertedFrame(index int, img image.Image) error { return nil }
func (NullSink) SaveAnnotatedFrame(index int, img image.Image) error { return nil }
func (NullSink) SaveDetectionsJSON(data []byte) error                { return nil }

var _ ports.DebugSink = NullSink{}
