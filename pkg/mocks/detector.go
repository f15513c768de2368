package mocks

import (
	"context"
	"image"
	"sync"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Detector is a mock implementation of ports.Detector.
type Detector struct {
	DetectFunc func(ctx context.Context, img image.Image) ([]pipeline.Detection, error)

	mu    sync.Mutex
	Sizes []image.Point
}

func (m *Detector) Detect(ctx context.Context, img image.Image) ([]pipeline.Detection, error) {
	m.mu.Lock()
	m.Sizes = append(m.Sizes, img.Bounds().Size())
	m.mu.Unlock()
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, img)
	}
	return nil, nil
}

// Calls returns how many times Detect was called.
func (m *Detector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sizes)
}

var _ ports.Detector = (*Detector)(nil)
