package nulldetector

import (
	"context"
	"image"
	"testing"
)

func TestDetect(t *testing.T) {
	d := New()
	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil || len(dets) != 0 {
		t.Errorf("expected no detections, got %v, %v", dets, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 4, 4))); err == nil {
		t.Error("expected an error for a canceled context")
	}
}
