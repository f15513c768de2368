package annotate

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/user/detectshow/pkg/adapters/ggrenderer"
	"github.com/user/detectshow/pkg/annotate"
	"github.com/user/detectshow/pkg/mocks"
	"github.com/user/detectshow/pkg/pipeline"
)

func TestStage_Execute(t *testing.T) {
	renderer := &mocks.Renderer{}
	stage := New(renderer, nil, "Pedestrian")

	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	dets := []pipeline.Detection{
		{Rect: pipeline.Rect{Left: 100, Top: 100, Right: 300, Bottom: 500}, Confidence: 0.8},
		{Rect: pipeline.Rect{Left: 600, Top: 5, Right: 700, Bottom: 400}, Confidence: 0.7, Label: "Cyclist"},
	}

	res, err := stage.Execute(context.Background(), pipeline.AnnotateInput{Image: img, Detections: dets})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Image == img {
		t.Error("expected a new image")
	}

	canvas := renderer.Canvases[0]
	if len(canvas.Texts) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(canvas.Texts))
	}
	if canvas.Texts[0].Text != "Pedestrian 1" || canvas.Texts[1].Text != "Cyclist 2" {
		t.Errorf("unexpected labels %q, %q", canvas.Texts[0].Text, canvas.Texts[1].Text)
	}
	if w := canvas.Strokes[0].StrokeWidth; w != 1280.0/150 {
		t.Errorf("expected stroke width scaled to the frame, got %v", w)
	}
	for _, f := range canvas.Fills {
		if f.Y < 0 {
			t.Errorf("label background at negative y %v", f.Y)
		}
	}
}

func TestStage_FixedStyle(t *testing.T) {
	renderer := &mocks.Renderer{}
	style := annotate.Defaults(640)
	style.StrokeWidth = 2
	stage := New(renderer, &style, "")

	_, err := stage.Execute(context.Background(), pipeline.AnnotateInput{
		Image:      image.NewRGBA(image.Rect(0, 0, 64, 64)),
		Detections: []pipeline.Detection{{Rect: pipeline.Rect{Left: 1, Top: 30, Right: 20, Bottom: 60}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	canvas := renderer.Canvases[0]
	if canvas.Strokes[0].StrokeWidth != 2 {
		t.Errorf("expected fixed stroke width, got %v", canvas.Strokes[0].StrokeWidth)
	}
	if canvas.Texts[0].Text != "Object 1" {
		t.Errorf("expected default label, got %q", canvas.Texts[0].Text)
	}
}

func TestStage_DrawsPixels(t *testing.T) {
	stage := New(ggrenderer.New(), nil, "Pedestrian")

	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	res, err := stage.Execute(context.Background(), pipeline.AnnotateInput{
		Image:      img,
		Detections: []pipeline.Detection{{Rect: pipeline.Rect{Left: 40, Top: 100, Right: 200, Bottom: 220}, Confidence: 0.9}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Left edge of the box, below the label.
	c := res.Image.RGBAAt(40, 180)
	if c.R > 60 || c.B < 200 {
		t.Errorf("expected box color on the left edge, got %v", c)
	}
	if got := res.Image.RGBAAt(120, 180); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("expected untouched interior, got %v", got)
	}
	if got := img.RGBAAt(40, 180); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("input image was modified: %v", got)
	}
}

func TestStage_NoImage(t *testing.T) {
	stage := New(&mocks.Renderer{}, nil, "")
	if _, err := stage.Execute(context.Background(), pipeline.AnnotateInput{}); err == nil {
		t.Error("expected an error without an image")
	}
}

func TestStage_Overrides(t *testing.T) {
	renderer := &mocks.Renderer{}
	red := color.RGBA{R: 255, A: 255}
	stage := New(renderer, nil, "").WithOverrides(annotate.Overrides{BoxColor: red})

	_, err := stage.Execute(context.Background(), pipeline.AnnotateInput{
		Image:      image.NewRGBA(image.Rect(0, 0, 1280, 720)),
		Detections: []pipeline.Detection{{Rect: pipeline.Rect{Left: 10, Top: 100, Right: 200, Bottom: 300}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stroke := renderer.Canvases[0].Strokes[0]
	if stroke.Color != color.Color(red) {
		t.Errorf("expected overridden box color, got %v", stroke.Color)
	}
	if stroke.StrokeWidth != 1280.0/150 {
		t.Errorf("expected scaled stroke width, got %v", stroke.StrokeWidth)
	}
}
