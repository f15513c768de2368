package ggrenderer

import (
	"image"
	"image/color"
	"testing"

	"github.com/user/detectshow/pkg/ports"
)

func TestRenderer_CreateCanvas(t *testing.T) {
	r := New()

	canvas := r.CreateCanvas(100, 100, color.White)
	if canvas == nil {
		t.Fatal("expected canvas to be created")
	}

	img := canvas.ToImage()
	bounds := img.Bounds()

	if bounds.Dx() != 100 || bounds.Dy() != 100 {
		t.Errorf("expected 100x100, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderer_EncodeDecodeJPEG(t *testing.T) {
	r := New()

	// Create test image
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	// Encode
	data, err := r.EncodeImage(img, ports.FormatJPEG, 80)
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty data")
	}

	// Decode
	decoded, err := r.DecodeImage(data, ports.FormatJPEG)
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() != 50 || bounds.Dy() != 50 {
		t.Errorf("expected 50x50, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderer_EncodeDecodePNG(t *testing.T) {
	r := New()

	img := image.NewRGBA(image.Rect(0, 0, 30, 30))

	// Encode
	data, err := r.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}

	// Decode
	decoded, err := r.DecodeImage(data, ports.FormatPNG)
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() != 30 || bounds.Dy() != 30 {
		t.Errorf("expected 30x30, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderer_ResizeImage(t *testing.T) {
	r := New()

	// Create 100x100 image
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	// Resize to 50x50
	resized := r.ResizeImage(img, 50, 50)

	bounds := resized.Bounds()
	if bounds.Dx() != 50 || bounds.Dy() != 50 {
		t.Errorf("expected 50x50, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestCanvas_FillRect(t *testing.T) {
	r := New()
	canvas := r.CreateCanvas(100, 100, color.White)

	canvas.FillRect(10, 10, 30, 30, color.RGBA{R: 255, A: 255})

	img := canvas.ToImage()

	red, green, _, _ := img.At(20, 20).RGBA()
	if red == 0 || green != 0 {
		t.Error("expected red pixel inside rectangle")
	}
	if _, green, _, _ := img.At(60, 60).RGBA(); green == 0 {
		t.Error("expected pixel outside rectangle to stay white")
	}
}

func TestCanvas_StrokeRect(t *testing.T) {
	r := New()
	canvas := r.CreateCanvas(100, 100, color.White)

	canvas.StrokeRect(10, 10, 30, 30, color.Black, 4)

	img := canvas.ToImage()

	if r1, _, _, _ := img.At(10, 20).RGBA(); r1 == 65535 {
		t.Error("expected dark pixel on border")
	}
	if r1, _, _, _ := img.At(25, 25).RGBA(); r1 != 65535 {
		t.Error("expected interior to stay white")
	}
}

func TestCanvas_DrawImage(t *testing.T) {
	r := New()
	canvas := r.CreateCanvas(100, 100, color.White)

	// Create small red image
	small := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			small.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	// Draw at position (10, 10)
	canvas.DrawImage(small, 10, 10)

	img := canvas.ToImage()

	// Check pixel at (15, 15) should be red
	c := img.At(15, 15)
	red, _, _, _ := c.RGBA()
	if red == 0 {
		t.Error("expected red pixel from drawn image")
	}
}

func TestCanvas_DrawText(t *testing.T) {
	r := New()
	canvas := r.CreateCanvas(200, 50, color.White)

	style := ports.TextStyle{
		FontSize: 14,
		Color:    color.Black,
		Align:    ports.AlignLeft,
	}

	// Should not panic
	canvas.DrawText("Hello World", 10, 25, style)

	img := canvas.ToImage()
	if img == nil {
		t.Error("expected image to be created")
	}
}

func TestCanvas_DrawTextMarksPixels(t *testing.T) {
	r := New()
	canvas := r.CreateCanvas(200, 60, color.White)

	style := ports.TextStyle{FontSize: 30, Color: color.Black}
	canvas.DrawText("Pedestrian 1", 5, 30, style)

	img := canvas.ToImage()
	dark := 0
	for y := 0; y < 60; y++ {
		for x := 0; x < 200; x++ {
			if r1, _, _, _ := img.At(x, y).RGBA(); r1 < 0x8000 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Error("expected text to mark some pixels")
	}
}

func TestCanvas_MeasureText(t *testing.T) {
	r := New()
	canvas := r.CreateCanvas(10, 10, color.White)

	small := ports.TextStyle{FontSize: 20}
	large := ports.TextStyle{FontSize: 40}

	w1, h1 := canvas.MeasureText("Pedestrian 1", small)
	w2, h2 := canvas.MeasureText("Pedestrian 1", large)
	if w1 <= 0 || h1 <= 0 {
		t.Fatalf("expected positive extent, got %.1fx%.1f", w1, h1)
	}
	if w2 <= w1 || h2 <= h1 {
		t.Errorf("larger font should measure larger: %.1fx%.1f vs %.1fx%.1f", w2, h2, w1, h1)
	}

	// Unloadable font paths fall back to the built-in face.
	w3, _ := canvas.MeasureText("Pedestrian 1", ports.TextStyle{FontSize: 20, FontPath: "/nonexistent.ttf"})
	if w3 != w1 {
		t.Errorf("expected fallback face width %.1f, got %.1f", w1, w3)
	}
}
