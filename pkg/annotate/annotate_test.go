package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/detectshow/pkg/mocks"
	"github.com/user/detectshow/pkg/pipeline"
)

func TestDefaults(t *testing.T) {
	tests := []struct {
		width      int
		wantStroke float64
		wantFont   float64
	}{
		{320, 4, 24},
		{1280, 1280.0 / 150, 32},
		{3840, 10, 50},
	}
	for _, tt := range tests {
		s := Defaults(tt.width)
		assert.InDelta(t, tt.wantStroke, s.StrokeWidth, 1e-9, "stroke width for %d", tt.width)
		assert.InDelta(t, tt.wantFont, s.FontSize, 1e-9, "font size for %d", tt.width)
	}
}

func TestLabelText(t *testing.T) {
	assert.Equal(t, "Pedestrian 2", LabelText(pipeline.Detection{Label: "Pedestrian"}, 2, "Object"))
	assert.Equal(t, "Object 1", LabelText(pipeline.Detection{}, 1, "Object"))
}

func TestLabelBox(t *testing.T) {
	tests := []struct {
		name string
		box  pipeline.Rect
		want pipeline.Rect
	}{
		{
			name: "above the box",
			box:  pipeline.Rect{Left: 50, Top: 100, Right: 150, Bottom: 200},
			want: pipeline.Rect{Left: 50, Top: 60, Right: 130, Bottom: 100},
		},
		{
			name: "clamped to the top edge",
			box:  pipeline.Rect{Left: 50, Top: 10, Right: 150, Bottom: 200},
			want: pipeline.Rect{Left: 50, Top: 0, Right: 130, Bottom: 40},
		},
		{
			name: "shifted inside the right edge",
			box:  pipeline.Rect{Left: 580, Top: 100, Right: 640, Bottom: 200},
			want: pipeline.Rect{Left: 560, Top: 60, Right: 640, Bottom: 100},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LabelBox(tt.box, 60, 30, 10, 640)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got.Top, 0.0)
		})
	}
}

func TestDraw(t *testing.T) {
	r := &mocks.Renderer{}
	c := r.CreateCanvas(640, 480, color.Black).(*mocks.Canvas)
	style := Defaults(640)

	dets := []pipeline.Detection{
		{Rect: pipeline.Rect{Left: 100, Top: 100, Right: 200, Bottom: 300}, Confidence: 0.9, Label: "Pedestrian"},
		{Rect: pipeline.Rect{Left: 5, Top: 5, Right: 5, Bottom: 50}, Confidence: 0.8, Label: "Pedestrian"},
		{Rect: pipeline.Rect{Left: -20, Top: 2, Right: 700, Bottom: 100}, Confidence: 0.7, Label: "Pedestrian"},
	}
	Draw(c, dets, style, 640, 480)

	require.Len(t, c.Strokes, 2, "empty boxes are skipped")
	require.Len(t, c.Fills, 2)
	require.Len(t, c.Texts, 2)

	assert.Equal(t, "Pedestrian 1", c.Texts[0].Text)
	assert.Equal(t, "Pedestrian 3", c.Texts[1].Text, "ordinals count every detection")

	assert.Equal(t, mocks.RectOp{X: 0, Y: 2, W: 640, H: 98, Color: style.BoxColor, StrokeWidth: style.StrokeWidth}, c.Strokes[1])
	for _, f := range c.Fills {
		assert.GreaterOrEqual(t, f.Y, 0.0, "label background must not start above the frame")
	}

	label := c.Fills[0]
	assert.Equal(t, 100.0, label.X)
	assert.Equal(t, 100.0, label.Y+label.H, "label sits on the box's top edge")
	assert.Equal(t, label.X+style.Padding, c.Texts[0].X)
	assert.Equal(t, label.Y+label.H/2, c.Texts[0].Y)
}

func TestAnnotate(t *testing.T) {
	r := &mocks.Renderer{}
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})

	out := Annotate(r, img, []pipeline.Detection{{Rect: pipeline.Rect{Left: 10, Top: 30, Right: 40, Bottom: 45}}}, Defaults(64))

	require.Len(t, r.Canvases, 1)
	assert.Equal(t, image.Rect(0, 0, 64, 48), out.Bounds())
	assert.Equal(t, color.RGBA{R: 200, A: 255}, out.RGBAAt(1, 1), "source pixels are copied")
	assert.Len(t, r.Canvases[0].Strokes, 1)
}

func TestScaleDetections(t *testing.T) {
	dets := []pipeline.Detection{{Rect: pipeline.Rect{Left: 64, Top: 64, Right: 320, Bottom: 640}, Label: "a"}}

	got := ScaleDetections(dets, 640, 640, 1280, 720)

	assert.Equal(t, pipeline.Rect{Left: 128, Top: 72, Right: 640, Bottom: 720}, got[0].Rect)
	assert.Equal(t, "a", got[0].Label)
	assert.Equal(t, 64.0, dets[0].Rect.Left, "input is not modified")
}

func TestToRGBA_SubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(5, 5, color.RGBA{G: 255, A: 255})
	sub := img.SubImage(image.Rect(5, 5, 10, 10))

	out := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 5, 5), out.Bounds())
	assert.Equal(t, color.RGBA{G: 255, A: 255}, out.RGBAAt(0, 0))
}

func TestOverrides_Apply(t *testing.T) {
	base := Defaults(1280)
	assert.True(t, Overrides{}.IsZero())
	assert.Equal(t, base, Overrides{}.Apply(base))

	red := color.RGBA{R: 255, A: 255}
	got := Overrides{BoxColor: red, FontSize: 12}.Apply(base)
	assert.Equal(t, red, got.BoxColor)
	assert.Equal(t, 12.0, got.FontSize)
	assert.Equal(t, base.StrokeWidth, got.StrokeWidth)
	assert.Equal(t, base.LabelBackground, got.LabelBackground)
}
