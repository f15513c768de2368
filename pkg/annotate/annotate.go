// Package annotate draws detection rectangles with ordinal labels. The same
// primitive serves batch video annotation and single-frame overlays.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// BrightBlue is the default box color (#007AFF).
var BrightBlue = color.RGBA{R: 0x00, G: 0x7A, B: 0xFF, A: 0xFF}

// Style controls how detections are drawn.
type Style struct {
	BoxColor        color.Color
	StrokeWidth     float64
	LabelBackground color.Color
	TextColor       color.Color
	FontSize        float64
	FontPath        string

	// Padding is added on both sides of the label text horizontally and
	// once vertically.
	Padding float64

	// DefaultLabel replaces empty detection labels.
	DefaultLabel string
}

// Defaults returns the style for a frame of the given width: stroke width
// w/150 clamped to [4,10] and text size w/40 clamped to [24,50].
func Defaults(frameWidth int) Style {
	w := float64(frameWidth)
	return Style{
		BoxColor:        BrightBlue,
		StrokeWidth:     clamp(w/150, 4, 10),
		LabelBackground: color.NRGBA{R: 0x00, G: 0x7A, B: 0xFF, A: 178}, // 70% alpha
		TextColor:       color.White,
		FontSize:        clamp(w/40, 24, 50),
		Padding:         10,
		DefaultLabel:    "Object",
	}
}

// Overrides replaces selected Style fields. Zero values keep the base.
type Overrides struct {
	BoxColor        color.Color
	LabelBackground color.Color
	TextColor       color.Color
	StrokeWidth     float64
	FontSize        float64
	FontPath        string
}

// IsZero reports whether o changes nothing.
func (o Overrides) IsZero() bool {
	return o == Overrides{}
}

// Apply returns s with the fields set in o replaced.
func (o Overrides) Apply(s Style) Style {
	if o.BoxColor != nil {
		s.BoxColor = o.BoxColor
	}
	if o.LabelBackground != nil {
		s.LabelBackground = o.LabelBackground
	}
	if o.TextColor != nil {
		s.TextColor = o.TextColor
	}
	if o.StrokeWidth > 0 {
		s.StrokeWidth = o.StrokeWidth
	}
	if o.FontSize > 0 {
		s.FontSize = o.FontSize
	}
	if o.FontPath != "" {
		s.FontPath = o.FontPath
	}
	return s
}

// LabelText returns the text drawn for the detection at 1-based ordinal.
func LabelText(d pipeline.Detection, ordinal int, fallback string) string {
	label := d.Label
	if label == "" {
		label = fallback
	}
	return fmt.Sprintf("%s %d", label, ordinal)
}

// LabelBox returns the label background rectangle for a detection box.
// It sits on top of the box's upper edge, starting at its left edge. When
// there is no room above the box the label is moved down so its top is 0,
// and it is shifted left to stay within frameWidth.
func LabelBox(box pipeline.Rect, textW, textH, padding, frameWidth float64) pipeline.Rect {
	w := textW + 2*padding
	h := textH + padding

	top := box.Top - h
	if top < 0 {
		top = 0
	}
	left := box.Left
	if frameWidth > 0 && left+w > frameWidth {
		left = frameWidth - w
	}
	if left < 0 {
		left = 0
	}
	return pipeline.Rect{Left: left, Top: top, Right: left + w, Bottom: top + h}
}

// Draw renders each detection onto canvas: a rectangle outline, a filled
// label background above it, and the label text. Boxes are clamped to the
// frame; empty boxes are skipped but still consume an ordinal.
func Draw(canvas ports.Canvas, dets []pipeline.Detection, style Style, frameWidth, frameHeight int) {
	fw, fh := float64(frameWidth), float64(frameHeight)
	textStyle := ports.TextStyle{
		FontSize: style.FontSize,
		FontPath: style.FontPath,
		Color:    style.TextColor,
		Align:    ports.AlignLeft,
	}

	for i, d := range dets {
		box := d.Rect.Clamp(fw, fh)
		if box.Empty() {
			continue
		}
		canvas.StrokeRect(box.Left, box.Top, box.Width(), box.Height(), style.BoxColor, style.StrokeWidth)

		text := LabelText(d, i+1, style.DefaultLabel)
		tw, th := canvas.MeasureText(text, textStyle)
		label := LabelBox(box, tw, th, style.Padding, fw)
		canvas.FillRect(label.Left, label.Top, label.Width(), label.Height(), style.LabelBackground)
		canvas.DrawText(text, label.Left+style.Padding, (label.Top+label.Bottom)/2, textStyle)
	}
}

// Annotate returns a copy of img with dets drawn on it.
func Annotate(renderer ports.Renderer, img *image.RGBA, dets []pipeline.Detection, style Style) *image.RGBA {
	b := img.Bounds()
	canvas := renderer.CreateCanvas(b.Dx(), b.Dy(), color.Transparent)
	canvas.DrawImage(img, 0, 0)
	Draw(canvas, dets, style, b.Dx(), b.Dy())
	return ToRGBA(canvas.ToImage())
}

// ToRGBA returns img as *image.RGBA with its origin at (0,0), copying when
// needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// ScaleDetections maps detections from one coordinate space to another,
// e.g. from model input pixels to source frame pixels.
func ScaleDetections(dets []pipeline.Detection, fromW, fromH, toW, toH int) []pipeline.Detection {
	if fromW == 0 || fromH == 0 {
		return dets
	}
	sx := float64(toW) / float64(fromW)
	sy := float64(toH) / float64(fromH)
	out := make([]pipeline.Detection, len(dets))
	for i, d := range dets {
		out[i] = d
		out[i].Rect = d.Rect.Scale(sx, sy)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
