package mocks

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/user/detectshow/pkg/ports"
)

// Renderer is a mock implementation of ports.Renderer.
type Renderer struct {
	CreateCanvasFunc func(width, height int, bg color.Color) ports.Canvas
	DecodeImageFunc  func(data []byte, format ports.ImageFormat) (image.Image, error)
	EncodeImageFunc  func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error)
	ResizeImageFunc  func(img image.Image, width, height int) image.Image

	mu       sync.Mutex
	Canvases []*Canvas
	Encoded  int
}

func (m *Renderer) CreateCanvas(width, height int, bg color.Color) ports.Canvas {
	if m.CreateCanvasFunc != nil {
		return m.CreateCanvasFunc(width, height, bg)
	}
	c := &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
	m.mu.Lock()
	m.Canvases = append(m.Canvases, c)
	m.mu.Unlock()
	return c
}

func (m *Renderer) DecodeImage(data []byte, format ports.ImageFormat) (image.Image, error) {
	if m.DecodeImageFunc != nil {
		return m.DecodeImageFunc(data, format)
	}
	return image.NewRGBA(image.Rect(0, 0, 100, 100)), nil
}

func (m *Renderer) EncodeImage(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
	m.mu.Lock()
	m.Encoded++
	m.mu.Unlock()
	if m.EncodeImageFunc != nil {
		return m.EncodeImageFunc(img, format, quality)
	}
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

func (m *Renderer) ResizeImage(img image.Image, width, height int) image.Image {
	if m.ResizeImageFunc != nil {
		return m.ResizeImageFunc(img, width, height)
	}
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

var _ ports.Renderer = (*Renderer)(nil)

// RectOp is a recorded rectangle draw.
type RectOp struct {
	X, Y, W, H  float64
	Color       color.Color
	StrokeWidth float64 // 0 for fills
}

// TextOp is a recorded text draw.
type TextOp struct {
	Text  string
	X, Y  float64
	Style ports.TextStyle
}

// Canvas is a mock implementation of ports.Canvas that records draw calls.
// Text measures 0.5em per rune wide and 1em high.
type Canvas struct {
	img *image.RGBA

	Fills   []RectOp
	Strokes []RectOp
	Texts   []TextOp
}

func (m *Canvas) DrawImage(img image.Image, x, y int) {
	draw.Draw(m.img, img.Bounds().Add(image.Pt(x, y)), img, img.Bounds().Min, draw.Src)
}

func (m *Canvas) FillRect(x, y, w, h float64, c color.Color) {
	m.Fills = append(m.Fills, RectOp{X: x, Y: y, W: w, H: h, Color: c})
}

func (m *Canvas) StrokeRect(x, y, w, h float64, c color.Color, strokeWidth float64) {
	m.Strokes = append(m.Strokes, RectOp{X: x, Y: y, W: w, H: h, Color: c, StrokeWidth: strokeWidth})
}

func (m *Canvas) DrawText(text string, x, y float64, style ports.TextStyle) {
	m.Texts = append(m.Texts, TextOp{Text: text, X: x, Y: y, Style: style})
}

func (m *Canvas) MeasureText(text string, style ports.TextStyle) (float64, float64) {
	return float64(len([]rune(text))) * style.FontSize / 2, style.FontSize
}

func (m *Canvas) ToImage() image.Image {
	return m.img
}

var _ ports.Canvas = (*Canvas)(nil)
