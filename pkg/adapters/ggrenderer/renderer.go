// Package ggrenderer provides a renderer implementation using the gg library.
package ggrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/user/detectshow/pkg/ports"
)

type faceKey struct {
	path string
	size float64
}

// Renderer implements ports.Renderer using the gg library. Font faces are
// cached per path and size.
type Renderer struct {
	mu      sync.Mutex
	regular *truetype.Font
	faces   map[faceKey]font.Face
}

// New creates a new Renderer.
func New() *Renderer {
	return &Renderer{faces: make(map[faceKey]font.Face)}
}

// CreateCanvas creates a new drawing canvas.
func (r *Renderer) CreateCanvas(width, height int, bg color.Color) ports.Canvas {
	dc := gg.NewContext(width, height)
	dc.SetColor(bg)
	dc.Clear()
	return &Canvas{dc: dc, renderer: r}
}

// DecodeImage decodes image data into an image.Image.
func (r *Renderer) DecodeImage(data []byte, format ports.ImageFormat) (image.Image, error) {
	reader := bytes.NewReader(data)

	switch format {
	case ports.FormatJPEG:
		return jpeg.Decode(reader)
	case ports.FormatPNG:
		return png.Decode(reader)
	default:
		img, _, err := image.Decode(reader)
		return img, err
	}
}

// EncodeImage encodes an image to the specified format.
func (r *Renderer) EncodeImage(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case ports.FormatJPEG:
		opts := &jpeg.Options{Quality: quality}
		if err := jpeg.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode JPEG: %w", err)
		}
	case ports.FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode PNG: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format: %d", format)
	}

	return buf.Bytes(), nil
}

// ResizeImage resizes an image to the specified dimensions.
func (r *Renderer) ResizeImage(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// face returns the face for style. An empty or unloadable FontPath
// falls back to Go Regular.
func (r *Renderer) face(style ports.TextStyle) font.Face {
	size := style.FontSize
	if size <= 0 {
		size = 12
	}
	key := faceKey{path: style.FontPath, size: size}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faces[key]; ok {
		return f
	}

	var f font.Face
	if style.FontPath != "" {
		if loaded, err := gg.LoadFontFace(style.FontPath, size); err == nil {
			f = loaded
		}
	}
	if f == nil {
		if r.regular == nil {
			// The embedded font always parses.
			r.regular, _ = truetype.Parse(goregular.TTF)
		}
		f = truetype.NewFace(r.regular, &truetype.Options{Size: size})
	}
	r.faces[key] = f
	return f
}

var _ ports.Renderer = (*Renderer)(nil)

// Canvas implements ports.Canvas using gg.Context.
type Canvas struct {
	dc       *gg.Context
	renderer *Renderer
}

// DrawImage draws an image at the specified position.
func (c *Canvas) DrawImage(img image.Image, x, y int) {
	c.dc.DrawImage(img, x, y)
}

// FillRect draws a filled rectangle.
func (c *Canvas) FillRect(x, y, w, h float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Fill()
}

// StrokeRect draws a rectangle outline centered on its edges.
func (c *Canvas) StrokeRect(x, y, w, h float64, col color.Color, strokeWidth float64) {
	c.dc.SetColor(col)
	c.dc.SetLineWidth(strokeWidth)
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Stroke()
}

// DrawText draws text with its vertical center at y.
func (c *Canvas) DrawText(text string, x, y float64, style ports.TextStyle) {
	c.dc.SetFontFace(c.renderer.face(style))
	c.dc.SetColor(style.Color)

	ax := 0.0
	switch style.Align {
	case ports.AlignCenter:
		ax = 0.5
	case ports.AlignRight:
		ax = 1.0
	}
	c.dc.DrawStringAnchored(text, x, y, ax, 0.5)
}

// MeasureText returns the advance width and line height of text.
func (c *Canvas) MeasureText(text string, style ports.TextStyle) (float64, float64) {
	c.dc.SetFontFace(c.renderer.face(style))
	return c.dc.MeasureString(text)
}

// ToImage returns the canvas as an image.Image.
func (c *Canvas) ToImage() image.Image {
	return c.dc.Image()
}

var _ ports.Canvas = (*Canvas)(nil)
