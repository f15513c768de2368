// Package softgl is a CPU implementation of the rendering context the
// encoder draws into. Window surfaces wrap encoder input surfaces and
// SwapBuffers hands the back buffer to them with its presentation time.
package softgl

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

var (
	// ErrNotInitialized is returned when the display is used before Initialize.
	ErrNotInitialized = errors.New("softgl: display not initialized")

	// ErrNotCurrent is returned for GL calls on a context that is not current.
	ErrNotCurrent = errors.New("softgl: context not current")

	// ErrBadHandle is returned for surfaces or contexts of another display.
	ErrBadHandle = errors.New("softgl: invalid surface or context")

	// ErrInvalidValue is returned for out-of-range arguments.
	ErrInvalidValue = errors.New("softgl: invalid value")

	// ErrUnsupportedPrimitive is returned for geometry the rasterizer cannot draw.
	ErrUnsupportedPrimitive = errors.New("softgl: unsupported primitive")
)

// Display implements ports.Display.
type Display struct {
	mu          sync.Mutex
	initialized bool
	lost        bool

	contexts map[*Context]bool
	surfaces map[*Surface]bool

	current        *Context
	currentSurface *Surface
}

// New creates an uninitialized display.
func New() *Display {
	return &Display{
		contexts: make(map[*Context]bool),
		surfaces: make(map[*Surface]bool),
	}
}

// Surface implements ports.Surface over an encoder input surface.
type Surface struct {
	target         ports.InputSurface
	back           *image.RGBA
	presentationNs int64
}

// Width returns the surface width.
func (s *Surface) Width() int { return s.back.Rect.Dx() }

// Height returns the surface height.
func (s *Surface) Height() int { return s.back.Rect.Dy() }

// Context implements ports.RenderContext.
type Context struct {
	gl *GL
}

// GL returns the graphics context bound to this rendering context.
func (c *Context) GL() ports.GraphicsContext { return c.gl }

// Initialize prepares the display for use.
func (d *Display) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = true
	d.lost = false
	return nil
}

// CreateContext creates a rendering context.
func (d *Display) CreateContext() (ports.RenderContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, ErrNotInitialized
	}
	c := &Context{}
	c.gl = newGL(d, c)
	d.contexts[c] = true
	return c, nil
}

// CreateWindowSurface creates a surface whose swaps feed target.
func (d *Display) CreateWindowSurface(target ports.InputSurface) (ports.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, ErrNotInitialized
	}
	if target == nil || target.Width() <= 0 || target.Height() <= 0 {
		return nil, fmt.Errorf("%w: window surface target", ErrInvalidValue)
	}
	s := &Surface{
		target: target,
		back:   image.NewRGBA(image.Rect(0, 0, target.Width(), target.Height())),
	}
	d.surfaces[s] = true
	return s, nil
}

// MakeCurrent binds surface and ctx for subsequent GL calls.
func (d *Display) MakeCurrent(surface ports.Surface, ctx ports.RenderContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	if d.lost {
		return pipeline.ErrLostContext
	}
	s, c, err := d.lookup(surface, ctx)
	if err != nil {
		return err
	}
	d.current = c
	d.currentSurface = s
	if !c.gl.viewportSet {
		c.gl.viewport = s.back.Rect
	}
	return nil
}

// ReleaseCurrent unbinds the current context.
func (d *Display) ReleaseCurrent() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	d.current = nil
	d.currentSurface = nil
	return nil
}

// DestroySurface destroys a window surface.
func (d *Display) DestroySurface(surface ports.Surface) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := surface.(*Surface)
	if !ok || !d.surfaces[s] {
		return ErrBadHandle
	}
	delete(d.surfaces, s)
	if d.currentSurface == s {
		d.currentSurface = nil
		d.current = nil
	}
	return nil
}

// DestroyContext destroys a rendering context and its GL objects.
func (d *Display) DestroyContext(ctx ports.RenderContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := ctx.(*Context)
	if !ok || !d.contexts[c] {
		return ErrBadHandle
	}
	delete(d.contexts, c)
	if d.current == c {
		d.current = nil
		d.currentSurface = nil
	}
	c.gl.reset()
	return nil
}

// SetPresentationTime stamps the next swap of surface.
func (d *Display) SetPresentationTime(surface ports.Surface, ns int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := surface.(*Surface)
	if !ok || !d.surfaces[s] {
		return ErrBadHandle
	}
	s.presentationNs = ns
	return nil
}

// SwapBuffers hands a copy of the back buffer to the surface target.
func (d *Display) SwapBuffers(surface ports.Surface) error {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return pipeline.ErrLostContext
	}
	s, ok := surface.(*Surface)
	if !ok || !d.surfaces[s] {
		d.mu.Unlock()
		return ErrBadHandle
	}
	if d.currentSurface != s {
		d.mu.Unlock()
		return ErrNotCurrent
	}
	frame := image.NewRGBA(s.back.Rect)
	copy(frame.Pix, s.back.Pix)
	target, pts := s.target, s.presentationNs
	d.mu.Unlock()

	// The target may block on encoder backpressure; never hold the lock.
	return target.QueueFrame(frame, pts)
}

// Terminate releases everything owned by the display.
func (d *Display) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.contexts {
		c.gl.reset()
	}
	d.contexts = make(map[*Context]bool)
	d.surfaces = make(map[*Surface]bool)
	d.current = nil
	d.currentSurface = nil
	d.initialized = false
	return nil
}

// Lose simulates the loss of every context, as after a GPU reset.
// All later GL calls and swaps fail with pipeline.ErrLostContext.
func (d *Display) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

func (d *Display) lookup(surface ports.Surface, ctx ports.RenderContext) (*Surface, *Context, error) {
	s, ok := surface.(*Surface)
	if !ok || !d.surfaces[s] {
		return nil, nil, ErrBadHandle
	}
	c, ok := ctx.(*Context)
	if !ok || !d.contexts[c] {
		return nil, nil, ErrBadHandle
	}
	return s, c, nil
}

// Ensure Display implements ports.Display
var _ ports.Display = (*Display)(nil)
