package softgl

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

type texture struct {
	img    *image.RGBA
	filter ports.TextureFilter
	wrap   ports.TextureWrap
}

type vertexAttrib struct {
	size    int
	data    []float32
	enabled bool
}

// GL implements ports.GraphicsContext for one Context.
type GL struct {
	display *Display
	owner   *Context

	nextID   uint32
	shaders  map[ports.ShaderID]*shader
	programs map[ports.ProgramID]*program
	textures map[ports.TextureID]*texture

	boundTexture ports.TextureID
	program      ports.ProgramID
	attribs      map[int]*vertexAttrib
	uniforms     map[int]int

	viewport    image.Rectangle
	viewportSet bool
	clearColor  color.RGBA
}

func newGL(d *Display, owner *Context) *GL {
	g := &GL{display: d, owner: owner}
	g.reset()
	return g
}

// reset drops every GL object. Callers hold the display lock.
func (g *GL) reset() {
	g.shaders = make(map[ports.ShaderID]*shader)
	g.programs = make(map[ports.ProgramID]*program)
	g.textures = make(map[ports.TextureID]*texture)
	g.attribs = make(map[int]*vertexAttrib)
	g.uniforms = make(map[int]int)
	g.boundTexture = 0
	g.program = 0
}

// lock acquires the display lock and verifies the context is usable.
// On success the caller must call g.display.mu.Unlock.
func (g *GL) lock() error {
	g.display.mu.Lock()
	if g.display.lost {
		g.display.mu.Unlock()
		return pipeline.ErrLostContext
	}
	if g.display.current != g.owner {
		g.display.mu.Unlock()
		return ErrNotCurrent
	}
	return nil
}

func (g *GL) id() uint32 {
	g.nextID++
	return g.nextID
}

// CompileShader implements ports.GraphicsContext.
func (g *GL) CompileShader(kind ports.ShaderType, source string) (ports.ShaderID, error) {
	if err := g.lock(); err != nil {
		return 0, err
	}
	defer g.display.mu.Unlock()

	s, err := compileShader(kind, source)
	if err != nil {
		return 0, err
	}
	id := ports.ShaderID(g.id())
	g.shaders[id] = s
	return id, nil
}

// DeleteShader implements ports.GraphicsContext.
func (g *GL) DeleteShader(id ports.ShaderID) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	delete(g.shaders, id)
	return nil
}

// LinkProgram implements ports.GraphicsContext.
func (g *GL) LinkProgram(vertex, fragment ports.ShaderID) (ports.ProgramID, error) {
	if err := g.lock(); err != nil {
		return 0, err
	}
	defer g.display.mu.Unlock()

	vs, ok := g.shaders[vertex]
	if !ok {
		return 0, fmt.Errorf("%w: unknown vertex shader %d", pipeline.ErrShaderLink, vertex)
	}
	fs, ok := g.shaders[fragment]
	if !ok {
		return 0, fmt.Errorf("%w: unknown fragment shader %d", pipeline.ErrShaderLink, fragment)
	}
	p, err := linkProgram(vs, fs)
	if err != nil {
		return 0, err
	}
	id := ports.ProgramID(g.id())
	g.programs[id] = p
	return id, nil
}

// DeleteProgram implements ports.GraphicsContext.
func (g *GL) DeleteProgram(id ports.ProgramID) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	delete(g.programs, id)
	if g.program == id {
		g.program = 0
	}
	return nil
}

// UseProgram implements ports.GraphicsContext.
func (g *GL) UseProgram(id ports.ProgramID) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	if _, ok := g.programs[id]; !ok && id != 0 {
		return fmt.Errorf("%w: program %d", ErrInvalidValue, id)
	}
	g.program = id
	return nil
}

// AttribLocation returns -1 for names that are not active attributes.
func (g *GL) AttribLocation(id ports.ProgramID, name string) (int, error) {
	if err := g.lock(); err != nil {
		return -1, err
	}
	defer g.display.mu.Unlock()
	p, ok := g.programs[id]
	if !ok {
		return -1, fmt.Errorf("%w: program %d", ErrInvalidValue, id)
	}
	if loc, ok := p.attributes[name]; ok {
		return loc, nil
	}
	return -1, nil
}

// UniformLocation returns -1 for names that are not active uniforms.
func (g *GL) UniformLocation(id ports.ProgramID, name string) (int, error) {
	if err := g.lock(); err != nil {
		return -1, err
	}
	defer g.display.mu.Unlock()
	p, ok := g.programs[id]
	if !ok {
		return -1, fmt.Errorf("%w: program %d", ErrInvalidValue, id)
	}
	if loc, ok := p.uniforms[name]; ok {
		return loc, nil
	}
	return -1, nil
}

// EnableVertexAttribArray implements ports.GraphicsContext.
func (g *GL) EnableVertexAttribArray(location int) error {
	return g.setAttribEnabled(location, true)
}

// DisableVertexAttribArray implements ports.GraphicsContext.
func (g *GL) DisableVertexAttribArray(location int) error {
	return g.setAttribEnabled(location, false)
}

func (g *GL) setAttribEnabled(location int, enabled bool) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	if location < 0 {
		return fmt.Errorf("%w: attribute location %d", ErrInvalidValue, location)
	}
	a := g.attribs[location]
	if a == nil {
		a = &vertexAttrib{}
		g.attribs[location] = a
	}
	a.enabled = enabled
	return nil
}

// VertexAttribPointer implements ports.GraphicsContext.
func (g *GL) VertexAttribPointer(location, size int, data []float32) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	if location < 0 || size < 1 || size > 4 || len(data)%size != 0 {
		return fmt.Errorf("%w: attribute pointer loc=%d size=%d len=%d", ErrInvalidValue, location, size, len(data))
	}
	a := g.attribs[location]
	if a == nil {
		a = &vertexAttrib{}
		g.attribs[location] = a
	}
	a.size = size
	a.data = append([]float32(nil), data...)
	return nil
}

// Uniform1i implements ports.GraphicsContext. Only texture unit 0 exists.
func (g *GL) Uniform1i(location, value int) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	if g.program == 0 {
		return fmt.Errorf("%w: no program in use", ErrInvalidValue)
	}
	if g.programs[g.program].samplers[location] && value != 0 {
		return fmt.Errorf("%w: texture unit %d", ErrInvalidValue, value)
	}
	g.uniforms[location] = value
	return nil
}

// GenTexture implements ports.GraphicsContext.
func (g *GL) GenTexture() (ports.TextureID, error) {
	if err := g.lock(); err != nil {
		return 0, err
	}
	defer g.display.mu.Unlock()
	id := ports.TextureID(g.id())
	g.textures[id] = &texture{}
	return id, nil
}

// BindTexture implements ports.GraphicsContext.
func (g *GL) BindTexture(id ports.TextureID) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	if _, ok := g.textures[id]; !ok && id != 0 {
		return fmt.Errorf("%w: texture %d", ErrInvalidValue, id)
	}
	g.boundTexture = id
	return nil
}

// TexParameters implements ports.GraphicsContext.
func (g *GL) TexParameters(filter ports.TextureFilter, wrap ports.TextureWrap) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	t, err := g.bound()
	if err != nil {
		return err
	}
	t.filter = filter
	t.wrap = wrap
	return nil
}

// TexImage2D implements ports.GraphicsContext.
func (g *GL) TexImage2D(img *image.RGBA) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	t, err := g.bound()
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: empty texture image", ErrInvalidValue)
	}
	t.img = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(t.img, t.img.Bounds(), img, b.Min, draw.Src)
	return nil
}

// DeleteTexture implements ports.GraphicsContext.
func (g *GL) DeleteTexture(id ports.TextureID) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	delete(g.textures, id)
	if g.boundTexture == id {
		g.boundTexture = 0
	}
	return nil
}

// TextureCount returns the number of live textures.
func (g *GL) TextureCount() int {
	g.display.mu.Lock()
	defer g.display.mu.Unlock()
	return len(g.textures)
}

// Viewport implements ports.GraphicsContext. y counts from the bottom edge.
func (g *GL) Viewport(x, y, width, height int) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidValue, width, height)
	}
	g.viewport = image.Rect(x, y, x+width, y+height)
	g.viewportSet = true
	return nil
}

// ClearColor implements ports.GraphicsContext.
func (g *GL) ClearColor(r, gr, b, a float32) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	g.clearColor = color.RGBA{R: unit8(r), G: unit8(gr), B: unit8(b), A: unit8(a)}
	return nil
}

// Clear fills the current surface with the clear color.
func (g *GL) Clear() error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()
	back := g.display.currentSurface.back
	draw.Draw(back, back.Bounds(), image.NewUniform(g.clearColor), image.Point{}, draw.Src)
	return nil
}

// DrawArrays rasterizes a textured triangle strip into the current surface.
func (g *GL) DrawArrays(mode ports.DrawMode, first, count int) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.display.mu.Unlock()

	if mode != ports.TriangleStrip || count < 3 {
		return fmt.Errorf("%w: mode %d count %d", ErrUnsupportedPrimitive, mode, count)
	}
	p, ok := g.programs[g.program]
	if !ok {
		return fmt.Errorf("%w: no program in use", ErrInvalidValue)
	}
	pos, err := g.vertices(p.positionAttrib, first, count)
	if err != nil {
		return err
	}
	tc, err := g.vertices(p.texCoordAttrib, first, count)
	if err != nil {
		return err
	}
	t, err := g.bound()
	if err != nil {
		return err
	}
	if t.img == nil {
		return fmt.Errorf("%w: texture has no image", ErrInvalidValue)
	}

	back := g.display.currentSurface.back
	return rasterize(back, g.viewport, pos, tc, t)
}

func (g *GL) bound() (*texture, error) {
	t, ok := g.textures[g.boundTexture]
	if !ok {
		return nil, fmt.Errorf("%w: no texture bound", ErrInvalidValue)
	}
	return t, nil
}

func (g *GL) vertices(location, first, count int) ([][2]float64, error) {
	a := g.attribs[location]
	if location < 0 || a == nil || !a.enabled {
		return nil, fmt.Errorf("%w: attribute %d not enabled", ErrInvalidValue, location)
	}
	if a.size < 2 || (first+count)*a.size > len(a.data) {
		return nil, fmt.Errorf("%w: attribute %d has too few vertices", ErrInvalidValue, location)
	}
	out := make([][2]float64, count)
	for i := range out {
		base := (first + i) * a.size
		out[i] = [2]float64{float64(a.data[base]), float64(a.data[base+1])}
	}
	return out, nil
}

func unit8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Ensure GL implements ports.GraphicsContext
var _ ports.GraphicsContext = (*GL)(nil)
