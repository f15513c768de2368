package ports

import (
	"image"
)

// Display provides rendering contexts and window surfaces bound to encoder
// input surfaces. A context must be made current before GL calls are issued
// against it, and may be current on one goroutine at a time.
type Display interface {
	Initialize() error
	CreateContext() (RenderContext, error)
	CreateWindowSurface(target InputSurface) (Surface, error)
	MakeCurrent(surface Surface, ctx RenderContext) error
	ReleaseCurrent() error
	DestroySurface(surface Surface) error
	DestroyContext(ctx RenderContext) error

	// SetPresentationTime stamps the next SwapBuffers of surface.
	SetPresentationTime(surface Surface, ns int64) error

	// SwapBuffers presents the back buffer to the surface's target.
	SwapBuffers(surface Surface) error

	Terminate() error
}

// Surface is a drawable bound to an InputSurface.
type Surface interface {
	Width() int
	Height() int
}

// RenderContext owns GL state.
type RenderContext interface {
	GL() GraphicsContext
}

// ShaderType selects the pipeline stage of a shader.
type ShaderType int

const (
	VertexShader ShaderType = iota
	FragmentShader
)

// DrawMode selects how DrawArrays assembles vertices.
type DrawMode int

const (
	TriangleStrip DrawMode = iota
	Triangles
)

// TextureFilter selects texture sampling.
type TextureFilter int

const (
	FilterLinear TextureFilter = iota
	FilterNearest
)

// TextureWrap selects behaviour outside [0,1] texture coordinates.
type TextureWrap int

const (
	WrapClampToEdge TextureWrap = iota
	WrapRepeat
)

// ShaderID, ProgramID and TextureID are GL object names. Zero is never valid.
type (
	ShaderID  uint32
	ProgramID uint32
	TextureID uint32
)

// GraphicsContext is the GLES2 subset the frame renderer uses. Every call
// returns pipeline.ErrLostContext once the context is lost.
type GraphicsContext interface {
	// CompileShader compiles source. Failures wrap pipeline.ErrShaderCompile.
	CompileShader(kind ShaderType, source string) (ShaderID, error)
	DeleteShader(id ShaderID) error

	// LinkProgram links two shaders. Failures wrap pipeline.ErrShaderLink.
	LinkProgram(vertex, fragment ShaderID) (ProgramID, error)
	DeleteProgram(id ProgramID) error
	UseProgram(id ProgramID) error
	AttribLocation(program ProgramID, name string) (int, error)
	UniformLocation(program ProgramID, name string) (int, error)

	EnableVertexAttribArray(location int) error
	DisableVertexAttribArray(location int) error

	// VertexAttribPointer binds tightly packed vertex data with size
	// components per vertex.
	VertexAttribPointer(location, size int, data []float32) error
	Uniform1i(location, value int) error

	GenTexture() (TextureID, error)
	BindTexture(id TextureID) error
	TexParameters(filter TextureFilter, wrap TextureWrap) error

	// TexImage2D uploads img to the bound texture. Row 0 of img is t=0.
	TexImage2D(img *image.RGBA) error
	DeleteTexture(id TextureID) error

	Viewport(x, y, width, height int) error
	ClearColor(r, g, b, a float32) error
	Clear() error
	DrawArrays(mode DrawMode, first, count int) error
}
