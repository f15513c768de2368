// Package glrender draws RGB frames as a full-viewport textured quad into
// the current rendering surface.
package glrender

import (
	"errors"
	"fmt"
	"image"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

const vertexShaderSource = `attribute vec4 aPosition;
attribute vec2 aTexCoord;
varying vec2 vTexCoord;
void main() {
    gl_Position = aPosition;
    vTexCoord = aTexCoord;
}
`

const fragmentShaderSource = `precision mediump float;
varying vec2 vTexCoord;
uniform sampler2D uTexture;
void main() {
    gl_FragColor = texture2D(uTexture, vTexCoord);
}
`

// Unit quad as a triangle strip. Texture row 0 is the top of the bitmap,
// so t runs from 1 at the bottom edge to 0 at the top edge.
var (
	quadVertices  = []float32{-1, -1, 1, -1, -1, 1, 1, 1}
	quadTexCoords = []float32{0, 1, 1, 1, 0, 0, 1, 0}
)

// FrameRenderer owns the static shader program used to draw frames.
type FrameRenderer struct {
	gl        ports.GraphicsContext
	program   ports.ProgramID
	aPosition int
	aTexCoord int
	uTexture  int
}

// New compiles and links the frame shaders on gl, which must be current.
// Failures wrap pipeline.ErrShaderCompile or pipeline.ErrShaderLink.
func New(gl ports.GraphicsContext) (*FrameRenderer, error) {
	vs, err := compile(gl, ports.VertexShader, vertexShaderSource)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(vs)

	fs, err := compile(gl, ports.FragmentShader, fragmentShaderSource)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(fs)

	program, err := gl.LinkProgram(vs, fs)
	if err != nil {
		if !errors.Is(err, pipeline.ErrShaderLink) && !errors.Is(err, pipeline.ErrLostContext) {
			err = fmt.Errorf("%w: %v", pipeline.ErrShaderLink, err)
		}
		return nil, err
	}

	r := &FrameRenderer{gl: gl, program: program}
	if r.aPosition, err = attrib(gl, program, "aPosition"); err != nil {
		gl.DeleteProgram(program)
		return nil, err
	}
	if r.aTexCoord, err = attrib(gl, program, "aTexCoord"); err != nil {
		gl.DeleteProgram(program)
		return nil, err
	}
	if r.uTexture, err = gl.UniformLocation(program, "uTexture"); err != nil {
		gl.DeleteProgram(program)
		return nil, err
	}
	if r.uTexture < 0 {
		gl.DeleteProgram(program)
		return nil, fmt.Errorf("%w: uniform uTexture not active", pipeline.ErrShaderLink)
	}

	return r, nil
}

// Draw uploads img into a fresh texture, draws it over the whole viewport
// and deletes the texture. The result is left in the back buffer.
func (r *FrameRenderer) Draw(img *image.RGBA) error {
	gl := r.gl

	tex, err := gl.GenTexture()
	if err != nil {
		return fmt.Errorf("gen texture: %w", err)
	}

	steps := []func() error{
		func() error { return gl.BindTexture(tex) },
		func() error { return gl.TexParameters(ports.FilterLinear, ports.WrapClampToEdge) },
		func() error { return gl.TexImage2D(img) },
		func() error { return gl.UseProgram(r.program) },
		func() error { return gl.VertexAttribPointer(r.aPosition, 2, quadVertices) },
		func() error { return gl.EnableVertexAttribArray(r.aPosition) },
		func() error { return gl.VertexAttribPointer(r.aTexCoord, 2, quadTexCoords) },
		func() error { return gl.EnableVertexAttribArray(r.aTexCoord) },
		func() error { return gl.Uniform1i(r.uTexture, 0) },
		func() error { return gl.DrawArrays(ports.TriangleStrip, 0, 4) },
		func() error { return gl.DisableVertexAttribArray(r.aPosition) },
		func() error { return gl.DisableVertexAttribArray(r.aTexCoord) },
	}
	for _, step := range steps {
		if err = step(); err != nil {
			break
		}
	}

	if delErr := gl.DeleteTexture(tex); err == nil {
		err = delErr
	}
	if err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	return nil
}

// Release deletes the shader program.
func (r *FrameRenderer) Release() error {
	if r.program == 0 {
		return nil
	}
	err := r.gl.DeleteProgram(r.program)
	r.program = 0
	return err
}

func compile(gl ports.GraphicsContext, kind ports.ShaderType, source string) (ports.ShaderID, error) {
	id, err := gl.CompileShader(kind, source)
	if err != nil {
		if !errors.Is(err, pipeline.ErrShaderCompile) && !errors.Is(err, pipeline.ErrLostContext) {
			err = fmt.Errorf("%w: %v", pipeline.ErrShaderCompile, err)
		}
		return 0, err
	}
	return id, nil
}

func attrib(gl ports.GraphicsContext, program ports.ProgramID, name string) (int, error) {
	loc, err := gl.AttribLocation(program, name)
	if err != nil {
		return -1, err
	}
	if loc < 0 {
		return -1, fmt.Errorf("%w: attribute %s not active", pipeline.ErrShaderLink, name)
	}
	return loc, nil
}
