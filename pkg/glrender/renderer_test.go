package glrender

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/user/detectshow/pkg/adapters/softgl"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

type captureSurface struct {
	w, h   int
	frames []*image.RGBA
	pts    []int64
}

func (s *captureSurface) Width() int     { return s.w }
func (s *captureSurface) Height() int    { return s.h }
func (s *captureSurface) Release() error { return nil }
func (s *captureSurface) QueueFrame(img *image.RGBA, ns int64) error {
	s.frames = append(s.frames, img)
	s.pts = append(s.pts, ns)
	return nil
}

func newCurrent(t *testing.T, w, h int) (*softgl.Display, ports.Surface, *softgl.GL, *captureSurface) {
	t.Helper()
	target := &captureSurface{w: w, h: h}
	d := softgl.New()
	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	ctx, err := d.CreateContext()
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	s, err := d.CreateWindowSurface(target)
	if err != nil {
		t.Fatalf("CreateWindowSurface failed: %v", err)
	}
	if err := d.MakeCurrent(s, ctx); err != nil {
		t.Fatalf("MakeCurrent failed: %v", err)
	}
	return d, s, ctx.GL().(*softgl.GL), target
}

func pattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	return img
}

func TestDraw_CopiesFrameUpright(t *testing.T) {
	d, s, gl, target := newCurrent(t, 8, 6)

	r, err := New(gl)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer r.Release()

	src := pattern(8, 6)
	if err := r.Draw(src); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := d.SetPresentationTime(s, 33_000_000); err != nil {
		t.Fatalf("SetPresentationTime failed: %v", err)
	}
	if err := d.SwapBuffers(s); err != nil {
		t.Fatalf("SwapBuffers failed: %v", err)
	}

	if len(target.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(target.frames))
	}
	if target.pts[0] != 33_000_000 {
		t.Errorf("expected pts 33000000, got %d", target.pts[0])
	}
	got := target.frames[0]
	for _, p := range []image.Point{{0, 0}, {7, 0}, {0, 5}, {4, 3}} {
		want := src.RGBAAt(p.X, p.Y)
		if c := got.RGBAAt(p.X, p.Y); c != want {
			t.Errorf("pixel %v: expected %v, got %v", p, want, c)
		}
	}
}

func TestDraw_DeletesTexture(t *testing.T) {
	_, _, gl, _ := newCurrent(t, 4, 4)

	r, err := New(gl)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Draw(pattern(4, 4)); err != nil {
			t.Fatalf("Draw %d failed: %v", i, err)
		}
	}
	if n := gl.TextureCount(); n != 0 {
		t.Errorf("expected no live textures, got %d", n)
	}
}

func TestDraw_LostContext(t *testing.T) {
	d, _, gl, _ := newCurrent(t, 4, 4)

	r, err := New(gl)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.Lose()

	if err := r.Draw(pattern(4, 4)); !errors.Is(err, pipeline.ErrLostContext) {
		t.Errorf("expected ErrLostContext, got %v", err)
	}
}

// failingGL fails one stage of program construction.
type failingGL struct {
	ports.GraphicsContext
	compileErr error
	linkErr    error
}

func (f *failingGL) CompileShader(ports.ShaderType, string) (ports.ShaderID, error) {
	if f.compileErr != nil {
		return 0, f.compileErr
	}
	return 1, nil
}

func (f *failingGL) DeleteShader(ports.ShaderID) error { return nil }

func (f *failingGL) LinkProgram(ports.ShaderID, ports.ShaderID) (ports.ProgramID, error) {
	return 0, f.linkErr
}

func TestNew_Failures(t *testing.T) {
	tests := []struct {
		name string
		gl   *failingGL
		want error
	}{
		{"compile", &failingGL{compileErr: errors.New("syntax error")}, pipeline.ErrShaderCompile},
		{"link", &failingGL{linkErr: errors.New("varying mismatch")}, pipeline.ErrShaderLink},
		{"lost during compile", &failingGL{compileErr: pipeline.ErrLostContext}, pipeline.ErrLostContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.gl)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRelease_Idempotent(t *testing.T) {
	_, _, gl, _ := newCurrent(t, 4, 4)
	r, err := New(gl)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := r.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := r.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}
