package softgl

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/user/detectshow/pkg/ports"
)

const affineEpsilon = 1e-3

// rasterize draws the strip described by clip-space positions pos and
// texture coordinates tc. The strip must form a parallelogram, which is
// mapped from texture space to window space with a single affine
// transform.
func rasterize(dst *image.RGBA, viewport image.Rectangle, pos, tc [][2]float64, t *texture) error {
	tw := float64(t.img.Rect.Dx())
	th := float64(t.img.Rect.Dy())
	surfaceH := float64(dst.Rect.Dy())

	src := make([][2]float64, len(tc))
	win := make([][2]float64, len(pos))
	for i := range pos {
		src[i] = [2]float64{tc[i][0] * tw, tc[i][1] * th}
		// GL window coordinates grow upward; image rows grow downward.
		wx := float64(viewport.Min.X) + (pos[i][0]+1)/2*float64(viewport.Dx())
		wy := float64(viewport.Min.Y) + (pos[i][1]+1)/2*float64(viewport.Dy())
		win[i] = [2]float64{wx, surfaceH - wy}
	}

	aff, ok := solveAffine(src[:3], win[:3])
	if !ok {
		return fmt.Errorf("%w: degenerate texture coordinates", ErrUnsupportedPrimitive)
	}
	for i := 3; i < len(src); i++ {
		x := aff[0]*src[i][0] + aff[1]*src[i][1] + aff[2]
		y := aff[3]*src[i][0] + aff[4]*src[i][1] + aff[5]
		if math.Abs(x-win[i][0]) > affineEpsilon || math.Abs(y-win[i][1]) > affineEpsilon {
			return fmt.Errorf("%w: strip is not a parallelogram", ErrUnsupportedPrimitive)
		}
	}

	var interp xdraw.Interpolator = xdraw.BiLinear
	if t.filter == ports.FilterNearest {
		interp = xdraw.NearestNeighbor
	}
	interp.Transform(dst, aff, t.img, t.img.Bounds(), xdraw.Src, nil)
	return nil
}

// solveAffine returns the transform mapping the three src points onto dst.
func solveAffine(src, dst [][2]float64) (f64.Aff3, bool) {
	s1x, s1y := src[1][0]-src[0][0], src[1][1]-src[0][1]
	s2x, s2y := src[2][0]-src[0][0], src[2][1]-src[0][1]
	d1x, d1y := dst[1][0]-dst[0][0], dst[1][1]-dst[0][1]
	d2x, d2y := dst[2][0]-dst[0][0], dst[2][1]-dst[0][1]

	det := s1x*s2y - s2x*s1y
	if math.Abs(det) < 1e-12 {
		return f64.Aff3{}, false
	}

	a := (d1x*s2y - d2x*s1y) / det
	b := (d2x*s1x - d1x*s2x) / det
	d := (d1y*s2y - d2y*s1y) / det
	e := (d2y*s1x - d1y*s2x) / det
	c := dst[0][0] - a*src[0][0] - b*src[0][1]
	f := dst[0][1] - d*src[0][0] - e*src[0][1]

	return f64.Aff3{a, b, c, d, e, f}, true
}
