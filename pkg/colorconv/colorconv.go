// Package colorconv converts decoded YUV 4:2:0 frames to packed RGBA using
// the BT.601 limited-range transform.
package colorconv

import (
	"fmt"
	"image"

	"github.com/user/detectshow/pkg/pipeline"
)

// ToRGBA converts frame into dst and returns it. dst is reused when its
// bounds match the frame and reallocated otherwise; pass nil to always
// allocate. Each plane is addressed through its own row and pixel stride,
// so padded rows and interleaved chroma are handled without copying.
func ToRGBA(frame *pipeline.DecodedFrame, dst *image.RGBA) (*image.RGBA, error) {
	if err := Validate(frame); err != nil {
		return nil, err
	}

	w, h := frame.Width, frame.Height
	if dst == nil || dst.Rect.Dx() != w || dst.Rect.Dy() != h {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	yp, up, vp := frame.Planes[0], frame.Planes[1], frame.Planes[2]
	yPix := pixelStride(yp)
	uPix := pixelStride(up)
	vPix := pixelStride(vp)

	for row := 0; row < h; row++ {
		yRow := yp.Data[row*yp.RowStride:]
		uRow := up.Data[(row/2)*up.RowStride:]
		vRow := vp.Data[(row/2)*vp.RowStride:]
		out := dst.Pix[row*dst.Stride : row*dst.Stride+w*4]

		for col := 0; col < w; col++ {
			uvCol := col / 2
			r, g, b := convert(
				int(yRow[col*yPix]),
				int(uRow[uvCol*uPix])-128,
				int(vRow[uvCol*vPix])-128,
			)
			i := col * 4
			out[i] = r
			out[i+1] = g
			out[i+2] = b
			out[i+3] = 0xff
		}
	}

	return dst, nil
}

// Pixel converts a single Y/U/V triple. U and V are the raw stored bytes.
func Pixel(y, u, v uint8) (r, g, b uint8) {
	return convert(int(y), int(u)-128, int(v)-128)
}

// Validate checks that frame is planar 4:2:0 and that every plane holds
// enough bytes for its declared strides.
func Validate(frame *pipeline.DecodedFrame) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", pipeline.ErrInvalidFormat)
	}
	if frame.Format != pipeline.PixelFormatYUV420 {
		return fmt.Errorf("%w: pixel format %s", pipeline.ErrInvalidFormat, frame.Format)
	}
	if len(frame.Planes) != 3 {
		return fmt.Errorf("%w: expected 3 planes, got %d", pipeline.ErrInvalidFormat, len(frame.Planes))
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", pipeline.ErrInvalidFormat, frame.Width, frame.Height)
	}

	cw, ch := (frame.Width+1)/2, (frame.Height+1)/2
	dims := [3][2]int{{frame.Width, frame.Height}, {cw, ch}, {cw, ch}}
	for i, p := range frame.Planes {
		w, h := dims[i][0], dims[i][1]
		ps := pixelStride(p)
		if p.RowStride < (w-1)*ps+1 {
			return fmt.Errorf("%w: plane %d row stride %d too small for width %d", pipeline.ErrInvalidFormat, i, p.RowStride, w)
		}
		need := (h-1)*p.RowStride + (w-1)*ps + 1
		if len(p.Data) < need {
			return fmt.Errorf("%w: plane %d has %d bytes, need %d", pipeline.ErrInvalidFormat, i, len(p.Data), need)
		}
	}
	return nil
}

// FromYCbCr wraps a 4:2:0 image.YCbCr as a DecodedFrame without copying.
// The returned frame has no pool; releasing it is a no-op.
func FromYCbCr(img *image.YCbCr, presentationUs int64) (*pipeline.DecodedFrame, error) {
	if img.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return nil, fmt.Errorf("%w: subsample ratio %s", pipeline.ErrInvalidFormat, img.SubsampleRatio)
	}
	b := img.Rect
	yOff := img.YOffset(b.Min.X, b.Min.Y)
	cOff := img.COffset(b.Min.X, b.Min.Y)
	planes := []pipeline.Plane{
		{Data: img.Y[yOff:], RowStride: img.YStride, PixelStride: 1},
		{Data: img.Cb[cOff:], RowStride: img.CStride, PixelStride: 1},
		{Data: img.Cr[cOff:], RowStride: img.CStride, PixelStride: 1},
	}
	return pipeline.NewDecodedFrame(b.Dx(), b.Dy(), pipeline.PixelFormatYUV420, planes, presentationUs, nil), nil
}

func convert(y, u, v int) (uint8, uint8, uint8) {
	c := y - 16
	r := (298*c + 409*v + 128) >> 8
	g := (298*c - 100*u - 208*v + 128) >> 8
	b := (298*c + 516*u + 128) >> 8
	return clamp(r), clamp(g), clamp(b)
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func pixelStride(p pipeline.Plane) int {
	if p.PixelStride < 1 {
		return 1
	}
	return p.PixelStride
}
