package pipeline

import (
	"image"
	"strings"
	"sync/atomic"
)

// =============================================================================
// Detection Types
// =============================================================================

// Rect is an axis-aligned rectangle in source-frame pixel coordinates.
type Rect struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

// Scale multiplies horizontal coordinates by sx and vertical ones by sy.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{Left: r.Left * sx, Top: r.Top * sy, Right: r.Right * sx, Bottom: r.Bottom * sy}
}

// Clamp limits the rectangle to [0,width]x[0,height].
func (r Rect) Clamp(width, height float64) Rect {
	return Rect{
		Left:   clampFloat(r.Left, 0, width),
		Top:    clampFloat(r.Top, 0, height),
		Right:  clampFloat(r.Right, 0, width),
		Bottom: clampFloat(r.Bottom, 0, height),
	}
}

// Detection is one object reported by the detection collaborator.
// It is read-only to the pipeline and lives for one annotation pass.
type Detection struct {
	Rect       Rect    `json:"rect" yaml:"rect"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Label      string  `json:"label" yaml:"label"`
}

// =============================================================================
// Media Types
// =============================================================================

// TrackFormat describes one elementary stream of a container.
type TrackFormat struct {
	TrackID    uint32
	MIME       string // e.g. "video/avc"
	Width      int
	Height     int
	DurationUs int64
	FrameRate  float64
	Timescale  uint32
	BitRate    int

	// CSD holds codec specific data (SPS then PPS for AVC).
	CSD [][]byte
}

// IsVideo reports whether the track carries video.
func (f TrackFormat) IsVideo() bool {
	return strings.HasPrefix(f.MIME, "video/")
}

// DurationMs returns the track duration in milliseconds.
func (f TrackFormat) DurationMs() int64 {
	return f.DurationUs / 1000
}

// AspectRatio returns width divided by height, or 0 for an empty track.
func (f TrackFormat) AspectRatio() float64 {
	if f.Height == 0 {
		return 0
	}
	return float64(f.Width) / float64(f.Height)
}

// AccessUnit is one compressed sample read from a demuxer.
type AccessUnit struct {
	Data           []byte
	PresentationUs int64
	KeyFrame       bool
}

// BufferFlags mark properties of a codec buffer.
type BufferFlags uint32

const (
	// FlagKeyFrame marks a sync sample.
	FlagKeyFrame BufferFlags = 1 << iota
	// FlagCodecConfig marks a buffer holding only codec configuration.
	FlagCodecConfig
	// FlagEndOfStream marks the last buffer a codec will produce.
	FlagEndOfStream
)

// Has reports whether all bits of flag are set.
func (f BufferFlags) Has(flag BufferFlags) bool {
	return f&flag == flag
}

// BufferInfo describes the valid region and timing of a codec output buffer.
type BufferInfo struct {
	Offset         int
	Size           int
	PresentationUs int64
	Flags          BufferFlags
}

// EncoderFormat configures a surface-input video encoder.
type EncoderFormat struct {
	MIME              string
	Width             int
	Height            int
	FrameRate         float64
	BitRate           int // bits per second
	IFrameIntervalSec int
}

// PixelFormat identifies the memory layout of a decoded frame.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatYUV420 is planar or semi-planar 4:2:0 with three plane descriptors.
	PixelFormatYUV420
	PixelFormatRGBA
)

// String returns the name of the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatYUV420:
		return "yuv420"
	case PixelFormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// Plane is one image plane. Chroma planes of semi-planar frames share
// memory and use PixelStride 2.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// DecodedFrame is an uncompressed frame owned by a decoder buffer pool.
// Release must be called exactly once when the frame is no longer needed.
type DecodedFrame struct {
	Width          int
	Height         int
	Format         PixelFormat
	Planes         []Plane
	PresentationUs int64

	release  func() error
	released atomic.Bool
}

// NewDecodedFrame creates a frame whose Release invokes release.
func NewDecodedFrame(width, height int, format PixelFormat, planes []Plane, presentationUs int64, release func() error) *DecodedFrame {
	return &DecodedFrame{
		Width:          width,
		Height:         height,
		Format:         format,
		Planes:         planes,
		PresentationUs: presentationUs,
		release:        release,
	}
}

// Release returns the frame to its pool. A second call returns
// ErrAlreadyReleased and has no effect.
func (f *DecodedFrame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	if f.release != nil {
		return f.release()
	}
	return nil
}

// Released reports whether Release has been called.
func (f *DecodedFrame) Released() bool {
	return f.released.Load()
}

// =============================================================================
// Stage Types
// =============================================================================

// ConvertInput contains the frame to convert to RGB.
type ConvertInput struct {
	Frame *DecodedFrame

	// Reuse is an optional destination buffer of matching size.
	Reuse *image.RGBA
}

// ConvertResult contains the converted frame.
type ConvertResult struct {
	Image *image.RGBA
}

// DetectInput contains one converted frame to run detection on.
type DetectInput struct {
	Image          image.Image
	Index          int
	PresentationUs int64
}

// DetectResult contains the detections in source-frame pixels.
type DetectResult struct {
	Detections []Detection
}

// AnnotateInput contains a frame and the detections to draw on it.
type AnnotateInput struct {
	Image      *image.RGBA
	Detections []Detection
}

// AnnotateResult contains the annotated frame.
type AnnotateResult struct {
	Image *image.RGBA
}

// =============================================================================
// Output Types
// =============================================================================

// OutputMode selects how annotated samples are persisted.
type OutputMode int

const (
	// OutputVideo re-encodes annotated samples into an MP4 file.
	OutputVideo OutputMode = iota
	// OutputFrames writes annotated samples as a JPEG sequence.
	OutputFrames
)

// String returns the name of the output mode.
func (m OutputMode) String() string {
	switch m {
	case OutputVideo:
		return "video"
	case OutputFrames:
		return "frames"
	default:
		return "unknown"
	}
}

// ParseOutputMode parses a string into an OutputMode.
func ParseOutputMode(s string) OutputMode {
	if s == "frames" {
		return OutputFrames
	}
	return OutputVideo
}

// AnnotatedFrame is one processed sample handed to an output.
type AnnotatedFrame struct {
	Index          int
	PresentationUs int64
	Image          *image.RGBA
	Detections     []Detection
}

// FrameRecord references one persisted frame of a frame sequence.
type FrameRecord struct {
	Path           string      `json:"path"`
	PresentationUs int64       `json:"presentation_us"`
	Detections     []Detection `json:"detections"`
}

// Artifact describes what an output produced.
type Artifact struct {
	Mode OutputMode

	// OutputVideo
	VideoPath string
	FileSize  int64

	// OutputFrames
	FrameDir string
	Frames   []FrameRecord
	// FrameDirOwned is set when the run created FrameDir, so discarding
	// may remove the directory itself and not just the frames.
	FrameDirOwned bool
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
