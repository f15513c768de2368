package ports

import (
	"image"
	"time"

	"github.com/user/detectshow/pkg/pipeline"
)

// NoBuffer is returned by DequeueInputBuffer when no input buffer is free.
const NoBuffer = -1

// OutputStatus classifies the result of a DequeueOutputBuffer call.
type OutputStatus int

const (
	// OutputTryAgainLater means no output was ready within the timeout.
	OutputTryAgainLater OutputStatus = iota
	// OutputFormatChanged means the codec reported its final output format.
	OutputFormatChanged
	// OutputBufferReady means Index refers to a filled output buffer.
	OutputBufferReady
)

// String returns the name of the status.
func (s OutputStatus) String() string {
	switch s {
	case OutputTryAgainLater:
		return "try-again-later"
	case OutputFormatChanged:
		return "format-changed"
	case OutputBufferReady:
		return "buffer-ready"
	default:
		return "unknown"
	}
}

// OutputEvent is the result of one DequeueOutputBuffer call.
type OutputEvent struct {
	Status OutputStatus
	Index  int
	Info   pipeline.BufferInfo

	// Format is set for OutputFormatChanged.
	Format pipeline.TrackFormat
}

// Codec is the buffer-queue protocol shared by decoders and encoders.
// Implementations are driven from a single goroutine.
type Codec interface {
	// Start moves a configured codec into the executing state.
	Start() error

	// DequeueOutputBuffer waits at most timeout for the next output event.
	DequeueOutputBuffer(timeout time.Duration) (OutputEvent, error)

	// ReleaseOutputBuffer returns an output buffer to the codec.
	ReleaseOutputBuffer(index int) error

	// Flush discards all queued input and pending output.
	Flush() error

	// Stop halts processing. The codec may be released afterwards.
	Stop() error

	// Release frees all codec resources.
	Release() error
}

// DecoderCodec decodes compressed access units into planar frames.
type DecoderCodec interface {
	Codec

	// Configure prepares the decoder for the given track.
	Configure(format pipeline.TrackFormat) error

	// DequeueInputBuffer returns the index of a free input buffer or NoBuffer.
	DequeueInputBuffer(timeout time.Duration) (int, error)

	// QueueInputBuffer submits one access unit. A nil data slice with
	// FlagEndOfStream signals end of input.
	QueueInputBuffer(index int, data []byte, presentationUs int64, flags pipeline.BufferFlags) error

	// OutputFrame returns a view of a ready output buffer. Releasing the
	// frame releases the output buffer.
	OutputFrame(index int) (*pipeline.DecodedFrame, error)
}

// EncoderCodec encodes frames presented on its input surface.
type EncoderCodec interface {
	Codec

	// Configure prepares the encoder for surface input.
	Configure(format pipeline.EncoderFormat) error

	// CreateInputSurface returns the surface frames are presented on.
	// It must be called after Configure and before Start.
	CreateInputSurface() (InputSurface, error)

	// SignalEndOfInputStream marks the end of surface input.
	SignalEndOfInputStream() error

	// OutputBuffer returns the bytes of a ready output buffer.
	OutputBuffer(index int) ([]byte, error)
}

// InputSurface receives rendered frames on behalf of an encoder.
type InputSurface interface {
	Width() int
	Height() int

	// QueueFrame enqueues one rendered frame for encoding.
	QueueFrame(img *image.RGBA, presentationNs int64) error

	// Release frees the surface handle.
	Release() error
}

// CodecFactory creates codecs by MIME type.
type CodecFactory interface {
	// NewDecoder returns a decoder for mime or an error wrapping
	// pipeline.ErrUnsupportedCodec.
	NewDecoder(mime string) (DecoderCodec, error)

	// NewEncoder returns an encoder for mime or an error wrapping
	// pipeline.ErrUnsupportedCodec.
	NewEncoder(mime string) (EncoderCodec, error)
}
