package pipeline

import "errors"

// Error kinds shared by every component of a run. Adapters wrap these with
// fmt.Errorf("...: %w", err) so callers can match with errors.Is.
var (
	// ErrNoVideoTrack is returned when the source has no video track.
	ErrNoVideoTrack = errors.New("no video track")

	// ErrUnsupportedCodec is returned when no decoder or encoder exists for a codec.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrCorruptStream is returned on demultiplexer read errors.
	ErrCorruptStream = errors.New("corrupt stream")

	// ErrInvalidFormat is returned when a decoded frame is not planar YUV 4:2:0.
	ErrInvalidFormat = errors.New("invalid frame format")

	// ErrShaderCompile is returned when a shader fails to compile.
	ErrShaderCompile = errors.New("shader compile error")

	// ErrShaderLink is returned when a shader program fails to link.
	ErrShaderLink = errors.New("shader link error")

	// ErrMuxerNotStarted is returned when a sample is written before the muxer started.
	ErrMuxerNotStarted = errors.New("muxer not started")

	// ErrLostContext is returned when the rendering context is lost.
	ErrLostContext = errors.New("lost graphics context")

	// ErrInvalidVideoProperties is returned for sources with zero duration or dimensions.
	ErrInvalidVideoProperties = errors.New("invalid video properties (duration or dimensions are zero)")

	// ErrAlreadyReleased is returned when a decoded frame is released twice.
	ErrAlreadyReleased = errors.New("frame already released")

	// ErrNoFramesProcessed is returned when every sample of a run was skipped.
	ErrNoFramesProcessed = errors.New("no frames were processed from the video")

	// ErrCanceled is reported when a run is canceled by its caller.
	ErrCanceled = errors.New("processing canceled")
)
