package ports

import (
	"github.com/user/detectshow/pkg/pipeline"
)

// Demuxer reads elementary stream samples from a container file.
type Demuxer interface {
	// Open parses the container at path.
	Open(path string) error

	// TrackCount returns the number of tracks in the container.
	TrackCount() int

	// TrackFormat returns the format of track i.
	TrackFormat(i int) (pipeline.TrackFormat, error)

	// SelectTrack chooses the track ReadSample reads from.
	SelectTrack(i int) error

	// ReadSample returns the next access unit in decode order, or io.EOF.
	ReadSample() (pipeline.AccessUnit, error)

	// SeekTo positions the reader at the last sync sample at or before us.
	SeekTo(us int64) error

	// Close releases the container.
	Close() error
}

// Muxer interleaves compressed samples into a container file.
type Muxer interface {
	// AddTrack registers a track and returns its index. Only valid before Start.
	AddTrack(format pipeline.TrackFormat) (int, error)

	// Start begins accepting samples.
	Start() error

	// WriteSampleData writes data[info.Offset:info.Offset+info.Size].
	// Calling it before Start fails with pipeline.ErrMuxerNotStarted.
	WriteSampleData(track int, data []byte, info pipeline.BufferInfo) error

	// Stop finalizes and writes the container.
	Stop() error

	// Release frees muxer resources. Samples of a muxer that was never
	// stopped are discarded.
	Release() error
}
