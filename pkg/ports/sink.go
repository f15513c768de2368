package ports

import (
	"image"
)

// DebugSink abstracts debug output for intermediate results.
// It allows saving what each sample looked like before and after annotation.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveTrackJSON saves the selected track format as JSON.
	SaveTrackJSON(data []byte) error

	// SaveConvertedFrame saves a sample right after color conversion.
	SaveConvertedFrame(index int, img image.Image) error

	// SaveAnnotatedFrame saves a sample after annotation.
	SaveAnnotatedFrame(index int, img image.Image) error

	// SaveDetectionsJSON saves all detections of the run as JSON.
	SaveDetectionsJSON(data []byte) error
}
