// Package codecdetect maps MP4 sample entries to codec MIME types.
package codecdetect

import (
	"bytes"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/detectshow/pkg/ports"
)

// Codec MIME types as reported in pipeline.TrackFormat.
const (
	MIMEAVC  = "video/avc"
	MIMEHEVC = "video/hevc"
	MIMEAV1  = "video/av01"
	MIMEVP9  = "video/x-vnd.on2.vp9"
	MIMEAAC  = "audio/mp4a-latm"
	MIMEOpus = "audio/opus"

	// MIMEUnknown is used for tracks whose sample entry is not recognized.
	MIMEUnknown = "application/octet-stream"
)

// MIMEForSampleEntry returns the MIME type of a sample entry type.
func MIMEForSampleEntry(entryType string) string {
	switch entryType {
	case "avc1", "avc3":
		return MIMEAVC
	case "hvc1", "hev1":
		return MIMEHEVC
	case "av01":
		return MIMEAV1
	case "vp09":
		return MIMEVP9
	case "mp4a":
		return MIMEAAC
	case "Opus":
		return MIMEOpus
	default:
		return MIMEUnknown
	}
}

// MIMEForTrack returns the MIME type of the first sample entry of trak.
// Tracks without a known handler map to MIMEUnknown.
func MIMEForTrack(trak *mp4.TrakBox) string {
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
		return MIMEUnknown
	}
	switch trak.Mdia.Hdlr.HandlerType {
	case "vide", "soun":
	default:
		return MIMEUnknown
	}
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return MIMEUnknown
	}

	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		if mime := MIMEForSampleEntry(child.Type()); mime != MIMEUnknown {
			return mime
		}
	}
	return MIMEUnknown
}

// Traks returns the track boxes of a progressive or fragmented file.
func Traks(f *mp4.File) []*mp4.TrakBox {
	if f.IsFragmented() && f.Init != nil && f.Init.Moov != nil {
		return f.Init.Moov.Traks
	}
	if f.Moov != nil {
		return f.Moov.Traks
	}
	return nil
}

// DetectFromReader returns the MIME type of the first video track.
func DetectFromReader(reader io.ReadSeeker) (string, error) {
	mp4File, err := mp4.DecodeFile(reader)
	if err != nil {
		return MIMEUnknown, fmt.Errorf("decode mp4: %w", err)
	}

	// Reset reader position for subsequent reads
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return MIMEUnknown, fmt.Errorf("seek: %w", err)
	}

	for _, trak := range Traks(mp4File) {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if mime := MIMEForTrack(trak); mime != MIMEUnknown {
			return mime, nil
		}
	}
	return MIMEUnknown, fmt.Errorf("no video track found")
}

// DetectFromBytes detects the video codec from MP4 data bytes.
func DetectFromBytes(data []byte) (string, error) {
	return DetectFromReader(bytes.NewReader(data))
}

// DetectFromFile detects the video codec of the file at path.
func DetectFromFile(fs ports.FileSystem, path string) (string, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return MIMEUnknown, fmt.Errorf("read %s: %w", path, err)
	}
	return DetectFromBytes(data)
}
