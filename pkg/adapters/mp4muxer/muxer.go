// Package mp4muxer writes a single H.264 track into a fragmented MP4 file.
package mp4muxer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/detectshow/pkg/adapters/codecdetect"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Timescale of the written video track.
const Timescale = 90000

var (
	// ErrTrackExists is returned when a second track is added.
	ErrTrackExists = errors.New("mp4muxer: only one track is supported")

	// ErrAlreadyStarted is returned when AddTrack is called after Start.
	ErrAlreadyStarted = errors.New("mp4muxer: muxer already started")

	// ErrNoTrack is returned when Start is called before AddTrack.
	ErrNoTrack = errors.New("mp4muxer: no track added")

	// ErrNoSamples is returned when Stop finds nothing to write.
	ErrNoSamples = errors.New("mp4muxer: no samples to write")

	// ErrReleased is returned for calls after Release.
	ErrReleased = errors.New("mp4muxer: muxer released")
)

type sample struct {
	data  []byte // Annex B
	ptsUs int64
	key   bool
}

// Muxer implements ports.Muxer. The container is assembled in memory and
// written to path by Stop.
type Muxer struct {
	fs   ports.FileSystem
	path string

	format   pipeline.TrackFormat
	hasTrack bool
	started  bool
	stopped  bool
	released bool

	sps, pps []byte
	samples  []sample
}

// New creates a muxer writing to path through fs.
func New(fs ports.FileSystem, path string) *Muxer {
	return &Muxer{fs: fs, path: path}
}

// Path returns the output path.
func (m *Muxer) Path() string { return m.path }

// AddTrack registers the video track. Only video/avc is supported.
func (m *Muxer) AddTrack(format pipeline.TrackFormat) (int, error) {
	switch {
	case m.released:
		return -1, ErrReleased
	case m.started:
		return -1, ErrAlreadyStarted
	case m.hasTrack:
		return -1, ErrTrackExists
	case format.MIME != codecdetect.MIMEAVC:
		return -1, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedCodec, format.MIME)
	}

	m.format = format
	m.hasTrack = true
	for _, csd := range format.CSD {
		m.collectParameterSets(csd)
	}
	return 0, nil
}

// Start begins accepting samples.
func (m *Muxer) Start() error {
	switch {
	case m.released:
		return ErrReleased
	case !m.hasTrack:
		return ErrNoTrack
	case m.started:
		return ErrAlreadyStarted
	}
	m.started = true
	return nil
}

// WriteSampleData buffers one Annex B access unit.
func (m *Muxer) WriteSampleData(track int, data []byte, info pipeline.BufferInfo) error {
	if m.released {
		return ErrReleased
	}
	if !m.started || m.stopped {
		return pipeline.ErrMuxerNotStarted
	}
	if track != 0 {
		return fmt.Errorf("mp4muxer: unknown track %d", track)
	}
	if info.Offset < 0 || info.Size < 0 || info.Offset+info.Size > len(data) {
		return fmt.Errorf("mp4muxer: sample range %d+%d exceeds buffer of %d", info.Offset, info.Size, len(data))
	}

	au := append([]byte(nil), data[info.Offset:info.Offset+info.Size]...)
	key := info.Flags.Has(pipeline.FlagKeyFrame)
	for _, nalu := range avc.ExtractNalusFromByteStream(au) {
		if len(nalu) > 0 && avc.GetNaluType(nalu[0]) == avc.NALU_IDR {
			key = true
		}
	}
	m.collectParameterSets(au)
	if info.Flags.Has(pipeline.FlagCodecConfig) {
		return nil
	}

	m.samples = append(m.samples, sample{data: au, ptsUs: info.PresentationUs, key: key})
	return nil
}

// Stop assembles the file and writes it.
func (m *Muxer) Stop() error {
	if m.released {
		return ErrReleased
	}
	if !m.started {
		return pipeline.ErrMuxerNotStarted
	}
	if m.stopped {
		return nil
	}
	m.stopped = true

	data, err := m.build()
	if err != nil {
		return err
	}
	if err := m.fs.WriteFile(m.path, data); err != nil {
		return fmt.Errorf("write %s: %w", m.path, err)
	}
	return nil
}

// Release drops buffered samples. Nothing is written unless Stop ran.
func (m *Muxer) Release() error {
	m.released = true
	m.samples = nil
	return nil
}

// collectParameterSets keeps the first SPS and PPS found in an Annex B
// buffer or a bare NAL unit.
func (m *Muxer) collectParameterSets(buf []byte) {
	nalus := avc.ExtractNalusFromByteStream(buf)
	if len(nalus) == 0 && len(buf) > 0 {
		nalus = [][]byte{buf}
	}
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			if m.sps == nil {
				m.sps = append([]byte(nil), nalu...)
			}
		case avc.NALU_PPS:
			if m.pps == nil {
				m.pps = append([]byte(nil), nalu...)
			}
		}
	}
}

func (m *Muxer) build() ([]byte, error) {
	if len(m.samples) == 0 {
		return nil, ErrNoSamples
	}
	if m.sps == nil || m.pps == nil {
		return nil, fmt.Errorf("mp4muxer: parameter sets not found")
	}

	width, height := m.format.Width, m.format.Height
	if width == 0 || height == 0 {
		sps, err := avc.ParseSPSNALUnit(m.sps, false)
		if err != nil {
			return nil, fmt.Errorf("parse SPS: %w", err)
		}
		width, height = int(sps.Width), int(sps.Height)
	}
	fps := m.format.FrameRate
	if fps <= 0 {
		fps = 30
	}
	defaultDur := uint32(float64(Timescale) / fps)

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(Timescale, "video", "und")
	trak := init.Moov.Trak

	avcC, err := mp4.CreateAvcC([][]byte{m.sps}, [][]byte{m.pps}, true)
	if err != nil {
		return nil, fmt.Errorf("create avcC: %w", err)
	}
	avc1 := mp4.CreateVisualSampleEntryBox("avc1", uint16(width), uint16(height), avcC)
	trak.Mdia.Minf.Stbl.Stsd.AddChild(avc1)
	trak.Tkhd.Width = mp4.Fixed32(width << 16)
	trak.Tkhd.Height = mp4.Fixed32(height << 16)

	frag, err := mp4.CreateFragment(1, trak.Tkhd.TrackID)
	if err != nil {
		return nil, fmt.Errorf("create fragment: %w", err)
	}

	base := m.samples[0].ptsUs
	for i, s := range m.samples {
		dur := defaultDur
		if i < len(m.samples)-1 {
			if d := toTimescale(m.samples[i+1].ptsUs - s.ptsUs); d > 0 {
				dur = uint32(d)
			}
		}

		flags := mp4.NonSyncSampleFlags
		if s.key {
			flags = mp4.SyncSampleFlags
		}

		data := annexBToAVCC(s.data)
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags: flags,
				Size:  uint32(len(data)),
				Dur:   dur,
			},
			DecodeTime: uint64(toTimescale(s.ptsUs - base)),
			Data:       data,
		})
	}

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "avc1", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode moov: %w", err)
	}
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode fragment: %w", err)
	}
	return buf.Bytes(), nil
}

func toTimescale(us int64) int64 {
	return us * Timescale / 1_000_000
}

// annexBToAVCC converts start-code framing to 4-byte length prefixes.
// Parameter sets and access unit delimiters are dropped; they live in avcC.
func annexBToAVCC(data []byte) []byte {
	nalus := avc.ExtractNalusFromByteStream(data)
	if len(nalus) == 0 {
		return data
	}

	out := make([]byte, 0, len(data)+4*len(nalus))
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS, avc.NALU_PPS, avc.NALU_AUD:
			continue
		}
		n := len(nalu)
		out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		out = append(out, nalu...)
	}
	return out
}

var _ ports.Muxer = (*Muxer)(nil)
