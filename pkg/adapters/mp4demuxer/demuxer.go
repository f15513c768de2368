// Package mp4demuxer reads elementary stream samples from progressive and
// fragmented MP4 files.
package mp4demuxer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/detectshow/pkg/adapters/codecdetect"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

var (
	// ErrNotOpen is returned for calls before Open or after Close.
	ErrNotOpen = errors.New("mp4demuxer: not open")

	// ErrNoTrackSelected is returned by ReadSample before SelectTrack.
	ErrNoTrackSelected = errors.New("mp4demuxer: no track selected")
)

// sample_is_non_sync_sample bit of ISO/IEC 14496-12 sample flags.
const nonSyncSampleFlag = 1 << 16

type sampleRef struct {
	data   []byte // set for fragmented files
	offset uint64 // progressive files: offset into the file
	size   uint32

	ptsUs int64
	key   bool
}

type track struct {
	format  pipeline.TrackFormat
	samples []sampleRef

	// Annex B parameter sets prepended to key frames.
	paramSets []byte
	avcc      bool
}

// Demuxer implements ports.Demuxer. The whole file is loaded through a
// ports.FileSystem and samples are sliced from memory.
type Demuxer struct {
	fs ports.FileSystem

	data     []byte
	tracks   []*track
	selected int
	pos      int
}

// New creates a demuxer reading through fs.
func New(fs ports.FileSystem) *Demuxer {
	return &Demuxer{fs: fs, selected: -1}
}

// Open parses the MP4 file at path and indexes the samples of every track.
func (d *Demuxer) Open(path string) error {
	data, err := d.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return d.OpenBytes(data)
}

// OpenBytes parses an in-memory MP4 file.
func (d *Demuxer) OpenBytes(data []byte) error {
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: decode mp4: %v", pipeline.ErrCorruptStream, err)
	}

	var tracks []*track
	if f.IsFragmented() {
		tracks, err = indexFragmented(f)
	} else {
		tracks, err = indexProgressive(f)
	}
	if err != nil {
		return err
	}

	d.data = data
	d.tracks = tracks
	d.selected = -1
	d.pos = 0
	return nil
}

// TrackCount returns the number of tracks.
func (d *Demuxer) TrackCount() int { return len(d.tracks) }

// TrackFormat returns the format of track i.
func (d *Demuxer) TrackFormat(i int) (pipeline.TrackFormat, error) {
	if d.data == nil {
		return pipeline.TrackFormat{}, ErrNotOpen
	}
	if i < 0 || i >= len(d.tracks) {
		return pipeline.TrackFormat{}, fmt.Errorf("mp4demuxer: track %d out of range", i)
	}
	return d.tracks[i].format, nil
}

// SelectTrack selects the track ReadSample reads from and rewinds it.
func (d *Demuxer) SelectTrack(i int) error {
	if d.data == nil {
		return ErrNotOpen
	}
	if i < 0 || i >= len(d.tracks) {
		return fmt.Errorf("mp4demuxer: track %d out of range", i)
	}
	d.selected = i
	d.pos = 0
	return nil
}

// ReadSample returns the next sample in decode order. Video samples are
// returned in Annex B framing with parameter sets before key frames.
func (d *Demuxer) ReadSample() (pipeline.AccessUnit, error) {
	if d.data == nil {
		return pipeline.AccessUnit{}, ErrNotOpen
	}
	if d.selected < 0 {
		return pipeline.AccessUnit{}, ErrNoTrackSelected
	}
	t := d.tracks[d.selected]
	if d.pos >= len(t.samples) {
		return pipeline.AccessUnit{}, io.EOF
	}
	s := t.samples[d.pos]

	raw := s.data
	if raw == nil {
		end := s.offset + uint64(s.size)
		if end > uint64(len(d.data)) {
			return pipeline.AccessUnit{}, fmt.Errorf("%w: sample %d ends at %d beyond file size %d", pipeline.ErrCorruptStream, d.pos+1, end, len(d.data))
		}
		raw = d.data[s.offset:end]
	}
	d.pos++

	payload := raw
	if t.avcc {
		payload = avccToAnnexB(raw)
		if s.key && len(t.paramSets) > 0 {
			payload = append(append([]byte(nil), t.paramSets...), payload...)
		}
	} else {
		payload = append([]byte(nil), raw...)
	}
	return pipeline.AccessUnit{Data: payload, PresentationUs: s.ptsUs, KeyFrame: s.key}, nil
}

// SeekTo positions the reader at the last key frame whose presentation
// time is at or before us. Seeking before the first key frame rewinds.
func (d *Demuxer) SeekTo(us int64) error {
	if d.data == nil {
		return ErrNotOpen
	}
	if d.selected < 0 {
		return ErrNoTrackSelected
	}
	target := 0
	for i, s := range d.tracks[d.selected].samples {
		if s.key && s.ptsUs <= us {
			target = i
		}
	}
	d.pos = target
	return nil
}

// Close drops the file contents.
func (d *Demuxer) Close() error {
	d.data = nil
	d.tracks = nil
	d.selected = -1
	return nil
}

func indexProgressive(f *mp4.File) ([]*track, error) {
	if f.Moov == nil {
		return nil, fmt.Errorf("%w: no moov box found", pipeline.ErrCorruptStream)
	}

	var tracks []*track
	for _, trak := range f.Moov.Traks {
		t := newTrack(trak)
		if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
			tracks = append(tracks, t)
			continue
		}
		stbl := trak.Mdia.Minf.Stbl
		if stbl.Stsz == nil || stbl.Stsc == nil || stbl.Stts == nil {
			return nil, fmt.Errorf("%w: track %d has an incomplete sample table", pipeline.ErrCorruptStream, trak.Tkhd.TrackID)
		}

		syncSamples := make(map[uint32]bool)
		if stbl.Stss != nil {
			for _, nr := range stbl.Stss.SampleNumber {
				syncSamples[nr] = true
			}
		}

		timescale := t.format.Timescale
		var totalDur uint64
		for nr := uint32(1); nr <= stbl.Stsz.SampleNumber; nr++ {
			offset, err := sampleOffset(stbl, nr)
			if err != nil {
				return nil, fmt.Errorf("%w: sample %d: %v", pipeline.ErrCorruptStream, nr, err)
			}
			dts, dur := stbl.Stts.GetDecodeTime(nr)
			pts := int64(dts)
			if stbl.Ctts != nil {
				pts += int64(stbl.Ctts.GetCompositionTimeOffset(nr))
			}
			totalDur += uint64(dur)

			t.samples = append(t.samples, sampleRef{
				offset: offset,
				size:   stbl.Stsz.GetSampleSize(int(nr)),
				ptsUs:  scaleToUs(pts, timescale),
				key:    stbl.Stss == nil || syncSamples[nr],
			})
		}
		t.finish(totalDur)
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// sampleOffset locates a sample through its chunk.
func sampleOffset(stbl *mp4.StblBox, sampleNr uint32) (uint64, error) {
	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(sampleNr))
	if err != nil {
		return 0, fmt.Errorf("get chunk nr: %w", err)
	}

	var offset uint64
	switch {
	case stbl.Stco != nil:
		offset, err = stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return 0, fmt.Errorf("get chunk offset: %w", err)
		}
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return 0, fmt.Errorf("chunk nr %d out of range", chunkNr)
		}
		offset = stbl.Co64.ChunkOffset[chunkNr-1]
	default:
		return 0, fmt.Errorf("no stco or co64 box")
	}

	for s := uint32(firstSampleInChunk); s < sampleNr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}
	return offset, nil
}

func indexFragmented(f *mp4.File) ([]*track, error) {
	if f.Init == nil || f.Init.Moov == nil {
		return nil, fmt.Errorf("%w: fragmented file without init segment", pipeline.ErrCorruptStream)
	}

	var tracks []*track
	byID := make(map[uint32]*track)
	trexs := make(map[uint32]*mp4.TrexBox)
	if f.Init.Moov.Mvex != nil {
		for _, trex := range f.Init.Moov.Mvex.Trexs {
			trexs[trex.TrackID] = trex
		}
	}
	for _, trak := range f.Init.Moov.Traks {
		t := newTrack(trak)
		tracks = append(tracks, t)
		byID[trak.Tkhd.TrackID] = t
	}

	durations := make(map[uint32]uint64)
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				id := traf.Tfhd.TrackID
				t, ok := byID[id]
				if !ok {
					continue
				}
				samples, err := frag.GetFullSamples(trexs[id])
				if err != nil {
					return nil, fmt.Errorf("%w: get samples: %v", pipeline.ErrCorruptStream, err)
				}
				for _, s := range samples {
					pts := int64(s.DecodeTime) + int64(s.CompositionTimeOffset)
					t.samples = append(t.samples, sampleRef{
						data:  s.Data,
						size:  uint32(len(s.Data)),
						ptsUs: scaleToUs(pts, t.format.Timescale),
						key:   s.Flags&nonSyncSampleFlag == 0,
					})
					durations[id] += uint64(s.Dur)
				}
			}
		}
	}

	for _, trak := range f.Init.Moov.Traks {
		byID[trak.Tkhd.TrackID].finish(durations[trak.Tkhd.TrackID])
	}
	return tracks, nil
}

func newTrack(trak *mp4.TrakBox) *track {
	t := &track{format: pipeline.TrackFormat{
		TrackID:   trak.Tkhd.TrackID,
		MIME:      codecdetect.MIMEForTrack(trak),
		Timescale: 1000,
	}}
	if trak.Mdia != nil && trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
		t.format.Timescale = trak.Mdia.Mdhd.Timescale
		t.format.DurationUs = scaleToUs(int64(trak.Mdia.Mdhd.Duration), t.format.Timescale)
	}
	t.format.Width = int(uint32(trak.Tkhd.Width) >> 16)
	t.format.Height = int(uint32(trak.Tkhd.Height) >> 16)

	if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return t
	}
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		vse, ok := child.(*mp4.VisualSampleEntryBox)
		if !ok {
			continue
		}
		if vse.Width > 0 && vse.Height > 0 {
			t.format.Width = int(vse.Width)
			t.format.Height = int(vse.Height)
		}
		if vse.AvcC != nil {
			t.avcc = true
			for _, sps := range vse.AvcC.SPSnalus {
				t.format.CSD = append(t.format.CSD, sps)
				t.paramSets = append(t.paramSets, 0, 0, 0, 1)
				t.paramSets = append(t.paramSets, sps...)
			}
			for _, pps := range vse.AvcC.PPSnalus {
				t.format.CSD = append(t.format.CSD, pps)
				t.paramSets = append(t.paramSets, 0, 0, 0, 1)
				t.paramSets = append(t.paramSets, pps...)
			}
		}
		break
	}
	if t.format.MIME == codecdetect.MIMEHEVC {
		// Length-prefixed like AVC; parameter sets are expected in band.
		t.avcc = true
	}
	return t
}

// finish derives duration, frame rate and bit rate once samples are indexed.
func (t *track) finish(totalDur uint64) {
	if t.format.DurationUs == 0 {
		t.format.DurationUs = scaleToUs(int64(totalDur), t.format.Timescale)
	}
	if t.format.DurationUs == 0 && len(t.samples) > 0 {
		pts := make([]int64, len(t.samples))
		for i, s := range t.samples {
			pts[i] = s.ptsUs
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i] < pts[j] })
		t.format.DurationUs = pts[len(pts)-1] - pts[0]
	}
	if t.format.DurationUs > 0 {
		secs := float64(t.format.DurationUs) / 1e6
		t.format.FrameRate = float64(len(t.samples)) / secs

		var bytes uint64
		for _, s := range t.samples {
			bytes += uint64(s.size)
		}
		t.format.BitRate = int(float64(bytes*8) / secs)
	}
}

func scaleToUs(v int64, timescale uint32) int64 {
	if timescale == 0 {
		return 0
	}
	return v * 1_000_000 / int64(timescale)
}

// avccToAnnexB converts 4-byte length-prefixed NAL units to start codes.
func avccToAnnexB(data []byte) []byte {
	result := make([]byte, 0, len(data)+16)
	offset := 0
	for offset+4 <= len(data) {
		n := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if n < 0 || offset+n > len(data) {
			break
		}
		result = append(result, 0, 0, 0, 1)
		result = append(result, data[offset:offset+n]...)
		offset += n
	}
	return result
}

var _ ports.Demuxer = (*Demuxer)(nil)
