package mocks

import (
	"fmt"
	"io"
	"sync"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Demuxer is a mock implementation of ports.Demuxer serving Samples of
// the selected track in order.
type Demuxer struct {
	Tracks  []pipeline.TrackFormat
	Samples []pipeline.AccessUnit

	OpenErr error
	// OpenGate, when set, makes Open wait until it is closed.
	OpenGate chan struct{}
	// ReadErrAt makes ReadSample fail at that sample position (0 disables).
	ReadErrAt int

	mu       sync.Mutex
	pos      int
	selected int
	Seeks    []int64
	Closed   bool
	Path     string
}

func (m *Demuxer) Open(path string) error {
	if m.OpenGate != nil {
		<-m.OpenGate
	}
	m.mu.Lock()
	m.Path = path
	m.mu.Unlock()
	return m.OpenErr
}

func (m *Demuxer) TrackCount() int { return len(m.Tracks) }

func (m *Demuxer) TrackFormat(i int) (pipeline.TrackFormat, error) {
	if i < 0 || i >= len(m.Tracks) {
		return pipeline.TrackFormat{}, fmt.Errorf("track %d out of range", i)
	}
	return m.Tracks[i], nil
}

func (m *Demuxer) SelectTrack(i int) error {
	if i < 0 || i >= len(m.Tracks) {
		return fmt.Errorf("track %d out of range", i)
	}
	m.selected = i
	return nil
}

func (m *Demuxer) ReadSample() (pipeline.AccessUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErrAt > 0 && m.pos == m.ReadErrAt {
		return pipeline.AccessUnit{}, fmt.Errorf("%w: truncated sample", pipeline.ErrCorruptStream)
	}
	if m.pos >= len(m.Samples) {
		return pipeline.AccessUnit{}, io.EOF
	}
	s := m.Samples[m.pos]
	m.pos++
	return s, nil
}

// SeekTo moves to the last key frame at or before us.
func (m *Demuxer) SeekTo(us int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Seeks = append(m.Seeks, us)
	target := 0
	for i, s := range m.Samples {
		if s.PresentationUs > us {
			break
		}
		if s.KeyFrame {
			target = i
		}
	}
	m.pos = target
	return nil
}

func (m *Demuxer) Close() error {
	m.Closed = true
	return nil
}

var _ ports.Demuxer = (*Demuxer)(nil)

// MuxedSample is one sample written to the mock muxer.
type MuxedSample struct {
	Track int
	Data  []byte
	Info  pipeline.BufferInfo
}

// Muxer is a mock implementation of ports.Muxer.
type Muxer struct {
	Log         *CallLog
	AddTrackErr error
	StopErr     error

	mu       sync.Mutex
	Tracks   []pipeline.TrackFormat
	Samples  []MuxedSample
	Started  bool
	Stopped  bool
	Released bool
}

func (m *Muxer) AddTrack(format pipeline.TrackFormat) (int, error) {
	m.Log.Add("muxer.AddTrack")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddTrackErr != nil {
		return -1, m.AddTrackErr
	}
	if m.Started {
		return -1, fmt.Errorf("track added after start")
	}
	m.Tracks = append(m.Tracks, format)
	return len(m.Tracks) - 1, nil
}

func (m *Muxer) Start() error {
	m.Log.Add("muxer.Start")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = true
	return nil
}

func (m *Muxer) WriteSampleData(track int, data []byte, info pipeline.BufferInfo) error {
	m.Log.Add("muxer.WriteSampleData")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Started {
		return pipeline.ErrMuxerNotStarted
	}
	buf := append([]byte(nil), data[info.Offset:info.Offset+info.Size]...)
	m.Samples = append(m.Samples, MuxedSample{Track: track, Data: buf, Info: info})
	return nil
}

func (m *Muxer) Stop() error {
	m.Log.Add("muxer.Stop")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stopped = true
	return m.StopErr
}

func (m *Muxer) Release() error {
	m.Log.Add("muxer.Release")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released = true
	return nil
}

var _ ports.Muxer = (*Muxer)(nil)
