package mocks

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// CodecFactory is a mock implementation of ports.CodecFactory.
type CodecFactory struct {
	Decoder    ports.DecoderCodec
	Encoder    ports.EncoderCodec
	DecoderErr error
	EncoderErr error

	Mimes []string
}

func (m *CodecFactory) NewDecoder(mime string) (ports.DecoderCodec, error) {
	m.Mimes = append(m.Mimes, mime)
	if m.DecoderErr != nil {
		return nil, m.DecoderErr
	}
	return m.Decoder, nil
}

func (m *CodecFactory) NewEncoder(mime string) (ports.EncoderCodec, error) {
	m.Mimes = append(m.Mimes, mime)
	if m.EncoderErr != nil {
		return nil, m.EncoderErr
	}
	return m.Encoder, nil
}

var _ ports.CodecFactory = (*CodecFactory)(nil)

type pendingOutput struct {
	pts   int64
	flags pipeline.BufferFlags
	data  []byte
}

// DecoderCodec is a mock implementation of ports.DecoderCodec. Every
// queued access unit decodes to one YUV 4:2:0 frame with the same
// presentation time. Output stalls while MaxOutstanding buffers are held.
type DecoderCodec struct {
	Width, Height  int
	MaxOutstanding int
	// Luma returns the Y value for the frame at pts. Defaults to 128.
	Luma func(pts int64) uint8
	// BadFormatAt makes OutputFrame return an RGBA frame for that pts.
	BadFormatAt map[int64]bool

	ConfigureErr error
	Log          *CallLog

	mu          sync.Mutex
	started     bool
	formatSent  bool
	eosQueued   bool
	eosSent     bool
	queue       []pendingOutput
	outputs     map[int]pendingOutput
	nextIndex   int
	Configured  pipeline.TrackFormat
	InputPTS    []int64
	Acquired    int
	ReleasedN   int
	Flushes     int
	Stopped     bool
	ReleasedAll bool
	MaxSeen     int
}

func (m *DecoderCodec) Configure(format pipeline.TrackFormat) error {
	m.Log.Add("decoder.Configure")
	m.Configured = format
	return m.ConfigureErr
}

func (m *DecoderCodec) Start() error {
	m.Log.Add("decoder.Start")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.outputs = make(map[int]pendingOutput)
	return nil
}

func (m *DecoderCodec) DequeueInputBuffer(timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ports.NoBuffer, fmt.Errorf("decoder not started")
	}
	if m.eosQueued {
		return ports.NoBuffer, nil
	}
	m.nextIndex++
	return m.nextIndex, nil
}

func (m *DecoderCodec) QueueInputBuffer(index int, data []byte, pts int64, flags pipeline.BufferFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flags.Has(pipeline.FlagEndOfStream) {
		m.eosQueued = true
		return nil
	}
	m.InputPTS = append(m.InputPTS, pts)
	m.queue = append(m.queue, pendingOutput{pts: pts})
	return nil
}

func (m *DecoderCodec) DequeueOutputBuffer(timeout time.Duration) (ports.OutputEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ports.OutputEvent{}, fmt.Errorf("decoder not started")
	}
	if !m.formatSent && len(m.queue) > 0 {
		m.formatSent = true
		return ports.OutputEvent{
			Status: ports.OutputFormatChanged,
			Index:  ports.NoBuffer,
			Format: pipeline.TrackFormat{MIME: "video/raw", Width: m.Width, Height: m.Height},
		}, nil
	}
	if m.MaxOutstanding > 0 && len(m.outputs) >= m.MaxOutstanding {
		return ports.OutputEvent{Status: ports.OutputTryAgainLater, Index: ports.NoBuffer}, nil
	}
	if len(m.queue) > 0 {
		p := m.queue[0]
		m.queue = m.queue[1:]
		return m.emit(p, m.Width*m.Height*3/2), nil
	}
	if m.eosQueued && !m.eosSent {
		m.eosSent = true
		return m.emit(pendingOutput{flags: pipeline.FlagEndOfStream}, 0), nil
	}
	return ports.OutputEvent{Status: ports.OutputTryAgainLater, Index: ports.NoBuffer}, nil
}

func (m *DecoderCodec) emit(p pendingOutput, size int) ports.OutputEvent {
	m.nextIndex++
	idx := m.nextIndex
	m.outputs[idx] = p
	if len(m.outputs) > m.MaxSeen {
		m.MaxSeen = len(m.outputs)
	}
	return ports.OutputEvent{
		Status: ports.OutputBufferReady,
		Index:  idx,
		Info:   pipeline.BufferInfo{Size: size, PresentationUs: p.pts, Flags: p.flags},
	}
}

func (m *DecoderCodec) OutputFrame(index int) (*pipeline.DecodedFrame, error) {
	m.mu.Lock()
	p, ok := m.outputs[index]
	if ok {
		m.Acquired++
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("output buffer %d not dequeued", index)
	}

	luma := uint8(128)
	if m.Luma != nil {
		luma = m.Luma(p.pts)
	}
	w, h := m.Width, m.Height
	cw, ch := (w+1)/2, (h+1)/2
	y := make([]byte, w*h)
	for i := range y {
		y[i] = luma
	}
	u := make([]byte, cw*ch)
	v := make([]byte, cw*ch)
	for i := range u {
		u[i], v[i] = 128, 128
	}
	format := pipeline.PixelFormatYUV420
	if m.BadFormatAt[p.pts] {
		format = pipeline.PixelFormatRGBA
	}
	planes := []pipeline.Plane{
		{Data: y, RowStride: w, PixelStride: 1},
		{Data: u, RowStride: cw, PixelStride: 1},
		{Data: v, RowStride: cw, PixelStride: 1},
	}
	return pipeline.NewDecodedFrame(w, h, format, planes, p.pts, func() error {
		return m.ReleaseOutputBuffer(index)
	}), nil
}

func (m *DecoderCodec) ReleaseOutputBuffer(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outputs[index]; !ok {
		return fmt.Errorf("output buffer %d not dequeued", index)
	}
	delete(m.outputs, index)
	m.ReleasedN++
	return nil
}

func (m *DecoderCodec) Flush() error {
	m.Log.Add("decoder.Flush")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushes++
	m.queue = nil
	m.eosQueued = false
	m.eosSent = false
	return nil
}

func (m *DecoderCodec) Stop() error {
	m.Log.Add("decoder.Stop")
	m.Stopped = true
	return nil
}

func (m *DecoderCodec) Release() error {
	m.Log.Add("decoder.Release")
	m.ReleasedAll = true
	return nil
}

// Held returns the number of output buffers not yet released.
func (m *DecoderCodec) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outputs)
}

var _ ports.DecoderCodec = (*DecoderCodec)(nil)

// Parameter sets of a 64x64 constrained baseline stream.
var (
	SPS = []byte{0x67, 0x42, 0xC0, 0x0A, 0xDA, 0x10, 0x99}
	PPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

// Sample and parameter set payloads emitted by EncoderCodec.
var (
	EncodedConfig = append(append([]byte{0, 0, 0, 1}, SPS...), append([]byte{0, 0, 0, 1}, PPS...)...)
	encodedIDR    = []byte{0, 0, 0, 1, 0x65, 0x88}
	encodedSlice  = []byte{0, 0, 0, 1, 0x41, 0x9A}
)

// EncoderCodec is a mock implementation of ports.EncoderCodec. Each frame
// queued on its input surface produces one sample once Latency later
// frames have been queued or input has ended.
type EncoderCodec struct {
	Latency int
	// EOSDelay is the number of try-again results returned after end of
	// input is signaled before any further output.
	EOSDelay          int
	SkipConfig        bool
	SkipFormatChange  bool
	FormatChangeTwice bool
	ConfigureErr      error
	Log               *CallLog

	mu               sync.Mutex
	format           pipeline.EncoderFormat
	surface          *InputSurface
	started          bool
	eosSignaled      bool
	eosSent          bool
	formatSent       int
	configSent       bool
	samples          int
	frames           []int64
	outputs          map[int]pendingOutput
	nextIndex        int
	Released         bool
	Stopped          bool
	ReleasedCount    int
	TryAgainAfterEOS int
}

func (m *EncoderCodec) Configure(format pipeline.EncoderFormat) error {
	m.Log.Add("encoder.Configure")
	m.format = format
	return m.ConfigureErr
}

func (m *EncoderCodec) CreateInputSurface() (ports.InputSurface, error) {
	m.Log.Add("encoder.CreateInputSurface")
	m.surface = &InputSurface{codec: m, w: m.format.Width, h: m.format.Height}
	return m.surface, nil
}

// Surface returns the input surface created by CreateInputSurface.
func (m *EncoderCodec) Surface() *InputSurface { return m.surface }

func (m *EncoderCodec) Start() error {
	m.Log.Add("encoder.Start")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.outputs = make(map[int]pendingOutput)
	return nil
}

func (m *EncoderCodec) SignalEndOfInputStream() error {
	m.Log.Add("encoder.SignalEndOfInputStream")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eosSignaled = true
	return nil
}

func (m *EncoderCodec) DequeueOutputBuffer(timeout time.Duration) (ports.OutputEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ports.OutputEvent{}, fmt.Errorf("encoder not started")
	}
	tryAgain := ports.OutputEvent{Status: ports.OutputTryAgainLater, Index: ports.NoBuffer}

	if m.eosSignaled && m.EOSDelay > 0 {
		m.EOSDelay--
		m.TryAgainAfterEOS++
		return tryAgain, nil
	}
	ready := len(m.frames) - m.Latency
	if m.eosSignaled {
		ready = len(m.frames)
	}
	if !m.SkipFormatChange {
		if m.formatSent == 0 && (ready > 0 || m.eosSignaled) {
			return m.formatChanged(), nil
		}
		if m.formatSent == 0 {
			return tryAgain, nil
		}
	}
	if !m.configSent && !m.SkipConfig {
		m.configSent = true
		return m.emit(pendingOutput{flags: pipeline.FlagCodecConfig, data: EncodedConfig}), nil
	}
	if m.FormatChangeTwice && m.samples == 1 && m.formatSent == 1 {
		return m.formatChanged(), nil
	}
	if ready > 0 {
		pts := m.frames[0]
		m.frames = m.frames[1:]
		p := pendingOutput{pts: pts, data: encodedSlice}
		if m.samples == 0 {
			p.flags = pipeline.FlagKeyFrame
			p.data = encodedIDR
		}
		m.samples++
		return m.emit(p), nil
	}
	if m.eosSignaled && !m.eosSent {
		m.eosSent = true
		return m.emit(pendingOutput{flags: pipeline.FlagEndOfStream}), nil
	}
	return tryAgain, nil
}

func (m *EncoderCodec) formatChanged() ports.OutputEvent {
	m.formatSent++
	return ports.OutputEvent{
		Status: ports.OutputFormatChanged,
		Index:  ports.NoBuffer,
		Format: pipeline.TrackFormat{
			MIME:      m.format.MIME,
			Width:     m.format.Width,
			Height:    m.format.Height,
			FrameRate: m.format.FrameRate,
			CSD:       [][]byte{SPS, PPS},
		},
	}
}

func (m *EncoderCodec) emit(p pendingOutput) ports.OutputEvent {
	m.nextIndex++
	m.outputs[m.nextIndex] = p
	return ports.OutputEvent{
		Status: ports.OutputBufferReady,
		Index:  m.nextIndex,
		Info:   pipeline.BufferInfo{Size: len(p.data), PresentationUs: p.pts, Flags: p.flags},
	}
}

func (m *EncoderCodec) OutputBuffer(index int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.outputs[index]
	if !ok {
		return nil, fmt.Errorf("output buffer %d not dequeued", index)
	}
	return p.data, nil
}

func (m *EncoderCodec) ReleaseOutputBuffer(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outputs[index]; !ok {
		return fmt.Errorf("output buffer %d not dequeued", index)
	}
	delete(m.outputs, index)
	m.ReleasedCount++
	return nil
}

// Held returns the number of output buffers not yet released.
func (m *EncoderCodec) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outputs)
}

func (m *EncoderCodec) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
	return nil
}

func (m *EncoderCodec) Stop() error {
	m.Log.Add("encoder.Stop")
	m.Stopped = true
	return nil
}

func (m *EncoderCodec) Release() error {
	m.Log.Add("encoder.Release")
	m.Released = true
	return nil
}

var _ ports.EncoderCodec = (*EncoderCodec)(nil)

// InputSurface is the mock encoder's input surface.
type InputSurface struct {
	codec    *EncoderCodec
	w, h     int
	Frames   []*image.RGBA
	Released bool
}

func (s *InputSurface) Width() int  { return s.w }
func (s *InputSurface) Height() int { return s.h }

func (s *InputSurface) QueueFrame(img *image.RGBA, presentationNs int64) error {
	s.codec.Log.Add("surface.QueueFrame")
	s.codec.mu.Lock()
	defer s.codec.mu.Unlock()
	s.Frames = append(s.Frames, img)
	s.codec.frames = append(s.codec.frames, presentationNs/1000)
	return nil
}

func (s *InputSurface) Release() error {
	s.codec.Log.Add("surface.Release")
	s.Released = true
	return nil
}

var _ ports.InputSurface = (*InputSurface)(nil)
