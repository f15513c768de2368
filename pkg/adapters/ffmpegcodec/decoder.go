package ffmpegcodec

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Eyevinn/mp4ff/avc"

	"github.com/user/detectshow/pkg/adapters/codecdetect"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

const (
	decoderInputBuffers = 4

	// DefaultOutputBuffers is the depth of the decoded frame pool.
	DefaultOutputBuffers = 3

	// MinOutputBuffers keeps one frame free while a caller holds another.
	MinOutputBuffers = 2
)

type inputItem struct {
	index int
	data  []byte
	eos   bool
}

type decodedMsg struct {
	index int
	pts   int64
	eos   bool
	err   error
}

// ptsHeap restores presentation order: frames leave the decoder in
// presentation order, so each output takes the smallest queued pts.
type ptsHeap []int64

func (h ptsHeap) Len() int           { return len(h) }
func (h ptsHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h ptsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *ptsHeap) Push(x any)        { *h = append(*h, x.(int64)) }
func (h *ptsHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// decodeSession is one ffmpeg process. Flush replaces the session.
type decodeSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr bytes.Buffer

	writeCh chan inputItem
	readyCh chan decodedMsg
	freeIn  chan int
	freeOut chan int
	done    chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	pts     ptsHeap
	lastPTS int64
}

func startDecodeSession(path string, args []string, buffers [][]byte) (*decodeSession, error) {
	s := &decodeSession{
		cmd:     exec.Command(path, args...),
		writeCh: make(chan inputItem, decoderInputBuffers),
		readyCh: make(chan decodedMsg, len(buffers)+1),
		freeIn:  make(chan int, decoderInputBuffers),
		freeOut: make(chan int, len(buffers)),
		done:    make(chan struct{}),
	}
	s.cmd.Stderr = &s.stderr

	var err error
	if s.stdin, err = s.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if s.stdout, err = s.cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	for i := 0; i < decoderInputBuffers; i++ {
		s.freeIn <- i
	}
	for i := range buffers {
		s.freeOut <- i
	}

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop(buffers)
	return s, nil
}

func (s *decodeSession) writeLoop() {
	defer s.wg.Done()
	defer s.stdin.Close()
	for {
		select {
		case <-s.done:
			return
		case item := <-s.writeCh:
			if item.eos {
				return
			}
			if _, err := s.stdin.Write(item.data); err != nil {
				// The read side reports the process failure.
				return
			}
			s.freeIn <- item.index
		}
	}
}

func (s *decodeSession) readLoop(buffers [][]byte) {
	defer s.wg.Done()

	err := s.readFrames(buffers)
	waitErr := s.cmd.Wait()

	select {
	case <-s.done:
		return
	default:
	}
	if err == nil && waitErr != nil {
		err = fmt.Errorf("%w: %v: %s", ErrProcessFailed, waitErr, strings.TrimSpace(s.stderr.String()))
	}
	select {
	case s.readyCh <- decodedMsg{index: ports.NoBuffer, eos: err == nil, err: err}:
	case <-s.done:
	}
}

func (s *decodeSession) readFrames(buffers [][]byte) error {
	for {
		var idx int
		select {
		case idx = <-s.freeOut:
		case <-s.done:
			return nil
		}

		if _, err := io.ReadFull(s.stdout, buffers[idx]); err != nil {
			s.freeOut <- idx
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, io.ErrUnexpectedEOF):
				return fmt.Errorf("%w: truncated frame", ErrProcessFailed)
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}

		select {
		case s.readyCh <- decodedMsg{index: idx, pts: s.popPTS()}:
		case <-s.done:
			return nil
		}
	}
}

func (s *decodeSession) pushPTS(pts int64) {
	s.mu.Lock()
	heap.Push(&s.pts, pts)
	s.mu.Unlock()
}

func (s *decodeSession) popPTS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pts.Len() > 0 {
		s.lastPTS = heap.Pop(&s.pts).(int64)
	}
	return s.lastPTS
}

// stop kills the process and waits for the pipe goroutines.
func (s *decodeSession) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.wg.Wait()
	})
}

// Decoder implements ports.DecoderCodec with ffmpeg decoding an Annex B
// elementary stream to raw yuv420p frames.
type Decoder struct {
	ffmpegPath  string
	logger      ports.Logger
	poolSize    int
	inputFormat string

	width, height int
	configured    bool
	buffers       [][]byte

	session    *decodeSession
	pending    *decodedMsg
	formatSent bool
	inputEnded bool
	err        error

	mu   sync.Mutex
	held map[int]int64
}

// NewDecoder creates a decoder running the ffmpeg at ffmpegPath with a
// pool of poolSize output frames. Zero selects DefaultOutputBuffers and
// smaller pools are raised to MinOutputBuffers.
func NewDecoder(ffmpegPath string, poolSize int, logger ports.Logger) *Decoder {
	switch {
	case poolSize == 0:
		poolSize = DefaultOutputBuffers
	case poolSize < MinOutputBuffers:
		poolSize = MinOutputBuffers
	}
	return &Decoder{ffmpegPath: ffmpegPath, poolSize: poolSize, logger: logger}
}

// Configure prepares the decoder for an AVC or HEVC track. Dimensions
// missing from the format are read from the SPS.
func (d *Decoder) Configure(format pipeline.TrackFormat) error {
	switch format.MIME {
	case codecdetect.MIMEAVC:
		d.inputFormat = "h264"
	case codecdetect.MIMEHEVC:
		d.inputFormat = "hevc"
	default:
		return fmt.Errorf("%w: %s", pipeline.ErrUnsupportedCodec, format.MIME)
	}

	d.width, d.height = format.Width, format.Height
	if (d.width == 0 || d.height == 0) && format.MIME == codecdetect.MIMEAVC && len(format.CSD) > 0 {
		sps, err := avc.ParseSPSNALUnit(format.CSD[0], false)
		if err != nil {
			return fmt.Errorf("parse SPS: %w", err)
		}
		d.width, d.height = int(sps.Width), int(sps.Height)
	}
	if d.width <= 0 || d.height <= 0 {
		return fmt.Errorf("%w: %dx%d", pipeline.ErrInvalidVideoProperties, d.width, d.height)
	}

	size := frameSize(d.width, d.height)
	d.buffers = make([][]byte, d.poolSize)
	for i := range d.buffers {
		d.buffers[i] = make([]byte, size)
	}
	d.configured = true
	return nil
}

func frameSize(w, h int) int {
	cw, ch := (w+1)/2, (h+1)/2
	return w*h + 2*cw*ch
}

func (d *Decoder) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", d.inputFormat,
		"-i", "pipe:0",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", d.width, d.height),
		"-vsync", "0",
		"pipe:1",
	}
}

// Start launches the ffmpeg process.
func (d *Decoder) Start() error {
	if !d.configured {
		return ErrNotConfigured
	}
	args := d.args()
	d.logger.Debug("Starting ffmpeg: %s", strings.Join(args, " "))
	s, err := startDecodeSession(d.ffmpegPath, args, d.buffers)
	if err != nil {
		return err
	}
	d.session = s
	d.held = make(map[int]int64)
	return nil
}

// DequeueInputBuffer returns a free input slot or ports.NoBuffer.
func (d *Decoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	if d.session == nil {
		return ports.NoBuffer, ErrNotStarted
	}
	if d.inputEnded {
		return ports.NoBuffer, nil
	}
	idx, ok := wait(d.session.freeIn, timeout)
	if !ok {
		return ports.NoBuffer, nil
	}
	return idx, nil
}

// QueueInputBuffer hands one access unit to the writer goroutine.
func (d *Decoder) QueueInputBuffer(index int, data []byte, presentationUs int64, flags pipeline.BufferFlags) error {
	if d.session == nil {
		return ErrNotStarted
	}
	if flags.Has(pipeline.FlagEndOfStream) {
		d.inputEnded = true
		d.session.writeCh <- inputItem{index: index, eos: true}
		return nil
	}
	d.session.pushPTS(presentationUs)
	d.session.writeCh <- inputItem{index: index, data: append([]byte(nil), data...)}
	return nil
}

// DequeueOutputBuffer waits at most timeout for a decoded frame. The first
// frame is preceded by one format-changed event.
func (d *Decoder) DequeueOutputBuffer(timeout time.Duration) (ports.OutputEvent, error) {
	if d.session == nil {
		return ports.OutputEvent{}, ErrNotStarted
	}
	if d.err != nil {
		return ports.OutputEvent{}, d.err
	}
	tryAgain := ports.OutputEvent{Status: ports.OutputTryAgainLater, Index: ports.NoBuffer}

	msg := d.pending
	d.pending = nil
	if msg == nil {
		m, ok := wait(d.session.readyCh, timeout)
		if !ok {
			return tryAgain, nil
		}
		msg = &m
	}

	if msg.err != nil {
		d.err = msg.err
		return ports.OutputEvent{}, msg.err
	}
	if msg.eos {
		return ports.OutputEvent{
			Status: ports.OutputBufferReady,
			Index:  ports.NoBuffer,
			Info:   pipeline.BufferInfo{Flags: pipeline.FlagEndOfStream},
		}, nil
	}
	if !d.formatSent {
		d.formatSent = true
		d.pending = msg
		return ports.OutputEvent{
			Status: ports.OutputFormatChanged,
			Index:  ports.NoBuffer,
			Format: pipeline.TrackFormat{MIME: "video/raw", Width: d.width, Height: d.height},
		}, nil
	}

	d.mu.Lock()
	d.held[msg.index] = msg.pts
	d.mu.Unlock()
	return ports.OutputEvent{
		Status: ports.OutputBufferReady,
		Index:  msg.index,
		Info:   pipeline.BufferInfo{Size: len(d.buffers[msg.index]), PresentationUs: msg.pts},
	}, nil
}

// OutputFrame returns a planar view of an output slot. The planes alias
// the slot until the frame is released.
func (d *Decoder) OutputFrame(index int) (*pipeline.DecodedFrame, error) {
	d.mu.Lock()
	pts, ok := d.held[index]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBuffer, index)
	}

	buf := d.buffers[index]
	w, h := d.width, d.height
	cw, ch := (w+1)/2, (h+1)/2
	ySize, cSize := w*h, cw*ch
	planes := []pipeline.Plane{
		{Data: buf[:ySize], RowStride: w, PixelStride: 1},
		{Data: buf[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
		{Data: buf[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
	}
	return pipeline.NewDecodedFrame(w, h, pipeline.PixelFormatYUV420, planes, pts, func() error {
		return d.ReleaseOutputBuffer(index)
	}), nil
}

// ReleaseOutputBuffer returns a slot to the pool. ports.NoBuffer is
// accepted for the end-of-stream event.
func (d *Decoder) ReleaseOutputBuffer(index int) error {
	if index == ports.NoBuffer {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.held[index]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, index)
	}
	delete(d.held, index)
	if d.session != nil {
		d.session.freeOut <- index
	}
	return nil
}

// Flush discards queued input and pending frames by restarting ffmpeg.
// Frames still held become invalid.
func (d *Decoder) Flush() error {
	if d.session == nil {
		return ErrNotStarted
	}
	d.session.stop()
	d.session = nil
	d.pending = nil
	d.inputEnded = false
	d.err = nil
	return d.Start()
}

// Stop kills the ffmpeg process.
func (d *Decoder) Stop() error {
	if d.session != nil {
		d.session.stop()
		d.session = nil
	}
	return nil
}

// Release stops the decoder and drops the frame pool.
func (d *Decoder) Release() error {
	d.Stop()
	d.buffers = nil
	d.configured = false
	return nil
}

var _ ports.DecoderCodec = (*Decoder)(nil)
