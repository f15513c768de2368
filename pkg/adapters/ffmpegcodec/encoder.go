package ffmpegcodec

import (
	"bytes"
	"fmt"
	"image"
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

const encoderInputFrames = 4

type encodedItem struct {
	format *pipeline.TrackFormat
	data   []byte
	info   pipeline.BufferInfo
	err    error
}

// Encoder implements ports.EncoderCodec with libx264 in an ffmpeg process.
// Frames arrive as RGBA on the input surface; output is split into access
// units on access unit delimiters.
type Encoder struct {
	ffmpegPath string
	logger     ports.Logger

	format     pipeline.EncoderFormat
	configured bool
	surface    *inputSurface

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   bytes.Buffer
	frames   chan []byte
	done     chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	started     bool
	eosSignaled bool

	mu         sync.Mutex
	queue      []encodedItem
	notify     chan struct{}
	ptsQueue   []int64
	formatSent bool
	held       map[int][]byte
	nextIndex  int
}

// NewEncoder creates an encoder running the ffmpeg at ffmpegPath.
func NewEncoder(ffmpegPath string, logger ports.Logger) *Encoder {
	return &Encoder{ffmpegPath: ffmpegPath, logger: logger}
}

// Configure prepares the encoder for surface input. Only video/avc is
// supported.
func (e *Encoder) Configure(format pipeline.EncoderFormat) error {
	if format.MIME != codecdetect.MIMEAVC {
		return fmt.Errorf("%w: %s", pipeline.ErrUnsupportedCodec, format.MIME)
	}
	if format.Width <= 0 || format.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", pipeline.ErrInvalidVideoProperties, format.Width, format.Height)
	}
	if format.FrameRate <= 0 {
		format.FrameRate = 30
	}
	e.format = format
	e.configured = true
	return nil
}

// CreateInputSurface returns the RGBA surface frames are queued on.
func (e *Encoder) CreateInputSurface() (ports.InputSurface, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	e.surface = &inputSurface{enc: e}
	return e.surface, nil
}

func (e *Encoder) args() []string {
	gop := int(e.format.FrameRate * float64(e.format.IFrameIntervalSec))
	if gop < 1 {
		gop = 1
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", e.format.Width, e.format.Height),
		"-r", fmt.Sprintf("%.3f", e.format.FrameRate),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-g", fmt.Sprintf("%d", gop),
		"-bf", "0",
		"-aud", "1",
	}
	if e.format.BitRate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%d", e.format.BitRate))
	}
	return append(args, "-vsync", "0", "-f", "h264", "pipe:1")
}

// Start launches the ffmpeg process.
func (e *Encoder) Start() error {
	if !e.configured {
		return ErrNotConfigured
	}
	args := e.args()
	e.logger.Debug("Starting ffmpeg: %s", strings.Join(args, " "))

	e.cmd = exec.Command(e.ffmpegPath, args...)
	e.cmd.Stderr = &e.stderr
	var err error
	if e.stdin, err = e.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if e.stdout, err = e.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	e.frames = make(chan []byte, encoderInputFrames)
	e.done = make(chan struct{})
	e.exited = make(chan struct{})
	e.notify = make(chan struct{}, 1)
	e.held = make(map[int][]byte)
	e.started = true

	e.wg.Add(2)
	go e.writeLoop()
	go e.readLoop()
	return nil
}

func (e *Encoder) writeLoop() {
	defer e.wg.Done()
	defer e.stdin.Close()
	for {
		select {
		case <-e.done:
			return
		case data, ok := <-e.frames:
			if !ok {
				return
			}
			if _, err := e.stdin.Write(data); err != nil {
				return
			}
		}
	}
}

// readLoop collects output until ffmpeg exits, then closes exited.
func (e *Encoder) readLoop() {
	defer e.wg.Done()
	defer close(e.exited)

	var pending []byte
	buf := make([]byte, 64*1024)
	var readErr error
	for {
		n, err := e.stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var aus [][]byte
			aus, pending = splitAccessUnits(pending, false)
			for _, au := range aus {
				e.emitAccessUnit(au)
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	aus, _ := splitAccessUnits(pending, true)
	for _, au := range aus {
		e.emitAccessUnit(au)
	}

	waitErr := e.cmd.Wait()
	select {
	case <-e.done:
		return
	default:
	}
	switch {
	case readErr != nil:
		e.push(encodedItem{err: fmt.Errorf("read output: %w", readErr)})
	case waitErr != nil:
		e.push(encodedItem{err: fmt.Errorf("%w: %v: %s", ErrProcessFailed, waitErr, strings.TrimSpace(e.stderr.String()))})
	default:
		e.push(encodedItem{info: pipeline.BufferInfo{Flags: pipeline.FlagEndOfStream}})
	}
}

// emitAccessUnit queues one access unit. The first one also yields the
// format change and a codec config buffer holding SPS and PPS.
func (e *Encoder) emitAccessUnit(au []byte) {
	au = append([]byte(nil), au...)

	var sps, pps []byte
	key := false
	for _, nalu := range avc.ExtractNalusFromByteStream(au) {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			sps = nalu
		case avc.NALU_PPS:
			pps = nalu
		case avc.NALU_IDR:
			key = true
		}
	}

	e.mu.Lock()
	formatSent := e.formatSent
	e.formatSent = true
	e.mu.Unlock()

	if !formatSent {
		if sps == nil || pps == nil {
			e.push(encodedItem{err: fmt.Errorf("%w: first access unit carries no parameter sets", ErrProcessFailed)})
			return
		}
		format := pipeline.TrackFormat{
			MIME:      codecdetect.MIMEAVC,
			Width:     e.format.Width,
			Height:    e.format.Height,
			FrameRate: e.format.FrameRate,
			BitRate:   e.format.BitRate,
			CSD:       [][]byte{sps, pps},
		}
		if info, err := avc.ParseSPSNALUnit(sps, false); err == nil {
			format.Width, format.Height = int(info.Width), int(info.Height)
		}
		config := append(append([]byte{0, 0, 0, 1}, sps...), append([]byte{0, 0, 0, 1}, pps...)...)
		e.push(encodedItem{format: &format})
		e.push(encodedItem{data: config, info: pipeline.BufferInfo{Size: len(config), Flags: pipeline.FlagCodecConfig}})
	}

	var flags pipeline.BufferFlags
	if key {
		flags = pipeline.FlagKeyFrame
	}
	e.push(encodedItem{data: au, info: pipeline.BufferInfo{Size: len(au), PresentationUs: e.popPTS(), Flags: flags}})
}

func (e *Encoder) push(item encodedItem) {
	e.mu.Lock()
	e.queue = append(e.queue, item)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Encoder) popPTS() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ptsQueue) == 0 {
		return 0
	}
	pts := e.ptsQueue[0]
	e.ptsQueue = e.ptsQueue[1:]
	return pts
}

func (e *Encoder) next() (encodedItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return encodedItem{}, false
	}
	item := e.queue[0]
	e.queue = e.queue[1:]
	return item, true
}

// SignalEndOfInputStream closes the input pipe once queued frames are written.
func (e *Encoder) SignalEndOfInputStream() error {
	if !e.started {
		return ErrNotStarted
	}
	if !e.eosSignaled {
		e.eosSignaled = true
		close(e.frames)
	}
	return nil
}

// DequeueOutputBuffer waits at most timeout for the next output event.
func (e *Encoder) DequeueOutputBuffer(timeout time.Duration) (ports.OutputEvent, error) {
	if !e.started {
		return ports.OutputEvent{}, ErrNotStarted
	}
	item, ok := e.next()
	if !ok {
		if _, notified := wait(e.notify, timeout); notified {
			item, ok = e.next()
		}
	}
	if !ok {
		return ports.OutputEvent{Status: ports.OutputTryAgainLater, Index: ports.NoBuffer}, nil
	}

	switch {
	case item.err != nil:
		return ports.OutputEvent{}, item.err
	case item.format != nil:
		return ports.OutputEvent{Status: ports.OutputFormatChanged, Index: ports.NoBuffer, Format: *item.format}, nil
	}

	e.mu.Lock()
	e.nextIndex++
	idx := e.nextIndex
	e.held[idx] = item.data
	e.mu.Unlock()
	return ports.OutputEvent{Status: ports.OutputBufferReady, Index: idx, Info: item.info}, nil
}

// OutputBuffer returns the bytes of a dequeued output buffer.
func (e *Encoder) OutputBuffer(index int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.held[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBuffer, index)
	}
	return data, nil
}

// ReleaseOutputBuffer drops a dequeued output buffer.
func (e *Encoder) ReleaseOutputBuffer(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.held[index]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, index)
	}
	delete(e.held, index)
	return nil
}

// Flush drops pending output. Frames already handed to ffmpeg are still
// encoded.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
	return nil
}

// Stop kills the ffmpeg process if it is still running.
func (e *Encoder) Stop() error {
	if !e.started {
		return nil
	}
	e.stopOnce.Do(func() {
		close(e.done)
		e.cmd.Process.Kill()
		e.wg.Wait()
	})
	e.started = false
	return nil
}

// Release stops the encoder and drops pending output.
func (e *Encoder) Release() error {
	e.Stop()
	e.mu.Lock()
	e.queue = nil
	e.held = nil
	e.mu.Unlock()
	return nil
}

// queueFrame copies img and hands it to the writer goroutine.
func (e *Encoder) queueFrame(img *image.RGBA, presentationNs int64) error {
	if !e.started {
		return ErrNotStarted
	}
	if e.eosSignaled {
		return fmt.Errorf("ffmpegcodec: frame queued after end of input")
	}
	w, h := e.format.Width, e.format.Height
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		return fmt.Errorf("ffmpegcodec: frame is %dx%d, surface is %dx%d", img.Bounds().Dx(), img.Bounds().Dy(), w, h)
	}

	data := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		row := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(data[y*w*4:(y+1)*w*4], img.Pix[row:row+w*4])
	}

	e.mu.Lock()
	e.ptsQueue = append(e.ptsQueue, presentationNs/1000)
	e.mu.Unlock()

	select {
	case e.frames <- data:
		return nil
	case <-e.done:
		return ErrNotStarted
	case <-e.exited:
		return fmt.Errorf("%w: exited before end of input: %s", ErrProcessFailed, strings.TrimSpace(e.stderr.String()))
	}
}

var _ ports.EncoderCodec = (*Encoder)(nil)

// inputSurface forwards presented frames to its encoder.
type inputSurface struct {
	enc *Encoder
}

func (s *inputSurface) Width() int  { return s.enc.format.Width }
func (s *inputSurface) Height() int { return s.enc.format.Height }

func (s *inputSurface) QueueFrame(img *image.RGBA, presentationNs int64) error {
	return s.enc.queueFrame(img, presentationNs)
}

func (s *inputSurface) Release() error { return nil }

var _ ports.InputSurface = (*inputSurface)(nil)

// splitAccessUnits cuts an Annex B byte stream at access unit delimiters.
// Unless final is set, the trailing unit is returned as rest because more
// of it may still arrive.
func splitAccessUnits(buf []byte, final bool) (aus [][]byte, rest []byte) {
	starts := delimiterOffsets(buf)
	if len(starts) == 0 {
		if final && len(buf) > 0 {
			return [][]byte{buf}, nil
		}
		return nil, buf
	}
	// Bytes before the first delimiter belong to the first unit.
	starts[0] = 0
	for i := 0; i+1 < len(starts); i++ {
		aus = append(aus, buf[starts[i]:starts[i+1]])
	}
	last := buf[starts[len(starts)-1]:]
	if final {
		if len(last) > 0 {
			aus = append(aus, last)
		}
		return aus, nil
	}
	return aus, last
}

// delimiterOffsets returns the offsets of start codes introducing an
// access unit delimiter NAL unit (type 9).
func delimiterOffsets(buf []byte) []int {
	var offsets []int
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 || buf[i+2] != 1 {
			continue
		}
		if avc.GetNaluType(buf[i+3]) == avc.NALU_AUD {
			start := i
			if i > 0 && buf[i-1] == 0 {
				start = i - 1
			}
			offsets = append(offsets, start)
		}
		i += 2
	}
	return offsets
}
