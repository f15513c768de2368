// Package decoder pumps compressed access units from a demuxer through a
// buffer-queue decoder codec and hands out decoded frames.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// ErrFramesOutstanding is returned by SeekTo while decoded frames are held.
var ErrFramesOutstanding = errors.New("decoder: frames still held by caller")

// PullStatus is the outcome of one pump step.
type PullStatus int

const (
	// PullNoData means no frame was ready within the dequeue timeout.
	PullNoData PullStatus = iota
	// PullFrame means PullResult.Frame holds a decoded frame.
	PullFrame
	// PullEndOfStream means the decoder has produced its last frame.
	PullEndOfStream
)

// String returns the name of the status.
func (s PullStatus) String() string {
	switch s {
	case PullNoData:
		return "no-data"
	case PullFrame:
		return "frame"
	case PullEndOfStream:
		return "end-of-stream"
	default:
		return "unknown"
	}
}

// PullResult is returned by Pull. Frame must be released by the caller.
type PullResult struct {
	Status PullStatus
	Frame  *pipeline.DecodedFrame
}

// Options configures a Decoder.
type Options struct {
	// DequeueTimeout bounds each wait for a codec buffer. Default 20ms.
	DequeueTimeout time.Duration
	Logger         ports.Logger
}

// Decoder owns a demuxer and a decoder codec for one video track.
// It is driven from a single goroutine.
type Decoder struct {
	demuxer ports.Demuxer
	codec   ports.DecoderCodec
	track   pipeline.TrackFormat
	timeout time.Duration
	logger  ports.Logger

	inputDone  bool
	outputDone bool
	closed     bool

	outstanding atomic.Int64
	decoded     int
}

// Open opens path with demuxer, selects its first video track and starts a
// decoder for it.
func Open(path string, demuxer ports.Demuxer, codecs ports.CodecFactory, opts Options) (*Decoder, error) {
	if opts.DequeueTimeout <= 0 {
		opts.DequeueTimeout = 20 * time.Millisecond
	}
	if opts.Logger == nil {
		return nil, errors.New("decoder: logger is required")
	}

	if err := demuxer.Open(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	track, index, err := selectVideoTrack(demuxer)
	if err != nil {
		demuxer.Close()
		return nil, err
	}
	if err := demuxer.SelectTrack(index); err != nil {
		demuxer.Close()
		return nil, fmt.Errorf("select track %d: %w", index, err)
	}

	codec, err := codecs.NewDecoder(track.MIME)
	if err != nil {
		demuxer.Close()
		if !errors.Is(err, pipeline.ErrUnsupportedCodec) {
			err = fmt.Errorf("%w: %s: %v", pipeline.ErrUnsupportedCodec, track.MIME, err)
		}
		return nil, err
	}
	if err := codec.Configure(track); err != nil {
		codec.Release()
		demuxer.Close()
		return nil, fmt.Errorf("configure decoder: %w", err)
	}
	if err := codec.Start(); err != nil {
		codec.Release()
		demuxer.Close()
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	d := &Decoder{
		demuxer: demuxer,
		codec:   codec,
		track:   track,
		timeout: opts.DequeueTimeout,
		logger:  opts.Logger.WithComponent("decoder"),
	}
	d.logger.Debug("Decoding track %d: %s %dx%d, %d ms", index, track.MIME, track.Width, track.Height, track.DurationMs())
	return d, nil
}

func selectVideoTrack(demuxer ports.Demuxer) (pipeline.TrackFormat, int, error) {
	for i := 0; i < demuxer.TrackCount(); i++ {
		f, err := demuxer.TrackFormat(i)
		if err != nil {
			return pipeline.TrackFormat{}, -1, fmt.Errorf("track %d: %w", i, err)
		}
		if f.IsVideo() {
			return f, i, nil
		}
	}
	return pipeline.TrackFormat{}, -1, pipeline.ErrNoVideoTrack
}

// Track returns the selected video track.
func (d *Decoder) Track() pipeline.TrackFormat { return d.track }

// Outstanding returns the number of frames handed out and not yet released.
func (d *Decoder) Outstanding() int { return int(d.outstanding.Load()) }

// Pull runs one pump step: it feeds at most one access unit (or the end
// of input) and then waits a bounded time for one output buffer.
func (d *Decoder) Pull(ctx context.Context) (PullResult, error) {
	if err := ctx.Err(); err != nil {
		return PullResult{}, err
	}
	if d.closed {
		return PullResult{}, errors.New("decoder: closed")
	}
	if d.outputDone {
		return PullResult{Status: PullEndOfStream}, nil
	}

	if !d.inputDone {
		if err := d.feed(); err != nil {
			return PullResult{}, err
		}
	}

	ev, err := d.codec.DequeueOutputBuffer(d.timeout)
	if err != nil {
		return PullResult{}, fmt.Errorf("dequeue output: %w", err)
	}

	switch ev.Status {
	case ports.OutputFormatChanged:
		d.logger.Debug("Decoder output format: %dx%d", ev.Format.Width, ev.Format.Height)
		return PullResult{Status: PullNoData}, nil
	case ports.OutputBufferReady:
		return d.output(ev)
	default:
		return PullResult{Status: PullNoData}, nil
	}
}

// Next pulls until a frame is ready. It returns io.EOF after the last frame.
func (d *Decoder) Next(ctx context.Context) (*pipeline.DecodedFrame, error) {
	for {
		res, err := d.Pull(ctx)
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case PullFrame:
			return res.Frame, nil
		case PullEndOfStream:
			return nil, io.EOF
		}
	}
}

func (d *Decoder) feed() error {
	idx, err := d.codec.DequeueInputBuffer(d.timeout)
	if err != nil {
		return fmt.Errorf("dequeue input: %w", err)
	}
	if idx == ports.NoBuffer {
		return nil
	}

	au, err := d.demuxer.ReadSample()
	if errors.Is(err, io.EOF) {
		d.inputDone = true
		if err := d.codec.QueueInputBuffer(idx, nil, 0, pipeline.FlagEndOfStream); err != nil {
			return fmt.Errorf("queue end of input: %w", err)
		}
		return nil
	}
	if err != nil {
		if !errors.Is(err, pipeline.ErrCorruptStream) {
			err = fmt.Errorf("%w: %v", pipeline.ErrCorruptStream, err)
		}
		return fmt.Errorf("read sample: %w", err)
	}

	var flags pipeline.BufferFlags
	if au.KeyFrame {
		flags |= pipeline.FlagKeyFrame
	}
	if err := d.codec.QueueInputBuffer(idx, au.Data, au.PresentationUs, flags); err != nil {
		return fmt.Errorf("queue input: %w", err)
	}
	return nil
}

func (d *Decoder) output(ev ports.OutputEvent) (PullResult, error) {
	eos := ev.Info.Flags.Has(pipeline.FlagEndOfStream)
	if eos {
		d.outputDone = true
	}

	if ev.Info.Size == 0 {
		if err := d.codec.ReleaseOutputBuffer(ev.Index); err != nil {
			return PullResult{}, fmt.Errorf("release output buffer: %w", err)
		}
		if eos {
			d.logger.Debug("Decoder reached end of stream after %d frames", d.decoded)
			return PullResult{Status: PullEndOfStream}, nil
		}
		return PullResult{Status: PullNoData}, nil
	}

	f, err := d.codec.OutputFrame(ev.Index)
	if err != nil {
		d.codec.ReleaseOutputBuffer(ev.Index)
		return PullResult{}, fmt.Errorf("output frame: %w", err)
	}

	d.outstanding.Add(1)
	d.decoded++
	frame := pipeline.NewDecodedFrame(f.Width, f.Height, f.Format, f.Planes, f.PresentationUs, func() error {
		d.outstanding.Add(-1)
		return f.Release()
	})
	return PullResult{Status: PullFrame, Frame: frame}, nil
}

// SeekTo repositions decoding at the last sync sample at or before us.
// Every frame handed out must have been released.
func (d *Decoder) SeekTo(us int64) error {
	if n := d.Outstanding(); n > 0 {
		return fmt.Errorf("%w: %d", ErrFramesOutstanding, n)
	}
	if err := d.demuxer.SeekTo(us); err != nil {
		return fmt.Errorf("seek to %d: %w", us, err)
	}
	if err := d.codec.Flush(); err != nil {
		return fmt.Errorf("flush decoder: %w", err)
	}
	d.inputDone = false
	d.outputDone = false
	d.logger.Debug("Decoder seeked to %d us", us)
	return nil
}

// Close stops and releases the codec and closes the demuxer.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if n := d.Outstanding(); n > 0 {
		d.logger.Warn("Closing decoder with %d frames still held", n)
	}

	var result *multierror.Error
	if err := d.codec.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop decoder: %w", err))
	}
	if err := d.codec.Release(); err != nil {
		result = multierror.Append(result, fmt.Errorf("release decoder: %w", err))
	}
	if err := d.demuxer.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close demuxer: %w", err))
	}
	return result.ErrorOrNil()
}
