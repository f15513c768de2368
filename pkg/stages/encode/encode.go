// Package encode implements the video output: annotated samples are drawn
// onto the encoder's input surface and muxed into an MP4 file.
package encode

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/user/detectshow/pkg/encoder"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// ErrNoFrames is returned by Finish when no sample was written.
var ErrNoFrames = errors.New("encode: no frames to encode")

// Options configures the output video.
type Options struct {
	Path              string
	Width             int
	Height            int
	FrameRate         float64
	BitRate           int
	IFrameIntervalSec int
}

// Output encodes annotated frames into a video file. It must be created
// and used on one goroutine, which holds the rendering context.
type Output struct {
	opts   Options
	enc    *encoder.Encoder
	muxer  *trackedMuxer
	fs     ports.FileSystem
	logger ports.Logger

	frames   int
	finished bool
}

// New creates the encoder codec for video/avc, binds it to display and
// muxer, and returns an output ready for Write.
func New(opts Options, codecs ports.CodecFactory, muxer ports.Muxer, display ports.Display, fs ports.FileSystem, logger ports.Logger) (*Output, error) {
	codec, err := codecs.NewEncoder("video/avc")
	if err != nil {
		muxer.Release()
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	cfg := encoder.Config{
		Width:             opts.Width,
		Height:            opts.Height,
		FrameRate:         opts.FrameRate,
		BitRate:           opts.BitRate,
		IFrameIntervalSec: opts.IFrameIntervalSec,
	}
	tracked := &trackedMuxer{Muxer: muxer}
	enc, err := encoder.New(cfg, codec, tracked, display, logger)
	if err != nil {
		return nil, err
	}

	return &Output{
		opts:   opts,
		enc:    enc,
		muxer:  tracked,
		fs:     fs,
		logger: logger.WithComponent("encode"),
	}, nil
}

// Write submits one annotated frame at its presentation time.
func (o *Output) Write(ctx context.Context, frame pipeline.AnnotatedFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.enc.SubmitFrame(frame.Image, frame.PresentationUs); err != nil {
		return fmt.Errorf("encode frame at %d us: %w", frame.PresentationUs, err)
	}
	o.frames++
	return nil
}

// Finish drains the encoder and writes the container. On failure the
// partial file is removed.
func (o *Output) Finish(ctx context.Context) (pipeline.Artifact, error) {
	if o.frames == 0 {
		o.Abort()
		return pipeline.Artifact{}, ErrNoFrames
	}

	if err := o.enc.Finish(); err != nil {
		o.removeFile()
		return pipeline.Artifact{}, fmt.Errorf("finish encoding: %w", err)
	}

	size, err := o.fs.Size(o.opts.Path)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("stat %s: %w", o.opts.Path, err)
	}
	o.finished = true
	o.logger.Info("Video encoded: %d frames, %d bytes", o.frames, size)

	return pipeline.Artifact{
		Mode:      pipeline.OutputVideo,
		VideoPath: o.opts.Path,
		FileSize:  size,
	}, nil
}

// Abort tears the encoder down without draining and deletes the file if
// this output wrote one. It does nothing after a successful Finish.
func (o *Output) Abort() error {
	if o.finished {
		return nil
	}
	var result *multierror.Error
	if err := o.enc.Abort(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := o.removeFile(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// removeFile deletes the output only when the muxer was asked to write
// it, so a file already at the path survives an early abort.
func (o *Output) removeFile() error {
	if !o.muxer.stopped {
		return nil
	}
	exists, err := o.fs.Exists(o.opts.Path)
	if err != nil || !exists {
		return err
	}
	if err := o.fs.Remove(o.opts.Path); err != nil {
		return fmt.Errorf("remove %s: %w", o.opts.Path, err)
	}
	return nil
}

var _ ports.FrameOutput = (*Output)(nil)

// trackedMuxer records whether Stop, which writes the container, ran.
type trackedMuxer struct {
	ports.Muxer
	stopped bool
}

func (m *trackedMuxer) Stop() error {
	m.stopped = true
	return m.Muxer.Stop()
}
