// Package encoder drives a surface-input video encoder: frames are drawn
// through a rendering context into the encoder's input surface and the
// compressed output is multiplexed into a container.
package encoder

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/user/detectshow/pkg/glrender"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

var (
	// ErrInvalidState is returned for calls not allowed in the current state.
	ErrInvalidState = errors.New("encoder: invalid state")

	// ErrNonMonotonicPTS is returned when a frame is older than its predecessor.
	ErrNonMonotonicPTS = errors.New("encoder: presentation time went backwards")

	// ErrFormatChangedTwice is returned when the codec reports a second output format.
	ErrFormatChangedTwice = errors.New("encoder: output format changed twice")
)

// State is the lifecycle state of an Encoder.
type State int

const (
	StateConfigured State = iota
	StateEncoding
	StateDraining
	StateClosed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateEncoding:
		return "encoding"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes the encoded stream.
type Config struct {
	MIME              string
	Width             int
	Height            int
	FrameRate         float64
	BitRate           int
	IFrameIntervalSec int

	// DequeueTimeout bounds each wait for encoder output.
	DequeueTimeout time.Duration
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MIME:              "video/avc",
		FrameRate:         30,
		BitRate:           4_000_000,
		IFrameIntervalSec: 1,
		DequeueTimeout:    10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MIME == "" {
		c.MIME = d.MIME
	}
	if c.FrameRate <= 0 {
		c.FrameRate = d.FrameRate
	}
	if c.BitRate <= 0 {
		c.BitRate = d.BitRate
	}
	if c.IFrameIntervalSec <= 0 {
		c.IFrameIntervalSec = d.IFrameIntervalSec
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = d.DequeueTimeout
	}
	return c
}

// Encoder owns one encoding session. All methods must be called from the
// goroutine that called New, which holds the rendering context current.
type Encoder struct {
	cfg     Config
	codec   ports.EncoderCodec
	muxer   ports.Muxer
	display ports.Display
	logger  ports.Logger

	input    ports.InputSurface
	ctx      ports.RenderContext
	surface  ports.Surface
	renderer *glrender.FrameRenderer

	state         State
	track         int
	muxerStarted  bool
	formatChanges int
	lastPTS       int64
	frames        int
	samples       int
}

// New configures codec for surface input, binds a rendering context to
// its input surface and prepares the frame renderer. On failure every
// resource acquired so far is released.
func New(cfg Config, codec ports.EncoderCodec, muxer ports.Muxer, display ports.Display, logger ports.Logger) (*Encoder, error) {
	cfg = cfg.withDefaults()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", pipeline.ErrInvalidVideoProperties, cfg.Width, cfg.Height)
	}

	e := &Encoder{
		cfg:     cfg,
		codec:   codec,
		muxer:   muxer,
		display: display,
		logger:  logger.WithComponent("encoder"),
		track:   -1,
		lastPTS: -1,
	}
	if err := e.setup(); err != nil {
		if tErr := e.teardown(false); tErr != nil {
			e.logger.Warn("Teardown after failed setup: %v", tErr)
		}
		return nil, err
	}
	e.logger.Debug("Encoder configured: %s %dx%d @ %.2f fps, %d bps", cfg.MIME, cfg.Width, cfg.Height, cfg.FrameRate, cfg.BitRate)
	return e, nil
}

func (e *Encoder) setup() error {
	err := e.codec.Configure(pipeline.EncoderFormat{
		MIME:              e.cfg.MIME,
		Width:             e.cfg.Width,
		Height:            e.cfg.Height,
		FrameRate:         e.cfg.FrameRate,
		BitRate:           e.cfg.BitRate,
		IFrameIntervalSec: e.cfg.IFrameIntervalSec,
	})
	if err != nil {
		return fmt.Errorf("configure codec: %w", err)
	}
	if e.input, err = e.codec.CreateInputSurface(); err != nil {
		return fmt.Errorf("create input surface: %w", err)
	}
	if err = e.codec.Start(); err != nil {
		return fmt.Errorf("start codec: %w", err)
	}

	if err = e.display.Initialize(); err != nil {
		return fmt.Errorf("initialize display: %w", err)
	}
	if e.ctx, err = e.display.CreateContext(); err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	if e.surface, err = e.display.CreateWindowSurface(e.input); err != nil {
		return fmt.Errorf("create window surface: %w", err)
	}
	if err = e.display.MakeCurrent(e.surface, e.ctx); err != nil {
		return fmt.Errorf("make current: %w", err)
	}

	gl := e.ctx.GL()
	if err = gl.Viewport(0, 0, e.cfg.Width, e.cfg.Height); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}
	if err = gl.ClearColor(0, 0, 0, 1); err != nil {
		return fmt.Errorf("clear color: %w", err)
	}
	if e.renderer, err = glrender.New(gl); err != nil {
		return err
	}
	return nil
}

// State returns the current lifecycle state.
func (e *Encoder) State() State { return e.state }

// Samples returns the number of compressed samples written to the muxer.
func (e *Encoder) Samples() int { return e.samples }

// SubmitFrame draws img and presents it with the given presentation time,
// which enqueues one frame for encoding. Pending output is drained first
// without waiting.
func (e *Encoder) SubmitFrame(img *image.RGBA, ptsUs int64) error {
	if e.state != StateConfigured && e.state != StateEncoding {
		return fmt.Errorf("%w: submit in state %s", ErrInvalidState, e.state)
	}
	if ptsUs < e.lastPTS {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonicPTS, ptsUs, e.lastPTS)
	}
	e.state = StateEncoding

	if err := e.drain(false); err != nil {
		return err
	}

	gl := e.ctx.GL()
	if err := gl.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := e.renderer.Draw(img); err != nil {
		return err
	}
	if err := e.display.SetPresentationTime(e.surface, ptsUs*1000); err != nil {
		return fmt.Errorf("set presentation time: %w", err)
	}
	if err := e.display.SwapBuffers(e.surface); err != nil {
		return fmt.Errorf("swap buffers: %w", err)
	}

	e.lastPTS = ptsUs
	e.frames++
	return nil
}

// Finish signals end of input, drains every remaining sample and
// releases all resources. It is valid from Configured and Encoding.
func (e *Encoder) Finish() error {
	if e.state != StateConfigured && e.state != StateEncoding {
		return fmt.Errorf("%w: finish in state %s", ErrInvalidState, e.state)
	}
	e.state = StateDraining

	var result *multierror.Error
	if err := e.codec.SignalEndOfInputStream(); err != nil {
		result = multierror.Append(result, fmt.Errorf("signal end of input: %w", err))
	} else if err := e.drain(true); err != nil {
		result = multierror.Append(result, err)
	}

	if err := e.teardown(true); err != nil {
		result = multierror.Append(result, err)
	}
	e.logger.Debug("Encoder finished: %d frames in, %d samples out", e.frames, e.samples)
	return result.ErrorOrNil()
}

// Abort releases all resources without draining. The muxer is released
// without being stopped, so no container is written.
func (e *Encoder) Abort() error {
	if e.state == StateClosed {
		return nil
	}
	return e.teardown(false)
}

// drain moves ready output into the muxer. Without eos it returns as soon
// as no output is ready; with eos it waits for the end-of-stream buffer.
func (e *Encoder) drain(eos bool) error {
	for {
		ev, err := e.codec.DequeueOutputBuffer(e.cfg.DequeueTimeout)
		if err != nil {
			return fmt.Errorf("dequeue output: %w", err)
		}

		switch ev.Status {
		case ports.OutputTryAgainLater:
			if !eos {
				return nil
			}

		case ports.OutputFormatChanged:
			if err := e.formatChanged(ev.Format); err != nil {
				return err
			}

		case ports.OutputBufferReady:
			done, err := e.writeSample(ev)
			if err != nil {
				return err
			}
			if done {
				e.logger.Debug("End of stream reached on drain")
				return nil
			}
		}
	}
}

func (e *Encoder) formatChanged(format pipeline.TrackFormat) error {
	e.formatChanges++
	if e.formatChanges > 1 {
		return ErrFormatChangedTwice
	}
	if format.FrameRate == 0 {
		format.FrameRate = e.cfg.FrameRate
	}
	track, err := e.muxer.AddTrack(format)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	if err := e.muxer.Start(); err != nil {
		return fmt.Errorf("start muxer: %w", err)
	}
	e.track = track
	e.muxerStarted = true
	e.logger.Debug("Encoder output format: %s %dx%d", format.MIME, format.Width, format.Height)
	return nil
}

// writeSample hands one output buffer to the muxer and releases it. It
// reports whether the buffer carried end of stream.
func (e *Encoder) writeSample(ev ports.OutputEvent) (bool, error) {
	info := ev.Info
	if info.Flags.Has(pipeline.FlagCodecConfig) {
		// Parameter sets already travelled with the format change.
		info.Size = 0
	}

	var writeErr error
	if info.Size > 0 {
		if !e.muxerStarted {
			writeErr = pipeline.ErrMuxerNotStarted
		} else if data, err := e.codec.OutputBuffer(ev.Index); err != nil {
			writeErr = fmt.Errorf("output buffer: %w", err)
		} else if err := e.muxer.WriteSampleData(e.track, data, info); err != nil {
			writeErr = fmt.Errorf("write sample: %w", err)
		} else {
			e.samples++
		}
	}

	if err := e.codec.ReleaseOutputBuffer(ev.Index); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("release output buffer: %w", err)
	}
	if writeErr != nil {
		return false, writeErr
	}
	return info.Flags.Has(pipeline.FlagEndOfStream), nil
}

// teardown releases resources in dependency order: rendering context,
// codec, muxer, then the input surface. The muxer is stopped only when
// stopMuxer is set and it was started. Every step runs even if an
// earlier one failed.
func (e *Encoder) teardown(stopMuxer bool) error {
	var result *multierror.Error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}

	if e.renderer != nil {
		step("release renderer", e.renderer.Release)
		e.renderer = nil
	}
	if e.ctx != nil || e.surface != nil {
		step("release current", e.display.ReleaseCurrent)
	}
	if e.surface != nil {
		s := e.surface
		step("destroy surface", func() error { return e.display.DestroySurface(s) })
		e.surface = nil
	}
	if e.ctx != nil {
		c := e.ctx
		step("destroy context", func() error { return e.display.DestroyContext(c) })
		e.ctx = nil
	}
	step("terminate display", e.display.Terminate)

	step("stop codec", e.codec.Stop)
	step("release codec", e.codec.Release)

	if stopMuxer && e.muxerStarted {
		step("stop muxer", e.muxer.Stop)
	}
	step("release muxer", e.muxer.Release)

	if e.input != nil {
		step("release input surface", e.input.Release)
		e.input = nil
	}

	e.state = StateClosed
	return result.ErrorOrNil()
}
