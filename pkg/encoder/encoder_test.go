package encoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/detectshow/pkg/adapters/logger"
	"github.com/user/detectshow/pkg/adapters/softgl"
	"github.com/user/detectshow/pkg/mocks"
	"github.com/user/detectshow/pkg/pipeline"
)

type fixture struct {
	log     *mocks.CallLog
	codec   *mocks.EncoderCodec
	muxer   *mocks.Muxer
	gl      *softgl.Display
	display *mocks.Display
}

func newFixture() *fixture {
	log := &mocks.CallLog{}
	gl := softgl.New()
	return &fixture{
		log:     log,
		codec:   &mocks.EncoderCodec{Log: log},
		muxer:   &mocks.Muxer{Log: log},
		gl:      gl,
		display: &mocks.Display{Inner: gl, Log: log},
	}
}

func (f *fixture) open(t *testing.T) *Encoder {
	t.Helper()
	e, err := New(Config{Width: 16, Height: 8, FrameRate: 10}, f.codec, f.muxer, f.display, logger.NewNoop())
	require.NoError(t, err)
	return e
}

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestEncoder_EncodesAllFrames(t *testing.T) {
	f := newFixture()
	f.codec.Latency = 2
	e := f.open(t)
	assert.Equal(t, StateConfigured, e.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, e.SubmitFrame(solid(color.RGBA{R: 200, A: 255}), int64(i)*100_000))
	}
	assert.Equal(t, StateEncoding, e.State())
	assert.False(t, f.muxer.Started, "muxer must wait for the format change")

	require.NoError(t, e.Finish())
	assert.Equal(t, StateClosed, e.State())

	require.Len(t, f.muxer.Tracks, 1)
	assert.Equal(t, "video/avc", f.muxer.Tracks[0].MIME)
	require.Len(t, f.muxer.Samples, 3)
	for i, s := range f.muxer.Samples {
		assert.Equal(t, int64(i)*100_000, s.Info.PresentationUs)
		assert.False(t, bytes.Equal(s.Data, mocks.EncodedConfig), "codec config must not be muxed")
	}
	assert.True(t, f.muxer.Samples[0].Info.Flags.Has(pipeline.FlagKeyFrame))
	assert.True(t, f.muxer.Stopped)
	assert.True(t, f.muxer.Released)
	assert.Equal(t, 0, f.codec.Held(), "every output buffer must be released")
	assert.Equal(t, 3, e.Samples())

	surface := f.codec.Surface()
	require.Len(t, surface.Frames, 3)
	assert.Equal(t, color.RGBA{R: 200, A: 255}, surface.Frames[0].RGBAAt(3, 3))
}

func TestEncoder_TeardownOrder(t *testing.T) {
	f := newFixture()
	e := f.open(t)
	require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), 0))
	require.NoError(t, e.Finish())

	order := []string{
		"display.ReleaseCurrent",
		"display.DestroySurface",
		"display.DestroyContext",
		"display.Terminate",
		"encoder.Stop",
		"encoder.Release",
		"muxer.Stop",
		"muxer.Release",
		"surface.Release",
	}
	last := -1
	for _, name := range order {
		idx := f.log.Index(name)
		require.NotEqual(t, -1, idx, "%s was never called", name)
		assert.Greater(t, idx, last, "%s out of order in %v", name, f.log.Calls())
		last = idx
	}
	assert.Less(t, f.log.Index("encoder.SignalEndOfInputStream"), f.log.Index("display.ReleaseCurrent"),
		"output must be drained before any resource is released")
}

func TestEncoder_SampleBeforeFormatChange(t *testing.T) {
	f := newFixture()
	f.codec.SkipFormatChange = true
	e := f.open(t)
	require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), 0))

	err := e.Finish()
	assert.True(t, errors.Is(err, pipeline.ErrMuxerNotStarted), "got %v", err)
	assert.Equal(t, 0, f.codec.Held())
	assert.Empty(t, f.muxer.Samples)
	assert.False(t, f.muxer.Stopped, "a muxer that never started must not be stopped")
	assert.True(t, f.muxer.Released)
}

func TestEncoder_FormatChangedTwice(t *testing.T) {
	f := newFixture()
	f.codec.FormatChangeTwice = true
	e := f.open(t)
	require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), 0))

	err := e.Finish()
	assert.True(t, errors.Is(err, ErrFormatChangedTwice), "got %v", err)
	assert.Equal(t, StateClosed, e.State())
}

func TestEncoder_FinishWaitsForEndOfStream(t *testing.T) {
	f := newFixture()
	f.codec.Latency = 5
	f.codec.EOSDelay = 7
	e := f.open(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), int64(i)*1000))
	}

	require.NoError(t, e.Finish())
	assert.Equal(t, 7, f.codec.TryAgainAfterEOS)
	assert.Len(t, f.muxer.Samples, 4)
	assert.True(t, f.muxer.Stopped)
}

func TestEncoder_RejectsNonMonotonicPTS(t *testing.T) {
	f := newFixture()
	e := f.open(t)
	require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), 5000))
	require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), 5000))

	err := e.SubmitFrame(solid(color.RGBA{A: 255}), 4000)
	assert.True(t, errors.Is(err, ErrNonMonotonicPTS), "got %v", err)
	require.NoError(t, e.Abort())
}

func TestEncoder_Abort(t *testing.T) {
	f := newFixture()
	e := f.open(t)
	require.NoError(t, e.SubmitFrame(solid(color.RGBA{A: 255}), 0))

	require.NoError(t, e.Abort())
	assert.Equal(t, StateClosed, e.State())
	assert.Equal(t, -1, f.log.Index("encoder.SignalEndOfInputStream"))
	assert.False(t, f.muxer.Stopped)
	assert.True(t, f.muxer.Released)
	assert.True(t, f.codec.Released)
	assert.True(t, f.codec.Surface().Released)

	err := e.SubmitFrame(solid(color.RGBA{A: 255}), 1000)
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
	assert.True(t, errors.Is(e.Finish(), ErrInvalidState))
	assert.NoError(t, e.Abort(), "second abort is a no-op")
}

func TestEncoder_SetupFailureReleasesResources(t *testing.T) {
	f := newFixture()
	f.display.Fail = map[string]error{"MakeCurrent": errors.New("no config")}

	_, err := New(Config{Width: 16, Height: 8}, f.codec, f.muxer, f.display, logger.NewNoop())
	require.Error(t, err)
	assert.True(t, f.codec.Released)
	assert.True(t, f.muxer.Released)
	assert.False(t, f.muxer.Stopped)
	assert.True(t, f.codec.Surface().Released)
	assert.NotEqual(t, -1, f.log.Index("display.DestroySurface"))
	assert.NotEqual(t, -1, f.log.Index("display.DestroyContext"))
}

func TestEncoder_InvalidDimensions(t *testing.T) {
	f := newFixture()
	_, err := New(Config{Width: 0, Height: 8}, f.codec, f.muxer, f.display, logger.NewNoop())
	assert.True(t, errors.Is(err, pipeline.ErrInvalidVideoProperties), "got %v", err)
	assert.Equal(t, -1, f.log.Index("encoder.Configure"))
}

func TestEncoder_LostContext(t *testing.T) {
	f := newFixture()
	e := f.open(t)
	f.gl.Lose()

	err := e.SubmitFrame(solid(color.RGBA{A: 255}), 0)
	assert.True(t, errors.Is(err, pipeline.ErrLostContext), "got %v", err)
	assert.Error(t, e.Abort(), "releasing the program on a lost context fails")
	assert.True(t, f.muxer.Released)
	assert.Equal(t, StateClosed, e.State())
}
