package encode

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/user/detectshow/pkg/adapters/logger"
	"github.com/user/detectshow/pkg/adapters/mp4demuxer"
	"github.com/user/detectshow/pkg/adapters/mp4muxer"
	"github.com/user/detectshow/pkg/adapters/softgl"
	"github.com/user/detectshow/pkg/mocks"
	"github.com/user/detectshow/pkg/pipeline"
)

const outPath = "/out/annotated.mp4"

func newOutput(t *testing.T, fs *mocks.FileSystem, codec *mocks.EncoderCodec) *Output {
	t.Helper()
	codecs := &mocks.CodecFactory{Encoder: codec}
	out, err := New(Options{Path: outPath, Width: 64, Height: 64, FrameRate: 10}, codecs, mp4muxer.New(fs, outPath), softgl.New(), fs, logger.NewNoop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return out
}

func frame(i int) pipeline.AnnotatedFrame {
	return pipeline.AnnotatedFrame{
		Index:          i,
		PresentationUs: int64(i) * 100_000,
		Image:          image.NewRGBA(image.Rect(0, 0, 64, 64)),
	}
}

func TestOutput_WritesVideo(t *testing.T) {
	fs := mocks.NewFileSystem()
	codec := &mocks.EncoderCodec{Latency: 1}
	out := newOutput(t, fs, codec)

	for i := 0; i < 5; i++ {
		if err := out.Write(context.Background(), frame(i)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	artifact, err := out.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if artifact.Mode != pipeline.OutputVideo || artifact.VideoPath != outPath {
		t.Errorf("unexpected artifact: %+v", artifact)
	}
	data, ok := fs.GetFile(outPath)
	if !ok || int64(len(data)) != artifact.FileSize || artifact.FileSize == 0 {
		t.Fatalf("expected a non-empty file of %d bytes", artifact.FileSize)
	}

	dmx := mp4demuxer.New(fs)
	if err := dmx.Open(outPath); err != nil {
		t.Fatalf("demux output: %v", err)
	}
	defer dmx.Close()
	format, err := dmx.TrackFormat(0)
	if err != nil {
		t.Fatalf("TrackFormat failed: %v", err)
	}
	if format.MIME != "video/avc" || format.Width != 64 || format.Height != 64 {
		t.Errorf("unexpected track: %+v", format)
	}
	if err := dmx.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack failed: %v", err)
	}
	var pts []int64
	for {
		au, err := dmx.ReadSample()
		if err != nil {
			break
		}
		pts = append(pts, au.PresentationUs)
	}
	if len(pts) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(pts))
	}
	for i, p := range pts {
		if p != int64(i)*100_000 {
			t.Errorf("sample %d pts = %d", i, p)
		}
	}

	if err := out.Abort(); err != nil {
		t.Errorf("Abort after Finish should be a no-op, got %v", err)
	}
	if _, ok := fs.GetFile(outPath); !ok {
		t.Error("Abort after Finish must keep the file")
	}
}

func TestOutput_Abort(t *testing.T) {
	fs := mocks.NewFileSystem()
	codec := &mocks.EncoderCodec{}
	out := newOutput(t, fs, codec)

	for i := 0; i < 3; i++ {
		if err := out.Write(context.Background(), frame(i)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	if err := out.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if len(fs.GetAllFiles()) != 0 {
		t.Errorf("expected no files after abort, got %d", len(fs.GetAllFiles()))
	}
	if !codec.Released || !codec.Stopped {
		t.Error("expected the codec to be stopped and released")
	}
	if !codec.Surface().Released {
		t.Error("expected the input surface to be released")
	}
}

func TestOutput_AbortKeepsExistingFile(t *testing.T) {
	fs := mocks.NewFileSystem()
	previous := []byte("earlier render")
	if err := fs.WriteFile(outPath, previous); err != nil {
		t.Fatal(err)
	}
	out := newOutput(t, fs, &mocks.EncoderCodec{})

	if err := out.Write(context.Background(), frame(0)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := out.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	data, ok := fs.GetFile(outPath)
	if !ok || string(data) != string(previous) {
		t.Error("Abort must not delete a file this output never wrote")
	}
}

func TestOutput_FinishWithoutFrames(t *testing.T) {
	fs := mocks.NewFileSystem()
	out := newOutput(t, fs, &mocks.EncoderCodec{})

	if _, err := out.Finish(context.Background()); !errors.Is(err, ErrNoFrames) {
		t.Errorf("expected ErrNoFrames, got %v", err)
	}
	if len(fs.GetAllFiles()) != 0 {
		t.Error("expected no file")
	}
}

func TestOutput_WriteCanceled(t *testing.T) {
	fs := mocks.NewFileSystem()
	out := newOutput(t, fs, &mocks.EncoderCodec{})
	defer out.Abort()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := out.Write(ctx, frame(0)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOutput_UnsupportedEncoder(t *testing.T) {
	fs := mocks.NewFileSystem()
	codecs := &mocks.CodecFactory{EncoderErr: pipeline.ErrUnsupportedCodec}
	_, err := New(Options{Path: outPath, Width: 64, Height: 64}, codecs, mp4muxer.New(fs, outPath), softgl.New(), fs, logger.NewNoop())
	if !errors.Is(err, pipeline.ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
}
