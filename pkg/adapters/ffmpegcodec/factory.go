package ffmpegcodec

import (
	"fmt"

	"github.com/user/detectshow/pkg/adapters/codecdetect"
	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// Factory implements ports.CodecFactory. Decoders accept AVC and HEVC;
// the encoder produces AVC only.
type Factory struct {
	ffmpegPath string
	poolSize   int
	logger     ports.Logger
}

// NewFactory locates ffmpeg (see FindFFmpeg) and returns a factory for it.
// poolSize is the decoded frame pool depth, 0 for the default.
func NewFactory(customPath string, poolSize int, logger ports.Logger) (*Factory, error) {
	path, err := FindFFmpeg(customPath)
	if err != nil {
		return nil, err
	}
	return &Factory{ffmpegPath: path, poolSize: poolSize, logger: logger.WithComponent("ffmpeg")}, nil
}

// Path returns the ffmpeg executable in use.
func (f *Factory) Path() string { return f.ffmpegPath }

// NewDecoder returns a decoder for mime.
func (f *Factory) NewDecoder(mime string) (ports.DecoderCodec, error) {
	switch mime {
	case codecdetect.MIMEAVC, codecdetect.MIMEHEVC:
		return NewDecoder(f.ffmpegPath, f.poolSize, f.logger), nil
	default:
		return nil, fmt.Errorf("%w: no ffmpeg decoder for %s", pipeline.ErrUnsupportedCodec, mime)
	}
}

// NewEncoder returns an encoder for mime.
func (f *Factory) NewEncoder(mime string) (ports.EncoderCodec, error) {
	if mime != codecdetect.MIMEAVC {
		return nil, fmt.Errorf("%w: no ffmpeg encoder for %s", pipeline.ErrUnsupportedCodec, mime)
	}
	return NewEncoder(f.ffmpegPath, f.logger), nil
}

var _ ports.CodecFactory = (*Factory)(nil)
