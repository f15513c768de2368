package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// frameSource is the part of decoder.Decoder the sampler needs.
type frameSource interface {
	Next(ctx context.Context) (*pipeline.DecodedFrame, error)
	SeekTo(us int64) error
}

// sampler picks, for each sample time, the last decoded frame whose
// presentation time is at or before it. It holds at most two frames: the
// current pick and one lookahead frame, so the decoder pool must be at
// least two deep.
type sampler struct {
	src    frameSource
	logger ports.Logger

	// seekThreshold is how far the current frame may lag behind a sample
	// time before the decoder is repositioned. Zero disables seeking.
	seekThreshold int64

	cur  *pipeline.DecodedFrame
	next *pipeline.DecodedFrame
	eos  bool

	seeks int
}

// At returns the frame for sample time us. Times before the first decoded
// frame map to the first frame. The frame stays owned by the sampler.
func (s *sampler) At(ctx context.Context, us int64) (*pipeline.DecodedFrame, error) {
	if s.shouldSeek(us) {
		if err := s.seek(ctx, us); err != nil {
			return nil, err
		}
	}

	for {
		if s.next == nil && !s.eos {
			f, err := s.src.Next(ctx)
			switch {
			case errors.Is(err, io.EOF):
				s.eos = true
			case err != nil:
				return nil, err
			default:
				s.next = f
			}
		}
		if s.next == nil {
			break
		}
		if s.cur != nil && s.next.PresentationUs > us {
			break
		}
		if s.cur != nil {
			s.cur.Release()
		}
		s.cur, s.next = s.next, nil
	}

	if s.cur == nil {
		return nil, fmt.Errorf("%w: decoder produced no frames", pipeline.ErrCorruptStream)
	}
	return s.cur, nil
}

// shouldSeek reports whether decoding forward to us would walk through
// more than seekThreshold of frames.
func (s *sampler) shouldSeek(us int64) bool {
	if s.seekThreshold <= 0 || s.cur == nil || s.eos {
		return false
	}
	if s.next != nil && s.next.PresentationUs > us {
		return false
	}
	return us-s.cur.PresentationUs > s.seekThreshold
}

func (s *sampler) seek(ctx context.Context, us int64) error {
	before := s.cur.PresentationUs
	s.Release()
	if err := s.src.SeekTo(us); err != nil {
		return err
	}
	s.seeks++

	// A sync sample at or before the current frame means the seek cannot
	// skip anything; stop seeking for this source.
	f, err := s.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.eos = true
		return nil
	}
	if err != nil {
		return err
	}
	if f.PresentationUs <= before {
		s.logger.Debug("Seeking disabled: sync samples are %d us or more apart", us-f.PresentationUs)
		s.seekThreshold = 0
	}
	s.next = f
	return nil
}

// Release returns every held frame to the decoder.
func (s *sampler) Release() {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	if s.next != nil {
		s.next.Release()
		s.next = nil
	}
}
