// Package framestore implements the frame sequence output: each annotated
// sample is written as a numbered JPEG into a run-scoped directory.
package framestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

// DefaultQuality is the JPEG quality of stored frames.
const DefaultQuality = 85

// ManifestName is the JSON index written next to the frames by Finish.
const ManifestName = "frames.json"

// ErrNoFrames is returned by Finish when no frame was written.
var ErrNoFrames = errors.New("framestore: no frames were written")

// Options configures the frame store.
type Options struct {
	// Dir receives the frames. Empty creates frames_<uuid> under the
	// file system's temp directory.
	Dir string

	// Quality is the JPEG quality (1-100). Zero selects DefaultQuality.
	Quality int
}

// Store writes annotated frames as frame_<sample index>.jpg, so skipped
// samples leave gaps in the numbering.
type Store struct {
	fs       ports.FileSystem
	renderer ports.Renderer
	logger   ports.Logger
	dir      string
	ownsDir  bool
	quality  int

	records  []pipeline.FrameRecord
	finished bool
}

// New creates the output directory and returns a store writing into it.
// A directory that already exists is never removed, only the files the
// store wrote into it.
func New(opts Options, fs ports.FileSystem, renderer ports.Renderer, logger ports.Logger) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(fs.TempDir(), "frames_"+uuid.NewString())
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	existed, err := fs.Exists(dir)
	if err != nil {
		return nil, fmt.Errorf("check frame directory: %w", err)
	}
	if err := fs.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}

	s := &Store{
		fs:       fs,
		renderer: renderer,
		logger:   logger.WithComponent("framestore"),
		dir:      dir,
		ownsDir:  !existed,
		quality:  quality,
	}
	s.logger.Debug("Writing frames to %s", dir)
	return s, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// Write encodes one frame and records its detections.
func (s *Store) Write(ctx context.Context, frame pipeline.AnnotatedFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.renderer.EncodeImage(frame.Image, ports.FormatJPEG, s.quality)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.Index, err)
	}

	path := filepath.Join(s.dir, FrameName(frame.Index))
	if err := s.fs.WriteFile(path, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	dets := frame.Detections
	if dets == nil {
		dets = []pipeline.Detection{}
	}
	s.records = append(s.records, pipeline.FrameRecord{
		Path:           path,
		PresentationUs: frame.PresentationUs,
		Detections:     dets,
	})
	return nil
}

// Finish writes the manifest and returns the ordered frame records.
func (s *Store) Finish(ctx context.Context) (pipeline.Artifact, error) {
	if len(s.records) == 0 {
		s.Abort()
		return pipeline.Artifact{}, ErrNoFrames
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.fs.WriteFile(filepath.Join(s.dir, ManifestName), data); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("write manifest: %w", err)
	}
	s.finished = true
	s.logger.Info("Stored %d frames in %s", len(s.records), s.dir)

	return pipeline.Artifact{
		Mode:          pipeline.OutputFrames,
		FrameDir:      s.dir,
		Frames:        append([]pipeline.FrameRecord(nil), s.records...),
		FrameDirOwned: s.ownsDir,
	}, nil
}

// Abort deletes every frame written so far, and the directory when the
// store created it. It does nothing after a successful Finish.
func (s *Store) Abort() error {
	if s.finished {
		return nil
	}
	records := s.records
	s.records = nil
	return Remove(s.fs, s.dir, records, s.ownsDir)
}

// Discard deletes the files of a frame sequence artifact.
func Discard(fs ports.FileSystem, artifact pipeline.Artifact) error {
	if artifact.FrameDir == "" {
		return nil
	}
	return Remove(fs, artifact.FrameDir, artifact.Frames, artifact.FrameDirOwned)
}

// Remove deletes the given frames and the manifest from dir. The directory
// itself is removed only when owned.
func Remove(fs ports.FileSystem, dir string, records []pipeline.FrameRecord, owned bool) error {
	if owned {
		if err := fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
		return nil
	}
	var result *multierror.Error
	paths := make([]string, 0, len(records)+1)
	for _, rec := range records {
		paths = append(paths, rec.Path)
	}
	paths = append(paths, filepath.Join(dir, ManifestName))
	for _, p := range paths {
		ok, err := fs.Exists(p)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			continue
		}
		if err := fs.Remove(p); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return result.ErrorOrNil()
}

// FrameName returns the file name of the frame at index.
func FrameName(index int) string {
	return fmt.Sprintf("frame_%04d.jpg", index)
}

var _ ports.FrameOutput = (*Store)(nil)
