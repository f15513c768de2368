// Package ffmpegcodec drives an ffmpeg subprocess through the buffer-queue
// codec protocol. Pipes are serviced by internal goroutines so dequeue calls
// behave like a hardware codec: bounded waits and try-again results.
package ffmpegcodec

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

var (
	// ErrFFmpegNotFound is returned when no ffmpeg executable can be located.
	ErrFFmpegNotFound = errors.New("ffmpegcodec: ffmpeg not found in PATH")

	// ErrNotConfigured is returned when Start is called before Configure.
	ErrNotConfigured = errors.New("ffmpegcodec: codec not configured")

	// ErrNotStarted is returned for buffer calls before Start or after Stop.
	ErrNotStarted = errors.New("ffmpegcodec: codec not started")

	// ErrProcessFailed is returned when the ffmpeg process exits abnormally.
	ErrProcessFailed = errors.New("ffmpegcodec: ffmpeg process failed")

	// ErrUnknownBuffer is returned for buffer indices the codec did not hand out.
	ErrUnknownBuffer = errors.New("ffmpegcodec: unknown buffer index")
)

// FindFFmpeg locates ffmpeg.
// Priority: 1) custom, 2) FFMPEG_PATH env, 3) PATH, 4) common locations
func FindFFmpeg(custom string) (string, error) {
	if custom != "" {
		if _, err := os.Stat(custom); err == nil {
			return custom, nil
		}
		return "", fmt.Errorf("%w: custom path %s not found", ErrFFmpegNotFound, custom)
	}

	if envPath := os.Getenv("FFMPEG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("%w: FFMPEG_PATH %s not found", ErrFFmpegNotFound, envPath)
	}

	execName := "ffmpeg"
	if runtime.GOOS == "windows" {
		execName = "ffmpeg.exe"
	}
	if path, err := exec.LookPath(execName); err == nil {
		return path, nil
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "windows":
		commonPaths = []string{
			`C:\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files\ffmpeg\bin\ffmpeg.exe`,
		}
	case "darwin":
		commonPaths = []string{
			"/opt/homebrew/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/usr/bin/ffmpeg",
		}
	default:
		commonPaths = []string{
			"/usr/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/snap/bin/ffmpeg",
		}
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", ErrFFmpegNotFound
}

// IsAvailable reports whether ffmpeg can be located.
func IsAvailable(custom string) bool {
	_, err := FindFFmpeg(custom)
	return err == nil
}

// wait blocks on ch for at most timeout. A non-positive timeout polls.
func wait[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	if timeout <= 0 {
		select {
		case v, ok := <-ch:
			return v, ok
		default:
			var zero T
			return zero, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-timer.C:
		var zero T
		return zero, false
	}
}
