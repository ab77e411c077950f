// Package media wraps the ffmpeg binary for audio extraction and remuxing.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrUnavailable is returned when the ffmpeg binary cannot be found.
var ErrUnavailable = errors.New("ffmpeg not available")

// FFmpeg runs extraction and remux jobs through an ffmpeg binary.
type FFmpeg struct {
	binary string

	once  sync.Once
	avail bool
}

// New returns an FFmpeg runner. An empty binary means "ffmpeg" from PATH.
func New(binary string) *FFmpeg {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// Binary returns the configured executable name or path.
func (f *FFmpeg) Binary() string { return f.binary }

// Available reports whether the binary resolves. Checked once and cached.
func (f *FFmpeg) Available() bool {
	f.once.Do(func() {
		_, err := exec.LookPath(f.binary)
		f.avail = err == nil
	})
	return f.avail
}

// Extract decodes the audio track of input into a mono 16-bit PCM WAV at
// sampleRate, written to dest.
func (f *FFmpeg) Extract(ctx context.Context, input, dest string, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("extract audio: invalid sample rate %d", sampleRate)
	}
	if !f.Available() {
		return ErrUnavailable
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		dest,
	}
	return f.run(ctx, "ffmpeg extract", args)
}

// Mux copies the first video stream of video and pairs it with audio,
// re-encoded to AAC and cut to the shorter of the two.
func (f *FFmpeg) Mux(ctx context.Context, video, audio, dest string) error {
	if !f.Available() {
		return ErrUnavailable
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("mux: %w", err)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		dest,
	}
	return f.run(ctx, "ffmpeg mux", args)
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	if !f.Available() {
		return "", ErrUnavailable
	}
	out, err := exec.CommandContext(ctx, f.binary, "-hide_banner", "-version").Output() //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("ffmpeg version: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", op, err, strings.TrimSpace(string(output)))
	}
	return nil
}
