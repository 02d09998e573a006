// SPDX-License-Identifier: MIT

package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	probeTimeout = 10 * time.Second
	trimTimeout  = 5 * time.Minute

	// silenceremove parameters; chosen to drop dead air at either end of a
	// capture without clipping quiet intros or fade-outs.
	trimStartDuration = "0.1"
	trimThreshold     = "-50dB"
	trimStopDuration  = "0.5"
)

// trimFilter removes one leading silence run and, via stop_periods=-1, every
// trailing one. stop_duration is inert unless stop_periods is set.
func trimFilter() string {
	return fmt.Sprintf(
		"silenceremove=start_periods=1:start_duration=%s:start_threshold=%s:stop_periods=-1:stop_duration=%s:stop_threshold=%s",
		trimStartDuration, trimThreshold, trimStopDuration, trimThreshold)
}

// Prober reports the duration of an audio file.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Trimmer removes leading and trailing silence from a capture in place.
type Trimmer interface {
	TrimSilence(ctx context.Context, path string) error
}

// FFmpeg implements probing and trimming by shelling out to ffprobe/ffmpeg.
type FFmpeg struct {
	FFprobeBinary string // defaults to "ffprobe"
	FFmpegBinary  string // defaults to "ffmpeg"
}

// Duration probes the container duration via ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	bin := f.FFprobeBinary
	if bin == "" {
		bin = "ffprobe"
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, firstLine(stderr.String()))
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: bad duration %q", path, stdout.String())
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// TrimSilence re-encodes the file with leading and trailing silence removed,
// replacing it atomically. The source is kept untouched when ffmpeg fails.
func (f *FFmpeg) TrimSilence(ctx context.Context, path string) error {
	bin := f.FFmpegBinary
	if bin == "" {
		bin = "ffmpeg"
	}

	ctx, cancel := context.WithTimeout(ctx, trimTimeout)
	defer cancel()

	tmp := path + ".trim" + ext(path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-i", path,
		"-af", trimFilter(),
		tmp,
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ffmpeg trim %s: %w: %s", path, err, firstLine(stderr.String()))
	}
	return os.Rename(tmp, path)
}

func ext(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}
