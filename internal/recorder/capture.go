// SPDX-License-Identifier: MIT

package recorder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Capturer starts a recording of the mixer's output stream into destPath.
type Capturer interface {
	Start(ctx context.Context, destPath string) (CaptureHandle, error)
}

// CaptureHandle controls a running capture.
type CaptureHandle interface {
	// Stop ends the capture and flushes the file.
	Stop() error
}

// StreamCapturer records the mixer output over HTTP with ffmpeg, copying the
// Vorbis stream without re-encoding.
type StreamCapturer struct {
	Binary    string // defaults to "ffmpeg"
	StreamURL string
}

// Start launches the capture process. The returned handle must be stopped.
func (c *StreamCapturer) Start(ctx context.Context, destPath string) (CaptureHandle, error) {
	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-i", c.StreamURL,
		"-c:a", "copy",
		"-f", "ogg",
		destPath,
	)
	// A graceful stop lets ffmpeg finalize the container.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	return &processHandle{cmd: cmd}, nil
}

type processHandle struct {
	cmd *exec.Cmd
}

func (h *processHandle) Stop() error {
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = h.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		_ = h.cmd.Process.Kill()
		<-done
		return fmt.Errorf("capture did not exit, killed")
	}
}
