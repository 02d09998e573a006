// SPDX-License-Identifier: MIT

package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Downloader fetches a remote source into a local audio file and reports
// best-effort title/artist metadata.
type Downloader interface {
	Download(ctx context.Context, url, destDir, baseName string) (*DownloadResult, error)
}

// DownloadResult describes a completed download.
type DownloadResult struct {
	FilePath string
	Title    string
	Artist   string
}

// YTDLPDownloader shells out to yt-dlp for extraction and transcoding.
type YTDLPDownloader struct {
	Binary  string        // defaults to "yt-dlp"
	Timeout time.Duration // per-download deadline
}

// Download runs yt-dlp, extracting audio as mp3 into destDir/baseName.mp3.
// Title and artist come from the --print output; either may be empty.
func (d *YTDLPDownloader) Download(ctx context.Context, url, destDir, baseName string) (*DownloadResult, error) {
	bin := d.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dest := filepath.Join(destDir, baseName+".mp3")
	outTmpl := filepath.Join(destDir, baseName+".%(ext)s")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"--no-playlist",
		"--extract-audio",
		"--audio-format", "mp3",
		"--print", "after_move:%(title)s\n%(artist,uploader)s",
		"--no-simulate",
		"-o", outTmpl,
		url,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(dest)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("download timed out after %s", timeout)
		}
		return nil, fmt.Errorf("yt-dlp: %w: %s", err, firstLine(stderr.String()))
	}
	if _, err := os.Stat(dest); err != nil {
		return nil, fmt.Errorf("download produced no file: %w", err)
	}

	res := &DownloadResult{FilePath: dest}
	lines := strings.SplitN(strings.TrimSpace(stdout.String()), "\n", 3)
	if len(lines) > 0 {
		res.Title = cleanField(lines[0])
	}
	if len(lines) > 1 {
		res.Artist = cleanField(lines[1])
	}
	return res, nil
}

func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
