// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package videoprocessing

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cardinalhq/rawetl/internal/toolexec"
)

// ExtractedFrame is a frame written to local disk.
type ExtractedFrame struct {
	Path      string
	Timestamp time.Duration
}

// AudioExtractor writes the audio track of a video to dest.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, dest string) error
}

// FrameExtractor writes one frame per interval into outDir.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath, outDir string, interval time.Duration) ([]ExtractedFrame, error)
}

// Labeler describes what is visible in a frame.
type Labeler interface {
	Labels(ctx context.Context, framePath string) ([]string, error)
}

// FFmpeg extracts audio and frames with the ffmpeg command-line tool.
type FFmpeg struct {
	Binary string
	run    toolexec.Runner
}

var (
	_ AudioExtractor = (*FFmpeg)(nil)
	_ FrameExtractor = (*FFmpeg)(nil)
)

func NewFFmpeg(runner toolexec.Runner) *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg", run: toolexec.OrDefault(runner)}
}

// ExtractAudio writes a mono 16kHz WAV, the format speech engines expect.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if _, err := f.run(ctx, f.Binary, args...); err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w", err)
	}
	return nil
}

func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, outDir string, interval time.Duration) ([]ExtractedFrame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("ffmpeg extract frames: invalid interval %s", interval)
	}
	fps := "fps=1/" + strconv.FormatFloat(interval.Seconds(), 'f', -1, 64)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fps,
		"-q:v", "2",
		filepath.Join(outDir, "frame-%06d.jpg"),
	}
	if _, err := f.run(ctx, f.Binary, args...); err != nil {
		return nil, fmt.Errorf("ffmpeg extract frames: %w", err)
	}
	return collectFrames(outDir, interval)
}

// collectFrames lists frame-NNNNNN.jpg files in order. Frame n was taken
// at (n-1) intervals into the video.
func collectFrames(dir string, interval time.Duration) ([]ExtractedFrame, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "frame-*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]ExtractedFrame, 0, len(paths))
	for i, p := range paths {
		out = append(out, ExtractedFrame{Path: p, Timestamp: time.Duration(i) * interval})
	}
	return out, nil
}
