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
	"fmt"
	"time"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// FrameSetVersion is bumped when the manifest layout changes.
const FrameSetVersion = 1

// Frame is one extracted still.
type Frame struct {
	Index     int      `json:"index"`
	Key       string   `json:"key"`
	Timestamp float64  `json:"timestamp_seconds"`
	Labels    []string `json:"labels,omitempty"`
}

// Manifest describes a FrameSet. It is written after every frame and the
// audio track are stored, so its presence means the set is complete.
type Manifest struct {
	Version      int       `json:"version"`
	VideoID      string    `json:"video_id"`
	SourceBucket string    `json:"source_bucket"`
	SourceKey    string    `json:"source_key"`
	AudioKey     string    `json:"audio_key"`
	Interval     float64   `json:"interval_seconds"`
	Frames       []Frame   `json:"frames"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks a manifest read back from storage.
func (m Manifest) Validate() error {
	if m.VideoID == "" || m.AudioKey == "" {
		return fmt.Errorf("manifest is missing its video id or audio key")
	}
	if len(m.Frames) == 0 {
		return fmt.Errorf("manifest for %s lists no frames", m.VideoID)
	}
	return nil
}

// VideoID is the identifier shared by all artifacts derived from a video:
// the source key without its extension.
func VideoID(key string) string {
	return pipeline.TrimExt(key)
}

// AudioKey is where the audio track of a video lives in the audio area.
func AudioKey(videoID string) string {
	return videoID + ".wav"
}

// TranscriptKey is where the external transcription engine writes its
// result in the audio area.
func TranscriptKey(videoID string) string {
	return videoID + ".json"
}

// ManifestKey is the manifest location in the frames area.
func ManifestKey(videoID string) string {
	return videoID + "/manifest.json"
}

// FrameKey is the location of frame n (1-based) in the frames area.
func FrameKey(videoID string, n int) string {
	return fmt.Sprintf("%s/frames/frame-%06d.jpg", videoID, n)
}
