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

package transcription

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

var testAreas = pipeline.Areas{
	pipeline.AreaRaw:     "raw",
	pipeline.AreaInterim: "interim",
	pipeline.AreaFrames:  "frames",
	pipeline.AreaAudio:   "audio",
	pipeline.AreaOutput:  "output",
}

const whisperClip = `{"segments": [{"start": 0, "end": 2, "text": "intro"}, {"start": 2, "end": 5, "text": "demo"}]}`

func writeFrameSet(t *testing.T, store *objstore.MemoryStore, videoID string, frames int, withAudio bool) {
	t.Helper()
	ctx := context.Background()
	m := videoprocessing.Manifest{
		Version:   videoprocessing.FrameSetVersion,
		VideoID:   videoID,
		SourceKey: videoID + ".mp4",
		AudioKey:  videoprocessing.AudioKey(videoID),
		Interval:  1,
	}
	for i := 1; i <= frames; i++ {
		f := videoprocessing.Frame{Index: i, Key: videoprocessing.FrameKey(videoID, i), Timestamp: float64(i - 1)}
		require.NoError(t, store.Put(ctx, "frames", f.Key, strings.NewReader("jpeg")))
		m.Frames = append(m.Frames, f)
	}
	if withAudio {
		require.NoError(t, store.Put(ctx, "audio", m.AudioKey, strings.NewReader("RIFF")))
	}
	require.NoError(t, objstore.WriteJSON(ctx, store, "frames", videoprocessing.ManifestKey(videoID), m))
}

func transcriptItem(videoID string, attempt int) pipeline.WorkItem {
	return pipeline.WorkItem{
		Area:    pipeline.AreaAudio,
		Bucket:  "audio",
		Key:     videoprocessing.TranscriptKey(videoID),
		Type:    pipeline.TypeTranscript,
		Attempt: attempt,
	}
}

func TestWorker_WritesAlignedOutput(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	writeFrameSet(t, store, "clip", 5, true)
	require.NoError(t, store.Put(ctx, "audio", "clip.json", strings.NewReader(whisperClip)))

	w := NewWorker(store, testAreas, DefaultConfig())
	require.NoError(t, w.Handle(ctx, transcriptItem("clip", 1)))

	var out Output
	require.NoError(t, objstore.ReadJSON(ctx, store, "output", "clip.json", &out))
	assert.Equal(t, "clip", out.VideoID)
	assert.Equal(t, "clip.mp4", out.SourceKey)
	assert.Equal(t, FormatWhisper, out.Format)
	assert.Equal(t, "intro demo", out.Transcript)
	assert.Equal(t, 5, out.FrameCount)
	require.Len(t, out.Segments, 2)
	assert.Len(t, out.Segments[0].Frames, 2)
	assert.Len(t, out.Segments[1].Frames, 3)

	// A duplicate event does not rewrite the output.
	require.NoError(t, w.Handle(ctx, transcriptItem("clip", 1)))
	assert.Equal(t, 1, store.PutCount("output", "clip.json"))
}

func TestWorker_FrameSetNotReady(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()

	tests := []struct {
		name  string
		setup func(*objstore.MemoryStore)
	}{
		{"no manifest", func(*objstore.MemoryStore) {}},
		{"no audio", func(s *objstore.MemoryStore) { writeFrameSet(t, s, "clip", 2, false) }},
		{"missing frame", func(s *objstore.MemoryStore) {
			writeFrameSet(t, s, "clip", 2, true)
			require.NoError(t, s.Delete(ctx, "frames", videoprocessing.FrameKey("clip", 2)))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := objstore.NewMemoryStore()
			tt.setup(store)
			require.NoError(t, store.Put(ctx, "audio", "clip.json", strings.NewReader(whisperClip)))
			w := NewWorker(store, testAreas, cfg)

			err := w.Handle(ctx, transcriptItem("clip", 1))
			re, ok := pipeline.AsRetryable(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, 30*time.Second, re.After)

			err = w.Handle(ctx, transcriptItem("clip", cfg.MaxAttempts))
			assert.ErrorIs(t, err, pipeline.ErrPermanent)
			_, ok = pipeline.AsRetryable(err)
			assert.False(t, ok)

			assert.Empty(t, store.Keys("output"))
		})
	}
}

func TestWorker_RaceResolvesOnRedelivery(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "audio", "clip.json", strings.NewReader(whisperClip)))
	w := NewWorker(store, testAreas, DefaultConfig())

	err := w.Handle(ctx, transcriptItem("clip", 1))
	_, ok := pipeline.AsRetryable(err)
	require.True(t, ok)

	writeFrameSet(t, store, "clip", 3, true)
	require.NoError(t, w.Handle(ctx, transcriptItem("clip", 2)))
	assert.Equal(t, []string{"clip.json"}, store.Keys("output"))
}

func TestWorker_BadTranscriptIsPermanent(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	writeFrameSet(t, store, "clip", 1, true)
	require.NoError(t, store.Put(ctx, "audio", "clip.json", strings.NewReader(`{"hello": "world"}`)))

	err := NewWorker(store, testAreas, DefaultConfig()).Handle(ctx, transcriptItem("clip", 1))
	assert.ErrorIs(t, err, pipeline.ErrPermanent)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(objstore.NewMemoryStore(), testAreas, DefaultConfig())
	want := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		5 * time.Minute,
		5 * time.Minute,
	}
	for i, d := range want {
		assert.Equal(t, d, w.Backoff(i+1), fmt.Sprintf("attempt %d", i+1))
	}
}
