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

// Package transcription completes video processing once a transcript
// arrives: it aligns transcript segments with the video's frames and
// writes the structured output.
package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rawetl/internal/budget"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

var (
	outputsWritten   metric.Int64Counter
	frameSetNotReady metric.Int64Counter
	retriesExhausted metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/transcription")

	var err error
	outputsWritten, err = meter.Int64Counter(
		"transcription_outputs_written_total",
		metric.WithDescription("Structured video outputs written"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create outputsWritten counter: %w", err))
	}

	frameSetNotReady, err = meter.Int64Counter(
		"transcription_frameset_not_ready_total",
		metric.WithDescription("Transcripts that arrived before their frames or audio"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create frameSetNotReady counter: %w", err))
	}

	retriesExhausted, err = meter.Int64Counter(
		"transcription_retries_exhausted_total",
		metric.WithDescription("Transcripts abandoned after max_attempts"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create retriesExhausted counter: %w", err))
	}
}

type Config struct {
	Limits       budget.Limits `mapstructure:"limits"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
	OutputPrefix string        `mapstructure:"output_prefix"`
}

func DefaultConfig() Config {
	return Config{
		Limits:      budget.VideoLimits(),
		MaxAttempts: 10,
		BackoffBase: 30 * time.Second,
		BackoffCap:  5 * time.Minute,
	}
}

// Output is the structured result for one video.
type Output struct {
	VideoID     string           `json:"video_id"`
	SourceKey   string           `json:"source_key"`
	AudioKey    string           `json:"audio_key"`
	Format      string           `json:"transcript_format"`
	Language    string           `json:"language,omitempty"`
	Transcript  string           `json:"transcript"`
	Segments    []AlignedSegment `json:"segments"`
	FrameCount  int              `json:"frame_count"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Worker handles transcript arrival in the audio area.
type Worker struct {
	store objstore.ObjectStore
	areas pipeline.Areas
	cfg   Config
	now   func() time.Time
}

var _ pipeline.Handler = (*Worker)(nil)

func NewWorker(store objstore.ObjectStore, areas pipeline.Areas, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{store: store, areas: areas, cfg: cfg, now: time.Now}
}

// OutputKey is where the structured output for a video is written.
func (w *Worker) OutputKey(videoID string) string {
	return w.cfg.OutputPrefix + videoID + ".json"
}

// Backoff is the redelivery delay after the given attempt (1-based).
func (w *Worker) Backoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.BackoffBase
	b.MaxInterval = w.cfg.BackoffCap
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (w *Worker) Handle(ctx context.Context, item pipeline.WorkItem) error {
	tracker := budget.Start(w.cfg.Limits, w.now)
	ctx, cancel := tracker.Context(ctx)
	defer cancel()

	framesBucket, err := w.areas.Bucket(pipeline.AreaFrames)
	if err != nil {
		return err
	}
	outputBucket, err := w.areas.Bucket(pipeline.AreaOutput)
	if err != nil {
		return err
	}

	videoID := videoprocessing.VideoID(item.Key)
	attempt := max(item.Attempt, 1)
	ll := slog.Default().With(slog.String("videoID", videoID), slog.Int("attempt", attempt))

	outputKey := w.OutputKey(videoID)
	if done, err := w.store.Exists(ctx, outputBucket, outputKey); err != nil {
		return err
	} else if done {
		ll.Info("Output already written, ignoring duplicate transcript event", slog.String("outputKey", outputKey))
		return nil
	}

	manifest, err := w.readyFrameSet(ctx, framesBucket, item.Bucket, videoID)
	if err != nil {
		frameSetNotReady.Add(ctx, 1)
		return w.retryOrFail(ctx, ll, attempt, err)
	}

	data, err := objstore.ReadAll(ctx, w.store, item.Bucket, item.Key)
	if err != nil {
		if w.store.IsNotFoundError(err) {
			return fmt.Errorf("%w: transcript %s: %w", pipeline.ErrPermanent, item.Key, err)
		}
		return err
	}
	if err := tracker.Charge(int64(len(data))); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrPermanent, err)
	}

	transcript, err := ParseTranscript(data)
	if err != nil {
		return fmt.Errorf("%w: transcript %s: %w", pipeline.ErrPermanent, item.Key, err)
	}

	out := Output{
		VideoID:     videoID,
		SourceKey:   manifest.SourceKey,
		AudioKey:    manifest.AudioKey,
		Format:      transcript.Format,
		Language:    transcript.Language,
		Transcript:  transcript.Text,
		Segments:    Align(transcript.Segments, manifest.Frames),
		FrameCount:  len(manifest.Frames),
		GeneratedAt: w.now().UTC(),
	}
	if err := objstore.WriteJSON(ctx, w.store, outputBucket, outputKey, out); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	outputsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("format", transcript.Format)))
	ll.Info("Video output written",
		slog.String("outputKey", outputKey),
		slog.Int("segments", len(out.Segments)),
		slog.Int("frames", out.FrameCount))
	return nil
}

// readyFrameSet returns the manifest once the manifest, every frame it
// lists and the audio track all exist.
func (w *Worker) readyFrameSet(ctx context.Context, framesBucket, audioBucket, videoID string) (videoprocessing.Manifest, error) {
	var m videoprocessing.Manifest
	if err := objstore.ReadJSON(ctx, w.store, framesBucket, videoprocessing.ManifestKey(videoID), &m); err != nil {
		return m, fmt.Errorf("reading manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}

	stored, err := w.store.List(ctx, framesBucket, videoID+"/frames/")
	if err != nil {
		return m, err
	}
	present := make(map[string]struct{}, len(stored))
	for _, o := range stored {
		present[o.Key] = struct{}{}
	}
	for _, f := range m.Frames {
		if _, ok := present[f.Key]; !ok {
			return m, fmt.Errorf("frame %s missing", f.Key)
		}
	}

	ok, err := w.store.Exists(ctx, audioBucket, m.AudioKey)
	if err != nil {
		return m, err
	}
	if !ok {
		return m, fmt.Errorf("audio track %s missing", m.AudioKey)
	}
	return m, nil
}

func (w *Worker) retryOrFail(ctx context.Context, ll *slog.Logger, attempt int, err error) error {
	if attempt >= w.cfg.MaxAttempts {
		retriesExhausted.Add(ctx, 1)
		ll.Error("Frame set never became ready, giving up", slog.Any("error", err))
		return fmt.Errorf("%w: frame set not ready after %d attempts: %w", pipeline.ErrPermanent, attempt, err)
	}
	delay := w.Backoff(attempt)
	ll.Warn("Frame set not ready, will retry", slog.Duration("after", delay), slog.Any("error", err))
	return pipeline.Retryable(err, delay)
}
