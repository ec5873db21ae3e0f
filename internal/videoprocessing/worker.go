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

// Package videoprocessing splits a video into a FrameSet and an AudioTrack
// and submits the audio for transcription.
package videoprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rawetl/internal/budget"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

var (
	videosProcessed metric.Int64Counter
	framesExtracted metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/videoprocessing")

	var err error
	videosProcessed, err = meter.Int64Counter(
		"video_processed_total",
		metric.WithDescription("Videos split into frames and audio"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create videosProcessed counter: %w", err))
	}

	framesExtracted, err = meter.Int64Counter(
		"video_frames_extracted_total",
		metric.WithDescription("Frames extracted from videos"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create framesExtracted counter: %w", err))
	}
}

// TranscriptionRequest asks an external engine to transcribe an audio
// track and write the result to OutputBucket/OutputKey.
type TranscriptionRequest struct {
	VideoID      string    `json:"video_id"`
	AudioBucket  string    `json:"audio_bucket"`
	AudioKey     string    `json:"audio_key"`
	OutputBucket string    `json:"output_bucket"`
	OutputKey    string    `json:"output_key"`
	LanguageCode string    `json:"language_code,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Submitter hands a transcription job to the external engine without
// waiting for it to finish.
type Submitter interface {
	Submit(ctx context.Context, req TranscriptionRequest) error
}

type Config struct {
	Limits        budget.Limits `mapstructure:"limits"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	LanguageCode  string        `mapstructure:"language_code"`
	WorkDir       string        `mapstructure:"work_dir"`
}

func DefaultConfig() Config {
	return Config{
		Limits:        budget.VideoLimits(),
		FrameInterval: time.Second,
		LanguageCode:  "en-US",
	}
}

// Worker processes one video per invocation.
type Worker struct {
	store     objstore.ObjectStore
	areas     pipeline.Areas
	audio     AudioExtractor
	frames    FrameExtractor
	labeler   Labeler
	submitter Submitter
	cfg       Config
	now       func() time.Time
}

var _ pipeline.Handler = (*Worker)(nil)

type Option func(*Worker)

// WithLabeler attaches labels to every frame.
func WithLabeler(l Labeler) Option {
	return func(w *Worker) {
		w.labeler = l
	}
}

func NewWorker(store objstore.ObjectStore, areas pipeline.Areas, audio AudioExtractor, frames FrameExtractor,
	submitter Submitter, cfg Config, opts ...Option) *Worker {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second
	}
	w := &Worker{
		store:     store,
		areas:     areas,
		audio:     audio,
		frames:    frames,
		submitter: submitter,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Handle(ctx context.Context, item pipeline.WorkItem) error {
	tracker := budget.Start(w.cfg.Limits, w.now)
	ctx, cancel := tracker.Context(ctx)
	defer cancel()

	framesBucket, err := w.areas.Bucket(pipeline.AreaFrames)
	if err != nil {
		return err
	}
	audioBucket, err := w.areas.Bucket(pipeline.AreaAudio)
	if err != nil {
		return err
	}

	videoID := VideoID(item.Key)
	ll := slog.Default().With(slog.String("videoID", videoID), slog.String("sourceKey", item.Key))

	dir, err := os.MkdirTemp(w.cfg.WorkDir, "video-*")
	if err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcDir := filepath.Join(dir, "src")
	framesDir := filepath.Join(dir, "frames")
	for _, d := range []string{srcDir, framesDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return fmt.Errorf("creating work dir: %w", err)
		}
	}

	videoPath, size, err := objstore.DownloadToFile(ctx, w.store, srcDir, item.Bucket, item.Key)
	if err != nil {
		if w.store.IsNotFoundError(err) {
			return fmt.Errorf("%w: %w", pipeline.ErrPermanent, err)
		}
		return err
	}
	if err := tracker.Charge(size); err != nil {
		return fmt.Errorf("%w: %s: %w", pipeline.ErrPermanent, item.Key, err)
	}

	audioPath := filepath.Join(dir, "audio.wav")
	if err := w.audio.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return fmt.Errorf("extracting audio from %s: %w", item.Key, err)
	}
	if err := chargeFile(tracker, audioPath); err != nil {
		return err
	}

	extracted, err := w.frames.ExtractFrames(ctx, videoPath, framesDir, w.cfg.FrameInterval)
	if err != nil {
		return fmt.Errorf("extracting frames from %s: %w", item.Key, err)
	}
	if len(extracted) == 0 {
		return fmt.Errorf("%w: no frames extracted from %s", pipeline.ErrPermanent, item.Key)
	}

	audioKey := AudioKey(videoID)
	if err := objstore.UploadFile(ctx, w.store, audioBucket, audioKey, audioPath); err != nil {
		return fmt.Errorf("uploading audio track: %w", err)
	}

	manifest := Manifest{
		Version:      FrameSetVersion,
		VideoID:      videoID,
		SourceBucket: item.Bucket,
		SourceKey:    item.Key,
		AudioKey:     audioKey,
		Interval:     w.cfg.FrameInterval.Seconds(),
		Frames:       make([]Frame, 0, len(extracted)),
	}
	for i, ef := range extracted {
		if err := chargeFile(tracker, ef.Path); err != nil {
			return err
		}
		frame := Frame{
			Index:     i + 1,
			Key:       FrameKey(videoID, i+1),
			Timestamp: ef.Timestamp.Seconds(),
		}
		if w.labeler != nil {
			labels, err := w.labeler.Labels(ctx, ef.Path)
			if err != nil {
				ll.Warn("Frame labeling failed", slog.Int("frame", frame.Index), slog.Any("error", err))
			}
			frame.Labels = labels
		}
		if err := objstore.UploadFile(ctx, w.store, framesBucket, frame.Key, ef.Path); err != nil {
			return fmt.Errorf("uploading frame %d: %w", frame.Index, err)
		}
		manifest.Frames = append(manifest.Frames, frame)
	}
	framesExtracted.Add(ctx, int64(len(manifest.Frames)))

	manifest.CreatedAt = w.now().UTC()
	if err := objstore.WriteJSON(ctx, w.store, framesBucket, ManifestKey(videoID), manifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	req := TranscriptionRequest{
		VideoID:      videoID,
		AudioBucket:  audioBucket,
		AudioKey:     audioKey,
		OutputBucket: audioBucket,
		OutputKey:    TranscriptKey(videoID),
		LanguageCode: w.cfg.LanguageCode,
		SubmittedAt:  w.now().UTC(),
	}
	if err := w.submitter.Submit(ctx, req); err != nil {
		return fmt.Errorf("submitting transcription for %s: %w", videoID, err)
	}

	videosProcessed.Add(ctx, 1)
	ll.Info("Video processed",
		slog.Int("frames", len(manifest.Frames)),
		slog.String("audioKey", audioKey),
		slog.Int64("storageUsed", tracker.StorageUsed()))
	return nil
}

func chargeFile(tracker *budget.Tracker, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if err := tracker.Charge(info.Size()); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrPermanent, err)
	}
	return nil
}
