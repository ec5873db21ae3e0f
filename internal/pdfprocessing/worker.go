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

// Package pdfprocessing transcribes PDF documents page by page within a
// bounded invocation, handing the rest of a document to the backlog when
// the invocation runs out of budget.
package pdfprocessing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/budget"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

var (
	pagesProcessed     metric.Int64Counter
	invocationsYielded metric.Int64Counter
	documentsCompleted metric.Int64Counter
	tracer             trace.Tracer
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/pdfprocessing")
	tracer = otel.Tracer("github.com/cardinalhq/rawetl/internal/pdfprocessing")

	var err error
	pagesProcessed, err = meter.Int64Counter(
		"pdf_pages_processed_total",
		metric.WithDescription("PDF pages transcribed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pagesProcessed counter: %w", err))
	}

	invocationsYielded, err = meter.Int64Counter(
		"pdf_invocations_yielded_total",
		metric.WithDescription("PDF invocations that handed the rest of a document to the backlog"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create invocationsYielded counter: %w", err))
	}

	documentsCompleted, err = meter.Int64Counter(
		"pdf_documents_completed_total",
		metric.WithDescription("PDF documents fully assembled"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create documentsCompleted counter: %w", err))
	}
}

// Config controls the PDF worker.
type Config struct {
	Limits budget.Limits `mapstructure:"limits"`
	// OutputPrefixes prefixes the output key per source area.
	OutputPrefixes map[pipeline.Area]string `mapstructure:"output_prefixes"`
	ProgressPrefix string                   `mapstructure:"progress_prefix"`
	WorkDir        string                   `mapstructure:"work_dir"`
	// RequeueBackoff is the redelivery delay asked for when a continuation
	// cannot be enqueued or the parts do not yet line up.
	RequeueBackoff time.Duration `mapstructure:"requeue_backoff"`
}

func DefaultConfig() Config {
	return Config{
		Limits: budget.PDFLimits(),
		OutputPrefixes: map[pipeline.Area]string{
			pipeline.AreaInterim: "converted/",
		},
		ProgressPrefix: DefaultProgressPrefix,
		RequeueBackoff: time.Minute,
	}
}

// Worker is the PDF processing worker. It handles routed work items and
// claimed backlog jobs the same way.
type Worker struct {
	store       objstore.ObjectStore
	areas       pipeline.Areas
	backlog     backlog.Enqueuer
	counter     PageCounter
	transcriber PageTranscriber
	cfg         Config
	now         budget.Clock
}

var (
	_ pipeline.Handler  = (*Worker)(nil)
	_ backlog.Processor = (*Worker)(nil)
)

type Option func(*Worker)

// WithClock substitutes the time source used for the invocation budget.
func WithClock(now budget.Clock) Option {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(store objstore.ObjectStore, areas pipeline.Areas, queue backlog.Enqueuer,
	counter PageCounter, transcriber PageTranscriber, cfg Config, opts ...Option) *Worker {
	if cfg.ProgressPrefix == "" {
		cfg.ProgressPrefix = DefaultProgressPrefix
	}
	if cfg.RequeueBackoff <= 0 {
		cfg.RequeueBackoff = time.Minute
	}
	w := &Worker{
		store:       store,
		areas:       areas,
		backlog:     queue,
		counter:     counter,
		transcriber: transcriber,
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OutputKey is where the finished text of a document is written.
func (w *Worker) OutputKey(area pipeline.Area, key string) string {
	return w.cfg.OutputPrefixes[area] + key + ".txt"
}

// Handle starts a document from its first page. Any progress or output
// left by an earlier upload of the same object is discarded first.
func (w *Worker) Handle(ctx context.Context, item pipeline.WorkItem) error {
	job := backlog.Job{
		JobID:        backlog.NewJobID(),
		DocumentID:   DocumentID(item.Area, item.Key),
		SourceArea:   item.Area,
		SourceBucket: item.Bucket,
		SourceKey:    item.Key,
		OutputKey:    w.OutputKey(item.Area, item.Key),
		Pages:        backlog.PageRange{First: 1},
	}
	if err := w.reset(ctx, job); err != nil {
		return err
	}
	return w.run(ctx, job)
}

// ProcessJob continues a document from a claimed backlog job.
func (w *Worker) ProcessJob(ctx context.Context, job backlog.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return w.run(ctx, job)
}

func (w *Worker) outputBucket() (string, error) {
	return w.areas.Bucket(pipeline.AreaOutput)
}

func (w *Worker) reset(ctx context.Context, job backlog.Job) error {
	bucket, err := w.outputBucket()
	if err != nil {
		return err
	}
	stale, err := w.store.List(ctx, bucket, progressDir(w.cfg.ProgressPrefix, job.DocumentID))
	if err != nil {
		return fmt.Errorf("listing progress for %s: %w", job.DocumentID, err)
	}
	for _, obj := range stale {
		if err := w.store.Delete(ctx, bucket, obj.Key); err != nil {
			return fmt.Errorf("removing stale progress %s: %w", obj.Key, err)
		}
	}
	if err := w.store.Delete(ctx, bucket, job.OutputKey); err != nil && !w.store.IsNotFoundError(err) {
		return fmt.Errorf("removing previous output %s: %w", job.OutputKey, err)
	}
	return nil
}

func (w *Worker) run(ctx context.Context, job backlog.Job) error {
	tracker := budget.Start(w.cfg.Limits, w.now)
	ctx, cancel := tracker.Context(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pdfprocessing.run", trace.WithAttributes(
		attribute.String("document_id", job.DocumentID),
		attribute.Int("first_page", job.Pages.First),
		attribute.Int("chain", job.Chain),
	))
	defer span.End()

	ll := slog.Default().With(
		slog.String("documentID", job.DocumentID),
		slog.String("jobID", job.JobID),
		slog.Int("chain", job.Chain))

	outBucket, err := w.outputBucket()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(w.cfg.WorkDir, "pdf-*")
	if err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	pdfPath, size, err := objstore.DownloadToFile(ctx, w.store, dir, job.SourceBucket, job.SourceKey)
	if err != nil {
		if w.store.IsNotFoundError(err) {
			return fmt.Errorf("%w: source %s/%s is gone: %w", pipeline.ErrPermanent, job.SourceBucket, job.SourceKey, err)
		}
		return err
	}
	if err := tracker.Charge(size); err != nil {
		return fmt.Errorf("%w: %s does not fit in ephemeral storage: %w", pipeline.ErrPermanent, job.SourceKey, err)
	}

	pageCount, err := w.counter.PageCount(ctx, pdfPath)
	if err != nil {
		return fmt.Errorf("counting pages of %s: %w", job.SourceKey, err)
	}
	if pageCount < 1 {
		return fmt.Errorf("%w: %s has no pages", pipeline.ErrPermanent, job.SourceKey)
	}

	pages := job.Pages
	if pages.Last == 0 || pages.Last > pageCount {
		pages.Last = pageCount
	}
	if pages.First > pages.Last {
		return fmt.Errorf("%w: %s has %d pages, asked to start at %d", pipeline.ErrPermanent, job.SourceKey, pageCount, pages.First)
	}

	partPath := filepath.Join(dir, "part.txt")
	partFile, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("creating part file: %w", err)
	}
	bw := bufio.NewWriter(partFile)

	previous := job.PreviousText
	last := pages.First - 1
	yielded := false
	for page := pages.First; page <= pages.Last; page++ {
		text, err := w.transcriber.TranscribePage(ctx, PageRequest{
			DocumentID:   job.DocumentID,
			Path:         pdfPath,
			Page:         page,
			PreviousText: previous,
		})
		if err != nil {
			_ = partFile.Close()
			return fmt.Errorf("transcribing page %d of %s: %w", page, job.SourceKey, err)
		}
		section := FormatPage(page, text)
		if _, err := bw.WriteString(section); err != nil {
			_ = partFile.Close()
			return fmt.Errorf("writing part file: %w", err)
		}
		pagesProcessed.Add(ctx, 1)
		previous = text
		last = page

		if page == pages.Last {
			break
		}
		if err := tracker.Charge(int64(len(section))); errors.Is(err, budget.ErrStorageExceeded) {
			ll.Info("Ephemeral storage ceiling reached, yielding", slog.Int("lastPage", last))
			yielded = true
			break
		}
		if tracker.ShouldYield() {
			ll.Info("Time budget nearly spent, yielding",
				slog.Int("lastPage", last),
				slog.Duration("remaining", tracker.Remaining()))
			yielded = true
			break
		}
	}

	if err := bw.Flush(); err != nil {
		_ = partFile.Close()
		return fmt.Errorf("flushing part file: %w", err)
	}
	if err := partFile.Close(); err != nil {
		return fmt.Errorf("closing part file: %w", err)
	}

	done := backlog.PageRange{First: pages.First, Last: last}
	partKey := progressKey(w.cfg.ProgressPrefix, job.DocumentID, done)
	if err := objstore.UploadFile(ctx, w.store, outBucket, partKey, partPath); err != nil {
		return fmt.Errorf("persisting pages %s of %s: %w", done, job.DocumentID, err)
	}

	if yielded {
		next := backlog.Job{
			JobID:        backlog.NewJobID(),
			DocumentID:   job.DocumentID,
			SourceArea:   job.SourceArea,
			SourceBucket: job.SourceBucket,
			SourceKey:    job.SourceKey,
			OutputKey:    job.OutputKey,
			Pages:        backlog.PageRange{First: last + 1, Last: pages.Last},
			PreviousText: previous,
			Chain:        job.Chain + 1,
		}
		if err := w.backlog.Enqueue(ctx, next); err != nil {
			return pipeline.Retryable(fmt.Errorf("enqueueing pages %s of %s: %w", next.Pages, job.DocumentID, err), w.cfg.RequeueBackoff)
		}
		invocationsYielded.Add(ctx, 1)
		ll.Info("Enqueued continuation",
			slog.String("done", done.String()),
			slog.String("remaining", next.Pages.String()),
			slog.String("nextJobID", next.JobID))
		return nil
	}

	return w.assemble(ctx, job, outBucket, pageCount, ll)
}

func (w *Worker) assemble(ctx context.Context, job backlog.Job, outBucket string, pageCount int, ll *slog.Logger) error {
	infos, err := w.store.List(ctx, outBucket, progressDir(w.cfg.ProgressPrefix, job.DocumentID))
	if err != nil {
		return fmt.Errorf("listing progress for %s: %w", job.DocumentID, err)
	}

	exists, err := w.store.Exists(ctx, outBucket, job.OutputKey)
	if err != nil {
		return fmt.Errorf("checking output %s: %w", job.OutputKey, err)
	}
	if exists {
		// Another delivery of this chain already finished the document.
		ll.Info("Output already written, discarding duplicate progress", slog.String("outputKey", job.OutputKey))
		return w.cleanup(ctx, outBucket, infos)
	}

	chain, err := chainParts(job.DocumentID, parseProgressParts(infos), pageCount)
	if err != nil {
		return pipeline.Retryable(err, w.cfg.RequeueBackoff)
	}

	sections := make([]string, 0, len(chain))
	for _, part := range chain {
		data, err := objstore.ReadAll(ctx, w.store, outBucket, part.key)
		if err != nil {
			return fmt.Errorf("reading progress %s: %w", part.key, err)
		}
		sections = append(sections, string(data))
	}

	if err := w.store.Put(ctx, outBucket, job.OutputKey, strings.NewReader(assembleText(sections))); err != nil {
		return fmt.Errorf("writing output %s: %w", job.OutputKey, err)
	}
	documentsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("area", string(job.SourceArea))))
	ll.Info("Document complete",
		slog.String("outputKey", job.OutputKey),
		slog.Int("pages", pageCount),
		slog.Int("parts", len(chain)))

	return w.cleanup(ctx, outBucket, infos)
}

func (w *Worker) cleanup(ctx context.Context, bucket string, parts []objstore.ObjectInfo) error {
	for _, p := range parts {
		if err := w.store.Delete(ctx, bucket, p.Key); err != nil && !w.store.IsNotFoundError(err) {
			slog.Warn("Failed to remove progress part", slog.String("key", p.Key), slog.Any("error", err))
		}
	}
	return nil
}
