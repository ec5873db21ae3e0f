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

// Package officeconv converts office and HTML documents to PDF in the
// interim area, where the router picks them up again as PDFs.
package officeconv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rawetl/internal/budget"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

var conversions metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/officeconv")

	var err error
	conversions, err = meter.Int64Counter(
		"office_conversions_total",
		metric.WithDescription("Office documents converted to PDF"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create conversions counter: %w", err))
	}
}

type Config struct {
	Limits  budget.Limits `mapstructure:"limits"`
	WorkDir string        `mapstructure:"work_dir"`
}

func DefaultConfig() Config {
	return Config{Limits: budget.OfficeLimits()}
}

// Worker converts one document per invocation.
type Worker struct {
	store     objstore.ObjectStore
	areas     pipeline.Areas
	converter Converter
	cfg       Config
}

var _ pipeline.Handler = (*Worker)(nil)

func NewWorker(store objstore.ObjectStore, areas pipeline.Areas, converter Converter, cfg Config) *Worker {
	return &Worker{store: store, areas: areas, converter: converter, cfg: cfg}
}

// InterimKey is the key of the converted PDF: the source key with ".pdf"
// appended. The source extension stays so deck.pptx and deck.docx do not
// overwrite each other.
func InterimKey(key string) string {
	return key + ".pdf"
}

func (w *Worker) Handle(ctx context.Context, item pipeline.WorkItem) error {
	tracker := budget.Start(w.cfg.Limits, time.Now)
	ctx, cancel := tracker.Context(ctx)
	defer cancel()

	interim, err := w.areas.Bucket(pipeline.AreaInterim)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(w.cfg.WorkDir, "office-*")
	if err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcDir := filepath.Join(dir, "src")
	if err := os.Mkdir(srcDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}

	srcPath, size, err := objstore.DownloadToFile(ctx, w.store, srcDir, item.Bucket, item.Key)
	if err != nil {
		if w.store.IsNotFoundError(err) {
			return fmt.Errorf("%w: %w", pipeline.ErrPermanent, err)
		}
		return err
	}
	if err := tracker.Charge(size); err != nil {
		return fmt.Errorf("%w: %s: %w", pipeline.ErrPermanent, item.Key, err)
	}

	pdfPath, err := w.converter.ConvertToPDF(ctx, srcPath, dir)
	if err != nil {
		return fmt.Errorf("converting %s: %w", item.Key, err)
	}
	if info, err := os.Stat(pdfPath); err == nil {
		if err := tracker.Charge(info.Size()); err != nil {
			return fmt.Errorf("%w: converted %s: %w", pipeline.ErrPermanent, item.Key, err)
		}
	}

	key := InterimKey(item.Key)
	if err := objstore.UploadFile(ctx, w.store, interim, key, pdfPath); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(item.Type))))
	slog.Info("Converted document to PDF",
		slog.String("source", item.Key),
		slog.String("interimKey", key),
		slog.Int64("sourceBytes", size))
	return nil
}
