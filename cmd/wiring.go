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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/rawetl/config"
	"github.com/cardinalhq/rawetl/internal/awsclient"
	"github.com/cardinalhq/rawetl/internal/azureclient"
	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/dbopen"
	"github.com/cardinalhq/rawetl/internal/gcpclient"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/officeconv"
	"github.com/cardinalhq/rawetl/internal/pdfprocessing"
	"github.com/cardinalhq/rawetl/internal/pipeline"
	"github.com/cardinalhq/rawetl/internal/router"
	"github.com/cardinalhq/rawetl/internal/toolexec"
	"github.com/cardinalhq/rawetl/internal/transcription"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadTable returns the routing table from cfg.RoutesFile, or the default.
func loadTable(cfg *config.Config) (*router.Table, error) {
	if cfg.RoutesFile == "" {
		return router.DefaultTable(), nil
	}
	return router.LoadTable(cfg.RoutesFile)
}

// openStore opens the object store every area lives in.
func openStore(ctx context.Context, cfg config.StorageConfig) (objstore.ObjectStore, error) {
	switch cfg.Provider {
	case "azure":
		mgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", err)
		}
		bc, err := mgr.GetBlob(ctx,
			azureclient.WithBlobStorageAccount(cfg.AzureAccount),
			azureclient.WithBlobEndpoint(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		return objstore.NewAzureBlobStore(bc), nil
	case "gcs":
		mgr, err := gcpclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP manager: %w", err)
		}
		var opts []gcpclient.StorageOption
		if cfg.ServiceAccount != "" {
			opts = append(opts, gcpclient.WithImpersonateServiceAccount(cfg.ServiceAccount))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, gcpclient.WithStorageEndpoint(cfg.Endpoint))
		}
		sc, err := mgr.GetStorage(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return objstore.NewGCSStore(sc), nil
	default:
		mgr, err := awsclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
		s3Client, err := mgr.GetS3(ctx, awsclient.S3Target{
			Region:      cfg.Region,
			RoleARN:     cfg.RoleARN,
			Endpoint:    cfg.Endpoint,
			PathStyle:   cfg.PathStyle,
			InsecureTLS: cfg.InsecureTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return objstore.NewAWSS3Store(s3Client), nil
	}
}

// backlogQueue is the SQS continuation queue, wrapped with the postgres
// ledger when one is configured. The returned close function releases the
// database pool.
func backlogQueue(ctx context.Context, cfg *config.Config) (backlog.Queue, backlog.Ledger, func(), error) {
	if cfg.Backlog.QueueURL == "" {
		return nil, nil, nil, fmt.Errorf("backlog.queue_url is required")
	}
	mgr, err := awsclient.NewManager(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create AWS manager: %w", err)
	}
	opts := []awsclient.SQSOption{awsclient.WithSQSRegion(cfg.Backlog.Region)}
	if cfg.Backlog.Endpoint != "" {
		opts = append(opts, awsclient.WithSQSEndpoint(cfg.Backlog.Endpoint))
	}
	sqsClient, err := mgr.GetSQS(ctx, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create SQS client: %w", err)
	}
	queue := backlog.NewSQSQueue(sqsClient.Client, cfg.Backlog.QueueURL, cfg.Backlog.Policy)

	if !cfg.Backlog.Ledger {
		slog.Warn("Backlog ledger disabled; expired continuation jobs will not be reported")
		return queue, nil, func() {}, nil
	}
	pool, err := dbopen.ConnectLedger(ctx, dbopen.Options{})
	if err != nil {
		return nil, nil, nil, err
	}
	ledger := backlog.NewPGLedger(pool)
	return backlog.NewLedgeredQueue(queue, ledger), ledger, pool.Close, nil
}

// workers builds the four handlers over store. The PDF worker is also
// returned on its own because it consumes the backlog.
func workers(cfg *config.Config, store objstore.ObjectStore, queue backlog.Enqueuer, submitter videoprocessing.Submitter) (map[pipeline.HandlerID]pipeline.Handler, *pdfprocessing.Worker) {
	areas := cfg.Areas.Areas()

	poppler := pdfprocessing.NewPoppler(toolexec.Exec)
	poppler.PdfInfoBinary = cfg.Tools.PdfInfo
	poppler.PdfToTextBinary = cfg.Tools.PdfToText

	office := officeconv.NewLibreOffice(toolexec.Exec)
	office.Binary = cfg.Tools.LibreOffice

	ffmpeg := videoprocessing.NewFFmpeg(toolexec.Exec)
	ffmpeg.Binary = cfg.Tools.FFmpeg

	pdf := pdfprocessing.NewWorker(store, areas, queue, poppler, poppler, cfg.PDF)
	return map[pipeline.HandlerID]pipeline.Handler{
		pipeline.HandlerPDF:        pdf,
		pipeline.HandlerOffice:     officeconv.NewWorker(store, areas, office, cfg.Office),
		pipeline.HandlerVideo:      videoprocessing.NewWorker(store, areas, ffmpeg, ffmpeg, submitter, cfg.Video),
		pipeline.HandlerTranscript: transcription.NewWorker(store, areas, cfg.Transcript),
	}, pdf
}

// transcriptionSubmitter publishes to Kafka when brokers are configured and
// only logs otherwise. The close function flushes the writer.
func transcriptionSubmitter(cfg transcription.KafkaConfig) (videoprocessing.Submitter, func() error, error) {
	if len(cfg.Brokers) == 0 {
		slog.Warn("No Kafka brokers configured; transcription requests will only be logged")
		return transcription.LogSubmitter{}, func() error { return nil }, nil
	}
	w, err := transcription.NewKafkaWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	s := transcription.NewKafkaSubmitter(w)
	return s, s.Close, nil
}
