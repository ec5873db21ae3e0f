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
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/rawetl/internal/healthcheck"
	"github.com/cardinalhq/rawetl/internal/pubsub"
	"github.com/cardinalhq/rawetl/internal/router"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pubsub",
		Short: "Receive object notifications and dispatch them to workers",
	}
	rootCmd.AddCommand(cmd)

	for _, b := range []struct {
		backend pubsub.BackendType
		short   string
	}{
		{pubsub.BackendTypeSQS, "listen on an SQS queue of S3 notifications"},
		{pubsub.BackendTypeGCPPubSub, "listen on a GCP Pub/Sub subscription of Cloud Storage notifications"},
		{pubsub.BackendTypeAzure, "listen on an Azure Storage queue of Event Grid blob events"},
		{pubsub.BackendTypeHTTP, "accept notifications posted over HTTP"},
	} {
		backend := b.backend
		cmd.AddCommand(&cobra.Command{
			Use:   string(backend),
			Short: b.short,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runService("pubsub-"+string(backend), func(ctx context.Context) error {
					return runPubSub(ctx, backend)
				})
			},
		})
	}
}

func runPubSub(ctx context.Context, backendType pubsub.BackendType) error {
	health := healthcheck.NewServer(healthcheck.GetConfigFromEnv())
	go func() {
		if err := health.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	queue, _, closeQueue, err := backlogQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	submitter, closeSubmitter, err := transcriptionSubmitter(cfg.Kafka)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSubmitter(); err != nil {
			slog.Error("Failed to close transcription submitter", slog.Any("error", err))
		}
	}()

	handlers, _ := workers(cfg, store, queue, submitter)
	r, err := router.New(table, cfg.Areas.Areas(), handlers)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	dedup := pubsub.NewDeduplicator(cfg.PubSub.DedupTTL)
	dedup.Start()
	defer dedup.Stop()

	stats := pubsub.NewStatsAggregator(time.Minute)
	stats.Start(ctx)
	defer stats.Stop()

	backend, err := pubsub.NewBackend(ctx, backendType, pubsub.NewDispatcher(r, dedup, stats), cfg.PubSub)
	if err != nil {
		return fmt.Errorf("failed to create %s pubsub service: %w", backendType, err)
	}

	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)
	slog.Info("Dispatching object notifications",
		slog.String("backend", backend.GetName()),
		slog.Int("routes", len(table.Routes())))
	return backend.Run(ctx)
}
