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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/dbopen"
	"github.com/cardinalhq/rawetl/internal/healthcheck"
	"github.com/cardinalhq/rawetl/internal/transcription"
)

func init() {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Work with the PDF continuation backlog",
	}
	rootCmd.AddCommand(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "consume",
		Short: "Claim continuation jobs and transcribe their remaining pages",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runService("backlog-consume", runBacklogConsumer)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Mark jobs past retention as permanently failed",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runService("backlog-sweep", func(ctx context.Context) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				pool, err := dbopen.ConnectLedger(ctx, dbopen.Options{})
				if err != nil {
					return err
				}
				defer pool.Close()

				expired, err := backlog.Sweep(ctx, backlog.NewPGLedger(pool), cfg.Backlog.Policy.Retention, time.Now())
				if err != nil {
					return fmt.Errorf("sweeping ledger: %w", err)
				}
				slog.Info("Ledger swept", slog.Int("expired", len(expired)))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List jobs that were never completed",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			pool, err := dbopen.ConnectLedger(ctx, dbopen.Options{})
			if err != nil {
				return err
			}
			defer pool.Close()

			failed, err := backlog.NewPGLedger(pool).Failed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), renderFailed(failed))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger database migrations",
		RunE: func(c *cobra.Command, _ []string) error {
			pool, err := dbopen.ConnectLedger(c.Context(), dbopen.Options{Migrate: true})
			if err != nil {
				return err
			}
			pool.Close()
			return nil
		},
	})
}

func runBacklogConsumer(ctx context.Context) error {
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
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	queue, ledger, closeQueue, err := backlogQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	// Only the PDF worker runs here, so nothing is ever submitted.
	_, pdf := workers(cfg, store, queue, transcription.LogSubmitter{})

	opts := []backlog.ConsumerOption{backlog.WithIdleWait(cfg.Backlog.IdleWait)}
	if ledger != nil {
		opts = append(opts, backlog.WithSweep(ledger, cfg.Backlog.Policy.Retention, cfg.Backlog.SweepInterval))
	}

	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)
	return backlog.NewConsumer(queue, pdf, opts...).Run(ctx)
}

func renderFailed(failed []backlog.FailedJob) string {
	rows := make([][]string, 0, len(failed))
	for _, f := range failed {
		rows = append(rows, []string{
			f.Job.JobID,
			f.Job.DocumentID,
			f.Job.Pages.String(),
			strconv.Itoa(f.Job.Chain),
			f.FailedAt.Format(time.RFC3339),
			f.Reason,
		})
	}
	return renderTable([]string{"Job", "Document", "Pages", "Chain", "Failed At", "Reason"}, rows, 3)
}
