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
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/rawetl/internal/idgen"
)

var myInstanceID int64

// setupTelemetry configures slog, and the OpenTelemetry SDK when
// ENABLE_OTLP_TELEMETRY is true. The returned function flushes and stops
// the SDK; the returned context ends on SIGINT or SIGTERM.
func setupTelemetry(servicename string, addlAttrs *attribute.Set) (context.Context, func() error, error) {
	myInstanceID = idgen.NextID()

	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	attrs := []any{
		slog.String("service", servicename),
		slog.Int64("instanceID", myInstanceID),
	}
	if addlAttrs != nil {
		iter := addlAttrs.Iter()
		for iter.Next() {
			kv := iter.Attribute()
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
	}

	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("RAWETL_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if os.Getenv("OTEL_SERVICE_NAME") == "" || os.Getenv("ENABLE_OTLP_TELEMETRY") != "true" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)).With(attrs...))
		return doneCtx, f, nil
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(
		slog.NewTextHandler(os.Stdout, opts),
		otelslog.NewHandler(servicename),
	)).With(attrs...))
	slog.Info("OpenTelemetry exporting enabled")

	otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
	if err != nil {
		doneCancel()
		return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
	}

	if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		slog.Warn("Failed to start runtime metrics", slog.Any("error", err))
	}
	if err := host.Start(); err != nil {
		slog.Warn("Failed to start host metrics", slog.Any("error", err))
	}

	f = func() error {
		defer doneCancel()
		slog.Info("Shutting down OpenTelemetry SDK")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return otelShutdown(ctx)
	}
	return doneCtx, f, nil
}

// runService wraps a subcommand body with telemetry setup and shutdown.
func runService(servicename string, body func(ctx context.Context) error) error {
	addlAttrs := attribute.NewSet(attribute.String("action", servicename))
	doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()
	return body(doneCtx)
}
