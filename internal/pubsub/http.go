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

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// AttemptHeader carries the delivery attempt for HTTP pushes. A pusher
// that honors Retry-After should increment it on each retry.
const AttemptHeader = "X-Rawetl-Attempt"

// HTTPService accepts notifications pushed over HTTP. Redelivery is asked
// of the caller with 503 and Retry-After.
type HTTPService struct {
	dispatcher *Dispatcher
	cfg        Config
	tracer     trace.Tracer
}

var _ Backend = (*HTTPService)(nil)

func NewHTTPService(dispatcher *Dispatcher, cfg Config) *HTTPService {
	return &HTTPService{
		dispatcher: dispatcher,
		cfg:        cfg,
		tracer:     otel.Tracer("github.com/cardinalhq/rawetl/internal/pubsub"),
	}
}

func (ps *HTTPService) GetName() string {
	return string(BackendTypeHTTP)
}

func (ps *HTTPService) Run(doneCtx context.Context) error {
	slog.Info("Starting HTTP pubsub service", slog.String("addr", ps.cfg.HTTP.Addr))

	srv := &http.Server{
		Addr:              ps.cfg.HTTP.Addr,
		Handler:           ps,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-doneCtx.Done():
	}

	slog.Info("Shutting down HTTP pubsub service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (ps *HTTPService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, ps.cfg.HTTP.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}

	attempt := 1
	if v := r.Header.Get(AttemptHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			attempt = n
		}
	}

	ctx, span := ps.tracer.Start(r.Context(), "HTTPService.ServeHTTP")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, ps.cfg.MessageTimeout)
	defer cancel()

	outcome := ps.dispatcher.HandleMessage(ctx, ps.GetName(), body, attempt)
	if outcome.Redeliver {
		secs := int(math.Ceil(outcome.After.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
