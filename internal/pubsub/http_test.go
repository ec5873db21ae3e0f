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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

func TestHTTPService(t *testing.T) {
	deliverer := &scriptedDeliverer{outcomes: map[string]pipeline.Outcome{
		"clip.json": pipeline.RedeliverAfter(1500 * time.Millisecond),
	}}
	cfg := DefaultConfig()
	cfg.HTTP.MaxBodyBytes = 512
	svc := NewHTTPService(NewDispatcher(deliverer, nil, nil), cfg)

	t.Run("ack", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(s3Body("raw", "a.pdf"))))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("redeliver", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(s3Body("audio", "clip.json")))
		req.Header.Set(AttemptHeader, "5")
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		last := deliverer.calls[len(deliverer.calls)-1]
		assert.Equal(t, 5, last.Attempt)
	})

	t.Run("method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 1024))))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
