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

// Package gcpclient creates and caches Google Cloud Storage clients.
package gcpclient

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager caches storage clients per impersonated service account, using
// Application Default Credentials underneath.
type Manager struct {
	sync.RWMutex
	storageClients map[storageTarget]*StorageClient
	tracer         trace.Tracer
}

func NewManager(_ context.Context) (*Manager, error) {
	return &Manager{
		storageClients: make(map[storageTarget]*StorageClient),
		tracer:         otel.Tracer("github.com/cardinalhq/rawetl/internal/gcpclient"),
	}, nil
}
