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

package gcpclient

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

// StorageClient is a cached GCS client.
type StorageClient struct {
	Client *storage.Client
	Tracer trace.Tracer
}

type storageTarget struct {
	serviceAccount string
	endpoint       string
}

type StorageOption func(*storageTarget)

// WithImpersonateServiceAccount makes the client act as the given service
// account through IAM impersonation.
func WithImpersonateServiceAccount(email string) StorageOption {
	return func(t *storageTarget) { t.serviceAccount = email }
}

// WithStorageEndpoint points the client at an emulator. Credentials are
// not used when an endpoint is set.
func WithStorageEndpoint(endpoint string) StorageOption {
	return func(t *storageTarget) { t.endpoint = endpoint }
}

func (t storageTarget) clientOptions(ctx context.Context) ([]option.ClientOption, error) {
	if t.endpoint != "" {
		return []option.ClientOption{option.WithEndpoint(t.endpoint), option.WithoutAuthentication()}, nil
	}
	if t.serviceAccount == "" {
		return nil, nil
	}
	ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
		TargetPrincipal: t.serviceAccount,
		Scopes:          []string{storage.ScopeReadWrite},
	})
	if err != nil {
		return nil, fmt.Errorf("impersonating %s: %w", t.serviceAccount, err)
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

// GetStorage returns the client for the given target, creating it on
// first use.
func (m *Manager) GetStorage(ctx context.Context, opts ...StorageOption) (*StorageClient, error) {
	var target storageTarget
	for _, o := range opts {
		o(&target)
	}

	m.RLock()
	client, ok := m.storageClients[target]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()
	if client, ok := m.storageClients[target]; ok {
		return client, nil
	}

	clientOpts, err := target.clientOptions(ctx)
	if err != nil {
		return nil, err
	}
	c, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	client = &StorageClient{Client: c, Tracer: m.tracer}
	m.storageClients[target] = client
	return client, nil
}
