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

package azureclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.opentelemetry.io/otel/trace"
)

// BlobClient is a cached blob client for one storage account endpoint.
type BlobClient struct {
	Client   *azblob.Client
	Tracer   trace.Tracer
	Endpoint string
}

type blobTarget struct {
	account  string
	endpoint string
}

type BlobOption func(*blobTarget)

func WithBlobStorageAccount(account string) BlobOption {
	return func(t *blobTarget) { t.account = account }
}

// WithBlobEndpoint overrides the endpoint derived from the account name,
// for Azurite or sovereign clouds.
func WithBlobEndpoint(endpoint string) BlobOption {
	return func(t *blobTarget) { t.endpoint = endpoint }
}

var errNoBlobTarget = errors.New("azure blob storage needs an account name or an endpoint")

func (t blobTarget) resolve() (string, error) {
	switch {
	case t.endpoint != "":
		return t.endpoint, nil
	case t.account != "":
		return fmt.Sprintf("https://%s.blob.core.windows.net/", t.account), nil
	default:
		return "", errNoBlobTarget
	}
}

// GetBlob returns the blob client for the resolved endpoint, creating it
// on first use with the manager's credential.
func (m *Manager) GetBlob(_ context.Context, opts ...BlobOption) (*BlobClient, error) {
	var target blobTarget
	for _, o := range opts {
		o(&target)
	}
	endpoint, err := target.resolve()
	if err != nil {
		return nil, err
	}

	m.RLock()
	client, ok := m.blobClients[endpoint]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()
	if client, ok := m.blobClients[endpoint]; ok {
		return client, nil
	}

	c, err := azblob.NewClient(endpoint, m.baseCred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client for %s: %w", endpoint, err)
	}
	client = &BlobClient{Client: c, Tracer: m.tracer, Endpoint: endpoint}
	m.blobClients[endpoint] = client
	return client, nil
}
