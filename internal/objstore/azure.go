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

package objstore

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/rawetl/internal/azureclient"
)

// AzureBlobStore implements ObjectStore on Azure Blob Storage. Buckets map
// to containers.
type AzureBlobStore struct {
	client *azblob.Client
	tracer trace.Tracer
}

var _ ObjectStore = (*AzureBlobStore)(nil)

func NewAzureBlobStore(bc *azureclient.BlobClient) *AzureBlobStore {
	return &AzureBlobStore{client: bc.Client, tracer: bc.Tracer}
}

func (s *AzureBlobStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, bucket, key, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *AzureBlobStore) Put(ctx context.Context, bucket, key string, reader io.Reader) error {
	ctx, span := s.tracer.Start(ctx, "objstore.AzureBlobStore.Put",
		trace.WithAttributes(
			attribute.String("container", bucket),
			attribute.String("blob", key),
		),
	)
	defer span.End()

	if _, err := s.client.UploadStream(ctx, bucket, key, reader, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("upload azblob %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *AzureBlobStore) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteBlob(ctx, bucket, key, nil)
	return err
}

func (s *AzureBlobStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	blob := s.client.ServiceClient().NewContainerClient(bucket).NewBlobClient(key)
	if _, err := blob.GetProperties(ctx, nil); err != nil {
		if s.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *AzureBlobStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	pager := s.client.NewListBlobsFlatPager(bucket, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list azblob %s/%s: %w", bucket, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
				if p.ETag != nil {
					info.ETag = string(*p.ETag)
				}
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *AzureBlobStore) IsNotFoundError(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}
