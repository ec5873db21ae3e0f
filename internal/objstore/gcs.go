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
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"

	"github.com/cardinalhq/rawetl/internal/gcpclient"
)

// GCSStore implements ObjectStore on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	tracer trace.Tracer
}

var _ ObjectStore = (*GCSStore)(nil)

func NewGCSStore(sc *gcpclient.StorageClient) *GCSStore {
	return &GCSStore{client: sc.Client, tracer: sc.Tracer}
}

func (s *GCSStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	// Objects are handed to tools as stored, never transparently gunzipped.
	r, err := s.client.Bucket(bucket).Object(key).ReadCompressed(true).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, key, err)
	}
	return r, nil
}

func (s *GCSStore) Put(ctx context.Context, bucket, key string, reader io.Reader) error {
	ctx, span := s.tracer.Start(ctx, "objstore.GCSStore.Put",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.Metadata = map[string]string{"writer": "rawetl-go"}
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		span.RecordError(err)
		return fmt.Errorf("upload gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("finish upload gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete is idempotent, like S3.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns every object under prefix. GCS lists in key order.
func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		out = append(out, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			ETag:         attrs.Etag,
		})
	}
}

func (s *GCSStore) IsNotFoundError(err error) bool {
	return errors.Is(err, storage.ErrObjectNotExist)
}
