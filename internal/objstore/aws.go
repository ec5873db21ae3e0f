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
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/rawetl/internal/awsclient"
)

// AWSS3Store implements ObjectStore using AWS S3
type AWSS3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	tracer   trace.Tracer
}

var _ ObjectStore = (*AWSS3Store)(nil)

// NewAWSS3Store creates a new AWS S3 object store
func NewAWSS3Store(s3client *awsclient.S3Client) *AWSS3Store {
	return &AWSS3Store{
		client:   s3client.Client,
		uploader: manager.NewUploader(s3client.Client),
		tracer:   s3client.Tracer,
	}
}

// Get retrieves an object from S3
func (s *AWSS3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Put stores an object in S3. The multipart uploader is used so large
// frames and audio tracks do not need to be buffered.
func (s *AWSS3Store) Put(ctx context.Context, bucket, key string, reader io.Reader) error {
	ctx, span := s.tracer.Start(ctx, "objstore.AWSS3Store.Put",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   reader,
		Metadata: map[string]string{
			"writer": "rawetl-go",
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes an object from S3
func (s *AWSS3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

// Exists checks if an object exists in S3
func (s *AWSS3Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every object under prefix.
func (s *AWSS3Store) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: aws.ToString(obj.ETag),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// IsNotFoundError checks if an error indicates the object was not found
func (s *AWSS3Store) IsNotFoundError(err error) bool {
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return true
	}

	var notFoundError *types.NotFound
	return errors.As(err, &notFoundError)
}
