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
	"io"
	"time"
)

// ObjectStore provides the object operations the pipeline workers need.
// Workers only ever create objects in their own output areas and never
// rewrite another worker's objects.
type ObjectStore interface {
	// Get retrieves an object and returns a reader for its contents
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Put stores an object from the provided reader
	Put(ctx context.Context, bucket, key string, reader io.Reader) error

	// Delete removes an object
	Delete(ctx context.Context, bucket, key string) error

	// Exists checks if an object exists (returns true, nil if exists)
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// List objects with a given prefix, sorted by key
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// IsNotFoundError checks if an error indicates the object was not found
	IsNotFoundError(err error) bool
}

// ObjectInfo contains metadata about an object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// ErrNotFound is returned by stores that have no native not-found error.
var ErrNotFound = errors.New("object not found")
