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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DownloadToFile copies an object into dir, keeping the object's base name
// so external tools that look at extensions still work. It returns the
// local path and the number of bytes written.
func DownloadToFile(ctx context.Context, store ObjectStore, dir, bucket, key string) (string, int64, error) {
	reader, err := store.Get(ctx, bucket, key)
	if err != nil {
		return "", 0, fmt.Errorf("getting object %s/%s: %w", bucket, key, err)
	}
	defer reader.Close()

	dest := filepath.Join(dir, filepath.Base(key))
	f, err := os.Create(dest)
	if err != nil {
		return "", 0, fmt.Errorf("creating local file: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return "", 0, fmt.Errorf("copying %s/%s to %s: %w", bucket, key, dest, err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("closing %s: %w", dest, err)
	}
	return dest, size, nil
}

// UploadFile stores a local file as an object.
func UploadFile(ctx context.Context, store ObjectStore, bucket, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file %s: %w", path, err)
	}
	defer f.Close()
	return store.Put(ctx, bucket, key, f)
}

// ReadAll returns the full contents of an object.
func ReadAll(ctx context.Context, store ObjectStore, bucket, key string) ([]byte, error) {
	reader, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// ReadJSON decodes an object into v.
func ReadJSON(ctx context.Context, store ObjectStore, bucket, key string, v any) error {
	data, err := ReadAll(ctx, store, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", bucket, key, err)
	}
	return nil
}

// WriteJSON encodes v and stores it as an object.
func WriteJSON(ctx context.Context, store ObjectStore, bucket, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", bucket, key, err)
	}
	return store.Put(ctx, bucket, key, bytes.NewReader(data))
}
