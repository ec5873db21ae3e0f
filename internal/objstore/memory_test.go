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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var notified []string
	store.OnPut(func(bucket, key string, size int64) {
		notified = append(notified, bucket+"/"+key)
	})

	require.NoError(t, store.Put(ctx, "b", "dir/a.txt", strings.NewReader("hello")))
	require.NoError(t, store.Put(ctx, "b", "dir/b.txt", strings.NewReader("world!")))
	require.NoError(t, store.Put(ctx, "b", "other.txt", strings.NewReader("x")))

	assert.Equal(t, []string{"b/dir/a.txt", "b/dir/b.txt", "b/other.txt"}, notified)

	data, err := ReadAll(ctx, store, "b", "dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	infos, err := store.List(ctx, "b", "dir/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "dir/a.txt", infos[0].Key)
	assert.Equal(t, int64(6), infos[1].Size)

	ok, err := store.Exists(ctx, "b", "dir/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "b", "dir/a.txt"))
	_, err = store.Get(ctx, "b", "dir/a.txt")
	assert.True(t, store.IsNotFoundError(err))
}

func TestDownloadAndUploadFile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "raw", "docs/report.pdf", strings.NewReader("%PDF-1.7")))

	dir := t.TempDir()
	path, size, err := DownloadToFile(ctx, store, dir, "raw", "docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), path)
	assert.Equal(t, int64(8), size)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("done"), 0o644))
	require.NoError(t, UploadFile(ctx, store, "out", "report.txt", filepath.Join(dir, "out.txt")))
	assert.Equal(t, 1, store.PutCount("out", "report.txt"))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	type doc struct {
		Name string `json:"name"`
	}
	require.NoError(t, WriteJSON(ctx, store, "b", "k.json", doc{Name: "clip"}))

	var got doc
	require.NoError(t, ReadJSON(ctx, store, "b", "k.json", &got))
	assert.Equal(t, "clip", got.Name)

	err := ReadJSON(ctx, store, "b", "missing.json", &got)
	assert.True(t, store.IsNotFoundError(err))
}
