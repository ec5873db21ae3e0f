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
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// PutListener is told about every object written to a MemoryStore, the
// way a bucket notification would be.
type PutListener func(bucket, key string, size int64)

type memObject struct {
	data     []byte
	modified time.Time
}

// MemoryStore is an in-process ObjectStore used by the local runner and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	buckets   map[string]map[string]memObject
	listeners []PutListener
	puts      map[string]int
}

var _ ObjectStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string]memObject),
		puts:    make(map[string]int),
	}
}

// OnPut registers a listener called after every successful Put.
func (m *MemoryStore) OnPut(l PutListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *MemoryStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) Put(_ context.Context, bucket, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}

	m.mu.Lock()
	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]memObject)
		m.buckets[bucket] = b
	}
	b[key] = memObject{data: data, modified: time.Now()}
	m.puts[bucket+"/"+key]++
	listeners := append([]PutListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(bucket, key, int64(len(data)))
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket][key]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for key, obj := range m.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PutCount returns how many times an object was written.
func (m *MemoryStore) PutCount(bucket, key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[bucket+"/"+key]
}

// Keys returns all keys in a bucket, sorted.
func (m *MemoryStore) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
