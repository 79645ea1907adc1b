// Copyright 2024 The Trustkeel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0
//

package repository

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/trustkeel/trustkeel/metadata"
)

// MemoryStorage keeps repository content in process memory. It backs
// tests and short-lived clients that have no disk cache.
type MemoryStorage struct {
	mu       sync.RWMutex
	metadata map[string][]byte
	targets  map[string][]byte
}

// NewMemoryStorage returns an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		metadata: map[string][]byte{},
		targets:  map[string][]byte{},
	}
}

func (m *MemoryStorage) FetchMetadata(ctx context.Context, role string, version int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.metadata[MetadataFilename(role, version)]
	if !ok {
		return nil, &metadata.ErrMetadataNotFound{Role: role, Version: version}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) FetchTarget(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.targets[name]
	if !ok {
		return nil, &metadata.ErrTargetNotFound{Target: name}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) StoreMetadata(ctx context.Context, role string, version int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[MetadataFilename(role, version)] = data
	return nil
}

func (m *MemoryStorage) StoreTarget(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = data
	return nil
}
