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
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trustkeel/trustkeel/metadata"
)

func TestFileStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	store, err := NewFileStorage(filepath.Join(tmp, "metadata"), filepath.Join(tmp, "targets"))
	assert.NoError(t, err)

	err = store.StoreMetadata(ctx, metadata.ROOT, 1, []byte("root v1"))
	assert.NoError(t, err)
	err = store.StoreMetadata(ctx, metadata.TIMESTAMP, 0, []byte("timestamp"))
	assert.NoError(t, err)
	err = store.StoreTarget(ctx, "file.txt", []byte("content"))
	assert.NoError(t, err)

	data := fetchAll(t, func() (io.ReadCloser, error) { return store.FetchMetadata(ctx, metadata.ROOT, 1) })
	assert.Equal(t, []byte("root v1"), data)
	data = fetchAll(t, func() (io.ReadCloser, error) { return store.FetchMetadata(ctx, metadata.TIMESTAMP, 0) })
	assert.Equal(t, []byte("timestamp"), data)
	data = fetchAll(t, func() (io.ReadCloser, error) { return store.FetchTarget(ctx, "file.txt") })
	assert.Equal(t, []byte("content"), data)

	// files land under the shared naming convention
	_, err = os.Stat(filepath.Join(tmp, "metadata", "1.root.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(tmp, "metadata", "timestamp.json"))
	assert.NoError(t, err)

	_, err = store.FetchMetadata(ctx, metadata.SNAPSHOT, 0)
	assert.ErrorIs(t, err, &metadata.ErrMetadataNotFound{})
	_, err = store.FetchTarget(ctx, "missing.txt")
	assert.ErrorIs(t, err, &metadata.ErrTargetNotFound{Target: "missing.txt"})
}

func TestFileStorageCreatesDirectories(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	store, err := NewFileStorage(filepath.Join(tmp, "a", "b"), filepath.Join(tmp, "c"))
	assert.NoError(t, err)

	fi, err := os.Stat(filepath.Join(tmp, "a", "b"))
	assert.NoError(t, err)
	assert.True(t, fi.IsDir())

	// nested target names create their directories on store
	err = store.StoreTarget(ctx, "dir/sub/file.txt", []byte("content"))
	assert.NoError(t, err)
	data := fetchAll(t, func() (io.ReadCloser, error) { return store.FetchTarget(ctx, "dir/sub/file.txt") })
	assert.Equal(t, []byte("content"), data)
}

func TestFileStorageMetadataOnly(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStorage(t.TempDir(), "")
	assert.NoError(t, err)

	_, err = store.FetchTarget(ctx, "file.txt")
	assert.ErrorIs(t, err, &metadata.ErrValue{Msg: "file storage has no targets directory"})
	err = store.StoreTarget(ctx, "file.txt", []byte("content"))
	assert.ErrorIs(t, err, &metadata.ErrValue{Msg: "file storage has no targets directory"})
}

func TestFileStorageOverwrite(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	store, err := NewFileStorage(filepath.Join(tmp, "metadata"), "")
	assert.NoError(t, err)

	err = store.StoreMetadata(ctx, metadata.TIMESTAMP, 0, []byte("old"))
	assert.NoError(t, err)
	err = store.StoreMetadata(ctx, metadata.TIMESTAMP, 0, []byte("new"))
	assert.NoError(t, err)

	data := fetchAll(t, func() (io.ReadCloser, error) { return store.FetchMetadata(ctx, metadata.TIMESTAMP, 0) })
	assert.Equal(t, []byte("new"), data)

	// the write went through a rename, no temp files stay behind
	leftovers, err := filepath.Glob(filepath.Join(tmp, "metadata", "tmp-*"))
	assert.NoError(t, err)
	assert.Empty(t, leftovers)
}
