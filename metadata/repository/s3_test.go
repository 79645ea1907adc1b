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
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/trustkeel/trustkeel/metadata"
)

// fakeS3 keeps objects in a map and mimics the error shapes of the real
// client.
type fakeS3 struct {
	objects    map[string][]byte
	lastBucket string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastBucket = *params.Bucket
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.lastBucket = *params.Bucket
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	store := NewS3Storage(api, "repo-bucket", nil)

	err := store.StoreMetadata(ctx, metadata.ROOT, 1, []byte("root v1"))
	assert.NoError(t, err)
	err = store.StoreTarget(ctx, "file.txt", []byte("content"))
	assert.NoError(t, err)

	// default prefixes: metadata at the bucket root, targets under targets/
	assert.Contains(t, api.objects, "1.root.json")
	assert.Contains(t, api.objects, "targets/file.txt")
	assert.Equal(t, "repo-bucket", api.lastBucket)

	data := fetchAll(t, func() (io.ReadCloser, error) { return store.FetchMetadata(ctx, metadata.ROOT, 1) })
	assert.Equal(t, []byte("root v1"), data)
	data = fetchAll(t, func() (io.ReadCloser, error) { return store.FetchTarget(ctx, "file.txt") })
	assert.Equal(t, []byte("content"), data)
}

func TestS3StoragePrefixes(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	store := NewS3Storage(api, "repo-bucket", &S3Options{
		MetadataPath: "meta",
		TargetsPath:  "blobs",
	})

	err := store.StoreMetadata(ctx, metadata.SNAPSHOT, 0, []byte("snapshot"))
	assert.NoError(t, err)
	err = store.StoreTarget(ctx, "dir/file.txt", []byte("content"))
	assert.NoError(t, err)

	assert.Contains(t, api.objects, "meta/snapshot.json")
	assert.Contains(t, api.objects, "blobs/dir/file.txt")
}

func TestS3StorageNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewS3Storage(newFakeS3(), "repo-bucket", nil)

	_, err := store.FetchMetadata(ctx, metadata.ROOT, 2)
	assert.ErrorIs(t, err, &metadata.ErrMetadataNotFound{Role: metadata.ROOT, Version: 2})
	_, err = store.FetchTarget(ctx, "missing.txt")
	assert.ErrorIs(t, err, &metadata.ErrTargetNotFound{Target: "missing.txt"})
}

// errorS3 fails every call with a fixed error.
type errorS3 struct {
	err error
}

func (e *errorS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, e.err
}

func (e *errorS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return nil, e.err
}

func TestS3StorageErrorPassthrough(t *testing.T) {
	ctx := context.Background()

	// a HeadObject shaped NotFound still reads as a missing object
	store := NewS3Storage(&errorS3{err: &smithy.GenericAPIError{Code: "NotFound"}}, "repo-bucket", nil)
	_, err := store.FetchMetadata(ctx, metadata.ROOT, 0)
	assert.ErrorIs(t, err, &metadata.ErrMetadataNotFound{Role: metadata.ROOT})

	// anything else surfaces unchanged
	store = NewS3Storage(&errorS3{err: &smithy.GenericAPIError{Code: "AccessDenied"}}, "repo-bucket", nil)
	_, err = store.FetchMetadata(ctx, metadata.ROOT, 0)
	var apiErr smithy.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AccessDenied", apiErr.ErrorCode())
}
