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
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/trustkeel/trustkeel/metadata"
)

// S3API is the subset of the S3 client surface the storage uses. The
// production implementation is *s3.Client from s3.NewFromConfig.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options sets the key prefixes an S3Storage reads and writes under.
type S3Options struct {
	MetadataPath string
	TargetsPath  string
}

// S3Storage reads and mirrors repository content in an S3 bucket.
type S3Storage struct {
	api    S3API
	bucket string
	opts   S3Options
}

// NewS3Storage returns a Storage over the given bucket. With nil opts,
// metadata lives at the bucket root and targets under "targets/".
func NewS3Storage(api S3API, bucket string, opts *S3Options) *S3Storage {
	if opts == nil {
		opts = &S3Options{}
	}
	if opts.TargetsPath == "" {
		opts.TargetsPath = "targets"
	}
	return &S3Storage{
		api:    api,
		bucket: bucket,
		opts:   *opts,
	}
}

func (s *S3Storage) FetchMetadata(ctx context.Context, role string, version int64) (io.ReadCloser, error) {
	body, err := s.get(ctx, path.Join(s.opts.MetadataPath, MetadataFilename(role, version)))
	if err != nil {
		if isS3NotFound(err) {
			return nil, &metadata.ErrMetadataNotFound{Role: role, Version: version}
		}
		return nil, err
	}
	return body, nil
}

func (s *S3Storage) FetchTarget(ctx context.Context, name string) (io.ReadCloser, error) {
	body, err := s.get(ctx, path.Join(s.opts.TargetsPath, name))
	if err != nil {
		if isS3NotFound(err) {
			return nil, &metadata.ErrTargetNotFound{Target: name}
		}
		return nil, err
	}
	return body, nil
}

func (s *S3Storage) StoreMetadata(ctx context.Context, role string, version int64, data []byte) error {
	return s.put(ctx, path.Join(s.opts.MetadataPath, MetadataFilename(role, version)), data)
}

func (s *S3Storage) StoreTarget(ctx context.Context, name string, data []byte) error {
	return s.put(ctx, path.Join(s.opts.TargetsPath, name), data)
}

func (s *S3Storage) get(ctx context.Context, key string) (io.ReadCloser, error) {
	res, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (s *S3Storage) put(ctx context.Context, key string, data []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	// responses that skip the typed error still carry the code
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}
