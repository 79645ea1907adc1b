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

	"github.com/trustkeel/trustkeel/metadata"
)

// FileStorage keeps repository metadata and targets as plain files under
// two directories. It serves both as the local trusted-metadata cache of
// a client and as a file-based repository in tests and examples.
type FileStorage struct {
	metadataDir string
	targetsDir  string
}

// NewFileStorage returns a Storage rooted at the given directories,
// creating them when missing. targetsDir may be empty for metadata-only
// use, target operations then fail with ErrValue.
func NewFileStorage(metadataDir, targetsDir string) (*FileStorage, error) {
	// user:  rwx
	// group: r-x
	// other: ---
	if err := os.MkdirAll(metadataDir, 0750); err != nil {
		return nil, err
	}
	if targetsDir != "" {
		if err := os.MkdirAll(targetsDir, 0750); err != nil {
			return nil, err
		}
	}
	return &FileStorage{metadataDir: metadataDir, targetsDir: targetsDir}, nil
}

func (f *FileStorage) FetchMetadata(ctx context.Context, role string, version int64) (io.ReadCloser, error) {
	in, err := os.Open(filepath.Join(f.metadataDir, MetadataFilename(role, version)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &metadata.ErrMetadataNotFound{Role: role, Version: version}
		}
		return nil, err
	}
	return in, nil
}

func (f *FileStorage) FetchTarget(ctx context.Context, name string) (io.ReadCloser, error) {
	if f.targetsDir == "" {
		return nil, &metadata.ErrValue{Msg: "file storage has no targets directory"}
	}
	in, err := os.Open(filepath.Join(f.targetsDir, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &metadata.ErrTargetNotFound{Target: name}
		}
		return nil, err
	}
	return in, nil
}

func (f *FileStorage) StoreMetadata(ctx context.Context, role string, version int64, data []byte) error {
	// user:  rw-
	// group: r--
	// other: ---
	return atomicWrite(filepath.Join(f.metadataDir, MetadataFilename(role, version)), data, 0640)
}

func (f *FileStorage) StoreTarget(ctx context.Context, name string, data []byte) error {
	if f.targetsDir == "" {
		return &metadata.ErrValue{Msg: "file storage has no targets directory"}
	}
	p := filepath.Join(f.targetsDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return err
	}
	return atomicWrite(p, data, 0644)
}

// atomicWrite writes data through a temporary file in the destination
// directory and renames it into place, so a reader never observes a
// partially written file.
func atomicWrite(p string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(perm)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, p)
	}
	if err != nil {
		os.Remove(tmpName)
	}
	return err
}
