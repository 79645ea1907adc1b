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

// Package repository abstracts where repository bytes live. A Provider
// fetches raw metadata and target content, a Storage can additionally
// write them back, and the filename helpers implement the addressing
// convention every implementation shares. Nothing here verifies
// anything: callers gate every byte a Provider returns.
package repository

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
)

// Provider fetches raw repository bytes. Implementations map the
// repository-relative names produced by MetadataFilename and
// TargetFilename onto their own addressing and report a missing object
// as ErrMetadataNotFound or ErrTargetNotFound.
type Provider interface {
	// FetchMetadata opens the metadata file for role. Version 0 requests
	// the latest, unversioned filename.
	FetchMetadata(ctx context.Context, role string, version int64) (io.ReadCloser, error)
	// FetchTarget opens a target file by its repository-relative name,
	// already hash-prefixed when consistent snapshots are in use.
	FetchTarget(ctx context.Context, name string) (io.ReadCloser, error)
}

// Storage is a Provider that can also write, for local caches,
// write-capable mirrors and repository authoring.
type Storage interface {
	Provider
	// StoreMetadata writes the metadata file for role. Version 0 writes
	// the latest, unversioned filename.
	StoreMetadata(ctx context.Context, role string, version int64, data []byte) error
	// StoreTarget writes a target file under its repository-relative name.
	StoreTarget(ctx context.Context, name string, data []byte) error
}

// MetadataFilename returns the repository-relative filename for a role's
// metadata: "<role>.json", or "<version>.<role>.json" when a version is
// pinned for consistent-snapshot addressing. Role names are percent
// encoded, delegated roles may carry characters that are unsafe in
// filenames and URLs.
func MetadataFilename(role string, version int64) string {
	name := fmt.Sprintf("%s.json", url.PathEscape(role))
	if version != 0 {
		name = fmt.Sprintf("%d.%s", version, name)
	}
	return name
}

// TargetFilename returns the repository-relative filename for a target
// path. With an empty hexDigest that is the path itself; under consistent
// snapshots the digest prefixes the base name, so "dir/file" becomes
// "dir/<hexDigest>.file".
func TargetFilename(targetPath string, hexDigest string) string {
	if hexDigest == "" {
		return targetPath
	}
	dir, base := path.Split(targetPath)
	return fmt.Sprintf("%s%s.%s", dir, hexDigest, base)
}
