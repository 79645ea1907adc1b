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

package config

import (
	"net/url"
	"os"

	"github.com/trustkeel/trustkeel/metadata"
	"github.com/trustkeel/trustkeel/metadata/repository"
)

// EngineConfig carries everything an update engine needs: the trust
// anchor, remote and local locations, and the safety limits applied to
// every fetch and every delegation walk.
type EngineConfig struct {
	// TrustedRoot is the initial root metadata, obtained out of band.
	TrustedRoot []byte
	// RootKeys, RootThreshold and RootVersion pin the bootstrap root to
	// out-of-band trusted keys and an expected version. All optional;
	// the root always verifies against its own declared keys.
	RootKeys      map[string]*metadata.Key
	RootThreshold int
	RootVersion   int64

	MaxRootRotations   int64
	MaxDelegations     int64
	RootMaxLength      int64
	TimestampMaxLength int64
	SnapshotMaxLength  int64
	TargetsMaxLength   int64

	RemoteMetadataURL string
	RemoteTargetsURL  string
	LocalMetadataDir  string
	LocalTargetsDir   string

	// Remote overrides the HTTP provider built from the URLs above.
	Remote repository.Provider
	// Local overrides the file storage built from LocalMetadataDir.
	Local repository.Storage

	// DisableLocalCache skips reading and writing the local metadata
	// cache, every cycle then starts from the bootstrap root.
	DisableLocalCache bool
	// UnsafeLocalMode trusts the local cache without contacting the
	// remote. Expiry is still enforced. For airgapped inspection of an
	// already synced cache only.
	UnsafeLocalMode       bool
	PrefixTargetsWithHash bool
}

// New returns an EngineConfig with safe defaults for the given remote
// metadata URL and initial root. Targets are expected under the
// "targets" path next to the metadata unless RemoteTargetsURL is
// changed afterwards.
func New(remoteURL string, rootBytes []byte) (*EngineConfig, error) {
	targetsURL, err := url.JoinPath(remoteURL, "targets")
	if err != nil {
		return nil, err
	}
	return &EngineConfig{
		TrustedRoot:           rootBytes,
		MaxRootRotations:      32,
		MaxDelegations:        32,
		RootMaxLength:         512000,  // bytes
		TimestampMaxLength:    16384,   // bytes
		SnapshotMaxLength:     2000000, // bytes
		TargetsMaxLength:      5000000, // bytes
		RemoteMetadataURL:     remoteURL,
		RemoteTargetsURL:      targetsURL,
		PrefixTargetsWithHash: true,
	}, nil
}

// EnsurePathsExist creates the local cache directories.
func (cfg *EngineConfig) EnsurePathsExist() error {
	if cfg.DisableLocalCache {
		return nil
	}
	for _, path := range []string{cfg.LocalMetadataDir, cfg.LocalTargetsDir} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0750); err != nil {
			return err
		}
	}
	return nil
}
