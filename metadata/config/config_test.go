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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEngineConfig(t *testing.T) {
	// setup testing table (tt) and create subtest for each entry
	for _, tt := range []struct {
		name      string
		desc      string
		remoteURL string
		rootBytes []byte
		config    *EngineConfig
		wantErr   bool
	}{
		{
			name:      "success",
			desc:      "No errors expected",
			remoteURL: "somepath",
			rootBytes: []byte("somerootbytes"),
			config: &EngineConfig{
				TrustedRoot:           []byte("somerootbytes"),
				MaxRootRotations:      32,
				MaxDelegations:        32,
				RootMaxLength:         512000,
				TimestampMaxLength:    16384,
				SnapshotMaxLength:     2000000,
				TargetsMaxLength:      5000000,
				RemoteMetadataURL:     "somepath",
				RemoteTargetsURL:      "somepath/targets",
				DisableLocalCache:     false,
				PrefixTargetsWithHash: true,
			},
			wantErr: false,
		},
		{
			name:      "invalid character in URL",
			desc:      "Invalid ASCII control sequence in input",
			remoteURL: string([]byte{0x7f}),
			rootBytes: []byte("somerootbytes"),
			config:    nil,
			wantErr:   true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			// this will only be printed if run in verbose mode or if test fails
			t.Logf("Desc: %s", tt.desc)
			// run the function under test
			engineConfig, err := New(tt.remoteURL, tt.rootBytes)
			// special case if we expect no error
			if !tt.wantErr {
				assert.NoErrorf(t, err, "expected no error but got %v", err)
				assert.EqualExportedValuesf(t, *tt.config, *engineConfig, "expected %#+v but got %#+v", tt.config, engineConfig)
				return
			}
			// compare the error with our expected error
			assert.Nilf(t, engineConfig, "expected nil but got %#+v", engineConfig)
			assert.Errorf(t, err, "expected an error but got %v", err)
		})
	}
}

func TestEnsurePathsExist(t *testing.T) {
	// setup testing table (tt) and create subtest for each entry
	for _, tt := range []struct {
		name    string
		desc    string
		config  *EngineConfig
		setup   func(t *testing.T, cfg *EngineConfig)
		wantErr bool
	}{
		{
			name: "success",
			desc: "Both directories created",
			config: &EngineConfig{
				DisableLocalCache: false,
			},
			setup: func(t *testing.T, cfg *EngineConfig) {
				t.Helper()
				tmp := t.TempDir()
				cfg.LocalTargetsDir = filepath.Join(tmp, "targets")
				cfg.LocalMetadataDir = filepath.Join(tmp, "metadata")
			},
			wantErr: false,
		},
		{
			name: "empty paths skipped",
			desc: "Unset directories are not an error",
			config: &EngineConfig{
				DisableLocalCache: false,
			},
			setup: func(t *testing.T, cfg *EngineConfig) {
				t.Helper()
			},
			wantErr: false,
		},
		{
			name: "no local cache",
			desc: "Method is a no-op when the cache is disabled",
			config: &EngineConfig{
				DisableLocalCache: true,
			},
			setup: func(t *testing.T, cfg *EngineConfig) {
				t.Helper()
				tmp := t.TempDir()
				cfg.LocalMetadataDir = filepath.Join(tmp, "metadata")
			},
			wantErr: false,
		},
		{
			name: "path blocked by a file",
			desc: "A file where a directory should go fails the create",
			config: &EngineConfig{
				DisableLocalCache: false,
			},
			setup: func(t *testing.T, cfg *EngineConfig) {
				t.Helper()
				tmp := t.TempDir()
				blocker := filepath.Join(tmp, "blocker")
				assert.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))
				cfg.LocalMetadataDir = filepath.Join(blocker, "metadata")
			},
			wantErr: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			// this will only be printed if run in verbose mode or if test fails
			t.Logf("Desc: %s", tt.desc)
			// run special test setup in case it is needed for any subtest
			tt.setup(t, tt.config)
			// run the method under test
			err := tt.config.EnsurePathsExist()
			// special case if we expect no error
			if !tt.wantErr {
				assert.NoErrorf(t, err, "expected no error but got %v", err)
				if tt.config.DisableLocalCache {
					// disabled cache must not touch the filesystem
					if tt.config.LocalMetadataDir != "" {
						_, statErr := os.Stat(tt.config.LocalMetadataDir)
						assert.ErrorIs(t, statErr, os.ErrNotExist)
					}
					return
				}
				for _, dir := range []string{tt.config.LocalMetadataDir, tt.config.LocalTargetsDir} {
					if dir == "" {
						continue
					}
					fi, statErr := os.Stat(dir)
					assert.NoError(t, statErr)
					assert.True(t, fi.IsDir())
				}
				return
			}
			// compare the error with our expected error
			assert.Errorf(t, err, "expected an error but got %v", err)
		})
	}
}
