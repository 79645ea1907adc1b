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

package metadata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trustkeel/trustkeel/internal/testutils/helpers"
)

func TestMetadataCreation(t *testing.T) {
	tests := []struct {
		name         string
		createFunc   func() interface{}
		expectedType string
		wantErr      bool
	}{
		{
			name: "Root creation with default expiry",
			createFunc: func() interface{} {
				return Root()
			},
			expectedType: ROOT,
			wantErr:      false,
		},
		{
			name: "Root creation with fixed expiry",
			createFunc: func() interface{} {
				return Root(fixedExpire)
			},
			expectedType: ROOT,
			wantErr:      false,
		},
		{
			name: "Targets creation with default expiry",
			createFunc: func() interface{} {
				return Targets()
			},
			expectedType: TARGETS,
			wantErr:      false,
		},
		{
			name: "Targets creation with fixed expiry",
			createFunc: func() interface{} {
				return Targets(fixedExpire)
			},
			expectedType: TARGETS,
			wantErr:      false,
		},
		{
			name: "Snapshot creation with default expiry",
			createFunc: func() interface{} {
				return Snapshot()
			},
			expectedType: SNAPSHOT,
			wantErr:      false,
		},
		{
			name: "Snapshot creation with fixed expiry",
			createFunc: func() interface{} {
				return Snapshot(fixedExpire)
			},
			expectedType: SNAPSHOT,
			wantErr:      false,
		},
		{
			name: "Timestamp creation with default expiry",
			createFunc: func() interface{} {
				return Timestamp()
			},
			expectedType: TIMESTAMP,
			wantErr:      false,
		},
		{
			name: "Timestamp creation with fixed expiry",
			createFunc: func() interface{} {
				return Timestamp(fixedExpire)
			},
			expectedType: TIMESTAMP,
			wantErr:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.createFunc()
			assert.NotNil(t, result)

			switch meta := result.(type) {
			case *Metadata[RootType]:
				assert.Equal(t, tt.expectedType, meta.Signed.Type)
				assert.Equal(t, SPECIFICATION_VERSION, meta.Signed.SpecVersion)
				assert.Equal(t, int64(1), meta.Signed.Version)
				assert.NotNil(t, meta.Signed.Keys)
				assert.NotNil(t, meta.Signed.Roles)
			case *Metadata[TargetsType]:
				assert.Equal(t, tt.expectedType, meta.Signed.Type)
				assert.Equal(t, SPECIFICATION_VERSION, meta.Signed.SpecVersion)
				assert.Equal(t, int64(1), meta.Signed.Version)
				assert.NotNil(t, meta.Signed.Targets)
			case *Metadata[SnapshotType]:
				assert.Equal(t, tt.expectedType, meta.Signed.Type)
				assert.Equal(t, SPECIFICATION_VERSION, meta.Signed.SpecVersion)
				assert.Equal(t, int64(1), meta.Signed.Version)
				assert.NotNil(t, meta.Signed.Meta)
			case *Metadata[TimestampType]:
				assert.Equal(t, tt.expectedType, meta.Signed.Type)
				assert.Equal(t, SPECIFICATION_VERSION, meta.Signed.SpecVersion)
				assert.Equal(t, int64(1), meta.Signed.Version)
				assert.NotNil(t, meta.Signed.Meta)
			}
		})
	}
}

func TestMetadataFromBytes(t *testing.T) {
	tempManager := helpers.NewTempDirManager()
	defer tempManager.Cleanup(t)

	// Create test metadata files
	validRoot := helpers.CreateTestRootJSON(t)
	validTargets := helpers.CreateTestTargetsJSON(t)
	validSnapshot := helpers.CreateTestSnapshotJSON(t)
	validTimestamp := helpers.CreateTestTimestampJSON(t)

	invalidData := helpers.CreateInvalidJSON()

	tests := []struct {
		name         string
		metadataType string
		data         []byte
		wantErr      bool
		errorMsg     string
	}{
		{
			name:         "Valid Root from bytes",
			metadataType: ROOT,
			data:         validRoot,
			wantErr:      false,
		},
		{
			name:         "Valid Targets from bytes",
			metadataType: TARGETS,
			data:         validTargets,
			wantErr:      false,
		},
		{
			name:         "Valid Snapshot from bytes",
			metadataType: SNAPSHOT,
			data:         validSnapshot,
			wantErr:      false,
		},
		{
			name:         "Valid Timestamp from bytes",
			metadataType: TIMESTAMP,
			data:         validTimestamp,
			wantErr:      false,
		},
		{
			name:         "Empty data",
			metadataType: ROOT,
			data:         invalidData["empty"],
			wantErr:      true,
			errorMsg:     "unexpected end of JSON input",
		},
		{
			name:         "Invalid JSON",
			metadataType: ROOT,
			data:         invalidData["invalid_json"],
			wantErr:      true,
			errorMsg:     "invalid character",
		},
		{
			name:         "Missing signed field",
			metadataType: ROOT,
			data:         invalidData["missing_signed"],
			wantErr:      true,
		},
		{
			name:         "Wrong metadata type",
			metadataType: ROOT,
			data:         invalidData["wrong_type"],
			wantErr:      true,
			errorMsg:     "expected metadata type root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error

			switch tt.metadataType {
			case ROOT:
				_, err = Root().FromBytes(tt.data)
			case TARGETS:
				_, err = Targets().FromBytes(tt.data)
			case SNAPSHOT:
				_, err = Snapshot().FromBytes(tt.data)
			case TIMESTAMP:
				_, err = Timestamp().FromBytes(tt.data)
			}

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetadataFromFile(t *testing.T) {
	tempManager := helpers.NewTempDirManager()
	defer tempManager.Cleanup(t)

	testDir := tempManager.CreateTempDir(t, "metadata_test")

	// Create test files
	validRoot := helpers.CreateTestRootJSON(t)
	validTargets := helpers.CreateTestTargetsJSON(t)

	rootFile := helpers.WriteTestFile(t, testDir, "root.json", validRoot)
	targetsFile := helpers.WriteTestFile(t, testDir, "targets.json", validTargets)
	helpers.WriteTestFile(t, testDir, "invalid.json", []byte("{invalid json}"))

	tests := []struct {
		name         string
		metadataType string
		filePath     string
		wantErr      bool
		errorMsg     string
	}{
		{
			name:         "Valid Root from file",
			metadataType: ROOT,
			filePath:     rootFile,
			wantErr:      false,
		},
		{
			name:         "Valid Targets from file",
			metadataType: TARGETS,
			filePath:     targetsFile,
			wantErr:      false,
		},
		{
			name:         "Non-existent file",
			metadataType: ROOT,
			filePath:     filepath.Join(testDir, "nonexistent.json"),
			wantErr:      true,
			errorMsg:     "no such file or directory",
		},
		{
			name:         "Invalid JSON file",
			metadataType: ROOT,
			filePath:     filepath.Join(testDir, "invalid.json"),
			wantErr:      true,
			errorMsg:     "invalid character",
		},
		{
			name:         "Wrong metadata type in file",
			metadataType: TARGETS,
			filePath:     rootFile,
			wantErr:      true,
			errorMsg:     "expected metadata type targets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error

			switch tt.metadataType {
			case ROOT:
				_, err = Root().FromFile(tt.filePath)
			case TARGETS:
				_, err = Targets().FromFile(tt.filePath)
			case SNAPSHOT:
				_, err = Snapshot().FromFile(tt.filePath)
			case TIMESTAMP:
				_, err = Timestamp().FromFile(tt.filePath)
			}

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
