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

// Package helpers generates throwaway metadata documents and corrupt
// inputs for tests.
package helpers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TempDirManager manages temporary directories for tests
type TempDirManager struct {
	baseTempDir string
	tempDirs    []string
}

// NewTempDirManager creates a new temporary directory manager
func NewTempDirManager() *TempDirManager {
	return &TempDirManager{
		baseTempDir: os.TempDir(),
		tempDirs:    make([]string, 0),
	}
}

// CreateTempDir creates a temporary directory and tracks it for cleanup
func (tdm *TempDirManager) CreateTempDir(t *testing.T, pattern string) string {
	t.Helper()
	tempDir, err := os.MkdirTemp(tdm.baseTempDir, pattern)
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	tdm.tempDirs = append(tdm.tempDirs, tempDir)
	return tempDir
}

// Cleanup removes all tracked temporary directories
func (tdm *TempDirManager) Cleanup(t *testing.T) {
	t.Helper()
	for _, dir := range tdm.tempDirs {
		if err := os.RemoveAll(dir); err != nil {
			t.Errorf("failed to remove temp dir %s: %v", dir, err)
		}
	}
	tdm.tempDirs = tdm.tempDirs[:0]
}

// WriteTestFile writes content to a file in the given directory
func WriteTestFile(t *testing.T, dir, filename string, content []byte) string {
	t.Helper()
	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		t.Fatalf("failed to write test file %s: %v", filePath, err)
	}
	return filePath
}

// CreateInvalidJSON creates various types of invalid JSON for testing
func CreateInvalidJSON() map[string][]byte {
	return map[string][]byte{
		"empty":            []byte(""),
		"invalid_json":     []byte("{invalid json}"),
		"missing_signed":   []byte(`{"signatures": []}`),
		"wrong_type":       []byte(`{"signed": {"_type": "wrong"}, "signatures": []}`),
		"missing_version":  []byte(`{"signed": {"_type": "root"}, "signatures": []}`),
		"negative_version": []byte(`{"signed": {"_type": "root", "version": -1}, "signatures": []}`),
	}
}

// CreateTestRootJSON creates an unsigned but well-formed root document
func CreateTestRootJSON(t *testing.T) []byte {
	t.Helper()

	expiry := time.Now().UTC().Add(24 * time.Hour)

	root := map[string]interface{}{
		"signed": map[string]interface{}{
			"_type":               "root",
			"spec_version":        "1.0.31",
			"version":             1,
			"expires":             expiry.Format(time.RFC3339),
			"consistent_snapshot": true,
			"keys":                map[string]interface{}{},
			"roles": map[string]interface{}{
				"root": map[string]interface{}{
					"keyids":    []string{},
					"threshold": 1,
				},
				"targets": map[string]interface{}{
					"keyids":    []string{},
					"threshold": 1,
				},
				"snapshot": map[string]interface{}{
					"keyids":    []string{},
					"threshold": 1,
				},
				"timestamp": map[string]interface{}{
					"keyids":    []string{},
					"threshold": 1,
				},
			},
		},
		"signatures": []interface{}{},
	}

	data, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("failed to create test root JSON: %v", err)
	}
	return data
}

func CreateTestTargetsJSON(t *testing.T) []byte {
	t.Helper()

	expiry := time.Now().UTC().Add(24 * time.Hour)

	targets := map[string]interface{}{
		"signed": map[string]interface{}{
			"_type":        "targets",
			"spec_version": "1.0.31",
			"version":      1,
			"expires":      expiry.Format(time.RFC3339),
			"targets":      map[string]interface{}{},
		},
		"signatures": []interface{}{},
	}

	data, err := json.Marshal(targets)
	if err != nil {
		t.Fatalf("failed to create test targets JSON: %v", err)
	}
	return data
}

func CreateTestSnapshotJSON(t *testing.T) []byte {
	t.Helper()

	expiry := time.Now().UTC().Add(24 * time.Hour)

	snapshot := map[string]interface{}{
		"signed": map[string]interface{}{
			"_type":        "snapshot",
			"spec_version": "1.0.31",
			"version":      1,
			"expires":      expiry.Format(time.RFC3339),
			"meta": map[string]interface{}{
				"targets.json": map[string]interface{}{
					"version": 1,
				},
			},
		},
		"signatures": []interface{}{},
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("failed to create test snapshot JSON: %v", err)
	}
	return data
}

func CreateTestTimestampJSON(t *testing.T) []byte {
	t.Helper()

	expiry := time.Now().UTC().Add(24 * time.Hour)

	timestamp := map[string]interface{}{
		"signed": map[string]interface{}{
			"_type":        "timestamp",
			"spec_version": "1.0.31",
			"version":      1,
			"expires":      expiry.Format(time.RFC3339),
			"meta": map[string]interface{}{
				"snapshot.json": map[string]interface{}{
					"version": 1,
				},
			},
		},
		"signatures": []interface{}{},
	}

	data, err := json.Marshal(timestamp)
	if err != nil {
		t.Fatalf("failed to create test timestamp JSON: %v", err)
	}
	return data
}
