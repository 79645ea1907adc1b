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

// Package testutils holds shared directories for tests that need to
// write metadata and target files to disk. Tests generate their own
// fixtures at runtime, the directories start out empty.
package testutils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

var (
	TempDir    string
	RepoDir    string
	TargetsDir string
)

func SetupTestDirs() error {
	tmp := os.TempDir()
	var err error
	TempDir, err = os.MkdirTemp(tmp, "0750")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}

	RepoDir = filepath.Join(TempDir, "repository")
	err = os.Mkdir(RepoDir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create repository dir %s: %w", RepoDir, err)
	}

	TargetsDir = filepath.Join(TempDir, "targets")
	err = os.Mkdir(TargetsDir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create targets dir %s: %w", TargetsDir, err)
	}

	return nil
}

func Cleanup() {
	log.Printf("cleaning temporary directory: %s\n", TempDir)
	err := os.RemoveAll(TempDir)
	if err != nil {
		log.Fatalf("failed to cleanup test directories: %v", err)
	}
}
