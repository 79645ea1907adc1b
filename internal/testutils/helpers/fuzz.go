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

package helpers

import (
	"encoding/json"
	"fmt"
	"maps"
	"math/rand"
	"strings"
	"time"
)

// FuzzDataGenerator provides utilities for generating fuzz test data
type FuzzDataGenerator struct {
	rand *rand.Rand
}

// NewFuzzDataGenerator creates a new fuzz data generator
func NewFuzzDataGenerator(seed int64) *FuzzDataGenerator {
	return &FuzzDataGenerator{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// GenerateRandomString generates a random string of specified length
func (f *FuzzDataGenerator) GenerateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[f.rand.Intn(len(charset))]
	}
	return string(b)
}

// GenerateRandomBytes generates random bytes of specified length
func (f *FuzzDataGenerator) GenerateRandomBytes(length int) []byte {
	b := make([]byte, length)
	f.rand.Read(b)
	return b
}

// GenerateRandomJSON generates random JSON-like data for fuzzing
func (f *FuzzDataGenerator) GenerateRandomJSON() []byte {
	data := map[string]any{
		"signed": map[string]any{
			"_type":        f.GenerateRandomString(f.rand.Intn(20) + 1),
			"version":      f.rand.Intn(1000),
			"spec_version": f.GenerateRandomString(10),
			"expires":      time.Now().Add(time.Duration(f.rand.Intn(365*24)) * time.Hour).Format(time.RFC3339),
		},
		"signatures": []map[string]any{
			{
				"keyid": f.GenerateRandomString(64),
				"sig":   f.GenerateRandomString(128),
			},
		},
	}

	jsonData, _ := json.Marshal(data)
	return jsonData
}

// GenerateCorruptedJSON generates various types of corrupted JSON for fuzzing
func (f *FuzzDataGenerator) GenerateCorruptedJSON() []byte {
	corruptionTypes := []func() []byte{
		// Truncated JSON
		func() []byte {
			validJSON := f.GenerateRandomJSON()
			if len(validJSON) > 10 {
				return validJSON[:len(validJSON)/2]
			}
			return validJSON
		},
		// Invalid characters
		func() []byte {
			return []byte(strings.ReplaceAll(string(f.GenerateRandomJSON()), ":", f.GenerateRandomString(5)))
		},
		// Nested objects with random depths
		func() []byte {
			depth := f.rand.Intn(100) + 1
			json := "{"
			for i := 0; i < depth; i++ {
				json += fmt.Sprintf(`"level%d": {`, i)
			}
			json += `"value": "test"`
			for i := 0; i < depth; i++ {
				json += "}"
			}
			json += "}"
			return []byte(json)
		},
		// Very long strings
		func() []byte {
			longString := f.GenerateRandomString(f.rand.Intn(10000) + 1000)
			return fmt.Appendf([]byte{}, `{"long_string": "%s"}`, longString)
		},
		// Invalid Unicode
		func() []byte {
			return append([]byte(`{"test": "`), append(f.GenerateRandomBytes(50), []byte(`"}`)...)...)
		},
	}

	corruptionFunc := corruptionTypes[f.rand.Intn(len(corruptionTypes))]
	return corruptionFunc()
}

// GenerateRandomMetadataFields generates random values for metadata fields
func (f *FuzzDataGenerator) GenerateRandomMetadataFields() map[string]any {
	return map[string]any{
		"version":      f.rand.Intn(1000000),
		"spec_version": f.GenerateRandomString(f.rand.Intn(20) + 1),
		"expires":      f.GenerateRandomTime().Format(time.RFC3339),
		"type":         f.GenerateRandomString(f.rand.Intn(20) + 1),
		"length":       f.rand.Intn(1000000),
		"hashes": map[string]string{
			"sha256": f.GenerateRandomString(64),
			"sha512": f.GenerateRandomString(128),
		},
		"keyids":    []string{f.GenerateRandomString(64), f.GenerateRandomString(64)},
		"threshold": f.rand.Intn(10) + 1,
		"custom": map[string]any{
			"random_field": f.GenerateRandomString(100),
			"number":       f.rand.Intn(1000),
		},
	}
}

// GenerateRandomTime generates a random time within a reasonable range
func (f *FuzzDataGenerator) GenerateRandomTime() time.Time {
	// Generate time between 2020 and 2030
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC)

	duration := end.Sub(start)
	randomDuration := time.Duration(f.rand.Int63n(int64(duration)))

	return start.Add(randomDuration)
}

// GenerateRandomSignature generates a random signature structure
func (f *FuzzDataGenerator) GenerateRandomSignature() map[string]any {
	return map[string]any{
		"keyid": f.GenerateRandomString(64),
		"sig":   f.GenerateRandomString(f.rand.Intn(200) + 50),
	}
}

// GenerateRandomKey generates a random key structure
func (f *FuzzDataGenerator) GenerateRandomKey() map[string]any {
	keyTypes := []string{"ed25519", "rsa", "ecdsa", "unknown"}
	schemes := []string{"ed25519", "rsa-pss-sha256", "ecdsa-sha2-nistp256", "unknown"}

	return map[string]any{
		"keytype": keyTypes[f.rand.Intn(len(keyTypes))],
		"scheme":  schemes[f.rand.Intn(len(schemes))],
		"keyval": map[string]any{
			"public": f.GenerateRandomString(f.rand.Intn(500) + 50),
		},
	}
}

// CreateFuzzTestMetadata creates various metadata structures for fuzz testing
func (f *FuzzDataGenerator) CreateFuzzTestMetadata(metadataType string) []byte {
	base := map[string]any{
		"signed": map[string]any{
			"_type": metadataType,
		},
		"signatures": []any{
			f.GenerateRandomSignature(),
		},
	}

	// Add type-specific fields
	signed := base["signed"].(map[string]any)
	fields := f.GenerateRandomMetadataFields()
	maps.Copy(signed, fields)

	// Add type-specific structures
	switch metadataType {
	case "root":
		signed["keys"] = map[string]any{
			f.GenerateRandomString(64): f.GenerateRandomKey(),
		}
		signed["roles"] = map[string]any{
			"root": map[string]any{
				"keyids":    []string{f.GenerateRandomString(64)},
				"threshold": f.rand.Intn(5) + 1,
			},
		}
		signed["consistent_snapshot"] = f.rand.Intn(2) == 1

	case "targets":
		signed["targets"] = map[string]any{
			f.GenerateRandomString(20): fields["hashes"],
		}

	case "snapshot":
		signed["meta"] = map[string]any{
			"targets.json": map[string]any{
				"version": f.rand.Intn(1000),
				"hashes":  fields["hashes"],
				"length":  f.rand.Intn(10000),
			},
		}

	case "timestamp":
		signed["meta"] = map[string]any{
			"snapshot.json": map[string]any{
				"version": f.rand.Intn(1000),
				"hashes":  fields["hashes"],
				"length":  f.rand.Intn(10000),
			},
		}
	}

	jsonData, _ := json.Marshal(base)
	return jsonData
}
