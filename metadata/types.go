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
	"encoding/json"
	"sync"
	"time"
)

// Generic type constraint
type Roles interface {
	RootType | SnapshotType | TimestampType | TargetsType
}

// Define version of the TUF specification
const (
	SPECIFICATION_VERSION = "1.0.31"
)

// Define top level role names
const (
	ROOT      = "root"
	SNAPSHOT  = "snapshot"
	TARGETS   = "targets"
	TIMESTAMP = "timestamp"
)

// TOP_LEVEL_ROLE_NAMES lists the top level roles in update order
var TOP_LEVEL_ROLE_NAMES = [...]string{ROOT, TIMESTAMP, SNAPSHOT, TARGETS}

// Metadata[T Roles] is a container for signed TUF metadata of type T
type Metadata[T Roles] struct {
	Signed             T              `json:"signed"`
	Signatures         []Signature    `json:"signatures"`
	UnrecognizedFields map[string]any `json:"-"`
}

// Signature represents the Signature part of a metadata
type Signature struct {
	KeyID              string         `json:"keyid"`
	Signature          HexBytes       `json:"sig"`
	UnrecognizedFields map[string]any `json:"-"`
}

// RootType represents the Signed portion of root metadata
type RootType struct {
	Type               string           `json:"_type"`
	SpecVersion        string           `json:"spec_version"`
	ConsistentSnapshot bool             `json:"consistent_snapshot"`
	Version            int64            `json:"version"`
	Expires            time.Time        `json:"expires"`
	Keys               map[string]*Key  `json:"keys"`
	Roles              map[string]*Role `json:"roles"`
	Custom             *json.RawMessage `json:"custom,omitempty"`
	UnrecognizedFields map[string]any   `json:"-"`
}

// SnapshotType represents the Signed portion of snapshot metadata
type SnapshotType struct {
	Type               string                `json:"_type"`
	SpecVersion        string                `json:"spec_version"`
	Version            int64                 `json:"version"`
	Expires            time.Time             `json:"expires"`
	Meta               map[string]*MetaFiles `json:"meta"`
	Custom             *json.RawMessage      `json:"custom,omitempty"`
	UnrecognizedFields map[string]any        `json:"-"`
}

// TargetsType represents the Signed portion of targets metadata,
// top level or delegated
type TargetsType struct {
	Type               string                  `json:"_type"`
	SpecVersion        string                  `json:"spec_version"`
	Version            int64                   `json:"version"`
	Expires            time.Time               `json:"expires"`
	Targets            map[string]*TargetFiles `json:"targets"`
	Delegations        *Delegations            `json:"delegations,omitempty"`
	Custom             *json.RawMessage        `json:"custom,omitempty"`
	UnrecognizedFields map[string]any          `json:"-"`
}

// TimestampType represents the Signed portion of timestamp metadata
type TimestampType struct {
	Type               string                `json:"_type"`
	SpecVersion        string                `json:"spec_version"`
	Version            int64                 `json:"version"`
	Expires            time.Time             `json:"expires"`
	Meta               map[string]*MetaFiles `json:"meta"`
	Custom             *json.RawMessage      `json:"custom,omitempty"`
	UnrecognizedFields map[string]any        `json:"-"`
}

// Key represents a public key of a metadata role
type Key struct {
	Type               string           `json:"keytype"`
	Scheme             string           `json:"scheme"`
	Value              KeyVal           `json:"keyval"`
	Custom             *json.RawMessage `json:"custom,omitempty"`
	UnrecognizedFields map[string]any   `json:"-"`
	id                 string
	idOnce             sync.Once
}

// KeyVal carries the encoded public key value
type KeyVal struct {
	PublicKey          string         `json:"public"`
	UnrecognizedFields map[string]any `json:"-"`
}

// Role represents a top level role as a key ID set plus signature threshold
type Role struct {
	KeyIDs             []string       `json:"keyids"`
	Threshold          int            `json:"threshold"`
	UnrecognizedFields map[string]any `json:"-"`
}

type HexBytes []byte

type Hashes map[string]HexBytes

// MetaFiles represents the value portion of METAFILES in TUF,
// used in timestamp and snapshot metadata
type MetaFiles struct {
	Length             int64            `json:"length,omitempty"`
	Hashes             Hashes           `json:"hashes,omitempty"`
	Version            int64            `json:"version"`
	Custom             *json.RawMessage `json:"custom,omitempty"`
	UnrecognizedFields map[string]any   `json:"-"`
}

// TargetFiles represents the value portion of TARGETS in TUF,
// the description of a single target file
type TargetFiles struct {
	Length             int64            `json:"length"`
	Hashes             Hashes           `json:"hashes"`
	Custom             *json.RawMessage `json:"custom,omitempty"`
	Path               string           `json:"-"`
	UnrecognizedFields map[string]any   `json:"-"`
}

// Delegations is the delegations block of a targets role: keys local to
// this role plus the list of delegated roles. The declared order of Roles
// is protocol significant during target resolution and is preserved as is.
type Delegations struct {
	Keys               map[string]*Key `json:"keys"`
	Roles              []DelegatedRole `json:"roles"`
	UnrecognizedFields map[string]any  `json:"-"`
}

// DelegatedRole represents a single delegation edge: the child role name,
// the keys and threshold the edge is verified with, whether the edge is
// terminating, and the target paths the child may assert
type DelegatedRole struct {
	Name               string         `json:"name"`
	KeyIDs             []string       `json:"keyids"`
	Threshold          int            `json:"threshold"`
	Terminating        bool           `json:"terminating"`
	PathHashPrefixes   []string       `json:"path_hash_prefixes,omitempty"`
	Paths              []string       `json:"paths,omitempty"`
	UnrecognizedFields map[string]any `json:"-"`
}

// RoleResult names a delegated role responsible for some target path,
// with the terminating status of the edge leading to it
type RoleResult struct {
	Name        string
	Terminating bool
}
