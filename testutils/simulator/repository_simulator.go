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

// Package simulator provides an in-process repository double for workflow
// tests. A RepositorySimulator holds the private keys of every role and
// signs metadata on demand when it is fetched, so test code mutates the
// repository state directly and the change is immediately visible to an
// engine under test. No network connections or file access happen, the
// simulator serves everything from memory through repository.Provider.
//
// Example:
//
//	// initialize a repository with minimal valid top-level metadata
//	sim := simulator.NewRepository()
//
//	// metadata can be modified directly: it is immediately served
//	sim.MDTimestamp.Signed.Version++
//
//	// as an exception, new root versions require explicit publishing
//	sim.MDRoot.Signed.Version++
//	sim.PublishRoot()
//
//	// there are helpers for the common mutations
//	sim.AddTarget("targets", []byte("content"), "targetpath")
//	sim.MDTargets.Signed.Version++
//	sim.UpdateSnapshot()
package simulator

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/trustkeel/trustkeel/metadata"
)

// FTMetadata is one recorded metadata fetch.
type FTMetadata struct {
	Name    string
	Version int64
}

// FTTargets is one recorded target fetch, with the digest prefix the
// client asked for, if any.
type FTTargets struct {
	Name string
	Hash string
}

// FetchTracker records every fetch the simulator served, for tests that
// assert on download counts and addressing.
type FetchTracker struct {
	Metadata []FTMetadata
	Targets  []FTTargets
}

// RepositoryTarget pairs actual target data with its signed description.
type RepositoryTarget struct {
	Data       []byte
	TargetFile *metadata.TargetFiles
}

// RepositorySimulator simulates a repository for testing: top-level and
// delegated metadata plus target files, served signed-on-demand.
type RepositorySimulator struct {
	MDRoot      *metadata.Metadata[metadata.RootType]
	MDTimestamp *metadata.Metadata[metadata.TimestampType]
	MDSnapshot  *metadata.Metadata[metadata.SnapshotType]
	MDTargets   *metadata.Metadata[metadata.TargetsType]
	MDDelegates map[string]*metadata.Metadata[metadata.TargetsType]

	// Root versions must be explicitly published with PublishRoot, which
	// appends the serialized version here. Other metadata is signed when
	// fetched.
	SignedRoots [][]byte

	// Signers are used at fetch time to sign metadata.
	// Keys are roles, values are maps of keyID to signer.
	Signers map[string]map[string]signature.Signer

	// Target downloads are served from this map.
	TargetFiles map[string]RepositoryTarget

	// Whether to compute hashes and length for the meta entries in
	// snapshot and timestamp.
	ComputeMetafileHashesAndLength bool

	// Whether to serve and expect hash-prefixed target file names.
	PrefixTargetsWithHash bool

	FetchTracker FetchTracker
	SafeExpiry   time.Time

	DumpDir     string
	DumpVersion int64
}

// NewRepository initializes a RepositorySimulator with minimal valid
// metadata: one key per top-level role, all versions 1, consistent
// snapshots enabled.
func NewRepository() *RepositorySimulator {
	now := time.Now().UTC()
	rs := &RepositorySimulator{
		MDDelegates:           map[string]*metadata.Metadata[metadata.TargetsType]{},
		SignedRoots:           [][]byte{},
		Signers:               map[string]map[string]signature.Signer{},
		TargetFiles:           map[string]RepositoryTarget{},
		PrefixTargetsWithHash: true,
		SafeExpiry:            now.Truncate(time.Second).AddDate(0, 0, 30),
	}
	rs.setupMinimalValidRepository()
	return rs
}

func (rs *RepositorySimulator) setupMinimalValidRepository() {
	rs.MDTargets = metadata.Targets(rs.SafeExpiry)
	rs.MDSnapshot = metadata.Snapshot(rs.SafeExpiry)
	rs.MDTimestamp = metadata.Timestamp(rs.SafeExpiry)
	rs.MDRoot = metadata.Root(rs.SafeExpiry)

	for _, role := range metadata.TOP_LEVEL_ROLE_NAMES {
		publicKey, _, signer := CreateKey()
		key, err := metadata.KeyFromPublicKey(publicKey)
		if err != nil {
			log.Fatalf("repository simulator: key conversion failed while setting up repository: %v", err)
		}
		if err = rs.MDRoot.Signed.AddKey(key, role); err != nil {
			log.Fatalf("repository simulator: failed to add key: %v", err)
		}
		rs.AddSigner(role, key.ID(), signer)
	}
	rs.PublishRoot()
}

// CreateKey returns a fresh ed25519 keypair and a signer over it.
func CreateKey() (ed25519.PublicKey, ed25519.PrivateKey, signature.Signer) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	signer, err := signature.LoadSigner(private, crypto.Hash(0))
	if err != nil {
		log.Fatalf("failed to load signer: %v", err)
	}
	return public, private, signer
}

// AddSigner registers a signer the simulator will use for role.
func (rs *RepositorySimulator) AddSigner(role string, keyID string, signer signature.Signer) {
	if _, ok := rs.Signers[role]; !ok {
		rs.Signers[role] = map[string]signature.Signer{}
	}
	rs.Signers[role][keyID] = signer
}

// RotateKeys removes all keys for role, then adds a threshold of new keys.
func (rs *RepositorySimulator) RotateKeys(role string) {
	rs.MDRoot.Signed.Roles[role].KeyIDs = []string{}
	for keyID := range rs.Signers[role] {
		delete(rs.Signers[role], keyID)
	}
	for i := 0; i < rs.MDRoot.Signed.Roles[role].Threshold; i++ {
		publicKey, _, signer := CreateKey()
		key, err := metadata.KeyFromPublicKey(publicKey)
		if err != nil {
			log.Fatalf("repository simulator: key conversion failed while rotating keys: %v", err)
		}
		if err = rs.MDRoot.Signed.AddKey(key, role); err != nil {
			log.Fatalf("repository simulator: failed to add key: %v", err)
		}
		rs.AddSigner(role, key.ID(), signer)
	}
}

// PublishRoot signs and stores a new serialized version of root.
func (rs *RepositorySimulator) PublishRoot() {
	rs.MDRoot.ClearSignatures()
	for _, keyID := range rs.signingOrder(metadata.ROOT) {
		if _, err := rs.MDRoot.Sign(rs.Signers[metadata.ROOT][keyID]); err != nil {
			log.Fatalf("repository simulator: failed to sign root: %v", err)
		}
	}
	data, err := rs.MDRoot.MarshalJSON()
	if err != nil {
		log.Fatalf("repository simulator: failed to marshal root: %v", err)
	}
	rs.SignedRoots = append(rs.SignedRoots, data)
	log.Debugf("published root v%d", rs.MDRoot.Signed.Version)
}

// signingOrder returns the keyIDs signing for role in a fixed order, so
// repeated serializations of the same metadata are byte identical.
func (rs *RepositorySimulator) signingOrder(role string) []string {
	keyIDs := make([]string, 0, len(rs.Signers[role]))
	for keyID := range rs.Signers[role] {
		keyIDs = append(keyIDs, keyID)
	}
	slices.Sort(keyIDs)
	return keyIDs
}

// FetchMetadata serves signed metadata for role. Version 0 requests the
// latest. Roots are served from the published versions, everything else
// is signed from the current in-memory state, whatever version was
// asked for.
func (rs *RepositorySimulator) FetchMetadata(ctx context.Context, role string, version int64) (io.ReadCloser, error) {
	rs.FetchTracker.Metadata = append(rs.FetchTracker.Metadata, FTMetadata{Name: role, Version: version})
	if role == metadata.ROOT {
		if version == 0 {
			version = int64(len(rs.SignedRoots))
		}
		if version < 1 || version > int64(len(rs.SignedRoots)) {
			log.Debugf("unknown root version %d", version)
			return nil, &metadata.ErrMetadataNotFound{Role: role, Version: version}
		}
		log.Debugf("fetched root version %d", version)
		return io.NopCloser(bytes.NewReader(rs.SignedRoots[version-1])), nil
	}
	var data []byte
	var err error
	switch role {
	case metadata.TIMESTAMP:
		data, err = signMetadata(role, rs.MDTimestamp, rs)
	case metadata.SNAPSHOT:
		data, err = signMetadata(role, rs.MDSnapshot, rs)
	case metadata.TARGETS:
		data, err = signMetadata(role, rs.MDTargets, rs)
	default:
		md, ok := rs.MDDelegates[role]
		if !ok {
			log.Debugf("unknown role %s", role)
			return nil, &metadata.ErrMetadataNotFound{Role: role}
		}
		data, err = signMetadata(role, md, rs)
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// FetchTarget serves data for a target by its repository-relative name.
// Under consistent snapshots the name carries a digest prefix, which
// must match one of the digests declared for the target.
func (rs *RepositorySimulator) FetchTarget(ctx context.Context, name string) (io.ReadCloser, error) {
	targetPath, targetHash := name, ""
	if rs.MDRoot.Signed.ConsistentSnapshot && rs.PrefixTargetsWithHash {
		dir, base := path.Split(name)
		prefix, rest, ok := strings.Cut(base, ".")
		if !ok {
			return nil, &metadata.ErrTargetNotFound{Target: name}
		}
		targetPath, targetHash = dir+rest, prefix
	}
	rs.FetchTracker.Targets = append(rs.FetchTracker.Targets, FTTargets{Name: targetPath, Hash: targetHash})
	repoTarget, ok := rs.TargetFiles[targetPath]
	if !ok {
		log.Debugf("no target %s", targetPath)
		return nil, &metadata.ErrTargetNotFound{Target: targetPath}
	}
	if targetHash != "" && !hasDigest(repoTarget.TargetFile.Hashes, targetHash) {
		log.Debugf("hash mismatch for %s", targetPath)
		return nil, &metadata.ErrTargetNotFound{Target: targetPath}
	}
	log.Debugf("fetched target %s", targetPath)
	return io.NopCloser(bytes.NewReader(repoTarget.Data)), nil
}

func hasDigest(hashes metadata.Hashes, hexDigest string) bool {
	for _, digest := range hashes {
		if hex.EncodeToString(digest) == hexDigest {
			return true
		}
	}
	return false
}

// signMetadata re-signs md with the signers registered for role and
// returns the serialized bytes. Ed25519 signing is deterministic and the
// signers are applied in a fixed order, so repeated calls over unchanged
// metadata produce identical bytes.
func signMetadata[T metadata.Roles](role string, md *metadata.Metadata[T], rs *RepositorySimulator) ([]byte, error) {
	md.ClearSignatures()
	for _, keyID := range rs.signingOrder(role) {
		if _, err := md.Sign(rs.Signers[role][keyID]); err != nil {
			return nil, err
		}
	}
	log.Debugf("fetched %s with %d sigs", role, len(rs.Signers[role]))
	return md.MarshalJSON()
}

// computeHashesAndLength serializes the current metadata of role and
// returns its sha256 digest and length.
func (rs *RepositorySimulator) computeHashesAndLength(role string) (metadata.Hashes, int64) {
	src, err := rs.FetchMetadata(context.Background(), role, 0)
	if err != nil {
		log.Debugf("failed to fetch metadata: %v", err)
		return nil, 0
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		log.Debugf("failed to read metadata: %v", err)
		return nil, 0
	}
	digest := sha256.Sum256(data)
	return metadata.Hashes{"sha256": digest[:]}, int64(len(data))
}

// UpdateTimestamp bumps the timestamp version and records the current
// snapshot version in its meta entry.
func (rs *RepositorySimulator) UpdateTimestamp() {
	rs.setMetaFor(rs.MDTimestamp.Signed.Meta, metadata.SNAPSHOT, rs.MDSnapshot.Signed.Version)
	rs.MDTimestamp.Signed.Version++
}

// UpdateSnapshot bumps the snapshot version, records the current version
// of every targets role in its meta mapping and updates the timestamp.
func (rs *RepositorySimulator) UpdateSnapshot() {
	rs.setMetaFor(rs.MDSnapshot.Signed.Meta, metadata.TARGETS, rs.MDTargets.Signed.Version)
	for role, md := range rs.MDDelegates {
		rs.setMetaFor(rs.MDSnapshot.Signed.Meta, role, md.Signed.Version)
	}
	rs.MDSnapshot.Signed.Version++
	rs.UpdateTimestamp()
}

func (rs *RepositorySimulator) setMetaFor(meta map[string]*metadata.MetaFiles, role string, version int64) {
	var hashes metadata.Hashes
	var length int64
	if rs.ComputeMetafileHashesAndLength {
		hashes, length = rs.computeHashesAndLength(role)
	}
	meta[fmt.Sprintf("%s.json", role)] = &metadata.MetaFiles{
		Length:  length,
		Hashes:  hashes,
		Version: version,
	}
}

// getDelegator returns the signed portion of the named targets role.
func (rs *RepositorySimulator) getDelegator(delegatorName string) *metadata.TargetsType {
	if delegatorName == metadata.TARGETS {
		return &rs.MDTargets.Signed
	}
	return &rs.MDDelegates[delegatorName].Signed
}

// AddTarget creates a target from data and adds it to role.
func (rs *RepositorySimulator) AddTarget(role string, data []byte, targetPath string) {
	targets := rs.getDelegator(role)
	target, err := metadata.TargetFile().FromBytes(targetPath, data, "sha256")
	if err != nil {
		log.Fatalf("failed to add target %s: %v", targetPath, err)
	}
	targets.Targets[targetPath] = target
	rs.TargetFiles[targetPath] = RepositoryTarget{
		Data:       data,
		TargetFile: target,
	}
}

// AddDelegation appends a delegation from delegatorName to role and
// installs targets as the delegated role's metadata. One new key is
// created for the role and registered both in the delegation and as a
// signer.
func (rs *RepositorySimulator) AddDelegation(delegatorName string, role metadata.DelegatedRole, targets metadata.TargetsType) {
	delegator := rs.getDelegator(delegatorName)
	if delegator.Delegations == nil {
		delegator.Delegations = &metadata.Delegations{
			Keys:  map[string]*metadata.Key{},
			Roles: []metadata.DelegatedRole{},
		}
	}
	// the new delegation goes last in declared order
	delegator.Delegations.Roles = append(delegator.Delegations.Roles, role)

	publicKey, _, signer := CreateKey()
	key, err := metadata.KeyFromPublicKey(publicKey)
	if err != nil {
		log.Fatalf("repository simulator: key conversion failed while adding delegation: %v", err)
	}
	if err = delegator.AddKey(key, role.Name); err != nil {
		log.Fatalf("repository simulator: failed to add key: %v", err)
	}
	rs.AddSigner(role.Name, key.ID(), signer)
	if _, ok := rs.MDDelegates[role.Name]; !ok {
		rs.MDDelegates[role.Name] = &metadata.Metadata[metadata.TargetsType]{
			Signed:             targets,
			UnrecognizedFields: map[string]any{},
		}
	}
}

// Write dumps the current repository metadata to DumpDir.
//
// This is a debugging tool: dumping repository state before running an
// engine refresh may be useful while debugging a test.
func (rs *RepositorySimulator) Write() {
	if rs.DumpDir == "" {
		rs.DumpDir = os.TempDir()
		log.Debugf("repository simulator dumps in %s", rs.DumpDir)
	}
	rs.DumpVersion++
	destDir := filepath.Join(rs.DumpDir, strconv.FormatInt(rs.DumpVersion, 10))
	if err := os.MkdirAll(destDir, 0750); err != nil {
		log.Debugf("repository simulator: failed to create dump dir: %v", err)
	}
	for version := 1; version <= len(rs.SignedRoots); version++ {
		rs.dump(destDir, fmt.Sprintf("%d.%s.json", version, metadata.ROOT), metadata.ROOT, int64(version))
	}
	for _, role := range []string{metadata.TIMESTAMP, metadata.SNAPSHOT, metadata.TARGETS} {
		rs.dump(destDir, fmt.Sprintf("%s.json", role), role, 0)
	}
	for role := range rs.MDDelegates {
		rs.dump(destDir, fmt.Sprintf("%s.json", url.PathEscape(role)), role, 0)
	}
}

func (rs *RepositorySimulator) dump(destDir, fileName, role string, version int64) {
	src, err := rs.FetchMetadata(context.Background(), role, version)
	if err != nil {
		log.Debugf("failed to fetch metadata for dump: %v", err)
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		log.Debugf("failed to read metadata for dump: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(destDir, fileName), data, 0644); err != nil {
		log.Debugf("repository simulator: failed to write dump: %v", err)
	}
}
