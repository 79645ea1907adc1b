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
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/sigstore/sigstore/pkg/signature"
	"golang.org/x/exp/slices"
)

// HASH_ALGORITHMS lists the digest algorithms understood by this
// implementation, in preference order
var HASH_ALGORITHMS = []string{"sha256", "sha512"}

// Root return new metadata instance of type Root
func Root(expires ...time.Time) *Metadata[RootType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	// populate Roles
	roles := map[string]*Role{}
	for _, r := range TOP_LEVEL_ROLE_NAMES {
		roles[r] = &Role{
			KeyIDs:    []string{},
			Threshold: 1,
		}
	}
	return &Metadata[RootType]{
		Signed: RootType{
			Type:               ROOT,
			SpecVersion:        SPECIFICATION_VERSION,
			Version:            1,
			Expires:            expires[0],
			Keys:               map[string]*Key{},
			Roles:              roles,
			ConsistentSnapshot: true,
		},
		Signatures: []Signature{},
	}
}

// Snapshot return new metadata instance of type Snapshot
func Snapshot(expires ...time.Time) *Metadata[SnapshotType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	return &Metadata[SnapshotType]{
		Signed: SnapshotType{
			Type:        SNAPSHOT,
			SpecVersion: SPECIFICATION_VERSION,
			Version:     1,
			Expires:     expires[0],
			Meta: map[string]*MetaFiles{
				"targets.json": {
					Version: 1,
				},
			},
		},
		Signatures: []Signature{},
	}
}

// Timestamp return new metadata instance of type Timestamp
func Timestamp(expires ...time.Time) *Metadata[TimestampType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	return &Metadata[TimestampType]{
		Signed: TimestampType{
			Type:        TIMESTAMP,
			SpecVersion: SPECIFICATION_VERSION,
			Version:     1,
			Expires:     expires[0],
			Meta: map[string]*MetaFiles{
				"snapshot.json": {
					Version: 1,
				},
			},
		},
		Signatures: []Signature{},
	}
}

// Targets return new metadata instance of type Targets
func Targets(expires ...time.Time) *Metadata[TargetsType] {
	// expire now if there's nothing set
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	return &Metadata[TargetsType]{
		Signed: TargetsType{
			Type:        TARGETS,
			SpecVersion: SPECIFICATION_VERSION,
			Version:     1,
			Expires:     expires[0],
			Targets:     map[string]*TargetFiles{},
		},
		Signatures: []Signature{},
	}
}

// TargetFile return new metadata instance of type TargetFiles
func TargetFile() *TargetFiles {
	return &TargetFiles{
		Length: 0,
		Hashes: Hashes{},
	}
}

// MetaFile return new metadata instance of type MetaFiles
func MetaFile(version int64) *MetaFiles {
	if version < 1 {
		// attempting to set an incorrect version
		version = 1
	}
	return &MetaFiles{
		Length:  0,
		Hashes:  Hashes{},
		Version: version,
	}
}

// FromFile load metadata from file
func (meta *Metadata[T]) FromFile(name string) (*Metadata[T], error) {
	in, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	m, err := fromBytes[T](data)
	if err != nil {
		return nil, err
	}
	*meta = *m
	return meta, nil
}

// FromBytes deserialize metadata from bytes
func (meta *Metadata[T]) FromBytes(data []byte) (*Metadata[T], error) {
	m, err := fromBytes[T](data)
	if err != nil {
		return nil, err
	}
	*meta = *m
	return meta, nil
}

// ToBytes serialize metadata to bytes
func (meta *Metadata[T]) ToBytes(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(meta, "", " ")
	}
	return json.Marshal(meta)
}

// ToFile save metadata to file
func (meta *Metadata[T]) ToFile(name string, pretty bool) error {
	data, err := meta.ToBytes(pretty)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0644)
}

// Sign create signature over Signed and assign it to Signatures
func (meta *Metadata[T]) Sign(signer signature.Signer) (*Signature, error) {
	// encode the Signed part to canonical JSON so signatures are consistent
	payload, err := cjson.EncodeCanonical(meta.Signed)
	if err != nil {
		return nil, err
	}
	// sign the Signed part
	sb, err := signer.SignMessage(bytes.NewReader(payload))
	if err != nil {
		return nil, &ErrUnsignedMetadata{Msg: "problem signing metadata"}
	}
	// get the signer's PublicKey
	publ, err := signer.PublicKey()
	if err != nil {
		return nil, err
	}
	// convert to metadata Key type to get the keyID
	key, err := KeyFromPublicKey(publ)
	if err != nil {
		return nil, err
	}
	// build signature
	sig := &Signature{
		KeyID:     key.ID(),
		Signature: sb,
	}
	// update the Signatures part
	meta.Signatures = append(meta.Signatures, *sig)
	// return the new signature
	return sig, nil
}

// ClearSignatures clears Signatures
func (meta *Metadata[T]) ClearSignatures() {
	meta.Signatures = []Signature{}
}

// VerifyDelegate verifies that delegatedMetadata is signed with at least a
// threshold of distinct keys authorized for the delegated role
// delegatedRole. Signatures from unauthorized or unusable keys are ignored,
// multiple signatures by the same key count once.
func (meta *Metadata[T]) VerifyDelegate(delegatedRole string, delegatedMetadata any) error {
	var keys map[string]*Key
	var roleKeyIDs []string
	var roleThreshold int

	// collect keys, keyIDs and threshold based on the delegator type
	i := any(meta)
	switch i := i.(type) {
	case *Metadata[RootType]:
		keys = i.Signed.Keys
		role, ok := i.Signed.Roles[delegatedRole]
		if !ok {
			return &ErrValue{Msg: fmt.Sprintf("no delegation found for %s", delegatedRole)}
		}
		roleKeyIDs = role.KeyIDs
		roleThreshold = role.Threshold
	case *Metadata[TargetsType]:
		if i.Signed.Delegations == nil {
			return &ErrValue{Msg: fmt.Sprintf("no delegation found for %s", delegatedRole)}
		}
		keys = i.Signed.Delegations.Keys
		for _, v := range i.Signed.Delegations.Roles {
			if v.Name == delegatedRole {
				roleKeyIDs = v.KeyIDs
				roleThreshold = v.Threshold
				break
			}
		}
	default:
		return &ErrType{Msg: "call is valid only on delegator metadata (should be either root or targets)"}
	}
	// if there are no keyIDs for that role it means there's no delegation found
	if len(roleKeyIDs) == 0 {
		return &ErrValue{Msg: fmt.Sprintf("no delegation found for %s", delegatedRole)}
	}
	return VerifySignatures(keys, roleKeyIDs, roleThreshold, delegatedRole, delegatedMetadata)
}

// VerifySignatures verifies that roleMetadata is signed with at least
// threshold distinct keys out of the authorized keyIDs, resolving key IDs
// through keys. It backs VerifyDelegate and serves callers which hold an
// authorized key set obtained out of band, e.g. trust bootstrapping.
func VerifySignatures(keys map[string]*Key, keyIDs []string, threshold int, roleName string, roleMetadata any) error {
	// the canonical payload and the signatures of the role metadata
	var payload []byte
	var signatures []Signature
	var err error
	switch d := roleMetadata.(type) {
	case *Metadata[RootType]:
		payload, err = cjson.EncodeCanonical(d.Signed)
		signatures = d.Signatures
	case *Metadata[SnapshotType]:
		payload, err = cjson.EncodeCanonical(d.Signed)
		signatures = d.Signatures
	case *Metadata[TimestampType]:
		payload, err = cjson.EncodeCanonical(d.Signed)
		signatures = d.Signatures
	case *Metadata[TargetsType]:
		payload, err = cjson.EncodeCanonical(d.Signed)
		signatures = d.Signatures
	default:
		return &ErrType{Msg: "unknown delegated metadata type"}
	}
	if err != nil {
		return err
	}
	// index signatures by key ID, duplicates collapse to a single entry
	sigs := map[string]HexBytes{}
	for _, sig := range signatures {
		sigs[sig.KeyID] = sig.Signature
	}
	// count distinct authorized keys with a valid signature over the payload
	signingKeys := map[string]bool{}
	for _, keyID := range keyIDs {
		key, ok := keys[keyID]
		if !ok {
			// authorized keyID without a key in the delegator, skip
			continue
		}
		sig, ok := sigs[keyID]
		if !ok {
			continue
		}
		publicKey, err := key.ToPublicKey()
		if err != nil {
			continue
		}
		// use the corresponding hash function for the key type
		hash := crypto.Hash(0)
		if key.Type != KeyTypeEd25519 {
			hash = crypto.SHA256
		}
		verifier, err := signature.LoadVerifier(publicKey, hash)
		if err != nil {
			continue
		}
		if err := verifier.VerifySignature(bytes.NewReader(sig), bytes.NewReader(payload)); err != nil {
			continue
		}
		signingKeys[keyID] = true
	}
	// check if the amount of valid signatures is enough
	if len(signingKeys) < threshold {
		return &ErrUnsignedMetadata{Msg: fmt.Sprintf("Verifying %s failed, not enough signatures, got %d, want %d", roleName, len(signingKeys), threshold)}
	}
	return nil
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *RootType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *SnapshotType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *TimestampType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// IsExpired returns true if metadata is expired.
// It checks if referenceTime is after Signed.Expires
func (signed *TargetsType) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(signed.Expires)
}

// VerifyLengthHashes checks whether the MetaFiles data matches its
// corresponding length and hashes
func (f *MetaFiles) VerifyLengthHashes(data []byte) error {
	// hashes and length are optional for MetaFiles
	if len(f.Hashes) > 0 {
		if err := verifyHashes(data, f.Hashes); err != nil {
			return err
		}
	}
	if f.Length != 0 {
		if err := verifyLength(data, f.Length); err != nil {
			return err
		}
	}
	return nil
}

// VerifyLengthHashes checks whether the TargetFiles data matches its
// corresponding length and hashes
func (f *TargetFiles) VerifyLengthHashes(data []byte) error {
	if err := verifyHashes(data, f.Hashes); err != nil {
		return err
	}
	return verifyLength(data, f.Length)
}

// Equal checks whether the target file metadata is equal to the provided one
func (f *TargetFiles) Equal(other TargetFiles) bool {
	if f.Length != other.Length {
		return false
	}
	if len(f.Hashes) != len(other.Hashes) {
		return false
	}
	for alg, digest := range f.Hashes {
		if !bytes.Equal(digest, other.Hashes[alg]) {
			return false
		}
	}
	return true
}

// FromFile generate TargetFiles from file
func (t *TargetFiles) FromFile(localPath string, hashes ...string) (*TargetFiles, error) {
	// open file
	in, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	// read file
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	return t.FromBytes(localPath, data, hashes...)
}

// FromBytes generate TargetFiles from bytes
func (t *TargetFiles) FromBytes(localPath string, data []byte, hashes ...string) (*TargetFiles, error) {
	var hasher hash.Hash
	targetFile := &TargetFiles{
		Hashes: map[string]HexBytes{},
	}
	// use the default hash algorithm if none was requested
	if len(hashes) == 0 {
		hashes = []string{HASH_ALGORITHMS[0]}
	}
	targetFile.Length = int64(len(data))
	for _, v := range hashes {
		switch v {
		case "sha256":
			hasher = sha256.New()
		case "sha512":
			hasher = sha512.New()
		default:
			return nil, &ErrValue{Msg: fmt.Sprintf("failed generating TargetFile - unsupported hashing algorithm - %s", v)}
		}
		if _, err := hasher.Write(data); err != nil {
			return nil, err
		}
		targetFile.Hashes[v] = hasher.Sum(nil)
	}
	targetFile.Path = localPath
	return targetFile, nil
}

// IsDelegatedPath determines whether the given targetFilepath is in one of
// the paths that the delegated role is trusted to provide
func (role *DelegatedRole) IsDelegatedPath(targetFilepath string) bool {
	if len(role.PathHashPrefixes) > 0 {
		// hashed bin delegation
		targetFilepathHash := PathHexDigest(targetFilepath)
		for _, prefix := range role.PathHashPrefixes {
			if strings.HasPrefix(targetFilepathHash, prefix) {
				return true
			}
		}
	} else if len(role.Paths) > 0 {
		for _, pathPattern := range role.Paths {
			// a delegated role path may be an explicit path or a glob
			// pattern (Unix shell-style wildcards)
			if isTargetInPathPattern(targetFilepath, pathPattern) {
				return true
			}
		}
	}
	return false
}

// isTargetInPathPattern matches targetpath against pathpattern segment by
// segment, so that a wildcard never crosses a directory boundary
func isTargetInPathPattern(targetpath string, pathpattern string) bool {
	if targetpath == pathpattern {
		return true
	}
	patternParts := strings.Split(pathpattern, "/")
	targetParts := strings.Split(targetpath, "/")
	if len(patternParts) != len(targetParts) {
		return false
	}
	for i := 0; i < len(targetParts); i++ {
		matched, err := filepath.Match(patternParts[i], targetParts[i])
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// GetRolesForTarget return the names and terminating status of all
// delegated roles whose path set covers targetFilepath, in declared order.
// The order is protocol significant and must not be rearranged.
func (role *Delegations) GetRolesForTarget(targetFilepath string) []RoleResult {
	res := []RoleResult{}
	for _, r := range role.Roles {
		if r.IsDelegatedPath(targetFilepath) {
			res = append(res, RoleResult{Name: r.Name, Terminating: r.Terminating})
		}
	}
	return res
}

// PathHexDigest returns the hex digest a target path is bucketed by in
// hashed bin delegations
func PathHexDigest(s string) string {
	b := sha256.Sum256([]byte(s))
	return hex.EncodeToString(b[:])
}

// fromBytes return a *Metadata[T] object from bytes and verifies
// that the data corresponds to the caller struct type
func fromBytes[T Roles](data []byte) (*Metadata[T], error) {
	meta := &Metadata[T]{}
	// verify that the type we used to create the object is the same as the type of the metadata file
	if err := checkType[T](data); err != nil {
		return nil, err
	}
	// if all is okay, unmarshal meta to the desired Metadata[T] type
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, err
	}
	// make sure signature key IDs are unique
	if err := checkUniqueSignatures(*meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// checkUniqueSignatures verifies if the signature key IDs are unique for that metadata
func checkUniqueSignatures[T Roles](meta Metadata[T]) error {
	signatures := []string{}
	for _, sig := range meta.Signatures {
		if slices.Contains(signatures, sig.KeyID) {
			return &ErrValue{Msg: fmt.Sprintf("multiple signatures found for key ID %s", sig.KeyID)}
		}
		signatures = append(signatures, sig.KeyID)
	}
	return nil
}

// checkType verifies if the generic type used to create the object is the same as the type of the metadata file in bytes
func checkType[T Roles](data []byte) error {
	var m map[string]any
	i := any(new(T))
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	signed, ok := m["signed"].(map[string]any)
	if !ok {
		return &ErrValue{Msg: "untyped metadata, missing signed portion"}
	}
	signedType, ok := signed["_type"].(string)
	if !ok {
		return &ErrValue{Msg: "untyped metadata, missing _type field"}
	}
	switch i.(type) {
	case *RootType:
		if ROOT != signedType {
			return &ErrType{Msg: fmt.Sprintf("expected metadata type %s, got - %s", ROOT, signedType)}
		}
	case *SnapshotType:
		if SNAPSHOT != signedType {
			return &ErrType{Msg: fmt.Sprintf("expected metadata type %s, got - %s", SNAPSHOT, signedType)}
		}
	case *TimestampType:
		if TIMESTAMP != signedType {
			return &ErrType{Msg: fmt.Sprintf("expected metadata type %s, got - %s", TIMESTAMP, signedType)}
		}
	case *TargetsType:
		if TARGETS != signedType {
			return &ErrType{Msg: fmt.Sprintf("expected metadata type %s, got - %s", TARGETS, signedType)}
		}
	default:
		return &ErrType{Msg: fmt.Sprintf("unrecognized metadata type - %s", signedType)}
	}
	// all okay
	return nil
}

// verifyLength verifies if the passed data has the corresponding length
func verifyLength(data []byte, length int64) error {
	if length != int64(len(data)) {
		return &ErrLengthMismatch{Msg: fmt.Sprintf("length verification failed - expected %d, got %d", length, len(data))}
	}
	return nil
}

// verifyHashes verifies that every digest declared with a known algorithm
// matches the passed data
func verifyHashes(data []byte, hashes Hashes) error {
	var hasher hash.Hash
	for k, v := range hashes {
		switch k {
		case "sha256":
			hasher = sha256.New()
		case "sha512":
			hasher = sha512.New()
		default:
			return &ErrNoSupportedHashAlgorithm{Msg: fmt.Sprintf("hash verification failed - unknown hashing algorithm - %s", k)}
		}
		hasher.Write(data)
		if !bytes.Equal(v, hasher.Sum(nil)) {
			return &ErrHashMismatch{Msg: fmt.Sprintf("hash verification failed - mismatch for algorithm %s", k)}
		}
	}
	return nil
}

