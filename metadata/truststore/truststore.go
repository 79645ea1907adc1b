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

// Package truststore maintains the trusted generation of repository
// metadata and enforces the rules under which any part of it may be
// replaced: root rotation with dual verification, version monotonicity,
// expiry, and the cross-checks between timestamp, snapshot and the
// targets roles.
package truststore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trustkeel/trustkeel/metadata"
)

// Edge identifies one delegation edge of the targets graph by the parent
// role that declares it and the child role it authorizes. Trust in a
// child role is scoped to the edge it was verified through, never to the
// role name alone, so the same child reached via two parents is verified
// twice with each parent's own keys.
type Edge struct {
	Parent string
	Child  string
}

// Generation is one immutable trust state. Updates never modify a
// Generation in place, the store installs a fresh copy instead, so a
// caller holding one may keep reading it without locks while later
// updates commit.
// Targets is the top-level targets role. Delegated roles are cached on
// the Store, keyed by edge and snapshot version.
type Generation struct {
	Root      *metadata.Metadata[metadata.RootType]
	Timestamp *metadata.Metadata[metadata.TimestampType]
	Snapshot  *metadata.Metadata[metadata.SnapshotType]
	Targets   *metadata.Metadata[metadata.TargetsType]
	RefTime   time.Time
}

// edgeKey scopes a verified delegation edge to the snapshot generation it
// was verified under. Entries under a superseded snapshot version are
// unreachable and pruned when the snapshot advances.
type edgeKey struct {
	snapshot int64
	parent   string
	child    string
}

// Store holds the trusted metadata generation together with the
// delegation edges verified against it. Mutating calls must be serialized
// by the caller. Current and Delegated are safe for concurrent readers.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Generation]
	edges   map[edgeKey]*metadata.Metadata[metadata.TargetsType]
}

type storeOptions struct {
	refTime   time.Time
	rootKeys  map[string]*metadata.Key
	threshold int
	version   int64
}

// Option configures the trust bootstrap performed by New.
type Option func(*storeOptions)

// WithReferenceTime fixes the reference time used for expiry checks.
// Without it the store stamps time.Now at creation. SetReferenceTime
// restamps it for every later update cycle.
func WithReferenceTime(t time.Time) Option {
	return func(o *storeOptions) { o.refTime = t.UTC() }
}

// WithBootstrapKeys requires the initial root to carry valid signatures
// from at least threshold of the given trusted keys, on top of its own
// self verification. The keys must be obtained out of band, never from
// the repository being verified.
func WithBootstrapKeys(keys map[string]*metadata.Key, threshold int) Option {
	return func(o *storeOptions) {
		o.rootKeys = keys
		o.threshold = threshold
	}
}

// WithBootstrapVersion requires the initial root to carry exactly the
// given version number.
func WithBootstrapVersion(version int64) Option {
	return func(o *storeOptions) { o.version = version }
}

// New bootstraps a Store from initial root metadata obtained out of band.
// The root is always verified against its own declared keys and
// threshold. Note that an expired initial root is accepted: expiry is
// only checked for the final root in UpdateTimestamp.
func New(rootData []byte, opts ...Option) (*Store, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	newRoot, err := metadata.Root().FromBytes(rootData)
	if err != nil {
		return nil, err
	}
	if o.version != 0 && newRoot.Signed.Version != o.version {
		return nil, &metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected root version %d instead got version %d", o.version, newRoot.Signed.Version)}
	}
	// verify against the out of band trusted keys when the caller holds some
	if o.rootKeys != nil {
		keyIDs := make([]string, 0, len(o.rootKeys))
		for keyID := range o.rootKeys {
			keyIDs = append(keyIDs, keyID)
		}
		err = metadata.VerifySignatures(o.rootKeys, keyIDs, o.threshold, metadata.ROOT, newRoot)
		if err != nil {
			return nil, err
		}
	}
	// verify root by itself
	err = newRoot.VerifyDelegate(metadata.ROOT, newRoot)
	if err != nil {
		return nil, err
	}
	refTime := o.refTime
	if refTime.IsZero() {
		refTime = time.Now().UTC()
	}
	s := &Store{
		edges: map[edgeKey]*metadata.Metadata[metadata.TargetsType]{},
	}
	s.current.Store(&Generation{Root: newRoot, RefTime: refTime})
	metadata.GetLogger().Info("Loaded trusted root", "version", newRoot.Signed.Version)
	return s, nil
}

// Current returns the trusted generation. The result is immutable, so a
// caller may hold it across updates and keep a consistent view.
func (s *Store) Current() *Generation {
	return s.current.Load()
}

// SetReferenceTime stamps the reference time used by every following
// expiry check. Update cycles call it once at cycle start so all checks
// within one cycle share a single clock reading.
func (s *Store) SetReferenceTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.current.Load()
	next.RefTime = t.UTC()
	s.current.Store(&next)
}

// UpdateRoot verifies and installs rootData as the new trusted root.
// The new root must verify against the previous root's keys and
// threshold, carry exactly the next version number, and verify against
// its own declared keys and threshold. A successful rotation resets
// trusted timestamp, snapshot and targets along with every cached
// delegation edge: their trust was anchored to the keys of the replaced
// root. Note that an expired intermediate root is accepted, expiry is
// only checked for the final root in UpdateTimestamp.
func (s *Store) UpdateRoot(rootData []byte) (*metadata.Metadata[metadata.RootType], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	newRoot, err := metadata.Root().FromBytes(rootData)
	if err != nil {
		return nil, err
	}
	// verify that new root is signed by trusted root
	err = cur.Root.VerifyDelegate(metadata.ROOT, newRoot)
	if err != nil {
		return nil, err
	}
	// no skipping root versions
	if newRoot.Signed.Version != cur.Root.Signed.Version+1 {
		return nil, &metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected root version %d instead got version %d", cur.Root.Signed.Version+1, newRoot.Signed.Version)}
	}
	// verify that new root is signed by itself
	err = newRoot.VerifyDelegate(metadata.ROOT, newRoot)
	if err != nil {
		return nil, err
	}
	s.current.Store(&Generation{Root: newRoot, RefTime: cur.RefTime})
	s.edges = map[edgeKey]*metadata.Metadata[metadata.TargetsType]{}
	metadata.GetLogger().Info("Updated root", "version", newRoot.Signed.Version)
	return newRoot, nil
}

// UpdateTimestamp verifies and installs timestampData as the new trusted
// timestamp. The data must be signed by the root's timestamp role, must
// not decrease the timestamp version nor the snapshot version it
// declares, and must not be expired. Re-applying the trusted version
// verifies it and keeps the existing copy, with no error, so retrying an
// update cycle is idempotent.
func (s *Store) UpdateTimestamp(timestampData []byte) (*metadata.Metadata[metadata.TimestampType], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	// the final root must not be expired
	if cur.Root.Signed.IsExpired(cur.RefTime) {
		return nil, &metadata.ErrExpiredMetadata{Msg: "final root.json is expired"}
	}
	newTimestamp, err := metadata.Timestamp().FromBytes(timestampData)
	if err != nil {
		return nil, err
	}
	// verify that new timestamp is signed by trusted root
	err = cur.Root.VerifyDelegate(metadata.TIMESTAMP, newTimestamp)
	if err != nil {
		return nil, err
	}
	newSnapshotMeta := newTimestamp.Signed.Meta[metaName(metadata.SNAPSHOT)]
	if newSnapshotMeta == nil {
		return nil, &metadata.ErrValue{Msg: "timestamp does not contain information for snapshot"}
	}
	if cur.Timestamp != nil {
		// prevent rolling back the timestamp version
		if newTimestamp.Signed.Version < cur.Timestamp.Signed.Version {
			return nil, &metadata.ErrRollback{Msg: fmt.Sprintf("new timestamp version %d must be >= %d", newTimestamp.Signed.Version, cur.Timestamp.Signed.Version)}
		}
		// an equal version keeps the trusted copy in place
		if newTimestamp.Signed.Version == cur.Timestamp.Signed.Version {
			return cur.Timestamp, nil
		}
		// prevent rolling back the snapshot version it declares
		snapshotMeta := cur.Timestamp.Signed.Meta[metaName(metadata.SNAPSHOT)]
		if newSnapshotMeta.Version < snapshotMeta.Version {
			return nil, &metadata.ErrRollback{Msg: fmt.Sprintf("new snapshot version %d must be >= %d", newSnapshotMeta.Version, snapshotMeta.Version)}
		}
	}
	if newTimestamp.Signed.IsExpired(cur.RefTime) {
		return nil, &metadata.ErrExpiredMetadata{Msg: "timestamp.json is expired"}
	}
	next := *cur
	next.Timestamp = newTimestamp
	s.current.Store(&next)
	metadata.GetLogger().Info("Updated timestamp", "version", newTimestamp.Signed.Version)
	return newTimestamp, nil
}

// UpdateSnapshot verifies and installs snapshotData as the new trusted
// snapshot. The data must match the length and hashes the trusted
// timestamp declares, unless it is a locally cached copy that went
// through that check when it was first trusted (isTrusted). The snapshot
// must be signed by the root's snapshot role, carry exactly the version
// the timestamp declares, never remove a role from its meta mapping nor
// lower a version in it, and must not be expired. Re-applying the trusted
// version keeps the existing copy with no error. Advancing the snapshot
// prunes every delegation edge cached under the previous version.
func (s *Store) UpdateSnapshot(snapshotData []byte, isTrusted bool) (*metadata.Metadata[metadata.SnapshotType], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	if cur.Timestamp == nil {
		return nil, &metadata.ErrRuntime{Msg: "cannot update snapshot before timestamp"}
	}
	// snapshot cannot be loaded if the final timestamp is expired
	if err := cur.checkFinalTimestamp(); err != nil {
		return nil, err
	}
	snapshotMeta := cur.Timestamp.Signed.Meta[metaName(metadata.SNAPSHOT)]
	// verify non-trusted data against the hashes in timestamp, if any.
	// trusted snapshot data has already been verified once.
	if !isTrusted {
		if err := snapshotMeta.VerifyLengthHashes(snapshotData); err != nil {
			return nil, err
		}
	}
	newSnapshot, err := metadata.Snapshot().FromBytes(snapshotData)
	if err != nil {
		return nil, err
	}
	// verify that new snapshot is signed by trusted root
	err = cur.Root.VerifyDelegate(metadata.SNAPSHOT, newSnapshot)
	if err != nil {
		return nil, err
	}
	// the snapshot must be the one the timestamp declares
	if newSnapshot.Signed.Version != snapshotMeta.Version {
		return nil, &metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected snapshot version %d, got %d", snapshotMeta.Version, newSnapshot.Signed.Version)}
	}
	if cur.Snapshot != nil {
		// prevent rolling back the snapshot version
		if newSnapshot.Signed.Version < cur.Snapshot.Signed.Version {
			return nil, &metadata.ErrRollback{Msg: fmt.Sprintf("new snapshot version %d must be >= %d", newSnapshot.Signed.Version, cur.Snapshot.Signed.Version)}
		}
		// an equal version keeps the trusted copy in place
		if newSnapshot.Signed.Version == cur.Snapshot.Signed.Version {
			return cur.Snapshot, nil
		}
		for name, info := range cur.Snapshot.Signed.Meta {
			newFileInfo, ok := newSnapshot.Signed.Meta[name]
			// prevent removal of any metadata in meta
			if !ok {
				return nil, &metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("new snapshot is missing info for %s", name)}
			}
			// prevent rollback of any metadata versions
			if newFileInfo.Version < info.Version {
				return nil, &metadata.ErrRollback{Msg: fmt.Sprintf("expected %s version %d, got %d", name, info.Version, newFileInfo.Version)}
			}
		}
	}
	if newSnapshot.Signed.IsExpired(cur.RefTime) {
		return nil, &metadata.ErrExpiredMetadata{Msg: "snapshot.json is expired"}
	}
	next := *cur
	next.Snapshot = newSnapshot
	s.current.Store(&next)
	for k := range s.edges {
		if k.snapshot != newSnapshot.Signed.Version {
			delete(s.edges, k)
		}
	}
	metadata.GetLogger().Info("Updated snapshot", "version", newSnapshot.Signed.Version)
	return newSnapshot, nil
}

// UpdateTargets verifies and installs targetsData as the new trusted
// top-level targets metadata. The data must match the length, hashes and
// version the trusted snapshot declares for it, be signed by the root's
// targets role and not be expired. Re-applying the trusted version keeps
// the existing copy with no error.
func (s *Store) UpdateTargets(targetsData []byte) (*metadata.Metadata[metadata.TargetsType], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	if cur.Snapshot == nil {
		return nil, &metadata.ErrRuntime{Msg: "cannot load targets before snapshot"}
	}
	newTargets, err := verifyTargetsRole(cur, targetsData, metadata.TARGETS, cur.Root)
	if err != nil {
		return nil, err
	}
	// an equal version keeps the trusted copy in place
	if cur.Targets != nil && newTargets.Signed.Version == cur.Targets.Signed.Version {
		return cur.Targets, nil
	}
	next := *cur
	next.Targets = newTargets
	s.current.Store(&next)
	metadata.GetLogger().Info("Updated targets", "version", newTargets.Signed.Version)
	return newTargets, nil
}

// UpdateDelegatedTargets verifies and installs data as trusted metadata
// for the child role of edge. The child is verified with the keys and
// threshold its parent declares for exactly this edge, so no trust
// transfers to the same role name reached through another parent. The
// verified role is cached per edge under the trusted snapshot version and
// dropped when the snapshot advances.
func (s *Store) UpdateDelegatedTargets(data []byte, edge Edge) (*metadata.Metadata[metadata.TargetsType], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	if cur.Snapshot == nil {
		return nil, &metadata.ErrRuntime{Msg: "cannot load targets before snapshot"}
	}
	del, err := s.delegatorFor(cur, edge.Parent)
	if err != nil {
		return nil, err
	}
	newDelegate, err := verifyTargetsRole(cur, data, edge.Child, del)
	if err != nil {
		return nil, err
	}
	key := edgeKey{snapshot: cur.Snapshot.Signed.Version, parent: edge.Parent, child: edge.Child}
	// an equal version keeps the cached copy in place
	if existing := s.edges[key]; existing != nil && existing.Signed.Version == newDelegate.Signed.Version {
		return existing, nil
	}
	s.edges[key] = newDelegate
	metadata.GetLogger().Info("Updated delegated role", "role", edge.Child, "parent", edge.Parent, "version", newDelegate.Signed.Version)
	return newDelegate, nil
}

// Delegated returns the metadata cached for edge under the current
// snapshot generation, if that exact edge has been verified and the role
// has not expired since. An expired entry reads as a miss so the caller
// re-verifies and gets the expiry error from there.
func (s *Store) Delegated(edge Edge) (*metadata.Metadata[metadata.TargetsType], bool) {
	cur := s.current.Load()
	if cur.Snapshot == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.edges[edgeKey{snapshot: cur.Snapshot.Signed.Version, parent: edge.Parent, child: edge.Child}]
	if !ok || md.Signed.IsExpired(cur.RefTime) {
		return nil, false
	}
	return md, true
}

// delegator verifies metadata of roles it declares keys for. Both root
// and targets metadata satisfy it.
type delegator interface {
	VerifyDelegate(delegatedRole string, delegatedMetadata any) error
}

// delegatorFor returns verified metadata for parent under the current
// snapshot generation. Called with s.mu held.
func (s *Store) delegatorFor(cur *Generation, parent string) (*metadata.Metadata[metadata.TargetsType], error) {
	if parent == metadata.TARGETS {
		if cur.Targets == nil {
			return nil, &metadata.ErrRuntime{Msg: "cannot load targets before delegator"}
		}
		return cur.Targets, nil
	}
	// any verified edge to the parent serves here: the parent's content is
	// fixed by the snapshot generation, only the trust in it is per edge
	version := cur.Snapshot.Signed.Version
	for k, v := range s.edges {
		if k.snapshot == version && k.child == parent {
			return v, nil
		}
	}
	return nil, &metadata.ErrRuntime{Msg: "cannot load targets before delegator"}
}

// verifyTargetsRole runs the shared checks for top-level and delegated
// targets metadata: snapshot finality, the snapshot's declared length,
// hashes and version for the role, the delegator's signature threshold
// and expiry.
func verifyTargetsRole(cur *Generation, data []byte, role string, del delegator) (*metadata.Metadata[metadata.TargetsType], error) {
	// targets cannot be loaded if the final snapshot is expired or does
	// not match what the timestamp declares
	if err := cur.checkFinalSnapshot(); err != nil {
		return nil, err
	}
	meta := cur.Snapshot.Signed.Meta[metaName(role)]
	if meta == nil {
		return nil, &metadata.ErrRepository{Msg: fmt.Sprintf("snapshot does not contain information for %s", role)}
	}
	// verify against the length and hashes in snapshot, if any
	if err := meta.VerifyLengthHashes(data); err != nil {
		return nil, err
	}
	newDelegate, err := metadata.Targets().FromBytes(data)
	if err != nil {
		return nil, err
	}
	// verify the new delegatee with the delegator's keys for this role
	if err := del.VerifyDelegate(role, newDelegate); err != nil {
		return nil, err
	}
	// the role version must be the one the snapshot declares
	if newDelegate.Signed.Version != meta.Version {
		return nil, &metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected %s version %d, got %d", role, meta.Version, newDelegate.Signed.Version)}
	}
	if newDelegate.Signed.IsExpired(cur.RefTime) {
		return nil, &metadata.ErrExpiredMetadata{Msg: fmt.Sprintf("new %s is expired", role)}
	}
	return newDelegate, nil
}

// checkFinalTimestamp errors if the trusted timestamp is expired.
func (g *Generation) checkFinalTimestamp() error {
	if g.Timestamp.Signed.IsExpired(g.RefTime) {
		return &metadata.ErrExpiredMetadata{Msg: "timestamp.json is expired"}
	}
	return nil
}

// checkFinalSnapshot errors if the trusted snapshot is expired or no
// longer matches the version the trusted timestamp declares for it.
func (g *Generation) checkFinalSnapshot() error {
	if g.Snapshot.Signed.IsExpired(g.RefTime) {
		return &metadata.ErrExpiredMetadata{Msg: "snapshot.json is expired"}
	}
	snapshotMeta := g.Timestamp.Signed.Meta[metaName(metadata.SNAPSHOT)]
	if g.Snapshot.Signed.Version != snapshotMeta.Version {
		return &metadata.ErrBadVersionNumber{Msg: fmt.Sprintf("expected snapshot version %d, got %d", snapshotMeta.Version, g.Snapshot.Signed.Version)}
	}
	return nil
}

// metaName returns the key under which timestamp and snapshot declare a
// role's metadata file.
func metaName(role string) string {
	return fmt.Sprintf("%s.json", role)
}
