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

// Package engine implements the client side update workflow. An Engine
// wraps a truststore.Store with fetching, consistent snapshot naming,
// local caching and delegation resolution:
//   - New loads and verifies the trusted root metadata used as the source
//     of trust for everything else.
//   - Refresh updates the top-level metadata, using both the local cache
//     and the remote repository. Without an explicit Refresh it happens
//     during the first target lookup.
//   - GetTargetInfo resolves information about a target through the
//     delegation graph, loading delegated metadata on demand.
//   - DownloadTarget fetches a target and releases its bytes only after
//     they verify against the signed description. FindCachedTarget checks
//     whether a previous download still verifies.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/trustkeel/trustkeel/metadata"
	"github.com/trustkeel/trustkeel/metadata/config"
	"github.com/trustkeel/trustkeel/metadata/integrity"
	"github.com/trustkeel/trustkeel/metadata/repository"
	"github.com/trustkeel/trustkeel/metadata/truststore"
)

// Engine drives update cycles against one remote repository. Callers
// must serialize Refresh and GetTargetInfo calls; readers holding
// metadata returned from earlier calls are not affected by later cycles.
type Engine struct {
	cfg    *config.EngineConfig
	trust  *truststore.Store
	remote repository.Provider
	local  repository.Storage
}

// New creates an Engine from cfg and verifies the trusted root metadata.
// No network access happens here.
func New(cfg *config.EngineConfig) (*Engine, error) {
	if len(cfg.TrustedRoot) == 0 {
		return nil, &metadata.ErrValue{Msg: "no trusted root metadata configured"}
	}
	remote := cfg.Remote
	if remote == nil {
		if cfg.RemoteMetadataURL == "" {
			return nil, &metadata.ErrValue{Msg: "no remote metadata source configured"}
		}
		remote = repository.NewHTTPProvider(cfg.RemoteMetadataURL, cfg.RemoteTargetsURL)
	}
	local := cfg.Local
	if local == nil && !cfg.DisableLocalCache {
		if cfg.LocalMetadataDir == "" {
			return nil, &metadata.ErrValue{Msg: "no local metadata directory configured"}
		}
		if err := cfg.EnsurePathsExist(); err != nil {
			return nil, err
		}
		fileStorage, err := repository.NewFileStorage(cfg.LocalMetadataDir, cfg.LocalTargetsDir)
		if err != nil {
			return nil, err
		}
		local = fileStorage
	}
	if cfg.UnsafeLocalMode && local == nil {
		return nil, &metadata.ErrValue{Msg: "unsafe local mode needs a local cache"}
	}
	var opts []truststore.Option
	if cfg.RootKeys != nil {
		opts = append(opts, truststore.WithBootstrapKeys(cfg.RootKeys, cfg.RootThreshold))
	}
	if cfg.RootVersion != 0 {
		opts = append(opts, truststore.WithBootstrapVersion(cfg.RootVersion))
	}
	trust, err := truststore.New(cfg.TrustedRoot, opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		trust:  trust,
		remote: remote,
		local:  local,
	}, nil
}

// Trusted exposes the underlying trust store, for callers that inspect
// the trusted generation or drive the byte-level state machine directly.
func (eng *Engine) Trusted() *truststore.Store {
	return eng.trust
}

// Refresh loads and verifies the four top-level roles in order: root,
// timestamp, snapshot, targets. Every expiry check of the cycle uses a
// single reference time stamped here. Metadata for delegated roles is
// not updated by Refresh, it is loaded on demand during GetTargetInfo.
// A failed Refresh leaves the previously trusted generation in place and
// can be retried.
func (eng *Engine) Refresh(ctx context.Context) error {
	eng.trust.SetReferenceTime(time.Now())
	if eng.cfg.UnsafeLocalMode {
		return eng.unsafeLocalRefresh(ctx)
	}
	if err := eng.loadRoot(ctx); err != nil {
		return err
	}
	if err := eng.loadTimestamp(ctx); err != nil {
		return err
	}
	if err := eng.loadSnapshot(ctx); err != nil {
		return err
	}
	if _, err := eng.loadTargetsRole(ctx, truststore.Edge{Parent: metadata.ROOT, Child: metadata.TARGETS}); err != nil {
		return err
	}
	return nil
}

// unsafeLocalRefresh loads the top-level roles from the local cache only.
// The usual verification applies, including expiry, but nothing is
// downloaded, so a repository revoking or rotating keys goes unnoticed
// until the next online Refresh.
func (eng *Engine) unsafeLocalRefresh(ctx context.Context) error {
	data, err := eng.loadLocalMetadata(ctx, metadata.TIMESTAMP)
	if err != nil {
		return err
	}
	if _, err = eng.trust.UpdateTimestamp(data); err != nil {
		return err
	}
	data, err = eng.loadLocalMetadata(ctx, metadata.SNAPSHOT)
	if err != nil {
		return err
	}
	if _, err = eng.trust.UpdateSnapshot(data, true); err != nil {
		return err
	}
	data, err = eng.loadLocalMetadata(ctx, metadata.TARGETS)
	if err != nil {
		return err
	}
	if _, err = eng.trust.UpdateTargets(data); err != nil {
		return err
	}
	return nil
}

// loadRoot sequentially downloads, verifies and persists every newer
// root version the remote offers, up to MaxRootRotations past the
// trusted one. A missing next version means the trusted root is the
// newest available.
func (eng *Engine) loadRoot(ctx context.Context) error {
	lowerBound := eng.trust.Current().Root.Signed.Version + 1
	upperBound := lowerBound + eng.cfg.MaxRootRotations
	for nextVersion := lowerBound; nextVersion < upperBound; nextVersion++ {
		data, err := eng.downloadMetadata(ctx, metadata.ROOT, nextVersion, eng.cfg.RootMaxLength)
		if err != nil {
			if errors.Is(err, &metadata.ErrMetadataNotFound{}) {
				break
			}
			return err
		}
		if _, err = eng.trust.UpdateRoot(data); err != nil {
			return err
		}
		if err = eng.persistMetadata(ctx, metadata.ROOT, data); err != nil {
			return err
		}
	}
	return nil
}

// loadTimestamp loads the local, then the remote timestamp metadata.
func (eng *Engine) loadTimestamp(ctx context.Context) error {
	if data, err := eng.loadLocalMetadata(ctx, metadata.TIMESTAMP); err == nil {
		if _, err = eng.trust.UpdateTimestamp(data); err != nil {
			metadata.GetLogger().Info("Local timestamp not valid as final", "err", err)
		}
	}
	// load from remote whether the local load succeeded or not
	before := eng.trust.Current().Timestamp
	data, err := eng.downloadMetadata(ctx, metadata.TIMESTAMP, 0, eng.cfg.TimestampMaxLength)
	if err != nil {
		return err
	}
	after, err := eng.trust.UpdateTimestamp(data)
	if err != nil {
		return err
	}
	if before != nil && after == before {
		// the remote timestamp did not advance, keep the cached copy
		return nil
	}
	return eng.persistMetadata(ctx, metadata.TIMESTAMP, data)
}

// loadSnapshot loads the local, and only if it is not usable as final,
// the remote snapshot metadata.
func (eng *Engine) loadSnapshot(ctx context.Context) error {
	if data, err := eng.loadLocalMetadata(ctx, metadata.SNAPSHOT); err == nil {
		if _, err = eng.trust.UpdateSnapshot(data, true); err == nil {
			metadata.GetLogger().Info("Local snapshot is valid: not downloading new one")
			return nil
		}
	}
	// local snapshot does not exist or is not valid as final, update from remote
	cur := eng.trust.Current()
	snapshotMeta := cur.Timestamp.Signed.Meta[metaName(metadata.SNAPSHOT)]
	length := snapshotMeta.Length
	if length == 0 {
		length = eng.cfg.SnapshotMaxLength
	}
	var version int64
	if cur.Root.Signed.ConsistentSnapshot {
		version = snapshotMeta.Version
	}
	data, err := eng.downloadMetadata(ctx, metadata.SNAPSHOT, version, length)
	if err != nil {
		return err
	}
	if _, err = eng.trust.UpdateSnapshot(data, false); err != nil {
		return err
	}
	return eng.persistMetadata(ctx, metadata.SNAPSHOT, data)
}

// loadTargetsRole loads the local, and if needed the remote, metadata for
// the child role of edge and installs it through the trust store. The
// sentinel edge root->targets loads the top-level targets role, anything
// else a delegated role verified with the parent's keys for this edge.
func (eng *Engine) loadTargetsRole(ctx context.Context, edge truststore.Edge) (*metadata.Metadata[metadata.TargetsType], error) {
	update := func(data []byte) (*metadata.Metadata[metadata.TargetsType], error) {
		if edge.Parent == metadata.ROOT {
			return eng.trust.UpdateTargets(data)
		}
		return eng.trust.UpdateDelegatedTargets(data, edge)
	}
	if data, err := eng.loadLocalMetadata(ctx, edge.Child); err == nil {
		if role, err := update(data); err == nil {
			metadata.GetLogger().Info("Local role is valid: not downloading new one", "role", edge.Child)
			return role, nil
		}
	}
	// local role does not exist or is not valid, update from remote
	cur := eng.trust.Current()
	if cur.Snapshot == nil {
		return nil, &metadata.ErrRuntime{Msg: "cannot load targets before snapshot"}
	}
	metaInfo := cur.Snapshot.Signed.Meta[metaName(edge.Child)]
	if metaInfo == nil {
		return nil, &metadata.ErrRepository{Msg: fmt.Sprintf("role %s was delegated but is not part of snapshot", edge.Child)}
	}
	length := metaInfo.Length
	if length == 0 {
		length = eng.cfg.TargetsMaxLength
	}
	var version int64
	if cur.Root.Signed.ConsistentSnapshot {
		version = metaInfo.Version
	}
	data, err := eng.downloadMetadata(ctx, edge.Child, version, length)
	if err != nil {
		return nil, err
	}
	role, err := update(data)
	if err != nil {
		return nil, err
	}
	if err := eng.persistMetadata(ctx, edge.Child, data); err != nil {
		return nil, err
	}
	return role, nil
}

// GetTargetInfo returns the signed description for targetPath, resolved
// through the delegation graph of the trusted generation. The result can
// be passed to DownloadTarget and FindCachedTarget. Without a prior
// Refresh one is done implicitly. Delegated metadata needed along the
// way is downloaded and verified as a side effect.
func (eng *Engine) GetTargetInfo(ctx context.Context, targetPath string) (*metadata.TargetFiles, error) {
	if eng.trust.Current().Targets == nil {
		if err := eng.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return eng.resolveTarget(ctx, targetPath)
}

// DownloadTarget fetches the target described by targetFile, verifies
// the bytes against the declared length and hashes, and writes them to
// filePath. An empty filePath stores the target under its percent
// encoded path inside LocalTargetsDir. Returns the path written and the
// verified bytes.
func (eng *Engine) DownloadTarget(ctx context.Context, targetFile *metadata.TargetFiles, filePath string) (string, []byte, error) {
	var err error
	if filePath == "" {
		filePath, err = eng.generateTargetFilePath(targetFile)
		if err != nil {
			return "", nil, err
		}
	}
	names, err := eng.targetRemoteNames(targetFile)
	if err != nil {
		return "", nil, err
	}
	var src io.ReadCloser
	for i, name := range names {
		src, err = eng.remote.FetchTarget(ctx, name)
		if err == nil {
			break
		}
		if i == len(names)-1 || !errors.Is(err, &metadata.ErrTargetNotFound{}) {
			return "", nil, err
		}
		// try the digest of the next preferred algorithm
	}
	defer src.Close()
	verified, err := integrity.NewReaderWithHashes(src, targetFile.Length, targetFile.Hashes)
	if err != nil {
		return "", nil, err
	}
	data, err := io.ReadAll(verified)
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", nil, err
	}
	metadata.GetLogger().Info("Downloaded target", "path", targetFile.Path)
	return filePath, data, nil
}

// FindCachedTarget checks whether a file written by an earlier
// DownloadTarget still matches targetFile. A missing or stale file is
// reported as no cached target, with no error.
func (eng *Engine) FindCachedTarget(targetFile *metadata.TargetFiles, filePath string) (string, []byte, error) {
	var err error
	if filePath == "" {
		filePath, err = eng.generateTargetFilePath(targetFile)
		if err != nil {
			return "", nil, err
		}
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, nil
	}
	if err := targetFile.VerifyLengthHashes(data); err != nil {
		return "", nil, nil
	}
	return filePath, data, nil
}

// downloadMetadata fetches one metadata file from the remote through the
// byte budget gate. Content checks against declared lengths and hashes
// happen later, when the trust store installs the data.
func (eng *Engine) downloadMetadata(ctx context.Context, role string, version int64, maxLength int64) ([]byte, error) {
	src, err := eng.remote.FetchMetadata(ctx, role, version)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	data, err := io.ReadAll(integrity.NewReader(src, maxLength))
	if err != nil {
		if errors.Is(err, &metadata.ErrLengthMismatch{}) {
			return nil, &metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("%s metadata exceeds %d bytes", role, maxLength)}
		}
		return nil, err
	}
	return data, nil
}

// loadLocalMetadata reads a role's cached metadata. Without a local
// cache every role reads as not found.
func (eng *Engine) loadLocalMetadata(ctx context.Context, role string) ([]byte, error) {
	if eng.local == nil {
		return nil, &metadata.ErrMetadataNotFound{Role: role}
	}
	src, err := eng.local.FetchMetadata(ctx, role, 0)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// persistMetadata writes newly trusted metadata to the local cache.
func (eng *Engine) persistMetadata(ctx context.Context, role string, data []byte) error {
	if eng.local == nil {
		return nil
	}
	return eng.local.StoreMetadata(ctx, role, 0, data)
}

// targetRemoteNames returns the repository-relative candidate names for
// a target, in the order they should be tried. Under consistent
// snapshots the base name is prefixed with the target's digest, one
// candidate per supported algorithm in preference order.
func (eng *Engine) targetRemoteNames(targetFile *metadata.TargetFiles) ([]string, error) {
	if !eng.trust.Current().Root.Signed.ConsistentSnapshot || !eng.cfg.PrefixTargetsWithHash {
		return []string{targetFile.Path}, nil
	}
	var names []string
	for _, algo := range metadata.HASH_ALGORITHMS {
		digest, ok := targetFile.Hashes[algo]
		if !ok {
			continue
		}
		names = append(names, repository.TargetFilename(targetFile.Path, hex.EncodeToString(digest)))
	}
	if len(names) == 0 {
		return nil, &metadata.ErrNoSupportedHashAlgorithm{Msg: fmt.Sprintf("target %s declares no digest usable as a filename prefix", targetFile.Path)}
	}
	return names, nil
}

// generateTargetFilePath returns the local cache path for a target, its
// percent encoded target path as the file name.
func (eng *Engine) generateTargetFilePath(targetFile *metadata.TargetFiles) (string, error) {
	if eng.cfg.LocalTargetsDir == "" {
		return "", &metadata.ErrValue{Msg: "LocalTargetsDir must be set if filePath is not given"}
	}
	return filepath.Join(eng.cfg.LocalTargetsDir, url.PathEscape(targetFile.Path)), nil
}

// metaName returns the key under which timestamp and snapshot declare a
// role's metadata file.
func metaName(role string) string {
	return fmt.Sprintf("%s.json", role)
}
