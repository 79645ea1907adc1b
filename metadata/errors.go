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
	"fmt"
)

// Define error types used inside the engine.
// The names chosen for error types should start in 'Err' except where
// there is a good reason not to, and provide that reason in those cases.

// Repository errors

// ErrRepository - an error with a repository's state, such as a missing file.
// It covers all exceptions that come from the repository side when
// looking from the perspective of users of the metadata API or engine
type ErrRepository struct {
	Msg string
}

func (e *ErrRepository) Error() string {
	return fmt.Sprintf("repository error: %s", e.Msg)
}

func (e *ErrRepository) Is(target error) bool {
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrUnsignedMetadata - signature verification did not reach the required
// threshold of distinct authorized keys
type ErrUnsignedMetadata struct {
	Msg string
}

func (e *ErrUnsignedMetadata) Error() string {
	return fmt.Sprintf("unsigned metadata error: %s", e.Msg)
}

// ErrUnsignedMetadata is a subset of ErrRepository
func (e *ErrUnsignedMetadata) Is(target error) bool {
	if _, ok := target.(*ErrUnsignedMetadata); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrBadVersionNumber - metadata carries a version number that breaks a
// version rule, such as a root that does not follow its predecessor directly
type ErrBadVersionNumber struct {
	Msg string
}

func (e *ErrBadVersionNumber) Error() string {
	return fmt.Sprintf("bad version number error: %s", e.Msg)
}

// ErrBadVersionNumber is a subset of ErrRepository
func (e *ErrBadVersionNumber) Is(target error) bool {
	if _, ok := target.(*ErrBadVersionNumber); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrRollback - metadata version went backwards relative to the trusted
// version for the same role path
type ErrRollback struct {
	Msg string
}

func (e *ErrRollback) Error() string {
	return fmt.Sprintf("rollback error: %s", e.Msg)
}

// ErrRollback is a subset of both ErrRepository and ErrBadVersionNumber
func (e *ErrRollback) Is(target error) bool {
	if _, ok := target.(*ErrRollback); ok {
		return true
	}
	if _, ok := target.(*ErrBadVersionNumber); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrExpiredMetadata - a metadata file has expired relative to the
// reference time of the update cycle
type ErrExpiredMetadata struct {
	Msg string
}

func (e *ErrExpiredMetadata) Error() string {
	return fmt.Sprintf("expired metadata error: %s", e.Msg)
}

// ErrExpiredMetadata is a subset of ErrRepository
func (e *ErrExpiredMetadata) Is(target error) bool {
	if _, ok := target.(*ErrExpiredMetadata); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrLengthMismatch - an object does not have the expected length
type ErrLengthMismatch struct {
	Msg string
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("length verification error: %s", e.Msg)
}

// ErrLengthMismatch is a subset of ErrRepository
func (e *ErrLengthMismatch) Is(target error) bool {
	if _, ok := target.(*ErrLengthMismatch); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrHashMismatch - none of an object's digests match the acceptable ones
type ErrHashMismatch struct {
	Msg string
}

func (e *ErrHashMismatch) Error() string {
	return fmt.Sprintf("hash verification error: %s", e.Msg)
}

// ErrHashMismatch is a subset of ErrRepository
func (e *ErrHashMismatch) Is(target error) bool {
	if _, ok := target.(*ErrHashMismatch); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// ErrNoSupportedHashAlgorithm - the hash algorithms declared for an object
// and the algorithms this implementation supports are disjoint
type ErrNoSupportedHashAlgorithm struct {
	Msg string
}

func (e *ErrNoSupportedHashAlgorithm) Error() string {
	return fmt.Sprintf("no supported hash algorithm error: %s", e.Msg)
}

func (e *ErrNoSupportedHashAlgorithm) Is(target error) bool {
	_, ok := target.(*ErrNoSupportedHashAlgorithm)
	return ok
}

// ErrMetadataNotFound - the repository has no metadata for the given role
// path, at the given version when one was requested
type ErrMetadataNotFound struct {
	Role    string
	Version int64
}

func (e *ErrMetadataNotFound) Error() string {
	if e.Version != 0 {
		return fmt.Sprintf("metadata not found error: %s version %d", e.Role, e.Version)
	}
	return fmt.Sprintf("metadata not found error: %s", e.Role)
}

// ErrMetadataNotFound is a subset of ErrRepository
func (e *ErrMetadataNotFound) Is(target error) bool {
	if _, ok := target.(*ErrMetadataNotFound); ok {
		return true
	}
	_, ok := target.(*ErrRepository)
	return ok
}

// Target resolution errors

// ErrTargetNotFound - no role claims the target path: resolution exhausted
// the delegation graph without any eligible candidate
type ErrTargetNotFound struct {
	Target string
}

func (e *ErrTargetNotFound) Error() string {
	return fmt.Sprintf("target not found error: %s", e.Target)
}

func (e *ErrTargetNotFound) Is(target error) bool {
	_, ok := target.(*ErrTargetNotFound)
	return ok
}

// ErrTargetUnavailable - an eligible candidate role denied the target, or
// every eligible edge failed verification; the target may exist but cannot
// currently be trusted
type ErrTargetUnavailable struct {
	Target string
}

func (e *ErrTargetUnavailable) Error() string {
	return fmt.Sprintf("target unavailable error: %s", e.Target)
}

func (e *ErrTargetUnavailable) Is(target error) bool {
	_, ok := target.(*ErrTargetUnavailable)
	return ok
}

// Download errors

// ErrDownload - an error occurred while attempting to download a file
type ErrDownload struct {
	Msg string
}

func (e *ErrDownload) Error() string {
	return fmt.Sprintf("download error: %s", e.Msg)
}

func (e *ErrDownload) Is(target error) bool {
	_, ok := target.(*ErrDownload)
	return ok
}

// ErrDownloadLengthMismatch - a mismatch of lengths was seen while
// downloading a file
type ErrDownloadLengthMismatch struct {
	Msg string
}

func (e *ErrDownloadLengthMismatch) Error() string {
	return fmt.Sprintf("download length mismatch error: %s", e.Msg)
}

// ErrDownloadLengthMismatch is a subset of ErrDownload
func (e *ErrDownloadLengthMismatch) Is(target error) bool {
	if _, ok := target.(*ErrDownloadLengthMismatch); ok {
		return true
	}
	_, ok := target.(*ErrDownload)
	return ok
}

// ErrDownloadHTTP - returned by HTTP providers for non-2xx responses
type ErrDownloadHTTP struct {
	StatusCode int
	URL        string
}

func (e *ErrDownloadHTTP) Error() string {
	return fmt.Sprintf("failed to download %s, http status code: %d", e.URL, e.StatusCode)
}

// ErrDownloadHTTP is a subset of ErrDownload
func (e *ErrDownloadHTTP) Is(target error) bool {
	if _, ok := target.(*ErrDownloadHTTP); ok {
		return true
	}
	_, ok := target.(*ErrDownload)
	return ok
}

// ValueError
type ErrValue struct {
	Msg string
}

func (e *ErrValue) Error() string {
	return fmt.Sprintf("value error: %s", e.Msg)
}

func (e *ErrValue) Is(target error) bool {
	_, ok := target.(*ErrValue)
	return ok
}

// TypeError
type ErrType struct {
	Msg string
}

func (e *ErrType) Error() string {
	return fmt.Sprintf("type error: %s", e.Msg)
}

func (e *ErrType) Is(target error) bool {
	_, ok := target.(*ErrType)
	return ok
}

// RuntimeError
type ErrRuntime struct {
	Msg string
}

func (e *ErrRuntime) Error() string {
	return fmt.Sprintf("runtime error: %s", e.Msg)
}

func (e *ErrRuntime) Is(target error) bool {
	_, ok := target.(*ErrRuntime)
	return ok
}
