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

// Package integrity gates untrusted byte streams behind a byte budget and
// an acceptable digest set. Every byte crossing the trust boundary, both
// metadata and target content, is read through a Reader.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"github.com/trustkeel/trustkeel/metadata"
)

// Reader wraps an untrusted byte source. It fails as soon as the source
// yields more than the allowed number of bytes, without handing the excess
// to the caller, and on end of stream it fails unless one of the
// accumulated digests matches an acceptable one. Bytes handed out before
// the stream ends must be treated as untrusted until Read has returned
// io.EOF.
type Reader struct {
	src      io.Reader
	max      int64
	read     int64
	accepted metadata.Hashes
	hashers  map[string]hash.Hash
	err      error
	done     bool
}

// NewReader returns a Reader enforcing only the byte budget maxLength.
func NewReader(src io.Reader, maxLength int64) *Reader {
	return &Reader{
		src: src,
		max: maxLength,
	}
}

// NewReaderWithHashes returns a Reader enforcing the byte budget maxLength
// and the digest set hashes. Digests with unknown algorithms are ignored,
// but if no declared algorithm is supported at all the stream cannot be
// verified and ErrNoSupportedHashAlgorithm is returned.
func NewReaderWithHashes(src io.Reader, maxLength int64, hashes metadata.Hashes) (*Reader, error) {
	hashers := map[string]hash.Hash{}
	for alg := range hashes {
		switch alg {
		case "sha256":
			hashers[alg] = sha256.New()
		case "sha512":
			hashers[alg] = sha512.New()
		}
	}
	if len(hashes) > 0 && len(hashers) == 0 {
		return nil, &metadata.ErrNoSupportedHashAlgorithm{Msg: "no declared hash algorithm is supported"}
	}
	return &Reader{
		src:      src,
		max:      maxLength,
		accepted: hashes,
		hashers:  hashers,
	}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	// never ask the source for more than what is left of the budget, plus
	// one probe byte to detect an oversized stream before delivering it
	remaining := r.max - r.read
	if remaining <= 0 {
		return 0, r.probe()
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.src.Read(p)
	if n > 0 {
		r.read += int64(n)
		for _, h := range r.hashers {
			// hash.Hash writes never fail
			h.Write(p[:n])
		}
	}
	if err == io.EOF {
		if ferr := r.finish(); ferr != nil {
			return 0, ferr
		}
		r.done = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// probe reads a single byte past the budget. Data there means the source
// exceeds maxLength, EOF means the stream fits exactly.
func (r *Reader) probe() error {
	var b [1]byte
	n, err := r.src.Read(b[:])
	if n > 0 {
		r.err = &metadata.ErrLengthMismatch{Msg: fmt.Sprintf("read exceeds the maximum allowed length of %d bytes", r.max)}
		return r.err
	}
	if err == io.EOF {
		if ferr := r.finish(); ferr != nil {
			return ferr
		}
		r.done = true
		return io.EOF
	}
	if err != nil {
		return err
	}
	// a zero byte read without error, try again next call
	return nil
}

// finish runs the end of stream digest check: the stream passes when any
// accumulated digest matches its acceptable value.
func (r *Reader) finish() error {
	if len(r.hashers) == 0 {
		return nil
	}
	for alg, h := range r.hashers {
		if bytes.Equal(h.Sum(nil), r.accepted[alg]) {
			return nil
		}
	}
	r.err = &metadata.ErrHashMismatch{Msg: "no accumulated digest matches an acceptable one"}
	return r.err
}

// ReadAll consumes src through a verifying Reader and returns the whole
// verified content.
func ReadAll(src io.Reader, maxLength int64, hashes metadata.Hashes) ([]byte, error) {
	r, err := NewReaderWithHashes(src, maxLength, hashes)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}
