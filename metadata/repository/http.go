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

package repository

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/trustkeel/trustkeel/metadata"
)

// HTTPProvider serves repository metadata and targets over HTTP or HTTPS
// from two base URLs.
type HTTPProvider struct {
	metadataBase string
	targetsBase  string
	client       *http.Client
	userAgent    string
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default HTTP client, e.g. to set timeouts
// or a custom transport.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithUserAgent sets the User-Agent header on every request. Useful when
// one client runs multiple update sessions against the same mirrors.
func WithUserAgent(ua string) HTTPOption {
	return func(p *HTTPProvider) { p.userAgent = ua }
}

// NewHTTPProvider returns a Provider reading metadata under
// metadataBaseURL and targets under targetsBaseURL.
func NewHTTPProvider(metadataBaseURL, targetsBaseURL string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		metadataBase: ensureTrailingSlash(metadataBaseURL),
		targetsBase:  ensureTrailingSlash(targetsBaseURL),
		client:       http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchMetadata opens the metadata file for role over HTTP. Responses
// with status 404 or 403 turn into ErrMetadataNotFound, which callers
// use to detect the end of a root rotation chain.
func (p *HTTPProvider) FetchMetadata(ctx context.Context, role string, version int64) (io.ReadCloser, error) {
	body, err := p.get(ctx, p.metadataBase+MetadataFilename(role, version))
	if err != nil {
		if isHTTPNotFound(err) {
			return nil, &metadata.ErrMetadataNotFound{Role: role, Version: version}
		}
		return nil, err
	}
	return body, nil
}

// FetchTarget opens a target file by its repository-relative name over
// HTTP. Responses with status 404 or 403 turn into ErrTargetNotFound.
func (p *HTTPProvider) FetchTarget(ctx context.Context, name string) (io.ReadCloser, error) {
	body, err := p.get(ctx, p.targetsBase+name)
	if err != nil {
		if isHTTPNotFound(err) {
			return nil, &metadata.ErrTargetNotFound{Target: name}
		}
		return nil, err
	}
	return body, nil
}

func (p *HTTPProvider) get(ctx context.Context, urlPath string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return nil, err
	}
	// Use in case of multiple sessions.
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, &metadata.ErrDownloadHTTP{StatusCode: res.StatusCode, URL: urlPath}
	}
	return res.Body, nil
}

// isHTTPNotFound reports whether err is an HTTP response that means the
// object does not exist. Forbidden counts: hosting services commonly
// answer 403 for missing objects.
func isHTTPNotFound(err error) bool {
	var httpErr *metadata.ErrDownloadHTTP
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusForbidden
}

// ensureTrailingSlash ensures url ends with a slash
func ensureTrailingSlash(url string) string {
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}
