// SPDX-License-Identifier: MIT

// Package media handles song acquisition and audio processing: source
// fingerprinting, external downloads, duration probing and silence trimming.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
)

// tracking params that never affect which media a URL resolves to.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"si":      true,
	"feature": true,
}

// NormalizeURL canonicalizes a media URL so cosmetic variants fingerprint
// identically: host lowercased, fragment dropped, tracking params stripped,
// remaining query params sorted.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	var keys []string
	for k := range q {
		if trackingParams[k] || strings.HasPrefix(k, "utm_") {
			q.Del(k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var enc strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if enc.Len() > 0 {
				enc.WriteByte('&')
			}
			enc.WriteString(url.QueryEscape(k))
			enc.WriteByte('=')
			enc.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = enc.String()

	return u.String(), nil
}

// URLFingerprint derives the dedup fingerprint of a normalized URL.
func URLFingerprint(normalized string) string {
	sum := sha256.Sum256([]byte("url:" + normalized))
	return hex.EncodeToString(sum[:])
}

// FileFingerprint derives the dedup fingerprint of uploaded content from its
// hash, so identical bytes collide regardless of filename.
func FileFingerprint(contentHash string) string {
	sum := sha256.Sum256([]byte("file:" + contentHash))
	return hex.EncodeToString(sum[:])
}

// FileHash computes the sha256 of a file on disk.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
