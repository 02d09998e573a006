// SPDX-License-Identifier: MIT

package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases host",
			in:   "https://WWW.Example.COM/watch?v=abc",
			want: "https://www.example.com/watch?v=abc",
		},
		{
			name: "strips tracking params",
			in:   "https://example.com/t?v=abc&utm_source=mail&utm_campaign=x&fbclid=123&si=yy",
			want: "https://example.com/t?v=abc",
		},
		{
			name: "sorts remaining params",
			in:   "https://example.com/t?z=1&a=2",
			want: "https://example.com/t?a=2&z=1",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/t?v=abc#t=42",
			want: "https://example.com/t?v=abc",
		},
		{
			name: "leading whitespace",
			in:   "  https://example.com/t",
			want: "https://example.com/t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	for _, in := range []string{
		"ftp://example.com/a",
		"not a url at all://",
		"/relative/path",
	} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestFingerprints_VariantsCollide(t *testing.T) {
	a, err := NormalizeURL("https://Example.com/watch?v=abc&utm_source=x")
	require.NoError(t, err)
	b, err := NormalizeURL("https://example.com/watch?v=abc#start")
	require.NoError(t, err)

	assert.Equal(t, URLFingerprint(a), URLFingerprint(b))
}

func TestFingerprints_DomainsSeparated(t *testing.T) {
	// A url fingerprint and a file fingerprint of the same string must not
	// collide.
	assert.NotEqual(t, URLFingerprint("x"), FileFingerprint("x"))
}

func TestFileHash(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.mp3")
	p2 := filepath.Join(dir, "b.mp3")
	require.NoError(t, os.WriteFile(p1, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("same bytes"), 0o644))

	h1, err := FileHash(p1)
	require.NoError(t, err)
	h2, err := FileHash(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "identical content hashes identically regardless of name")

	require.NoError(t, os.WriteFile(p2, []byte("other bytes"), 0o644))
	h3, err := FileHash(p2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
