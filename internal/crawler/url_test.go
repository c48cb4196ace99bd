package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"https://Example.com/Wine/", "https://example.com/Wine"},
		{"https://example.com/", "https://example.com"},
		{"http://example.com:80/menu?x=1#top", "http://example.com/menu"},
		{"https://example.com:443/a/b/", "https://example.com/a/b"},
		{"https://www.example.com/drinks/list/", "https://www.example.com/drinks/list"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeURL("/relative/path")
	require.Error(t, err)
}

func TestStripQueryAndSameHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://hub.binwise.com/list/123", StripQuery("https://hub.binwise.com/list/123?utm=x#frag"))
	require.True(t, SameHost("https://www.perse.com/", "https://perse.com/wine"))
	require.False(t, SameHost("https://perse.com/", "https://instagram.com/perse"))
	require.False(t, SameHost("::bad", "::bad"))
}
