package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

func TestExtractHTML(t *testing.T) {
	t.Parallel()

	html := `<html><head><script>var x = 1;</script></head><body>
<nav>Home | Menus</nav>
<h1>Wine List</h1>
<ul><li>Chablis Premier Cru 2019 ... 95</li><li>Barolo 2016 ... 180</li></ul>
</body></html>`
	text, err := New(nil).Extract(context.Background(), []byte(html), "text/html")
	require.NoError(t, err)
	require.Contains(t, text, "# Wine List")
	require.Contains(t, text, "Barolo 2016")
	require.NotContains(t, text, "var x")
	require.NotContains(t, text, "Menus")
}

func TestExtractPlainText(t *testing.T) {
	t.Parallel()

	text, err := New(nil).Extract(context.Background(), []byte("  Sancerre 2021  68\n"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, "Sancerre 2021  68\n", text)
}

func TestExtractSniffsHTMLServedAsText(t *testing.T) {
	t.Parallel()

	text, err := New(nil).Extract(context.Background(), []byte("<!DOCTYPE html><p>Riesling</p>"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, "Riesling\n", text)
}

func TestExtractFailures(t *testing.T) {
	t.Parallel()

	e := New(nil)
	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty html", []byte("<html><body></body></html>"), "text/html"},
		{"broken pdf", []byte("%PDF-1.4 garbage"), "application/pdf"},
		{"image", []byte{0x89, 'P', 'N', 'G'}, "image/png"},
		{"blank text", []byte("   \n"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Extract(context.Background(), tt.data, tt.mime)
			require.ErrorIs(t, err, crawler.ErrExtraction)
		})
	}
}

func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Extract(ctx, []byte("text"), "text/plain")
	require.ErrorIs(t, err, context.Canceled)
}
