// Package download fetches wine list artifacts and fingerprints them.
package download

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Downloader implements crawler.Downloader over a PageFetcher.
type Downloader struct {
	fetcher crawler.PageFetcher
	hasher  crawler.Hasher
	logger  *zap.Logger
}

// New builds a Downloader.
func New(fetcher crawler.PageFetcher, hasher crawler.Hasher, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{fetcher: fetcher, hasher: hasher, logger: logger}
}

// Download fetches url and returns its bytes, media type and digest. Every
// failure wraps crawler.ErrDownload.
func (d *Downloader) Download(ctx context.Context, url string) (crawler.Download, error) {
	page, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return crawler.Download{}, fmt.Errorf("%w: %w", crawler.ErrDownload, err)
	}
	if page.StatusCode != 0 && (page.StatusCode < http.StatusOK || page.StatusCode >= http.StatusMultipleChoices) {
		return crawler.Download{}, fmt.Errorf("%w: %s returned status %d", crawler.ErrDownload, url, page.StatusCode)
	}
	if len(page.Content) == 0 {
		return crawler.Download{}, fmt.Errorf("%w: %s returned an empty body", crawler.ErrDownload, url)
	}
	sum, err := d.hasher.Hash(page.Content)
	if err != nil {
		return crawler.Download{}, fmt.Errorf("%w: hash %s: %w", crawler.ErrDownload, url, err)
	}

	final := page.URL
	if final == "" {
		final = url
	}
	dl := crawler.Download{
		URL:         final,
		Data:        page.Content,
		ContentHash: sum,
		MimeType:    MediaType(page.ContentType, page.Content),
	}
	d.logger.Debug("artifact downloaded",
		zap.String("url", final),
		zap.String("mime_type", dl.MimeType),
		zap.Int("bytes", len(dl.Data)),
	)
	return dl, nil
}

// MediaType returns the declared media type without parameters, sniffing
// the body when the header is missing or generic.
func MediaType(contentType string, body []byte) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(body))
	}
	return strings.ToLower(mt)
}
