// Package detector decides when a restaurant page needs a headless render.
package detector

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/fetcher/htmlpage"
)

// Heuristic flags thin or script-built HTML pages.
type Heuristic struct {
	// BodyLengthThreshold marks bodies shorter than this as suspicious.
	BodyLengthThreshold int
	// MinLinks is the link count below which a short page is promoted.
	MinLinks int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinLinks: 3}
}

// Site builders and frameworks whose menus are rendered client-side.
var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("static.parastorage.com"),
	[]byte("window.__nuxt__"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(probe crawler.Page) bool {
	if probe.StatusCode != 200 {
		return false
	}
	body := probe.Content
	if len(body) == 0 {
		return true
	}
	if !htmlpage.IsHTML(probe.ContentType, body) {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	if len(body) >= h.BodyLengthThreshold {
		return false
	}
	return len(probe.Links) < h.MinLinks || scriptDensityHigh(body)
}

// scriptDensityHigh reports whether inline scripts make up a quarter of the
// document or more.
func scriptDensityHigh(body []byte) bool {
	doc, err := htmlpage.Document(body)
	if err != nil {
		return false
	}
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(s.Text()) + len("<script></script>")
	})
	return scripts*100/len(body) >= 25
}
