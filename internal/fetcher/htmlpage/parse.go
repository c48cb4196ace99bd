// Package htmlpage parses fetched HTML into the title, headings and outbound
// links that discovery and validation work from.
package htmlpage

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// maxContext bounds the paragraph text kept per link.
const maxContext = 300

// Result is the parsed view of one HTML document.
type Result struct {
	Title    string
	Headings []string
	Links    []crawler.Link
}

// Document parses body with goquery.
func Document(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Parse extracts the title, h1/h2 headings and absolute http(s) links of body.
// Relative hrefs are resolved against pageURL.
func Parse(pageURL string, body []byte) (Result, error) {
	doc, err := Document(body)
	if err != nil {
		return Result{}, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(href); err == nil {
			base = resolved
		}
	}

	res := Result{Title: CleanText(doc.Find("title").First().Text())}
	doc.Find("h1, h2").Each(func(_ int, s *goquery.Selection) {
		if text := CleanText(s.Text()); text != "" {
			res.Headings = append(res.Headings, text)
		}
	})

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := resolve(base, href)
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		text := CleanText(s.Text())
		if text == "" {
			text = CleanText(s.AttrOr("title", s.AttrOr("aria-label", "")))
		}
		res.Links = append(res.Links, crawler.Link{
			URL:     abs,
			Text:    text,
			Context: linkContext(s),
		})
	})
	return res, nil
}

// Populate parses page.Content into page when it looks like HTML.
func Populate(page *crawler.Page) error {
	if !IsHTML(page.ContentType, page.Content) {
		return nil
	}
	res, err := Parse(page.URL, page.Content)
	if err != nil {
		return err
	}
	page.Title = res.Title
	page.Headings = res.Headings
	page.Links = res.Links
	return nil
}

// IsHTML reports whether the content type or leading bytes indicate HTML.
func IsHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" && !strings.HasPrefix(ct, "text/plain") {
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

// CleanText collapses runs of whitespace into single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func linkContext(s *goquery.Selection) string {
	block := s.Closest("p, li, td, div")
	if block.Length() == 0 {
		return ""
	}
	text := CleanText(block.Text())
	if len(text) > maxContext {
		cut := strings.LastIndex(text[:maxContext], " ")
		if cut <= 0 {
			cut = maxContext
		}
		text = text[:cut]
	}
	return text
}
