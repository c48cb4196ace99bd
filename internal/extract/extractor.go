// Package extract turns downloaded wine lists into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/fetcher/htmlpage"
)

var pageRule = strings.Repeat("=", 80)

// Extractor implements crawler.Extractor for PDF, HTML and plain text.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract converts data according to its media type. Every failure, including
// an artifact without any text, wraps crawler.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		text string
		err  error
	)
	switch kind(mimeType, data) {
	case "pdf":
		text, err = e.pdfText(data)
	case "html":
		text, err = e.htmlText(data)
	case "text":
		text = string(data)
	default:
		return "", fmt.Errorf("%w: unsupported media type %q", crawler.ErrExtraction, mimeType)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrExtraction, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no text in %s artifact", crawler.ErrExtraction, mimeType)
	}
	return text + "\n", nil
}

func kind(mimeType string, data []byte) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "pdf") || bytes.HasPrefix(data, []byte("%PDF-")):
		return "pdf"
	case strings.Contains(mt, "html") || strings.Contains(mt, "xhtml"):
		return "html"
	case strings.HasPrefix(mt, "text/"):
		if htmlpage.IsHTML("", data) {
			return "html"
		}
		return "text"
	default:
		return ""
	}
}

// pdfText extracts page by page, separating pages with a ruled header.
func (e *Extractor) pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	total := r.NumPage()
	var b strings.Builder
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			e.logger.Debug("pdf page skipped", zap.Int("page", i), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "%s\nPAGE %d of %d\n%s\n\n", pageRule, i, total, pageRule)
		b.WriteString(strings.TrimSpace(content))
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func (e *Extractor) htmlText(data []byte) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Remove("script", "style", "noscript", "nav", "footer")
	out, err := converter.ConvertString(string(data))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return out, nil
}
