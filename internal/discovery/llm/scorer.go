// Package llm ranks discovery links with Claude. Any failure falls back to
// the wrapped scorer so callers never see a difference.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/discovery"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	defaultMaxLinks  = 40
)

// Config controls the Claude request.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	// MaxLinks caps the links sent per page.
	MaxLinks int
}

type messageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Scorer implements discovery.LinkScorer on top of the Messages API.
type Scorer struct {
	client   messageClient
	fallback discovery.LinkScorer
	cfg      Config
	logger   *zap.Logger
}

// New builds a Scorer backed by a Claude client. A nil fallback uses
// keyword scoring.
func New(cfg Config, fallback discovery.LinkScorer, logger *zap.Logger) *Scorer {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newScorer(&client.Messages, cfg, fallback, logger)
}

func newScorer(client messageClient, cfg Config, fallback discovery.LinkScorer, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = discovery.NewKeywordScorer()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	return &Scorer{client: client, fallback: fallback, cfg: cfg, logger: logger}
}

// Rank implements discovery.LinkScorer.
func (s *Scorer) Rank(
	ctx context.Context,
	entity crawler.Entity,
	vocab discovery.Vocabulary,
	links []crawler.Link,
) ([]discovery.Scored, error) {
	baseline, err := s.fallback.Rank(ctx, entity, vocab, links)
	if err != nil {
		return nil, fmt.Errorf("baseline rank: %w", err)
	}
	if len(links) == 0 {
		return baseline, nil
	}

	offered := s.offer(baseline, links)
	ranked, err := s.ask(ctx, entity, vocab, offered)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("llm rank failed, using keyword scores",
			zap.String("entity_id", entity.ID),
			zap.Error(err),
		)
		return baseline, nil
	}
	return ranked, nil
}

// offer lists keyword matches first, then the remaining links in page order.
func (s *Scorer) offer(baseline []discovery.Scored, links []crawler.Link) []crawler.Link {
	seen := make(map[string]bool, len(links))
	out := make([]crawler.Link, 0, min(len(links), s.cfg.MaxLinks))
	add := func(l crawler.Link) {
		if len(out) < s.cfg.MaxLinks && !seen[l.URL] {
			seen[l.URL] = true
			out = append(out, l)
		}
	}
	for _, sc := range baseline {
		add(sc.Link)
	}
	for _, l := range links {
		add(l)
	}
	return out
}

type choice struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type reply struct {
	Choices []choice `json:"choices"`
}

func (s *Scorer) ask(
	ctx context.Context,
	entity crawler.Entity,
	vocab discovery.Vocabulary,
	links []crawler.Link,
) ([]discovery.Scored, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: int64(s.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: "You rank restaurant website links. Respond with a JSON object only, no prose and no markdown fences."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(entity, vocab, links))),
		},
	}
	resp, err := s.client.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseReply(text.String(), links)
}

func prompt(entity crawler.Entity, vocab discovery.Vocabulary, links []crawler.Link) string {
	var b strings.Builder
	name := entity.Name
	if name == "" {
		name = "this restaurant"
	}
	switch vocab.Name {
	case discovery.MenuVocabulary.Name:
		fmt.Fprintf(&b, "Which links on the website of %s lead to menu pages that may also host its wine list?\n", name)
	default:
		fmt.Fprintf(&b, "Which links on the website of %s lead to its wine list?\n", name)
	}
	fmt.Fprintf(&b, "Helpful terms: %s.\n", strings.Join(vocab.Terms, ", "))
	b.WriteString("Ignore reservations, careers, press, gift cards and social media.\n")
	b.WriteString(`Return {"choices":[{"index":<n>,"score":<1-100>}]} with at most 5 entries, best first. `)
	b.WriteString(`Return {"choices":[]} when no link fits.` + "\n\nLinks:\n")
	for i, l := range links {
		fmt.Fprintf(&b, "%d. %s | %s\n", i, oneLine(l.Text), l.URL)
	}
	return b.String()
}

func parseReply(text string, links []crawler.Link) ([]discovery.Scored, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, errors.New("parse reply: no json object")
	}
	var r reply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	seen := make(map[int]bool, len(r.Choices))
	out := make([]discovery.Scored, 0, len(r.Choices))
	for _, c := range r.Choices {
		if c.Index < 0 || c.Index >= len(links) || c.Score <= 0 || seen[c.Index] {
			continue
		}
		seen[c.Index] = true
		out = append(out, discovery.Scored{Link: links[c.Index], Score: c.Score})
	}
	discovery.SortScored(out)
	return out, nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
