package query

import (
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
	"vidcrawl/index"
)

// NoMatchText is the explicit empty-evidence response; the engine never
// invents an answer it cannot cite.
const NoMatchText = "No matching content found in the analyzed timeline."

// Engine turns a natural-language question into a timestamp-grounded
// answer. Retrieval goes through the snapshot's indexes; synthesis is a
// model call over the retrieved spans with a plain-text fallback, and the
// citations are exactly the evidence events.
type Engine struct {
	cfg *config.Config
	cli *openai.Client
}

func NewEngine(cfg *config.Config) *Engine {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &Engine{cfg: cfg, cli: openai.NewClientWithConfig(conf)}
}

func (e *Engine) Answer(ctx context.Context, snap *index.Snapshot, q core.Query) (*core.Answer, error) {
	if snap == nil || snap.Timeline() == nil {
		return nil, &core.EmptyTimelineError{VideoID: q.VideoID}
	}

	k := q.TopK
	if k <= 0 {
		k = e.cfg.TopK
	}

	// Time-range filter restricts candidates via the temporal index before
	// content ranking.
	var allow map[string]bool
	if q.TimeRange != nil {
		allow = map[string]bool{}
		for _, ev := range snap.RangeQuery(*q.TimeRange) {
			allow[ev.ID] = true
		}
		if len(allow) == 0 {
			return &core.Answer{Text: NoMatchText, Citations: []core.Citation{}}, nil
		}
	}

	hits, err := snap.Search(ctx, q.Text, k, allow)
	if err != nil {
		return nil, fmt.Errorf("content search: %w", err)
	}
	if len(hits) == 0 {
		return &core.Answer{Text: NoMatchText, Citations: []core.Citation{}}, nil
	}

	citations := make([]core.Citation, 0, len(hits))
	for _, h := range hits {
		citations = append(citations, core.Citation{EventID: h.Event.ID, Span: h.Event.Span})
	}

	return &core.Answer{
		Text:      e.synthesize(ctx, q.Text, hits),
		Citations: citations,
	}, nil
}

func (e *Engine) synthesize(ctx context.Context, question string, hits []index.Hit) string {
	if !e.cfg.HasValidAPI() {
		return synthesizeSimple(hits)
	}

	parts := make([]string, 0, len(hits))
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("Moment %d [%s - %s] (%s, %s): %s",
			i+1,
			core.FormatTime(h.Event.Span.Start), core.FormatTime(h.Event.Span.End),
			h.Event.Modality, h.Event.Kind, h.Event.Description))
	}

	prompt := fmt.Sprintf(`You are a video content assistant. Answer the user's question using ONLY the retrieved timeline moments below. Reference the relevant timestamps explicitly in your answer. If the moments do not fully answer the question, say what is missing; do not invent content.

Retrieved moments:
%s

Question: %s`, strings.Join(parts, "\n\n"), question)

	resp, err := e.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		log.Printf("Warning: answer synthesis failed (%v), falling back to simple synthesis", err)
		return synthesizeSimple(hits)
	}
	if len(resp.Choices) == 0 {
		return synthesizeSimple(hits)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

func synthesizeSimple(hits []index.Hit) string {
	times := make([]string, 0, len(hits))
	snips := make([]string, 0, len(hits))
	for _, h := range hits {
		times = append(times, core.FormatTime(h.Event.Span.Start))
		snips = append(snips, h.Event.Description)
	}
	return "Relevant moments at " + strings.Join(times, ", ") + ". " + strings.Join(snips, " ")
}
