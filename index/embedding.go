package index

import (
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
)

// EmbeddingIndex scores by embedding-vector cosine similarity, the optional
// upgrade over lexical overlap. Event embeddings are computed once at build
// time; only the query is embedded per search.
type EmbeddingIndex struct {
	cfg    *config.Config
	cli    *openai.Client
	events []core.Event
	vecs   [][]float32
}

func NewEmbeddingIndex(ctx context.Context, cfg *config.Config, events []core.Event) (*EmbeddingIndex, error) {
	if !cfg.HasValidAPI() {
		return nil, fmt.Errorf("embedding index requires a configured API")
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = cfg.BaseURL
	cli := openai.NewClientWithConfig(conf)

	ix := &EmbeddingIndex{cfg: cfg, cli: cli, events: make([]core.Event, len(events))}
	copy(ix.events, events)

	if len(events) == 0 {
		return ix, nil
	}
	inputs := make([]string, len(events))
	for i, e := range events {
		inputs[i] = strings.ToLower(e.Kind + " " + e.Description)
	}
	resp, err := cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(cfg.EmbeddingModel),
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("embed events: %w", err)
	}
	if len(resp.Data) != len(events) {
		return nil, fmt.Errorf("embedding count mismatch: want %d got %d", len(events), len(resp.Data))
	}
	ix.vecs = make([][]float32, len(events))
	for _, d := range resp.Data {
		ix.vecs[d.Index] = d.Embedding
	}
	return ix, nil
}

func (ix *EmbeddingIndex) Search(ctx context.Context, text string, k int, allow map[string]bool) ([]Hit, error) {
	if len(ix.events) == 0 {
		return nil, nil
	}
	resp, err := ix.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(ix.cfg.EmbeddingModel),
		Input: []string{strings.ToLower(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no query embedding returned")
	}
	qv := resp.Data[0].Embedding

	var hits []Hit
	for i, e := range ix.events {
		if allow != nil && !allow[e.ID] {
			continue
		}
		if s := cosine32(qv, ix.vecs[i]); s > 0 {
			hits = append(hits, Hit{Event: e, Score: s})
		}
	}
	rankHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
