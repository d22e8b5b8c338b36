package index

import (
	"context"
	"math"
	"sort"
	"strings"

	"vidcrawl/core"
)

// Hit is one ranked retrieval result.
type Hit struct {
	Event core.Event
	Score float64
}

// ContentIndex ranks a timeline's events against free text. The only
// contract is ranked output, highest relevance first, ties broken by
// earlier span start. allow, when non-nil, restricts candidates to the
// given event ids (used for time-range-filtered queries).
type ContentIndex interface {
	Search(ctx context.Context, text string, k int, allow map[string]bool) ([]Hit, error)
}

// LexicalIndex is the minimal conforming implementation: token-frequency
// vectors with cosine scoring, built once from event descriptions.
type LexicalIndex struct {
	events []core.Event
	vecs   []map[string]float64
}

func NewLexicalIndex(events []core.Event) *LexicalIndex {
	ix := &LexicalIndex{
		events: make([]core.Event, len(events)),
		vecs:   make([]map[string]float64, len(events)),
	}
	copy(ix.events, events)
	for i, e := range events {
		ix.vecs[i] = termVector(e.Kind + " " + e.Description)
	}
	return ix
}

func (ix *LexicalIndex) Search(_ context.Context, text string, k int, allow map[string]bool) ([]Hit, error) {
	qv := termVector(text)
	var hits []Hit
	for i, e := range ix.events {
		if allow != nil && !allow[e.ID] {
			continue
		}
		if s := cosine(qv, ix.vecs[i]); s > 0 {
			hits = append(hits, Hit{Event: e, Score: s})
		}
	}
	rankHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func rankHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Event.Span.Start != hits[j].Event.Span.Start {
			return hits[i].Event.Span.Start < hits[j].Event.Span.Start
		}
		return hits[i].Event.ID < hits[j].Event.ID
	})
}

func termVector(text string) map[string]float64 {
	v := map[string]float64{}
	for _, tok := range core.Tokenize(strings.ToLower(text)) {
		v[tok]++
	}
	return v
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for t, w := range a {
		na += w * w
		if bw, ok := b[t]; ok {
			dot += w * bw
		}
	}
	for _, w := range b {
		nb += w * w
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
