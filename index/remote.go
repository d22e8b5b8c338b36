package index

import (
	"context"
	"fmt"

	"vidcrawl/core"
)

// VectorHit is a backend-scored event reference.
type VectorHit struct {
	EventID string
	Score   float64
}

// VectorSearcher is the hook a remote vector backend (pgvector, milvus)
// implements. Vectors are keyed by (videoID, snapshot version) so a rebuilt
// snapshot never reads a superseded generation's rows.
type VectorSearcher interface {
	UpsertEventVectors(ctx context.Context, videoID string, version int, events []core.Event) error
	SearchEventVectors(ctx context.Context, videoID string, version int, text string, k int) ([]VectorHit, error)
}

// RemoteContentIndex adapts a VectorSearcher to the ContentIndex contract
// for one snapshot generation.
type RemoteContentIndex struct {
	videoID string
	version int
	backend VectorSearcher
	byID    map[string]core.Event
}

// NewRemoteContentIndex pushes the timeline's event vectors to the backend
// under the given version and returns the search adapter.
func NewRemoteContentIndex(ctx context.Context, backend VectorSearcher, timeline *core.Timeline, version int) (*RemoteContentIndex, error) {
	if err := backend.UpsertEventVectors(ctx, timeline.VideoID, version, timeline.Events); err != nil {
		return nil, fmt.Errorf("upsert event vectors: %w", err)
	}
	byID := make(map[string]core.Event, len(timeline.Events))
	for _, e := range timeline.Events {
		byID[e.ID] = e
	}
	return &RemoteContentIndex{
		videoID: timeline.VideoID,
		version: version,
		backend: backend,
		byID:    byID,
	}, nil
}

func (ix *RemoteContentIndex) Search(ctx context.Context, text string, k int, allow map[string]bool) ([]Hit, error) {
	fetch := k
	if allow != nil {
		// The backend cannot apply the candidate restriction; over-fetch
		// and filter here.
		fetch = k * 4
		if fetch < 20 {
			fetch = 20
		}
	}
	raw, err := ix.backend.SearchEventVectors(ctx, ix.videoID, ix.version, text, fetch)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, r := range raw {
		e, ok := ix.byID[r.EventID]
		if !ok {
			continue
		}
		if allow != nil && !allow[e.ID] {
			continue
		}
		hits = append(hits, Hit{Event: e, Score: r.Score})
	}
	rankHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
