package index

import (
	"context"
	"fmt"
	"time"

	"vidcrawl/core"
)

// Snapshot is the derived, rebuildable structure over one timeline: the
// temporal sub-index plus a content sub-index, frozen at a build version.
// Snapshots are read-only after Build; re-analysis builds a new one and the
// owner swaps it in atomically, never patching a live snapshot.
type Snapshot struct {
	VideoID  string
	Version  int
	BuiltAt  time.Time
	timeline *core.Timeline
	temporal *TemporalIndex
	content  ContentIndex
}

// Build derives a snapshot from a completed timeline. content may be nil,
// in which case the lexical index is used.
func Build(timeline *core.Timeline, version int, content ContentIndex) (*Snapshot, error) {
	if timeline == nil {
		return nil, fmt.Errorf("cannot index a nil timeline")
	}
	if content == nil {
		content = NewLexicalIndex(timeline.Events)
	}
	return &Snapshot{
		VideoID:  timeline.VideoID,
		Version:  version,
		BuiltAt:  time.Now(),
		timeline: timeline,
		temporal: NewTemporalIndex(timeline.Events),
		content:  content,
	}, nil
}

func (s *Snapshot) Timeline() *core.Timeline { return s.timeline }

func (s *Snapshot) RangeQuery(span core.TimeSpan) []core.Event {
	return s.temporal.RangeQuery(span)
}

func (s *Snapshot) Search(ctx context.Context, text string, k int, allow map[string]bool) ([]Hit, error) {
	return s.content.Search(ctx, text, k, allow)
}
